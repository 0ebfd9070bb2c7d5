package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jakehlee/valorie/internal/storage"
)

// adminPermission gates every command that mutates guild configuration
var adminPermission int64 = discordgo.PermissionAdministrator

// categoryChoices filter match and result listings, mirroring the
// major vlr.gg circuits
var categoryChoices = []*discordgo.ApplicationCommandOptionChoice{
	{Name: "All", Value: "All"},
	{Name: "VCT", Value: "Champions Tour"},
	{Name: "Game Changers", Value: "Game Changers"},
}

var subscriptionKindChoices = []*discordgo.ApplicationCommandOptionChoice{
	{Name: "Team", Value: string(storage.SubTeam)},
	{Name: "Event", Value: string(storage.SubEvent)},
}

// Slash command definitions
func (b *Bot) getCommandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "setchannel",
			Description:              "Set the channel for match notifications",
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "The channel to send notifications to",
					Required:    true,
					ChannelTypes: []discordgo.ChannelType{
						discordgo.ChannelTypeGuildText,
					},
				},
			},
		},
		{
			Name:                     "leadtime",
			Description:              "Set how many minutes before a match notifications are sent",
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "minutes",
					Description: "Lead time in minutes (e.g. 15)",
					Required:    true,
				},
			},
		},
		{
			Name:                     "subscribe",
			Description:              "Subscribe this server to match notifications",
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "kind",
					Description: "Subscribe by team or by event",
					Required:    true,
					Choices:     subscriptionKindChoices,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "value",
					Description: "Team or event name as spelled on vlr.gg, or ALL for every event",
					Required:    true,
				},
			},
		},
		{
			Name:                     "unsubscribe",
			Description:              "Remove a match notification subscription",
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "kind",
					Description: "The subscription kind to remove",
					Required:    true,
					Choices:     subscriptionKindChoices,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "value",
					Description: "The subscribed team or event name",
					Required:    true,
				},
			},
		},
		{
			Name:        "subscriptions",
			Description: "List this server's notification subscriptions",
		},
		{
			Name:        "matches",
			Description: "List upcoming Valorant esports matches",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "category",
					Description: "Category of matches to include",
					Required:    false,
					Choices:     categoryChoices,
				},
			},
		},
		{
			Name:        "results",
			Description: "List recent Valorant esports results",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "category",
					Description: "Category of results to include",
					Required:    false,
					Choices:     categoryChoices,
				},
			},
		},
		{
			Name:                     "refresh",
			Description:              "Force an immediate poll and notification pass",
			DefaultMemberPermissions: &adminPermission,
		},
	}
}

// registerCommands registers all slash commands with Discord
func (b *Bot) registerCommands() error {
	slog.Info("Registering slash commands")

	commandDefinitions := b.getCommandDefinitions()
	registeredCommands := make([]*discordgo.ApplicationCommand, 0, len(commandDefinitions))

	for _, cmd := range commandDefinitions {
		registered, err := b.session.ApplicationCommandCreate(
			b.session.State.User.ID,
			"", // Empty string = global command
			cmd,
		)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		registeredCommands = append(registeredCommands, registered)
		slog.Debug("Registered command", "name", cmd.Name)
	}

	b.commands = registeredCommands
	slog.Info("Slash commands registered", "count", len(registeredCommands))
	return nil
}

// handleSetChannel handles the /setchannel command
func (b *Bot) handleSetChannel(s *discordgo.Session, i *discordgo.InteractionCreate) {
	channel := i.ApplicationCommandData().Options[0].ChannelValue(s)

	settings := &storage.GuildSettings{
		GuildID:               i.GuildID,
		NotificationChannelID: channel.ID,
		LeadTimeMinutes:       int(b.config.DefaultLeadTime / time.Minute),
	}

	if err := b.repo.UpsertGuildSettings(settings); err != nil {
		slog.Error("Failed to save guild settings", "error", err)
		respondWithMessage(s, i, "Failed to set notification channel. Please try again.")
		return
	}

	respondWithMessage(s, i, fmt.Sprintf("Match notifications will be sent to <#%s>", channel.ID))
}

// handleLeadTime handles the /leadtime command
func (b *Bot) handleLeadTime(s *discordgo.Session, i *discordgo.InteractionCreate) {
	minutes := int(i.ApplicationCommandData().Options[0].IntValue())
	if minutes < 0 || minutes > 24*60 {
		respondWithMessage(s, i, "Lead time must be between 0 and 1440 minutes.")
		return
	}

	if err := b.repo.SetLeadTime(i.GuildID, minutes); err != nil {
		slog.Error("Failed to set lead time", "error", err)
		respondWithMessage(s, i, "Failed to set lead time. Please try again.")
		return
	}

	respondWithMessage(s, i, fmt.Sprintf("Match notifications will be sent %d minutes before start.", minutes))
}

// handleSubscribe handles the /subscribe command
func (b *Bot) handleSubscribe(s *discordgo.Session, i *discordgo.InteractionCreate) {
	options := i.ApplicationCommandData().Options
	kind := storage.SubscriptionKind(options[0].StringValue())
	value := strings.TrimSpace(options[1].StringValue())

	if value == "" {
		respondWithMessage(s, i, "Subscription value cannot be empty.")
		return
	}
	if strings.EqualFold(value, storage.SubWildcard) {
		if kind == storage.SubTeam {
			respondWithMessage(s, i, "ALL is only valid for event subscriptions.")
			return
		}
		// Stored canonically so the wildcard always matches
		value = storage.SubWildcard
	}

	created, err := b.repo.AddSubscription(&storage.Subscription{
		GuildID: i.GuildID,
		Kind:    kind,
		Value:   value,
	})
	if err != nil {
		slog.Error("Failed to add subscription", "error", err)
		respondWithMessage(s, i, "Failed to add subscription. Please try again.")
		return
	}
	if !created {
		respondWithMessage(s, i, fmt.Sprintf("Already subscribed to %s `%s`.", kind, value))
		return
	}

	respondWithMessage(s, i, fmt.Sprintf("Subscribed to %s `%s`.", kind, value))
}

// handleUnsubscribe handles the /unsubscribe command
func (b *Bot) handleUnsubscribe(s *discordgo.Session, i *discordgo.InteractionCreate) {
	options := i.ApplicationCommandData().Options
	kind := storage.SubscriptionKind(options[0].StringValue())
	value := strings.TrimSpace(options[1].StringValue())

	removed, err := b.repo.RemoveSubscription(i.GuildID, kind, value)
	if err != nil {
		slog.Error("Failed to remove subscription", "error", err)
		respondWithMessage(s, i, "Failed to remove subscription. Please try again.")
		return
	}
	if !removed {
		respondWithMessage(s, i, fmt.Sprintf("Not subscribed to %s `%s`.", kind, value))
		return
	}

	respondWithMessage(s, i, fmt.Sprintf("Unsubscribed from %s `%s`.", kind, value))
}

// handleSubscriptions handles the /subscriptions command
func (b *Bot) handleSubscriptions(s *discordgo.Session, i *discordgo.InteractionCreate) {
	subs, err := b.repo.GetSubscriptionsByGuild(i.GuildID)
	if err != nil {
		slog.Error("Failed to get subscriptions", "error", err)
		respondWithMessage(s, i, "Failed to retrieve subscriptions.")
		return
	}

	if len(subs) == 0 {
		respondWithMessage(s, i, "No subscriptions in this server.\nUse `/subscribe` to add one!")
		return
	}

	var teams, events []string
	for _, sub := range subs {
		if sub.Kind == storage.SubTeam {
			teams = append(teams, sub.Value)
		} else {
			events = append(events, sub.Value)
		}
	}

	var sb strings.Builder
	sb.WriteString("**Subscriptions:**\n\n")
	sb.WriteString(fmt.Sprintf("**Teams:** %s\n", joinOrNone(teams)))
	sb.WriteString(fmt.Sprintf("**Events:** %s\n", joinOrNone(events)))

	respondWithMessage(s, i, sb.String())
}

// handleMatches handles the /matches command
func (b *Bot) handleMatches(s *discordgo.Session, i *discordgo.InteractionCreate) {
	category := optionalCategory(i)

	matches, err := b.repo.ListEvents(storage.KindMatch, 20)
	if err != nil {
		slog.Error("Failed to list matches", "error", err)
		respondWithMessage(s, i, "Failed to retrieve matches.")
		return
	}

	embed := &discordgo.MessageEmbed{
		Title: "Upcoming Matches",
		Color: embedColor,
	}

	count := 0
	for _, ev := range matches {
		if !inCategory(ev, category) {
			continue
		}
		if count >= 5 {
			break
		}
		count++

		name := "Upcoming"
		if ev.Status == "LIVE" {
			name = "\U0001F534 LIVE"
		} else if !ev.ScheduledTime.IsZero() {
			name = fmt.Sprintf("Upcoming <t:%d:R>", ev.ScheduledTime.Unix())
		}

		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   name,
			Value:  fmt.Sprintf("[%s](%s)\n*%s*", matchup(ev), ev.URL, ev.EventGroup),
			Inline: false,
		})
	}

	if count == 0 {
		respondWithMessage(s, i, "No upcoming matches found. Try again after the next poll.")
		return
	}

	respondWithEmbed(s, i, embed)
}

// handleResults handles the /results command
func (b *Bot) handleResults(s *discordgo.Session, i *discordgo.InteractionCreate) {
	category := optionalCategory(i)

	results, err := b.repo.ListEvents(storage.KindResult, 20)
	if err != nil {
		slog.Error("Failed to list results", "error", err)
		respondWithMessage(s, i, "Failed to retrieve results.")
		return
	}

	embed := &discordgo.MessageEmbed{
		Title: "Completed Matches",
		Color: embedColor,
	}

	count := 0
	for _, ev := range results {
		if !inCategory(ev, category) {
			continue
		}
		if count >= 5 {
			break
		}
		count++

		// Scoreline is spoilered so the listing doesn't ruin VODs
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Completed",
			Value:  fmt.Sprintf("[%s](%s)\n||%s||\n*%s*", matchup(ev), ev.URL, scoreline(ev), ev.EventGroup),
			Inline: false,
		})
	}

	if count == 0 {
		respondWithMessage(s, i, "No results found. Try again after the next poll.")
		return
	}

	respondWithEmbed(s, i, embed)
}

// handleRefresh handles the /refresh command
func (b *Bot) handleRefresh(s *discordgo.Session, i *discordgo.InteractionCreate) {
	// Respond immediately to avoid timeout
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// Duplicate notifications are impossible: the notified flag dedupes
	// even when a refresh overlaps the background loops
	b.poller.Poll(ctx)
	b.scheduler.Tick(ctx)

	b.editResponse(s, i, "Refreshed matches and ran a notification pass.")
}

// Helper functions

func optionalCategory(i *discordgo.InteractionCreate) string {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "category" {
			return opt.StringValue()
		}
	}
	return "All"
}

func inCategory(ev *storage.Event, category string) bool {
	if category == "" || category == "All" {
		return true
	}
	return strings.Contains(ev.EventGroup, category)
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "*none*"
	}
	return strings.Join(values, ", ")
}

func respondWithMessage(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
		},
	})
}

func respondWithEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	})
}

func (b *Bot) editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
}
