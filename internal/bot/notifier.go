package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jakehlee/valorie/internal/storage"
)

// embedColor is the vlr.gg accent red
const embedColor = 0xFF4654

// discordNotifier delivers scheduler notifications as channel embeds
type discordNotifier struct {
	session *discordgo.Session
}

func newDiscordNotifier(session *discordgo.Session) *discordNotifier {
	return &discordNotifier{session: session}
}

// NotifyMatch sends the lead-time notification embed for an upcoming match
func (n *discordNotifier) NotifyMatch(channelID string, ev storage.DueEvent, reason string) error {
	title := "\U0001F514 Upcoming Match"
	if ev.Late {
		title = "\U0001F514 Match Starting Now"
	} else if eta := time.Until(ev.ScheduledTime); eta > 0 {
		title = fmt.Sprintf("\U0001F514 Upcoming Match in %s", formatETA(eta))
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: matchup(&ev.Event),
		Color:       embedColor,
		URL:         ev.URL,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Subscribed to " + reason,
		},
	}

	if ev.EventGroup != "" {
		value := "Scheduled"
		if !ev.ScheduledTime.IsZero() {
			// Discord renders this in the reader's local timezone
			value = fmt.Sprintf("<t:%d:f>", ev.ScheduledTime.Unix())
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   ev.EventGroup,
			Value:  value,
			Inline: false,
		})
	}

	_, err := n.session.ChannelMessageSendEmbed(channelID, embed)
	return err
}

// NotifyResult sends the spoilered scoreline embed for a completed match
func (n *discordNotifier) NotifyResult(channelID string, ev *storage.Event) error {
	embed := &discordgo.MessageEmbed{
		Title:       "✅ Match Complete",
		Description: matchup(ev),
		Color:       embedColor,
		URL:         ev.URL,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "Scoreline",
				Value:  fmt.Sprintf("||%s||", scoreline(ev)),
				Inline: false,
			},
			{
				Name:   "Event",
				Value:  fmt.Sprintf("*%s*", ev.EventGroup),
				Inline: false,
			},
		},
	}

	_, err := n.session.ChannelMessageSendEmbed(channelID, embed)
	return err
}

// matchup renders "🇺🇸 Sentinels vs. 🇧🇷 LOUD"
func matchup(ev *storage.Event) string {
	var sb strings.Builder
	if ev.FlagA != "" {
		sb.WriteString(ev.FlagA + " ")
	}
	sb.WriteString(ev.TeamA)
	sb.WriteString(" vs. ")
	if ev.FlagB != "" {
		sb.WriteString(ev.FlagB + " ")
	}
	sb.WriteString(ev.TeamB)
	return sb.String()
}

// scoreline renders "🏆 Sentinels 2 : 1 LOUD" with the trophy on the
// winning side
func scoreline(ev *storage.Event) string {
	const trophy = "\U0001F3C6"

	left, right := "", ""
	switch ev.Winner {
	case storage.WinnerTeamA:
		left = trophy + " "
	case storage.WinnerTeamB:
		right = " " + trophy
	}

	return fmt.Sprintf("%s%s %d : %d %s%s", left, ev.TeamA, ev.ScoreA, ev.ScoreB, ev.TeamB, right)
}

// formatETA renders a duration as "1d 2h 30m", dropping zero units
func formatETA(d time.Duration) string {
	d = d.Round(time.Minute)

	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	mins := int(d/time.Minute) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if mins > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%dm", mins))
	}
	return strings.Join(parts, " ")
}
