package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/jakehlee/valorie/internal/config"
	"github.com/jakehlee/valorie/internal/poller"
	"github.com/jakehlee/valorie/internal/scheduler"
	"github.com/jakehlee/valorie/internal/storage"
	"github.com/jakehlee/valorie/internal/vlr"
)

// Bot represents the Discord bot instance
type Bot struct {
	config    *config.Config
	session   *discordgo.Session
	repo      *storage.Repository
	client    *vlr.Client
	poller    *poller.Poller
	scheduler *scheduler.Scheduler
	commands  []*discordgo.ApplicationCommand
}

// New creates a new Bot instance
func New(cfg *config.Config) (*Bot, error) {
	// Create Discord session
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	// Initialize storage
	repo, err := storage.NewRepository(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	client := vlr.NewClient(cfg.VLRBaseURL, cfg.HTTPTimeout)

	b := &Bot{
		config:  cfg,
		session: session,
		repo:    repo,
		client:  client,
	}

	// Built here, not in Start: global slash commands persist across
	// restarts, so an interaction can arrive the moment the gateway
	// opens and the handlers must never see a nil poller or scheduler
	b.poller = poller.New(repo, client, cfg.PollInterval)
	notifier := newDiscordNotifier(session)
	b.scheduler = scheduler.New(repo, notifier, cfg.SchedulerInterval, cfg.DefaultLeadTime)

	// Register command handlers
	b.registerHandlers()

	return b, nil
}

// Start opens the Discord connection and starts background tasks
func (b *Bot) Start(ctx context.Context) error {
	// Open Discord connection
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	slog.Info("Connected to Discord", "user", b.session.State.User.Username)

	// Register slash commands
	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	// Launch the match poller and the notification scheduler; they
	// share only the repository and run on independent intervals
	go b.poller.Start(ctx)
	go b.scheduler.Start(ctx)

	return nil
}

// Stop gracefully shuts down the bot
func (b *Bot) Stop() error {
	if b.scheduler != nil {
		b.scheduler.Stop()
	}
	if b.poller != nil {
		b.poller.Stop()
	}

	// Close storage
	if b.repo != nil {
		b.repo.Close()
	}

	// Close Discord session
	if b.session != nil {
		return b.session.Close()
	}

	return nil
}

// registerHandlers sets up Discord event handlers
func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("Bot is ready", "guilds", len(r.Guilds))
	})
}

// handleInteraction processes slash command interactions
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	slog.Debug("Received command", "command", data.Name, "guild", i.GuildID)

	switch data.Name {
	case "setchannel":
		b.handleSetChannel(s, i)
	case "leadtime":
		b.handleLeadTime(s, i)
	case "subscribe":
		b.handleSubscribe(s, i)
	case "unsubscribe":
		b.handleUnsubscribe(s, i)
	case "subscriptions":
		b.handleSubscriptions(s, i)
	case "matches":
		b.handleMatches(s, i)
	case "results":
		b.handleResults(s, i)
	case "refresh":
		b.handleRefresh(s, i)
	default:
		slog.Warn("Unknown command", "command", data.Name)
	}
}
