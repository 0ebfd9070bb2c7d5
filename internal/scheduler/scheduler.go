// Package scheduler scans the event store on a fixed interval and fires
// lead-time match notifications and result announcements, each exactly
// once per event.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jakehlee/valorie/internal/storage"
)

// Notifier delivers notifications to a guild channel. Implementations
// must bound their own timeouts; a delivery error affects only that guild.
type Notifier interface {
	NotifyMatch(channelID string, ev storage.DueEvent, reason string) error
	NotifyResult(channelID string, ev *storage.Event) error
}

// Scheduler drives notification delivery off the event store
type Scheduler struct {
	repo        *storage.Repository
	notifier    Notifier
	interval    time.Duration
	defaultLead time.Duration

	// running guards against overlapping ticks; the manual refresh
	// command can race the ticker
	running sync.Mutex

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a new Scheduler
func New(repo *storage.Repository, notifier Notifier, interval, defaultLead time.Duration) *Scheduler {
	return &Scheduler{
		repo:        repo,
		notifier:    notifier,
		interval:    interval,
		defaultLead: defaultLead,
		stopChan:    make(chan struct{}),
	}
}

// Start begins the notification tick loop
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Starting notification scheduler", "interval", s.interval, "defaultLead", s.defaultLead)

	s.wg.Add(1)
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped (context cancelled)")
			return
		case <-s.stopChan:
			slog.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stop signals the scheduler to stop
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// target is one guild resolved to receive an event's notification
type target struct {
	settings *storage.GuildSettings
	reason   string
}

/// Tick runs one scheduler pass: match notifications, then pending
// result announcements
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.running.TryLock() {
		slog.Debug("Scheduler tick already in flight, skipping")
		return
	}
	defer s.running.Unlock()

	guilds, err := s.repo.GetAllGuildSettings()
	if err != nil {
		slog.Error("Failed to load guild settings", "error", err)
		return
	}

	// Only guilds with a notification channel receive anything
	configured := guilds[:0]
	maxLead := s.defaultLead
	for _, g := range guilds {
		if g.NotificationChannelID == "" {
			continue
		}
		configured = append(configured, g)
		if lead := g.LeadTime(); lead > maxLead {
			maxLead = lead
		}
	}
	if len(configured) == 0 {
		return
	}

	s.notifyDueMatches(ctx, configured, maxLead)
	s.announceResults(ctx, configured)
}

func (s *Scheduler) notifyDueMatches(ctx context.Context, guilds []*storage.GuildSettings, maxLead time.Duration) {
	now := time.Now()

	due, err := s.repo.DueForNotification(now, maxLead)
	if err != nil {
		slog.Error("Failed to query due events", "error", err)
		return
	}

	for _, ev := range due {
		select {
		case <-ctx.Done():
			return
		default:
		}

		targets := s.resolveTargets(ev.Event, guilds)
		if len(targets) == 0 {
			// Nobody subscribed yet; the event stays pending so a
			// guild subscribing before match start still gets it
			continue
		}

		delivered, err := s.repo.DeliveredGuilds(ev.ExternalID)
		if err != nil {
			slog.Error("Failed to load delivery records", "externalID", ev.ExternalID, "error", err)
			continue
		}

		// Each guild is attempted once its own lead window opens; the
		// per-guild delivery record keeps earlier attempts from
		// repeating while later windows are still closed
		attempted := 0
		for _, t := range targets {
			if delivered[t.settings.GuildID] {
				attempted++
				continue
			}
			if !ev.Late && ev.ScheduledTime.Sub(now) > t.settings.LeadTime() {
				continue
			}

			err := s.notifier.NotifyMatch(t.settings.NotificationChannelID, ev, t.reason)
			if err != nil {
				slog.Error("Failed to deliver match notification",
					"externalID", ev.ExternalID, "guildID", t.settings.GuildID, "error", err)
			} else {
				slog.Info("Sent match notification",
					"externalID", ev.ExternalID, "guildID", t.settings.GuildID,
					"reason", t.reason, "late", ev.Late)
			}

			// Recorded whether or not the send succeeded; a failed
			// guild is never retried for this event
			if _, err := s.repo.RecordDelivery(ev.ExternalID, t.settings.GuildID); err != nil {
				slog.Error("Failed to record delivery",
					"externalID", ev.ExternalID, "guildID", t.settings.GuildID, "error", err)
				continue
			}
			attempted++
		}

		// Terminal only after every resolved guild has been attempted
		if attempted == len(targets) {
			if err := s.repo.MarkNotified(ev.ExternalID); err != nil {
				slog.Error("Failed to mark event notified", "externalID", ev.ExternalID, "error", err)
			}
		}
	}
}

func (s *Scheduler) announceResults(ctx context.Context, guilds []*storage.GuildSettings) {
	pending, err := s.repo.ResultsPendingDelivery()
	if err != nil {
		slog.Error("Failed to query pending results", "error", err)
		return
	}

	for _, ev := range pending {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// The scoreline goes to the guilds whose match notification
		// was attempted, not to later subscribers
		delivered, err := s.repo.DeliveredGuilds(ev.ExternalID)
		if err != nil {
			slog.Error("Failed to load delivery records", "externalID", ev.ExternalID, "error", err)
			continue
		}

		for _, g := range guilds {
			if !delivered[g.GuildID] {
				continue
			}

			err := s.notifier.NotifyResult(g.NotificationChannelID, ev)
			if err != nil {
				slog.Error("Failed to deliver result",
					"externalID", ev.ExternalID, "guildID", g.GuildID, "error", err)
				continue
			}
			slog.Info("Sent result", "externalID", ev.ExternalID, "guildID", g.GuildID)
		}

		if err := s.repo.MarkResultSent(ev.ExternalID); err != nil {
			slog.Error("Failed to mark result sent", "externalID", ev.ExternalID, "error", err)
		}
	}
}

// resolveTargets returns the deduplicated set of guilds subscribed to an
// event, with the subscription that matched first as the reason
func (s *Scheduler) resolveTargets(ev storage.Event, guilds []*storage.GuildSettings) []target {
	var targets []target
	for _, g := range guilds {
		subs, err := s.repo.GetSubscriptionsByGuild(g.GuildID)
		if err != nil {
			slog.Error("Failed to load subscriptions", "guildID", g.GuildID, "error", err)
			continue
		}

		if reason, ok := MatchSubscription(ev, subs); ok {
			targets = append(targets, target{settings: g, reason: reason})
		}
	}
	return targets
}

// MatchSubscription reports whether any subscription covers the event.
// Event-group subscriptions are checked first, then either participant
// against team subscriptions; values compare case-insensitively and the
// ALL event value matches everything.
func MatchSubscription(ev storage.Event, subs []*storage.Subscription) (string, bool) {
	for _, sub := range subs {
		if sub.Kind != storage.SubEvent {
			continue
		}
		if strings.EqualFold(sub.Value, storage.SubWildcard) || strings.EqualFold(sub.Value, ev.EventGroup) {
			return "Event: " + sub.Value, true
		}
	}

	for _, sub := range subs {
		if sub.Kind != storage.SubTeam {
			continue
		}
		if strings.EqualFold(sub.Value, ev.TeamA) || strings.EqualFold(sub.Value, ev.TeamB) {
			return "Team: " + sub.Value, true
		}
	}

	return "", false
}
