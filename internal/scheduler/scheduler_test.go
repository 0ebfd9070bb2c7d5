package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakehlee/valorie/internal/storage"
)

type delivery struct {
	channelID  string
	externalID string
	reason     string
	late       bool
}

type fakeNotifier struct {
	matches      []delivery
	results      []delivery
	failChannels map[string]bool
}

func (f *fakeNotifier) NotifyMatch(channelID string, ev storage.DueEvent, reason string) error {
	if f.failChannels[channelID] {
		return errors.New("delivery failed")
	}
	f.matches = append(f.matches, delivery{channelID, ev.ExternalID, reason, ev.Late})
	return nil
}

func (f *fakeNotifier) NotifyResult(channelID string, ev *storage.Event) error {
	if f.failChannels[channelID] {
		return errors.New("delivery failed")
	}
	f.results = append(f.results, delivery{channelID, ev.ExternalID, "", false})
	return nil
}

func newTestRepo(t *testing.T) *storage.Repository {
	t.Helper()

	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo
}

func addGuild(t *testing.T, repo *storage.Repository, guildID, channelID string, leadMinutes int) {
	t.Helper()
	require.NoError(t, repo.UpsertGuildSettings(&storage.GuildSettings{
		GuildID:               guildID,
		NotificationChannelID: channelID,
		LeadTimeMinutes:       leadMinutes,
	}))
}

func addSub(t *testing.T, repo *storage.Repository, guildID string, kind storage.SubscriptionKind, value string) {
	t.Helper()
	created, err := repo.AddSubscription(&storage.Subscription{GuildID: guildID, Kind: kind, Value: value})
	require.NoError(t, err)
	require.True(t, created)
}

func addMatch(t *testing.T, repo *storage.Repository, externalID string, scheduled time.Time) {
	t.Helper()
	_, err := repo.UpsertEvent(&storage.Event{
		ExternalID:    externalID,
		Kind:          storage.KindMatch,
		TeamA:         "Sentinels",
		TeamB:         "NRG",
		EventGroup:    "VCT Stage 2",
		ScheduledTime: scheduled,
		Status:        "Upcoming",
	})
	require.NoError(t, err)
}

func TestTick_NotifiesSubscribedGuilds(t *testing.T) {
	repo := newTestRepo(t)
	notifier := &fakeNotifier{}
	s := New(repo, notifier, time.Minute, 15*time.Minute)

	// g1 subscribes by team, g2 by event group, g3 has no matching sub
	addGuild(t, repo, "g1", "c1", 15)
	addSub(t, repo, "g1", storage.SubTeam, "sentinels")
	addGuild(t, repo, "g2", "c2", 15)
	addSub(t, repo, "g2", storage.SubEvent, "vct stage 2")
	addGuild(t, repo, "g3", "c3", 15)
	addSub(t, repo, "g3", storage.SubTeam, "FNATIC")

	addMatch(t, repo, "A", time.Now().Add(10*time.Minute))

	s.Tick(context.Background())

	require.Len(t, notifier.matches, 2)
	channels := map[string]delivery{}
	for _, d := range notifier.matches {
		channels[d.channelID] = d
	}
	assert.Contains(t, channels, "c1")
	assert.Contains(t, channels, "c2")
	assert.Equal(t, "Team: sentinels", channels["c1"].reason)
	assert.Equal(t, "Event: vct stage 2", channels["c2"].reason)
	assert.False(t, channels["c1"].late)

	ev, err := repo.GetEventByExternalID("A")
	require.NoError(t, err)
	assert.True(t, ev.Notified)

	// A second tick never re-delivers
	s.Tick(context.Background())
	assert.Len(t, notifier.matches, 2)
}

func TestTick_GuildMatchedByBothKindsNotifiedOnce(t *testing.T) {
	repo := newTestRepo(t)
	notifier := &fakeNotifier{}
	s := New(repo, notifier, time.Minute, 15*time.Minute)

	addGuild(t, repo, "g1", "c1", 15)
	addSub(t, repo, "g1", storage.SubTeam, "Sentinels")
	addSub(t, repo, "g1", storage.SubEvent, "VCT Stage 2")

	addMatch(t, repo, "A", time.Now().Add(10*time.Minute))

	s.Tick(context.Background())

	require.Len(t, notifier.matches, 1)
	// Event subscriptions take precedence for the reason line
	assert.Equal(t, "Event: VCT Stage 2", notifier.matches[0].reason)
}

func TestTick_DeliveryFailureDoesNotBlockOtherGuilds(t *testing.T) {
	repo := newTestRepo(t)
	notifier := &fakeNotifier{failChannels: map[string]bool{"c1": true}}
	s := New(repo, notifier, time.Minute, 15*time.Minute)

	addGuild(t, repo, "g1", "c1", 15)
	addSub(t, repo, "g1", storage.SubTeam, "Sentinels")
	addGuild(t, repo, "g2", "c2", 15)
	addSub(t, repo, "g2", storage.SubTeam, "NRG")

	addMatch(t, repo, "A", time.Now().Add(10*time.Minute))

	s.Tick(context.Background())

	// g2 received exactly one notification despite g1 failing
	require.Len(t, notifier.matches, 1)
	assert.Equal(t, "c2", notifier.matches[0].channelID)

	// The event is still marked notified exactly once; no retry storm
	ev, err := repo.GetEventByExternalID("A")
	require.NoError(t, err)
	assert.True(t, ev.Notified)

	s.Tick(context.Background())
	assert.Len(t, notifier.matches, 1)
}

func TestTick_LateMatchNotifiedOnce(t *testing.T) {
	repo := newTestRepo(t)
	notifier := &fakeNotifier{}
	s := New(repo, notifier, time.Minute, 15*time.Minute)

	addGuild(t, repo, "g1", "c1", 15)
	addSub(t, repo, "g1", storage.SubTeam, "Sentinels")

	// Already started before we ever saw it
	addMatch(t, repo, "A", time.Now().Add(-5*time.Minute))

	s.Tick(context.Background())

	require.Len(t, notifier.matches, 1)
	assert.True(t, notifier.matches[0].late)

	s.Tick(context.Background())
	assert.Len(t, notifier.matches, 1)
}

func TestTick_UnsubscribedEventStaysPending(t *testing.T) {
	repo := newTestRepo(t)
	notifier := &fakeNotifier{}
	s := New(repo, notifier, time.Minute, 15*time.Minute)

	addGuild(t, repo, "g1", "c1", 15)
	addSub(t, repo, "g1", storage.SubTeam, "FNATIC")

	addMatch(t, repo, "A", time.Now().Add(10*time.Minute))

	s.Tick(context.Background())
	require.Empty(t, notifier.matches)

	// Subscribing before the match starts still gets the notification
	addSub(t, repo, "g1", storage.SubTeam, "Sentinels")
	s.Tick(context.Background())
	require.Len(t, notifier.matches, 1)
}

func TestTick_RespectsGuildLeadWindows(t *testing.T) {
	repo := newTestRepo(t)
	notifier := &fakeNotifier{}
	s := New(repo, notifier, time.Minute, 15*time.Minute)

	// Only a short-lead guild is subscribed; a match 30 minutes out is
	// not yet inside its window
	addGuild(t, repo, "g1", "c1", 15)
	addSub(t, repo, "g1", storage.SubTeam, "Sentinels")
	// A long-lead guild exists but is not subscribed to this match
	addGuild(t, repo, "g2", "c2", 120)
	addSub(t, repo, "g2", storage.SubTeam, "FNATIC")

	addMatch(t, repo, "A", time.Now().Add(30*time.Minute))

	s.Tick(context.Background())
	require.Empty(t, notifier.matches)

	ev, err := repo.GetEventByExternalID("A")
	require.NoError(t, err)
	assert.False(t, ev.Notified)
}

func TestTick_SharedSubscriptionDeliversPerGuildWindow(t *testing.T) {
	repo := newTestRepo(t)
	notifier := &fakeNotifier{}
	s := New(repo, notifier, time.Minute, 15*time.Minute)

	// Both guilds follow the same team but want different lead times
	addGuild(t, repo, "g1", "c1", 15)
	addSub(t, repo, "g1", storage.SubTeam, "Sentinels")
	addGuild(t, repo, "g2", "c2", 120)
	addSub(t, repo, "g2", storage.SubTeam, "Sentinels")

	addMatch(t, repo, "A", time.Now().Add(100*time.Minute))

	// 100 minutes out: inside g2's window, far outside g1's
	s.Tick(context.Background())
	require.Len(t, notifier.matches, 1)
	assert.Equal(t, "c2", notifier.matches[0].channelID)

	// g1's window is still closed and g2 is not re-delivered
	s.Tick(context.Background())
	require.Len(t, notifier.matches, 1)

	ev, err := repo.GetEventByExternalID("A")
	require.NoError(t, err)
	assert.False(t, ev.Notified)

	// The match moves inside g1's window
	addMatch(t, repo, "A", time.Now().Add(10*time.Minute))

	s.Tick(context.Background())
	require.Len(t, notifier.matches, 2)
	assert.Equal(t, "c1", notifier.matches[1].channelID)

	// All subscribed guilds attempted, the flag is terminal now
	ev, err = repo.GetEventByExternalID("A")
	require.NoError(t, err)
	assert.True(t, ev.Notified)

	s.Tick(context.Background())
	assert.Len(t, notifier.matches, 2)
}

func TestTick_AnnouncesResultsForNotifiedMatches(t *testing.T) {
	repo := newTestRepo(t)
	notifier := &fakeNotifier{}
	s := New(repo, notifier, time.Minute, 15*time.Minute)

	addGuild(t, repo, "g1", "c1", 15)
	addSub(t, repo, "g1", storage.SubTeam, "Sentinels")

	addMatch(t, repo, "A", time.Now().Add(10*time.Minute))
	s.Tick(context.Background())
	require.Len(t, notifier.matches, 1)

	// The match completes
	_, err := repo.UpsertEvent(&storage.Event{
		ExternalID: "A",
		Kind:       storage.KindResult,
		TeamA:      "Sentinels",
		TeamB:      "NRG",
		EventGroup: "VCT Stage 2",
		Status:     "Completed",
		ScoreA:     2,
		ScoreB:     1,
		Winner:     storage.WinnerTeamA,
	})
	require.NoError(t, err)

	s.Tick(context.Background())

	require.Len(t, notifier.results, 1)
	assert.Equal(t, "c1", notifier.results[0].channelID)
	assert.Equal(t, "A", notifier.results[0].externalID)

	// Announced exactly once
	s.Tick(context.Background())
	assert.Len(t, notifier.results, 1)
}

func TestTick_IgnoresGuildsWithoutChannel(t *testing.T) {
	repo := newTestRepo(t)
	notifier := &fakeNotifier{}
	s := New(repo, notifier, time.Minute, 15*time.Minute)

	addGuild(t, repo, "g1", "", 15)
	addSub(t, repo, "g1", storage.SubTeam, "Sentinels")

	addMatch(t, repo, "A", time.Now().Add(10*time.Minute))

	s.Tick(context.Background())
	require.Empty(t, notifier.matches)
}

func TestMatchSubscription(t *testing.T) {
	ev := storage.Event{
		TeamA:      "Sentinels",
		TeamB:      "NRG",
		EventGroup: "VCT Stage 2",
	}

	cases := []struct {
		name string
		subs []*storage.Subscription
		want string
		ok   bool
	}{
		{
			name: "team A case-insensitive",
			subs: []*storage.Subscription{{Kind: storage.SubTeam, Value: "SENTINELS"}},
			want: "Team: SENTINELS",
			ok:   true,
		},
		{
			name: "team B",
			subs: []*storage.Subscription{{Kind: storage.SubTeam, Value: "nrg"}},
			want: "Team: nrg",
			ok:   true,
		},
		{
			name: "event group exact",
			subs: []*storage.Subscription{{Kind: storage.SubEvent, Value: "vct stage 2"}},
			want: "Event: vct stage 2",
			ok:   true,
		},
		{
			name: "event wildcard",
			subs: []*storage.Subscription{{Kind: storage.SubEvent, Value: storage.SubWildcard}},
			want: "Event: ALL",
			ok:   true,
		},
		{
			name: "event wildcard is case-insensitive",
			subs: []*storage.Subscription{{Kind: storage.SubEvent, Value: "all"}},
			want: "Event: all",
			ok:   true,
		},
		{
			name: "no match",
			subs: []*storage.Subscription{
				{Kind: storage.SubTeam, Value: "FNATIC"},
				{Kind: storage.SubEvent, Value: "Game Changers"},
			},
		},
		{
			name: "team sub never matches event group",
			subs: []*storage.Subscription{{Kind: storage.SubTeam, Value: "VCT Stage 2"}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reason, ok := MatchSubscription(ev, tc.subs)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, reason)
		})
	}
}
