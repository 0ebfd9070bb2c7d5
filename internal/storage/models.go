package storage

import "time"

// EventKind distinguishes upcoming matches from completed results
type EventKind string

const (
	KindMatch  EventKind = "match"
	KindResult EventKind = "result"
)

// Winner identifies which side of a result won
type Winner string

const (
	WinnerNone  Winner = ""
	WinnerTeamA Winner = "a"
	WinnerTeamB Winner = "b"
)

// Event is a single tracked match or result, keyed by the source's
// stable external ID
type Event struct {
	ID         int64
	ExternalID string
	Kind       EventKind
	TeamA      string
	TeamB      string
	FlagA      string // regional indicator emoji, may be empty
	FlagB      string
	EventGroup string // competition/series name, used for subscription filtering
	URL        string

	// ScheduledTime is the match start; zero for results that never
	// appeared as upcoming matches
	ScheduledTime time.Time
	Status        string // source status string ("Upcoming", "LIVE", "Completed")

	// Result fields, meaningful when Kind == KindResult
	ScoreA int
	ScoreB int
	Winner Winner

	// Notified is terminal: once a lead-time notification fired it never
	// goes back to false, even if the match is rescheduled
	Notified   bool
	ResultSent bool

	LastSeenAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UpsertOutcome reports what UpsertEvent did
type UpsertOutcome struct {
	Inserted bool
	// Changed is true when an update actually modified a mutable field;
	// re-polling an unchanged source yields Changed == false
	Changed bool
}

// DueEvent is a match whose notification window has been reached
type DueEvent struct {
	Event
	// Late marks matches that were already at or past their scheduled
	// start when picked up; they are still notified exactly once
	Late bool
}

// SubscriptionKind selects what a subscription value matches against
type SubscriptionKind string

const (
	SubTeam  SubscriptionKind = "team"
	SubEvent SubscriptionKind = "event"
)

// SubWildcard as an event subscription value matches every event group
const SubWildcard = "ALL"

// Subscription is a guild-scoped notification filter
type Subscription struct {
	ID        int64
	GuildID   string
	Kind      SubscriptionKind
	Value     string
	CreatedAt time.Time
}

// GuildSettings stores per-server notification configuration
type GuildSettings struct {
	GuildID               string
	NotificationChannelID string
	LeadTimeMinutes       int
	CreatedAt             time.Time
}

// LeadTime returns the guild's notification lead as a duration
func (g *GuildSettings) LeadTime() time.Duration {
	return time.Duration(g.LeadTimeMinutes) * time.Minute
}
