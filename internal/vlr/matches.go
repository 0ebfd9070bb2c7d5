package vlr

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jakehlee/valorie/internal/storage"
)

// timestampLayout is the UTC wall-clock format vlrggapi emits
const timestampLayout = "2006-01-02 15:04:05"

// FetchUpcoming retrieves and normalizes the upcoming-matches feed.
// On any transport or decode error the whole poll fails and the caller
// skips this cycle; a single bad segment is only skipped.
func (c *Client) FetchUpcoming(ctx context.Context) ([]storage.Event, error) {
	var resp matchResponse
	if err := c.get(ctx, c.baseURL+"/match?q=upcoming", &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch upcoming matches: %w", err)
	}

	now := time.Now().UTC()
	events := make([]storage.Event, 0, len(resp.Data.Segments))
	for _, seg := range resp.Data.Segments {
		ev, err := normalizeMatch(seg, now)
		if err != nil {
			slog.Warn("Skipping malformed match segment", "page", seg.MatchPage, "error", err)
			continue
		}
		events = append(events, ev)
	}

	return events, nil
}

// FetchResults retrieves and normalizes the completed-matches feed
func (c *Client) FetchResults(ctx context.Context) ([]storage.Event, error) {
	var resp matchResponse
	if err := c.get(ctx, c.baseURL+"/match?q=results", &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch results: %w", err)
	}

	events := make([]storage.Event, 0, len(resp.Data.Segments))
	for _, seg := range resp.Data.Segments {
		ev, err := normalizeResult(seg)
		if err != nil {
			slog.Warn("Skipping malformed result segment", "page", seg.MatchPage, "error", err)
			continue
		}
		events = append(events, ev)
	}

	return events, nil
}

// normalizeMatch converts an upcoming-feed segment into an Event
func normalizeMatch(seg segment, now time.Time) (storage.Event, error) {
	id, err := ExternalIDFromPath(seg.MatchPage)
	if err != nil {
		return storage.Event{}, err
	}
	if seg.Team1 == "" || seg.Team2 == "" {
		return storage.Event{}, fmt.Errorf("missing team name")
	}

	status := "Upcoming"
	if strings.EqualFold(seg.TimeUntilMatch, "LIVE") {
		status = "LIVE"
	}

	scheduled, err := parseScheduledTime(seg, now)
	if err != nil {
		return storage.Event{}, err
	}

	return storage.Event{
		ExternalID:    id,
		Kind:          storage.KindMatch,
		TeamA:         seg.Team1,
		TeamB:         seg.Team2,
		FlagA:         FlagEmoji(seg.Flag1),
		FlagB:         FlagEmoji(seg.Flag2),
		EventGroup:    eventGroup(seg),
		URL:           SiteBaseURL + seg.MatchPage,
		ScheduledTime: scheduled,
		Status:        status,
	}, nil
}

// normalizeResult converts a results-feed segment into an Event
func normalizeResult(seg segment) (storage.Event, error) {
	id, err := ExternalIDFromPath(seg.MatchPage)
	if err != nil {
		return storage.Event{}, err
	}
	if seg.Team1 == "" || seg.Team2 == "" {
		return storage.Event{}, fmt.Errorf("missing team name")
	}

	scoreA, err := strconv.Atoi(strings.TrimSpace(seg.Score1))
	if err != nil {
		return storage.Event{}, fmt.Errorf("bad score %q: %w", seg.Score1, err)
	}
	scoreB, err := strconv.Atoi(strings.TrimSpace(seg.Score2))
	if err != nil {
		return storage.Event{}, fmt.Errorf("bad score %q: %w", seg.Score2, err)
	}

	winner := storage.WinnerNone
	switch {
	case scoreA > scoreB:
		winner = storage.WinnerTeamA
	case scoreB > scoreA:
		winner = storage.WinnerTeamB
	}

	return storage.Event{
		ExternalID: id,
		Kind:       storage.KindResult,
		TeamA:      seg.Team1,
		TeamB:      seg.Team2,
		FlagA:      FlagEmoji(seg.Flag1),
		FlagB:      FlagEmoji(seg.Flag2),
		EventGroup: eventGroup(seg),
		URL:        SiteBaseURL + seg.MatchPage,
		Status:     "Completed",
		ScoreA:     scoreA,
		ScoreB:     scoreB,
		Winner:     winner,
	}, nil
}

// parseScheduledTime prefers the absolute timestamp and falls back to the
// ETA string relative to now, truncated to the minute so that repeated
// polls of an unchanged feed normalize identically.
func parseScheduledTime(seg segment, now time.Time) (time.Time, error) {
	if ts := strings.TrimSpace(seg.UnixTimestamp); ts != "" {
		t, err := time.Parse(timestampLayout, ts)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad timestamp %q: %w", ts, err)
		}
		return t.UTC(), nil
	}

	if strings.EqualFold(seg.TimeUntilMatch, "LIVE") {
		return now.Truncate(time.Minute), nil
	}

	// No timestamp and no ETA means no timing at all; without it the
	// match would wrongly look like it starts immediately
	if strings.TrimSpace(seg.TimeUntilMatch) == "" {
		return time.Time{}, fmt.Errorf("no timing information")
	}

	mins, err := ParseETA(seg.TimeUntilMatch)
	if err != nil {
		return time.Time{}, err
	}
	return now.Truncate(time.Minute).Add(time.Duration(mins) * time.Minute), nil
}

// eventGroup picks the competition name for subscription filtering
func eventGroup(seg segment) string {
	if seg.MatchEvent != "" {
		return seg.MatchEvent
	}
	return seg.TournamentName
}

// ExternalIDFromPath extracts the numeric match ID from a site path like
// "/303087/sentinels-vs-nrg-...". Paths whose first segment is not an
// integer are event or team pages, not matches.
func ExternalIDFromPath(path string) (string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", fmt.Errorf("empty match path")
	}

	first := trimmed
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		first = trimmed[:i]
	}

	if _, err := strconv.Atoi(first); err != nil {
		return "", fmt.Errorf("%q is not a match path", path)
	}
	return first, nil
}

// ParseETA converts a status string like "1d 2h 30m" or
// "1d 2h from now" into minutes
func ParseETA(eta string) (int, error) {
	eta = strings.TrimSpace(eta)
	if lower := strings.ToLower(eta); strings.HasSuffix(lower, "from now") {
		eta = strings.TrimSpace(eta[:len(eta)-len("from now")])
	}

	total := 0
	for _, part := range strings.Fields(eta) {
		var unit time.Duration
		switch {
		case strings.HasSuffix(part, "d"):
			unit = 24 * time.Hour
		case strings.HasSuffix(part, "h"):
			unit = time.Hour
		case strings.HasSuffix(part, "m"):
			unit = time.Minute
		default:
			return 0, fmt.Errorf("bad ETA part %q", part)
		}

		n, err := strconv.Atoi(part[:len(part)-1])
		if err != nil {
			return 0, fmt.Errorf("bad ETA part %q: %w", part, err)
		}
		total += n * int(unit/time.Minute)
	}
	return total, nil
}

// FlagEmoji converts a source flag class like "flag_us" into the
// corresponding regional indicator emoji. Unknown codes map to empty.
func FlagEmoji(flag string) string {
	idx := strings.LastIndexAny(flag, "_-")
	if idx < 0 || idx == len(flag)-1 {
		return ""
	}

	code := strings.ToUpper(flag[idx+1:])
	if len(code) != 2 {
		return ""
	}

	var sb strings.Builder
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return ""
		}
		sb.WriteRune(r + 127397)
	}
	return sb.String()
}
