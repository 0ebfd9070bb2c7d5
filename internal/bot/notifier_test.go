package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jakehlee/valorie/internal/storage"
)

func TestMatchup(t *testing.T) {
	ev := &storage.Event{
		TeamA: "Sentinels",
		TeamB: "LOUD",
		FlagA: "\U0001F1FA\U0001F1F8",
		FlagB: "\U0001F1E7\U0001F1F7",
	}
	assert.Equal(t, "\U0001F1FA\U0001F1F8 Sentinels vs. \U0001F1E7\U0001F1F7 LOUD", matchup(ev))

	// Missing flags collapse cleanly
	ev.FlagA, ev.FlagB = "", ""
	assert.Equal(t, "Sentinels vs. LOUD", matchup(ev))
}

func TestScoreline(t *testing.T) {
	ev := &storage.Event{
		TeamA:  "Sentinels",
		TeamB:  "LOUD",
		ScoreA: 2,
		ScoreB: 1,
		Winner: storage.WinnerTeamA,
	}
	assert.Equal(t, "\U0001F3C6 Sentinels 2 : 1 LOUD", scoreline(ev))

	ev.Winner = storage.WinnerTeamB
	assert.Equal(t, "Sentinels 2 : 1 LOUD \U0001F3C6", scoreline(ev))

	ev.Winner = storage.WinnerNone
	assert.Equal(t, "Sentinels 2 : 1 LOUD", scoreline(ev))
}

func TestFormatETA(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{30 * time.Minute, "30m"},
		{2 * time.Hour, "2h"},
		{26*time.Hour + 30*time.Minute, "1d 2h 30m"},
		{24 * time.Hour, "1d"},
		{45 * time.Second, "1m"},
		{0, "0m"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, formatETA(tc.in), tc.in.String())
	}
}
