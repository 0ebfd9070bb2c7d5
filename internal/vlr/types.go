package vlr

// matchResponse is the envelope vlrggapi wraps every match listing in
type matchResponse struct {
	Data matchData `json:"data"`
}

type matchData struct {
	Status   int       `json:"status"`
	Segments []segment `json:"segments"`
}

// segment is one listed match. The upcoming and results feeds share a
// schema; results additionally carry scores, upcoming carries timing.
type segment struct {
	Team1 string `json:"team1"`
	Team2 string `json:"team2"`
	Flag1 string `json:"flag1"` // e.g. "flag_us"
	Flag2 string `json:"flag2"`

	Score1 string `json:"score1"`
	Score2 string `json:"score2"`

	// TimeUntilMatch is a human ETA like "1d 2h 30m" or "LIVE"
	TimeUntilMatch string `json:"time_until_match"`
	// UnixTimestamp is a UTC wall-clock string, "2006-01-02 15:04:05"
	UnixTimestamp string `json:"unix_timestamp"`
	TimeCompleted string `json:"time_completed"`

	MatchSeries    string `json:"match_series"`
	MatchEvent     string `json:"match_event"`
	TournamentName string `json:"tournament_name"`
	RoundInfo      string `json:"round_info"`

	// MatchPage is the site path, "/303087/team-a-vs-team-b-..."
	MatchPage string `json:"match_page"`
}
