package season

import "time"

// DefaultGraceDays is the trailing window after EndsAt during which
// seasonal forging remains valid.
const DefaultGraceDays = 7

// Season is a fixed calendar window plus grace. At most one is active.
type Season struct {
	ID        string
	Name      string
	StartsAt  time.Time
	EndsAt    time.Time
	GraceDays int
	Active    bool
	CreatedAt time.Time
}

// InGrace reports whether now falls in the post-end grace window.
func (s Season) InGrace(now time.Time) bool {
	grace := s.GraceDays
	if grace == 0 {
		grace = DefaultGraceDays
	}
	return now.After(s.EndsAt) && now.Before(s.EndsAt.AddDate(0, 0, grace))
}

// Points is the per-stake accumulator for a season. FirstAchievedAt is the
// earliest perfect score and is set once.
type Points struct {
	SeasonID        string
	Stake           string
	Points          int64
	PerfectScores   int64
	NFTsMinted      int64
	AvgAnswerMs     int64
	SessionsUsed    int64
	FirstAchievedAt *time.Time
	UpdatedAt       time.Time
}

// SnapshotRow is one append-only leaderboard snapshot entry. The terminal
// snapshot of a closed season is the canonical final standings.
type SnapshotRow struct {
	SeasonID      string
	SnapshotDate  string
	Stake         string
	Rank          int
	Points        int64
	NFTsMinted    int64
	PerfectScores int64
	AvgAnswerMs   int64
	SessionsUsed  int64
	CreatedAt     time.Time
}
