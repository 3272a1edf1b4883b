package leaderboard

import (
	"fmt"
	"strings"

	"github.com/trivianft/core/internal/app/domain/season"
)

// The ranking order for a season is lexicographic over
// (points, nftsMinted, perfectScores, -avgAnswerMs, -sessionsUsed,
// firstAchievedAt). The KV ladders keep every member at score zero and pack
// the counters into a zero-padded member string instead: sorted-set members
// with equal scores order lexically, which ranks exactly, where a float64
// score would round the low-order counters away once points grow large.
// Field widths:
//
//	points            10 digits
//	nftsMinted         3 digits
//	perfectScores      3 digits
//	inverted avg       6 digits (lower avg ranks higher)
//	inverted sessions  3 digits (fewer sessions ranks higher)
//
// First-achieved ties are broken at sort time, not packed; the stake suffix
// only keeps members unique per player.
const (
	maxPoints   = int64(1e10) - 1
	maxNFTs     = int64(1e3) - 1
	maxPerfects = int64(1e3) - 1
	maxAvgMs    = int64(1e6) - 1
	maxSessions = int64(1e3) - 1
)

func clamp(v, max int64) int64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// rankMember packs a points row into its ladder member.
func rankMember(p season.Points) string {
	return fmt.Sprintf("%010d:%03d:%03d:%06d:%03d:%s",
		clamp(p.Points, maxPoints),
		clamp(p.NFTsMinted, maxNFTs),
		clamp(p.PerfectScores, maxPerfects),
		maxAvgMs-clamp(p.AvgAnswerMs, maxAvgMs),
		maxSessions-clamp(p.SessionsUsed, maxSessions),
		p.Stake)
}

// memberStake returns the stake a ladder member encodes.
func memberStake(member string) string {
	parts := strings.SplitN(member, ":", 6)
	return parts[len(parts)-1]
}

// Less reports whether a ranks below b, applying the first-achieved and
// stake tie-breaks the ladder member does not carry.
func Less(a, b season.Points) bool {
	if a.Points != b.Points {
		return a.Points < b.Points
	}
	if a.NFTsMinted != b.NFTsMinted {
		return a.NFTsMinted < b.NFTsMinted
	}
	if a.PerfectScores != b.PerfectScores {
		return a.PerfectScores < b.PerfectScores
	}
	if a.AvgAnswerMs != b.AvgAnswerMs {
		return a.AvgAnswerMs > b.AvgAnswerMs
	}
	if a.SessionsUsed != b.SessionsUsed {
		return a.SessionsUsed > b.SessionsUsed
	}
	switch {
	case a.FirstAchievedAt == nil && b.FirstAchievedAt != nil:
		return true
	case a.FirstAchievedAt != nil && b.FirstAchievedAt == nil:
		return false
	case a.FirstAchievedAt != nil && b.FirstAchievedAt != nil && !a.FirstAchievedAt.Equal(*b.FirstAchievedAt):
		return a.FirstAchievedAt.After(*b.FirstAchievedAt)
	}
	return a.Stake > b.Stake
}
