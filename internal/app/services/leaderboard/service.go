// Package leaderboard maintains season rankings. The SQL season_points row
// is canonical; the KV sorted sets are a derived read cache rebuilt by the
// reconciler whenever they drift.
package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/trivianft/core/internal/app/domain/apperr"
	"github.com/trivianft/core/internal/app/domain/season"
	"github.com/trivianft/core/internal/app/metrics"
	"github.com/trivianft/core/internal/app/storage"
	"github.com/trivianft/core/internal/kv"
	"github.com/trivianft/core/pkg/logger"
)

// Clock supplies the wall clock; injected for testability.
type Clock interface {
	Now() time.Time
}

// Service implements ranking updates, paginated reads and snapshots.
type Service struct {
	points    storage.PointsStore
	players   storage.PlayerStore
	snapshots storage.SnapshotStore
	kv        kv.Store
	clock     Clock
	log       *logger.Logger
}

// New constructs a leaderboard service.
func New(points storage.PointsStore, players storage.PlayerStore, snapshots storage.SnapshotStore, store kv.Store, clock Clock, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("leaderboard")
	}
	return &Service{points: points, players: players, snapshots: snapshots, kv: store, clock: clock, log: log}
}

func globalKey(seasonID string) string { return "ladder:global:" + seasonID }

func categoryKey(categoryID, seasonID string) string {
	return "ladder:category:" + categoryID + ":" + seasonID
}

// memberIndexKey names the hash mapping each stake to its current ladder
// member, so an update can evict the stale member before writing the new one.
func memberIndexKey(ladderKey string) string { return ladderKey + ":members" }

// UpdatePoints applies one completed session to a stake's season row and
// refreshes the global and category ladders. The SQL upsert is the point of
// no return; ladder write failures are logged and left to the reconciler.
func (s *Service) UpdatePoints(ctx context.Context, seasonID, categoryID, stake string, delta storage.PointsDelta) (season.Points, error) {
	pts, err := s.points.ApplySessionResult(ctx, seasonID, stake, delta)
	if err != nil {
		return season.Points{}, fmt.Errorf("apply session result: %w", err)
	}
	s.writeLadders(ctx, seasonID, categoryID, pts)
	s.log.WithField("stake", stake).
		WithField("season_id", seasonID).
		WithField("points", pts.Points).
		Debug("season points updated")
	return pts, nil
}

// AwardMint increments the stake's minted-NFT counter and refreshes ladders.
func (s *Service) AwardMint(ctx context.Context, seasonID, categoryID, stake string) (season.Points, error) {
	pts, err := s.points.IncrementNFTCount(ctx, seasonID, stake)
	if err != nil {
		return season.Points{}, fmt.Errorf("increment nft count: %w", err)
	}
	s.writeLadders(ctx, seasonID, categoryID, pts)
	return pts, nil
}

func (s *Service) writeLadders(ctx context.Context, seasonID, categoryID string, pts season.Points) {
	if err := s.upsertMember(ctx, globalKey(seasonID), pts); err != nil {
		s.log.WithError(err).WithField("stake", pts.Stake).Warn("global ladder write failed; reconciler will repair")
	}
	if categoryID != "" {
		if err := s.upsertMember(ctx, categoryKey(categoryID, seasonID), pts); err != nil {
			s.log.WithError(err).WithField("stake", pts.Stake).Warn("category ladder write failed; reconciler will repair")
		}
	}
}

// upsertMember replaces the stake's ladder member with the one encoding its
// current counters. All members carry score zero; the ordering lives in the
// member string.
func (s *Service) upsertMember(ctx context.Context, key string, pts season.Points) error {
	member := rankMember(pts)
	idx := memberIndexKey(key)
	old, ok, err := s.kv.HGet(ctx, idx, pts.Stake)
	if err != nil {
		return err
	}
	if ok && old != member {
		if err := s.kv.ZRem(ctx, key, old); err != nil {
			return err
		}
	}
	if err := s.kv.ZAdd(ctx, key, member, 0); err != nil {
		return err
	}
	return s.kv.HSet(ctx, idx, map[string]string{pts.Stake: member})
}

// Entry is one leaderboard row as served to clients.
type Entry struct {
	Rank          int    `json:"rank"`
	Stake         string `json:"stake"`
	Username      string `json:"username,omitempty"`
	Points        int64  `json:"points"`
	NFTsMinted    int64  `json:"nfts_minted"`
	PerfectScores int64  `json:"perfect_scores"`
	AvgAnswerMs   int64  `json:"avg_answer_ms"`
	SessionsUsed  int64  `json:"sessions_used"`
}

// Page is one paginated leaderboard read.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int64   `json:"total"`
	HasMore bool    `json:"has_more"`
}

// GetPage reads one ladder page. categoryID empty means the global ladder.
// Counters are hydrated from SQL so the page survives ladder drift; the page
// is re-ordered by the exact composite before ranking.
func (s *Service) GetPage(ctx context.Context, seasonID, categoryID string, limit, offset int) (Page, error) {
	if limit < 1 || limit > 100 {
		return Page{}, apperr.Newf(apperr.KindInput, "INVALID_LIMIT", "limit must be in 1..100, got %d", limit)
	}
	if offset < 0 {
		return Page{}, apperr.Newf(apperr.KindInput, "INVALID_OFFSET", "offset must be >= 0, got %d", offset)
	}
	key := globalKey(seasonID)
	if categoryID != "" {
		key = categoryKey(categoryID, seasonID)
	}

	total, err := s.kv.ZCard(ctx, key)
	if err != nil {
		return Page{}, fmt.Errorf("ladder size: %w", err)
	}
	members, err := s.kv.ZRevRange(ctx, key, int64(offset), int64(offset+limit-1))
	if err != nil {
		return Page{}, fmt.Errorf("ladder range: %w", err)
	}

	rows := make([]season.Points, 0, len(members))
	stakes := make([]string, 0, len(members))
	for _, m := range members {
		stake := memberStake(m.Member)
		pts, err := s.points.GetPoints(ctx, seasonID, stake)
		if err != nil {
			return Page{}, fmt.Errorf("hydrate %s: %w", stake, err)
		}
		rows = append(rows, pts)
		stakes = append(stakes, stake)
	}
	sort.Slice(rows, func(i, j int) bool { return Less(rows[j], rows[i]) })

	usernames, err := s.players.UsernamesByStakes(ctx, stakes)
	if err != nil {
		return Page{}, fmt.Errorf("resolve usernames: %w", err)
	}

	entries := make([]Entry, len(rows))
	for i, pts := range rows {
		entries[i] = Entry{
			Rank:          offset + i + 1,
			Stake:         pts.Stake,
			Username:      usernames[pts.Stake],
			Points:        pts.Points,
			NFTsMinted:    pts.NFTsMinted,
			PerfectScores: pts.PerfectScores,
			AvgAnswerMs:   pts.AvgAnswerMs,
			SessionsUsed:  pts.SessionsUsed,
		}
	}
	return Page{
		Entries: entries,
		Total:   total,
		HasMore: int64(offset+len(entries)) < total,
	}, nil
}

// Snapshot appends today's standings for the season. Idempotent: a snapshot
// already keyed by today's date is left untouched.
func (s *Service) Snapshot(ctx context.Context, seasonID string) error {
	date := s.clock.Now().UTC().Format("2006-01-02")
	exists, err := s.snapshots.HasSnapshot(ctx, seasonID, date)
	if err != nil {
		return fmt.Errorf("check snapshot: %w", err)
	}
	if exists {
		s.log.WithField("season_id", seasonID).WithField("date", date).Info("snapshot already taken")
		return nil
	}

	rows, err := s.points.ListPoints(ctx, seasonID)
	if err != nil {
		return fmt.Errorf("list points: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return Less(rows[j], rows[i]) })

	out := make([]season.SnapshotRow, len(rows))
	for i, pts := range rows {
		out[i] = season.SnapshotRow{
			SeasonID:      seasonID,
			SnapshotDate:  date,
			Stake:         pts.Stake,
			Rank:          i + 1,
			Points:        pts.Points,
			NFTsMinted:    pts.NFTsMinted,
			PerfectScores: pts.PerfectScores,
			AvgAnswerMs:   pts.AvgAnswerMs,
			SessionsUsed:  pts.SessionsUsed,
		}
	}
	if err := s.snapshots.InsertSnapshot(ctx, out); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	s.log.WithField("season_id", seasonID).WithField("rows", len(out)).Info("leaderboard snapshot taken")
	return nil
}

// GetSnapshot reads a stored snapshot page.
func (s *Service) GetSnapshot(ctx context.Context, seasonID, date string, limit, offset int) ([]season.SnapshotRow, error) {
	if limit < 1 || limit > 100 {
		return nil, apperr.Newf(apperr.KindInput, "INVALID_LIMIT", "limit must be in 1..100, got %d", limit)
	}
	return s.snapshots.ListSnapshot(ctx, seasonID, date, limit, offset)
}

// DropLadders deletes the derived sorted sets of a closed season. The SQL
// rows and snapshots stay; only the read cache goes.
func (s *Service) DropLadders(ctx context.Context, seasonID string, categoryIDs []string) error {
	keys := []string{globalKey(seasonID), memberIndexKey(globalKey(seasonID))}
	for _, id := range categoryIDs {
		key := categoryKey(id, seasonID)
		keys = append(keys, key, memberIndexKey(key))
	}
	return s.kv.Del(ctx, keys...)
}

// Reconcile rebuilds the global sorted set for the season from SQL. Category
// ladders refill on the next update for their category.
func (s *Service) Reconcile(ctx context.Context, seasonID string) error {
	rows, err := s.points.ListPoints(ctx, seasonID)
	if err != nil {
		return fmt.Errorf("list points: %w", err)
	}
	key := globalKey(seasonID)
	for _, pts := range rows {
		if err := s.upsertMember(ctx, key, pts); err != nil {
			return fmt.Errorf("rebuild %s: %w", pts.Stake, err)
		}
	}
	metrics.RecordReconciliation()
	return nil
}
