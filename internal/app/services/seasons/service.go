// Package seasons manages the quarterly competition cycle: the current
// season, the end-of-season transition (final snapshot, prize award,
// rotation) and forge readiness reporting.
package seasons

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/trivianft/core/internal/app/domain/apperr"
	"github.com/trivianft/core/internal/app/domain/nft"
	"github.com/trivianft/core/internal/app/domain/season"
	"github.com/trivianft/core/internal/app/metrics"
	eligsvc "github.com/trivianft/core/internal/app/services/eligibility"
	"github.com/trivianft/core/internal/app/services/leaderboard"
	"github.com/trivianft/core/internal/app/storage"
	"github.com/trivianft/core/pkg/logger"
)

// Clock supplies the wall clock; injected for testability.
type Clock interface {
	Now() time.Time
}

// ActiveStakeWindow bounds which players are pre-registered into a new
// season's standings.
const ActiveStakeWindow = 90 * 24 * time.Hour

// Service manages the season lifecycle.
type Service struct {
	seasons    storage.SeasonStore
	points     storage.PointsStore
	players    storage.PlayerStore
	categories storage.CategoryStore
	assets     storage.AssetStore
	ladder     *leaderboard.Service
	ledger     *eligsvc.Service
	clock      Clock
	log        *logger.Logger
}

// New constructs the season service.
func New(seasons storage.SeasonStore, points storage.PointsStore, players storage.PlayerStore, categories storage.CategoryStore, assets storage.AssetStore, ladder *leaderboard.Service, ledger *eligsvc.Service, clock Clock, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("seasons")
	}
	return &Service{
		seasons: seasons, points: points, players: players, categories: categories,
		assets: assets, ladder: ladder, ledger: ledger, clock: clock, log: log,
	}
}

// Status is the current season as served to clients.
type Status struct {
	Season  season.Season `json:"season"`
	Ended   bool          `json:"ended"`
	InGrace bool          `json:"in_grace"`
}

// Current returns the active season with its grace standing.
func (s *Service) Current(ctx context.Context) (Status, error) {
	active, err := s.seasons.ActiveSeason(ctx)
	if err != nil {
		return Status{}, err
	}
	now := s.clock.Now().UTC()
	return Status{
		Season:  active,
		Ended:   now.After(active.EndsAt),
		InGrace: active.InGrace(now),
	}, nil
}

// Transition closes the active season once it has ended: final standings are
// snapshotted, the top connected player receives the season prize, the season
// deactivates and the next quarter's season opens pre-seeded with recently
// active stakes. Every part is idempotent, so a crashed transition re-runs
// cleanly on the next tick.
func (s *Service) Transition(ctx context.Context) error {
	now := s.clock.Now().UTC()

	active, err := s.seasons.ActiveSeason(ctx)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			s.log.Warn("no active season to transition")
			return nil
		}
		metrics.RecordSeasonTransition(false)
		return err
	}
	if now.Before(active.EndsAt) {
		s.log.WithField("season_id", active.ID).
			WithField("ends_at", active.EndsAt).
			Info("season still running; transition skipped")
		return nil
	}

	if err := s.transition(ctx, active, now); err != nil {
		metrics.RecordSeasonTransition(false)
		return err
	}
	metrics.RecordSeasonTransition(true)
	return nil
}

func (s *Service) transition(ctx context.Context, active season.Season, now time.Time) error {
	if err := s.ladder.Snapshot(ctx, active.ID); err != nil {
		return fmt.Errorf("final snapshot: %w", err)
	}

	if err := s.awardPrize(ctx, active); err != nil {
		return fmt.Errorf("award season prize: %w", err)
	}

	if err := s.seasons.SetSeasonActive(ctx, active.ID, false); err != nil {
		return fmt.Errorf("deactivate season: %w", err)
	}

	next, err := nextSeason(active)
	if err != nil {
		return err
	}
	created, err := s.seasons.CreateSeason(ctx, next)
	if err != nil {
		if !apperr.IsKind(err, apperr.KindConflict) {
			return fmt.Errorf("create season: %w", err)
		}
		created = next
	}
	if err := s.seasons.SetSeasonActive(ctx, created.ID, true); err != nil {
		return fmt.Errorf("activate season: %w", err)
	}

	stakes, err := s.players.ActiveStakesSince(ctx, now.Add(-ActiveStakeWindow))
	if err != nil {
		return fmt.Errorf("list active stakes: %w", err)
	}
	if err := s.points.InitZeroPoints(ctx, created.ID, stakes); err != nil {
		return fmt.Errorf("seed season standings: %w", err)
	}

	s.dropLadderCache(ctx, active.ID)

	s.log.WithField("closed", active.ID).
		WithField("opened", created.ID).
		WithField("seeded_stakes", len(stakes)).
		Info("season transitioned")
	return nil
}

// awardPrize issues the season eligibility to the highest-ranked player with
// a connected wallet and a username. Idempotent per season.
func (s *Service) awardPrize(ctx context.Context, active season.Season) error {
	rows, err := s.points.ListPoints(ctx, active.ID)
	if err != nil {
		return err
	}
	sort.Slice(rows, func(i, j int) bool { return leaderboard.Less(rows[j], rows[i]) })

	for _, pts := range rows {
		if pts.Points == 0 {
			break
		}
		p, err := s.players.GetPlayerByStake(ctx, pts.Stake)
		if err != nil || p.Username == "" {
			continue
		}
		if _, err := s.ledger.IssueSeasonPrize(ctx, active.ID, p.ID, p.Stake); err != nil {
			return err
		}
		s.log.WithField("season_id", active.ID).
			WithField("stake", p.Stake).
			WithField("points", pts.Points).
			Info("season prize awarded")
		return nil
	}
	s.log.WithField("season_id", active.ID).Warn("no eligible prize winner this season")
	return nil
}

func (s *Service) dropLadderCache(ctx context.Context, seasonID string) {
	cats, err := s.categories.ListActiveCategories(ctx)
	if err != nil {
		s.log.WithError(err).Warn("ladder cache drop skipped")
		return
	}
	ids := make([]string, len(cats))
	for i, c := range cats {
		ids[i] = c.ID
	}
	if err := s.ladder.DropLadders(ctx, seasonID, ids); err != nil {
		s.log.WithError(err).Warn("ladder cache drop failed; TTL-less keys remain")
	}
}

// cycleOrder is the quarterly rotation; fall wraps into the next numbered
// winter.
var cycleOrder = []string{"winter", "spring", "summer", "fall"}

// nextSeason derives the following season from the closing one. Ids follow
// the "{cycle}-s{n}" form; the number increments when fall wraps to winter.
func nextSeason(current season.Season) (season.Season, error) {
	cycle, number, err := parseSeasonID(current.ID)
	if err != nil {
		return season.Season{}, err
	}
	idx := -1
	for i, c := range cycleOrder {
		if c == cycle {
			idx = i
			break
		}
	}
	if idx == -1 {
		return season.Season{}, apperr.Newf(apperr.KindInput, apperr.CodeSeasonNotFound, "unknown season cycle %q", cycle)
	}
	nextCycle := cycleOrder[(idx+1)%len(cycleOrder)]
	if nextCycle == "winter" {
		number++
	}

	starts := current.EndsAt
	return season.Season{
		ID:        fmt.Sprintf("%s-s%d", nextCycle, number),
		Name:      strings.ToUpper(nextCycle[:1]) + nextCycle[1:],
		StartsAt:  starts,
		EndsAt:    starts.AddDate(0, 3, 0),
		GraceDays: season.DefaultGraceDays,
	}, nil
}

func parseSeasonID(id string) (string, int, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(id)), "-s", 2)
	if len(parts) != 2 {
		return "", 0, apperr.Newf(apperr.KindInput, apperr.CodeSeasonNotFound, "malformed season id %q", id)
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 1 {
		return "", 0, apperr.Newf(apperr.KindInput, apperr.CodeSeasonNotFound, "malformed season id %q", id)
	}
	return parts[0], n, nil
}

// SetProgress is one forge requirement with the caller's current holdings.
type SetProgress struct {
	CategoryID string `json:"category_id,omitempty"`
	Slug       string `json:"slug,omitempty"`
	Have       int    `json:"have"`
	Need       int    `json:"need"`
	Ready      bool   `json:"ready"`
}

// Progress reports how close a stake is to each forge shape.
type Progress struct {
	Category []SetProgress `json:"category"`
	Master   SetProgress   `json:"master"`
	SeasonID string        `json:"season_id,omitempty"`
	Season   []SetProgress `json:"season,omitempty"`
}

// ForgeProgress aggregates the stake's confirmed holdings against the three
// forge shapes.
func (s *Service) ForgeProgress(ctx context.Context, stake string) (Progress, error) {
	if stake == "" {
		return Progress{}, apperr.New(apperr.KindForbidden, apperr.CodeStakeRequired, "forge progress requires a connected wallet")
	}
	assets, err := s.assets.ListConfirmedAssets(ctx, stake)
	if err != nil {
		return Progress{}, fmt.Errorf("list assets: %w", err)
	}
	cats, err := s.categories.ListActiveCategories(ctx)
	if err != nil {
		return Progress{}, fmt.Errorf("list categories: %w", err)
	}

	tier1 := make(map[string]int)
	seasonTagged := make(map[string]map[string]int) // seasonID -> categoryID -> count
	for _, a := range assets {
		if a.Tier != nft.TierCategory {
			continue
		}
		tier1[a.CategoryID]++
		if a.SeasonID != "" {
			if seasonTagged[a.SeasonID] == nil {
				seasonTagged[a.SeasonID] = make(map[string]int)
			}
			seasonTagged[a.SeasonID][a.CategoryID]++
		}
	}

	var out Progress
	for _, c := range cats {
		have := tier1[c.ID]
		out.Category = append(out.Category, SetProgress{
			CategoryID: c.ID,
			Slug:       c.Slug,
			Have:       have,
			Need:       nft.CategoryForgeInputs,
			Ready:      have >= nft.CategoryForgeInputs,
		})
	}
	// A master forge draws one tier-1 asset from each of ten distinct
	// categories.
	out.Master = SetProgress{
		Have:  len(tier1),
		Need:  nft.CategoryForgeInputs,
		Ready: len(tier1) >= nft.CategoryForgeInputs,
	}

	if active, err := s.seasons.ActiveSeason(ctx); err == nil {
		out.SeasonID = active.ID
		perCat := seasonTagged[active.ID]
		for _, c := range cats {
			have := perCat[c.ID]
			out.Season = append(out.Season, SetProgress{
				CategoryID: c.ID,
				Slug:       c.Slug,
				Have:       have,
				Need:       nft.SeasonForgePerCategory,
				Ready:      have >= nft.SeasonForgePerCategory,
			})
		}
	}
	return out, nil
}
