package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/trivianft/core/internal/app/domain/apperr"
	"github.com/trivianft/core/internal/app/domain/season"
	"github.com/trivianft/core/internal/app/storage"
)

var (
	_ storage.SeasonStore   = (*Store)(nil)
	_ storage.PointsStore   = (*Store)(nil)
	_ storage.SnapshotStore = (*Store)(nil)
)

// SeasonStore ----------------------------------------------------------------

type seasonRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	StartsAt  time.Time `db:"starts_at"`
	EndsAt    time.Time `db:"ends_at"`
	GraceDays int       `db:"grace_days"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

func (r seasonRow) toDomain() season.Season {
	return season.Season{
		ID:        r.ID,
		Name:      r.Name,
		StartsAt:  r.StartsAt,
		EndsAt:    r.EndsAt,
		GraceDays: r.GraceDays,
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
	}
}

const seasonColumns = `id, name, starts_at, ends_at, grace_days, active, created_at`

func (s *Store) CreateSeason(ctx context.Context, sn season.Season) (season.Season, error) {
	if sn.GraceDays == 0 {
		sn.GraceDays = season.DefaultGraceDays
	}
	sn.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seasons (id, name, starts_at, ends_at, grace_days, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, sn.ID, sn.Name, sn.StartsAt.UTC(), sn.EndsAt.UTC(), sn.GraceDays, sn.Active, sn.CreatedAt)
	if err != nil {
		return season.Season{}, err
	}
	return s.GetSeason(ctx, sn.ID)
}

func (s *Store) GetSeason(ctx context.Context, id string) (season.Season, error) {
	var row seasonRow
	err := s.db.GetContext(ctx, &row, `SELECT `+seasonColumns+` FROM seasons WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return season.Season{}, apperr.New(apperr.KindNotFound, apperr.CodeSeasonNotFound, "season not found")
	}
	if err != nil {
		return season.Season{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ActiveSeason(ctx context.Context) (season.Season, error) {
	var row seasonRow
	err := s.db.GetContext(ctx, &row, `SELECT `+seasonColumns+` FROM seasons WHERE active ORDER BY starts_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return season.Season{}, apperr.New(apperr.KindNotFound, apperr.CodeSeasonNotFound, "no active season")
	}
	if err != nil {
		return season.Season{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) SetSeasonActive(ctx context.Context, id string, active bool) error {
	return s.tx(ctx, func(tx *sqlx.Tx) error {
		if active {
			// At most one active season.
			if _, err := tx.ExecContext(ctx, `UPDATE seasons SET active = false WHERE active AND id <> $1`, id); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `UPDATE seasons SET active = $2 WHERE id = $1`, id, active)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.New(apperr.KindNotFound, apperr.CodeSeasonNotFound, "season not found")
		}
		return nil
	})
}

// PointsStore ----------------------------------------------------------------

type pointsRow struct {
	SeasonID        string       `db:"season_id"`
	Stake           string       `db:"stake"`
	Points          int64        `db:"points"`
	PerfectScores   int64        `db:"perfect_scores"`
	NFTsMinted      int64        `db:"nfts_minted"`
	AvgAnswerMs     int64        `db:"avg_answer_ms"`
	SessionsUsed    int64        `db:"sessions_used"`
	FirstAchievedAt sql.NullTime `db:"first_achieved_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

func (r pointsRow) toDomain() season.Points {
	p := season.Points{
		SeasonID:      r.SeasonID,
		Stake:         r.Stake,
		Points:        r.Points,
		PerfectScores: r.PerfectScores,
		NFTsMinted:    r.NFTsMinted,
		AvgAnswerMs:   r.AvgAnswerMs,
		SessionsUsed:  r.SessionsUsed,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.FirstAchievedAt.Valid {
		t := r.FirstAchievedAt.Time
		p.FirstAchievedAt = &t
	}
	return p
}

const pointsColumns = `season_id, stake, points, perfect_scores, nfts_minted, avg_answer_ms, sessions_used, first_achieved_at, updated_at`

func (s *Store) ApplySessionResult(ctx context.Context, seasonID, stake string, delta storage.PointsDelta) (season.Points, error) {
	perfect := 0
	if delta.Perfect {
		perfect = 1
	}
	var first sql.NullTime
	if delta.Perfect {
		first = sql.NullTime{Time: delta.CompletedAt.UTC(), Valid: true}
	}
	var row pointsRow
	// Running average over sessions; first_achieved_at sticks once set.
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO season_points (season_id, stake, points, perfect_scores, nfts_minted, avg_answer_ms, sessions_used, first_achieved_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, 1, $6, now())
		ON CONFLICT (season_id, stake) DO UPDATE SET
			points          = season_points.points + EXCLUDED.points,
			perfect_scores  = season_points.perfect_scores + EXCLUDED.perfect_scores,
			avg_answer_ms   = (season_points.avg_answer_ms * season_points.sessions_used + EXCLUDED.avg_answer_ms)
			                  / (season_points.sessions_used + 1),
			sessions_used   = season_points.sessions_used + 1,
			first_achieved_at = COALESCE(season_points.first_achieved_at, EXCLUDED.first_achieved_at),
			updated_at      = now()
		RETURNING `+pointsColumns+`
	`, seasonID, stake, delta.Points, perfect, delta.AvgAnswerMs, first)
	if err != nil {
		return season.Points{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) IncrementNFTCount(ctx context.Context, seasonID, stake string) (season.Points, error) {
	var row pointsRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO season_points (season_id, stake, points, perfect_scores, nfts_minted, avg_answer_ms, sessions_used, updated_at)
		VALUES ($1, $2, 0, 0, 1, 0, 0, now())
		ON CONFLICT (season_id, stake) DO UPDATE SET
			nfts_minted = season_points.nfts_minted + 1,
			updated_at  = now()
		RETURNING `+pointsColumns+`
	`, seasonID, stake)
	if err != nil {
		return season.Points{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetPoints(ctx context.Context, seasonID, stake string) (season.Points, error) {
	var row pointsRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+pointsColumns+` FROM season_points WHERE season_id = $1 AND stake = $2
	`, seasonID, stake)
	if errors.Is(err, sql.ErrNoRows) {
		return season.Points{SeasonID: seasonID, Stake: stake}, nil
	}
	if err != nil {
		return season.Points{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListPoints(ctx context.Context, seasonID string) ([]season.Points, error) {
	var rows []pointsRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+pointsColumns+` FROM season_points WHERE season_id = $1
	`, seasonID); err != nil {
		return nil, err
	}
	out := make([]season.Points, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) InitZeroPoints(ctx context.Context, seasonID string, stakes []string) error {
	return s.tx(ctx, func(tx *sqlx.Tx) error {
		for _, stake := range stakes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO season_points (season_id, stake, points, perfect_scores, nfts_minted, avg_answer_ms, sessions_used, updated_at)
				VALUES ($1, $2, 0, 0, 0, 0, 0, now())
				ON CONFLICT (season_id, stake) DO NOTHING
			`, seasonID, stake); err != nil {
				return err
			}
		}
		return nil
	})
}

// SnapshotStore --------------------------------------------------------------

type snapshotRow struct {
	SeasonID      string    `db:"season_id"`
	SnapshotDate  string    `db:"snapshot_date"`
	Stake         string    `db:"stake"`
	Rank          int       `db:"rank"`
	Points        int64     `db:"points"`
	NFTsMinted    int64     `db:"nfts_minted"`
	PerfectScores int64     `db:"perfect_scores"`
	AvgAnswerMs   int64     `db:"avg_answer_ms"`
	SessionsUsed  int64     `db:"sessions_used"`
	CreatedAt     time.Time `db:"created_at"`
}

func (s *Store) HasSnapshot(ctx context.Context, seasonID, date string) (bool, error) {
	var ok bool
	err := s.db.GetContext(ctx, &ok, `
		SELECT EXISTS (SELECT 1 FROM leaderboard_snapshots WHERE season_id = $1 AND snapshot_date = $2)
	`, seasonID, date)
	return ok, err
}

func (s *Store) InsertSnapshot(ctx context.Context, rows []season.SnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}
	return s.tx(ctx, func(tx *sqlx.Tx) error {
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO leaderboard_snapshots (id, season_id, snapshot_date, stake, rank, points, nfts_minted, perfect_scores, avg_answer_ms, sessions_used, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
				ON CONFLICT (season_id, snapshot_date, stake) DO NOTHING
			`, uuid.NewString(), r.SeasonID, r.SnapshotDate, r.Stake, r.Rank,
				r.Points, r.NFTsMinted, r.PerfectScores, r.AvgAnswerMs, r.SessionsUsed); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListSnapshot(ctx context.Context, seasonID, date string, limit, offset int) ([]season.SnapshotRow, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []snapshotRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT season_id, snapshot_date, stake, rank, points, nfts_minted, perfect_scores, avg_answer_ms, sessions_used, created_at
		FROM leaderboard_snapshots
		WHERE season_id = $1 AND snapshot_date = $2
		ORDER BY rank
		LIMIT $3 OFFSET $4
	`, seasonID, date, limit, offset); err != nil {
		return nil, err
	}
	out := make([]season.SnapshotRow, len(rows))
	for i, r := range rows {
		out[i] = season.SnapshotRow{
			SeasonID:      r.SeasonID,
			SnapshotDate:  r.SnapshotDate,
			Stake:         r.Stake,
			Rank:          r.Rank,
			Points:        r.Points,
			NFTsMinted:    r.NFTsMinted,
			PerfectScores: r.PerfectScores,
			AvgAnswerMs:   r.AvgAnswerMs,
			SessionsUsed:  r.SessionsUsed,
			CreatedAt:     r.CreatedAt,
		}
	}
	return out, nil
}
