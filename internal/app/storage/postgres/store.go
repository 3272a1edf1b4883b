package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/trivianft/core/internal/app/domain/apperr"
	"github.com/trivianft/core/internal/app/domain/category"
	"github.com/trivianft/core/internal/app/domain/player"
	"github.com/trivianft/core/internal/app/domain/question"
	"github.com/trivianft/core/internal/app/domain/session"
	"github.com/trivianft/core/internal/app/storage"
)

var (
	_ storage.PlayerStore       = (*Store)(nil)
	_ storage.CategoryStore     = (*Store)(nil)
	_ storage.QuestionFlagStore = (*Store)(nil)
	_ storage.SessionStore      = (*Store)(nil)
)

// PlayerStore ----------------------------------------------------------------

type playerRow struct {
	ID         string         `db:"id"`
	Stake      sql.NullString `db:"stake"`
	AnonID     sql.NullString `db:"anon_id"`
	Username   sql.NullString `db:"username"`
	Email      sql.NullString `db:"email"`
	PaymentKey sql.NullString `db:"payment_key"`
	CreatedAt  time.Time      `db:"created_at"`
	LastSeenAt time.Time      `db:"last_seen_at"`
}

func (r playerRow) toDomain() player.Player {
	return player.Player{
		ID:         r.ID,
		Stake:      r.Stake.String,
		AnonID:     r.AnonID.String,
		Username:   r.Username.String,
		Email:      r.Email.String,
		PaymentKey: r.PaymentKey.String,
		CreatedAt:  r.CreatedAt,
		LastSeenAt: r.LastSeenAt,
	}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) UpsertPlayer(ctx context.Context, p player.Player) (player.Player, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	var row playerRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO players (id, stake, anon_id, username, email, payment_key, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT ((COALESCE(stake, anon_id))) DO UPDATE
		SET last_seen_at = now(),
		    username = COALESCE(NULLIF(EXCLUDED.username, ''), players.username),
		    email = COALESCE(NULLIF(EXCLUDED.email, ''), players.email),
		    payment_key = COALESCE(NULLIF(EXCLUDED.payment_key, ''), players.payment_key)
		RETURNING id, stake, anon_id, username, email, payment_key, created_at, last_seen_at
	`, p.ID, nullable(p.Stake), nullable(p.AnonID), nullable(p.Username), nullable(p.Email), nullable(p.PaymentKey))
	if err != nil {
		return player.Player{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetPlayer(ctx context.Context, id string) (player.Player, error) {
	var row playerRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, stake, anon_id, username, email, payment_key, created_at, last_seen_at
		FROM players WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return player.Player{}, apperr.Newf(apperr.KindNotFound, "PLAYER_NOT_FOUND", "player %s not found", id)
	}
	if err != nil {
		return player.Player{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetPlayerByStake(ctx context.Context, stake string) (player.Player, error) {
	var row playerRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, stake, anon_id, username, email, payment_key, created_at, last_seen_at
		FROM players WHERE stake = $1
	`, stake)
	if errors.Is(err, sql.ErrNoRows) {
		return player.Player{}, apperr.Newf(apperr.KindNotFound, "PLAYER_NOT_FOUND", "stake %s not found", stake)
	}
	if err != nil {
		return player.Player{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE players SET last_seen_at = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Newf(apperr.KindNotFound, "PLAYER_NOT_FOUND", "player %s not found", id)
	}
	return nil
}

func (s *Store) UsernamesByStakes(ctx context.Context, stakes []string) (map[string]string, error) {
	if len(stakes) == 0 {
		return map[string]string{}, nil
	}
	rows, err := s.db.QueryxContext(ctx, `
		SELECT stake, COALESCE(username, '') FROM players WHERE stake = ANY($1)
	`, pq.Array(stakes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string, len(stakes))
	for rows.Next() {
		var stake, username string
		if err := rows.Scan(&stake, &username); err != nil {
			return nil, err
		}
		out[stake] = username
	}
	return out, rows.Err()
}

func (s *Store) ActiveStakesSince(ctx context.Context, since time.Time) ([]string, error) {
	var out []string
	err := s.db.SelectContext(ctx, &out, `
		SELECT stake FROM players
		WHERE stake IS NOT NULL AND last_seen_at >= $1
		ORDER BY stake
	`, since.UTC())
	return out, err
}

// CategoryStore --------------------------------------------------------------

type categoryRow struct {
	ID        string    `db:"id"`
	Slug      string    `db:"slug"`
	Name      string    `db:"name"`
	Code      string    `db:"code"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

func (r categoryRow) toDomain() category.Category {
	return category.Category(r)
}

func (s *Store) GetCategory(ctx context.Context, id string) (category.Category, error) {
	var row categoryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, slug, name, code, active, created_at FROM categories WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return category.Category{}, apperr.Newf(apperr.KindNotFound, "CATEGORY_NOT_FOUND", "category %s not found", id)
	}
	if err != nil {
		return category.Category{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetCategoryBySlug(ctx context.Context, slug string) (category.Category, error) {
	var row categoryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, slug, name, code, active, created_at FROM categories WHERE slug = $1
	`, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return category.Category{}, apperr.Newf(apperr.KindNotFound, "CATEGORY_NOT_FOUND", "category %s not found", slug)
	}
	if err != nil {
		return category.Category{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListActiveCategories(ctx context.Context) ([]category.Category, error) {
	var rows []categoryRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, slug, name, code, active, created_at
		FROM categories WHERE active ORDER BY slug
	`); err != nil {
		return nil, err
	}
	out := make([]category.Category, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// QuestionFlagStore ----------------------------------------------------------

func (s *Store) CreateQuestionFlag(ctx context.Context, flag question.Flag) (question.Flag, error) {
	if flag.ID == "" {
		flag.ID = uuid.NewString()
	}
	flag.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO question_flags (id, question_id, player_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, flag.ID, flag.QuestionID, flag.PlayerID, flag.Reason, flag.CreatedAt)
	if err != nil {
		return question.Flag{}, err
	}
	return flag, nil
}

// SessionStore ---------------------------------------------------------------

type sessionRow struct {
	ID           string         `db:"id"`
	PlayerID     string         `db:"player_id"`
	Stake        sql.NullString `db:"stake"`
	AnonID       sql.NullString `db:"anon_id"`
	CategoryID   string         `db:"category_id"`
	Status       string         `db:"status"`
	CurrentIndex int            `db:"current_index"`
	Questions    []byte         `db:"questions"`
	Score        int            `db:"score"`
	StartedAt    time.Time      `db:"started_at"`
	EndedAt      sql.NullTime   `db:"ended_at"`
	TotalMs      int64          `db:"total_ms"`
}

func (r sessionRow) toDomain() (session.Session, error) {
	var questions []session.ServedQuestion
	if len(r.Questions) > 0 {
		if err := json.Unmarshal(r.Questions, &questions); err != nil {
			return session.Session{}, err
		}
	}
	s := session.Session{
		ID:           r.ID,
		PlayerID:     r.PlayerID,
		Stake:        r.Stake.String,
		AnonID:       r.AnonID.String,
		CategoryID:   r.CategoryID,
		Status:       session.Status(r.Status),
		CurrentIndex: r.CurrentIndex,
		Questions:    questions,
		Score:        r.Score,
		StartedAt:    r.StartedAt,
		TotalMs:      r.TotalMs,
	}
	if r.EndedAt.Valid {
		t := r.EndedAt.Time
		s.EndedAt = &t
	}
	return s, nil
}

const sessionColumns = `id, player_id, stake, anon_id, category_id, status, current_index, questions, score, started_at, ended_at, total_ms`

func (s *Store) CreateSession(ctx context.Context, sess session.Session) (session.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	questionsJSON, err := json.Marshal(sess.Questions)
	if err != nil {
		return session.Session{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, sess.ID, sess.PlayerID, nullable(sess.Stake), nullable(sess.AnonID), sess.CategoryID,
		string(sess.Status), sess.CurrentIndex, questionsJSON, sess.Score, sess.StartedAt.UTC(), nil, sess.TotalMs)
	if err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, apperr.New(apperr.KindNotFound, apperr.CodeSessionNotFound, "session not found")
	}
	if err != nil {
		return session.Session{}, err
	}
	return row.toDomain()
}

func (s *Store) FinalizeSession(ctx context.Context, sess session.Session) (session.Session, bool, error) {
	var stored session.Session
	applied := false
	err := s.tx(ctx, func(tx *sqlx.Tx) error {
		var row sessionRow
		err := tx.GetContext(ctx, &row, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, sess.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.KindNotFound, apperr.CodeSessionNotFound, "session not found")
		}
		if err != nil {
			return err
		}
		current, err := row.toDomain()
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			stored = current
			return nil
		}

		questionsJSON, err := json.Marshal(sess.Questions)
		if err != nil {
			return err
		}
		var endedAt interface{}
		if sess.EndedAt != nil {
			endedAt = sess.EndedAt.UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET status = $2, current_index = $3, questions = $4, score = $5, ended_at = $6, total_ms = $7
			WHERE id = $1
		`, sess.ID, string(sess.Status), sess.CurrentIndex, questionsJSON, sess.Score, endedAt, sess.TotalMs); err != nil {
			return err
		}
		stored = sess
		applied = true
		return nil
	})
	if err != nil {
		return session.Session{}, false, err
	}
	return stored, applied, nil
}
