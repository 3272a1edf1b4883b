package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/trivianft/core/internal/app/domain/question"
)

// Question source. The sessions engine draws through these; ingestion tooling
// writes through CreateQuestion.

type questionRow struct {
	ID           string         `db:"id"`
	CategoryID   string         `db:"category_id"`
	Text         string         `db:"text"`
	Options      []byte         `db:"options"`
	CorrectIndex int            `db:"correct_index"`
	Explanation  sql.NullString `db:"explanation"`
	Source       sql.NullString `db:"source"`
	Hash         string         `db:"hash"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r questionRow) toDomain() (question.Question, error) {
	var options [4]string
	if err := json.Unmarshal(r.Options, &options); err != nil {
		return question.Question{}, fmt.Errorf("decode options for question %s: %w", r.ID, err)
	}
	return question.Question{
		ID:           r.ID,
		CategoryID:   r.CategoryID,
		Text:         r.Text,
		Options:      options,
		CorrectIndex: r.CorrectIndex,
		Explanation:  r.Explanation.String,
		Source:       r.Source.String,
		Hash:         r.Hash,
		CreatedAt:    r.CreatedAt,
	}, nil
}

const questionColumns = `id, category_id, text, options, correct_index, explanation, source, hash, created_at`

// QuestionHash is the content hash deduplicating questions across imports:
// normalized text plus the option set in order.
func QuestionHash(text string, options [4]string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(text))))
	for _, opt := range options {
		h.Write([]byte{0})
		h.Write([]byte(strings.ToLower(strings.TrimSpace(opt))))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CreateQuestion inserts a question, deduplicating on content hash. A
// duplicate returns the existing row.
func (s *Store) CreateQuestion(ctx context.Context, q question.Question) (question.Question, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.Hash == "" {
		q.Hash = QuestionHash(q.Text, q.Options)
	}
	q.CreatedAt = time.Now().UTC()
	options, err := json.Marshal(q.Options)
	if err != nil {
		return question.Question{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO questions (id, category_id, text, options, correct_index, explanation, source, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (hash) DO NOTHING
	`, q.ID, q.CategoryID, q.Text, options, q.CorrectIndex, nullable(q.Explanation), nullable(q.Source), q.Hash, q.CreatedAt)
	if err != nil {
		return question.Question{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var row questionRow
		if err := s.db.GetContext(ctx, &row, `
			SELECT `+questionColumns+` FROM questions WHERE hash = $1
		`, q.Hash); err != nil {
			return question.Question{}, err
		}
		return row.toDomain()
	}
	return q, nil
}

// PoolSize counts the category's question pool.
func (s *Store) PoolSize(ctx context.Context, categoryID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM questions WHERE category_id = $1`, categoryID)
	return n, err
}

// Draw selects up to count random questions from the category, excluding the
// given ids. Randomization happens in the database so draws stay uniform as
// the pool grows.
func (s *Store) Draw(ctx context.Context, categoryID string, count int, excludeIDs []string) ([]question.Question, error) {
	var rows []questionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+questionColumns+`
		FROM questions
		WHERE category_id = $1 AND id <> ALL($2)
		ORDER BY random()
		LIMIT $3
	`, categoryID, pq.Array(excludeIDs), count)
	if err != nil {
		return nil, err
	}
	out := make([]question.Question, len(rows))
	for i, r := range rows {
		q, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

// Flag records a player report; unknown question ids are rejected by the
// foreign key.
func (s *Store) Flag(ctx context.Context, questionID, playerID, reason string) error {
	_, err := s.CreateQuestionFlag(ctx, question.Flag{
		QuestionID: questionID,
		PlayerID:   playerID,
		Reason:     reason,
	})
	return err
}
