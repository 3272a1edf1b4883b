package question

import "time"

// Question is an immutable quiz question. Hash deduplicates content across
// the table; once indexed the row never changes.
type Question struct {
	ID           string
	CategoryID   string
	Text         string
	Options      [4]string
	CorrectIndex int
	Explanation  string
	Source       string
	Hash         string
	CreatedAt    time.Time
}

// Flag records a player report against a question.
type Flag struct {
	ID         string
	QuestionID string
	PlayerID   string
	Reason     string
	CreatedAt  time.Time
}
