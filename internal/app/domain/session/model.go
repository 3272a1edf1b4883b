package session

import "time"

// Status is the session lifecycle state. Terminal states are sticky.
type Status string

const (
	StatusActive  Status = "active"
	StatusWon     Status = "won"
	StatusLost    Status = "lost"
	StatusForfeit Status = "forfeit"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool { return s != StatusActive }

// QuestionCount is the fixed number of questions served per session.
const QuestionCount = 10

// WinThreshold is the minimum score for a won session.
const WinThreshold = 6

// ServedQuestion captures one question as served. The four option strings
// are frozen at serve time so later catalog edits cannot alter history.
// CorrectIndex never leaves the server; Sanitized strips it.
type ServedQuestion struct {
	QuestionID    string    `json:"question_id"`
	Text          string    `json:"text"`
	Options       [4]string `json:"options"`
	CorrectIndex  int       `json:"correct_index"`
	Explanation   string    `json:"explanation"`
	ServedAt      time.Time `json:"served_at"`
	AnsweredIndex *int      `json:"answered_index,omitempty"`
	AnswerTimeMs  *int64    `json:"answer_time_ms,omitempty"`
}

// Session is a single quiz attempt.
type Session struct {
	ID           string
	PlayerID     string
	Stake        string
	AnonID       string
	CategoryID   string
	Status       Status
	CurrentIndex int
	Questions    []ServedQuestion
	Score        int
	StartedAt    time.Time
	EndedAt      *time.Time
	TotalMs      int64
}

// Identity returns the lock/cap identity that owns the attempt.
func (s Session) Identity() string {
	if s.Stake != "" {
		return s.Stake
	}
	return s.AnonID
}

// RecomputeScore counts answered indices matching the stored correct
// indices. This is the authoritative score at completion.
func (s Session) RecomputeScore() int {
	score := 0
	for _, q := range s.Questions {
		if q.AnsweredIndex != nil && *q.AnsweredIndex == q.CorrectIndex {
			score++
		}
	}
	return score
}

// Sanitized returns a copy with correct indices and explanations removed,
// safe to return to the client while the session is in play.
func (s Session) Sanitized() Session {
	out := s
	out.Questions = make([]ServedQuestion, len(s.Questions))
	for i, q := range s.Questions {
		q.CorrectIndex = -1
		q.Explanation = ""
		out.Questions[i] = q
	}
	return out
}

// AnswerResult is returned from a single answer submission. The correct
// index and explanation are revealed only here, after the answer committed.
type AnswerResult struct {
	Correct      bool   `json:"correct"`
	CorrectIndex int    `json:"correct_index"`
	Explanation  string `json:"explanation"`
	Score        int    `json:"score"`
}

// CompletionResult is returned from session completion.
type CompletionResult struct {
	SessionID      string `json:"session_id"`
	Status         Status `json:"status"`
	Score          int    `json:"score"`
	TotalQuestions int    `json:"total_questions"`
	IsPerfect      bool   `json:"is_perfect"`
	EligibilityID  string `json:"eligibility_id,omitempty"`
	TotalMs        int64  `json:"total_ms"`
}
