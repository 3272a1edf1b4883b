// Package sessions implements the quiz attempt state machine: timed answer
// validation, daily caps, cooldowns, the single-attempt lock, and the
// handoff to the eligibility ledger and leaderboard at completion.
package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/trivianft/core/internal/app/domain/apperr"
	"github.com/trivianft/core/internal/app/domain/player"
	"github.com/trivianft/core/internal/app/domain/question"
	"github.com/trivianft/core/internal/app/domain/session"
	"github.com/trivianft/core/internal/app/metrics"
	eligsvc "github.com/trivianft/core/internal/app/services/eligibility"
	"github.com/trivianft/core/internal/app/services/leaderboard"
	"github.com/trivianft/core/internal/app/storage"
	"github.com/trivianft/core/internal/kv"
	"github.com/trivianft/core/pkg/logger"
)

// MaxAnswerMs is the per-answer time budget. Enforced on the payload field,
// not the wall clock, to tolerate transport jitter.
const MaxAnswerMs = 10000

// Config carries the tunables of the session engine.
type Config struct {
	DailyLimitConnected int
	DailyLimitGuest     int
	Cooldown            time.Duration
	LockTTL             time.Duration
	HotStateTTL         time.Duration
	// ReuseRatio is the fraction of a draw allowed to repeat already-seen
	// questions when the category pool is large enough to partition.
	ReuseRatio         float64
	ReusePoolThreshold int
	Timezone           *time.Location
}

func (c Config) withDefaults() Config {
	if c.DailyLimitConnected == 0 {
		c.DailyLimitConnected = 10
	}
	if c.DailyLimitGuest == 0 {
		c.DailyLimitGuest = 3
	}
	if c.Cooldown == 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.LockTTL == 0 {
		c.LockTTL = 10 * time.Minute
	}
	if c.HotStateTTL == 0 {
		c.HotStateTTL = 30 * time.Minute
	}
	if c.ReuseRatio == 0 {
		c.ReuseRatio = 0.5
	}
	if c.ReusePoolThreshold == 0 {
		c.ReusePoolThreshold = 1000
	}
	if c.Timezone == nil {
		c.Timezone = time.UTC
	}
	return c
}

// Service is the session engine.
type Service struct {
	store   storage.SessionStore
	kv      kv.Store
	source  QuestionSource
	ledger  *eligsvc.Service
	ladder  *leaderboard.Service
	seasons storage.SeasonStore
	clock   Clock
	rng     RNG
	cfg     Config
	log     *logger.Logger
}

// New constructs a session engine.
func New(store storage.SessionStore, kvStore kv.Store, source QuestionSource, ledger *eligsvc.Service, ladder *leaderboard.Service, seasons storage.SeasonStore, clock Clock, rng RNG, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("sessions")
	}
	if rng == nil {
		rng = NewRNG()
	}
	return &Service{
		store: store, kv: kvStore, source: source, ledger: ledger,
		ladder: ladder, seasons: seasons, clock: clock, rng: rng,
		cfg: cfg.withDefaults(), log: log,
	}
}

func (s *Service) today(now time.Time) string {
	return now.In(s.cfg.Timezone).Format("2006-01-02")
}

func (s *Service) untilMidnight(now time.Time) time.Duration {
	local := now.In(s.cfg.Timezone)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.cfg.Timezone).AddDate(0, 0, 1)
	return midnight.Sub(local)
}

// Start begins a new session for the player in the given category and
// returns it with correct indices scrubbed.
func (s *Service) Start(ctx context.Context, p player.Player, categoryID string) (session.Session, error) {
	now := s.clock.Now().UTC()
	identity := p.Identity()
	if identity == "" {
		return session.Session{}, apperr.New(apperr.KindInput, "IDENTITY_REQUIRED", "player has neither stake nor anon id")
	}

	acquired, err := s.kv.SetNX(ctx, lockKey(identity), "1", s.cfg.LockTTL)
	if err != nil {
		return session.Session{}, fmt.Errorf("acquire attempt lock: %w", err)
	}
	if !acquired {
		return session.Session{}, apperr.New(apperr.KindState, apperr.CodeActiveSessionExists, "another session is already active")
	}
	release := func() {
		if err := s.kv.Del(ctx, lockKey(identity)); err != nil {
			s.log.WithError(err).WithField("identity", identity).Warn("attempt lock release failed; TTL will reap it")
		}
	}

	limit := s.cfg.DailyLimitGuest
	if p.Connected() {
		limit = s.cfg.DailyLimitConnected
	}
	date := s.today(now)
	count, err := s.kv.Incr(ctx, dailyKey(identity, date), s.untilMidnight(now))
	if err != nil {
		release()
		return session.Session{}, fmt.Errorf("daily counter: %w", err)
	}
	if count > int64(limit) {
		release()
		return session.Session{}, apperr.Newf(apperr.KindCapacity, apperr.CodeDailyLimitReached, "daily limit of %d sessions reached", limit)
	}

	if _, exists, err := s.kv.Get(ctx, cooldownKey(identity)); err != nil {
		release()
		return session.Session{}, fmt.Errorf("cooldown check: %w", err)
	} else if exists {
		release()
		return session.Session{}, apperr.New(apperr.KindState, apperr.CodeCooldownActive, "cooldown in effect")
	}

	questions, err := s.draw(ctx, identity, categoryID, date)
	if err != nil {
		release()
		return session.Session{}, err
	}

	served := make([]session.ServedQuestion, len(questions))
	ids := make([]string, len(questions))
	for i, q := range questions {
		served[i] = session.ServedQuestion{
			QuestionID:   q.ID,
			Text:         q.Text,
			Options:      q.Options,
			CorrectIndex: q.CorrectIndex,
			Explanation:  q.Explanation,
			ServedAt:     now,
		}
		ids[i] = q.ID
	}

	sess := session.Session{
		PlayerID:   p.ID,
		Stake:      p.Stake,
		AnonID:     p.AnonID,
		CategoryID: categoryID,
		Status:     session.StatusActive,
		Questions:  served,
		StartedAt:  now,
	}
	sess, err = s.store.CreateSession(ctx, sess)
	if err != nil {
		release()
		return session.Session{}, fmt.Errorf("persist session: %w", err)
	}

	if err := s.writeHotState(ctx, sess); err != nil {
		release()
		return session.Session{}, fmt.Errorf("write hot state: %w", err)
	}
	if err := s.kv.SAdd(ctx, seenKey(identity, categoryID, date), 24*time.Hour, ids...); err != nil {
		s.log.WithError(err).Warn("seen-set write failed")
	}

	metrics.RecordSessionStarted()
	s.log.WithField("session_id", sess.ID).
		WithField("identity", identity).
		WithField("category_id", categoryID).
		Info("session started")
	return sess.Sanitized(), nil
}

// draw selects the ten questions, avoiding the day-scoped seen set. Large
// pools partition into new and reused buckets by the configured ratio.
func (s *Service) draw(ctx context.Context, identity, categoryID, date string) ([]question.Question, error) {
	poolSize, err := s.source.PoolSize(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("pool size: %w", err)
	}

	var picked []question.Question
	if poolSize >= s.cfg.ReusePoolThreshold {
		seen, err := s.kv.SMembers(ctx, seenKey(identity, categoryID, date))
		if err != nil {
			return nil, fmt.Errorf("seen set: %w", err)
		}
		freshCount := session.QuestionCount - int(float64(session.QuestionCount)*s.cfg.ReuseRatio)
		fresh, err := s.source.Draw(ctx, categoryID, freshCount, seen)
		if err != nil {
			return nil, fmt.Errorf("draw fresh: %w", err)
		}
		picked = fresh
		if remaining := session.QuestionCount - len(picked); remaining > 0 {
			exclude := make([]string, len(picked))
			for i, q := range picked {
				exclude[i] = q.ID
			}
			reused, err := s.source.Draw(ctx, categoryID, remaining, exclude)
			if err != nil {
				return nil, fmt.Errorf("draw reused: %w", err)
			}
			picked = append(picked, reused...)
		}
	} else {
		picked, err = s.source.Draw(ctx, categoryID, session.QuestionCount, nil)
		if err != nil {
			return nil, fmt.Errorf("draw: %w", err)
		}
	}

	if len(picked) < session.QuestionCount {
		return nil, apperr.Newf(apperr.KindCapacity, apperr.CodeInsufficientQuestions,
			"category has %d selectable questions, need %d", len(picked), session.QuestionCount)
	}
	picked = picked[:session.QuestionCount]
	s.rng.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	return picked, nil
}

// SubmitAnswer validates and applies one answer against the hot state. The
// correct index and explanation are revealed only in this response.
func (s *Service) SubmitAnswer(ctx context.Context, sessionID string, questionIndex, optionIndex int, timeMs int64) (session.AnswerResult, error) {
	hot, err := s.readHotState(ctx, sessionID)
	if err != nil {
		return session.AnswerResult{}, err
	}
	if hot.Status != session.StatusActive {
		return session.AnswerResult{}, apperr.New(apperr.KindState, apperr.CodeSessionNotActive, "session is not active")
	}
	if hot.CurrentIndex >= len(hot.Questions) {
		return session.AnswerResult{}, apperr.New(apperr.KindState, apperr.CodeSessionNotActive, "all questions answered; complete or forfeit the session")
	}
	if questionIndex != hot.CurrentIndex {
		return session.AnswerResult{}, apperr.Newf(apperr.KindState, apperr.CodeWrongQuestionIndex,
			"expected question %d, got %d", hot.CurrentIndex, questionIndex)
	}
	if timeMs > MaxAnswerMs {
		return session.AnswerResult{}, apperr.Newf(apperr.KindInput, apperr.CodeAnswerTimeout,
			"answer took %dms, limit is %dms", timeMs, MaxAnswerMs)
	}
	if timeMs < 0 {
		return session.AnswerResult{}, apperr.New(apperr.KindInput, apperr.CodeAnswerTimeout, "negative answer time")
	}
	if optionIndex < 0 || optionIndex > 3 {
		return session.AnswerResult{}, apperr.Newf(apperr.KindInput, apperr.CodeInvalidOption, "option index %d out of range", optionIndex)
	}

	q := hot.Questions[questionIndex]
	correct := optionIndex == q.CorrectIndex
	q.AnsweredIndex = &optionIndex
	q.AnswerTimeMs = &timeMs
	hot.Questions[questionIndex] = q
	if correct {
		hot.Score++
	}
	hot.CurrentIndex++
	hot.TotalMs += timeMs

	if err := s.updateHotAnswer(ctx, hot, questionIndex); err != nil {
		return session.AnswerResult{}, fmt.Errorf("update hot state: %w", err)
	}

	metrics.RecordAnswer(correct)
	return session.AnswerResult{
		Correct:      correct,
		CorrectIndex: q.CorrectIndex,
		Explanation:  q.Explanation,
		Score:        hot.Score,
	}, nil
}

// Complete finalizes a fully-answered session.
func (s *Service) Complete(ctx context.Context, sessionID string) (session.CompletionResult, error) {
	return s.finalize(ctx, sessionID, false)
}

// Forfeit abandons a session; the terminal status is forfeit regardless of
// answers so far.
func (s *Service) Forfeit(ctx context.Context, sessionID string) (session.CompletionResult, error) {
	return s.finalize(ctx, sessionID, true)
}

func (s *Service) finalize(ctx context.Context, sessionID string, forfeit bool) (session.CompletionResult, error) {
	now := s.clock.Now().UTC()

	stored, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.CompletionResult{}, err
	}

	final := stored
	if hot, err := s.readHotState(ctx, sessionID); err == nil {
		final.Questions = hot.Questions
		final.CurrentIndex = hot.CurrentIndex
		final.TotalMs = hot.TotalMs
	} else if !apperr.IsKind(err, apperr.KindNotFound) {
		return session.CompletionResult{}, err
	}

	answered := 0
	for _, q := range final.Questions {
		if q.AnsweredIndex != nil {
			answered++
		}
	}
	if !forfeit && answered < session.QuestionCount && !stored.Status.Terminal() {
		return session.CompletionResult{}, apperr.Newf(apperr.KindState, "SESSION_INCOMPLETE",
			"%d of %d questions answered", answered, session.QuestionCount)
	}

	// The recount over stored answers is the authoritative score.
	final.Score = final.RecomputeScore()
	switch {
	case forfeit:
		final.Status = session.StatusForfeit
	case final.Score >= session.WinThreshold:
		final.Status = session.StatusWon
	default:
		final.Status = session.StatusLost
	}
	final.EndedAt = &now

	stored, applied, err := s.store.FinalizeSession(ctx, final)
	if err != nil {
		return session.CompletionResult{}, err
	}
	perfect := stored.Status == session.StatusWon && stored.Score == session.QuestionCount

	result := session.CompletionResult{
		SessionID:      stored.ID,
		Status:         stored.Status,
		Score:          stored.Score,
		TotalQuestions: session.QuestionCount,
		IsPerfect:      perfect,
		TotalMs:        stored.TotalMs,
	}

	// Issue is idempotent on session id, so it runs on replays too; that
	// closes the crash window between the SQL commit and the ledger call.
	if perfect && stored.Stake != "" {
		elig, err := s.ledger.IssueOnPerfect(ctx, stored)
		if err != nil {
			s.log.WithError(err).WithField("session_id", stored.ID).Error("eligibility issue failed")
		} else {
			result.EligibilityID = elig.ID
		}
	}

	if !applied {
		return result, nil
	}

	if stored.Stake != "" {
		s.applyToLeaderboard(ctx, stored, perfect, now)
	}

	identity := stored.Identity()
	if err := s.kv.Set(ctx, cooldownKey(identity), "1", s.cfg.Cooldown); err != nil {
		s.log.WithError(err).Warn("cooldown write failed")
	}
	if err := s.kv.Del(ctx, lockKey(identity), sessionKey(stored.ID)); err != nil {
		s.log.WithError(err).Warn("lock release failed; TTL will reap it")
	}

	metrics.RecordSessionCompleted(string(stored.Status), perfect)
	s.log.WithField("session_id", stored.ID).
		WithField("status", string(stored.Status)).
		WithField("score", stored.Score).
		Info("session completed")
	return result, nil
}

// applyToLeaderboard feeds the completed session into the season ladders.
// The session itself is already committed; failures here are logged and the
// reconciler repairs ladder drift.
func (s *Service) applyToLeaderboard(ctx context.Context, stored session.Session, perfect bool, now time.Time) {
	active, err := s.seasons.ActiveSeason(ctx)
	if err != nil {
		s.log.WithError(err).Debug("no active season; leaderboard skipped")
		return
	}
	points := int64(stored.Score)
	if perfect {
		points += 10
	}
	avg := stored.TotalMs / session.QuestionCount
	_, err = s.ladder.UpdatePoints(ctx, active.ID, stored.CategoryID, stored.Stake, storage.PointsDelta{
		Points:      points,
		Perfect:     perfect,
		AvgAnswerMs: avg,
		CompletedAt: now,
	})
	if err != nil {
		s.log.WithError(err).WithField("session_id", stored.ID).Error("leaderboard update failed")
	}
}

// Get returns the session scrubbed of correct indices. Active sessions are
// served from hot state so the cursor and score are current.
func (s *Service) Get(ctx context.Context, sessionID string) (session.Session, error) {
	if hot, err := s.readHotState(ctx, sessionID); err == nil {
		return hot.Sanitized(), nil
	} else if !apperr.IsKind(err, apperr.KindNotFound) {
		return session.Session{}, err
	}
	stored, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	return stored.Sanitized(), nil
}

// FlagQuestion records a player report against a question.
func (s *Service) FlagQuestion(ctx context.Context, questionID, playerID, reason string) error {
	if questionID == "" || reason == "" {
		return apperr.New(apperr.KindInput, "FLAG_FIELDS_REQUIRED", "question id and reason are required")
	}
	return s.source.Flag(ctx, questionID, playerID, reason)
}

// Hot state layout: one hash per session with scalar fields plus one JSON
// field per served question, so answers update without rewriting the set.

func (s *Service) writeHotState(ctx context.Context, sess session.Session) error {
	fields := map[string]string{
		"status":        string(sess.Status),
		"current_index": strconv.Itoa(sess.CurrentIndex),
		"score":         strconv.Itoa(sess.Score),
		"total_ms":      strconv.FormatInt(sess.TotalMs, 10),
		"player_id":     sess.PlayerID,
		"stake":         sess.Stake,
		"anon_id":       sess.AnonID,
		"category_id":   sess.CategoryID,
		"started_at":    sess.StartedAt.Format(time.RFC3339Nano),
	}
	for i, q := range sess.Questions {
		data, err := json.Marshal(q)
		if err != nil {
			return err
		}
		fields["q:"+strconv.Itoa(i)] = string(data)
	}
	key := sessionKey(sess.ID)
	if err := s.kv.HSet(ctx, key, fields); err != nil {
		return err
	}
	return s.kv.Expire(ctx, key, s.cfg.HotStateTTL)
}

func (s *Service) updateHotAnswer(ctx context.Context, sess session.Session, index int) error {
	data, err := json.Marshal(sess.Questions[index])
	if err != nil {
		return err
	}
	return s.kv.HSet(ctx, sessionKey(sess.ID), map[string]string{
		"q:" + strconv.Itoa(index): string(data),
		"current_index":            strconv.Itoa(sess.CurrentIndex),
		"score":                    strconv.Itoa(sess.Score),
		"total_ms":                 strconv.FormatInt(sess.TotalMs, 10),
	})
}

func (s *Service) readHotState(ctx context.Context, sessionID string) (session.Session, error) {
	fields, err := s.kv.HGetAll(ctx, sessionKey(sessionID))
	if err != nil {
		return session.Session{}, fmt.Errorf("read hot state: %w", err)
	}
	if len(fields) == 0 {
		return session.Session{}, apperr.New(apperr.KindNotFound, apperr.CodeSessionNotFound, "session not found")
	}
	sess := session.Session{
		ID:         sessionID,
		Status:     session.Status(fields["status"]),
		PlayerID:   fields["player_id"],
		Stake:      fields["stake"],
		AnonID:     fields["anon_id"],
		CategoryID: fields["category_id"],
	}
	sess.CurrentIndex, _ = strconv.Atoi(fields["current_index"])
	sess.Score, _ = strconv.Atoi(fields["score"])
	sess.TotalMs, _ = strconv.ParseInt(fields["total_ms"], 10, 64)
	if t, err := time.Parse(time.RFC3339Nano, fields["started_at"]); err == nil {
		sess.StartedAt = t
	}
	sess.Questions = make([]session.ServedQuestion, 0, session.QuestionCount)
	for i := 0; ; i++ {
		raw, ok := fields["q:"+strconv.Itoa(i)]
		if !ok {
			break
		}
		var q session.ServedQuestion
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return session.Session{}, fmt.Errorf("decode hot question %d: %w", i, err)
		}
		sess.Questions = append(sess.Questions, q)
	}
	return sess, nil
}
