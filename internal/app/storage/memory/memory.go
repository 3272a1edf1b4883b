// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and primarily intended for tests and local
// development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trivianft/core/internal/app/domain/apperr"
	"github.com/trivianft/core/internal/app/domain/category"
	"github.com/trivianft/core/internal/app/domain/eligibility"
	"github.com/trivianft/core/internal/app/domain/nft"
	"github.com/trivianft/core/internal/app/domain/player"
	"github.com/trivianft/core/internal/app/domain/question"
	"github.com/trivianft/core/internal/app/domain/season"
	"github.com/trivianft/core/internal/app/domain/session"
	"github.com/trivianft/core/internal/app/storage"
)

// Store implements every storage interface in memory.
type Store struct {
	mu             sync.RWMutex
	players        map[string]player.Player
	playersByStake map[string]string
	playersByAnon  map[string]string
	categories     map[string]category.Category
	questions      map[string]question.Question
	flags          map[string]question.Flag
	sessions       map[string]session.Session
	eligibilities  map[string]eligibility.Eligibility
	eligBySession  map[string]string
	catalog        map[string]nft.CatalogItem
	assets         map[string]nft.OwnedAsset // by fingerprint
	mints          map[string]nft.MintOperation
	forges         map[string]nft.ForgeOperation
	seasons        map[string]season.Season
	points         map[string]season.Points // seasonID|stake
	snapshots      map[string][]season.SnapshotRow
}

var (
	_ storage.PlayerStore       = (*Store)(nil)
	_ storage.CategoryStore     = (*Store)(nil)
	_ storage.QuestionFlagStore = (*Store)(nil)
	_ storage.SessionStore      = (*Store)(nil)
	_ storage.EligibilityStore  = (*Store)(nil)
	_ storage.CatalogStore      = (*Store)(nil)
	_ storage.AssetStore        = (*Store)(nil)
	_ storage.MintStore         = (*Store)(nil)
	_ storage.ForgeStore        = (*Store)(nil)
	_ storage.SeasonStore       = (*Store)(nil)
	_ storage.PointsStore       = (*Store)(nil)
	_ storage.SnapshotStore     = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		players:        make(map[string]player.Player),
		playersByStake: make(map[string]string),
		playersByAnon:  make(map[string]string),
		categories:     make(map[string]category.Category),
		questions:      make(map[string]question.Question),
		flags:          make(map[string]question.Flag),
		sessions:       make(map[string]session.Session),
		eligibilities:  make(map[string]eligibility.Eligibility),
		eligBySession:  make(map[string]string),
		catalog:        make(map[string]nft.CatalogItem),
		assets:         make(map[string]nft.OwnedAsset),
		mints:          make(map[string]nft.MintOperation),
		forges:         make(map[string]nft.ForgeOperation),
		seasons:        make(map[string]season.Season),
		points:         make(map[string]season.Points),
		snapshots:      make(map[string][]season.SnapshotRow),
	}
}

func pointsKey(seasonID, stake string) string { return seasonID + "|" + stake }

// PlayerStore ----------------------------------------------------------------

func (s *Store) UpsertPlayer(_ context.Context, p player.Player) (player.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		if p.Stake != "" {
			if id, ok := s.playersByStake[p.Stake]; ok {
				p.ID = id
			}
		} else if p.AnonID != "" {
			if id, ok := s.playersByAnon[p.AnonID]; ok {
				p.ID = id
			}
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
		p.CreatedAt = time.Now().UTC()
	} else if existing, ok := s.players[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
		if p.Username == "" {
			p.Username = existing.Username
		}
	}
	p.LastSeenAt = time.Now().UTC()
	s.players[p.ID] = p
	if p.Stake != "" {
		s.playersByStake[p.Stake] = p.ID
	}
	if p.AnonID != "" {
		s.playersByAnon[p.AnonID] = p.ID
	}
	return p, nil
}

func (s *Store) GetPlayer(_ context.Context, id string) (player.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return player.Player{}, apperr.Newf(apperr.KindNotFound, "PLAYER_NOT_FOUND", "player %s not found", id)
	}
	return p, nil
}

func (s *Store) GetPlayerByStake(_ context.Context, stake string) (player.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.playersByStake[stake]
	if !ok {
		return player.Player{}, apperr.Newf(apperr.KindNotFound, "PLAYER_NOT_FOUND", "stake %s not found", stake)
	}
	return s.players[id], nil
}

func (s *Store) TouchLastSeen(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "PLAYER_NOT_FOUND", "player %s not found", id)
	}
	p.LastSeenAt = at.UTC()
	s.players[id] = p
	return nil
}

func (s *Store) UsernamesByStakes(_ context.Context, stakes []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(stakes))
	for _, stake := range stakes {
		if id, ok := s.playersByStake[stake]; ok {
			out[stake] = s.players[id].Username
		}
	}
	return out, nil
}

func (s *Store) ActiveStakesSince(_ context.Context, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, p := range s.players {
		if p.Stake != "" && !p.LastSeenAt.Before(since) {
			out = append(out, p.Stake)
		}
	}
	sort.Strings(out)
	return out, nil
}

// CategoryStore --------------------------------------------------------------

// SeedCategory inserts a category row for tests and local fixtures.
func (s *Store) SeedCategory(c category.Category) category.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.categories[c.ID] = c
	return c
}

func (s *Store) GetCategory(_ context.Context, id string) (category.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok {
		return category.Category{}, apperr.Newf(apperr.KindNotFound, "CATEGORY_NOT_FOUND", "category %s not found", id)
	}
	return c, nil
}

func (s *Store) GetCategoryBySlug(_ context.Context, slug string) (category.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.categories {
		if strings.EqualFold(c.Slug, slug) {
			return c, nil
		}
	}
	return category.Category{}, apperr.Newf(apperr.KindNotFound, "CATEGORY_NOT_FOUND", "category %s not found", slug)
}

func (s *Store) ListActiveCategories(_ context.Context) ([]category.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []category.Category
	for _, c := range s.categories {
		if c.Active {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// Question source ------------------------------------------------------------

// SeedQuestion inserts a question row for tests and local development.
func (s *Store) SeedQuestion(q question.Question) question.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	q.CreatedAt = time.Now().UTC()
	s.questions[q.ID] = q
	return q
}

func (s *Store) PoolSize(_ context.Context, categoryID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, q := range s.questions {
		if q.CategoryID == categoryID {
			n++
		}
	}
	return n, nil
}

func (s *Store) Draw(_ context.Context, categoryID string, count int, excludeIDs []string) ([]question.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	var out []question.Question
	for _, q := range s.questions {
		if len(out) == count {
			break
		}
		if q.CategoryID == categoryID && !excluded[q.ID] {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *Store) Flag(ctx context.Context, questionID, playerID, reason string) error {
	_, err := s.CreateQuestionFlag(ctx, question.Flag{
		QuestionID: questionID,
		PlayerID:   playerID,
		Reason:     reason,
	})
	return err
}

// QuestionFlagStore ----------------------------------------------------------

func (s *Store) CreateQuestionFlag(_ context.Context, flag question.Flag) (question.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if flag.ID == "" {
		flag.ID = uuid.NewString()
	}
	flag.CreatedAt = time.Now().UTC()
	s.flags[flag.ID] = flag
	return flag, nil
}

// SessionStore ---------------------------------------------------------------

func cloneSession(in session.Session) session.Session {
	out := in
	out.Questions = append([]session.ServedQuestion(nil), in.Questions...)
	for i, q := range in.Questions {
		if q.AnsweredIndex != nil {
			v := *q.AnsweredIndex
			out.Questions[i].AnsweredIndex = &v
		}
		if q.AnswerTimeMs != nil {
			v := *q.AnswerTimeMs
			out.Questions[i].AnswerTimeMs = &v
		}
	}
	if in.EndedAt != nil {
		v := *in.EndedAt
		out.EndedAt = &v
	}
	return out
}

func (s *Store) CreateSession(_ context.Context, sess session.Session) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	} else if _, exists := s.sessions[sess.ID]; exists {
		return session.Session{}, apperr.Newf(apperr.KindConflict, "SESSION_EXISTS", "session %s already exists", sess.ID)
	}
	s.sessions[sess.ID] = cloneSession(sess)
	return cloneSession(sess), nil
}

func (s *Store) GetSession(_ context.Context, id string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return session.Session{}, apperr.New(apperr.KindNotFound, apperr.CodeSessionNotFound, "session not found")
	}
	return cloneSession(sess), nil
}

func (s *Store) FinalizeSession(_ context.Context, sess session.Session) (session.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[sess.ID]
	if !ok {
		return session.Session{}, false, apperr.New(apperr.KindNotFound, apperr.CodeSessionNotFound, "session not found")
	}
	if stored.Status.Terminal() {
		return cloneSession(stored), false, nil
	}
	s.sessions[sess.ID] = cloneSession(sess)
	return cloneSession(sess), true, nil
}

// EligibilityStore -----------------------------------------------------------

func (s *Store) IssueEligibility(_ context.Context, e eligibility.Eligibility) (eligibility.Eligibility, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.eligBySession[e.SessionID]; ok {
		return s.eligibilities[id], false, nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = time.Now().UTC()
	e.Status = eligibility.StatusActive
	s.eligibilities[e.ID] = e
	s.eligBySession[e.SessionID] = e.ID
	return e, true, nil
}

func (s *Store) GetEligibility(_ context.Context, id string) (eligibility.Eligibility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.eligibilities[id]
	if !ok {
		return eligibility.Eligibility{}, apperr.New(apperr.KindNotFound, apperr.CodeEligibilityNotFound, "eligibility not found")
	}
	return e, nil
}

func (s *Store) ListActiveEligibilities(_ context.Context, playerID string, now time.Time) ([]eligibility.Eligibility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []eligibility.Eligibility
	for _, e := range s.eligibilities {
		if e.PlayerID == playerID && e.Status == eligibility.StatusActive && now.Before(e.ExpiresAt) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ExpireDue(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.eligibilities {
		if e.Status == eligibility.StatusActive && now.After(e.ExpiresAt) {
			e.Status = eligibility.StatusExpired
			s.eligibilities[id] = e
			n++
		}
	}
	return n, nil
}

func (s *Store) ConsumeEligibility(_ context.Context, eligID string, now time.Time, op nft.MintOperation) (nft.MintOperation, nft.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.eligibilities[eligID]
	if !ok {
		return nft.MintOperation{}, nft.CatalogItem{}, apperr.New(apperr.KindNotFound, apperr.CodeEligibilityNotFound, "eligibility not found")
	}
	switch {
	case e.Status == eligibility.StatusUsed:
		return nft.MintOperation{}, nft.CatalogItem{}, apperr.New(apperr.KindState, apperr.CodeEligibilityUsed, "eligibility already used")
	case e.Status == eligibility.StatusExpired || now.After(e.ExpiresAt):
		return nft.MintOperation{}, nft.CatalogItem{}, apperr.New(apperr.KindState, apperr.CodeEligibilityExpired, "eligibility expired")
	}

	// Deterministic stand-in for the SQL store's random SKIP LOCKED pick.
	var ids []string
	for id, item := range s.catalog {
		if item.CategoryID == e.CategoryID && item.State == nft.CatalogAvailable {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nft.MintOperation{}, nft.CatalogItem{}, apperr.New(apperr.KindCapacity, apperr.CodeNoStock, "no catalog stock for category")
	}
	sort.Strings(ids)
	item := s.catalog[ids[0]]
	item.State = nft.CatalogPending
	s.catalog[item.ID] = item

	usedAt := now.UTC()
	e.Status = eligibility.StatusUsed
	e.UsedAt = &usedAt
	s.eligibilities[eligID] = e

	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	op.EligibilityID = eligID
	op.CatalogID = item.ID
	op.Status = nft.OpPending
	op.CreatedAt = usedAt
	op.UpdatedAt = usedAt
	s.mints[op.ID] = op
	return op, item, nil
}

// CatalogStore ---------------------------------------------------------------

func (s *Store) CreateCatalogItem(_ context.Context, item nft.CatalogItem) (nft.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.State == "" {
		item.State = nft.CatalogAvailable
	}
	if item.Tier == "" {
		item.Tier = nft.TierCategory
	}
	item.CreatedAt = time.Now().UTC()
	s.catalog[item.ID] = item
	return item, nil
}

func (s *Store) GetCatalogItem(_ context.Context, id string) (nft.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.catalog[id]
	if !ok {
		return nft.CatalogItem{}, apperr.Newf(apperr.KindNotFound, "CATALOG_NOT_FOUND", "catalog item %s not found", id)
	}
	return item, nil
}

func (s *Store) CountAvailable(_ context.Context, categoryID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, item := range s.catalog {
		if item.CategoryID == categoryID && item.State == nft.CatalogAvailable {
			n++
		}
	}
	return n, nil
}

func (s *Store) SetCatalogCID(_ context.Context, id, cid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.catalog[id]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "CATALOG_NOT_FOUND", "catalog item %s not found", id)
	}
	item.ContentCID = cid
	s.catalog[id] = item
	return nil
}

func (s *Store) ReleaseReservation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.catalog[id]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "CATALOG_NOT_FOUND", "catalog item %s not found", id)
	}
	if item.State == nft.CatalogPending {
		item.State = nft.CatalogAvailable
		s.catalog[id] = item
	}
	return nil
}

// AssetStore -----------------------------------------------------------------

// SeedAsset inserts an owned asset row for tests.
func (s *Store) SeedAsset(a nft.OwnedAsset) (nft.OwnedAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertAssetLocked(a)
}

func (s *Store) insertAssetLocked(a nft.OwnedAsset) (nft.OwnedAsset, error) {
	if a.Fingerprint == "" {
		return nft.OwnedAsset{}, fmt.Errorf("asset fingerprint is required")
	}
	if _, exists := s.assets[a.Fingerprint]; exists {
		return nft.OwnedAsset{}, apperr.Newf(apperr.KindConflict, "FINGERPRINT_EXISTS", "fingerprint %s already owned", a.Fingerprint)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = nft.AssetConfirmed
	}
	if a.MintedAt.IsZero() {
		a.MintedAt = time.Now().UTC()
	}
	s.assets[a.Fingerprint] = a
	return a, nil
}

func (s *Store) GetAssetByFingerprint(_ context.Context, fingerprint string) (nft.OwnedAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[fingerprint]
	if !ok {
		return nft.OwnedAsset{}, apperr.Newf(apperr.KindNotFound, "ASSET_NOT_FOUND", "asset %s not found", fingerprint)
	}
	return a, nil
}

func (s *Store) ListConfirmedAssets(_ context.Context, stake string) ([]nft.OwnedAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []nft.OwnedAsset
	for _, a := range s.assets {
		if a.Stake == stake && a.Status == nft.AssetConfirmed {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

// MintStore ------------------------------------------------------------------

func (s *Store) GetMintOperation(_ context.Context, id string) (nft.MintOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.mints[id]
	if !ok {
		return nft.MintOperation{}, apperr.New(apperr.KindNotFound, apperr.CodeOperationNotFound, "mint operation not found")
	}
	return op, nil
}

func (s *Store) UpdateMintOperation(_ context.Context, op nft.MintOperation) (nft.MintOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.mints[op.ID]
	if !ok {
		return nft.MintOperation{}, apperr.New(apperr.KindNotFound, apperr.CodeOperationNotFound, "mint operation not found")
	}
	if stored.Status != nft.OpPending {
		return nft.MintOperation{}, apperr.Newf(apperr.KindState, "OPERATION_TERMINAL", "mint operation %s is %s", op.ID, stored.Status)
	}
	op.CreatedAt = stored.CreatedAt
	op.UpdatedAt = time.Now().UTC()
	s.mints[op.ID] = op
	return op, nil
}

func (s *Store) ListStaleMintOperations(_ context.Context, olderThan time.Time) ([]nft.MintOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []nft.MintOperation
	for _, op := range s.mints {
		if op.Status == nft.OpPending && op.UpdatedAt.Before(olderThan) {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CompleteMint(_ context.Context, op nft.MintOperation, asset nft.OwnedAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.mints[op.ID]
	if !ok {
		return apperr.New(apperr.KindNotFound, apperr.CodeOperationNotFound, "mint operation not found")
	}
	if stored.Status != nft.OpPending {
		return apperr.Newf(apperr.KindState, "OPERATION_TERMINAL", "mint operation %s is %s", op.ID, stored.Status)
	}
	if _, err := s.insertAssetLocked(asset); err != nil {
		return err
	}
	if item, ok := s.catalog[op.CatalogID]; ok {
		item.State = nft.CatalogMinted
		s.catalog[item.ID] = item
	}
	now := time.Now().UTC()
	op.Status = nft.OpConfirmed
	op.UpdatedAt = now
	op.ConfirmedAt = &now
	s.mints[op.ID] = op
	return nil
}

func (s *Store) FailMint(_ context.Context, opID, errMsg, releaseCatalogID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.mints[opID]
	if !ok {
		return apperr.New(apperr.KindNotFound, apperr.CodeOperationNotFound, "mint operation not found")
	}
	op.Status = nft.OpFailed
	op.Error = errMsg
	op.UpdatedAt = time.Now().UTC()
	s.mints[opID] = op
	if releaseCatalogID != "" {
		if item, ok := s.catalog[releaseCatalogID]; ok && item.State == nft.CatalogPending {
			item.State = nft.CatalogAvailable
			s.catalog[item.ID] = item
		}
	}
	return nil
}

// ForgeStore -----------------------------------------------------------------

func cloneForge(op nft.ForgeOperation) nft.ForgeOperation {
	op.InputFingerprints = append([]string(nil), op.InputFingerprints...)
	return op
}

func (s *Store) CreateForgeOperation(_ context.Context, op nft.ForgeOperation) (nft.ForgeOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	op.Status = nft.OpPending
	op.CreatedAt = now
	op.UpdatedAt = now
	s.forges[op.ID] = cloneForge(op)
	return cloneForge(op), nil
}

func (s *Store) GetForgeOperation(_ context.Context, id string) (nft.ForgeOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.forges[id]
	if !ok {
		return nft.ForgeOperation{}, apperr.New(apperr.KindNotFound, apperr.CodeOperationNotFound, "forge operation not found")
	}
	return cloneForge(op), nil
}

func (s *Store) UpdateForgeOperation(_ context.Context, op nft.ForgeOperation) (nft.ForgeOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.forges[op.ID]
	if !ok {
		return nft.ForgeOperation{}, apperr.New(apperr.KindNotFound, apperr.CodeOperationNotFound, "forge operation not found")
	}
	if stored.Status != nft.OpPending {
		return nft.ForgeOperation{}, apperr.Newf(apperr.KindState, "OPERATION_TERMINAL", "forge operation %s is %s", op.ID, stored.Status)
	}
	op.CreatedAt = stored.CreatedAt
	op.UpdatedAt = time.Now().UTC()
	s.forges[op.ID] = cloneForge(op)
	return cloneForge(op), nil
}

func (s *Store) ListStaleForgeOperations(_ context.Context, olderThan time.Time) ([]nft.ForgeOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []nft.ForgeOperation
	for _, op := range s.forges {
		if op.Status == nft.OpPending && op.UpdatedAt.Before(olderThan) {
			out = append(out, cloneForge(op))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CompleteForge(_ context.Context, op nft.ForgeOperation, output nft.OwnedAsset, burnedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.forges[op.ID]
	if !ok {
		return apperr.New(apperr.KindNotFound, apperr.CodeOperationNotFound, "forge operation not found")
	}
	if stored.Status != nft.OpPending {
		return apperr.Newf(apperr.KindState, "OPERATION_TERMINAL", "forge operation %s is %s", op.ID, stored.Status)
	}
	if _, err := s.insertAssetLocked(output); err != nil {
		return err
	}
	at := burnedAt.UTC()
	for _, fp := range op.InputFingerprints {
		if a, ok := s.assets[fp]; ok {
			a.Status = nft.AssetBurned
			a.BurnedAt = &at
			s.assets[fp] = a
		}
	}
	now := time.Now().UTC()
	op.Status = nft.OpConfirmed
	op.UpdatedAt = now
	op.ConfirmedAt = &now
	s.forges[op.ID] = cloneForge(op)
	return nil
}

func (s *Store) FailForge(_ context.Context, opID, errMsg string, needsOperator bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.forges[opID]
	if !ok {
		return apperr.New(apperr.KindNotFound, apperr.CodeOperationNotFound, "forge operation not found")
	}
	op.Status = nft.OpFailed
	op.Error = errMsg
	op.NeedsOperator = needsOperator
	op.UpdatedAt = time.Now().UTC()
	s.forges[opID] = op
	return nil
}

// SeasonStore ----------------------------------------------------------------

func (s *Store) CreateSeason(_ context.Context, season0 season.Season) (season.Season, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if season0.ID == "" {
		return season.Season{}, fmt.Errorf("season id is required")
	}
	if _, exists := s.seasons[season0.ID]; exists {
		return season.Season{}, apperr.Newf(apperr.KindConflict, "SEASON_EXISTS", "season %s already exists", season0.ID)
	}
	season0.CreatedAt = time.Now().UTC()
	s.seasons[season0.ID] = season0
	return season0, nil
}

func (s *Store) GetSeason(_ context.Context, id string) (season.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sn, ok := s.seasons[id]
	if !ok {
		return season.Season{}, apperr.New(apperr.KindNotFound, apperr.CodeSeasonNotFound, "season not found")
	}
	return sn, nil
}

func (s *Store) ActiveSeason(_ context.Context) (season.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sn := range s.seasons {
		if sn.Active {
			return sn, nil
		}
	}
	return season.Season{}, apperr.New(apperr.KindNotFound, apperr.CodeSeasonNotFound, "no active season")
}

func (s *Store) SetSeasonActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn, ok := s.seasons[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, apperr.CodeSeasonNotFound, "season not found")
	}
	sn.Active = active
	s.seasons[id] = sn
	return nil
}

// PointsStore ----------------------------------------------------------------

func (s *Store) ApplySessionResult(_ context.Context, seasonID, stake string, delta storage.PointsDelta) (season.Points, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pointsKey(seasonID, stake)
	p, ok := s.points[key]
	if !ok {
		p = season.Points{SeasonID: seasonID, Stake: stake}
	}
	// Running average over sessions.
	p.AvgAnswerMs = (p.AvgAnswerMs*p.SessionsUsed + delta.AvgAnswerMs) / (p.SessionsUsed + 1)
	p.Points += delta.Points
	p.SessionsUsed++
	if delta.Perfect {
		p.PerfectScores++
		if p.FirstAchievedAt == nil {
			at := delta.CompletedAt.UTC()
			p.FirstAchievedAt = &at
		}
	}
	p.UpdatedAt = time.Now().UTC()
	s.points[key] = p
	return p, nil
}

func (s *Store) IncrementNFTCount(_ context.Context, seasonID, stake string) (season.Points, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pointsKey(seasonID, stake)
	p, ok := s.points[key]
	if !ok {
		p = season.Points{SeasonID: seasonID, Stake: stake}
	}
	p.NFTsMinted++
	p.UpdatedAt = time.Now().UTC()
	s.points[key] = p
	return p, nil
}

func (s *Store) GetPoints(_ context.Context, seasonID, stake string) (season.Points, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.points[pointsKey(seasonID, stake)]
	if !ok {
		return season.Points{}, apperr.Newf(apperr.KindNotFound, "POINTS_NOT_FOUND", "no points for %s in %s", stake, seasonID)
	}
	return p, nil
}

func (s *Store) ListPoints(_ context.Context, seasonID string) ([]season.Points, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []season.Points
	for _, p := range s.points {
		if p.SeasonID == seasonID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stake < out[j].Stake })
	return out, nil
}

func (s *Store) InitZeroPoints(_ context.Context, seasonID string, stakes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stake := range stakes {
		key := pointsKey(seasonID, stake)
		if _, exists := s.points[key]; !exists {
			s.points[key] = season.Points{SeasonID: seasonID, Stake: stake, UpdatedAt: time.Now().UTC()}
		}
	}
	return nil
}

// SnapshotStore --------------------------------------------------------------

func snapshotKey(seasonID, date string) string { return seasonID + "|" + date }

func (s *Store) HasSnapshot(_ context.Context, seasonID, date string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.snapshots[snapshotKey(seasonID, date)]
	return ok && len(rows) > 0, nil
}

func (s *Store) InsertSnapshot(_ context.Context, rows []season.SnapshotRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		key := snapshotKey(row.SeasonID, row.SnapshotDate)
		row.CreatedAt = time.Now().UTC()
		s.snapshots[key] = append(s.snapshots[key], row)
	}
	return nil
}

func (s *Store) ListSnapshot(_ context.Context, seasonID, date string, limit, offset int) ([]season.SnapshotRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := append([]season.SnapshotRow(nil), s.snapshots[snapshotKey(seasonID, date)]...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Rank < rows[j].Rank })
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}
