// Package testutil provides hand-rolled capability mocks shared by service
// tests: a settable clock, a deterministic RNG, a seeded question bank and
// scripted chain, blob and content-addressing fakes.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trivianft/core/internal/app/domain/question"
	"github.com/trivianft/core/internal/chain"
)

// Clock is a settable test clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at the given instant.
func NewClock(now time.Time) *Clock { return &Clock{now: now} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to an instant.
func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// StaticRNG performs no shuffling, keeping draw order deterministic.
type StaticRNG struct{}

func (StaticRNG) Shuffle(int, func(i, j int)) {}

// QuestionBank is an in-memory question source.
type QuestionBank struct {
	mu        sync.Mutex
	questions map[string][]question.Question
	flags     []question.Flag
}

// NewQuestionBank creates an empty bank.
func NewQuestionBank() *QuestionBank {
	return &QuestionBank{questions: make(map[string][]question.Question)}
}

// Seed adds questions to a category pool.
func (b *QuestionBank) Seed(categoryID string, qs ...question.Question) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.questions[categoryID] = append(b.questions[categoryID], qs...)
}

// SeedN seeds n questions whose correct answer is always option correctIndex.
func (b *QuestionBank) SeedN(categoryID string, n, correctIndex int) {
	for i := 0; i < n; i++ {
		b.Seed(categoryID, question.Question{
			ID:           fmt.Sprintf("%s-q%d", categoryID, i),
			CategoryID:   categoryID,
			Text:         fmt.Sprintf("question %d", i),
			Options:      [4]string{"a", "b", "c", "d"},
			CorrectIndex: correctIndex,
			Explanation:  fmt.Sprintf("because %d", i),
		})
	}
}

func (b *QuestionBank) PoolSize(_ context.Context, categoryID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.questions[categoryID]), nil
}

func (b *QuestionBank) Draw(_ context.Context, categoryID string, count int, excludeIDs []string) ([]question.Question, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	var out []question.Question
	for _, q := range b.questions[categoryID] {
		if len(out) == count {
			break
		}
		if !excluded[q.ID] {
			out = append(out, q)
		}
	}
	return out, nil
}

func (b *QuestionBank) Flag(_ context.Context, questionID, playerID, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flags = append(b.flags, question.Flag{QuestionID: questionID, PlayerID: playerID, Reason: reason})
	return nil
}

// Flags returns the recorded flags.
func (b *QuestionBank) Flags() []question.Flag {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]question.Flag(nil), b.flags...)
}

// Chain is a scripted Blockchain capability. Zero value confirms every
// transaction on the first poll.
type Chain struct {
	mu sync.Mutex

	// BuildErr and SignErr fail the corresponding call once and are then
	// cleared, modeling transient faults.
	BuildErr error
	SignErr  error
	// SubmitErrs are consumed one per Submit call; nil entries succeed.
	SubmitErrs []error
	// ConfirmAfter is how many confirmation polls return 0 before 1.
	ConfirmAfter int

	submits   int
	polls     map[string]int
	Submitted [][]byte
}

func (c *Chain) BuildTx(_ context.Context, env *chain.TxEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.BuildErr; err != nil {
		c.BuildErr = nil
		return err
	}
	env.Payload = []byte("payload:" + string(env.Type) + ":" + env.AssetName)
	return nil
}

func (c *Chain) Sign(_ context.Context, env *chain.TxEnvelope, keyRef string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.SignErr; err != nil {
		c.SignErr = nil
		return err
	}
	env.Signed = append([]byte("signed:"+keyRef+":"), env.Payload...)
	return nil
}

func (c *Chain) Submit(_ context.Context, signed []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.SubmitErrs) > 0 {
		err := c.SubmitErrs[0]
		c.SubmitErrs = c.SubmitErrs[1:]
		if err != nil {
			return "", err
		}
	}
	c.submits++
	c.Submitted = append(c.Submitted, signed)
	return fmt.Sprintf("tx-%d", c.submits), nil
}

func (c *Chain) GetConfirmations(_ context.Context, txHash string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.polls == nil {
		c.polls = make(map[string]int)
	}
	c.polls[txHash]++
	if c.polls[txHash] > c.ConfirmAfter {
		return 1, nil
	}
	return 0, nil
}

func (c *Chain) GetAssetFingerprint(_ context.Context, policyID, assetName string) (string, error) {
	return chain.Fingerprint(policyID, assetName)
}

// SubmitCount reports how many transactions were accepted.
func (c *Chain) SubmitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submits
}

// BlobStore is an in-memory blob store.
type BlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewBlobStore creates a blob store pre-filled with the given keys.
func NewBlobStore(blobs map[string][]byte) *BlobStore {
	if blobs == nil {
		blobs = make(map[string][]byte)
	}
	return &BlobStore{blobs: blobs}
}

func (b *BlobStore) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", key)
	}
	return append([]byte(nil), data...), nil
}

func (b *BlobStore) Put(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = append([]byte(nil), data...)
	return nil
}

// Pinner is a deterministic content-addressing fake.
type Pinner struct {
	mu   sync.Mutex
	pins int
	// Err fails the next Pin once.
	Err error
}

func (p *Pinner) Pin(_ context.Context, data []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.Err; err != nil {
		p.Err = nil
		return "", err
	}
	p.pins++
	return fmt.Sprintf("bafy-test-%d-%d", p.pins, len(data)), nil
}

// Secrets is a map-backed secret store.
type Secrets map[string][]byte

func (s Secrets) Get(_ context.Context, name string) ([]byte, error) {
	data, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("secret %s not found", name)
	}
	return data, nil
}
