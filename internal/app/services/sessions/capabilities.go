package sessions

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/trivianft/core/internal/app/domain/question"
)

// Clock supplies the wall clock; injected for testability.
type Clock interface {
	Now() time.Time
}

// RNG shuffles served question order.
type RNG interface {
	Shuffle(n int, swap func(i, j int))
}

// QuestionSource supplies quiz questions. Draws are unique within a single
// call and include the correct index and explanation; both stay server-side.
type QuestionSource interface {
	PoolSize(ctx context.Context, categoryID string) (int, error)
	Draw(ctx context.Context, categoryID string, count int, excludeIDs []string) ([]question.Question, error)
	Flag(ctx context.Context, questionID, playerID, reason string) error
}

type lockedRNG struct {
	mu sync.Mutex
	r  *mrand.Rand
}

// NewRNG returns a concurrency-safe RNG seeded from crypto/rand.
func NewRNG() RNG {
	var seed [8]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return &lockedRNG{r: mrand.New(mrand.NewSource(time.Now().UnixNano()))}
	}
	return &lockedRNG{r: mrand.New(mrand.NewSource(int64(binary.LittleEndian.Uint64(seed[:]))))}
}

func (l *lockedRNG) Shuffle(n int, swap func(i, j int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.r.Shuffle(n, swap)
}
