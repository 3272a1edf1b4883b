// Package workflow runs the multi-step mint and forge pipelines: durable
// operations stepped through chain capabilities with bounded retries, cursor
// checkpoints and compensation on failure.
package workflow

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/blake2b"

	"github.com/trivianft/core/internal/app/domain/apperr"
)

// BlobStore reads stored artwork and metadata blobs by key.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// ContentAddressing pins a blob and returns its content id.
type ContentAddressing interface {
	Pin(ctx context.Context, data []byte) (string, error)
}

// Clock supplies the wall clock; injected for testability.
type Clock interface {
	Now() time.Time
}

// Config carries the workflow tunables shared by mint and forge.
type Config struct {
	// PolicyID is the minting policy all game assets are issued under.
	PolicyID string
	// SigningKeyRef names the policy signing key in the secret store.
	SigningKeyRef string

	RetryInitial time.Duration
	RetryMax     time.Duration
	// MaxAttempts bounds each step, first try included.
	MaxAttempts uint64

	// StaleAfter is how long a pending operation may sit untouched before the
	// recovery scanner resumes it.
	StaleAfter   time.Duration
	ScanInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetryInitial == 0 {
		c.RetryInitial = time.Second
	}
	if c.RetryMax == 0 {
		c.RetryMax = 60 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 2 * time.Minute
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = 30 * time.Second
	}
	return c
}

// step is one checkpointed unit of a pipeline. skip reports whether a durable
// artifact already proves the step ran; run must be safe to re-run after a
// crash that lost the checkpoint.
type step struct {
	name string
	skip func() bool
	run  func(ctx context.Context) error
}

// runSteps executes the pipeline in order, persisting the cursor after each
// completed step. The terminal step writes the confirmed row itself, so no
// checkpoint follows it. Transient capability errors retry with exponential
// backoff; everything else aborts immediately.
func runSteps(ctx context.Context, cfg Config, steps []step, checkpoint func(ctx context.Context, cursor string) error) error {
	for i, st := range steps {
		if st.skip != nil && st.skip() {
			continue
		}
		if err := retryStep(ctx, cfg, st); err != nil {
			return err
		}
		if i == len(steps)-1 {
			break
		}
		if err := checkpoint(ctx, st.name); err != nil {
			return err
		}
	}
	return nil
}

func retryStep(ctx context.Context, cfg Config, st step) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.RetryInitial
	bo.MaxInterval = cfg.RetryMax
	bo.MaxElapsedTime = 0

	attempt := func() error {
		err := st.run(ctx)
		if err == nil {
			return nil
		}
		if apperr.IsRetriable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, cfg.MaxAttempts-1), ctx))
}

// opHexID derives a stable 8-char hex id from an operation id, so a recovered
// run rebuilds the same asset name it started with.
func opHexID(opID string) string {
	sum := blake2b.Sum256([]byte(opID))
	return hex.EncodeToString(sum[:4])
}
