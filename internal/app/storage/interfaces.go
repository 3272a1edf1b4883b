// Package storage declares the persistence interfaces consumed by the game
// services. Implementations live in the postgres and memory subpackages.
package storage

import (
	"context"
	"time"

	"github.com/trivianft/core/internal/app/domain/category"
	"github.com/trivianft/core/internal/app/domain/eligibility"
	"github.com/trivianft/core/internal/app/domain/nft"
	"github.com/trivianft/core/internal/app/domain/player"
	"github.com/trivianft/core/internal/app/domain/question"
	"github.com/trivianft/core/internal/app/domain/season"
	"github.com/trivianft/core/internal/app/domain/session"
)

// PlayerStore persists player identities.
type PlayerStore interface {
	UpsertPlayer(ctx context.Context, p player.Player) (player.Player, error)
	GetPlayer(ctx context.Context, id string) (player.Player, error)
	GetPlayerByStake(ctx context.Context, stake string) (player.Player, error)
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
	// UsernamesByStakes resolves display names for leaderboard pages.
	UsernamesByStakes(ctx context.Context, stakes []string) (map[string]string, error)
	// ActiveStakesSince lists stake keys seen since the given time.
	ActiveStakesSince(ctx context.Context, since time.Time) ([]string, error)
}

// CategoryStore reads the category catalog.
type CategoryStore interface {
	GetCategory(ctx context.Context, id string) (category.Category, error)
	GetCategoryBySlug(ctx context.Context, slug string) (category.Category, error)
	ListActiveCategories(ctx context.Context) ([]category.Category, error)
}

// QuestionFlagStore records player reports against questions.
type QuestionFlagStore interface {
	CreateQuestionFlag(ctx context.Context, flag question.Flag) (question.Flag, error)
}

// SessionStore persists quiz attempts. The SQL row is authoritative once a
// session leaves the hot path.
type SessionStore interface {
	CreateSession(ctx context.Context, s session.Session) (session.Session, error)
	GetSession(ctx context.Context, id string) (session.Session, error)
	// FinalizeSession writes terminal state under a row lock. When the row
	// is already terminal it returns the stored session and applied=false,
	// making completion idempotent.
	FinalizeSession(ctx context.Context, s session.Session) (stored session.Session, applied bool, err error)
}

// PointsDelta is one completed session's contribution to a stake's season
// accumulators.
type PointsDelta struct {
	Points      int64
	Perfect     bool
	AvgAnswerMs int64
	CompletedAt time.Time
}

// EligibilityStore is the ledger's persistence: entitlement rows plus the
// catalog stock they draw from.
type EligibilityStore interface {
	// IssueEligibility inserts idempotently on session id; when a row for
	// the session already exists it is returned with created=false.
	IssueEligibility(ctx context.Context, e eligibility.Eligibility) (stored eligibility.Eligibility, created bool, err error)
	GetEligibility(ctx context.Context, id string) (eligibility.Eligibility, error)
	ListActiveEligibilities(ctx context.Context, playerID string, now time.Time) ([]eligibility.Eligibility, error)
	// ExpireDue marks active rows past expiry as expired, returning the count.
	ExpireDue(ctx context.Context, now time.Time) (int, error)
	// ConsumeEligibility atomically marks the eligibility used, reserves one
	// random available catalog item in its category (pending), and inserts
	// the pending mint operation. Rolls back entirely on any failure.
	ConsumeEligibility(ctx context.Context, eligID string, now time.Time, op nft.MintOperation) (nft.MintOperation, nft.CatalogItem, error)
}

// CatalogStore manages mintable artifact stock.
type CatalogStore interface {
	CreateCatalogItem(ctx context.Context, item nft.CatalogItem) (nft.CatalogItem, error)
	GetCatalogItem(ctx context.Context, id string) (nft.CatalogItem, error)
	CountAvailable(ctx context.Context, categoryID string) (int, error)
	SetCatalogCID(ctx context.Context, id, cid string) error
	// ReleaseReservation reverts a pending item to available.
	ReleaseReservation(ctx context.Context, id string) error
}

// AssetStore reads owned on-chain assets.
type AssetStore interface {
	GetAssetByFingerprint(ctx context.Context, fingerprint string) (nft.OwnedAsset, error)
	ListConfirmedAssets(ctx context.Context, stake string) ([]nft.OwnedAsset, error)
}

// MintStore persists mint workflow operations.
type MintStore interface {
	GetMintOperation(ctx context.Context, id string) (nft.MintOperation, error)
	UpdateMintOperation(ctx context.Context, op nft.MintOperation) (nft.MintOperation, error)
	// ListStaleMintOperations finds non-terminal operations not updated
	// since the threshold, for crash recovery.
	ListStaleMintOperations(ctx context.Context, olderThan time.Time) ([]nft.MintOperation, error)
	// CompleteMint is the linearization point: inserts the owned asset,
	// marks the catalog row minted and the operation confirmed, atomically.
	CompleteMint(ctx context.Context, op nft.MintOperation, asset nft.OwnedAsset) error
	// FailMint marks the operation failed and releases the catalog
	// reservation in the same transaction.
	FailMint(ctx context.Context, opID, errMsg, releaseCatalogID string) error
}

// ForgeStore persists forge workflow operations.
type ForgeStore interface {
	CreateForgeOperation(ctx context.Context, op nft.ForgeOperation) (nft.ForgeOperation, error)
	GetForgeOperation(ctx context.Context, id string) (nft.ForgeOperation, error)
	UpdateForgeOperation(ctx context.Context, op nft.ForgeOperation) (nft.ForgeOperation, error)
	ListStaleForgeOperations(ctx context.Context, olderThan time.Time) ([]nft.ForgeOperation, error)
	// CompleteForge inserts the output asset, flips the inputs to burned and
	// marks the operation confirmed, atomically.
	CompleteForge(ctx context.Context, op nft.ForgeOperation, output nft.OwnedAsset, burnedAt time.Time) error
	FailForge(ctx context.Context, opID, errMsg string, needsOperator bool) error
}

// SeasonStore persists seasons.
type SeasonStore interface {
	CreateSeason(ctx context.Context, s season.Season) (season.Season, error)
	GetSeason(ctx context.Context, id string) (season.Season, error)
	ActiveSeason(ctx context.Context) (season.Season, error)
	SetSeasonActive(ctx context.Context, id string, active bool) error
}

// PointsStore persists season point accumulators. Only the leaderboard
// engine mutates these.
type PointsStore interface {
	// ApplySessionResult upserts the stake's accumulators: atomic point and
	// counter increments, running answer-time average, first-achieved set
	// once. Returns the fresh row.
	ApplySessionResult(ctx context.Context, seasonID, stake string, delta PointsDelta) (season.Points, error)
	IncrementNFTCount(ctx context.Context, seasonID, stake string) (season.Points, error)
	GetPoints(ctx context.Context, seasonID, stake string) (season.Points, error)
	ListPoints(ctx context.Context, seasonID string) ([]season.Points, error)
	InitZeroPoints(ctx context.Context, seasonID string, stakes []string) error
}

// SnapshotStore persists append-only leaderboard snapshots.
type SnapshotStore interface {
	HasSnapshot(ctx context.Context, seasonID, date string) (bool, error)
	InsertSnapshot(ctx context.Context, rows []season.SnapshotRow) error
	ListSnapshot(ctx context.Context, seasonID, date string, limit, offset int) ([]season.SnapshotRow, error)
}
