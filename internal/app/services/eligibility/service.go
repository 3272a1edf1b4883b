// Package eligibility implements the entitlement ledger: perfect sessions
// earn one-shot, time-bounded mint entitlements drawn against category stock.
package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/trivianft/core/internal/app/domain/apperr"
	"github.com/trivianft/core/internal/app/domain/eligibility"
	"github.com/trivianft/core/internal/app/domain/nft"
	"github.com/trivianft/core/internal/app/domain/session"
	"github.com/trivianft/core/internal/app/storage"
	"github.com/trivianft/core/pkg/logger"
)

// Clock supplies the wall clock; injected for testability.
type Clock interface {
	Now() time.Time
}

// Service manages eligibility issue, validation and consumption.
type Service struct {
	store   storage.EligibilityStore
	catalog storage.CatalogStore
	clock   Clock
	log     *logger.Logger
}

// New constructs the ledger service.
func New(store storage.EligibilityStore, catalog storage.CatalogStore, clock Clock, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("eligibility")
	}
	return &Service{store: store, catalog: catalog, clock: clock, log: log}
}

// IssueOnPerfect grants a category eligibility for a perfect session.
// Connected players get the 60-minute window, guests 25 minutes. Idempotent
// on session id: a replay returns the original row.
func (s *Service) IssueOnPerfect(ctx context.Context, sess session.Session) (eligibility.Eligibility, error) {
	now := s.clock.Now().UTC()
	window := eligibility.GuestWindow
	if sess.Stake != "" {
		window = eligibility.ConnectedWindow
	}
	e := eligibility.Eligibility{
		PlayerID:   sess.PlayerID,
		Stake:      sess.Stake,
		Type:       eligibility.TypeCategory,
		CategoryID: sess.CategoryID,
		SessionID:  sess.ID,
		ExpiresAt:  now.Add(window),
	}
	stored, created, err := s.store.IssueEligibility(ctx, e)
	if err != nil {
		return eligibility.Eligibility{}, fmt.Errorf("issue eligibility: %w", err)
	}
	if created {
		s.log.WithField("eligibility_id", stored.ID).
			WithField("session_id", sess.ID).
			WithField("category_id", sess.CategoryID).
			Info("eligibility issued")
	}
	return stored, nil
}

// IssueSeasonPrize grants the season-type prize eligibility to the season's
// top player. Idempotent per season via a synthetic session key.
func (s *Service) IssueSeasonPrize(ctx context.Context, seasonID, playerID, stake string) (eligibility.Eligibility, error) {
	now := s.clock.Now().UTC()
	e := eligibility.Eligibility{
		PlayerID:  playerID,
		Stake:     stake,
		Type:      eligibility.TypeSeason,
		SeasonID:  seasonID,
		SessionID: "season-prize:" + seasonID,
		ExpiresAt: now.Add(eligibility.ConnectedWindow),
	}
	stored, created, err := s.store.IssueEligibility(ctx, e)
	if err != nil {
		return eligibility.Eligibility{}, fmt.Errorf("issue season prize: %w", err)
	}
	if created {
		s.log.WithField("eligibility_id", stored.ID).
			WithField("season_id", seasonID).
			WithField("stake", stake).
			Info("season prize eligibility issued")
	}
	return stored, nil
}

// ListActive returns the player's unexpired active eligibilities.
func (s *Service) ListActive(ctx context.Context, playerID string) ([]eligibility.Eligibility, error) {
	return s.store.ListActiveEligibilities(ctx, playerID, s.clock.Now().UTC())
}

// Validate checks an eligibility is consumable right now.
func (s *Service) Validate(ctx context.Context, eligID string) (eligibility.Eligibility, error) {
	e, err := s.store.GetEligibility(ctx, eligID)
	if err != nil {
		return eligibility.Eligibility{}, err
	}
	switch {
	case e.Status == eligibility.StatusUsed:
		return eligibility.Eligibility{}, apperr.New(apperr.KindState, apperr.CodeEligibilityUsed, "eligibility already used")
	case e.Status == eligibility.StatusExpired || e.Expired(s.clock.Now().UTC()):
		return eligibility.Eligibility{}, apperr.New(apperr.KindState, apperr.CodeEligibilityExpired, "eligibility expired")
	}
	return e, nil
}

// CheckStock reports whether the category has at least one available item.
func (s *Service) CheckStock(ctx context.Context, categoryID string) (bool, error) {
	n, err := s.catalog.CountAvailable(ctx, categoryID)
	if err != nil {
		return false, fmt.Errorf("count stock: %w", err)
	}
	return n > 0, nil
}

// Consume atomically marks the eligibility used, reserves one random
// available catalog item in its category and records the pending mint
// operation. Nothing is lost on failure: the whole transaction rolls back.
func (s *Service) Consume(ctx context.Context, eligID string, op nft.MintOperation) (nft.MintOperation, nft.CatalogItem, error) {
	op, item, err := s.store.ConsumeEligibility(ctx, eligID, s.clock.Now().UTC(), op)
	if err != nil {
		return nft.MintOperation{}, nft.CatalogItem{}, err
	}
	s.log.WithField("eligibility_id", eligID).
		WithField("mint_id", op.ID).
		WithField("catalog_id", item.ID).
		Info("eligibility consumed")
	return op, item, nil
}

// ReleaseReservation reverts a pending catalog item to available; the mint
// workflow calls it when an instance fails before its linearization point.
func (s *Service) ReleaseReservation(ctx context.Context, catalogID string) error {
	return s.catalog.ReleaseReservation(ctx, catalogID)
}

// SweepExpired marks overdue active rows expired, returning the count.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	n, err := s.store.ExpireDue(ctx, s.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire due: %w", err)
	}
	if n > 0 {
		s.log.WithField("count", n).Info("expired eligibilities swept")
	}
	return n, nil
}
