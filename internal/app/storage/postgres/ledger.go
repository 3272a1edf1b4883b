package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/trivianft/core/internal/app/domain/apperr"
	"github.com/trivianft/core/internal/app/domain/eligibility"
	"github.com/trivianft/core/internal/app/domain/nft"
	"github.com/trivianft/core/internal/app/storage"
)

var (
	_ storage.EligibilityStore = (*Store)(nil)
	_ storage.CatalogStore     = (*Store)(nil)
	_ storage.AssetStore       = (*Store)(nil)
	_ storage.MintStore        = (*Store)(nil)
	_ storage.ForgeStore       = (*Store)(nil)
)

// EligibilityStore -----------------------------------------------------------

type eligibilityRow struct {
	ID         string         `db:"id"`
	PlayerID   string         `db:"player_id"`
	Stake      sql.NullString `db:"stake"`
	Type       string         `db:"type"`
	CategoryID sql.NullString `db:"category_id"`
	SeasonID   sql.NullString `db:"season_id"`
	SessionID  string         `db:"session_id"`
	Status     string         `db:"status"`
	ExpiresAt  time.Time      `db:"expires_at"`
	CreatedAt  time.Time      `db:"created_at"`
	UsedAt     sql.NullTime   `db:"used_at"`
}

func (r eligibilityRow) toDomain() eligibility.Eligibility {
	e := eligibility.Eligibility{
		ID:         r.ID,
		PlayerID:   r.PlayerID,
		Stake:      r.Stake.String,
		Type:       eligibility.Type(r.Type),
		CategoryID: r.CategoryID.String,
		SeasonID:   r.SeasonID.String,
		SessionID:  r.SessionID,
		Status:     eligibility.Status(r.Status),
		ExpiresAt:  r.ExpiresAt,
		CreatedAt:  r.CreatedAt,
	}
	if r.UsedAt.Valid {
		t := r.UsedAt.Time
		e.UsedAt = &t
	}
	return e
}

const eligibilityColumns = `id, player_id, stake, type, category_id, season_id, session_id, status, expires_at, created_at, used_at`

func (s *Store) IssueEligibility(ctx context.Context, e eligibility.Eligibility) (eligibility.Eligibility, bool, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO eligibilities (id, player_id, stake, type, category_id, season_id, session_id, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'active', $8, now())
		ON CONFLICT (session_id) DO NOTHING
	`, e.ID, e.PlayerID, nullable(e.Stake), string(e.Type), nullable(e.CategoryID), nullable(e.SeasonID), e.SessionID, e.ExpiresAt.UTC())
	if err != nil {
		return eligibility.Eligibility{}, false, err
	}
	inserted, _ := res.RowsAffected()

	var row eligibilityRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT `+eligibilityColumns+` FROM eligibilities WHERE session_id = $1
	`, e.SessionID); err != nil {
		return eligibility.Eligibility{}, false, err
	}
	return row.toDomain(), inserted == 1, nil
}

func (s *Store) GetEligibility(ctx context.Context, id string) (eligibility.Eligibility, error) {
	var row eligibilityRow
	err := s.db.GetContext(ctx, &row, `SELECT `+eligibilityColumns+` FROM eligibilities WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return eligibility.Eligibility{}, apperr.New(apperr.KindNotFound, apperr.CodeEligibilityNotFound, "eligibility not found")
	}
	if err != nil {
		return eligibility.Eligibility{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListActiveEligibilities(ctx context.Context, playerID string, now time.Time) ([]eligibility.Eligibility, error) {
	var rows []eligibilityRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+eligibilityColumns+` FROM eligibilities
		WHERE player_id = $1 AND status = 'active' AND expires_at > $2
		ORDER BY created_at
	`, playerID, now.UTC()); err != nil {
		return nil, err
	}
	out := make([]eligibility.Eligibility, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE eligibilities SET status = 'expired'
		WHERE status = 'active' AND expires_at < $1
	`, now.UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) ConsumeEligibility(ctx context.Context, eligID string, now time.Time, op nft.MintOperation) (nft.MintOperation, nft.CatalogItem, error) {
	var item nft.CatalogItem
	err := s.tx(ctx, func(tx *sqlx.Tx) error {
		var row eligibilityRow
		err := tx.GetContext(ctx, &row, `
			SELECT `+eligibilityColumns+` FROM eligibilities WHERE id = $1 FOR UPDATE
		`, eligID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.KindNotFound, apperr.CodeEligibilityNotFound, "eligibility not found")
		}
		if err != nil {
			return err
		}
		e := row.toDomain()
		switch {
		case e.Status == eligibility.StatusUsed:
			return apperr.New(apperr.KindState, apperr.CodeEligibilityUsed, "eligibility already used")
		case e.Status == eligibility.StatusExpired || e.Expired(now):
			return apperr.New(apperr.KindState, apperr.CodeEligibilityExpired, "eligibility expired")
		}

		var cat catalogRow
		err = tx.GetContext(ctx, &cat, `
			SELECT `+catalogColumns+` FROM nft_catalog
			WHERE category_id = $1 AND state = 'available'
			ORDER BY random()
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`, e.CategoryID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.KindCapacity, apperr.CodeNoStock, "no catalog stock for category")
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE nft_catalog SET state = 'pending' WHERE id = $1
		`, cat.ID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE eligibilities SET status = 'used', used_at = $2 WHERE id = $1
		`, eligID, now.UTC()); err != nil {
			return err
		}

		if op.ID == "" {
			op.ID = uuid.NewString()
		}
		op.EligibilityID = eligID
		op.CatalogID = cat.ID
		op.Status = nft.OpPending
		op.CreatedAt = now.UTC()
		op.UpdatedAt = now.UTC()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mints (id, eligibility_id, catalog_id, player_id, stake, policy_id, status, step_cursor, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8, $8)
		`, op.ID, op.EligibilityID, op.CatalogID, op.PlayerID, op.Stake, op.PolicyID, op.StepCursor, op.CreatedAt); err != nil {
			return err
		}
		item = cat.toDomain()
		item.State = nft.CatalogPending
		return nil
	})
	if err != nil {
		return nft.MintOperation{}, nft.CatalogItem{}, err
	}
	return op, item, nil
}

// CatalogStore ---------------------------------------------------------------

type catalogRow struct {
	ID          string         `db:"id"`
	CategoryID  string         `db:"category_id"`
	Name        string         `db:"name"`
	ArtworkKey  string         `db:"artwork_key"`
	MetadataKey string         `db:"metadata_key"`
	ContentCID  sql.NullString `db:"content_cid"`
	State       string         `db:"state"`
	Tier        string         `db:"tier"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r catalogRow) toDomain() nft.CatalogItem {
	return nft.CatalogItem{
		ID:          r.ID,
		CategoryID:  r.CategoryID,
		Name:        r.Name,
		ArtworkKey:  r.ArtworkKey,
		MetadataKey: r.MetadataKey,
		ContentCID:  r.ContentCID.String,
		State:       nft.CatalogState(r.State),
		Tier:        nft.Tier(r.Tier),
		CreatedAt:   r.CreatedAt,
	}
}

const catalogColumns = `id, category_id, name, artwork_key, metadata_key, content_cid, state, tier, created_at`

func (s *Store) CreateCatalogItem(ctx context.Context, item nft.CatalogItem) (nft.CatalogItem, error) {
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nft_catalog (id, category_id, name, artwork_key, metadata_key, content_cid, state, tier, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.CategoryID, item.Name, item.ArtworkKey, item.MetadataKey, nullable(item.ContentCID), string(item.State), string(item.Tier), item.CreatedAt)
	if err != nil {
		return nft.CatalogItem{}, err
	}
	return item, nil
}

func (s *Store) GetCatalogItem(ctx context.Context, id string) (nft.CatalogItem, error) {
	var row catalogRow
	err := s.db.GetContext(ctx, &row, `SELECT `+catalogColumns+` FROM nft_catalog WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nft.CatalogItem{}, apperr.Newf(apperr.KindNotFound, "CATALOG_NOT_FOUND", "catalog item %s not found", id)
	}
	if err != nil {
		return nft.CatalogItem{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) CountAvailable(ctx context.Context, categoryID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM nft_catalog WHERE category_id = $1 AND state = 'available'
	`, categoryID)
	return n, err
}

func (s *Store) SetCatalogCID(ctx context.Context, id, cid string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE nft_catalog SET content_cid = $2 WHERE id = $1`, id, cid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Newf(apperr.KindNotFound, "CATALOG_NOT_FOUND", "catalog item %s not found", id)
	}
	return nil
}

func (s *Store) ReleaseReservation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE nft_catalog SET state = 'available' WHERE id = $1 AND state = 'pending'
	`, id)
	return err
}

// AssetStore -----------------------------------------------------------------

type assetRow struct {
	ID          string         `db:"id"`
	Stake       string         `db:"stake"`
	PolicyID    string         `db:"policy_id"`
	Fingerprint string         `db:"fingerprint"`
	AssetName   string         `db:"asset_name"`
	Source      string         `db:"source"`
	CategoryID  sql.NullString `db:"category_id"`
	SeasonID    sql.NullString `db:"season_id"`
	Tier        string         `db:"tier"`
	Status      string         `db:"status"`
	MintedAt    time.Time      `db:"minted_at"`
	BurnedAt    sql.NullTime   `db:"burned_at"`
	Metadata    []byte         `db:"metadata"`
}

func (r assetRow) toDomain() nft.OwnedAsset {
	a := nft.OwnedAsset{
		ID:          r.ID,
		Stake:       r.Stake,
		PolicyID:    r.PolicyID,
		Fingerprint: r.Fingerprint,
		AssetName:   r.AssetName,
		Source:      nft.Source(r.Source),
		CategoryID:  r.CategoryID.String,
		SeasonID:    r.SeasonID.String,
		Tier:        nft.Tier(r.Tier),
		Status:      nft.AssetStatus(r.Status),
		MintedAt:    r.MintedAt,
		Metadata:    r.Metadata,
	}
	if r.BurnedAt.Valid {
		t := r.BurnedAt.Time
		a.BurnedAt = &t
	}
	return a
}

const assetColumns = `id, stake, policy_id, fingerprint, asset_name, source, category_id, season_id, tier, status, minted_at, burned_at, metadata`

func (s *Store) GetAssetByFingerprint(ctx context.Context, fingerprint string) (nft.OwnedAsset, error) {
	var row assetRow
	err := s.db.GetContext(ctx, &row, `SELECT `+assetColumns+` FROM player_nfts WHERE fingerprint = $1`, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nft.OwnedAsset{}, apperr.Newf(apperr.KindNotFound, "ASSET_NOT_FOUND", "asset %s not found", fingerprint)
	}
	if err != nil {
		return nft.OwnedAsset{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListConfirmedAssets(ctx context.Context, stake string) ([]nft.OwnedAsset, error) {
	var rows []assetRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+assetColumns+` FROM player_nfts
		WHERE stake = $1 AND status = 'confirmed'
		ORDER BY minted_at
	`, stake); err != nil {
		return nil, err
	}
	out := make([]nft.OwnedAsset, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func insertAsset(ctx context.Context, tx *sqlx.Tx, a nft.OwnedAsset) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO player_nfts (id, stake, policy_id, fingerprint, asset_name, source, category_id, season_id, tier, status, minted_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'confirmed', $10, $11)
	`, a.ID, a.Stake, a.PolicyID, a.Fingerprint, a.AssetName, string(a.Source),
		nullable(a.CategoryID), nullable(a.SeasonID), string(a.Tier), a.MintedAt.UTC(), a.Metadata)
	if isUniqueViolation(err) {
		return apperr.Newf(apperr.KindConflict, "FINGERPRINT_EXISTS", "fingerprint %s already owned", a.Fingerprint)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// MintStore ------------------------------------------------------------------

type mintRow struct {
	ID            string         `db:"id"`
	EligibilityID string         `db:"eligibility_id"`
	CatalogID     string         `db:"catalog_id"`
	PlayerID      string         `db:"player_id"`
	Stake         string         `db:"stake"`
	PolicyID      string         `db:"policy_id"`
	Status        string         `db:"status"`
	StepCursor    sql.NullString `db:"step_cursor"`
	TxHash        sql.NullString `db:"tx_hash"`
	Error         sql.NullString `db:"error"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
	ConfirmedAt   sql.NullTime   `db:"confirmed_at"`
}

func (r mintRow) toDomain() nft.MintOperation {
	op := nft.MintOperation{
		ID:            r.ID,
		EligibilityID: r.EligibilityID,
		CatalogID:     r.CatalogID,
		PlayerID:      r.PlayerID,
		Stake:         r.Stake,
		PolicyID:      r.PolicyID,
		Status:        nft.OpStatus(r.Status),
		StepCursor:    r.StepCursor.String,
		TxHash:        r.TxHash.String,
		Error:         r.Error.String,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.ConfirmedAt.Valid {
		t := r.ConfirmedAt.Time
		op.ConfirmedAt = &t
	}
	return op
}

const mintColumns = `id, eligibility_id, catalog_id, player_id, stake, policy_id, status, step_cursor, tx_hash, error, created_at, updated_at, confirmed_at`

func (s *Store) GetMintOperation(ctx context.Context, id string) (nft.MintOperation, error) {
	var row mintRow
	err := s.db.GetContext(ctx, &row, `SELECT `+mintColumns+` FROM mints WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nft.MintOperation{}, apperr.New(apperr.KindNotFound, apperr.CodeOperationNotFound, "mint operation not found")
	}
	if err != nil {
		return nft.MintOperation{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateMintOperation(ctx context.Context, op nft.MintOperation) (nft.MintOperation, error) {
	op.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE mints
		SET status = $2, step_cursor = $3, tx_hash = $4, error = $5, updated_at = $6
		WHERE id = $1 AND status = 'pending'
	`, op.ID, string(op.Status), nullable(op.StepCursor), nullable(op.TxHash), nullable(op.Error), op.UpdatedAt)
	if err != nil {
		return nft.MintOperation{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		stored, err := s.GetMintOperation(ctx, op.ID)
		if err != nil {
			return nft.MintOperation{}, err
		}
		return nft.MintOperation{}, apperr.Newf(apperr.KindState, "OPERATION_TERMINAL", "mint operation %s is %s", op.ID, stored.Status)
	}
	return op, nil
}

func (s *Store) ListStaleMintOperations(ctx context.Context, olderThan time.Time) ([]nft.MintOperation, error) {
	var rows []mintRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+mintColumns+` FROM mints
		WHERE status = 'pending' AND updated_at < $1
		ORDER BY created_at
	`, olderThan.UTC()); err != nil {
		return nil, err
	}
	out := make([]nft.MintOperation, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) CompleteMint(ctx context.Context, op nft.MintOperation, asset nft.OwnedAsset) error {
	return s.tx(ctx, func(tx *sqlx.Tx) error {
		var status string
		err := tx.GetContext(ctx, &status, `SELECT status FROM mints WHERE id = $1 FOR UPDATE`, op.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.KindNotFound, apperr.CodeOperationNotFound, "mint operation not found")
		}
		if err != nil {
			return err
		}
		if status != string(nft.OpPending) {
			return apperr.Newf(apperr.KindState, "OPERATION_TERMINAL", "mint operation %s is %s", op.ID, status)
		}
		if err := insertAsset(ctx, tx, asset); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE nft_catalog SET state = 'minted' WHERE id = $1
		`, op.CatalogID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE mints
			SET status = 'confirmed', tx_hash = $2, step_cursor = $3, updated_at = now(), confirmed_at = now()
			WHERE id = $1
		`, op.ID, nullable(op.TxHash), nullable(op.StepCursor))
		return err
	})
}

func (s *Store) FailMint(ctx context.Context, opID, errMsg, releaseCatalogID string) error {
	return s.tx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE mints SET status = 'failed', error = $2, updated_at = now() WHERE id = $1
		`, opID, errMsg); err != nil {
			return err
		}
		if releaseCatalogID != "" {
			if _, err := tx.ExecContext(ctx, `
				UPDATE nft_catalog SET state = 'available' WHERE id = $1 AND state = 'pending'
			`, releaseCatalogID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ForgeStore -----------------------------------------------------------------

type forgeRow struct {
	ID                string         `db:"id"`
	Type              string         `db:"type"`
	Stake             string         `db:"stake"`
	CategoryID        sql.NullString `db:"category_id"`
	SeasonID          sql.NullString `db:"season_id"`
	InputFingerprints pq.StringArray `db:"input_fingerprints"`
	BurnTxHash        sql.NullString `db:"burn_tx_hash"`
	MintTxHash        sql.NullString `db:"mint_tx_hash"`
	OutputFingerprint sql.NullString `db:"output_fingerprint"`
	Status            string         `db:"status"`
	StepCursor        sql.NullString `db:"step_cursor"`
	Error             sql.NullString `db:"error"`
	NeedsOperator     bool           `db:"needs_operator"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	ConfirmedAt       sql.NullTime   `db:"confirmed_at"`
}

func (r forgeRow) toDomain() nft.ForgeOperation {
	op := nft.ForgeOperation{
		ID:                r.ID,
		Type:              nft.ForgeType(r.Type),
		Stake:             r.Stake,
		CategoryID:        r.CategoryID.String,
		SeasonID:          r.SeasonID.String,
		InputFingerprints: append([]string(nil), r.InputFingerprints...),
		BurnTxHash:        r.BurnTxHash.String,
		MintTxHash:        r.MintTxHash.String,
		OutputFingerprint: r.OutputFingerprint.String,
		Status:            nft.OpStatus(r.Status),
		StepCursor:        r.StepCursor.String,
		Error:             r.Error.String,
		NeedsOperator:     r.NeedsOperator,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.ConfirmedAt.Valid {
		t := r.ConfirmedAt.Time
		op.ConfirmedAt = &t
	}
	return op
}

const forgeColumns = `id, type, stake, category_id, season_id, input_fingerprints, burn_tx_hash, mint_tx_hash, output_fingerprint, status, step_cursor, error, needs_operator, created_at, updated_at, confirmed_at`

func (s *Store) CreateForgeOperation(ctx context.Context, op nft.ForgeOperation) (nft.ForgeOperation, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	op.Status = nft.OpPending
	op.CreatedAt = now
	op.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forge_operations (id, type, stake, category_id, season_id, input_fingerprints, status, step_cursor, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8, $8)
	`, op.ID, string(op.Type), op.Stake, nullable(op.CategoryID), nullable(op.SeasonID),
		pq.Array(op.InputFingerprints), nullable(op.StepCursor), now)
	if err != nil {
		return nft.ForgeOperation{}, err
	}
	return op, nil
}

func (s *Store) GetForgeOperation(ctx context.Context, id string) (nft.ForgeOperation, error) {
	var row forgeRow
	err := s.db.GetContext(ctx, &row, `SELECT `+forgeColumns+` FROM forge_operations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nft.ForgeOperation{}, apperr.New(apperr.KindNotFound, apperr.CodeOperationNotFound, "forge operation not found")
	}
	if err != nil {
		return nft.ForgeOperation{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateForgeOperation(ctx context.Context, op nft.ForgeOperation) (nft.ForgeOperation, error) {
	op.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE forge_operations
		SET status = $2, step_cursor = $3, burn_tx_hash = $4, mint_tx_hash = $5,
		    output_fingerprint = $6, error = $7, needs_operator = $8, updated_at = $9
		WHERE id = $1 AND status = 'pending'
	`, op.ID, string(op.Status), nullable(op.StepCursor), nullable(op.BurnTxHash), nullable(op.MintTxHash),
		nullable(op.OutputFingerprint), nullable(op.Error), op.NeedsOperator, op.UpdatedAt)
	if err != nil {
		return nft.ForgeOperation{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		stored, err := s.GetForgeOperation(ctx, op.ID)
		if err != nil {
			return nft.ForgeOperation{}, err
		}
		return nft.ForgeOperation{}, apperr.Newf(apperr.KindState, "OPERATION_TERMINAL", "forge operation %s is %s", op.ID, stored.Status)
	}
	return op, nil
}

func (s *Store) ListStaleForgeOperations(ctx context.Context, olderThan time.Time) ([]nft.ForgeOperation, error) {
	var rows []forgeRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+forgeColumns+` FROM forge_operations
		WHERE status = 'pending' AND updated_at < $1
		ORDER BY created_at
	`, olderThan.UTC()); err != nil {
		return nil, err
	}
	out := make([]nft.ForgeOperation, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) CompleteForge(ctx context.Context, op nft.ForgeOperation, output nft.OwnedAsset, burnedAt time.Time) error {
	return s.tx(ctx, func(tx *sqlx.Tx) error {
		var status string
		err := tx.GetContext(ctx, &status, `SELECT status FROM forge_operations WHERE id = $1 FOR UPDATE`, op.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.KindNotFound, apperr.CodeOperationNotFound, "forge operation not found")
		}
		if err != nil {
			return err
		}
		if status != string(nft.OpPending) {
			return apperr.Newf(apperr.KindState, "OPERATION_TERMINAL", "forge operation %s is %s", op.ID, status)
		}
		if err := insertAsset(ctx, tx, output); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE player_nfts SET status = 'burned', burned_at = $2
			WHERE fingerprint = ANY($1) AND status = 'confirmed'
		`, pq.Array(op.InputFingerprints), burnedAt.UTC()); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE forge_operations
			SET status = 'confirmed', burn_tx_hash = $2, mint_tx_hash = $3, output_fingerprint = $4,
			    step_cursor = $5, updated_at = now(), confirmed_at = now()
			WHERE id = $1
		`, op.ID, nullable(op.BurnTxHash), nullable(op.MintTxHash), nullable(op.OutputFingerprint), nullable(op.StepCursor))
		return err
	})
}

func (s *Store) FailForge(ctx context.Context, opID, errMsg string, needsOperator bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE forge_operations
		SET status = 'failed', error = $2, needs_operator = $3, updated_at = now()
		WHERE id = $1
	`, opID, errMsg, needsOperator)
	return err
}
