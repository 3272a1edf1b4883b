package nft

import "time"

// Tier identifies where an asset sits in the forge ladder.
type Tier string

const (
	TierCategory         Tier = "category"
	TierCategoryUltimate Tier = "category_ultimate"
	TierMasterUltimate   Tier = "master_ultimate"
	TierSeasonalUltimate Tier = "seasonal_ultimate"
)

// CatalogState is the three-state stock lifecycle of a catalog item.
// An item is counted as stock only while available; pending marks a
// reservation held by an in-flight mint and reverts on workflow failure.
type CatalogState string

const (
	CatalogAvailable CatalogState = "available"
	CatalogPending   CatalogState = "pending"
	CatalogMinted    CatalogState = "minted"
)

// CatalogItem is a pre-registered mintable artifact.
type CatalogItem struct {
	ID          string
	CategoryID  string
	Name        string
	ArtworkKey  string
	MetadataKey string
	ContentCID  string
	State       CatalogState
	Tier        Tier
	CreatedAt   time.Time
}

// AssetStatus is the owned-asset lifecycle. Burned is terminal.
type AssetStatus string

const (
	AssetConfirmed AssetStatus = "confirmed"
	AssetBurned    AssetStatus = "burned"
)

// Source records how an owned asset came to exist.
type Source string

const (
	SourceMint  Source = "mint"
	SourceForge Source = "forge"
)

// OwnedAsset is an on-chain asset recorded as held by a stake identity.
// Fingerprint is globally unique.
type OwnedAsset struct {
	ID          string
	Stake       string
	PolicyID    string
	Fingerprint string
	AssetName   string
	Source      Source
	CategoryID  string
	SeasonID    string
	Tier        Tier
	Status      AssetStatus
	MintedAt    time.Time
	BurnedAt    *time.Time
	Metadata    []byte
}

// OpStatus is the workflow operation lifecycle. Terminal statuses are
// sticky.
type OpStatus string

const (
	OpPending   OpStatus = "pending"
	OpConfirmed OpStatus = "confirmed"
	OpFailed    OpStatus = "failed"
)

// MintOperation tracks one mint workflow instance.
type MintOperation struct {
	ID            string
	EligibilityID string
	CatalogID     string
	PlayerID      string
	Stake         string
	PolicyID      string
	Status        OpStatus
	StepCursor    string
	TxHash        string
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ConfirmedAt   *time.Time
}

// ForgeType selects the forge set-shape rule.
type ForgeType string

const (
	ForgeCategory ForgeType = "category"
	ForgeMaster   ForgeType = "master"
	ForgeSeason   ForgeType = "season"
)

// ForgeOperation tracks one forge workflow instance. NeedsOperator is set
// when inputs burned but the ultimate mint failed; operator tooling must
// resolve it.
type ForgeOperation struct {
	ID                string
	Type              ForgeType
	Stake             string
	CategoryID        string
	SeasonID          string
	InputFingerprints []string
	BurnTxHash        string
	MintTxHash        string
	OutputFingerprint string
	Status            OpStatus
	StepCursor        string
	Error             string
	NeedsOperator     bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ConfirmedAt       *time.Time
}

// CategoryForgeInputs is the input count for category and master forges.
const CategoryForgeInputs = 10

// SeasonForgePerCategory is how many season-tagged assets each active
// category contributes to a season forge.
const SeasonForgePerCategory = 2
