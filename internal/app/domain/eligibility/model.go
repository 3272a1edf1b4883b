package eligibility

import "time"

// Type distinguishes what an eligibility entitles the holder to mint.
type Type string

const (
	TypeCategory Type = "category"
	TypeMaster   Type = "master"
	TypeSeason   Type = "season"
)

// Status is the one-way eligibility lifecycle: active -> used | expired.
type Status string

const (
	StatusActive  Status = "active"
	StatusUsed    Status = "used"
	StatusExpired Status = "expired"
)

// Expiry windows from issue time.
const (
	ConnectedWindow = 60 * time.Minute
	GuestWindow     = 25 * time.Minute
)

// Eligibility is a one-shot, time-bounded entitlement to mint.
type Eligibility struct {
	ID         string
	PlayerID   string
	Stake      string
	Type       Type
	CategoryID string
	SeasonID   string
	SessionID  string
	Status     Status
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UsedAt     *time.Time
}

// Expired reports whether the wall clock has passed the expiry.
func (e Eligibility) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
