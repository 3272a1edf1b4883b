package player

import "time"

// Player is a game identity: either a connected wallet (stake key) or a
// server-assigned guest. Exactly one of Stake and AnonID is set.
type Player struct {
	ID         string
	Stake      string
	AnonID     string
	Username   string
	Email      string
	PaymentKey string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// Connected reports whether the player is bound to a stake key.
func (p Player) Connected() bool { return p.Stake != "" }

// Identity returns the stable identifier used for locks, caps and cooldowns.
func (p Player) Identity() string {
	if p.Stake != "" {
		return p.Stake
	}
	return p.AnonID
}
