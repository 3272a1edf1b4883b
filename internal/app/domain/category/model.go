package category

import "time"

// Category is a quiz catalog row. Code is the 3-5 uppercase ASCII token used
// in on-chain asset names.
type Category struct {
	ID        string
	Slug      string
	Name      string
	Code      string
	Active    bool
	CreatedAt time.Time
}
