package domain

import "fmt"

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Page is an offset pagination window.
type Page struct {
	Skip  int
	Limit int
}

// Validate enforces skip >= 0 and 1 <= limit <= MaxPageLimit.
func (p Page) Validate() error {
	if p.Skip < 0 {
		return Invalid("skip must be non-negative")
	}
	if p.Limit < 1 || p.Limit > MaxPageLimit {
		return Invalid(fmt.Sprintf("limit must be between 1 and %d", MaxPageLimit))
	}
	return nil
}
