package ids

import "github.com/google/uuid"

// Provider issues time-ordered UUIDv7 identifiers. The time ordering matters
// for audit entries, where the id breaks same-second ordering ties.
type Provider struct{}

// NewProvider constructs a Provider.
func NewProvider() *Provider {
	return &Provider{}
}

// NewID returns a fresh UUIDv7 string.
func (p *Provider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
