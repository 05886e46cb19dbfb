// Package ids issues identifiers for persisted records.
package ids

import "github.com/google/uuid"

// Provider issues unique identifiers.
type Provider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs a Provider that issues UUIDv7 identifiers.
func NewUUIDProvider() Provider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Sequence hands out a fixed list of identifiers; it is meant for tests and seeding.
type Sequence struct {
	values []string
	index  int
}

// NewSequence returns a Provider yielding values in order, then failing.
func NewSequence(values ...string) *Sequence {
	return &Sequence{values: append([]string(nil), values...)}
}

func (s *Sequence) NewID() (string, error) {
	if s.index >= len(s.values) {
		return "", errExhausted
	}
	value := s.values[s.index]
	s.index++
	return value, nil
}
