// Package idgen produces identifiers for workflows, tasks, and agents.
package idgen

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator yields unique identifiers. Implementations must be safe for
// concurrent use.
type Generator interface {
	NewID() string
}

// UUIDGenerator generates random UUIDs, optionally truncated.
type UUIDGenerator struct {
	// Length is the number of leading characters kept. Zero or negative
	// keeps the full 36-character form.
	Length int
}

// NewUUIDGenerator returns a generator keeping length characters of each UUID.
func NewUUIDGenerator(length int) *UUIDGenerator {
	return &UUIDGenerator{Length: length}
}

// NewID returns a new identifier.
func (g *UUIDGenerator) NewID() string {
	id := uuid.NewString()
	if g.Length > 0 && g.Length < len(id) {
		return id[:g.Length]
	}
	return id
}

// Sequence yields prefix-1, prefix-2, ... Useful in tests where ids must be
// predictable.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequence returns a sequence generator with the given prefix.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// NewID returns the next identifier in the sequence.
func (s *Sequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}
