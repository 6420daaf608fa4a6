package testutil

// FixedSessionGenerator returns the same session ID every time.
//
// This enables deterministic archives and golden snapshot comparison: the
// same scenario run twice produces byte-identical store contents.
//
// Thread-safety: FixedSessionGenerator is stateless and safe for concurrent use.
type FixedSessionGenerator struct {
	id string
}

// NewFixedSessionGenerator creates a generator for the given ID.
//
// If id is empty, Generate() returns "test-session-default".
func NewFixedSessionGenerator(id string) *FixedSessionGenerator {
	if id == "" {
		id = "test-session-default"
	}
	return &FixedSessionGenerator{id: id}
}

// Generate returns the fixed session ID.
//
// Implements store.SessionIDGenerator.
func (g *FixedSessionGenerator) Generate() string {
	return g.id
}
