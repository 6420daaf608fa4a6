package store

import (
	"github.com/google/uuid"
)

// SessionIDGenerator produces archive session identifiers.
type SessionIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 session IDs.
//
// UUIDv7 embeds a timestamp in the most significant bits, so sessions
// created later sort later even across databases.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Session describes one archived run.
type Session struct {
	ID     string `json:"id"`
	Seq    int64  `json:"seq"`
	Label  string `json:"label"`
	Config string `json:"config"`
}

// Dispatch is one accepted transition of the agent group.
type Dispatch struct {
	Signal uint16 `json:"signal"`
	State  string `json:"state"`
	Offers int    `json:"offers"`
}
