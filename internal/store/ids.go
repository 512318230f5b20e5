package store

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces execution ids. Execution ids identify stored runs
// only; they never enter the ledger, so they do not affect determinism.
type IDGenerator interface {
	NewID() (string, error)
}

// UUIDv7Generator generates time-ordered UUIDv7 ids.
type UUIDv7Generator struct{}

// NewID implements IDGenerator.
func (UUIDv7Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate execution id: %w", err)
	}
	return id.String(), nil
}

// FixedGenerator returns a predictable sequence of ids ("<prefix>-1",
// "<prefix>-2", ...). Intended for tests and golden output.
type FixedGenerator struct {
	Prefix string

	mu  sync.Mutex
	seq int
}

// NewID implements IDGenerator.
func (g *FixedGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	prefix := g.Prefix
	if prefix == "" {
		prefix = "exec"
	}
	return fmt.Sprintf("%s-%d", prefix, g.seq), nil
}
