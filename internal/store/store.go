// Package store persists the knowledge bank. Backends load and save the
// whole bank at once; callers hold the only writer.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/scbrown/transcripts/internal/model"
)

// ErrCorrupt is returned when a persisted bank exists but cannot be read.
// Callers must not reinitialize the store without explicit confirmation.
var ErrCorrupt = errors.New("knowledge bank store is corrupt")

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// Store is the persistence interface for the knowledge bank.
type Store interface {
	// Load returns the persisted bank, or an empty bank if nothing has
	// been saved yet. It never writes.
	Load(ctx context.Context) (*model.KnowledgeBank, error)

	// Save replaces the persisted bank with b atomically.
	Save(ctx context.Context, b *model.KnowledgeBank) error

	// Stats returns summary counts without loading every row.
	Stats(ctx context.Context) (Stats, error)

	// Close releases any resources held by the store.
	Close() error
}

// Stats holds summary counts about a persisted bank.
type Stats struct {
	Entries      int            `json:"entries"`
	Sessions     int            `json:"sessions"`
	Observations int            `json:"observations"`
	ByCategory   map[string]int `json:"by_category"`
}

// Open returns the backend named by kind at path.
func Open(kind, path string) (Store, error) {
	switch kind {
	case BackendSQLite, "":
		return New(path)
	case BackendJSON:
		return NewJSON(path)
	}
	return nil, fmt.Errorf("unknown bank backend %q (valid: sqlite, json)", kind)
}

// Reset deletes the persisted bank at path, including SQLite side files.
// It is the only way out of ErrCorrupt.
func Reset(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// corrupt wraps err so that errors.Is(err, ErrCorrupt) holds.
func corrupt(path string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
}

func statsOf(b *model.KnowledgeBank) Stats {
	st := Stats{
		Sessions:     len(b.ProcessedSessions),
		Observations: len(b.Observations),
		ByCategory:   make(map[string]int),
	}
	for cat, entries := range b.Categories {
		st.Entries += len(entries)
		st.ByCategory[cat] = len(entries)
	}
	return st
}
