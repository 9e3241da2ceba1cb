package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/scbrown/transcripts/internal/model"
)

// JSONStore keeps the bank in one indented JSON file.
type JSONStore struct {
	path string
}

// NewJSON returns a store backed by the file at path. The file is created
// on first Save.
func NewJSON(path string) (*JSONStore, error) {
	if path == "" {
		return nil, errors.New("json store: empty path")
	}
	return &JSONStore{path: path}, nil
}

// Load reads the file. A missing or empty file is an empty bank.
func (s *JSONStore) Load(_ context.Context) (*model.KnowledgeBank, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return model.NewKnowledgeBank(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return model.NewKnowledgeBank(), nil
	}

	b := model.NewKnowledgeBank()
	if err := json.Unmarshal(data, b); err != nil {
		return nil, corrupt(s.path, err)
	}
	if b.Categories == nil {
		b.Categories = make(map[string][]model.PatternEntry)
	}
	if b.ProcessedSessions == nil {
		b.ProcessedSessions = make(map[string]model.SessionState)
	}
	return b, nil
}

// Save writes to a temporary file in the same directory and renames it
// over the target.
func (s *JSONStore) Save(_ context.Context, b *model.KnowledgeBank) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bank: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

// Stats loads the file and counts it.
func (s *JSONStore) Stats(ctx context.Context) (Stats, error) {
	b, err := s.Load(ctx)
	if err != nil {
		return Stats{}, err
	}
	return statsOf(b), nil
}

// Close is a no-op.
func (s *JSONStore) Close() error { return nil }
