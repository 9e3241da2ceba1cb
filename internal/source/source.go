// Package source defines the Source interface and a registry of schema
// variants. Each source knows how to recognize one family of session-log
// objects and normalize it into a model.Event.
package source

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/scbrown/transcripts/internal/model"
)

// Source normalizes one decoded log object into an Event.
type Source interface {
	// Name returns the unique identifier for this source (e.g., "claude-code").
	Name() string

	// Description returns a short human-readable description.
	Description() string

	// Detect reports whether obj looks like this source's schema.
	Detect(obj map[string]json.RawMessage) bool

	// Normalize converts obj into an Event. Sequence is assigned by the
	// caller. Fields the source does not map go into Event.Extra.
	Normalize(obj map[string]json.RawMessage) (model.Event, error)
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Source)
	// order is the detection order: first registered, first tried.
	order []string
)

// Register adds a source to the registry. It panics if a source with the
// same name is already registered.
func Register(s Source) {
	mu.Lock()
	defer mu.Unlock()
	name := s.Name()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("source: duplicate registration for %q", name))
	}
	registry[name] = s
	order = append(order, name)
}

// Get returns the source with the given name, or nil if not found.
func Get(name string) Source {
	mu.RLock()
	defer mu.RUnlock()
	return registry[name]
}

// Names returns the sorted names of all registered sources.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// detectOrder pins the built-in sources ahead of anything registered later;
// flat accepts almost any object and must be tried last.
var detectOrder = []string{"claude-code", "codex", "flat"}

// Detect returns the first source whose Detect accepts obj, or nil.
func Detect(obj map[string]json.RawMessage) Source {
	mu.RLock()
	defer mu.RUnlock()
	tried := make(map[string]bool, len(order))
	for _, name := range detectOrder {
		s, ok := registry[name]
		if !ok || name == "flat" {
			continue
		}
		tried[name] = true
		if s.Detect(obj) {
			return s
		}
	}
	for _, name := range order {
		if tried[name] || name == "flat" {
			continue
		}
		if s := registry[name]; s.Detect(obj) {
			return s
		}
	}
	if s, ok := registry["flat"]; ok && s.Detect(obj) {
		return s
	}
	return nil
}

// Normalize decodes raw as a JSON object and normalizes it with the named
// source, or with the detected one when name is empty.
func Normalize(raw []byte, name string) (model.Event, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return model.Event{}, fmt.Errorf("decoding object: %w", err)
	}
	if obj == nil {
		return model.Event{}, fmt.Errorf("decoding object: null")
	}
	var s Source
	if name != "" {
		s = Get(name)
		if s == nil {
			return model.Event{}, fmt.Errorf("unknown source: %q", name)
		}
	} else {
		s = Detect(obj)
		if s == nil {
			return model.Event{}, fmt.Errorf("no source recognizes object")
		}
	}
	return s.Normalize(obj)
}
