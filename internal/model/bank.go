package model

import (
	"sort"
	"time"
)

// Category describes one predefined pattern category.
type Category struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// PredefinedCategories lists the built-in categories in display order.
var PredefinedCategories = []Category{
	{"coding_style", "Naming conventions, formatting, code style preferences"},
	{"architecture", "File structure, design patterns, project organization"},
	{"testing", "Testing approaches, coverage expectations, test patterns"},
	{"documentation", "Comments, README, JSDoc, docstrings preferences"},
	{"workflow", "Git practices, PR conventions, commit style"},
	{"tools", "Preferred libraries, frameworks, dependencies"},
	{"communication", "How you prefer the assistant to respond, verbosity, explanations"},
	{"error_handling", "Exception handling, validation, error messages"},
	{"performance", "Optimization preferences, caching, efficiency"},
	{"ui_ux", "User interface patterns, design choices, accessibility"},
}

// CategoryDescription returns the description of a predefined category, or "".
func CategoryDescription(name string) string {
	for _, c := range PredefinedCategories {
		if c.Name == name {
			return c.Description
		}
	}
	return ""
}

// Candidate is one pattern statement proposed by the analysis call.
// CategoryDescription is set when the analysis defined a custom category.
type Candidate struct {
	Category            string   `json:"category"`
	CategoryDescription string   `json:"category_description,omitempty"`
	Text                string   `json:"text"`
	Confidence          string   `json:"confidence,omitempty"`
	Examples            []string `json:"examples,omitempty"`
}

// PatternEntry is one deduplicated, categorized pattern in the knowledge bank.
type PatternEntry struct {
	Category         string   `json:"category" yaml:"category"`
	NormalizedText   string   `json:"normalized_text" yaml:"normalized_text"`
	DisplayText      string   `json:"display_text" yaml:"display_text"`
	OccurrenceCount  int      `json:"occurrence_count" yaml:"occurrence_count"`
	FirstSeenSession string   `json:"first_seen_session" yaml:"first_seen_session"`
	LastSeenSession  string   `json:"last_seen_session" yaml:"last_seen_session"`
	Examples         []string `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// Confidence derives a confidence label from the occurrence count.
func (p PatternEntry) Confidence() string {
	switch {
	case p.OccurrenceCount >= 3:
		return "high"
	case p.OccurrenceCount == 2:
		return "medium"
	default:
		return "low"
	}
}

// SessionState records what the bank knows about one processed session.
type SessionState struct {
	Fingerprint string    `json:"fingerprint" yaml:"fingerprint"`
	StartedAt   time.Time `json:"started_at,omitzero" yaml:"started_at,omitempty"`
}

// Observation is one candidate contributed by one session. Entries are
// derived from the full set of observations.
type Observation struct {
	SessionID           string    `json:"session_id" yaml:"session_id"`
	SessionStart        time.Time `json:"session_start,omitzero" yaml:"session_start,omitempty"`
	Category            string    `json:"category" yaml:"category"`
	CategoryDescription string    `json:"category_description,omitempty" yaml:"category_description,omitempty"`
	NormalizedText      string    `json:"normalized_text" yaml:"normalized_text"`
	DisplayText         string    `json:"display_text" yaml:"display_text"`
	Examples            []string  `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// KnowledgeBank maps categories to ordered pattern entries and tracks the
// sessions already merged into it. CustomCategories holds descriptions for
// categories the analysis invented, derived from the observations.
type KnowledgeBank struct {
	Categories        map[string][]PatternEntry `json:"categories" yaml:"categories"`
	CustomCategories  map[string]string         `json:"custom_categories,omitempty" yaml:"custom_categories,omitempty"`
	ProcessedSessions map[string]SessionState   `json:"processed_sessions" yaml:"processed_sessions"`
	Observations      []Observation             `json:"observations,omitempty" yaml:"observations,omitempty"`
}

// NewKnowledgeBank returns an empty bank with initialized maps.
func NewKnowledgeBank() *KnowledgeBank {
	return &KnowledgeBank{
		Categories:        make(map[string][]PatternEntry),
		ProcessedSessions: make(map[string]SessionState),
	}
}

// Clone returns a deep copy of b.
func (b *KnowledgeBank) Clone() *KnowledgeBank {
	out := NewKnowledgeBank()
	if b == nil {
		return out
	}
	for cat, entries := range b.Categories {
		cp := make([]PatternEntry, len(entries))
		for i, e := range entries {
			e.Examples = append([]string(nil), e.Examples...)
			cp[i] = e
		}
		out.Categories[cat] = cp
	}
	if len(b.CustomCategories) > 0 {
		out.CustomCategories = make(map[string]string, len(b.CustomCategories))
		for name, desc := range b.CustomCategories {
			out.CustomCategories[name] = desc
		}
	}
	for id, st := range b.ProcessedSessions {
		out.ProcessedSessions[id] = st
	}
	if len(b.Observations) > 0 {
		out.Observations = make([]Observation, len(b.Observations))
		for i, o := range b.Observations {
			o.Examples = append([]string(nil), o.Examples...)
			out.Observations[i] = o
		}
	}
	return out
}

// Describe returns the description of a predefined or custom category, or "".
func (b *KnowledgeBank) Describe(cat string) string {
	if desc := CategoryDescription(cat); desc != "" {
		return desc
	}
	return b.CustomCategories[cat]
}

// EntryCount returns the total number of entries across categories.
func (b *KnowledgeBank) EntryCount() int {
	n := 0
	for _, entries := range b.Categories {
		n += len(entries)
	}
	return n
}

// OrderedCategories returns category names with non-empty entries:
// predefined categories first in display order, then custom ones sorted.
func (b *KnowledgeBank) OrderedCategories() []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range PredefinedCategories {
		if len(b.Categories[c.Name]) > 0 {
			out = append(out, c.Name)
		}
		seen[c.Name] = true
	}
	var custom []string
	for name, entries := range b.Categories {
		if !seen[name] && len(entries) > 0 {
			custom = append(custom, name)
		}
	}
	sort.Strings(custom)
	return append(out, custom...)
}

// Prompt is one user prompt taken from a turn, as sent for analysis.
type Prompt struct {
	SessionID string    `json:"session_id"`
	Project   string    `json:"project,omitempty"`
	Turn      int       `json:"turn"`
	Text      string    `json:"text"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}
