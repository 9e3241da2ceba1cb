// Package extract turns a reconstructed session into prompts and, through an
// injected Analyzer, into candidate pattern statements.
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/scbrown/transcripts/internal/analyze"
	"github.com/scbrown/transcripts/internal/model"
)

// DefaultMinLength is the shortest prompt kept. Shorter prompts are
// usually confirmations like "ok" or "yes".
const DefaultMinLength = 5

// DefaultTimeout bounds one session's analysis call.
const DefaultTimeout = 2 * time.Minute

// Mode selects whether the analysis call is made.
type Mode string

const (
	ModeAnalyze     Mode = "analyze"
	ModeExtractOnly Mode = "extract-only"
)

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAnalyze, "":
		return ModeAnalyze, nil
	case ModeExtractOnly:
		return ModeExtractOnly, nil
	}
	return "", fmt.Errorf("unknown mode %q (valid: analyze, extract-only)", s)
}

// Filter controls which turn prompts are kept.
type Filter struct {
	MinLength int // In runes; 0 means DefaultMinLength.
}

// Prompts returns one classified prompt per turn with a usable prompt text.
// Prompts shorter than the filter's minimum and client-injected markup
// (text starting with "<") are skipped.
func Prompts(s model.Session, project string, f Filter) []model.Prompt {
	minLen := f.MinLength
	if minLen <= 0 {
		minLen = DefaultMinLength
	}
	var out []model.Prompt
	for _, t := range s.Turns {
		text := strings.TrimSpace(t.PromptText)
		if utf8.RuneCountInString(text) < minLen || strings.HasPrefix(text, "<") {
			continue
		}
		out = append(out, model.Prompt{
			SessionID: s.ID,
			Project:   project,
			Turn:      t.Index,
			Text:      text,
			Type:      string(analyze.ClassifyPrompt(text)),
			Timestamp: t.TimeRange.Start,
		})
	}
	return out
}

// Analyzer derives candidate pattern statements from prompts. It makes one
// external call and honors ctx for its deadline.
type Analyzer interface {
	Analyze(ctx context.Context, prompts []model.Prompt) ([]model.Candidate, error)
}

// Noop is an Analyzer that never finds anything.
type Noop struct{}

// Analyze returns no candidates.
func (Noop) Analyze(context.Context, []model.Prompt) ([]model.Candidate, error) {
	return nil, nil
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, prompts []model.Prompt) ([]model.Candidate, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, prompts []model.Prompt) ([]model.Candidate, error) {
	return f(ctx, prompts)
}

// AnalysisError records a failed analysis call for one session.
type AnalysisError struct {
	SessionID string
	Err       error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyze session %s: %v", e.SessionID, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Options configures an Extractor.
type Options struct {
	Mode    Mode
	Timeout time.Duration // 0 means DefaultTimeout.
	Filter  Filter
}

// Result is one session's extraction output.
type Result struct {
	SessionID  string            `json:"session_id"`
	Prompts    []model.Prompt    `json:"prompts"`
	Candidates []model.Candidate `json:"candidates,omitempty"`
}

// Extractor holds no state between sessions.
type Extractor struct {
	analyzer Analyzer
	opts     Options
}

// New returns an Extractor. A nil analyzer behaves like Noop.
func New(a Analyzer, opts Options) *Extractor {
	if a == nil {
		a = Noop{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Mode == "" {
		opts.Mode = ModeAnalyze
	}
	return &Extractor{analyzer: a, opts: opts}
}

// Extract collects the session's prompts and, unless in extract-only mode,
// analyzes them under the configured timeout. Failures are returned as
// *AnalysisError with the prompts still populated.
func (x *Extractor) Extract(ctx context.Context, s model.Session, project string) (Result, error) {
	res := Result{SessionID: s.ID, Prompts: Prompts(s, project, x.opts.Filter)}
	if x.opts.Mode == ModeExtractOnly || len(res.Prompts) == 0 {
		return res, nil
	}

	ctx, cancel := context.WithTimeout(ctx, x.opts.Timeout)
	defer cancel()

	cands, err := x.analyzer.Analyze(ctx, res.Prompts)
	if err != nil {
		return res, &AnalysisError{SessionID: s.ID, Err: err}
	}
	res.Candidates = clean(cands)
	return res, nil
}

// clean drops empty candidates and fills in a missing category.
func clean(cands []model.Candidate) []model.Candidate {
	var out []model.Candidate
	for _, c := range cands {
		c.Text = strings.TrimSpace(c.Text)
		if c.Text == "" {
			continue
		}
		c.Category = strings.TrimSpace(c.Category)
		if c.Category == "" {
			c.Category = "general"
		}
		out = append(out, c)
	}
	return out
}
