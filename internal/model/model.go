// Package model defines core types for cct: normalized events, the turns
// reconstructed from them, the paginated document model, and the pattern
// knowledge bank.
package model

import (
	"encoding/json"
	"time"
)

// EventKind is the normalized kind of one event in a session log.
type EventKind string

const (
	KindUser       EventKind = "user"
	KindAssistant  EventKind = "assistant"
	KindToolUse    EventKind = "tool_use"
	KindToolResult EventKind = "tool_result"
	KindSystem     EventKind = "system"
)

// BlockType is the type of one content block inside an event.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockOther      BlockType = "other"
)

// Event is one normalized record from a session log. Events are created once
// by the parser and never mutated afterwards.
type Event struct {
	Kind       EventKind `json:"kind"`
	Sequence   int       `json:"sequence_id"`
	Timestamp  time.Time `json:"timestamp"`
	UUID       string    `json:"uuid,omitempty"`
	ParentUUID string    `json:"parent_uuid,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	CWD        string    `json:"cwd,omitempty"`
	// Meta marks user events injected by the client rather than typed by a human.
	Meta bool `json:"meta,omitempty"`
	// Sidechain marks sub-agent traffic.
	Sidechain bool    `json:"sidechain,omitempty"`
	Blocks    []Block `json:"content_blocks"`
	// Extra holds top-level fields the normalizer did not map. They are
	// preserved as-is and never interpreted.
	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

// Block is one tagged content block. Exactly one of Text, ToolUse, ToolResult
// or Raw is meaningful, selected by Type.
type Block struct {
	Type       BlockType       `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolUse    *ToolUse        `json:"tool_use,omitempty"`
	ToolResult *ToolResult     `json:"tool_result,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// ToolUse is a tool call issued by the assistant.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResult is the outcome of a tool call, linked back by ToolUseID.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Output    string `json:"output"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock returns a text block.
func TextBlock(s string) Block { return Block{Type: BlockText, Text: s} }

// Text concatenates the text blocks of e, separated by newlines.
func (e Event) Text() string {
	var out string
	for _, b := range e.Blocks {
		if b.Type != BlockText || b.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

// OnlyToolResults reports whether every block of e is a tool_result.
// An event with no blocks is not a tool-result envelope.
func (e Event) OnlyToolResults() bool {
	if len(e.Blocks) == 0 {
		return false
	}
	for _, b := range e.Blocks {
		if b.Type != BlockToolResult {
			return false
		}
	}
	return true
}

// ToolStatus is the resolution state of a ToolInvocation.
type ToolStatus string

const (
	StatusCompleted             ToolStatus = "completed"
	StatusError                 ToolStatus = "error"
	StatusOrphanPending         ToolStatus = "orphan_pending"
	StatusOrphanUnmatchedResult ToolStatus = "orphan_unmatched_result"
)

// ToolInvocation pairs one tool_use with at most one tool_result.
type ToolInvocation struct {
	ID     string          `json:"id"`
	Name   string          `json:"name,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output string          `json:"output,omitempty"`
	Status ToolStatus      `json:"status"`
	// UseSequence and ResultSequence are -1 when the side is missing.
	UseSequence    int       `json:"use_sequence_id"`
	ResultSequence int       `json:"result_sequence_id"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	FinishedAt     time.Time `json:"finished_at,omitzero"`
}

// Resolved reports whether the invocation has a matched result.
func (t *ToolInvocation) Resolved() bool {
	return t.Status == StatusCompleted || t.Status == StatusError
}

// SegmentKind distinguishes text from tool segments of a turn.
type SegmentKind string

const (
	SegmentText SegmentKind = "text"
	SegmentTool SegmentKind = "tool"
)

// Segment is one ordered piece of a turn's response: either text or a tool
// invocation.
type Segment struct {
	Kind      SegmentKind     `json:"kind"`
	Role      string          `json:"role,omitempty"`
	Text      string          `json:"text,omitempty"`
	Tool      *ToolInvocation `json:"tool,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
}

// CommitRef is a git commit observed in shell tool output.
type CommitRef struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
}

// TimeRange is an inclusive span of event timestamps.
type TimeRange struct {
	Start time.Time `json:"start,omitzero"`
	End   time.Time `json:"end,omitzero"`
}

// Extend widens r to include ts. Zero timestamps are ignored.
func (r *TimeRange) Extend(ts time.Time) {
	if ts.IsZero() {
		return
	}
	if r.Start.IsZero() || ts.Before(r.Start) {
		r.Start = ts
	}
	if r.End.IsZero() || ts.After(r.End) {
		r.End = ts
	}
}

// Merge widens r to include o.
func (r *TimeRange) Merge(o TimeRange) {
	r.Extend(o.Start)
	r.Extend(o.End)
}

// Turn is one logical prompt/response exchange.
type Turn struct {
	Index      int    `json:"turn_index"`
	PromptText string `json:"prompt_text"`
	// PromptSequence is the sequence_id of the event that opened the turn,
	// or of its first event for a preamble turn.
	PromptSequence int         `json:"prompt_sequence_id"`
	Segments       []Segment   `json:"assistant_segments"`
	CommitRefs     []CommitRef `json:"commit_refs"`
	TimeRange      TimeRange   `json:"time_range"`
}

// Tools returns the turn's tool invocations in order.
func (t Turn) Tools() []*ToolInvocation {
	var out []*ToolInvocation
	for _, s := range t.Segments {
		if s.Kind == SegmentTool && s.Tool != nil {
			out = append(out, s.Tool)
		}
	}
	return out
}

// Session is one reconstructed conversation.
type Session struct {
	ID            string    `json:"session_id"`
	ProjectPath   string    `json:"project_path,omitempty"`
	Turns         []Turn    `json:"turns"`
	RawEventCount int       `json:"raw_event_count"`
	Anomalies     []Anomaly `json:"anomalies,omitempty"`
}

// StartedAt returns the earliest turn timestamp, or zero.
func (s Session) StartedAt() time.Time {
	var r TimeRange
	for _, t := range s.Turns {
		r.Merge(t.TimeRange)
	}
	return r.Start
}

// PromptTexts returns one prompt string per turn, skipping empty prompts.
func (s Session) PromptTexts() []string {
	var out []string
	for _, t := range s.Turns {
		if t.PromptText != "" {
			out = append(out, t.PromptText)
		}
	}
	return out
}

// AnomalyKind classifies a non-fatal problem found while reconstructing a session.
type AnomalyKind string

const (
	AnomalyMalformedInput AnomalyKind = "malformed_input"
	AnomalySchema         AnomalyKind = "schema_anomaly"
	AnomalyOversizedTurn  AnomalyKind = "oversized_turn"
)

// Anomaly annotates the output model with something that was absorbed rather
// than raised. Line is 1-based and only set for line-delimited input.
type Anomaly struct {
	Kind      AnomalyKind `json:"kind"`
	Line      int         `json:"line,omitempty"`
	Sequence  int         `json:"sequence_id,omitempty"`
	Turn      int         `json:"turn,omitempty"`
	ToolUseID string      `json:"tool_use_id,omitempty"`
	Detail    string      `json:"detail"`
}
