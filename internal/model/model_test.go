package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTimeRangeExtend(t *testing.T) {
	t1 := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	t0 := t1.Add(-time.Minute)

	var r TimeRange
	r.Extend(time.Time{})
	if !r.Start.IsZero() || !r.End.IsZero() {
		t.Fatalf("zero timestamp should not extend range, got %+v", r)
	}
	r.Extend(t1)
	r.Extend(t2)
	r.Extend(t0)
	if !r.Start.Equal(t0) {
		t.Errorf("Start = %v, want %v", r.Start, t0)
	}
	if !r.End.Equal(t2) {
		t.Errorf("End = %v, want %v", r.End, t2)
	}
}

func TestEventOnlyToolResults(t *testing.T) {
	tests := []struct {
		name   string
		blocks []Block
		want   bool
	}{
		{"empty", nil, false},
		{"text", []Block{TextBlock("hi")}, false},
		{"results", []Block{{Type: BlockToolResult, ToolResult: &ToolResult{ToolUseID: "a"}}}, true},
		{"mixed", []Block{TextBlock("hi"), {Type: BlockToolResult, ToolResult: &ToolResult{ToolUseID: "a"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Event{Kind: KindUser, Blocks: tt.blocks}
			if got := e.OnlyToolResults(); got != tt.want {
				t.Errorf("OnlyToolResults() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventText(t *testing.T) {
	e := Event{Blocks: []Block{
		TextBlock("first"),
		{Type: BlockToolUse, ToolUse: &ToolUse{ID: "t1", Name: "Bash"}},
		TextBlock(""),
		TextBlock("second"),
	}}
	if got := e.Text(); got != "first\nsecond" {
		t.Errorf("Text() = %q, want %q", got, "first\nsecond")
	}
}

func TestPageLinksSerializeNull(t *testing.T) {
	next := 2
	p := Page{Number: 1, TurnSpan: TurnSpan{0, 1}, NextLink: &next}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"prev_link":null`) {
		t.Errorf("expected null prev_link, got %s", s)
	}
	if !strings.Contains(s, `"next_link":2`) {
		t.Errorf("expected next_link 2, got %s", s)
	}
}

func TestKnowledgeBankCloneIsDeep(t *testing.T) {
	b := NewKnowledgeBank()
	b.Categories["testing"] = []PatternEntry{{Category: "testing", NormalizedText: "x", Examples: []string{"e"}}}
	b.ProcessedSessions["s1"] = SessionState{Fingerprint: "f"}
	b.Observations = []Observation{{SessionID: "s1", Category: "testing", NormalizedText: "x"}}

	c := b.Clone()
	c.Categories["testing"][0].OccurrenceCount = 99
	c.Categories["testing"][0].Examples[0] = "changed"
	c.ProcessedSessions["s2"] = SessionState{}
	c.Observations[0].SessionID = "other"

	if b.Categories["testing"][0].OccurrenceCount != 0 {
		t.Error("clone shares entries with original")
	}
	if b.Categories["testing"][0].Examples[0] != "e" {
		t.Error("clone shares examples with original")
	}
	if _, ok := b.ProcessedSessions["s2"]; ok {
		t.Error("clone shares processed sessions with original")
	}
	if b.Observations[0].SessionID != "s1" {
		t.Error("clone shares observations with original")
	}
}

func TestOrderedCategories(t *testing.T) {
	b := NewKnowledgeBank()
	b.Categories["zeta_custom"] = []PatternEntry{{}}
	b.Categories["testing"] = []PatternEntry{{}}
	b.Categories["alpha_custom"] = []PatternEntry{{}}
	b.Categories["coding_style"] = []PatternEntry{{}}
	b.Categories["workflow"] = nil

	got := strings.Join(b.OrderedCategories(), ",")
	want := "coding_style,testing,alpha_custom,zeta_custom"
	if got != want {
		t.Errorf("OrderedCategories() = %s, want %s", got, want)
	}
}

func TestPatternEntryConfidence(t *testing.T) {
	tests := []struct {
		count int
		want  string
	}{
		{1, "low"},
		{2, "medium"},
		{3, "high"},
		{10, "high"},
	}
	for _, tt := range tests {
		got := PatternEntry{OccurrenceCount: tt.count}.Confidence()
		if got != tt.want {
			t.Errorf("Confidence(%d) = %q, want %q", tt.count, got, tt.want)
		}
	}
}
