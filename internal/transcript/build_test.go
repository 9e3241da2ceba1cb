package transcript

import (
	"reflect"
	"testing"
	"time"

	"github.com/scbrown/transcripts/internal/model"
)

func buildString(t *testing.T, input string) model.Session {
	t.Helper()
	res := mustParse(t, input, Options{Policy: Strict})
	return Build(Meta{SessionID: "test"}, res.Events)
}

func TestBuildFixBugExample(t *testing.T) {
	s := buildString(t, fixBugArray)
	if len(s.Turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(s.Turns))
	}
	turn := s.Turns[0]
	if turn.PromptText != "fix bug" {
		t.Errorf("PromptText = %q", turn.PromptText)
	}
	tools := turn.Tools()
	if len(tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(tools))
	}
	if tools[0].Status != model.StatusCompleted {
		t.Errorf("Status = %s, want completed", tools[0].Status)
	}
	want := []model.CommitRef{{SHA: "abc1234", Message: "fix"}}
	if !reflect.DeepEqual(turn.CommitRefs, want) {
		t.Errorf("CommitRefs = %+v, want %+v", turn.CommitRefs, want)
	}
	if s.RawEventCount != 3 {
		t.Errorf("RawEventCount = %d, want 3", s.RawEventCount)
	}
	if len(s.Anomalies) != 0 {
		t.Errorf("unexpected anomalies: %+v", s.Anomalies)
	}
}

func TestBuildArrayAndLinesEquivalent(t *testing.T) {
	a := buildString(t, fixBugArray)
	l := buildString(t, fixBugLines)
	if !reflect.DeepEqual(a.Turns, l.Turns) {
		t.Errorf("array and line-delimited inputs produced different turns:\n%+v\n%+v", a.Turns, l.Turns)
	}
}

func TestBuildToolResultEnvelopeDoesNotOpenTurn(t *testing.T) {
	s := buildString(t, `[
		{"type":"user","content":"one"},
		{"type":"assistant","content":[{"type":"tool_use","id":"t1","name":"Read","input":{}}]},
		{"type":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"data"}]},
		{"type":"assistant","content":[{"type":"tool_use","id":"t2","name":"Read","input":{}}]},
		{"type":"user","content":[{"type":"tool_result","tool_use_id":"t2","content":"more"}]},
		{"type":"assistant","content":"done"},
		{"type":"user","content":"two"}
	]`)
	if len(s.Turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(s.Turns))
	}
	if got := len(s.Turns[0].Segments); got != 3 {
		t.Errorf("turn 0 has %d segments, want 3", got)
	}
	for i, turn := range s.Turns {
		if turn.Index != i {
			t.Errorf("turn %d Index = %d", i, turn.Index)
		}
	}
	if s.Turns[0].PromptSequence >= s.Turns[1].PromptSequence {
		t.Error("turns not ordered by sequence")
	}
}

func TestBuildUnmatchedResult(t *testing.T) {
	s := buildString(t, `[
		{"type":"user","content":"go"},
		{"type":"tool_result","tool_use_id":"ghost","content":"boo"}
	]`)
	tools := s.Turns[0].Tools()
	if len(tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(tools))
	}
	inv := tools[0]
	if inv.Status != model.StatusOrphanUnmatchedResult || inv.ID != "ghost" || inv.Output != "boo" {
		t.Errorf("invocation = %+v", inv)
	}
	if inv.UseSequence != -1 || inv.ResultSequence != 1 {
		t.Errorf("sequences = (%d, %d), want (-1, 1)", inv.UseSequence, inv.ResultSequence)
	}
	if len(s.Anomalies) != 1 || s.Anomalies[0].Kind != model.AnomalySchema {
		t.Errorf("anomalies = %+v", s.Anomalies)
	}
}

func TestBuildPendingAtEnd(t *testing.T) {
	s := buildString(t, `[
		{"type":"user","content":"go"},
		{"type":"tool_use","id":"t1","name":"bash","input":"sleep 100"}
	]`)
	inv := s.Turns[0].Tools()[0]
	if inv.Status != model.StatusOrphanPending || inv.ResultSequence != -1 {
		t.Errorf("invocation = %+v", inv)
	}
}

func TestBuildDuplicateResultKeepsFirst(t *testing.T) {
	s := buildString(t, `[
		{"type":"user","content":"go"},
		{"type":"assistant","content":[{"type":"tool_use","id":"t1","name":"bash","input":"ls"}]},
		{"type":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"first"}]},
		{"type":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"second","is_error":true}]}
	]`)
	tools := s.Turns[0].Tools()
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	if tools[0].Output != "first" || tools[0].Status != model.StatusCompleted {
		t.Errorf("first result overwritten: %+v", tools[0])
	}
	if tools[1].Status != model.StatusOrphanUnmatchedResult || tools[1].Output != "second" {
		t.Errorf("duplicate = %+v", tools[1])
	}
	if len(s.Anomalies) != 1 || s.Anomalies[0].ToolUseID != "t1" {
		t.Errorf("anomalies = %+v", s.Anomalies)
	}
}

func TestBuildErrorResult(t *testing.T) {
	s := buildString(t, `[
		{"type":"user","content":"go"},
		{"type":"assistant","content":[{"type":"tool_use","id":"t1","name":"bash","input":"git commit -m x"}]},
		{"type":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"[main abc1234] x","is_error":true}]}
	]`)
	turn := s.Turns[0]
	if turn.Tools()[0].Status != model.StatusError {
		t.Errorf("Status = %s, want error", turn.Tools()[0].Status)
	}
	if len(turn.CommitRefs) != 0 {
		t.Errorf("commits extracted from failed invocation: %+v", turn.CommitRefs)
	}
}

func TestBuildPreamble(t *testing.T) {
	s := buildString(t, `[
		{"type":"system","content":"session start"},
		{"type":"assistant","content":"Welcome back."},
		{"type":"user","content":"hello"}
	]`)
	if len(s.Turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(s.Turns))
	}
	if s.Turns[0].PromptText != "" || s.Turns[0].PromptSequence != 1 {
		t.Errorf("preamble = %+v", s.Turns[0])
	}
	if s.Turns[1].PromptText != "hello" {
		t.Errorf("turn 1 prompt = %q", s.Turns[1].PromptText)
	}
}

func TestBuildMixedUserEvent(t *testing.T) {
	s := buildString(t, `[
		{"type":"user","content":"one"},
		{"type":"assistant","content":[{"type":"tool_use","id":"t1","name":"bash","input":"ls"}]},
		{"type":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"a.go"},{"type":"text","text":"now do two"}]}
	]`)
	if len(s.Turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(s.Turns))
	}
	if s.Turns[0].Tools()[0].Status != model.StatusCompleted {
		t.Error("result in mixed event not applied to the previous turn")
	}
	if s.Turns[1].PromptText != "now do two" || len(s.Turns[1].Segments) != 0 {
		t.Errorf("turn 1 = %+v", s.Turns[1])
	}
}

func TestBuildClaudeSession(t *testing.T) {
	res, err := Parse(mustOpen(t, "testdata/claude_session.jsonl"), Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s := Build(Meta{}, res.Events)
	if s.ID != "sess-42" || s.ProjectPath != "/home/dev/tok" {
		t.Errorf("ID=%q ProjectPath=%q", s.ID, s.ProjectPath)
	}
	if len(s.Turns) != 2 {
		t.Fatalf("got %d turns, want 2 (meta and sidechain events must not open turns)", len(s.Turns))
	}

	t0 := s.Turns[0]
	if t0.PromptText != "Add a test for the tokenizer" {
		t.Errorf("turn 0 prompt = %q", t0.PromptText)
	}
	if len(t0.Segments) != 4 {
		t.Errorf("turn 0 has %d segments, want 4", len(t0.Segments))
	}
	want := []model.CommitRef{{SHA: "1a2b3c4", Message: "Add tokenizer test"}}
	if !reflect.DeepEqual(t0.CommitRefs, want) {
		t.Errorf("CommitRefs = %+v", t0.CommitRefs)
	}
	start := time.Date(2026, 2, 7, 10, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 7, 10, 0, 15, 0, time.UTC)
	if !t0.TimeRange.Start.Equal(start) || !t0.TimeRange.End.Equal(end) {
		t.Errorf("TimeRange = %+v", t0.TimeRange)
	}

	t1 := s.Turns[1]
	if t1.Segments[0].Role != "assistant:sidechain" {
		t.Errorf("sidechain segment role = %q", t1.Segments[0].Role)
	}
	if inv := t1.Tools()[0]; inv.Status != model.StatusOrphanPending {
		t.Errorf("unresolved push status = %s", inv.Status)
	}
	if !s.StartedAt().Equal(start) {
		t.Errorf("StartedAt = %v", s.StartedAt())
	}
}

func TestBuildCodexRollout(t *testing.T) {
	res, err := Parse(mustOpen(t, "testdata/codex_rollout.jsonl"), Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s := Build(Meta{}, res.Events)
	if s.ID != "codex-1" || s.ProjectPath != "/work/app" {
		t.Errorf("ID=%q ProjectPath=%q", s.ID, s.ProjectPath)
	}
	if len(s.Turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(s.Turns))
	}
	turn := s.Turns[0]
	if turn.PromptText != "Commit what we have" {
		t.Errorf("prompt = %q", turn.PromptText)
	}
	inv := turn.Tools()[0]
	if inv.Name != "shell" || inv.Status != model.StatusCompleted {
		t.Errorf("invocation = %+v", inv)
	}
	want := []model.CommitRef{{SHA: "deadbee", Message: "wip"}}
	if !reflect.DeepEqual(turn.CommitRefs, want) {
		t.Errorf("CommitRefs = %+v", turn.CommitRefs)
	}
}

func TestBuildMetaOverridesEvents(t *testing.T) {
	res := mustParse(t, `{"type":"user","content":"x","session_id":"from-event","cwd":"/a"}`, Options{})
	s := Build(Meta{SessionID: "given", ProjectPath: "/b"}, res.Events)
	if s.ID != "given" || s.ProjectPath != "/b" {
		t.Errorf("ID=%q ProjectPath=%q", s.ID, s.ProjectPath)
	}
}
