package source

import (
	"testing"

	"github.com/scbrown/transcripts/internal/model"
)

func TestCodexSessionMeta(t *testing.T) {
	src := Get("codex")
	e, err := src.Normalize(decode(t, `{"timestamp":"2025-09-01T10:00:00Z","type":"session_meta",
		"payload":{"id":"0199-abc","cwd":"/work/repo","cli_version":"0.30.0"}}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if e.Kind != model.KindSystem || e.SessionID != "0199-abc" || e.CWD != "/work/repo" {
		t.Errorf("got %+v", e)
	}
}

func TestCodexMessages(t *testing.T) {
	src := Get("codex")
	tests := []struct {
		name string
		raw  string
		kind model.EventKind
		text string
		meta bool
	}{
		{
			name: "user prompt",
			raw:  `{"type":"response_item","payload":{"type":"message","role":"user","content":[{"type":"input_text","text":"rename the flag"}]}}`,
			kind: model.KindUser, text: "rename the flag",
		},
		{
			name: "environment context",
			raw:  `{"type":"response_item","payload":{"type":"message","role":"user","content":[{"type":"input_text","text":"<environment_context>\n<cwd>/x</cwd>\n</environment_context>"}]}}`,
			kind: model.KindUser, text: "<environment_context>\n<cwd>/x</cwd>\n</environment_context>", meta: true,
		},
		{
			name: "assistant",
			raw:  `{"type":"response_item","payload":{"type":"message","role":"assistant","content":[{"type":"output_text","text":"Done."}]}}`,
			kind: model.KindAssistant, text: "Done.",
		},
		{
			name: "developer",
			raw:  `{"type":"response_item","payload":{"type":"message","role":"developer","content":[{"type":"input_text","text":"rules"}]}}`,
			kind: model.KindSystem, text: "rules",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := src.Normalize(decode(t, tt.raw))
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if e.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s", e.Kind, tt.kind)
			}
			if e.Text() != tt.text {
				t.Errorf("Text = %q, want %q", e.Text(), tt.text)
			}
			if e.Meta != tt.meta {
				t.Errorf("Meta = %v, want %v", e.Meta, tt.meta)
			}
		})
	}
}

func TestCodexFunctionCallPair(t *testing.T) {
	src := Get("codex")
	call, err := src.Normalize(decode(t, `{"type":"response_item","payload":{"type":"function_call",
		"id":"fc_1","name":"shell","arguments":"{\"command\":[\"bash\",\"-lc\",\"ls\"]}","call_id":"call_9"}}`))
	if err != nil {
		t.Fatalf("Normalize call: %v", err)
	}
	if call.Kind != model.KindToolUse {
		t.Fatalf("Kind = %s, want tool_use", call.Kind)
	}
	tu := call.Blocks[0].ToolUse
	if tu.ID != "call_9" || tu.Name != "shell" {
		t.Errorf("ToolUse = %+v", tu)
	}
	if string(tu.Input) != `{"command":["bash","-lc","ls"]}` {
		t.Errorf("Input = %s", tu.Input)
	}

	out, err := src.Normalize(decode(t, `{"type":"response_item","payload":{"type":"function_call_output",
		"call_id":"call_9","output":"{\"output\":\"a.go\\nb.go\\n\",\"metadata\":{\"exit_code\":1}}"}}`))
	if err != nil {
		t.Fatalf("Normalize output: %v", err)
	}
	if out.Kind != model.KindToolResult {
		t.Fatalf("Kind = %s, want tool_result", out.Kind)
	}
	tr := out.Blocks[0].ToolResult
	if tr.ToolUseID != "call_9" || tr.Output != "a.go\nb.go\n" || !tr.IsError {
		t.Errorf("ToolResult = %+v", tr)
	}
}

func TestCodexPlainOutput(t *testing.T) {
	out, isErr := unwrapCodexOutput("plain text")
	if out != "plain text" || isErr {
		t.Errorf("got (%q, %v)", out, isErr)
	}
	out, isErr = unwrapCodexOutput(`{"other":1}`)
	if out != `{"other":1}` || isErr {
		t.Errorf("got (%q, %v)", out, isErr)
	}
}

func TestCodexOtherEnvelopes(t *testing.T) {
	src := Get("codex")
	e, err := src.Normalize(decode(t, `{"type":"event_msg","payload":{"type":"token_count"}}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if e.Kind != model.KindSystem || len(e.Blocks) != 0 {
		t.Errorf("got %+v", e)
	}
	e, err = src.Normalize(decode(t, `{"type":"response_item","payload":{"type":"reasoning","summary":[]}}`))
	if err != nil {
		t.Fatalf("Normalize reasoning: %v", err)
	}
	if e.Kind != model.KindSystem || len(e.Blocks) != 1 || e.Blocks[0].Type != model.BlockOther {
		t.Errorf("reasoning = %+v", e)
	}
	if _, err := src.Normalize(decode(t, `{"type":"response_item","payload":"x"}`)); err == nil {
		t.Error("expected error for non-object payload")
	}
}
