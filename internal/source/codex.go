package source

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scbrown/transcripts/internal/model"
)

// codexEnvelopes are the top-level line types of a Codex CLI rollout file.
var codexEnvelopes = map[string]bool{
	"session_meta":  true,
	"response_item": true,
	"event_msg":     true,
	"turn_context":  true,
	"compacted":     true,
}

var knownCodexFields = map[string]bool{
	"type":      true,
	"timestamp": true,
	"payload":   true,
}

// codexInjectedPrefixes mark user messages the CLI writes on the user's
// behalf rather than typed prompts.
var codexInjectedPrefixes = []string{"<environment_context>", "<user_instructions>", "<permissions"}

// codexCLI implements Source for OpenAI Codex CLI rollout logs
// (~/.codex/sessions/YYYY/MM/DD/rollout-*.jsonl).
type codexCLI struct{}

func init() {
	Register(&codexCLI{})
}

// Name returns "codex".
func (c *codexCLI) Name() string { return "codex" }

// Description returns a short human-readable description of this source.
func (c *codexCLI) Description() string { return "OpenAI Codex CLI rollout logs" }

// Detect recognizes the {type, payload} envelope.
func (c *codexCLI) Detect(m map[string]json.RawMessage) bool {
	if _, ok := m["payload"]; !ok {
		return false
	}
	return codexEnvelopes[str(m, "type")]
}

// Normalize maps a rollout line to an Event. Only response_item payloads
// carry conversation content; the other envelopes become system events.
func (c *codexCLI) Normalize(m map[string]json.RawMessage) (model.Event, error) {
	e := model.Event{
		Kind:      model.KindSystem,
		Timestamp: parseTimestamp(m["timestamp"]),
		Extra:     extraFields(m, knownCodexFields),
	}
	payload := object(m, "payload")
	if payload == nil {
		return model.Event{}, fmt.Errorf("codex: payload is not an object")
	}

	switch str(m, "type") {
	case "session_meta":
		e.SessionID = str(payload, "id")
		e.CWD = str(payload, "cwd")
		return e, nil
	case "turn_context":
		e.CWD = str(payload, "cwd")
		return e, nil
	case "response_item":
	default:
		return e, nil
	}

	e.UUID = str(payload, "id")
	switch typ := str(payload, "type"); typ {
	case "message":
		switch str(payload, "role") {
		case "user":
			e.Kind = model.KindUser
		case "assistant":
			e.Kind = model.KindAssistant
		}
		blocks, err := decodeContent(payload["content"])
		if err != nil {
			return model.Event{}, fmt.Errorf("codex: %w", err)
		}
		e.Blocks = blocks
		if e.Kind == model.KindUser && injected(e.Text()) {
			e.Meta = true
		}
	case "function_call", "custom_tool_call":
		e.Kind = model.KindToolUse
		b := blockFromMap(payload, typ, m["payload"])
		b.ToolUse.ID = firstStr(payload, "call_id", "id")
		e.Blocks = []model.Block{b}
	case "local_shell_call":
		e.Kind = model.KindToolUse
		var input json.RawMessage
		if action := object(payload, "action"); action != nil {
			input = action["command"]
		}
		e.Blocks = []model.Block{{Type: model.BlockToolUse, ToolUse: &model.ToolUse{
			ID:    firstStr(payload, "call_id", "id"),
			Name:  "local_shell",
			Input: input,
		}}}
	case "function_call_output", "custom_tool_call_output":
		e.Kind = model.KindToolResult
		b := blockFromMap(payload, typ, m["payload"])
		b.ToolResult.Output, b.ToolResult.IsError = unwrapCodexOutput(b.ToolResult.Output)
		e.Blocks = []model.Block{b}
	default:
		e.Blocks = []model.Block{{Type: model.BlockOther, Raw: m["payload"]}}
	}
	return e, nil
}

func injected(text string) bool {
	text = strings.TrimSpace(text)
	for _, p := range codexInjectedPrefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}

// unwrapCodexOutput extracts the output text from the JSON document exec
// tools return: {"output": "...", "metadata": {"exit_code": N}}. A nonzero
// exit code marks the result as an error. Plain text passes through.
func unwrapCodexOutput(s string) (string, bool) {
	var doc struct {
		Output   *string `json:"output"`
		Metadata struct {
			ExitCode int `json:"exit_code"`
		} `json:"metadata"`
	}
	if !strings.HasPrefix(strings.TrimSpace(s), "{") {
		return s, false
	}
	if err := json.Unmarshal([]byte(s), &doc); err != nil || doc.Output == nil {
		return s, false
	}
	return *doc.Output, doc.Metadata.ExitCode != 0
}
