package source

import (
	"encoding/json"
	"fmt"

	"github.com/scbrown/transcripts/internal/model"
)

// knownClaudeFields lists the top-level keys of a Claude Code session line
// that map onto Event fields. Everything else goes into Extra.
var knownClaudeFields = map[string]bool{
	"type":        true,
	"message":     true,
	"content":     true,
	"timestamp":   true,
	"uuid":        true,
	"parentUuid":  true,
	"sessionId":   true,
	"cwd":         true,
	"isMeta":      true,
	"isSidechain": true,
}

// claudeCode implements Source for Claude Code session logs
// (~/.claude/projects/<project>/<session>.jsonl).
type claudeCode struct{}

func init() {
	Register(&claudeCode{})
}

// Name returns "claude-code".
func (c *claudeCode) Name() string { return "claude-code" }

// Description returns a short human-readable description of this source.
func (c *claudeCode) Description() string {
	return "Claude Code session logs with message envelopes"
}

// Detect recognizes the message envelope and the session bookkeeping keys
// Claude Code writes on every line.
func (c *claudeCode) Detect(m map[string]json.RawMessage) bool {
	if v, ok := m["message"]; ok && isObject(v) {
		return true
	}
	for _, k := range []string{"sessionId", "parentUuid", "leafUuid", "isSidechain"} {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// Normalize maps one Claude Code line to an Event. The content lives in
// message.content; lines other than user and assistant become system events.
func (c *claudeCode) Normalize(m map[string]json.RawMessage) (model.Event, error) {
	e := model.Event{
		Timestamp:  parseTimestamp(m["timestamp"]),
		UUID:       str(m, "uuid"),
		ParentUUID: str(m, "parentUuid"),
		SessionID:  str(m, "sessionId"),
		CWD:        str(m, "cwd"),
		Meta:       flag(m, "isMeta"),
		Sidechain:  flag(m, "isSidechain"),
		Extra:      extraFields(m, knownClaudeFields),
	}

	msg := object(m, "message")
	typ := str(m, "type")
	if typ == "" && msg != nil {
		typ = str(msg, "role")
	}
	switch typ {
	case "user":
		e.Kind = model.KindUser
	case "assistant":
		e.Kind = model.KindAssistant
	default:
		e.Kind = model.KindSystem
	}

	var content json.RawMessage
	if msg != nil {
		content = msg["content"]
	} else if v, ok := m["content"]; ok {
		content = v
	}
	blocks, err := decodeContent(content)
	if err != nil {
		return model.Event{}, fmt.Errorf("claude-code: %w", err)
	}
	e.Blocks = blocks
	return e, nil
}
