package source

import (
	"encoding/json"
	"fmt"

	"github.com/scbrown/transcripts/internal/model"
)

var knownFlatFields = map[string]bool{
	"type":         true,
	"role":         true,
	"content":      true,
	"text":         true,
	"timestamp":    true,
	"ts":           true,
	"created_at":   true,
	"uuid":         true,
	"parent_uuid":  true,
	"parentUuid":   true,
	"session_id":   true,
	"sessionId":    true,
	"cwd":          true,
	"is_meta":      true,
	"isMeta":       true,
	"is_sidechain": true,
	"isSidechain":  true,
}

// Tool events carry their payload at the top level, so these keys are
// consumed by the block rather than preserved.
var knownFlatToolFields = map[string]bool{
	"id":           true,
	"name":         true,
	"input":        true,
	"arguments":    true,
	"output":       true,
	"tool_use_id":  true,
	"toolUseId":    true,
	"tool_call_id": true,
	"call_id":      true,
	"is_error":     true,
	"isError":      true,
}

var flatKinds = map[string]model.EventKind{
	"user":                 model.KindUser,
	"human":                model.KindUser,
	"assistant":            model.KindAssistant,
	"ai":                   model.KindAssistant,
	"model":                model.KindAssistant,
	"tool_use":             model.KindToolUse,
	"tool_call":            model.KindToolUse,
	"function_call":        model.KindToolUse,
	"tool_result":          model.KindToolResult,
	"tool":                 model.KindToolResult,
	"function_call_output": model.KindToolResult,
	"system":               model.KindSystem,
}

// flat implements Source for the generic event shape: a top-level type or
// role, and content as a flat string or a block array. It accepts nearly
// anything and is tried last.
type flat struct{}

func init() {
	Register(&flat{})
}

// Name returns "flat".
func (f *flat) Name() string { return "flat" }

// Description returns a short human-readable description of this source.
func (f *flat) Description() string { return "Generic events with top-level type/role and content" }

// Detect accepts any object with a type or role.
func (f *flat) Detect(m map[string]json.RawMessage) bool {
	_, hasType := m["type"]
	_, hasRole := m["role"]
	return hasType || hasRole
}

// Normalize maps a generic event. An unrecognized type becomes a system
// event; an object with neither type nor role is rejected.
func (f *flat) Normalize(m map[string]json.RawMessage) (model.Event, error) {
	typ, role := str(m, "type"), str(m, "role")
	if typ == "" && role == "" {
		return model.Event{}, fmt.Errorf("flat: missing type and role")
	}
	kind, ok := flatKinds[typ]
	if !ok {
		kind, ok = flatKinds[role]
	}
	if !ok {
		kind = model.KindSystem
	}

	ts, ok := m["timestamp"]
	if !ok {
		ts, ok = m["ts"]
	}
	if !ok {
		ts = m["created_at"]
	}
	e := model.Event{
		Kind:       kind,
		Timestamp:  parseTimestamp(ts),
		UUID:       str(m, "uuid"),
		ParentUUID: firstStr(m, "parent_uuid", "parentUuid"),
		SessionID:  firstStr(m, "session_id", "sessionId"),
		CWD:        str(m, "cwd"),
		Meta:       flag(m, "is_meta", "isMeta"),
		Sidechain:  flag(m, "is_sidechain", "isSidechain"),
	}

	isTool := kind == model.KindToolUse || kind == model.KindToolResult
	_, hasContent := m["content"]
	switch {
	case isTool && (kind == model.KindToolResult || !hasContent):
		// Top-level tool events: the object itself is the block. A result's
		// content is its output, not a block list.
		blockType := "tool_use"
		if kind == model.KindToolResult {
			blockType = "tool_result"
		}
		e.Blocks = []model.Block{blockFromMap(m, blockType, nil)}
		e.Extra = extraFields(m, mergeKnown(knownFlatFields, knownFlatToolFields))
		return e, nil
	case hasContent:
		blocks, err := decodeContent(m["content"])
		if err != nil {
			return model.Event{}, fmt.Errorf("flat: %w", err)
		}
		e.Blocks = blocks
	case str(m, "text") != "":
		e.Blocks = []model.Block{model.TextBlock(str(m, "text"))}
	}
	e.Extra = extraFields(m, knownFlatFields)
	return e, nil
}

func mergeKnown(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}
