package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/scbrown/transcripts/internal/model"
)

// toolIDKeys are the field names schema variants use for a tool call id,
// in lookup order.
var toolIDKeys = []string{"id", "tool_use_id", "toolUseId", "tool_call_id", "call_id"}

// resultIDKeys are the field names that link a result back to its call.
var resultIDKeys = []string{"tool_use_id", "toolUseId", "tool_call_id", "call_id", "id"}

// str returns m[key] as a string, or "" if absent or not a string.
func str(m map[string]json.RawMessage, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}

// firstStr returns the first non-empty string among keys.
func firstStr(m map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if s := str(m, k); s != "" {
			return s
		}
	}
	return ""
}

// flag returns m[key] as a bool. Missing or non-bool values are false.
func flag(m map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		var b bool
		if err := json.Unmarshal(v, &b); err == nil && b {
			return true
		}
	}
	return false
}

// object decodes m[key] as a JSON object, or returns nil.
func object(m map[string]json.RawMessage, key string) map[string]json.RawMessage {
	v, ok := m[key]
	if !ok || !isObject(v) {
		return nil
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(v, &out); err != nil {
		return nil
	}
	return out
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// parseTimestamp accepts RFC 3339 strings and numeric epochs in seconds or
// milliseconds. Anything else yields the zero time.
func parseTimestamp(raw json.RawMessage) time.Time {
	if isNull(raw) {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC()
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return epoch(n)
		}
		return time.Time{}
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return epoch(n)
	}
	return time.Time{}
}

func epoch(n float64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec := int64(n)
	return time.Unix(sec, int64((n-float64(sec))*1e9)).UTC()
}

// extraFields returns the entries of m whose keys are not in known.
func extraFields(m map[string]json.RawMessage, known map[string]bool) map[string]json.RawMessage {
	var extra map[string]json.RawMessage
	for k, v := range m {
		if known[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}
	return extra
}

// decodeContent decodes a content field that is either a flat string, a
// single block object, or an array of blocks.
func decodeContent(raw json.RawMessage) ([]model.Block, error) {
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}
		return []model.Block{model.TextBlock(s)}, nil
	}
	if isObject(raw) {
		return []model.Block{decodeBlock(raw)}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("content is neither string nor block array")
	}
	blocks := make([]model.Block, 0, len(items))
	for _, item := range items {
		blocks = append(blocks, decodeBlock(item))
	}
	return blocks, nil
}

// decodeBlock decodes one content block. Unrecognized shapes become
// BlockOther with the raw bytes preserved.
func decodeBlock(raw json.RawMessage) model.Block {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return model.TextBlock(s)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return model.Block{Type: model.BlockOther, Raw: raw}
	}
	return blockFromMap(m, str(m, "type"), raw)
}

// blockFromMap builds a block of the given type from a decoded object.
func blockFromMap(m map[string]json.RawMessage, typ string, raw json.RawMessage) model.Block {
	switch typ {
	case "text", "input_text", "output_text":
		return model.TextBlock(str(m, "text"))
	case "tool_use", "function_call", "tool_call", "custom_tool_call":
		input := m["input"]
		if input == nil {
			input = decodeArguments(m["arguments"])
		}
		return model.Block{Type: model.BlockToolUse, ToolUse: &model.ToolUse{
			ID:    firstStr(m, toolIDKeys...),
			Name:  str(m, "name"),
			Input: input,
		}}
	case "tool_result", "function_call_output", "custom_tool_call_output":
		out, ok := m["content"]
		if !ok {
			out = m["output"]
		}
		return model.Block{Type: model.BlockToolResult, ToolResult: &model.ToolResult{
			ToolUseID: firstStr(m, resultIDKeys...),
			Output:    decodeOutput(out),
			IsError:   flag(m, "is_error", "isError"),
		}}
	}
	return model.Block{Type: model.BlockOther, Raw: raw}
}

// decodeArguments unwraps an arguments field that carries JSON encoded as a
// string. Other values pass through unchanged.
func decodeArguments(raw json.RawMessage) json.RawMessage {
	if isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return raw
}

// decodeOutput flattens tool output: a string, an array of text blocks, or
// any other JSON value kept as compact JSON text.
func decodeOutput(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		var parts []string
		for _, item := range items {
			b := decodeBlock(item)
			switch {
			case b.Type == model.BlockText:
				parts = append(parts, b.Text)
			default:
				parts = append(parts, compact(item))
			}
		}
		return strings.Join(parts, "\n")
	}
	return compact(raw)
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
