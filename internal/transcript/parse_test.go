package transcript

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/scbrown/transcripts/internal/model"
)

func mustOpen(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func mustParse(t *testing.T, input string, opts Options) *Result {
	t.Helper()
	res, err := ParseBytes([]byte(input), opts)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	return res
}

const fixBugArray = `[{"type":"user","content":"fix bug"},{"type":"assistant","content":[{"type":"tool_use","id":"t1","name":"bash","input":"git commit -am fix"}]},{"type":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"[main abc1234] fix"}]}]`

const fixBugLines = `{"type":"user","content":"fix bug"}
{"type":"assistant","content":[{"type":"tool_use","id":"t1","name":"bash","input":"git commit -am fix"}]}

{"type":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"[main abc1234] fix"}]}
`

func TestParseDetectsFormat(t *testing.T) {
	arr := mustParse(t, fixBugArray, Options{})
	if arr.Format != FormatArray {
		t.Errorf("array Format = %s", arr.Format)
	}
	lines := mustParse(t, fixBugLines, Options{})
	if lines.Format != FormatJSONL {
		t.Errorf("lines Format = %s", lines.Format)
	}
	if len(arr.Events) != 3 || len(lines.Events) != 3 {
		t.Fatalf("events: array=%d lines=%d, want 3 each", len(arr.Events), len(lines.Events))
	}
	for i, e := range lines.Events {
		if e.Sequence != i {
			t.Errorf("event %d Sequence = %d", i, e.Sequence)
		}
	}
}

func TestParseEmptyInput(t *testing.T) {
	for _, in := range []string{"", "\n\n  \n", "[]"} {
		res := mustParse(t, in, Options{})
		if len(res.Events) != 0 {
			t.Errorf("ParseBytes(%q) returned %d events", in, len(res.Events))
		}
		s := Build(Meta{}, res.Events)
		if len(s.Turns) != 0 {
			t.Errorf("Build on empty input returned %d turns", len(s.Turns))
		}
	}
}

func TestParseStrictReportsLine(t *testing.T) {
	input := `{"type":"user","content":"one"}
{"type":"assistant","content":"two"
{"type":"user","content":"three"}`
	_, err := ParseBytes([]byte(input), Options{Policy: Strict})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrMalformedInput) {
		t.Errorf("error %v does not match ErrMalformedInput", err)
	}
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error %T is not *ParseError", err)
	}
	if perr.Line != 2 {
		t.Errorf("Line = %d, want 2", perr.Line)
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("message %q does not name the line", err.Error())
	}
}

func TestParseLenientSkipsLine(t *testing.T) {
	input := `{"type":"user","content":"one"}
not json at all
{"no_type":true}
{"type":"user","content":"two"}`
	res := mustParse(t, input, Options{Policy: Lenient})
	if len(res.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(res.Events))
	}
	if res.Events[1].Sequence != 1 {
		t.Errorf("second event Sequence = %d, want 1", res.Events[1].Sequence)
	}
	if len(res.Anomalies) != 2 {
		t.Fatalf("got %d anomalies, want 2", len(res.Anomalies))
	}
	for i, want := range []int{2, 3} {
		a := res.Anomalies[i]
		if a.Kind != model.AnomalyMalformedInput || a.Line != want {
			t.Errorf("anomaly %d = %+v, want malformed_input on line %d", i, a, want)
		}
	}
}

func TestParseArrayElementError(t *testing.T) {
	input := `[{"type":"user","content":"a"}, 5, {"type":"user","content":"b"}]`
	_, err := ParseBytes([]byte(input), Options{Policy: Strict})
	var perr *ParseError
	if !errors.As(err, &perr) || perr.Element != 2 {
		t.Fatalf("err = %v, want element 2", err)
	}
	res := mustParse(t, input, Options{Policy: Lenient})
	if len(res.Events) != 2 || len(res.Anomalies) != 1 {
		t.Errorf("lenient: %d events, %d anomalies", len(res.Events), len(res.Anomalies))
	}
}

func TestParseTruncatedArrayFallsBackToLines(t *testing.T) {
	_, err := ParseBytes([]byte(`[{"type":"user","content":"a"}`), Options{})
	var perr *ParseError
	if !errors.As(err, &perr) || perr.Line != 1 {
		t.Fatalf("err = %v, want line 1", err)
	}
}

func TestParseForcedSource(t *testing.T) {
	res := mustParse(t, `{"type":"user","content":"hi"}`, Options{Source: "claude-code"})
	if res.Events[0].Text() != "hi" {
		t.Errorf("Text = %q", res.Events[0].Text())
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", Strict, false},
		{"strict", Strict, false},
		{"LENIENT", Lenient, false},
		{"loose", Strict, true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePolicy(%q) = (%v, %v)", tt.in, got, err)
		}
	}
	if Lenient.String() != "lenient" || Strict.String() != "strict" {
		t.Error("Policy.String mismatch")
	}
}

func TestParseFile(t *testing.T) {
	res, err := Parse(mustOpen(t, "testdata/claude_session.jsonl"), Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Events) != 11 {
		t.Errorf("got %d events, want 11", len(res.Events))
	}
	if res.Events[0].Kind != model.KindSystem {
		t.Errorf("summary line kind = %s, want system", res.Events[0].Kind)
	}
}
