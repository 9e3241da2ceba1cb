package bank

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scbrown/transcripts/internal/model"
)

var exportTime = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func exportBank() *model.KnowledgeBank {
	b := model.NewKnowledgeBank()
	b.ProcessedSessions["s1"] = model.SessionState{Fingerprint: "a"}
	b.ProcessedSessions["s2"] = model.SessionState{Fingerprint: "b"}
	b.Categories["testing"] = []model.PatternEntry{
		{Category: "testing", NormalizedText: "one-off", DisplayText: "Once seen", OccurrenceCount: 1},
		{Category: "testing", NormalizedText: "table tests", DisplayText: "Prefers table tests", OccurrenceCount: 4,
			Examples: []string{"use a table", strings.Repeat("x", 120)}},
	}
	b.Categories["deploy_flow"] = []model.PatternEntry{
		{Category: "deploy_flow", NormalizedText: "make deploy", DisplayText: "Deploys with make", OccurrenceCount: 2},
	}
	b.Categories["coding_style"] = []model.PatternEntry{
		{Category: "coding_style", NormalizedText: "tabs", DisplayText: "Uses tabs", OccurrenceCount: 3},
	}
	b.CustomCategories = map[string]string{"deploy_flow": "Release and deploy steps"}
	return b
}

func TestMarkdown(t *testing.T) {
	md := Markdown(exportBank(), exportTime)

	for _, want := range []string{
		"# My Claude Patterns\n",
		"> Auto-generated from 2 sessions\n",
		"> Last updated: 2026-03-02 09:30\n",
		"## Coding Style\n*Naming conventions, formatting, code style preferences*\n",
		"## Deploy Flow\n*Release and deploy steps*\n\n",
		"- **Prefers table tests** 🟢\n  - _\"use a table\"_\n",
		"- **Deploys with make** 🟡\n",
		"- **Once seen** ⚪\n",
		"_\"" + strings.Repeat("x", 97) + "...\"_",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q\n%s", want, md)
		}
	}

	// Predefined categories come first, custom ones after.
	if strings.Index(md, "## Testing") > strings.Index(md, "## Deploy Flow") {
		t.Error("custom category rendered before a predefined one")
	}
	// High confidence before low within a category.
	if strings.Index(md, "Prefers table tests") > strings.Index(md, "Once seen") {
		t.Error("entries not ordered by confidence")
	}
}

func TestMarkdownEmpty(t *testing.T) {
	md := Markdown(model.NewKnowledgeBank(), exportTime)
	if !strings.Contains(md, "*No patterns discovered yet.") {
		t.Errorf("empty markdown = %q", md)
	}
}

func TestClaudeMD(t *testing.T) {
	out := ClaudeMD(exportBank())
	if !strings.Contains(out, "## Coding Style\n\n- Uses tabs\n") || !strings.Contains(out, "- Prefers table tests\n") {
		t.Errorf("claude-md = %q", out)
	}
	if strings.Contains(out, "Deploys with make") || strings.Contains(out, "Once seen") {
		t.Error("claude-md includes non-high-confidence entries")
	}
	if empty := ClaudeMD(model.NewKnowledgeBank()); !strings.Contains(empty, "No high-confidence patterns") {
		t.Errorf("empty claude-md = %q", empty)
	}
}

func TestExportStructured(t *testing.T) {
	for _, f := range []Format{FormatJSON, FormatYAML} {
		var buf bytes.Buffer
		if err := Export(&buf, exportBank(), f, exportTime); err != nil {
			t.Fatalf("Export(%s): %v", f, err)
		}
		var doc exportDoc
		var err error
		if f == FormatJSON {
			err = json.Unmarshal(buf.Bytes(), &doc)
		} else {
			err = yaml.Unmarshal(buf.Bytes(), &doc)
		}
		if err != nil {
			t.Fatalf("decode %s: %v\n%s", f, err, buf.String())
		}
		if doc.Sessions != 2 || len(doc.Categories) != 3 {
			t.Fatalf("%s doc = %+v", f, doc)
		}
		names := []string{doc.Categories[0].Name, doc.Categories[1].Name, doc.Categories[2].Name}
		if names[0] != "coding_style" || names[1] != "testing" || names[2] != "deploy_flow" {
			t.Errorf("%s category order = %v", f, names)
		}
		if e := doc.Categories[1].Entries[0]; e.Confidence != "high" || e.Occurrences != 4 {
			t.Errorf("%s first testing entry = %+v", f, e)
		}
		if d := doc.Categories[2].Description; d != "Release and deploy steps" {
			t.Errorf("%s custom category description = %q", f, d)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for _, f := range Formats {
		if got, err := ParseFormat(string(f)); err != nil || got != f {
			t.Errorf("ParseFormat(%q) = %q, %v", f, got, err)
		}
	}
	if _, err := ParseFormat("html"); err == nil {
		t.Error("ParseFormat(html) succeeded")
	}
}

func TestTitle(t *testing.T) {
	tests := map[string]string{
		"error_handling": "Error Handling",
		"ui_ux":          "Ui Ux",
		"tools":          "Tools",
		"":               "",
	}
	for in, want := range tests {
		if got := Title(in); got != want {
			t.Errorf("Title(%q) = %q, want %q", in, got, want)
		}
	}
}
