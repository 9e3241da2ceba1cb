package bank

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/scbrown/transcripts/internal/model"
)

// Format names an export format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatClaudeMD Format = "claude-md"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// Formats lists the supported export formats.
var Formats = []Format{FormatMarkdown, FormatClaudeMD, FormatJSON, FormatYAML}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown export format %q (valid: markdown, claude-md, json, yaml)", s)
}

const maxExampleLen = 100

var badges = map[string]string{"high": "🟢", "medium": "🟡", "low": "⚪"}

var confidenceRank = map[string]int{"high": 0, "medium": 1, "low": 2}

// Export writes b to w in the given format. now stamps the output.
func Export(w io.Writer, b *model.KnowledgeBank, f Format, now time.Time) error {
	switch f {
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(b, now))
		return err
	case FormatClaudeMD:
		_, err := io.WriteString(w, ClaudeMD(b))
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(document(b, now))
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(document(b, now)); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown export format %q", f)
}

type exportDoc struct {
	Generated  time.Time        `json:"generated" yaml:"generated"`
	Sessions   int              `json:"sessions" yaml:"sessions"`
	Categories []exportCategory `json:"categories" yaml:"categories"`
}

type exportCategory struct {
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Entries     []exportEntry `json:"entries" yaml:"entries"`
}

type exportEntry struct {
	Text        string   `json:"text" yaml:"text"`
	Confidence  string   `json:"confidence" yaml:"confidence"`
	Occurrences int      `json:"occurrences" yaml:"occurrences"`
	FirstSeen   string   `json:"first_seen_session" yaml:"first_seen_session"`
	LastSeen    string   `json:"last_seen_session" yaml:"last_seen_session"`
	Examples    []string `json:"examples,omitempty" yaml:"examples,omitempty"`
}

func document(b *model.KnowledgeBank, now time.Time) exportDoc {
	doc := exportDoc{Generated: now.UTC(), Sessions: len(b.ProcessedSessions), Categories: []exportCategory{}}
	for _, cat := range b.OrderedCategories() {
		ec := exportCategory{Name: cat, Description: b.Describe(cat)}
		for _, e := range byConfidence(b.Categories[cat]) {
			ec.Entries = append(ec.Entries, exportEntry{
				Text:        e.DisplayText,
				Confidence:  e.Confidence(),
				Occurrences: e.OccurrenceCount,
				FirstSeen:   e.FirstSeenSession,
				LastSeen:    e.LastSeenSession,
				Examples:    e.Examples,
			})
		}
		doc.Categories = append(doc.Categories, ec)
	}
	return doc
}

// Markdown renders the knowledge bank grouped by category, predefined
// categories first, with a confidence badge and up to three examples per
// entry.
func Markdown(b *model.KnowledgeBank, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("# My Claude Patterns\n\n")
	fmt.Fprintf(&sb, "> Auto-generated from %d sessions\n", len(b.ProcessedSessions))
	fmt.Fprintf(&sb, "> %d patterns\n", b.EntryCount())
	fmt.Fprintf(&sb, "> Last updated: %s\n\n", now.Format("2006-01-02 15:04"))

	cats := b.OrderedCategories()
	if len(cats) == 0 {
		sb.WriteString("*No patterns discovered yet. Run more sessions to build your knowledge bank.*\n")
		return sb.String()
	}

	for _, cat := range cats {
		fmt.Fprintf(&sb, "## %s\n", Title(cat))
		if desc := b.Describe(cat); desc != "" {
			fmt.Fprintf(&sb, "*%s*\n", desc)
		}
		sb.WriteString("\n")
		for _, e := range byConfidence(b.Categories[cat]) {
			fmt.Fprintf(&sb, "- **%s** %s\n", e.DisplayText, badges[e.Confidence()])
			for _, ex := range e.Examples {
				fmt.Fprintf(&sb, "  - _\"%s\"_\n", truncate(ex, maxExampleLen))
			}
			sb.WriteString("\n")
		}
	}
	sb.WriteString("---\n\n")
	sb.WriteString("**Confidence:** 🟢 High (3+ occurrences) | 🟡 Medium (2 occurrences) | ⚪ Low (1 occurrence)\n")
	return sb.String()
}

// ClaudeMD renders only high-confidence entries in a compact form suitable
// for a project's CLAUDE.md.
func ClaudeMD(b *model.KnowledgeBank) string {
	var sb strings.Builder
	sb.WriteString("# Project Preferences\n\n")
	sb.WriteString("<!-- Auto-generated from session analysis -->\n\n")

	wrote := false
	for _, cat := range b.OrderedCategories() {
		var high []model.PatternEntry
		for _, e := range b.Categories[cat] {
			if e.Confidence() == "high" {
				high = append(high, e)
			}
		}
		if len(high) == 0 {
			continue
		}
		wrote = true
		fmt.Fprintf(&sb, "## %s\n\n", Title(cat))
		for _, e := range high {
			fmt.Fprintf(&sb, "- %s\n", e.DisplayText)
		}
		sb.WriteString("\n")
	}
	if !wrote {
		sb.WriteString("*No high-confidence patterns discovered yet.*\n")
	}
	return sb.String()
}

// Title turns a category name like "error_handling" into "Error Handling".
func Title(cat string) string {
	words := strings.Fields(strings.ReplaceAll(cat, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

// byConfidence returns entries ordered high, medium, low, stable otherwise.
func byConfidence(entries []model.PatternEntry) []model.PatternEntry {
	out := append([]model.PatternEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		return confidenceRank[out[i].Confidence()] < confidenceRank[out[j].Confidence()]
	})
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
