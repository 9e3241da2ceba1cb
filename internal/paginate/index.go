package paginate

import (
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/scbrown/transcripts/internal/model"
)

// Document is a paginated session: its index and one document per page.
type Document struct {
	Index model.Index
	Pages []model.PageDocument
}

// Assemble paginates s and builds its index and page documents.
func Assemble(s model.Session, opts Options) Document {
	opts = opts.withDefaults()
	pages, anomalies := Paginate(s.Turns, opts)
	doc := Document{
		Index: BuildIndex(s, pages, anomalies, opts.PreviewWidth),
		Pages: make([]model.PageDocument, 0, len(pages)),
	}
	for _, p := range pages {
		doc.Pages = append(doc.Pages, model.PageDocument{
			SessionID: s.ID,
			Page:      p,
			Turns:     Slice(s.Turns, p),
		})
	}
	return doc
}

// BuildIndex summarizes each page: its time range, a prompt preview per
// turn, and the commit refs reported on it. The session's anomalies are
// carried over followed by the pagination anomalies.
func BuildIndex(s model.Session, pages []model.Page, anomalies []model.Anomaly, previewWidth int) model.Index {
	if previewWidth <= 0 {
		previewWidth = 72
	}
	idx := model.Index{
		SessionID:   s.ID,
		ProjectPath: s.ProjectPath,
		TotalTurns:  len(s.Turns),
		Pages:       make([]model.IndexPage, 0, len(pages)),
	}
	idx.Anomalies = append(idx.Anomalies, s.Anomalies...)
	idx.Anomalies = append(idx.Anomalies, anomalies...)

	for _, p := range pages {
		ip := model.IndexPage{
			Number:       p.Number,
			Previews:     []model.Preview{},
			CommitRefs:   []model.CommitRef{},
			Continuation: p.Continuation != nil,
		}
		seen := make(map[string]bool)
		for i, t := range Slice(s.Turns, p) {
			ip.TimeRange.Merge(t.TimeRange)
			ip.Previews = append(ip.Previews, model.Preview{
				Turn: p.TurnSpan.Start + i,
				Text: Preview(t.PromptText, previewWidth),
			})
			for _, ref := range t.CommitRefs {
				if !seen[ref.SHA] {
					seen[ref.SHA] = true
					ip.CommitRefs = append(ip.CommitRefs, ref)
				}
			}
		}
		idx.Pages = append(idx.Pages, ip)
	}
	return idx
}

// Preview collapses whitespace in s and truncates it to width display
// columns.
func Preview(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, width, "…")
}
