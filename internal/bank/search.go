package bank

import (
	"github.com/scbrown/transcripts/internal/analyze"
	"github.com/scbrown/transcripts/internal/model"
)

// SearchThreshold is the minimum similarity for a search hit.
const SearchThreshold = 0.3

// SearchHit is one entry matching a search.
type SearchHit struct {
	Score float64            `json:"score"`
	Entry model.PatternEntry `json:"entry"`
}

// Search ranks every entry of b against query by similarity of display
// text and returns at most top hits, best first.
func Search(b *model.KnowledgeBank, query string, top int) []SearchHit {
	var entries []model.PatternEntry
	var texts []string
	for _, cat := range b.OrderedCategories() {
		for _, e := range b.Categories[cat] {
			entries = append(entries, e)
			texts = append(texts, e.DisplayText)
		}
	}
	hits := []SearchHit{}
	for _, sg := range analyze.Rank(query, texts, top, SearchThreshold) {
		hits = append(hits, SearchHit{Score: sg.Score, Entry: entries[sg.Index]})
	}
	return hits
}
