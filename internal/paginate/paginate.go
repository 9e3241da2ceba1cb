// Package paginate partitions a session's turns into weight-bounded pages and
// builds the index a renderer uses to draw a cross-linked timeline.
package paginate

import (
	"fmt"
	"strings"

	"github.com/scbrown/transcripts/internal/model"
)

// DefaultMaxTurns is the default page_turns setting.
const DefaultMaxTurns = 5

// Options controls pagination.
type Options struct {
	// MaxTurns caps the turns on one page. 0 means no cap.
	MaxTurns int
	// Budget caps the weight of one page. 0 means no cap.
	Budget int
	// HardCeiling is the weight above which a lone turn is split along
	// segment boundaries. 0 means 4×Budget.
	HardCeiling int
	// Weigher measures content. nil means Bytes.
	Weigher Weigher
	// PreviewWidth is the display width of index previews. 0 means 72.
	PreviewWidth int
}

func (o Options) withDefaults() Options {
	if o.Weigher == nil {
		o.Weigher = Bytes
	}
	if o.HardCeiling == 0 && o.Budget > 0 {
		o.HardCeiling = 4 * o.Budget
	}
	if o.HardCeiling > 0 && o.HardCeiling < o.Budget {
		o.HardCeiling = o.Budget
	}
	if o.PreviewWidth <= 0 {
		o.PreviewWidth = 72
	}
	return o
}

// Paginate packs turns greedily into pages. A page closes when the next turn
// would exceed Budget or MaxTurns. A turn heavier than Budget gets a page to
// itself; one heavier than HardCeiling is split into continuation sub-pages,
// each recorded as an oversized_turn anomaly.
func Paginate(turns []model.Turn, opts Options) ([]model.Page, []model.Anomaly) {
	opts = opts.withDefaults()
	var (
		pages     []model.Page
		anomalies []model.Anomaly
		open      bool
		cur       model.Page
		count     int
	)
	flush := func() {
		if open {
			pages = append(pages, cur)
			open = false
		}
	}

	for i, t := range turns {
		w := TurnWeight(t, opts.Weigher)
		if opts.Budget > 0 && w > opts.Budget {
			flush()
			if w > opts.HardCeiling {
				parts := splitTurn(i, t, opts)
				pages = append(pages, parts...)
				anomalies = append(anomalies, model.Anomaly{
					Kind:   model.AnomalyOversizedTurn,
					Turn:   i,
					Detail: fmt.Sprintf("turn %d weighs %d, above hard ceiling %d; split into %d pages", i, w, opts.HardCeiling, len(parts)),
				})
				continue
			}
			pages = append(pages, model.Page{TurnSpan: model.TurnSpan{Start: i, End: i}, Weight: w})
			continue
		}
		if open && ((opts.Budget > 0 && cur.Weight+w > opts.Budget) || (opts.MaxTurns > 0 && count >= opts.MaxTurns)) {
			flush()
		}
		if !open {
			cur = model.Page{TurnSpan: model.TurnSpan{Start: i, End: i}}
			count = 0
			open = true
		}
		cur.TurnSpan.End = i
		cur.Weight += w
		count++
	}
	flush()
	link(pages)
	return pages, anomalies
}

// splitTurn divides one turn into sub-pages along segment boundaries, each
// packed up to Budget. A single segment heavier than Budget stays whole.
func splitTurn(idx int, t model.Turn, opts Options) []model.Page {
	var pages []model.Page
	start := 0
	weight := opts.Weigher(t.PromptText)
	withPrompt := true
	emit := func(end int) {
		pages = append(pages, model.Page{
			TurnSpan: model.TurnSpan{Start: idx, End: idx},
			Weight:   weight,
			Continuation: &model.Continuation{
				SegmentStart:   start,
				SegmentEnd:     end,
				IncludesPrompt: withPrompt,
			},
		})
	}
	for j, seg := range t.Segments {
		sw := SegmentWeight(seg, opts.Weigher)
		hasContent := j > start || (withPrompt && weight > 0)
		if hasContent && weight+sw > opts.Budget {
			emit(j)
			start, weight, withPrompt = j, 0, false
		}
		weight += sw
	}
	emit(len(t.Segments))
	for k := range pages {
		pages[k].Continuation.Part = k + 1
		pages[k].Continuation.Parts = len(pages)
	}
	return pages
}

// link numbers pages from 1 and sets prev/next links.
func link(pages []model.Page) {
	for i := range pages {
		pages[i].Number = i + 1
		pages[i].PrevLink, pages[i].NextLink = nil, nil
		if i > 0 {
			prev := i
			pages[i].PrevLink = &prev
		}
		if i < len(pages)-1 {
			next := i + 2
			pages[i].NextLink = &next
		}
	}
}

// Slice returns the turns shown on page p. For a continuation sub-page the
// single turn carries only that part's segments; the prompt is kept on the
// part that includes it and the commit refs on the parts whose tool output
// reports them.
func Slice(turns []model.Turn, p model.Page) []model.Turn {
	if p.TurnSpan.Start < 0 || p.TurnSpan.End >= len(turns) || p.TurnSpan.Start > p.TurnSpan.End {
		return nil
	}
	if p.Continuation == nil {
		return turns[p.TurnSpan.Start : p.TurnSpan.End+1]
	}
	t := turns[p.TurnSpan.Start]
	c := p.Continuation
	if c.SegmentStart < 0 || c.SegmentEnd > len(t.Segments) || c.SegmentStart > c.SegmentEnd {
		return nil
	}
	part := t
	part.Segments = t.Segments[c.SegmentStart:c.SegmentEnd]
	if !c.IncludesPrompt {
		part.PromptText = ""
	}
	part.CommitRefs = []model.CommitRef{}
	for _, ref := range t.CommitRefs {
		if reportsCommit(part.Segments, ref.SHA) {
			part.CommitRefs = append(part.CommitRefs, ref)
		}
	}
	part.TimeRange = model.TimeRange{}
	if c.IncludesPrompt {
		part.TimeRange.Extend(t.TimeRange.Start)
	}
	for _, seg := range part.Segments {
		part.TimeRange.Extend(seg.Timestamp)
		if seg.Tool != nil {
			part.TimeRange.Extend(seg.Tool.FinishedAt)
		}
	}
	return []model.Turn{part}
}

func reportsCommit(segs []model.Segment, sha string) bool {
	for _, seg := range segs {
		if seg.Tool != nil && strings.Contains(seg.Tool.Output, sha) {
			return true
		}
	}
	return false
}
