package transcript

import (
	"fmt"
	"strings"

	"github.com/scbrown/transcripts/internal/model"
)

// Meta identifies the session being built. Empty fields are filled from the
// first event that carries them.
type Meta struct {
	SessionID   string
	ProjectPath string
}

// Build groups events into turns. A turn opens at each user event that
// carries prompt text; a user event holding only tool results folds into the
// open turn. Tool calls are correlated with their results by id. Build never
// fails: problems are recorded as anomalies on the returned session.
func Build(meta Meta, events []model.Event) model.Session {
	b := &builder{
		open:     make(map[string]*model.ToolInvocation),
		resolved: make(map[string]*model.ToolInvocation),
	}
	for i := range events {
		b.event(&events[i])
	}
	b.finish()

	s := model.Session{
		ID:            meta.SessionID,
		ProjectPath:   meta.ProjectPath,
		Turns:         b.turns,
		RawEventCount: len(events),
		Anomalies:     b.anomalies,
	}
	for _, e := range events {
		if s.ID == "" && e.SessionID != "" {
			s.ID = e.SessionID
		}
		if s.ProjectPath == "" && e.CWD != "" {
			s.ProjectPath = e.CWD
		}
	}
	return s
}

// builder holds the state of one Build call.
type builder struct {
	turns []model.Turn
	cur   *model.Turn

	// open maps tool_use ids to invocations awaiting a result.
	open map[string]*model.ToolInvocation
	// resolved maps ids whose result has been seen, to detect duplicates.
	resolved map[string]*model.ToolInvocation
	// started lists every invocation in creation order.
	started []*model.ToolInvocation

	anomalies []model.Anomaly
}

// isPrompt reports whether e opens a new turn.
func isPrompt(e *model.Event) bool {
	if e.Kind != model.KindUser || e.Meta || e.Sidechain {
		return false
	}
	return strings.TrimSpace(e.Text()) != ""
}

func (b *builder) event(e *model.Event) {
	// Results first: a mixed user event resolves the previous turn's calls
	// before it opens the next turn.
	for _, blk := range e.Blocks {
		if blk.Type == model.BlockToolResult && blk.ToolResult != nil {
			b.result(e, blk.ToolResult)
		}
	}

	if isPrompt(e) {
		b.closeTurn()
		b.cur = &model.Turn{
			PromptText:     e.Text(),
			PromptSequence: e.Sequence,
			Segments:       []model.Segment{},
			CommitRefs:     []model.CommitRef{},
		}
		b.cur.TimeRange.Extend(e.Timestamp)
		for _, blk := range e.Blocks {
			if blk.Type == model.BlockToolUse && blk.ToolUse != nil {
				b.use(e, blk.ToolUse)
			}
		}
		return
	}

	if b.cur != nil {
		b.cur.TimeRange.Extend(e.Timestamp)
	}
	for _, blk := range e.Blocks {
		switch blk.Type {
		case model.BlockText:
			// System and client-injected text is not part of the exchange.
			if e.Kind == model.KindSystem || e.Meta || strings.TrimSpace(blk.Text) == "" {
				continue
			}
			role := string(e.Kind)
			if e.Sidechain {
				role += ":sidechain"
			}
			b.ensureTurn(e)
			b.cur.Segments = append(b.cur.Segments, model.Segment{
				Kind:      model.SegmentText,
				Role:      role,
				Text:      blk.Text,
				Timestamp: e.Timestamp,
			})
		case model.BlockToolUse:
			if blk.ToolUse != nil {
				b.use(e, blk.ToolUse)
			}
		}
	}
}

// ensureTurn opens a preamble turn with an empty prompt when content
// arrives before the first prompt.
func (b *builder) ensureTurn(e *model.Event) {
	if b.cur != nil {
		return
	}
	b.cur = &model.Turn{
		PromptSequence: e.Sequence,
		Segments:       []model.Segment{},
		CommitRefs:     []model.CommitRef{},
	}
	b.cur.TimeRange.Extend(e.Timestamp)
}

func (b *builder) closeTurn() {
	if b.cur == nil {
		return
	}
	b.cur.Index = len(b.turns)
	b.turns = append(b.turns, *b.cur)
	b.cur = nil
}

func (b *builder) use(e *model.Event, tu *model.ToolUse) {
	b.ensureTurn(e)
	inv := &model.ToolInvocation{
		ID:             tu.ID,
		Name:           tu.Name,
		Input:          tu.Input,
		UseSequence:    e.Sequence,
		ResultSequence: -1,
		StartedAt:      e.Timestamp,
	}
	b.cur.Segments = append(b.cur.Segments, model.Segment{
		Kind:      model.SegmentTool,
		Role:      "assistant",
		Tool:      inv,
		Timestamp: e.Timestamp,
	})
	b.started = append(b.started, inv)

	switch {
	case tu.ID == "":
		b.anomaly(e, "", "tool_use without id cannot be matched to a result")
	case b.open[tu.ID] != nil || b.resolved[tu.ID] != nil:
		b.anomaly(e, tu.ID, fmt.Sprintf("duplicate tool_use id %q", tu.ID))
	default:
		b.open[tu.ID] = inv
	}
}

func (b *builder) result(e *model.Event, tr *model.ToolResult) {
	if inv, ok := b.open[tr.ToolUseID]; ok {
		inv.Output = tr.Output
		inv.Status = model.StatusCompleted
		if tr.IsError {
			inv.Status = model.StatusError
		}
		inv.ResultSequence = e.Sequence
		inv.FinishedAt = e.Timestamp
		delete(b.open, tr.ToolUseID)
		b.resolved[tr.ToolUseID] = inv
		return
	}

	if _, dup := b.resolved[tr.ToolUseID]; dup {
		b.anomaly(e, tr.ToolUseID, fmt.Sprintf("duplicate tool_result for %q; first result kept", tr.ToolUseID))
	} else {
		b.anomaly(e, tr.ToolUseID, fmt.Sprintf("tool_result for %q has no matching tool_use", tr.ToolUseID))
	}

	b.ensureTurn(e)
	b.cur.TimeRange.Extend(e.Timestamp)
	b.cur.Segments = append(b.cur.Segments, model.Segment{
		Kind: model.SegmentTool,
		Role: "user",
		Tool: &model.ToolInvocation{
			ID:             tr.ToolUseID,
			Output:         tr.Output,
			Status:         model.StatusOrphanUnmatchedResult,
			UseSequence:    -1,
			ResultSequence: e.Sequence,
			FinishedAt:     e.Timestamp,
		},
		Timestamp: e.Timestamp,
	})
}

func (b *builder) anomaly(e *model.Event, toolUseID, detail string) {
	// The open turn, or the preamble about to be opened, gets this index.
	turn := len(b.turns)
	b.anomalies = append(b.anomalies, model.Anomaly{
		Kind:      model.AnomalySchema,
		Sequence:  e.Sequence,
		Turn:      turn,
		ToolUseID: toolUseID,
		Detail:    detail,
	})
}

// finish closes the last turn, marks unresolved calls orphan_pending and
// extracts commit references.
func (b *builder) finish() {
	b.closeTurn()
	for _, inv := range b.started {
		if inv.Status == "" {
			inv.Status = model.StatusOrphanPending
		}
	}
	for i := range b.turns {
		b.turns[i].CommitRefs = turnCommits(b.turns[i])
	}
}
