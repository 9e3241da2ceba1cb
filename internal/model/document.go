package model

// TurnSpan is an inclusive range of turn indices.
type TurnSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of turns in the span.
func (s TurnSpan) Len() int { return s.End - s.Start + 1 }

// Continuation marks a sub-page produced by splitting one oversized turn.
// SegmentStart and SegmentEnd are a half-open range into the turn's segments.
type Continuation struct {
	Part           int  `json:"part"`
	Parts          int  `json:"parts"`
	SegmentStart   int  `json:"segment_start"`
	SegmentEnd     int  `json:"segment_end"`
	IncludesPrompt bool `json:"includes_prompt"`
}

// Page is a bounded, renderable slice of a session's turns.
type Page struct {
	Number       int           `json:"page_number"`
	TurnSpan     TurnSpan      `json:"turn_span"`
	Weight       int           `json:"estimated_weight"`
	PrevLink     *int          `json:"prev_link"`
	NextLink     *int          `json:"next_link"`
	Continuation *Continuation `json:"continuation,omitempty"`
}

// Preview is the short prompt summary of one turn shown in the index.
type Preview struct {
	Turn int    `json:"turn"`
	Text string `json:"text"`
}

// IndexPage summarizes one page for the cross-linked timeline.
type IndexPage struct {
	Number       int         `json:"number"`
	TimeRange    TimeRange   `json:"time_range"`
	Previews     []Preview   `json:"preview_entries"`
	CommitRefs   []CommitRef `json:"commit_refs"`
	Continuation bool        `json:"continuation,omitempty"`
}

// Index is the session-level summary consumed by a renderer.
type Index struct {
	SessionID   string      `json:"session_id"`
	ProjectPath string      `json:"project_path,omitempty"`
	TotalTurns  int         `json:"total_turns"`
	Pages       []IndexPage `json:"pages"`
	Anomalies   []Anomaly   `json:"anomalies,omitempty"`
}

// PageDocument is one page with its ordered turn slice. For a continuation
// sub-page the single turn carries only the segments of that part.
type PageDocument struct {
	SessionID string `json:"session_id"`
	Page      Page   `json:"page"`
	Turns     []Turn `json:"turns"`
}
