package paginate

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/scbrown/transcripts/internal/model"
)

// Weigher estimates the rendered cost of a piece of text.
type Weigher func(text string) int

// Bytes weighs text by its length in bytes.
func Bytes(text string) int { return len(text) }

var (
	tokenEncoder *tiktoken.Tiktoken
	encoderOnce  sync.Once
	encoderErr   error
)

func initTokenEncoder() error {
	encoderOnce.Do(func() {
		tokenEncoder, encoderErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encoderErr
}

// Tokens weighs text by its cl100k_base token count. If the encoding cannot
// be loaded it falls back to an estimate of four bytes per token.
func Tokens(text string) int {
	if text == "" {
		return 0
	}
	if err := initTokenEncoder(); err != nil {
		return (len(text) + 3) / 4
	}
	return len(tokenEncoder.Encode(text, nil, nil))
}

// WeigherByName returns the weigher for "bytes" or "tokens".
func WeigherByName(name string) (Weigher, error) {
	switch name {
	case "", "bytes":
		return Bytes, nil
	case "tokens":
		return Tokens, nil
	}
	return nil, fmt.Errorf("unknown weigher %q (want bytes or tokens)", name)
}

// SegmentWeight returns the weight of one segment. A tool segment weighs its
// name, input and output.
func SegmentWeight(seg model.Segment, w Weigher) int {
	if seg.Kind == model.SegmentTool && seg.Tool != nil {
		return w(seg.Tool.Name) + w(string(seg.Tool.Input)) + w(seg.Tool.Output)
	}
	return w(seg.Text)
}

// TurnWeight returns the weight of a whole turn.
func TurnWeight(t model.Turn, w Weigher) int {
	total := w(t.PromptText)
	for _, seg := range t.Segments {
		total += SegmentWeight(seg, w)
	}
	return total
}
