// Package transcript reconstructs session logs. Parse decodes array-JSON or
// JSONL event streams into normalized events; Build groups those events into
// turns with correlated tool invocations and commit references.
package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/scbrown/transcripts/internal/model"
	"github.com/scbrown/transcripts/internal/source"
)

// ErrMalformedInput is wrapped by every error caused by undecodable input.
var ErrMalformedInput = errors.New("malformed input")

// Policy selects how a malformed line or element is handled.
type Policy int

const (
	// Strict aborts parsing at the first malformed line.
	Strict Policy = iota
	// Lenient skips malformed lines, recording an anomaly for each.
	Lenient
)

func (p Policy) String() string {
	if p == Lenient {
		return "lenient"
	}
	return "strict"
}

// ParsePolicy converts "strict" or "lenient" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "strict":
		return Strict, nil
	case "lenient":
		return Lenient, nil
	}
	return Strict, fmt.Errorf("unknown parse policy %q (want strict or lenient)", s)
}

// Format is the detected container format of the input.
type Format string

const (
	FormatArray Format = "array"
	FormatJSONL Format = "jsonl"
)

// ParseError reports a malformed line (JSONL, 1-based) or array element
// (1-based). It matches ErrMalformedInput with errors.Is.
type ParseError struct {
	Line    int
	Element int
	Err     error
}

func (e *ParseError) Error() string {
	switch {
	case e.Line > 0:
		return fmt.Sprintf("line %d: %v: %v", e.Line, ErrMalformedInput, e.Err)
	case e.Element > 0:
		return fmt.Sprintf("element %d: %v: %v", e.Element, ErrMalformedInput, e.Err)
	}
	return fmt.Sprintf("%v: %v", ErrMalformedInput, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrMalformedInput, e.Err} }

// Options controls parsing.
type Options struct {
	Policy Policy
	// Source forces one schema variant. Empty detects per object.
	Source string
}

// Result is the output of a successful parse.
type Result struct {
	Events    []model.Event
	Format    Format
	Anomalies []model.Anomaly
}

// maxLine bounds a single JSONL line; tool outputs can be very large.
const maxLine = 64 * 1024 * 1024

// Parse reads all of r and parses it with ParseBytes.
func Parse(r io.Reader, opts Options) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}
	return ParseBytes(data, opts)
}

// ParseBytes decodes data as a single JSON array of event objects, falling
// back to newline-delimited JSON when that fails. Events are numbered in
// stream order starting at 0. Empty input yields no events.
func ParseBytes(data []byte, opts Options) (*Result, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err == nil {
			return parseArray(items, opts)
		}
	}
	return parseLines(data, opts)
}

func parseArray(items []json.RawMessage, opts Options) (*Result, error) {
	res := &Result{Format: FormatArray}
	for i, item := range items {
		if err := res.add(item, opts); err != nil {
			perr := &ParseError{Element: i + 1, Err: err}
			if opts.Policy == Strict {
				return nil, perr
			}
			res.Anomalies = append(res.Anomalies, model.Anomaly{
				Kind:   model.AnomalyMalformedInput,
				Detail: perr.Error(),
			})
		}
	}
	return res, nil
}

func parseLines(data []byte, opts Options) (*Result, error) {
	res := &Result{Format: FormatJSONL}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := res.add(line, opts); err != nil {
			if opts.Policy == Strict {
				return nil, &ParseError{Line: lineNum, Err: err}
			}
			res.Anomalies = append(res.Anomalies, model.Anomaly{
				Kind:   model.AnomalyMalformedInput,
				Line:   lineNum,
				Detail: err.Error(),
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Line: lineNum + 1, Err: err}
	}
	return res, nil
}

// add normalizes one raw object and appends it with the next sequence number.
func (r *Result) add(raw []byte, opts Options) error {
	e, err := source.Normalize(raw, opts.Source)
	if err != nil {
		return err
	}
	e.Sequence = len(r.Events)
	r.Events = append(r.Events, e)
	return nil
}
