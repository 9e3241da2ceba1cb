// Package ingest converts session logs into paginated documents and writes
// them to disk.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scbrown/transcripts/internal/batch"
	"github.com/scbrown/transcripts/internal/logging"
	"github.com/scbrown/transcripts/internal/model"
	"github.com/scbrown/transcripts/internal/paginate"
	"github.com/scbrown/transcripts/internal/sessions"
	"github.com/scbrown/transcripts/internal/transcript"
)

// File names written under each session's output directory.
const (
	IndexFile    = "index.json"
	SessionsFile = "sessions.json"
)

// PageFile returns the file name of page n.
func PageFile(n int) string {
	return fmt.Sprintf("page-%03d.json", n)
}

// Options controls conversion.
type Options struct {
	Parse    transcript.Options
	Paginate paginate.Options
}

// Output is one converted session.
type Output struct {
	Session  model.Session
	Document paginate.Document
	Format   transcript.Format
}

// Convert parses r, builds the session, and paginates it. Parse anomalies
// precede build anomalies on the session. Only malformed input under the
// Strict policy is an error.
func Convert(r io.Reader, meta transcript.Meta, opts Options) (*Output, error) {
	res, err := transcript.Parse(r, opts.Parse)
	if err != nil {
		return nil, err
	}
	return assemble(res, meta, "", opts), nil
}

// ConvertFile converts the session log at path. When no event names the
// session, the file name without extension is used as its ID.
func ConvertFile(path string, opts Options) (*Output, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	defer f.Close()

	res, err := transcript.Parse(f, opts.Parse)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return assemble(res, transcript.Meta{}, stem, opts), nil
}

func assemble(res *transcript.Result, meta transcript.Meta, fallbackID string, opts Options) *Output {
	s := transcript.Build(meta, res.Events)
	if s.ID == "" {
		s.ID = fallbackID
	}
	if len(res.Anomalies) > 0 {
		anomalies := make([]model.Anomaly, 0, len(res.Anomalies)+len(s.Anomalies))
		anomalies = append(anomalies, res.Anomalies...)
		s.Anomalies = append(anomalies, s.Anomalies...)
	}
	return &Output{
		Session:  s,
		Document: paginate.Assemble(s, opts.Paginate),
		Format:   res.Format,
	}
}

// Write stores doc under dir as index.json plus one page-NNN.json per page.
// Stale page files from an earlier, longer conversion are removed.
func Write(dir string, doc paginate.Document) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, IndexFile), doc.Index); err != nil {
		return err
	}
	keep := make(map[string]bool, len(doc.Pages))
	for _, p := range doc.Pages {
		name := PageFile(p.Page.Number)
		keep[name] = true
		if err := writeJSON(filepath.Join(dir, name), p); err != nil {
			return err
		}
	}
	stale, err := filepath.Glob(filepath.Join(dir, "page-*.json"))
	if err != nil {
		return fmt.Errorf("listing pages: %w", err)
	}
	for _, path := range stale {
		if !keep[filepath.Base(path)] {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("removing stale page: %w", err)
			}
		}
	}
	return nil
}

// ReadIndex loads a session index written by Write.
func ReadIndex(dir string) (model.Index, error) {
	var idx model.Index
	err := readJSON(filepath.Join(dir, IndexFile), &idx)
	return idx, err
}

// ReadPage loads page n of a session written by Write.
func ReadPage(dir string, n int) (model.PageDocument, error) {
	var p model.PageDocument
	err := readJSON(filepath.Join(dir, PageFile(n)), &p)
	return p, err
}

// Entry is one session in the master index.
type Entry struct {
	SessionID   string    `json:"session_id"`
	Project     string    `json:"project"`
	Source      string    `json:"source"`
	Dir         string    `json:"dir,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	Turns       int       `json:"turns"`
	Pages       int       `json:"pages"`
	Anomalies   int       `json:"anomalies"`
	Error       string    `json:"error,omitempty"`
	ConvertedAt time.Time `json:"converted_at"`
}

// Master is the cross-session index written as sessions.json.
type Master struct {
	GeneratedAt time.Time `json:"generated_at"`
	Sessions    []Entry   `json:"sessions"`
}

// Report summarizes an All run.
type Report struct {
	Master    Master
	Converted int
	Failed    int
	Skipped   int
}

// All converts every session in infos into outDir/<session-id>/ and writes
// outDir/sessions.json. Sessions are converted on a worker pool; a failing
// session is logged and recorded in the master index without stopping the
// others. The returned error covers the master index write and
// cancellation of ctx.
func All(ctx context.Context, infos []sessions.Info, outDir string, opts Options, bopts batch.Options, logger *logging.Logger) (*Report, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	results := batch.Run(ctx, infos, bopts, func(_ context.Context, info sessions.Info) (Entry, error) {
		out, err := ConvertFile(info.Path, opts)
		if err != nil {
			return Entry{}, err
		}
		dir := SessionDir(outDir, out.Session.ID)
		if err := Write(dir, out.Document); err != nil {
			return Entry{}, err
		}
		log := logger.WithSession(out.Session.ID)
		log.Anomalies(out.Document.Index.Anomalies)
		log.Debug("converted",
			"turns", len(out.Session.Turns),
			"pages", len(out.Document.Pages),
			"format", string(out.Format),
		)
		e := Entry{
			SessionID: out.Session.ID,
			Project:   info.Project,
			Source:    info.Path,
			Dir:       dir,
			Turns:     len(out.Session.Turns),
			Pages:     len(out.Document.Pages),
			Anomalies: len(out.Document.Index.Anomalies),
		}
		if len(out.Session.Turns) > 0 {
			e.StartedAt = out.Session.Turns[0].TimeRange.Start
		}
		return e, nil
	})

	now := time.Now().UTC()
	rep := &Report{Master: Master{GeneratedAt: now, Sessions: make([]Entry, 0, len(results))}}
	for _, r := range results {
		switch {
		case r.Skipped:
			rep.Skipped++
			continue
		case r.Err != nil:
			rep.Failed++
			logger.SessionFailed(r.Ref.ID, r.Err)
			rep.Master.Sessions = append(rep.Master.Sessions, Entry{
				SessionID:   r.Ref.ID,
				Project:     r.Ref.Project,
				Source:      r.Ref.Path,
				Error:       r.Err.Error(),
				ConvertedAt: now,
			})
		default:
			rep.Converted++
			e := r.Value
			e.ConvertedAt = now
			rep.Master.Sessions = append(rep.Master.Sessions, e)
		}
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return rep, fmt.Errorf("creating output directory: %w", err)
	}
	if err := writeJSON(filepath.Join(outDir, SessionsFile), rep.Master); err != nil {
		return rep, err
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	return rep, nil
}

// ReadMaster loads outDir/sessions.json.
func ReadMaster(outDir string) (Master, error) {
	var m Master
	err := readJSON(filepath.Join(outDir, SessionsFile), &m)
	return m, err
}

// SessionDir returns the directory All writes session id to.
func SessionDir(outDir, id string) string {
	return filepath.Join(outDir, dirName(id))
}

// dirName makes a session ID safe to use as a single path element.
func dirName(id string) string {
	id = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, id)
	if id == "" || id == "." || id == ".." {
		return "_"
	}
	return id
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", filepath.Base(path), os.ErrNotExist)
		}
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return nil
}
