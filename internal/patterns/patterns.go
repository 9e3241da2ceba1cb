// Package patterns runs the pattern discovery pipeline: it finds the
// sessions the knowledge bank has not seen, extracts their prompts, asks an
// analyzer for candidate patterns, and turns the results into a reviewable
// bank proposal.
package patterns

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/scbrown/transcripts/internal/bank"
	"github.com/scbrown/transcripts/internal/batch"
	"github.com/scbrown/transcripts/internal/extract"
	"github.com/scbrown/transcripts/internal/logging"
	"github.com/scbrown/transcripts/internal/model"
	"github.com/scbrown/transcripts/internal/sessions"
	"github.com/scbrown/transcripts/internal/transcript"
)

// Options configures a Pipeline.
type Options struct {
	// Parse is applied to every session file. Lenient is the usual choice
	// for bulk runs.
	Parse transcript.Options
	// Batch bounds concurrent analysis calls and their rate.
	Batch batch.Options
	// ExtractOnly collects prompts without analyzing them or proposing a
	// bank change.
	ExtractOnly bool
}

// SessionReport is the outcome for one selected session.
type SessionReport struct {
	SessionID  string         `json:"session_id"`
	Project    string         `json:"project"`
	Prompts    []model.Prompt `json:"prompts,omitempty"`
	Candidates int            `json:"candidates"`
	Error      string         `json:"error,omitempty"`
}

// Report summarizes a run. Proposal is nil in extract-only mode.
type Report struct {
	RunID      string          `json:"run_id"`
	Discovered int             `json:"discovered"`
	Unchanged  int             `json:"unchanged"`
	Analyzed   int             `json:"analyzed"`
	Failed     int             `json:"failed"`
	Skipped    int             `json:"skipped"`
	Sessions   []SessionReport `json:"sessions"`
	Proposal   *bank.Proposal  `json:"proposal,omitempty"`

	// Failures holds the per-session errors, *extract.AnalysisError for
	// analyzer failures.
	Failures []error `json:"-"`
}

// Pipeline wires an extractor to a knowledge bank.
type Pipeline struct {
	store     *bank.Store
	extractor *extract.Extractor
	opts      Options
	logger    *logging.Logger
}

// New returns a Pipeline. A nil logger discards output.
func New(st *bank.Store, x *extract.Extractor, opts Options, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pipeline{store: st, extractor: x, opts: opts, logger: logger}
}

// prepared is a parsed session ready for analysis.
type prepared struct {
	info        sessions.Info
	fingerprint string
	session     model.Session
}

// Run processes the sessions in infos whose fingerprint the bank has not
// recorded. Parsing runs sequentially; analysis runs on the worker pool.
// Per-session failures are reported and never abort the run, and failed
// sessions stay unrecorded so the next run retries them. The bank is not
// written: the caller accepts or discards Report.Proposal.
func (p *Pipeline) Run(ctx context.Context, infos []sessions.Info) (*Report, error) {
	rep := &Report{RunID: uuid.NewString(), Discovered: len(infos)}
	log := p.logger.WithRun(rep.RunID)

	refs := make([]bank.SessionRef, 0, len(infos))
	byID := make(map[string]sessions.Info, len(infos))
	fps := make(map[string]string, len(infos))
	for _, info := range infos {
		if _, dup := byID[info.ID]; dup {
			continue // infos are newest first; keep the newest copy
		}
		fp, err := sessions.Fingerprint(info.Path)
		if err != nil {
			p.fail(rep, log, info, err)
			continue
		}
		refs = append(refs, bank.SessionRef{ID: info.ID, Fingerprint: fp})
		byID[info.ID] = info
		fps[info.ID] = fp
	}
	pending := p.store.Delta(refs)
	rep.Unchanged = len(refs) - len(pending)
	log.Info("sessions selected", "discovered", len(infos), "pending", len(pending), "unchanged", rep.Unchanged)

	var work []prepared
	for _, id := range pending {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		info := byID[id]
		s, err := p.parse(info)
		if err != nil {
			p.fail(rep, log, info, err)
			continue
		}
		log.WithSession(id).Anomalies(s.Anomalies)
		work = append(work, prepared{info: info, fingerprint: fps[id], session: s})
	}

	results := batch.Run(ctx, work, p.opts.Batch, func(ctx context.Context, w prepared) (extract.Result, error) {
		return p.extractor.Extract(ctx, w.session, w.info.Project)
	})

	var contribs []bank.Contribution
	for _, r := range results {
		w := r.Ref
		switch {
		case r.Skipped:
			rep.Skipped++
			continue
		case r.Err != nil:
			p.fail(rep, log, w.info, r.Err)
			continue
		}
		rep.Analyzed++
		rep.Sessions = append(rep.Sessions, SessionReport{
			SessionID:  w.info.ID,
			Project:    w.info.Project,
			Prompts:    r.Value.Prompts,
			Candidates: len(r.Value.Candidates),
		})
		contribs = append(contribs, bank.Contribution{
			SessionID:   w.info.ID,
			Fingerprint: w.fingerprint,
			StartedAt:   startOf(w.session),
			Candidates:  r.Value.Candidates,
		})
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	if p.opts.ExtractOnly {
		log.Info("extract-only run finished", "sessions", rep.Analyzed, "failed", rep.Failed)
		return rep, nil
	}
	rep.Proposal = p.store.Merge(contribs)
	log.Info("proposal ready",
		"proposal_id", rep.Proposal.ID.String(),
		"added", len(rep.Proposal.Diff.Added),
		"updated", len(rep.Proposal.Diff.Updated),
		"sessions", len(rep.Proposal.Diff.Sessions),
		"failed", rep.Failed,
	)
	return rep, nil
}

// parse reads and builds one session. The bank keys sessions by their
// discovered ID, so that wins over any ID inside the log.
func (p *Pipeline) parse(info sessions.Info) (model.Session, error) {
	f, err := os.Open(info.Path)
	if err != nil {
		return model.Session{}, fmt.Errorf("opening session: %w", err)
	}
	defer f.Close()

	res, err := transcript.Parse(f, p.opts.Parse)
	if err != nil {
		return model.Session{}, err
	}
	s := transcript.Build(transcript.Meta{SessionID: info.ID}, res.Events)
	s.Anomalies = append(res.Anomalies, s.Anomalies...)
	return s, nil
}

func (p *Pipeline) fail(rep *Report, log *logging.Logger, info sessions.Info, err error) {
	var ae *extract.AnalysisError
	if !errors.As(err, &ae) {
		err = fmt.Errorf("session %s: %w", info.ID, err)
	}
	rep.Failed++
	rep.Failures = append(rep.Failures, err)
	rep.Sessions = append(rep.Sessions, SessionReport{
		SessionID: info.ID,
		Project:   info.Project,
		Error:     err.Error(),
	})
	log.SessionFailed(info.ID, err)
}

func startOf(s model.Session) time.Time {
	for _, t := range s.Turns {
		if !t.TimeRange.Start.IsZero() {
			return t.TimeRange.Start
		}
	}
	return time.Time{}
}
