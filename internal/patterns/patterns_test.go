package patterns

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/scbrown/transcripts/internal/bank"
	"github.com/scbrown/transcripts/internal/extract"
	"github.com/scbrown/transcripts/internal/model"
	"github.com/scbrown/transcripts/internal/sessions"
	"github.com/scbrown/transcripts/internal/store"
	"github.com/scbrown/transcripts/internal/transcript"
)

const sessionA = `{"type":"user","content":"always run the tests before committing"}
{"type":"assistant","content":"ok"}
{"type":"user","content":"add a retry flag to the client"}
`

const sessionB = `{"type":"user","content":"Always run the tests before committing!"}
{"type":"assistant","content":"sure"}
`

func writeSession(t *testing.T, dir, id, content string) sessions.Info {
	t.Helper()
	path := filepath.Join(dir, id+".jsonl")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return sessions.Info{ID: id, Path: path, Project: "proj"}
}

func newTestBank(t *testing.T) *bank.Store {
	t.Helper()
	backend, err := store.NewJSON(filepath.Join(t.TempDir(), "bank.json"))
	if err != nil {
		t.Fatalf("NewJSON: %v", err)
	}
	st, err := bank.Open(context.Background(), backend, bank.MergeOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st
}

// instructionAnalyzer turns every instruction prompt into a workflow
// pattern and fails for the session named "bad".
func instructionAnalyzer(calls *atomic.Int32) extract.Analyzer {
	return extract.AnalyzerFunc(func(_ context.Context, prompts []model.Prompt) ([]model.Candidate, error) {
		calls.Add(1)
		var out []model.Candidate
		for _, p := range prompts {
			if p.SessionID == "bad" {
				return nil, errors.New("upstream unavailable")
			}
			if p.Type == "instruction" {
				out = append(out, model.Candidate{Category: "workflow", Text: p.Text, Examples: []string{p.Text}})
			}
		}
		return out, nil
	})
}

func newPipeline(st *bank.Store, a extract.Analyzer, opts Options) *Pipeline {
	mode := extract.ModeAnalyze
	if opts.ExtractOnly {
		mode = extract.ModeExtractOnly
	}
	opts.Parse = transcript.Options{Policy: transcript.Lenient}
	return New(st, extract.New(a, extract.Options{Mode: mode}), opts, nil)
}

func TestRunProposesMergedEntries(t *testing.T) {
	dir := t.TempDir()
	infos := []sessions.Info{
		writeSession(t, dir, "a", sessionA),
		writeSession(t, dir, "b", sessionB),
	}
	var calls atomic.Int32
	st := newTestBank(t)
	p := newPipeline(st, instructionAnalyzer(&calls), Options{})

	rep, err := p.Run(context.Background(), infos)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Analyzed != 2 || rep.Failed != 0 || calls.Load() != 2 {
		t.Fatalf("report = %+v, calls = %d", rep, calls.Load())
	}
	if rep.RunID == "" || rep.Proposal == nil {
		t.Fatal("missing run ID or proposal")
	}
	if len(rep.Proposal.Diff.Added) != 1 {
		t.Fatalf("added = %+v, want the two statements merged into one entry", rep.Proposal.Diff.Added)
	}
	if got := rep.Proposal.Diff.Added[0].OccurrenceCount; got != 2 {
		t.Errorf("occurrences = %d, want 2", got)
	}

	// Nothing is persisted until the proposal is accepted.
	if got := st.Bank(); len(got.ProcessedSessions) != 0 {
		t.Errorf("bank changed before accept: %+v", got.ProcessedSessions)
	}
	if err := st.Accept(context.Background(), rep.Proposal); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	// A second run sees nothing new.
	again, err := p.Run(context.Background(), infos)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if again.Unchanged != 2 || again.Analyzed != 0 || calls.Load() != 2 {
		t.Errorf("second run = %+v, calls = %d", again, calls.Load())
	}
	if !again.Proposal.Empty() {
		t.Errorf("second proposal not empty: %+v", again.Proposal.Diff)
	}
}

func TestRunChangedSessionIsReprocessed(t *testing.T) {
	dir := t.TempDir()
	info := writeSession(t, dir, "a", sessionA)
	var calls atomic.Int32
	st := newTestBank(t)
	p := newPipeline(st, instructionAnalyzer(&calls), Options{})

	rep, err := p.Run(context.Background(), []sessions.Info{info})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Accept(context.Background(), rep.Proposal); err != nil {
		t.Fatal(err)
	}

	appended := sessionA + `{"type":"user","content":"never force push to main"}` + "\n"
	if err := os.WriteFile(info.Path, []byte(appended), 0644); err != nil {
		t.Fatal(err)
	}
	rep, err = p.Run(context.Background(), []sessions.Info{info})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Analyzed != 1 || len(rep.Proposal.Diff.Added) != 1 {
		t.Errorf("rerun = %+v, added = %+v", rep, rep.Proposal.Diff.Added)
	}
}

func TestRunIsolatesAnalysisFailures(t *testing.T) {
	dir := t.TempDir()
	infos := []sessions.Info{
		writeSession(t, dir, "a", sessionA),
		writeSession(t, dir, "bad", sessionB),
	}
	var calls atomic.Int32
	st := newTestBank(t)
	p := newPipeline(st, instructionAnalyzer(&calls), Options{})

	rep, err := p.Run(context.Background(), infos)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Analyzed != 1 || rep.Failed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	var ae *extract.AnalysisError
	if len(rep.Failures) != 1 || !errors.As(rep.Failures[0], &ae) || ae.SessionID != "bad" {
		t.Errorf("failures = %v, want one AnalysisError for bad", rep.Failures)
	}
	if got := rep.Proposal.Diff.Sessions; len(got) != 1 || got[0] != "a" {
		t.Errorf("proposal sessions = %v, want only a", got)
	}
}

func TestRunReportsUnreadableSession(t *testing.T) {
	dir := t.TempDir()
	infos := []sessions.Info{
		writeSession(t, dir, "a", sessionA),
		{ID: "gone", Path: filepath.Join(dir, "gone.jsonl")},
	}
	var calls atomic.Int32
	p := newPipeline(newTestBank(t), instructionAnalyzer(&calls), Options{})
	rep, err := p.Run(context.Background(), infos)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Failed != 1 || rep.Analyzed != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestRunExtractOnly(t *testing.T) {
	dir := t.TempDir()
	infos := []sessions.Info{writeSession(t, dir, "a", sessionA)}
	var calls atomic.Int32
	p := newPipeline(newTestBank(t), instructionAnalyzer(&calls), Options{ExtractOnly: true})

	rep, err := p.Run(context.Background(), infos)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("analyzer called %d times in extract-only mode", calls.Load())
	}
	if rep.Proposal != nil {
		t.Error("extract-only run produced a proposal")
	}
	if len(rep.Sessions) != 1 || len(rep.Sessions[0].Prompts) != 2 {
		t.Fatalf("sessions = %+v", rep.Sessions)
	}
	if got := rep.Sessions[0].Prompts[0].Type; got != "instruction" {
		t.Errorf("first prompt type = %s", got)
	}
}

func TestRunCancelled(t *testing.T) {
	dir := t.TempDir()
	infos := []sessions.Info{writeSession(t, dir, "a", sessionA)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	p := newPipeline(newTestBank(t), instructionAnalyzer(&calls), Options{})
	if _, err := p.Run(ctx, infos); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
