package bank

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/scbrown/transcripts/internal/model"
	"github.com/scbrown/transcripts/internal/store"
)

func newJSONBackend(t *testing.T) (*store.JSONStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bank.json")
	s, err := store.NewJSON(path)
	if err != nil {
		t.Fatalf("NewJSON: %v", err)
	}
	return s, path
}

func mustOpen(t *testing.T, backend store.Store) *Store {
	t.Helper()
	s, err := Open(context.Background(), backend, MergeOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestDiscardLeavesBackendByteIdentical(t *testing.T) {
	ctx := context.Background()
	backend, path := newJSONBackend(t)
	seed := MergeBanks(model.NewKnowledgeBank(), sampleBatch()[:1], MergeOptions{})
	if err := backend.Save(ctx, seed); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	s := mustOpen(t, backend)
	p := s.Merge(sampleBatch()[1:])
	if p.Empty() {
		t.Fatal("proposal unexpectedly empty")
	}
	s.Discard(p)

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("discarding a proposal changed the persisted bank")
	}
	if !reflect.DeepEqual(s.Bank(), seed) {
		t.Error("discarding a proposal changed the in-memory bank")
	}
	if err := s.Accept(ctx, p); !errors.Is(err, ErrDiscarded) {
		t.Errorf("Accept after Discard = %v, want ErrDiscarded", err)
	}
}

func TestMergeWithoutAcceptWritesNothing(t *testing.T) {
	backend, path := newJSONBackend(t)
	s := mustOpen(t, backend)
	s.Merge(sampleBatch())
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("bank file exists before Accept: %v", err)
	}
}

func TestAcceptPersists(t *testing.T) {
	ctx := context.Background()
	backend, _ := newJSONBackend(t)
	s := mustOpen(t, backend)

	p := s.Merge(sampleBatch())
	if err := s.Accept(ctx, p); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	reopened := mustOpen(t, backend)
	if !reflect.DeepEqual(reopened.Bank(), p.Next) {
		t.Error("reopened bank differs from accepted proposal")
	}
	if d := reopened.Delta([]SessionRef{{ID: "s1", Fingerprint: "fp1"}}); len(d) != 0 {
		t.Errorf("Delta after accept = %v, want none", d)
	}
}

func TestAcceptStaleProposal(t *testing.T) {
	ctx := context.Background()
	backend, _ := newJSONBackend(t)
	s := mustOpen(t, backend)

	p1 := s.Merge(sampleBatch()[:1])
	p2 := s.Merge(sampleBatch()[1:])
	if err := s.Accept(ctx, p1); err != nil {
		t.Fatalf("Accept p1: %v", err)
	}
	if err := s.Accept(ctx, p2); !errors.Is(err, ErrStaleProposal) {
		t.Errorf("Accept p2 = %v, want ErrStaleProposal", err)
	}
}

func TestOpenCorrupt(t *testing.T) {
	backend, path := newJSONBackend(t)
	if err := os.WriteFile(path, []byte("{{{"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(context.Background(), backend, MergeOptions{})
	if !errors.Is(err, store.ErrCorrupt) {
		t.Errorf("Open = %v, want ErrCorrupt", err)
	}
}

func TestProposalDiff(t *testing.T) {
	ctx := context.Background()
	backend, _ := newJSONBackend(t)
	s := mustOpen(t, backend)
	if err := s.Accept(ctx, s.Merge(sampleBatch()[:1])); err != nil {
		t.Fatal(err)
	}

	p := s.Merge(sampleBatch()[1:])
	if !reflect.DeepEqual(p.Diff.Sessions, []string{"s2", "s3"}) {
		t.Errorf("Diff.Sessions = %v", p.Diff.Sessions)
	}
	if len(p.Diff.Added) != 1 || p.Diff.Added[0].Category != "tools" {
		t.Errorf("Diff.Added = %+v", p.Diff.Added)
	}
	// s3 is earlier than s1, so the testing entry is re-keyed on s3's text
	// and display; its normalized text is unchanged.
	if len(p.Diff.Updated) != 1 || p.Diff.Updated[0].After.OccurrenceCount != 3 {
		t.Errorf("Diff.Updated = %+v", p.Diff.Updated)
	}
	if len(p.Diff.Removed) != 0 {
		t.Errorf("Diff.Removed = %+v", p.Diff.Removed)
	}

	if again := s.Merge(sampleBatch()[:1]); !again.Empty() {
		t.Errorf("re-merging a processed session proposed %+v", again.Diff)
	}
}

func TestReplace(t *testing.T) {
	ctx := context.Background()
	backend, _ := newJSONBackend(t)
	s := mustOpen(t, backend)
	p := s.Merge(sampleBatch())
	if err := s.Replace(ctx, model.NewKnowledgeBank()); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := s.Accept(ctx, p); !errors.Is(err, ErrStaleProposal) {
		t.Errorf("Accept after Replace = %v, want ErrStaleProposal", err)
	}
	if reopened := mustOpen(t, backend); reopened.Bank().EntryCount() != 0 {
		t.Error("Replace did not persist")
	}
}

func TestRejectDropsEntryBeforeAccept(t *testing.T) {
	ctx := context.Background()
	backend, _ := newJSONBackend(t)
	s := mustOpen(t, backend)

	p := s.Merge(sampleBatch())
	var workflow model.PatternEntry
	for _, e := range p.Diff.Added {
		if e.Category == "workflow" {
			workflow = e
		}
	}
	if workflow.DisplayText == "" {
		t.Fatalf("workflow entry not proposed: %+v", p.Diff.Added)
	}
	if err := s.Reject(p, []model.PatternEntry{workflow}); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	for _, e := range p.Diff.Added {
		if e.Category == "workflow" {
			t.Errorf("rejected entry still in diff: %+v", e)
		}
	}
	if err := s.Accept(ctx, p); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	got := mustOpen(t, backend).Bank()
	if _, ok := got.Categories["workflow"]; ok {
		t.Errorf("rejected entry persisted: %+v", got.Categories["workflow"])
	}
	if got.EntryCount() != 2 || entry(t, got, "testing", 0).OccurrenceCount != 3 {
		t.Errorf("kept entries changed: %+v", got.Categories)
	}
	if len(got.ProcessedSessions) != 3 {
		t.Errorf("processed sessions = %v, want all 3", got.ProcessedSessions)
	}
	for _, o := range got.Observations {
		if o.Category == "workflow" {
			t.Errorf("observation of rejected entry kept: %+v", o)
		}
	}
	if again := mustOpen(t, backend).Merge(sampleBatch()); !again.Empty() {
		t.Errorf("rejected entry came back on re-merge: %+v", again.Diff)
	}
}

func TestRejectOnlyNewEntries(t *testing.T) {
	ctx := context.Background()
	backend, _ := newJSONBackend(t)
	s := mustOpen(t, backend)
	if err := s.Accept(ctx, s.Merge(sampleBatch()[:1])); err != nil {
		t.Fatal(err)
	}

	p := s.Merge(sampleBatch()[1:])
	if len(p.Diff.Updated) != 1 {
		t.Fatalf("Diff.Updated = %+v", p.Diff.Updated)
	}
	if err := s.Reject(p, []model.PatternEntry{p.Diff.Updated[0].After}); err == nil {
		t.Error("Reject of an existing entry succeeded")
	}
	s.Discard(p)
	if err := s.Reject(p, nil); !errors.Is(err, ErrDiscarded) {
		t.Errorf("Reject after Discard = %v, want ErrDiscarded", err)
	}
}

func TestBelowConfidence(t *testing.T) {
	backend, _ := newJSONBackend(t)
	p := mustOpen(t, backend).Merge(sampleBatch())

	// testing is seen in three sessions; workflow and tools once each.
	if got := p.BelowConfidence("high"); len(got) != 2 {
		t.Errorf("below high = %+v, want workflow and tools", got)
	}
	if got := p.BelowConfidence("low"); len(got) != 0 {
		t.Errorf("below low = %+v, want none", got)
	}
	if _, err := ParseConfidence("certain"); err == nil {
		t.Error("ParseConfidence(certain) succeeded")
	}
}

func TestDiscardOnFreshSQLiteBankWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.db")
	backend, err := store.New(path)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer backend.Close()

	s := mustOpen(t, backend)
	s.Discard(s.Merge(sampleBatch()))
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("discarded proposal left a database behind: %v", err)
	}
}
