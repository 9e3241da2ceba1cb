package bank

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/scbrown/transcripts/internal/model"
	"github.com/scbrown/transcripts/internal/store"
)

// ErrStaleProposal is returned by Accept when the bank changed after the
// proposal was computed.
var ErrStaleProposal = errors.New("proposal is stale: bank changed since it was computed")

// ErrDiscarded is returned by Accept for a proposal that was discarded.
var ErrDiscarded = errors.New("proposal was discarded")

// Store wraps a persistence backend. It reads the bank once at Open and
// writes it once per accepted proposal.
type Store struct {
	backend store.Store
	opts    MergeOptions
	bank    *model.KnowledgeBank
	version int
}

// Open loads the bank from backend. Corruption is returned as is so the
// caller can refuse to continue.
func Open(ctx context.Context, backend store.Store, opts MergeOptions) (*Store, error) {
	b, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load knowledge bank: %w", err)
	}
	return &Store{backend: backend, opts: opts, bank: b}, nil
}

// Bank returns a copy of the current bank.
func (s *Store) Bank() *model.KnowledgeBank { return s.bank.Clone() }

// Delta returns the sessions in refs that still need processing.
func (s *Store) Delta(refs []SessionRef) []string { return Delta(s.bank, refs) }

// Proposal is a computed but unpersisted merge.
type Proposal struct {
	ID        uuid.UUID            `json:"id"`
	CreatedAt time.Time            `json:"created_at"`
	Diff      Diff                 `json:"diff"`
	Next      *model.KnowledgeBank `json:"-"`

	version   int
	discarded bool
}

// Empty reports whether accepting p would change nothing.
func (p *Proposal) Empty() bool {
	return len(p.Diff.Added) == 0 && len(p.Diff.Updated) == 0 &&
		len(p.Diff.Removed) == 0 && len(p.Diff.Sessions) == 0
}

// Diff describes what a proposal changes.
type Diff struct {
	Added    []model.PatternEntry `json:"added,omitempty"`
	Updated  []EntryChange        `json:"updated,omitempty"`
	Removed  []model.PatternEntry `json:"removed,omitempty"`
	Sessions []string             `json:"sessions,omitempty"` // Newly processed or reprocessed.
}

// EntryChange is one entry before and after a merge.
type EntryChange struct {
	Before model.PatternEntry `json:"before"`
	After  model.PatternEntry `json:"after"`
}

// Merge computes the bank that would result from merging batch. Nothing is
// persisted until Accept.
func (s *Store) Merge(batch []Contribution) *Proposal {
	next := MergeBanks(s.bank, batch, s.opts)
	return &Proposal{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		Diff:      Compare(s.bank, next),
		Next:      next,
		version:   s.version,
	}
}

// Accept persists p and makes it the current bank.
func (s *Store) Accept(ctx context.Context, p *Proposal) error {
	if p.discarded {
		return ErrDiscarded
	}
	if p.version != s.version {
		return ErrStaleProposal
	}
	if err := s.backend.Save(ctx, p.Next); err != nil {
		return fmt.Errorf("save knowledge bank: %w", err)
	}
	s.bank = p.Next.Clone()
	s.version++
	return nil
}

// Reject removes entries that p would add before it is accepted. The
// observations behind each rejected entry are dropped, so the entry stays
// out of the bank while its sessions still count as processed. Only
// entries listed in p.Diff.Added can be rejected.
func (s *Store) Reject(p *Proposal, rejected []model.PatternEntry) error {
	if p.discarded {
		return ErrDiscarded
	}
	if len(rejected) == 0 {
		return nil
	}
	type key struct{ cat, norm string }
	added := make(map[key]bool, len(p.Diff.Added))
	for _, e := range p.Diff.Added {
		added[key{e.Category, e.NormalizedText}] = true
	}
	drop := make(map[key]bool, len(rejected))
	for _, e := range rejected {
		k := key{e.Category, e.NormalizedText}
		if !added[k] {
			return fmt.Errorf("reject %q: not a new entry in this proposal", e.DisplayText)
		}
		drop[k] = true
	}

	next := p.Next.Clone()
	cats, at := cluster(next.Observations, s.opts.threshold())
	var kept []model.Observation
	for i, o := range next.Observations {
		if !drop[key{o.Category, cats[o.Category][at[i]].NormalizedText}] {
			kept = append(kept, o)
		}
	}
	next.Observations = kept
	next.Categories = derive(kept, s.opts.threshold())
	next.CustomCategories = describe(kept)

	p.Next = next
	p.Diff = Compare(s.bank, next)
	return nil
}

// BelowConfidence returns the entries p would add whose confidence ranks
// below level.
func (p *Proposal) BelowConfidence(level string) []model.PatternEntry {
	var out []model.PatternEntry
	for _, e := range p.Diff.Added {
		if confidenceRank[e.Confidence()] > confidenceRank[level] {
			out = append(out, e)
		}
	}
	return out
}

// ParseConfidence validates a confidence level name.
func ParseConfidence(s string) (string, error) {
	if _, ok := confidenceRank[s]; !ok {
		return "", fmt.Errorf("unknown confidence %q (valid: high, medium, low)", s)
	}
	return s, nil
}

// Discard drops p. The backend is never touched.
func (s *Store) Discard(p *Proposal) {
	p.discarded = true
	p.Next = nil
}

// Replace persists b as the whole bank, bypassing merge.
func (s *Store) Replace(ctx context.Context, b *model.KnowledgeBank) error {
	if err := s.backend.Save(ctx, b); err != nil {
		return fmt.Errorf("save knowledge bank: %w", err)
	}
	s.bank = b.Clone()
	s.version++
	return nil
}

// Compare reports the entry and session differences between two banks.
// Entries are matched by category and normalized text.
func Compare(before, after *model.KnowledgeBank) Diff {
	var d Diff
	type key struct{ cat, norm string }
	old := make(map[key]model.PatternEntry)
	for cat, entries := range before.Categories {
		for _, e := range entries {
			old[key{cat, e.NormalizedText}] = e
		}
	}

	for _, cat := range after.OrderedCategories() {
		for _, e := range after.Categories[cat] {
			k := key{cat, e.NormalizedText}
			prev, ok := old[k]
			delete(old, k)
			switch {
			case !ok:
				d.Added = append(d.Added, e)
			case prev.OccurrenceCount != e.OccurrenceCount || prev.LastSeenSession != e.LastSeenSession ||
				prev.DisplayText != e.DisplayText:
				d.Updated = append(d.Updated, EntryChange{Before: prev, After: e})
			}
		}
	}
	for _, e := range old {
		d.Removed = append(d.Removed, e)
	}
	sort.Slice(d.Removed, func(i, j int) bool {
		if d.Removed[i].Category != d.Removed[j].Category {
			return d.Removed[i].Category < d.Removed[j].Category
		}
		return d.Removed[i].NormalizedText < d.Removed[j].NormalizedText
	})

	for id, st := range after.ProcessedSessions {
		if prev, ok := before.ProcessedSessions[id]; !ok || prev.Fingerprint != st.Fingerprint {
			d.Sessions = append(d.Sessions, id)
		}
	}
	sort.Strings(d.Sessions)
	return d
}
