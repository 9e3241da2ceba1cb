// Package bank merges extracted pattern candidates into the knowledge bank.
//
// The bank keeps every session's observations and re-derives its entries
// from them in a canonical order, so merging is idempotent and independent
// of the order sessions arrive in.
package bank

import (
	"sort"
	"strings"
	"time"

	"github.com/scbrown/transcripts/internal/analyze"
	"github.com/scbrown/transcripts/internal/model"
)

// MaxExamples caps the examples kept per entry.
const MaxExamples = 3

// MergeOptions configures merging.
type MergeOptions struct {
	// Threshold is the similarity at or above which two normalized texts
	// in the same category are one entry. 0 means analyze.DefaultThreshold;
	// values above 1 disable near-duplicate matching.
	Threshold float64
}

func (o MergeOptions) threshold() float64 {
	if o.Threshold <= 0 {
		return analyze.DefaultThreshold
	}
	return o.Threshold
}

// Contribution is one session's extraction output.
type Contribution struct {
	SessionID   string
	Fingerprint string
	StartedAt   time.Time
	Candidates  []model.Candidate
}

// SessionRef identifies a discovered session and its current fingerprint.
type SessionRef struct {
	ID          string
	Fingerprint string
}

// Delta returns the IDs of refs whose fingerprint is absent from b or
// differs from the recorded one, in input order.
func Delta(b *model.KnowledgeBank, refs []SessionRef) []string {
	var out []string
	for _, r := range refs {
		st, ok := b.ProcessedSessions[r.ID]
		if !ok || st.Fingerprint != r.Fingerprint {
			out = append(out, r.ID)
		}
	}
	return out
}

// MergeBanks returns a new bank with batch merged into base. base is not
// modified. Contributions for sessions already recorded with the same
// fingerprint are ignored; a changed fingerprint replaces that session's
// earlier observations.
func MergeBanks(base *model.KnowledgeBank, batch []Contribution, opts MergeOptions) *model.KnowledgeBank {
	next := base.Clone()

	// Duplicate session IDs in one batch resolve the same way whatever
	// their position: the greatest fingerprint wins.
	byID := make(map[string]Contribution, len(batch))
	for _, c := range batch {
		if prev, ok := byID[c.SessionID]; ok && prev.Fingerprint > c.Fingerprint {
			continue
		}
		byID[c.SessionID] = c
	}

	replaced := make(map[string]bool)
	var added []model.Observation
	for id, c := range byID {
		if st, ok := next.ProcessedSessions[id]; ok && st.Fingerprint == c.Fingerprint {
			continue
		}
		replaced[id] = true
		next.ProcessedSessions[id] = model.SessionState{Fingerprint: c.Fingerprint, StartedAt: c.StartedAt.UTC()}
		added = append(added, observe(c)...)
	}
	if len(replaced) == 0 {
		return next
	}

	obs := make([]model.Observation, 0, len(next.Observations)+len(added))
	for _, o := range next.Observations {
		if !replaced[o.SessionID] {
			obs = append(obs, o)
		}
	}
	obs = append(obs, added...)
	sortObservations(obs)
	if len(obs) == 0 {
		obs = nil
	}
	next.Observations = obs
	next.Categories = derive(obs, opts.threshold())
	next.CustomCategories = describe(obs)
	return next
}

// Rebuild re-derives b's entries from its observations.
func Rebuild(b *model.KnowledgeBank, opts MergeOptions) *model.KnowledgeBank {
	next := b.Clone()
	sortObservations(next.Observations)
	next.Categories = derive(next.Observations, opts.threshold())
	next.CustomCategories = describe(next.Observations)
	return next
}

// observe turns a contribution's candidates into observations, dropping
// empty texts and exact repeats within the session.
func observe(c Contribution) []model.Observation {
	seen := make(map[[2]string]bool)
	var out []model.Observation
	for _, cand := range c.Candidates {
		norm := analyze.Normalize(cand.Text)
		if norm == "" {
			continue
		}
		cat := strings.TrimSpace(cand.Category)
		if cat == "" {
			cat = "general"
		}
		key := [2]string{cat, norm}
		if seen[key] {
			continue
		}
		seen[key] = true
		var desc string
		if model.CategoryDescription(cat) == "" {
			desc = strings.TrimSpace(cand.CategoryDescription)
		}
		out = append(out, model.Observation{
			SessionID:           c.SessionID,
			SessionStart:        c.StartedAt.UTC(),
			Category:            cat,
			CategoryDescription: desc,
			NormalizedText:      norm,
			DisplayText:         strings.TrimSpace(cand.Text),
			Examples:            capExamples(nil, cand.Examples),
		})
	}
	return out
}

// sortObservations orders chronologically by session start, then session
// ID, category, and text. Sessions without a start time sort last.
func sortObservations(obs []model.Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		a, b := obs[i], obs[j]
		if !a.SessionStart.Equal(b.SessionStart) {
			switch {
			case a.SessionStart.IsZero():
				return false
			case b.SessionStart.IsZero():
				return true
			}
			return a.SessionStart.Before(b.SessionStart)
		}
		if a.SessionID != b.SessionID {
			return a.SessionID < b.SessionID
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.NormalizedText != b.NormalizedText {
			return a.NormalizedText < b.NormalizedText
		}
		return a.DisplayText < b.DisplayText
	})
}

// derive clusters sorted observations into entries. Each observation joins
// the first entry in its category whose normalized text equals its own or
// scores at or above threshold; otherwise it starts a new entry. The first
// observation fixes an entry's display text and first-seen session.
func derive(obs []model.Observation, threshold float64) map[string][]model.PatternEntry {
	cats, _ := cluster(obs, threshold)
	return cats
}

// cluster is derive that also reports, for each observation, the index of
// the entry it landed on within its category.
func cluster(obs []model.Observation, threshold float64) (map[string][]model.PatternEntry, []int) {
	cats := make(map[string][]model.PatternEntry)
	norms := make(map[string][]string)
	counted := make(map[string]map[int]map[string]bool)
	at := make([]int, len(obs))

	for n, o := range obs {
		entries := cats[o.Category]
		i := analyze.Match(o.NormalizedText, norms[o.Category], threshold)
		if i < 0 {
			at[n] = len(entries)
			cats[o.Category] = append(entries, model.PatternEntry{
				Category:         o.Category,
				NormalizedText:   o.NormalizedText,
				DisplayText:      o.DisplayText,
				OccurrenceCount:  1,
				FirstSeenSession: o.SessionID,
				LastSeenSession:  o.SessionID,
				Examples:         capExamples(nil, o.Examples),
			})
			norms[o.Category] = append(norms[o.Category], o.NormalizedText)
			if counted[o.Category] == nil {
				counted[o.Category] = make(map[int]map[string]bool)
			}
			counted[o.Category][len(entries)] = map[string]bool{o.SessionID: true}
			continue
		}

		// A session counts once per entry even if two of its candidates
		// landed on the same entry.
		at[n] = i
		e := &entries[i]
		if !counted[o.Category][i][o.SessionID] {
			counted[o.Category][i][o.SessionID] = true
			e.OccurrenceCount++
		}
		e.LastSeenSession = o.SessionID
		e.Examples = capExamples(e.Examples, o.Examples)
	}
	return cats, at
}

// describe collects custom category descriptions from sorted observations.
// The earliest observation carrying a description wins.
func describe(obs []model.Observation) map[string]string {
	var out map[string]string
	for _, o := range obs {
		if o.CategoryDescription == "" {
			continue
		}
		if _, ok := out[o.Category]; ok {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[o.Category] = o.CategoryDescription
	}
	return out
}

// capExamples appends new examples not already present, up to MaxExamples.
func capExamples(have, more []string) []string {
	for _, ex := range more {
		ex = strings.TrimSpace(ex)
		if ex == "" || len(have) >= MaxExamples {
			continue
		}
		dup := false
		for _, h := range have {
			if h == ex {
				dup = true
				break
			}
		}
		if !dup {
			have = append(have, ex)
		}
	}
	return have
}
