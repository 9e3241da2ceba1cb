package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/scbrown/transcripts/internal/ingest"
)

// parseSince extracts a "since" query parameter as a time.Time.
// Accepts RFC3339 timestamps or duration shorthand (e.g., "24h", "7d").
func parseSince(r *http.Request) (time.Time, error) {
	s := r.URL.Query().Get("since")
	if s == "" {
		return time.Time{}, nil
	}
	// Try RFC3339 first.
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	// Try duration shorthand: "7d", "24h", etc.
	if len(s) > 1 {
		numStr := s[:len(s)-1]
		unit := s[len(s)-1]
		if n, err := strconv.Atoi(numStr); err == nil {
			switch unit {
			case 'h':
				return time.Now().UTC().Add(-time.Duration(n) * time.Hour), nil
			case 'd':
				return time.Now().UTC().Add(-time.Duration(n) * 24 * time.Hour), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("invalid since value %q: expected RFC3339 timestamp or duration (e.g., 24h, 7d)", s)
}

func parseInt(r *http.Request, key string) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, s, err)
	}
	return n, nil
}

func parseBool(r *http.Request, key string) bool {
	s := r.URL.Query().Get(key)
	return s == "true" || s == "1"
}

func parsePageNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid page number %q: pages are numbered from 1", s)
	}
	return n, nil
}

// sessionOpts filters the master session list.
type sessionOpts struct {
	Project    string
	Since      time.Time
	Limit      int
	ErrorsOnly bool
}

func parseSessionOpts(r *http.Request) (sessionOpts, error) {
	since, err := parseSince(r)
	if err != nil {
		return sessionOpts{}, err
	}
	limit, err := parseInt(r, "limit")
	if err != nil {
		return sessionOpts{}, err
	}
	return sessionOpts{
		Project:    r.URL.Query().Get("project"),
		Since:      since,
		Limit:      limit,
		ErrorsOnly: parseBool(r, "errors_only"),
	}, nil
}

func (o sessionOpts) filter(entries []ingest.Entry) []ingest.Entry {
	out := []ingest.Entry{}
	for _, e := range entries {
		if o.Project != "" && e.Project != o.Project {
			continue
		}
		if !o.Since.IsZero() && e.StartedAt.Before(o.Since) {
			continue
		}
		if o.ErrorsOnly && e.Error == "" {
			continue
		}
		out = append(out, e)
		if o.Limit > 0 && len(out) == o.Limit {
			break
		}
	}
	return out
}
