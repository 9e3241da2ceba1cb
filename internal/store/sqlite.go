package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scbrown/transcripts/internal/model"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// SQLiteStore implements Store using a local SQLite database. The database
// file is created on the first Save, so opening and loading a bank that
// does not exist yet leaves nothing on disk.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// New opens the SQLite database at dbPath if it exists and runs schema
// migrations to ensure it is up to date. A missing database is opened on
// first Save. A file that is not a usable database yields ErrCorrupt.
func New(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite store: empty path")
	}
	s := &SQLiteStore{path: dbPath}
	if !fileHasData(dbPath) {
		return s, nil
	}
	if err := s.open(); err != nil {
		return nil, corrupt(dbPath, err)
	}
	return s, nil
}

// open connects to the database, creating the parent directory (e.g.
// ~/.cct/) and the file as needed.
func (s *SQLiteStore) open() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", s.path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// Single connection for WAL mode simplicity.
	db.SetMaxOpenConns(1)

	s.db = db
	if err := s.migrate(); err != nil {
		db.Close()
		s.db = nil
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func fileHasData(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Size() > 0
}

// migrate runs schema migrations up to the current version.
func (s *SQLiteStore) migrate() error {
	// Create version table if it doesn't exist.
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}

	var ver int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&ver)
	if errors.Is(err, sql.ErrNoRows) {
		ver = 0
	} else if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if ver > schemaVersion {
		return fmt.Errorf("schema version %d is newer than supported %d", ver, schemaVersion)
	}

	if ver < 1 {
		if err := s.migrateV1(); err != nil {
			return err
		}
	}

	return nil
}

func (s *SQLiteStore) migrateV1() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id  TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			started_at  TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			category           TEXT NOT NULL,
			position           INTEGER NOT NULL,
			normalized_text    TEXT NOT NULL,
			display_text       TEXT NOT NULL,
			occurrence_count   INTEGER NOT NULL,
			first_seen_session TEXT NOT NULL,
			last_seen_session  TEXT NOT NULL,
			examples           TEXT,
			PRIMARY KEY (category, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_normalized ON entries(normalized_text)`,
		`CREATE TABLE IF NOT EXISTS observations (
			seq                  INTEGER PRIMARY KEY,
			session_id           TEXT NOT NULL,
			session_start        TEXT,
			category             TEXT NOT NULL,
			category_description TEXT,
			normalized_text      TEXT NOT NULL,
			display_text         TEXT NOT NULL,
			examples             TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(session_id)`,
		`CREATE TABLE IF NOT EXISTS custom_categories (
			name        TEXT PRIMARY KEY,
			description TEXT NOT NULL
		)`,
		`INSERT OR REPLACE INTO schema_version (version) VALUES (1)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate v1: %w", err)
		}
	}
	return nil
}

// Load reads the whole bank. Undecodable rows yield ErrCorrupt.
func (s *SQLiteStore) Load(ctx context.Context) (*model.KnowledgeBank, error) {
	b := model.NewKnowledgeBank()
	if s.db == nil {
		return b, nil
	}

	if err := s.loadSessions(ctx, b); err != nil {
		return nil, err
	}
	if err := s.loadEntries(ctx, b); err != nil {
		return nil, err
	}
	if err := s.loadObservations(ctx, b); err != nil {
		return nil, err
	}
	if err := s.loadCustomCategories(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *SQLiteStore) loadSessions(ctx context.Context, b *model.KnowledgeBank) error {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, fingerprint, started_at FROM sessions ORDER BY session_id`)
	if err != nil {
		return corrupt(s.path, fmt.Errorf("list sessions: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var st model.SessionState
		var started sql.NullString
		if err := rows.Scan(&id, &st.Fingerprint, &started); err != nil {
			return corrupt(s.path, fmt.Errorf("scan session: %w", err))
		}
		if st.StartedAt, err = parseTime(started); err != nil {
			return corrupt(s.path, fmt.Errorf("session %s: %w", id, err))
		}
		b.ProcessedSessions[id] = st
	}
	return rows.Err()
}

func (s *SQLiteStore) loadEntries(ctx context.Context, b *model.KnowledgeBank) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, normalized_text, display_text, occurrence_count, first_seen_session, last_seen_session, examples
		 FROM entries ORDER BY category, position`)
	if err != nil {
		return corrupt(s.path, fmt.Errorf("list entries: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var e model.PatternEntry
		var examples sql.NullString
		if err := rows.Scan(&e.Category, &e.NormalizedText, &e.DisplayText, &e.OccurrenceCount,
			&e.FirstSeenSession, &e.LastSeenSession, &examples); err != nil {
			return corrupt(s.path, fmt.Errorf("scan entry: %w", err))
		}
		if e.Examples, err = decodeExamples(examples); err != nil {
			return corrupt(s.path, fmt.Errorf("entry %q: %w", e.NormalizedText, err))
		}
		b.Categories[e.Category] = append(b.Categories[e.Category], e)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadObservations(ctx context.Context, b *model.KnowledgeBank) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, session_start, category, category_description, normalized_text, display_text, examples
		 FROM observations ORDER BY seq`)
	if err != nil {
		return corrupt(s.path, fmt.Errorf("list observations: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var o model.Observation
		var start, desc, examples sql.NullString
		if err := rows.Scan(&o.SessionID, &start, &o.Category, &desc, &o.NormalizedText, &o.DisplayText, &examples); err != nil {
			return corrupt(s.path, fmt.Errorf("scan observation: %w", err))
		}
		if o.SessionStart, err = parseTime(start); err != nil {
			return corrupt(s.path, fmt.Errorf("observation for %s: %w", o.SessionID, err))
		}
		if o.Examples, err = decodeExamples(examples); err != nil {
			return corrupt(s.path, fmt.Errorf("observation for %s: %w", o.SessionID, err))
		}
		o.CategoryDescription = desc.String
		b.Observations = append(b.Observations, o)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadCustomCategories(ctx context.Context, b *model.KnowledgeBank) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, description FROM custom_categories ORDER BY name`)
	if err != nil {
		return corrupt(s.path, fmt.Errorf("list custom categories: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var name, desc string
		if err := rows.Scan(&name, &desc); err != nil {
			return corrupt(s.path, fmt.Errorf("scan custom category: %w", err))
		}
		if b.CustomCategories == nil {
			b.CustomCategories = make(map[string]string)
		}
		b.CustomCategories[name] = desc
	}
	return rows.Err()
}

// Save replaces every row in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, b *model.KnowledgeBank) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db == nil {
		if err := s.open(); err != nil {
			return err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"sessions", "entries", "observations", "custom_categories"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for id, st := range b.ProcessedSessions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (session_id, fingerprint, started_at) VALUES (?, ?, ?)`,
			id, st.Fingerprint, nullableTime(st.StartedAt)); err != nil {
			return fmt.Errorf("insert session %s: %w", id, err)
		}
	}

	for cat, entries := range b.Categories {
		for pos, e := range entries {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO entries (category, position, normalized_text, display_text, occurrence_count, first_seen_session, last_seen_session, examples)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				cat, pos, e.NormalizedText, e.DisplayText, e.OccurrenceCount,
				e.FirstSeenSession, e.LastSeenSession, encodeExamples(e.Examples)); err != nil {
				return fmt.Errorf("insert entry %q: %w", e.NormalizedText, err)
			}
		}
	}

	for i, o := range b.Observations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO observations (seq, session_id, session_start, category, category_description, normalized_text, display_text, examples)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			i, o.SessionID, nullableTime(o.SessionStart), o.Category, nullableString(o.CategoryDescription),
			o.NormalizedText, o.DisplayText, encodeExamples(o.Examples)); err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
	}

	for name, desc := range b.CustomCategories {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO custom_categories (name, description) VALUES (?, ?)`, name, desc); err != nil {
			return fmt.Errorf("insert custom category %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Stats returns summary counts about the stored bank.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByCategory: make(map[string]int)}
	if s.db == nil {
		return st, nil
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&st.Sessions); err != nil {
		return st, fmt.Errorf("count sessions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM observations").Scan(&st.Observations); err != nil {
		return st, fmt.Errorf("count observations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT category, COUNT(*) FROM entries GROUP BY category ORDER BY category")
	if err != nil {
		return st, fmt.Errorf("count entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return st, fmt.Errorf("scan category count: %w", err)
		}
		st.ByCategory[cat] = n
		st.Entries += n
	}
	return st, rows.Err()
}

// Close releases the database connection, if one was opened.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// nullableTime returns nil for the zero time, otherwise RFC3339Nano UTC.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func parseTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", ns.String, err)
	}
	return t, nil
}

// encodeExamples returns nil for no examples, otherwise a JSON array.
func encodeExamples(ex []string) any {
	if len(ex) == 0 {
		return nil
	}
	data, _ := json.Marshal(ex)
	return string(data)
}

func decodeExamples(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var ex []string
	if err := json.Unmarshal([]byte(ns.String), &ex); err != nil {
		return nil, fmt.Errorf("decode examples: %w", err)
	}
	return ex, nil
}
