package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dshills/commitgate/internal/bisect"
	"github.com/dshills/commitgate/internal/risk"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultHistoryWindow is how many recent outcomes FailureRate considers.
const DefaultHistoryWindow = 50

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Store is the audit trail, backed by SQLite (modernc.org/sqlite, no CGO).
type Store struct {
	db     *sql.DB
	window int
}

// Option configures a Store.
type Option func(*Store)

// WithHistoryWindow sets how many recent outcomes FailureRate considers.
func WithHistoryWindow(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.window = n
		}
	}
}

// Open opens (or creates) the database at path and applies migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// One writer at a time; the pool serializes access.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, window: DefaultHistoryWindow}
	for _, o := range opts {
		o(s)
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// newULID returns a ULID from the library's locked monotonic source, so
// IDs made in one process sort in creation order.
func newULID() string {
	return ulid.Make().String()
}

// migrate runs the embedded SQL migrations in filename order, once each.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}
		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// --- Assessments ---

// Record is one gated commit in the audit trail. Records are never
// modified once saved; gating the same commit again appends a new one.
type Record struct {
	ID              string          `json:"id"`
	CommitID        string          `json:"commitId"`
	RunID           string          `json:"runId,omitempty"`
	Assessment      risk.Assessment `json:"assessment"`
	ScanVerdict     string          `json:"scanVerdict,omitempty"`
	HighestSeverity string          `json:"highestSeverity,omitempty"`
	CatalogVersion  string          `json:"catalogVersion,omitempty"`
	CodesOK         bool            `json:"codesOk"`
	Paths           []string        `json:"paths"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// SaveAssessment appends r to the audit trail and fills in its ID and
// creation time.
func (s *Store) SaveAssessment(ctx context.Context, r *Record) error {
	if r.CommitID == "" {
		return errors.New("save assessment: empty commit id")
	}
	if r.ID == "" {
		r.ID = newULID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	aj, err := json.Marshal(r.Assessment)
	if err != nil {
		return fmt.Errorf("encode assessment: %w", err)
	}
	pj, err := json.Marshal(nonNil(r.Paths))
	if err != nil {
		return fmt.Errorf("encode paths: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assessments (id, commit_id, run_id, score, level, strategy, approvals, scan_verdict, highest_severity, catalog_version, codes_ok, paths_json, assessment_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CommitID, r.RunID, r.Assessment.Score, string(r.Assessment.Level), string(r.Assessment.Strategy),
		r.Assessment.RequiredApprovals, r.ScanVerdict, r.HighestSeverity, r.CatalogVersion, boolToInt(r.CodesOK),
		string(pj), string(aj), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save assessment %s: %w", r.CommitID, err)
	}
	return nil
}

const recordColumns = `id, commit_id, run_id, scan_verdict, highest_severity, catalog_version, codes_ok, paths_json, assessment_json, created_at`

// GetAssessment returns the latest record for commitID.
func (s *Store) GetAssessment(ctx context.Context, commitID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM assessments WHERE commit_id = ? ORDER BY id DESC LIMIT 1`, commitID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("assessment %s: %w", commitID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	return r, nil
}

// AssessmentHistory returns every record for commitID, oldest first.
func (s *Store) AssessmentHistory(ctx context.Context, commitID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM assessments WHERE commit_id = ? ORDER BY id`, commitID)
	if err != nil {
		return nil, fmt.Errorf("assessment history: %w", err)
	}
	return collectRecords(rows)
}

// ListAssessments returns the most recent records, newest first.
func (s *Store) ListAssessments(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM assessments ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]*Record, error) {
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	r := &Record{}
	var codesOK int
	var pj, aj string
	if err := sc.Scan(&r.ID, &r.CommitID, &r.RunID, &r.ScanVerdict, &r.HighestSeverity, &r.CatalogVersion,
		&codesOK, &pj, &aj, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.CodesOK = codesOK != 0
	if err := json.Unmarshal([]byte(pj), &r.Paths); err != nil {
		return nil, fmt.Errorf("decode paths: %w", err)
	}
	if err := json.Unmarshal([]byte(aj), &r.Assessment); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	return r, nil
}

// --- Deployment outcomes ---

// Outcome is the observed result of deploying a commit.
type Outcome struct {
	ID          string    `json:"id"`
	CommitID    string    `json:"commitId"`
	Environment string    `json:"environment,omitempty"`
	Failed      bool      `json:"failed"`
	Paths       []string  `json:"paths"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// RecordOutcome stores o together with the paths it touched.
func (s *Store) RecordOutcome(ctx context.Context, o *Outcome) error {
	if o.ID == "" {
		o.ID = newULID()
	}
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO outcomes (id, commit_id, environment, failed, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		o.ID, o.CommitID, o.Environment, boolToInt(o.Failed), o.RecordedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	for _, p := range dedupe(o.Paths) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO outcome_paths (outcome_id, path) VALUES (?, ?)`, o.ID, p); err != nil {
			return fmt.Errorf("record outcome path: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outcome: %w", err)
	}
	return nil
}

// FailureRate returns the share of failed deployments among the most recent
// outcomes that touched any of paths. ok is false when none exist. It
// implements risk.HistoryProvider.
func (s *Store) FailureRate(ctx context.Context, paths []string) (float64, bool, error) {
	paths = dedupe(paths)
	if len(paths) == 0 {
		return 0, false, nil
	}
	args := make([]any, 0, len(paths)+1)
	for _, p := range paths {
		args = append(args, p)
	}
	args = append(args, s.window)

	query := `SELECT COUNT(*), COALESCE(SUM(failed), 0) FROM (
		SELECT o.failed FROM outcomes o
		WHERE o.id IN (SELECT outcome_id FROM outcome_paths WHERE path IN (` + placeholders(len(paths)) + `))
		ORDER BY o.recorded_at DESC, o.id DESC
		LIMIT ?)`
	var total, failed int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total, &failed); err != nil {
		return 0, false, fmt.Errorf("failure rate: %w", err)
	}
	if total == 0 {
		return 0, false, nil
	}
	return float64(failed) / float64(total), true, nil
}

// --- Incidents ---

// IncidentSummary is one row of the incident list.
type IncidentSummary struct {
	ID          string       `json:"id"`
	GoodRef     string       `json:"goodRef"`
	BadRef      string       `json:"badRef"`
	State       bisect.State `json:"state"`
	Commit      string       `json:"commit,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	OracleCalls int          `json:"oracleCalls"`
	Started     time.Time    `json:"started"`
	Finished    time.Time    `json:"finished"`
}

// SaveSession stores a finished bisect session under its ID.
func (s *Store) SaveSession(ctx context.Context, sess *bisect.Session, inc bisect.Incident) error {
	sj, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ij, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("encode incident: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO incidents (id, good_ref, bad_ref, state, commit_id, reason, oracle_calls, incident_json, session_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.GoodRef, sess.BadRef, string(sess.State), sess.Result.Commit, sess.Result.Reason,
		sess.OracleCalls(), string(ij), string(sj), sess.Started.UTC(), sess.Finished.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession returns the full session trace and its incident context.
func (s *Store) GetSession(ctx context.Context, id string) (*bisect.Session, bisect.Incident, error) {
	var sj, ij string
	err := s.db.QueryRowContext(ctx, `SELECT session_json, incident_json FROM incidents WHERE id = ?`, id).Scan(&sj, &ij)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bisect.Incident{}, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, bisect.Incident{}, fmt.Errorf("get session: %w", err)
	}
	sess := &bisect.Session{}
	if err := json.Unmarshal([]byte(sj), sess); err != nil {
		return nil, bisect.Incident{}, fmt.Errorf("decode session: %w", err)
	}
	var inc bisect.Incident
	if err := json.Unmarshal([]byte(ij), &inc); err != nil {
		return nil, bisect.Incident{}, fmt.Errorf("decode incident: %w", err)
	}
	return sess, inc, nil
}

// ListSessions returns incident summaries, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]IncidentSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, good_ref, bad_ref, state, commit_id, reason, oracle_calls, started_at, finished_at
		FROM incidents ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []IncidentSummary
	for rows.Next() {
		var is IncidentSummary
		var state string
		if err := rows.Scan(&is.ID, &is.GoodRef, &is.BadRef, &state, &is.Commit, &is.Reason, &is.OracleCalls, &is.Started, &is.Finished); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		is.State = bisect.State(state)
		out = append(out, is)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
