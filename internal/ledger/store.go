package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"bookforge/internal/book"
)

// Errors returned by store lookups and transitions.
var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrSchemaMismatch    = errors.New("schema version mismatch")
)

// schemaVersion is bumped when the schema changes; a mismatched database
// must be recreated.
const schemaVersion = 1

const schemaSQL = `
CREATE TABLE schema_version (version INTEGER NOT NULL);

CREATE TABLE jobs (
    id              TEXT PRIMARY KEY,
    fingerprint     TEXT NOT NULL UNIQUE,
    state           TEXT NOT NULL,
    format          TEXT NOT NULL,
    filename        TEXT NOT NULL DEFAULT '',
    title           TEXT NOT NULL DEFAULT '',
    enrich_enabled  INTEGER NOT NULL DEFAULT 1,
    error_message   TEXT NOT NULL DEFAULT '',
    failed_sections TEXT NOT NULL DEFAULT '[]',
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE TABLE sections (
    job_id  TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
    idx     INTEGER NOT NULL,
    number  TEXT NOT NULL DEFAULT '',
    title   TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    plan    TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (job_id, idx)
);

CREATE TABLE documents (
    fingerprint TEXT PRIMARY KEY,
    data        BLOB NOT NULL
);
`

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the ledger database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateIfAbsent inserts a new job for a document fingerprint, storing the
// document bytes alongside it, and reports whether the job was created.
// If a job for the fingerprint already exists, that job is returned
// unchanged (created=false). The fingerprint unique index makes this the
// single arbitration point for concurrent submissions of the same content.
func (s *Store) CreateIfAbsent(ctx context.Context, job *Job, data []byte) (*Job, bool, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	var created bool
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO jobs (
                id, fingerprint, state, format, filename, title,
                enrich_enabled, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.Fingerprint, StateQueued, job.Format, job.Filename,
			job.Title, boolToInt(job.EnrichEnabled), timestamp, timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		created = rows == 1

		if created {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO documents (fingerprint, data) VALUES (?, ?)`,
				job.Fingerprint, data,
			); err != nil {
				return fmt.Errorf("insert document: %w", err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, false, err
	}

	stored, err := s.GetByFingerprint(ctx, job.Fingerprint)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// UpdateState advances a job through its state machine. The transition is
// validated against the current persisted state and written atomically;
// an illegal transition returns ErrInvalidTransition and changes nothing.
func (s *Store) UpdateState(ctx context.Context, id string, to State, errorMessage string, failedSections []int) error {
	failedJSON, err := json.Marshal(failedSections)
	if err != nil {
		return fmt.Errorf("marshal failed sections: %w", err)
	}
	if failedSections == nil {
		failedJSON = []byte("[]")
	}

	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		var current State
		err = tx.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read state: %w", err)
		}
		if !ValidTransition(current, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET state = ?, error_message = ?, failed_sections = ?, updated_at = ? WHERE id = ?`,
			to, errorMessage, string(failedJSON), time.Now().UTC().Format(time.RFC3339Nano), id,
		); err != nil {
			return fmt.Errorf("update state: %w", err)
		}
		return tx.Commit()
	})
}

// ReplaceSections stores the converted section list for a job, replacing any
// previous conversion output. Section order is the stored order.
func (s *Store) ReplaceSections(ctx context.Context, id string, sections []book.Section) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE job_id = ?`, id); err != nil {
			return fmt.Errorf("clear sections: %w", err)
		}
		for _, sec := range sections {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO sections (job_id, idx, number, title, content, plan, summary)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				id, sec.Index, sec.Number, sec.Title, sec.Content, sec.Plan, sec.Summary,
			); err != nil {
				return fmt.Errorf("insert section %d: %w", sec.Index, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET updated_at = ? WHERE id = ?`,
			time.Now().UTC().Format(time.RFC3339Nano), id,
		); err != nil {
			return fmt.Errorf("touch job: %w", err)
		}
		return tx.Commit()
	})
}

// SetTitle records the document's own title once conversion discovers it.
func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE jobs SET title = ?, updated_at = ? WHERE id = ?`,
			title, time.Now().UTC().Format(time.RFC3339Nano), id,
		)
		if err != nil {
			return fmt.Errorf("set title: %w", err)
		}
		return nil
	})
}

// Enrichment result kinds accepted by SetSectionResult.
const (
	KindPlan    = "plan"
	KindSummary = "summary"
)

// SetSectionResult attaches one enrichment result to a stored section
// without touching its original content.
func (s *Store) SetSectionResult(ctx context.Context, id string, idx int, kind, value string) error {
	var column string
	switch kind {
	case KindPlan:
		column = "plan"
	case KindSummary:
		column = "summary"
	default:
		return fmt.Errorf("unknown enrichment kind: %q", kind)
	}

	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE sections SET `+column+` = ? WHERE job_id = ? AND idx = ?`,
			value, id, idx,
		)
		if err != nil {
			return fmt.Errorf("set section %s: %w", kind, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: job %s section %d", ErrNotFound, id, idx)
		}
		return nil
	})
}

// GetByID fetches a job and its sections by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return s.loadJob(ctx, row)
}

// GetByFingerprint fetches the job for a document fingerprint.
func (s *Store) GetByFingerprint(ctx context.Context, fingerprint string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE fingerprint = ?`, fingerprint)
	return s.loadJob(ctx, row)
}

// ResumableJobs returns jobs left non-terminal, oldest first. After a
// restart these have no in-memory task and must be re-driven from their
// persisted state.
func (s *Store) ResumableJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state IN (?, ?, ?) ORDER BY created_at`,
		StateQueued, StateConverting, StateEnriching,
	)
	if err != nil {
		return nil, fmt.Errorf("query resumable jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if err := s.attachSections(ctx, job); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// DocumentData returns the stored document bytes for a fingerprint.
func (s *Store) DocumentData(ctx context.Context, fingerprint string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE fingerprint = ?`, fingerprint,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return data, nil
}

const jobColumns = `id, fingerprint, state, format, filename, title,
    enrich_enabled, error_message, failed_sections, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job           Job
		enrichEnabled int
		failedJSON    string
		createdAt     string
		updatedAt     string
	)
	err := row.Scan(
		&job.ID, &job.Fingerprint, &job.State, &job.Format, &job.Filename,
		&job.Title, &enrichEnabled, &job.ErrorMessage, &failedJSON,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.EnrichEnabled = enrichEnabled != 0
	if failedJSON != "" && failedJSON != "[]" {
		if err := json.Unmarshal([]byte(failedJSON), &job.FailedSections); err != nil {
			return nil, fmt.Errorf("parse failed sections: %w", err)
		}
	}
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if job.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &job, nil
}

func (s *Store) loadJob(ctx context.Context, row *sql.Row) (*Job, error) {
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if err := s.attachSections(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Store) attachSections(ctx context.Context, job *Job) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, number, title, content, plan, summary
         FROM sections WHERE job_id = ? ORDER BY idx`, job.ID,
	)
	if err != nil {
		return fmt.Errorf("query sections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sec book.Section
		if err := rows.Scan(&sec.Index, &sec.Number, &sec.Title, &sec.Content, &sec.Plan, &sec.Summary); err != nil {
			return fmt.Errorf("scan section: %w", err)
		}
		job.Sections = append(job.Sections, sec)
	}
	return rows.Err()
}

// withRetry retries a write a few times when SQLite reports contention.
// A ledger write failure is fatal to the transition attempt; the retry here
// keeps transient lock contention from surfacing as one.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
