// Package journal keeps a local SQLite record of submitted samples and the
// reports fetched for them.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/raysh454/tiscale/internal/logging"
)

var (
	ErrEntryNotFound = errors.New("journal entry not found")
	ErrNoReport      = errors.New("journal entry has no report")
)

// Journal stores submissions in SQLite.
type Journal struct {
	db     *sql.DB
	logger logging.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the journal database at path. ":memory:"
// gives a throwaway journal.
func Open(path string, logger logging.Logger) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	j, err := New(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// New wraps an open database and applies the schema.
func New(db *sql.DB, logger logging.Logger) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if err := applySchema(db); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Journal{
		db:     db,
		logger: logger.With(logging.Field{Key: "component", Value: "journal"}),
		now:    time.Now,
	}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordSubmission stores a new entry in StatusSubmitted.
func (j *Journal) RecordSubmission(ctx context.Context, s Submission) (*Entry, error) {
	if s.TaskURL == "" {
		return nil, fmt.Errorf("task url is required")
	}
	e := &Entry{
		ID:          uuid.NewString(),
		Host:        s.Host,
		FileName:    s.FileName,
		SHA256:      s.SHA256,
		Size:        s.Size,
		TaskURL:     s.TaskURL,
		CustomToken: s.CustomToken,
		Status:      StatusSubmitted,
		SubmittedAt: j.now().UTC(),
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO submissions (id, host, file_name, sha256, size, task_url, custom_token, status, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Host, e.FileName, e.SHA256, e.Size, e.TaskURL, e.CustomToken, string(e.Status), e.SubmittedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert submission: %w", err)
	}

	j.logger.Debug("recorded submission",
		logging.Field{Key: "id", Value: e.ID},
		logging.Field{Key: "task_url", Value: e.TaskURL})
	return e, nil
}

// RecordReport attaches a fetched report to the newest entry for taskURL.
// A nil report marks the entry pending. If no entry knows taskURL a new one
// is created so results fetched for foreign uploads are still kept.
func (j *Journal) RecordReport(ctx context.Context, taskURL string, report []byte) (*Entry, error) {
	e, err := j.FindByTaskURL(ctx, taskURL)
	if errors.Is(err, ErrEntryNotFound) {
		e, err = j.RecordSubmission(ctx, Submission{TaskURL: taskURL})
	}
	if err != nil {
		return nil, err
	}

	if report == nil {
		if e.Status == StatusFinished {
			return e, nil
		}
		if _, err := j.db.ExecContext(ctx, `UPDATE submissions SET status = ? WHERE id = ?`,
			string(StatusPending), e.ID); err != nil {
			return nil, fmt.Errorf("update submission %s: %w", e.ID, err)
		}
		e.Status = StatusPending
		return e, nil
	}

	at := j.now().UTC()
	if _, err := j.db.ExecContext(ctx, `
		UPDATE submissions SET status = ?, report = ?, report_at = ? WHERE id = ?`,
		string(StatusFinished), report, at.UnixNano(), e.ID); err != nil {
		return nil, fmt.Errorf("update submission %s: %w", e.ID, err)
	}
	e.Status = StatusFinished
	e.Report = append([]byte(nil), report...)
	e.ReportAt = at
	return e, nil
}

// Get returns the entry with the given id.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, selectEntry+` WHERE id = ?`, id)
	return scanEntry(row)
}

// FindByTaskURL returns the newest entry for taskURL.
func (j *Journal) FindByTaskURL(ctx context.Context, taskURL string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, selectEntry+` WHERE task_url = ? ORDER BY submitted_at DESC, rowid DESC LIMIT 1`, taskURL)
	return scanEntry(row)
}

// List returns the newest entries first. limit <= 0 returns all of them.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	query := selectEntry + ` ORDER BY submitted_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ListBySHA256 returns every entry for the same sample, newest first.
func (j *Journal) ListBySHA256(ctx context.Context, sha string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, selectEntry+` WHERE sha256 = ? ORDER BY submitted_at DESC, rowid DESC`, sha)
	if err != nil {
		return nil, fmt.Errorf("list submissions by sha256: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// DiffReports compares the stored reports of two entries.
func (j *Journal) DiffReports(ctx context.Context, baseID, headID string) (*ReportDiff, error) {
	base, err := j.Get(ctx, baseID)
	if err != nil {
		return nil, fmt.Errorf("base %s: %w", baseID, err)
	}
	head, err := j.Get(ctx, headID)
	if err != nil {
		return nil, fmt.Errorf("head %s: %w", headID, err)
	}
	if len(base.Report) == 0 {
		return nil, fmt.Errorf("base %s: %w", baseID, ErrNoReport)
	}
	if len(head.Report) == 0 {
		return nil, fmt.Errorf("head %s: %w", headID, ErrNoReport)
	}
	return computeReportDiff(baseID, headID, base.Report, head.Report)
}

const selectEntry = `
	SELECT id, host, file_name, sha256, size, task_url, custom_token, status, submitted_at, report, report_at
	FROM submissions`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e           Entry
		status      string
		submittedAt int64
		report      []byte
		reportAt    sql.NullInt64
	)
	err := s.Scan(&e.ID, &e.Host, &e.FileName, &e.SHA256, &e.Size, &e.TaskURL, &e.CustomToken,
		&status, &submittedAt, &report, &reportAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan submission: %w", err)
	}
	e.Status = Status(status)
	e.SubmittedAt = time.Unix(0, submittedAt).UTC()
	if len(report) > 0 {
		e.Report = report
	}
	if reportAt.Valid {
		e.ReportAt = time.Unix(0, reportAt.Int64).UTC()
	}
	return &e, nil
}
