package journal_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/tiscale/internal/journal"
	"github.com/raysh454/tiscale/internal/logging"
)

func openTestJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(":memory:", logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	sha, size, err := journal.Fingerprint(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sha)
	assert.EqualValues(t, 5, size)

	e, err := j.RecordSubmission(ctx, journal.Submission{
		Host:        "http://worker",
		FileName:    "hello.txt",
		SHA256:      sha,
		Size:        size,
		TaskURL:     "http://worker/api/tiscale/v1/task/1",
		CustomToken: "tok",
	})
	require.NoError(t, err)
	assert.Equal(t, journal.StatusSubmitted, e.Status)
	assert.NotEmpty(t, e.ID)

	got, err := j.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.FileName, got.FileName)
	assert.Equal(t, e.TaskURL, got.TaskURL)
	assert.Equal(t, "tok", got.CustomToken)
	assert.True(t, e.SubmittedAt.Equal(got.SubmittedAt))
	assert.Nil(t, got.Report)
}

func TestJournal_GetMissing(t *testing.T) {
	_, err := openTestJournal(t).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, journal.ErrEntryNotFound)
}

func TestJournal_RecordSubmissionNeedsTaskURL(t *testing.T) {
	_, err := openTestJournal(t).RecordSubmission(context.Background(), journal.Submission{FileName: "x"})
	assert.Error(t, err)
}

func TestJournal_RecordReportLifecycle(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	taskURL := "http://worker/api/tiscale/v1/task/9"

	_, err := j.RecordSubmission(ctx, journal.Submission{FileName: "a", TaskURL: taskURL})
	require.NoError(t, err)

	pending, err := j.RecordReport(ctx, taskURL, nil)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusPending, pending.Status)

	done, err := j.RecordReport(ctx, taskURL, []byte(`{"processed": 1}`))
	require.NoError(t, err)
	assert.Equal(t, journal.StatusFinished, done.Status)

	// a later "not ready" poll must not downgrade a finished entry
	again, err := j.RecordReport(ctx, taskURL, nil)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusFinished, again.Status)

	stored, err := j.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusFinished, stored.Status)
	assert.JSONEq(t, `{"processed": 1}`, string(stored.Report))
	assert.False(t, stored.ReportAt.IsZero())
}

func TestNew_SchemaHasOnlySubmissions(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	j, err := journal.New(db, nil)
	require.NoError(t, err)
	defer j.Close()

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	require.NoError(t, err)
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		tables = append(tables, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"submissions"}, tables)
}

func TestEntry_JSONOmitsMissingReportTime(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	e, err := j.RecordSubmission(ctx, journal.Submission{FileName: "a", TaskURL: "http://worker/api/tiscale/v1/task/3"})
	require.NoError(t, err)

	raw, err := json.Marshal(e)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "report_at")

	done, err := j.RecordReport(ctx, e.TaskURL, []byte(`{"processed": 1}`))
	require.NoError(t, err)
	raw, err = json.Marshal(done)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "report_at")
}

func TestJournal_RecordReportForUnknownTask(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	e, err := j.RecordReport(ctx, "http://worker/api/tiscale/v1/task/77", []byte(`{"processed": 1}`))
	require.NoError(t, err)
	assert.Equal(t, journal.StatusFinished, e.Status)

	list, err := j.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestJournal_ListNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	for _, name := range []string{"first", "second", "third"} {
		_, err := j.RecordSubmission(ctx, journal.Submission{FileName: name, SHA256: "same", TaskURL: "http://w/" + name})
		require.NoError(t, err)
	}

	list, err := j.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "third", list[0].FileName)
	assert.Equal(t, "second", list[1].FileName)

	bySHA, err := j.ListBySHA256(ctx, "same")
	require.NoError(t, err)
	assert.Len(t, bySHA, 3)
}

func TestJournal_DiffReports(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	base, err := j.RecordReport(ctx, "http://w/task/1",
		[]byte(`{"task_id": 1, "tc_report": [{"classification_result": "Text.Format.Graylisting", "tags": ["graylisting"]}]}`))
	require.NoError(t, err)
	head, err := j.RecordReport(ctx, "http://w/task/2",
		[]byte(`{"tc_report": [{"tags": ["graylisting"], "classification_result": "Text.Format.EICAR"}], "task_id": 1}`))
	require.NoError(t, err)

	diff, err := j.DiffReports(ctx, base.ID, head.ID)
	require.NoError(t, err)
	require.True(t, diff.Changed())
	require.Len(t, diff.Chunks, 2)
	assert.Equal(t, "removed", diff.Chunks[0].Type)
	assert.Contains(t, diff.Chunks[0].Content, "Graylisting\"")
	assert.Equal(t, "added", diff.Chunks[1].Type)
	assert.Contains(t, diff.Chunks[1].Content, "EICAR")

	same, err := j.DiffReports(ctx, base.ID, base.ID)
	require.NoError(t, err)
	assert.False(t, same.Changed())
}

func TestJournal_DiffNeedsReports(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	noReport, err := j.RecordSubmission(ctx, journal.Submission{TaskURL: "http://w/task/1"})
	require.NoError(t, err)
	withReport, err := j.RecordReport(ctx, "http://w/task/2", []byte(`{}`))
	require.NoError(t, err)

	_, err = j.DiffReports(ctx, noReport.ID, withReport.ID)
	assert.ErrorIs(t, err, journal.ErrNoReport)

	_, err = j.DiffReports(ctx, "missing", withReport.ID)
	assert.ErrorIs(t, err, journal.ErrEntryNotFound)
}

func TestJournal_OpenOnDiskPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "journal.db")

	j, err := journal.Open(path, nil)
	require.NoError(t, err)
	e, err := j.RecordSubmission(ctx, journal.Submission{TaskURL: "http://w/task/1"})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	reopened, err := journal.Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	_, err = reopened.Get(ctx, e.ID)
	assert.NoError(t, err)
}
