package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/tiscale"
	"github.com/raysh454/tiscale/internal/app"
	"github.com/raysh454/tiscale/internal/cli"
	"github.com/raysh454/tiscale/internal/journal"
	"github.com/raysh454/tiscale/internal/logging"
	"github.com/raysh454/tiscale/internal/mockworker"
)

const token = "app-token"

type harness struct {
	worker  *mockworker.Worker
	client  *tiscale.TitaniumScale
	journal *journal.Journal
	out     *bytes.Buffer
}

func newHarness(t *testing.T, pollsUntilDone int) *harness {
	t.Helper()
	w := mockworker.New(mockworker.Config{Token: token, PollsUntilDone: pollsUntilDone, YaraID: "yara-app"})
	srv := httptest.NewServer(w)
	t.Cleanup(srv.Close)

	client, err := tiscale.New(tiscale.Config{Host: srv.URL, Token: token, Retries: 2})
	require.NoError(t, err)

	j, err := journal.Open(":memory:", logging.NewNopLogger())
	require.NoError(t, err)

	h := &harness{worker: w, client: client, journal: j, out: &bytes.Buffer{}}
	t.Cleanup(func() { _ = client.Close(); _ = j.Close() })
	return h
}

func (h *harness) run(t *testing.T, argv ...string) error {
	t.Helper()
	args, err := cli.ParseArgs(argv)
	require.NoError(t, err)
	h.out.Reset()
	a := app.NewApplication(app.DefaultConfig(), args, logging.NewNopLogger(), h.client, h.journal, h.out)
	return a.Run(context.Background())
}

func sampleFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sample.txt")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

// ─── upload / results ─────────────────────────────────────────────────

func TestRun_UploadPrintsTaskURLAndJournals(t *testing.T) {
	h := newHarness(t, 0)
	path := sampleFile(t, "hello")

	require.NoError(t, h.run(t, "upload", "-file", path, "-custom-token", "batch"))
	assert.Contains(t, h.out.String(), "/api/tiscale/v1/task/1")

	entries, err := h.journal.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, journal.StatusSubmitted, e.Status)
	assert.Equal(t, "sample.txt", e.FileName)
	assert.Equal(t, "batch", e.CustomToken)
	assert.EqualValues(t, 5, e.Size)
	assert.Len(t, e.SHA256, 64)
	assert.Equal(t, h.client.Host(), e.Host)
}

func TestRun_UploadWaitStoresReport(t *testing.T) {
	h := newHarness(t, 1)

	require.NoError(t, h.run(t, "upload", "-file", sampleFile(t, "hello"), "-wait", "-full"))

	var report map[string]any
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &report))
	assert.NotNil(t, report["processed"])

	entries, err := h.journal.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.StatusFinished, entries[0].Status)
	assert.NotEmpty(t, entries[0].Report)
}

func TestRun_ResultsNotReady(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	resp, err := h.client.UploadSampleFromFile(ctx, strings.NewReader("x"), tiscale.UploadOptions{})
	require.NoError(t, err)
	taskURL, err := resp.TaskURL()
	require.NoError(t, err)

	err = h.run(t, "results", "-task", taskURL)
	assert.ErrorIs(t, err, app.ErrNotReady)
	assert.Equal(t, app.ExitNotReady, app.ExitCode(err))
	assert.Contains(t, h.out.String(), "not processed yet")
	assert.Equal(t, 3, h.worker.Polls(1))

	e, err := h.journal.FindByTaskURL(ctx, taskURL)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusPending, e.Status)
}

func TestRun_UploadErrorIsReturned(t *testing.T) {
	h := newHarness(t, 0)

	err := h.run(t, "upload", "-file", filepath.Join(t.TempDir(), "missing.bin"))
	assert.ErrorIs(t, err, tiscale.ErrWrongInput)
	assert.Equal(t, app.ExitError, app.ExitCode(err))
	assert.Zero(t, h.worker.Requests())
}

// ─── task management ─────────────────────────────────────────────────

func TestRun_TaskCommands(t *testing.T) {
	h := newHarness(t, 0)
	path := sampleFile(t, "hello")

	require.NoError(t, h.run(t, "test"))
	require.NoError(t, h.run(t, "upload", "-file", path))
	require.NoError(t, h.run(t, "upload", "-file", path))

	require.NoError(t, h.run(t, "tasks"))
	var tasks []map[string]any
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &tasks))
	assert.Len(t, tasks, 2)

	require.NoError(t, h.run(t, "task", "-id", "2"))
	assert.Contains(t, h.out.String(), `"task_id"`)

	require.NoError(t, h.run(t, "delete", "-id", "2"))
	err := h.run(t, "task", "-id", "2")
	assert.ErrorIs(t, err, tiscale.ErrNotFound)

	require.NoError(t, h.run(t, "delete", "-age", "0"))
	require.NoError(t, h.run(t, "tasks"))
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &tasks))
	assert.Empty(t, tasks)

	require.NoError(t, h.run(t, "yara"))
	assert.Contains(t, h.out.String(), "yara-app")
}

// ─── journal commands ────────────────────────────────────────────────

func TestRun_HistoryAndDiff(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	require.NoError(t, h.run(t, "upload", "-file", sampleFile(t, "first"), "-wait"))
	require.NoError(t, h.run(t, "upload", "-file", sampleFile(t, "second sample"), "-wait"))

	require.NoError(t, h.run(t, "history", "-limit", "0"))
	lines := strings.Split(strings.TrimSpace(h.out.String()), "\n")
	require.Len(t, lines, 2)
	var listed journal.Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &listed))
	assert.Empty(t, listed.Report, "history omits reports")
	assert.NotContains(t, lines[0], "0001-01-01", "zero timestamps are omitted")

	entries, err := h.journal.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, h.run(t, "diff", "-base", entries[1].ID, "-head", entries[0].ID))
	var d journal.ReportDiff
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &d))
	assert.Equal(t, entries[1].ID, d.BaseID)
	assert.True(t, d.Changed())
}

func TestRun_JournalCommandsNeedJournal(t *testing.T) {
	args, err := cli.ParseArgs([]string{"history"})
	require.NoError(t, err)
	a := app.NewApplication(app.DefaultConfig(), args, nil, nil, nil, &bytes.Buffer{})
	assert.Error(t, a.Run(context.Background()))
}

func TestRun_WorkerCommandNeedsClient(t *testing.T) {
	args, err := cli.ParseArgs([]string{"yara"})
	require.NoError(t, err)
	a := app.NewApplication(app.DefaultConfig(), args, nil, nil, nil, &bytes.Buffer{})
	assert.Error(t, a.Run(context.Background()))
}

// ─── bootstrap / exit codes ──────────────────────────────────────────

func TestBootstrap_FromConfigFile(t *testing.T) {
	w := mockworker.New(mockworker.Config{Token: token, YaraID: "yara-boot"})
	srv := httptest.NewServer(w)
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tiscale.toml")
	content := fmt.Sprintf("[worker]\nhost = %q\ntoken = %q\n\n[journal]\npath = %q\n",
		srv.URL, token, filepath.Join(dir, "journal.db"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	args, err := cli.ParseArgs([]string{"-config", cfgPath, "yara"})
	require.NoError(t, err)

	out, logs := &bytes.Buffer{}, &bytes.Buffer{}
	a, err := app.Bootstrap(args, out, logs)
	require.NoError(t, err)
	require.NotNil(t, a.Journal)

	require.NoError(t, a.Run(context.Background()))
	require.NoError(t, a.Shutdown())
	assert.Contains(t, out.String(), "yara-boot")
}

func TestBootstrap_InvalidHost(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "tiscale.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[worker]\nhost = \"tiscale.local\"\n[journal]\ndisabled = true\n"), 0o600))

	args, err := cli.ParseArgs([]string{"-config", cfgPath, "test"})
	require.NoError(t, err)

	_, err = app.Bootstrap(args, &bytes.Buffer{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, tiscale.ErrWrongInput)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, app.ExitOK, app.ExitCode(nil))
	assert.Equal(t, app.ExitUsage, app.ExitCode(fmt.Errorf("wrapped: %w", cli.ErrUsage)))
	assert.Equal(t, app.ExitNotReady, app.ExitCode(tiscale.ErrResultsNotReady))
	assert.Equal(t, app.ExitError, app.ExitCode(errors.New("boom")))
}
