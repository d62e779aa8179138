package tiscale_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/raysh454/tiscale"
	"github.com/raysh454/tiscale/internal/mockworker"
)

func newWorker(t *testing.T, pollsUntilDone int) (*mockworker.Worker, *tiscale.TitaniumScale) {
	t.Helper()
	w := mockworker.New(mockworker.Config{
		Token:          testToken,
		PollsUntilDone: pollsUntilDone,
		YaraID:         "yara-7",
	})
	srv := httptest.NewServer(w)
	t.Cleanup(srv.Close)
	return w, newClient(t, srv.URL)
}

func TestWorker_UploadAndGetResults(t *testing.T) {
	w, ts := newWorker(t, 2)

	resp, err := ts.UploadSampleAndGetResults(context.Background(), tiscale.UploadAndGetOptions{
		FileSource:    strings.NewReader(validFileContent),
		FullReport:    true,
		UploadOptions: tiscale.UploadOptions{CustomData: validCustomData},
	})
	require.NoError(t, err)

	var report struct {
		TaskID     int            `json:"task_id"`
		Processed  int64          `json:"processed"`
		CustomData map[string]any `json:"custom_data"`
	}
	require.NoError(t, resp.JSON(&report))
	assert.Equal(t, 1, report.TaskID)
	assert.NotZero(t, report.Processed)
	assert.Contains(t, report.CustomData, "file_source")
	assert.Equal(t, 3, w.Polls(1))
}

func TestWorker_UploadAndGetResults_NotReady(t *testing.T) {
	w, ts := newWorker(t, 100)

	_, err := ts.UploadSampleAndGetResults(context.Background(), tiscale.UploadAndGetOptions{
		FilePath: writeSample(t),
	})
	assert.ErrorIs(t, err, tiscale.ErrResultsNotReady)
	assert.Equal(t, testRetries+1, w.Polls(1))
}

func TestWorker_UploadAndGetResults_NeedsExactlyOneSource(t *testing.T) {
	_, ts := newWorker(t, 0)

	_, err := ts.UploadSampleAndGetResults(context.Background(), tiscale.UploadAndGetOptions{})
	assert.ErrorIs(t, err, tiscale.ErrWrongInput)

	_, err = ts.UploadSampleAndGetResults(context.Background(), tiscale.UploadAndGetOptions{
		FilePath:   writeSample(t),
		FileSource: strings.NewReader("x"),
	})
	assert.ErrorIs(t, err, tiscale.ErrWrongInput)
}

func TestWorker_BadToken(t *testing.T) {
	w := mockworker.New(mockworker.Config{Token: "other"})
	srv := httptest.NewServer(w)
	defer srv.Close()

	_, err := newClient(t, srv.URL).TestConnection(context.Background())
	assert.ErrorIs(t, err, tiscale.ErrUnauthorized)
}

func TestWorker_TaskManagement(t *testing.T) {
	ctx := context.Background()
	_, ts := newWorker(t, 0)

	for i := 0; i < 3; i++ {
		_, err := ts.UploadSampleFromFile(ctx, strings.NewReader("sample"), tiscale.UploadOptions{CustomToken: "batch-a"})
		require.NoError(t, err)
	}
	_, err := ts.UploadSampleFromFile(ctx, strings.NewReader("sample"), tiscale.UploadOptions{CustomToken: "batch-b"})
	require.NoError(t, err)

	listed, err := ts.ListProcessingTasks(ctx, 0, "batch-a")
	require.NoError(t, err)
	var tasks []map[string]any
	require.NoError(t, listed.JSON(&tasks))
	assert.Len(t, tasks, 3)

	info, err := ts.GetProcessingTaskInfo(ctx, 4, true, false)
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, info.JSON(&report))
	assert.Equal(t, "batch-b", report["custom_token"])

	_, err = ts.DeleteProcessingTask(ctx, 4)
	require.NoError(t, err)
	_, err = ts.GetProcessingTaskInfo(ctx, 4, false, false)
	assert.ErrorIs(t, err, tiscale.ErrNotFound)

	_, err = ts.DeleteMultipleTasks(ctx, 0)
	require.NoError(t, err)
	listed, err = ts.ListProcessingTasks(ctx, 0, "")
	require.NoError(t, err)
	require.NoError(t, listed.JSON(&tasks))
	assert.Empty(t, tasks)

	yara, err := ts.GetYaraID(ctx)
	require.NoError(t, err)
	assert.Contains(t, yara.Text(), "yara-7")
}

func TestTaskManagement_InputErrors(t *testing.T) {
	ctx := context.Background()
	w, ts := newWorker(t, 0)

	_, err := ts.ListProcessingTasks(ctx, -1, "")
	assert.ErrorIs(t, err, tiscale.ErrWrongInput)
	_, err = ts.GetProcessingTaskInfo(ctx, 0, false, false)
	assert.ErrorIs(t, err, tiscale.ErrWrongInput)
	_, err = ts.DeleteProcessingTask(ctx, -3)
	assert.ErrorIs(t, err, tiscale.ErrWrongInput)
	_, err = ts.DeleteMultipleTasks(ctx, -1)
	assert.ErrorIs(t, err, tiscale.ErrWrongInput)

	assert.Zero(t, w.Requests(), "input errors must not reach the worker")
}

func TestWorker_RateLimited(t *testing.T) {
	w := mockworker.New(mockworker.Config{Token: testToken, RateLimit: rate.Every(time.Hour)})
	srv := httptest.NewServer(w)
	defer srv.Close()
	ts := newClient(t, srv.URL)

	_, err := ts.GetYaraID(context.Background())
	require.NoError(t, err)

	_, err = ts.GetYaraID(context.Background())
	assert.ErrorIs(t, err, tiscale.ErrTooManyRequests)
	var reqErr *tiscale.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 429, reqErr.StatusCode)
}
