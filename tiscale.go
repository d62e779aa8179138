package tiscale

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/raysh454/tiscale/internal/logging"
	"github.com/raysh454/tiscale/internal/poll"
	"github.com/raysh454/tiscale/internal/webclient"
)

const (
	testEndpoint    = "/api/tiscale/v1/task"
	uploadEndpoint  = "/api/tiscale/v1/upload"
	tasksEndpoint   = "/api/tiscale/v1/task"
	taskEndpoint    = "/api/tiscale/v1/task/%d"
	yaraEndpoint    = "/api/tiscale/v1/yara"
	fileField       = "file"
	customTokenForm = "custom_token"
	userDataForm    = "user_data"
	customDataForm  = "custom_data"
)

// UploadOptions are the optional form fields of a sample submission.
// UserData and CustomData must be JSON documents when set.
type UploadOptions struct {
	CustomToken string
	UserData    string
	CustomData  string
}

// UploadAndGetOptions selects the sample for UploadSampleAndGetResults.
// Exactly one of FilePath and FileSource must be set.
type UploadAndGetOptions struct {
	FilePath   string
	FileSource io.Reader
	FullReport bool
	UploadOptions
}

// TitaniumScale is a client for one TitaniumScale worker.
type TitaniumScale struct {
	host      string
	token     string
	userAgent string
	polling   poll.Config
	web       *webclient.NetHTTPClient
	logger    logging.Logger
}

// New validates cfg and builds a client. A host without an http:// or
// https:// prefix is rejected with a *WrongInputError.
func New(cfg Config) (*TitaniumScale, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	host, _ := validateHost(cfg.Host)

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.With(
		logging.Field{Key: "component", Value: "tiscale"},
		logging.Field{Key: "host", Value: host},
	)

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	web, err := webclient.NewNetHTTPClient(webclient.Config{
		Timeout:  timeout,
		Verify:   !cfg.InsecureSkipVerify,
		ProxyURL: cfg.ProxyURL,
	}, logger, cfg.HTTPClient)
	if err != nil {
		return nil, wrongInput("invalid transport configuration: %v", err)
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &TitaniumScale{
		host:      host,
		token:     cfg.Token,
		userAgent: userAgent,
		polling:   poll.Config{Interval: cfg.WaitTime, Retries: cfg.Retries},
		web:       web,
		logger:    logger,
	}, nil
}

// Host returns the validated base URL without a trailing slash.
func (t *TitaniumScale) Host() string { return t.host }

// UserAgent returns the User-Agent header value sent with every request.
func (t *TitaniumScale) UserAgent() string { return t.userAgent }

// Close releases idle connections.
func (t *TitaniumScale) Close() error { return t.web.Close() }

// TestConnection issues a lightweight GET and fails with a *RequestError
// unless the worker answers with a 2xx status.
func (t *TitaniumScale) TestConnection(ctx context.Context) (*Response, error) {
	return t.send(ctx, http.MethodGet, t.url(testEndpoint), nil, nil, "")
}

// UploadSampleFromPath opens filePath and submits it for analysis. The
// response body carries the task URL (see Response.TaskURL).
func (t *TitaniumScale) UploadSampleFromPath(ctx context.Context, filePath string, opts UploadOptions) (*Response, error) {
	if strings.TrimSpace(filePath) == "" {
		return nil, wrongInput("file_path must be a string.")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, wrongInput("Error while opening file in 'rb' mode - %v", err)
	}
	defer f.Close()

	return t.UploadSampleFromFile(ctx, f, opts)
}

// UploadSampleFromFile submits an already open reader for analysis.
func (t *TitaniumScale) UploadSampleFromFile(ctx context.Context, fileSource io.Reader, opts UploadOptions) (*Response, error) {
	name, err := checkFileSource(fileSource)
	if err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	body, contentType, err := webclient.BuildMultipart(
		map[string]string{
			customTokenForm: opts.CustomToken,
			userDataForm:    opts.UserData,
			customDataForm:  opts.CustomData,
		},
		[]string{customTokenForm, userDataForm, customDataForm},
		webclient.FormFile{Field: fileField, FileName: name, Content: fileSource},
	)
	if err != nil {
		return nil, wrongInput("file_source could not be read: %v", err)
	}

	t.logger.Info("uploading sample",
		logging.Field{Key: "file", Value: name},
		logging.Field{Key: "size", Value: len(body)})

	return t.send(ctx, http.MethodPost, t.url(uploadEndpoint), nil, body, contentType)
}

// GetResults polls taskURL until the worker reports the task as processed.
// It makes at most Retries+1 requests, WaitTime apart. When the budget runs
// out it returns (nil, nil): the report is not ready, which is not an error.
func (t *TitaniumScale) GetResults(ctx context.Context, taskURL string, fullReport bool) (*Response, error) {
	if err := checkTaskURL(taskURL); err != nil {
		return nil, err
	}
	query := url.Values{"full": {strconv.FormatBool(fullReport)}}

	resp, ok, err := poll.Until(ctx, t.polling, func(ctx context.Context, attempt int) (*Response, bool, error) {
		resp, err := t.send(ctx, http.MethodGet, taskURL, query, nil, "")
		if err != nil {
			return nil, false, err
		}
		done, err := processed(resp.Body)
		if err != nil {
			return nil, false, err
		}
		if !done {
			t.logger.Debug("task not processed yet",
				logging.Field{Key: "task_url", Value: taskURL},
				logging.Field{Key: "attempt", Value: attempt})
		}
		return resp, done, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		t.logger.Info("task still not processed after retries",
			logging.Field{Key: "task_url", Value: taskURL},
			logging.Field{Key: "attempts", Value: t.polling.Attempts()})
		return nil, nil
	}
	return resp, nil
}

// UploadSampleAndGetResults uploads a sample and polls for its report.
// Unlike GetResults, running out of retries returns ErrResultsNotReady.
func (t *TitaniumScale) UploadSampleAndGetResults(ctx context.Context, opts UploadAndGetOptions) (*Response, error) {
	hasPath := strings.TrimSpace(opts.FilePath) != ""
	hasSource := opts.FileSource != nil
	if hasPath == hasSource {
		return nil, wrongInput("Either file_path or file_source parameter must be provided, but not both.")
	}

	var (
		uploaded *Response
		err      error
	)
	if hasPath {
		uploaded, err = t.UploadSampleFromPath(ctx, opts.FilePath, opts.UploadOptions)
	} else {
		uploaded, err = t.UploadSampleFromFile(ctx, opts.FileSource, opts.UploadOptions)
	}
	if err != nil {
		return nil, err
	}

	taskURL, err := uploaded.TaskURL()
	if err != nil {
		return nil, err
	}

	results, err := t.GetResults(ctx, taskURL, opts.FullReport)
	if err != nil {
		return nil, err
	}
	if results == nil {
		return nil, ErrResultsNotReady
	}
	return results, nil
}

// ListProcessingTasks lists tasks known to the worker. age (seconds) and
// customToken filter the list when non-zero.
func (t *TitaniumScale) ListProcessingTasks(ctx context.Context, age int, customToken string) (*Response, error) {
	if age < 0 {
		return nil, wrongInput("age parameter must be a non-negative integer.")
	}
	query := url.Values{}
	if age > 0 {
		query.Set("age", strconv.Itoa(age))
	}
	if customToken != "" {
		query.Set(customTokenForm, customToken)
	}
	return t.send(ctx, http.MethodGet, t.url(tasksEndpoint), query, nil, "")
}

// GetProcessingTaskInfo returns the state of a single task.
func (t *TitaniumScale) GetProcessingTaskInfo(ctx context.Context, taskID int, full, v13 bool) (*Response, error) {
	if taskID <= 0 {
		return nil, wrongInput("task_id parameter must be a positive integer.")
	}
	query := url.Values{
		"full": {strconv.FormatBool(full)},
		"v13":  {strconv.FormatBool(v13)},
	}
	return t.send(ctx, http.MethodGet, t.url(taskEndpoint, taskID), query, nil, "")
}

// DeleteProcessingTask removes a single task from the worker.
func (t *TitaniumScale) DeleteProcessingTask(ctx context.Context, taskID int) (*Response, error) {
	if taskID <= 0 {
		return nil, wrongInput("task_id parameter must be a positive integer.")
	}
	return t.send(ctx, http.MethodDelete, t.url(taskEndpoint, taskID), nil, nil, "")
}

// DeleteMultipleTasks removes every task older than age seconds.
func (t *TitaniumScale) DeleteMultipleTasks(ctx context.Context, age int) (*Response, error) {
	if age < 0 {
		return nil, wrongInput("age parameter must be a non-negative integer.")
	}
	query := url.Values{"age": {strconv.Itoa(age)}}
	return t.send(ctx, http.MethodDelete, t.url(tasksEndpoint), query, nil, "")
}

// GetYaraID returns the identifier of the YARA ruleset deployed on the worker.
func (t *TitaniumScale) GetYaraID(ctx context.Context) (*Response, error) {
	return t.send(ctx, http.MethodGet, t.url(yaraEndpoint), nil, nil, "")
}

func (t *TitaniumScale) url(endpoint string, args ...any) string {
	if len(args) > 0 {
		endpoint = fmt.Sprintf(endpoint, args...)
	}
	return t.host + endpoint
}

// send executes one request and maps non-2xx statuses to *RequestError.
func (t *TitaniumScale) send(ctx context.Context, method, target string, query url.Values, body []byte, contentType string) (*Response, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.token)
	headers.Set("User-Agent", t.userAgent)
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}

	start := time.Now()
	raw, err := t.web.Do(ctx, &webclient.Request{
		Method:  method,
		URL:     target,
		Query:   query,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return nil, err
	}

	resp := newResponse(raw)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.logger.Warn("worker returned an error status",
			logging.Field{Key: "method", Value: method},
			logging.Field{Key: "url", Value: target},
			logging.Field{Key: "status", Value: resp.StatusCode},
			logging.Field{Key: "elapsed", Value: time.Since(start).String()})
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        target,
			Body:       resp.Body,
		}
	}
	return resp, nil
}

func (o UploadOptions) validate() error {
	if o.UserData != "" && !json.Valid([]byte(o.UserData)) {
		return wrongInput("user_data parameter must be a valid JSON string.")
	}
	if o.CustomData != "" && !json.Valid([]byte(o.CustomData)) {
		return wrongInput("custom_data parameter must be a valid JSON string.")
	}
	return nil
}

// checkFileSource rejects nil readers and files that are not open, and
// returns the name used for the multipart file part.
func checkFileSource(src io.Reader) (string, error) {
	const msg = "file_source parameter must be a file open in 'rb' mode."
	if src == nil {
		return "", wrongInput(msg)
	}
	if f, ok := src.(*os.File); ok {
		if f == nil {
			return "", wrongInput(msg)
		}
		info, err := f.Stat()
		if err != nil || info.IsDir() {
			return "", wrongInput(msg)
		}
		return filepath.Base(f.Name()), nil
	}
	if named, ok := src.(interface{ Name() string }); ok && named.Name() != "" {
		return filepath.Base(named.Name()), nil
	}
	return "file", nil
}

func checkTaskURL(taskURL string) error {
	if strings.TrimSpace(taskURL) == "" {
		return wrongInput("task_url parameter must be a string.")
	}
	u, err := url.Parse(taskURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return wrongInput("task_url parameter must be an absolute http(s) URL.")
	}
	return nil
}
