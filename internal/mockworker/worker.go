// Package mockworker is an in-process stand-in for a TitaniumScale worker.
// It implements the upload, task, and yara endpoints with in-memory state.
package mockworker

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/raysh454/tiscale/internal/logging"
)

const maxUploadSize = 64 << 20

// Worker is the mock TitaniumScale worker.
type Worker struct {
	cfg     Config
	router  chi.Router
	logger  logging.Logger
	limiter *rate.Limiter

	mu       sync.Mutex
	tasks    map[int]*task
	nextID   int
	requests int
	now      func() time.Time
}

// New creates a mock worker with its routes mounted.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	w := &Worker{
		cfg:    cfg,
		router: chi.NewRouter(),
		logger: logger.With(logging.Field{Key: "component", Value: "mockworker"}),
		tasks:  make(map[int]*task),
		nextID: 1,
		now:    time.Now,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	w.routes()
	return w
}

func (w *Worker) routes() {
	r := w.router
	r.Use(w.countRequests)
	r.Use(w.rateLimitMiddleware)
	r.Use(w.authMiddleware)

	r.Post("/api/tiscale/v1/upload", w.handleUpload)
	r.Get("/api/tiscale/v1/task", w.handleListTasks)
	r.Delete("/api/tiscale/v1/task", w.handleDeleteTasks)
	r.Get("/api/tiscale/v1/task/{taskID}", w.handleGetTask)
	r.Delete("/api/tiscale/v1/task/{taskID}", w.handleDeleteTask)
	r.Get("/api/tiscale/v1/yara", w.handleYara)
}

// ServeHTTP implements http.Handler.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}
	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}
	w.logger.Info("http_request", fields...)

	w.router.ServeHTTP(rw, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (w *Worker) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", w.cfg.Port),
		Handler:           w,
		ReadHeaderTimeout: 15 * time.Second,
	}
}

// Requests returns how many requests reached the router, rejected ones included.
func (w *Worker) Requests() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requests
}

// Polls returns how many times the status of taskID was requested.
func (w *Worker) Polls(taskID int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.tasks[taskID]; ok {
		return t.Polls
	}
	return 0
}

func (w *Worker) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		w.mu.Lock()
		w.requests++
		w.mu.Unlock()
		next.ServeHTTP(rw, r)
	})
}

func (w *Worker) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if w.limiter != nil && !w.limiter.Allow() {
			w.logger.Warn("rate limit exceeded", logging.Field{Key: "path", Value: r.URL.Path})
			rw.Header().Set("Retry-After", "1")
			writeError(rw, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func (w *Worker) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if w.cfg.Token != "" && r.Header.Get("Authorization") != "Token "+w.cfg.Token {
			w.logger.Warn("rejected request with bad token", logging.Field{Key: "path", Value: r.URL.Path})
			writeError(rw, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(rw, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func hostname(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}

// --- HTTP handlers ---

func (w *Worker) handleUpload(rw http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(rw, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(rw, http.StatusBadRequest, "missing file part")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		writeError(rw, http.StatusBadRequest, "reading file part")
		return
	}

	t := &task{
		FileName:    header.Filename,
		Content:     content,
		CustomToken: r.FormValue("custom_token"),
		Forwarded:   r.Header.Get("X-Forwarded-For"),
	}
	t.Sender, _, _ = net.SplitHostPort(r.RemoteAddr)

	for _, f := range []struct {
		name string
		dst  *json.RawMessage
	}{
		{"user_data", &t.UserData},
		{"custom_data", &t.CustomData},
	} {
		v := r.FormValue(f.name)
		if v == "" {
			continue
		}
		if !json.Valid([]byte(v)) {
			writeError(rw, http.StatusBadRequest, f.name+" is not valid JSON")
			return
		}
		*f.dst = json.RawMessage(v)
	}

	w.mu.Lock()
	t.ID = w.nextID
	w.nextID++
	t.Submitted = w.now()
	w.tasks[t.ID] = t
	w.mu.Unlock()

	w.logger.Info("accepted sample",
		logging.Field{Key: "task_id", Value: t.ID},
		logging.Field{Key: "file", Value: t.FileName},
		logging.Field{Key: "size", Value: len(content)})

	writeJSON(rw, http.StatusOK, map[string]string{
		"task_url": fmt.Sprintf("%s/api/tiscale/v1/task/%d", baseURL(r), t.ID),
	})
}

func (w *Worker) handleGetTask(rw http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "taskID"))
	if err != nil || id <= 0 {
		writeError(rw, http.StatusBadRequest, "invalid task id")
		return
	}
	full := r.URL.Query().Get("full") == "true"

	w.mu.Lock()
	t, ok := w.tasks[id]
	if !ok {
		w.mu.Unlock()
		writeError(rw, http.StatusNotFound, "task not found")
		return
	}
	t.Polls++
	if t.Polls <= w.cfg.PollsUntilDone {
		w.mu.Unlock()
		writeJSON(rw, http.StatusOK, struct{}{})
		return
	}
	if t.Processed.IsZero() {
		t.Processed = w.now()
	}
	report := t.report(hostname(r), full)
	w.mu.Unlock()

	writeJSON(rw, http.StatusOK, report)
}

type taskSummary struct {
	TaskID      int    `json:"task_id"`
	TaskURL     string `json:"task_url"`
	Submitted   int64  `json:"submitted"`
	Processed   int64  `json:"processed,omitempty"`
	CustomToken string `json:"custom_token,omitempty"`
}

func (w *Worker) handleListTasks(rw http.ResponseWriter, r *http.Request) {
	age, ok := parseAge(rw, r)
	if !ok {
		return
	}
	token := r.URL.Query().Get("custom_token")

	w.mu.Lock()
	now := w.now()
	out := make([]taskSummary, 0, len(w.tasks))
	for _, t := range w.tasks {
		if age > 0 && now.Sub(t.Submitted) > time.Duration(age)*time.Second {
			continue
		}
		if token != "" && t.CustomToken != token {
			continue
		}
		s := taskSummary{
			TaskID:      t.ID,
			TaskURL:     fmt.Sprintf("%s/api/tiscale/v1/task/%d", baseURL(r), t.ID),
			Submitted:   t.Submitted.Unix(),
			CustomToken: t.CustomToken,
		}
		if !t.Processed.IsZero() {
			s.Processed = t.Processed.Unix()
		}
		out = append(out, s)
	}
	w.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	writeJSON(rw, http.StatusOK, out)
}

func (w *Worker) handleDeleteTask(rw http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "taskID"))
	if err != nil || id <= 0 {
		writeError(rw, http.StatusBadRequest, "invalid task id")
		return
	}

	w.mu.Lock()
	_, ok := w.tasks[id]
	delete(w.tasks, id)
	w.mu.Unlock()

	if !ok {
		writeError(rw, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"deleted": []int{id}})
}

func (w *Worker) handleDeleteTasks(rw http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(r.URL.Query().Get("age")) == "" {
		writeError(rw, http.StatusBadRequest, "age is required")
		return
	}
	age, ok := parseAge(rw, r)
	if !ok {
		return
	}

	w.mu.Lock()
	now := w.now()
	deleted := make([]int, 0)
	for id, t := range w.tasks {
		if now.Sub(t.Submitted) >= time.Duration(age)*time.Second {
			deleted = append(deleted, id)
			delete(w.tasks, id)
		}
	}
	w.mu.Unlock()

	sort.Ints(deleted)
	writeJSON(rw, http.StatusOK, map[string]any{"deleted": deleted})
}

func (w *Worker) handleYara(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]string{"id": w.cfg.YaraID})
}

func parseAge(rw http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("age")
	if raw == "" {
		return 0, true
	}
	age, err := strconv.Atoi(raw)
	if err != nil || age < 0 {
		writeError(rw, http.StatusBadRequest, "age must be a non-negative integer")
		return 0, false
	}
	return age, true
}
