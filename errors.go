package tiscale

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrWrongInput matches every *WrongInputError.
	ErrWrongInput = errors.New("wrong input")

	// ErrRequest matches every *RequestError.
	ErrRequest = errors.New("request failed")

	// ErrResultsNotReady is returned by UploadSampleAndGetResults when the
	// report is still missing after the retry budget.
	ErrResultsNotReady = errors.New("report fetching attempts finished: the analysis report is still not ready or the sample does not exist on the appliance")
)

// Status-specific sentinels. A *RequestError matches at most one of them.
var (
	ErrBadRequest         = errors.New("bad request")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrNotAllowed         = errors.New("method not allowed")
	ErrNotAcceptable      = errors.New("not acceptable")
	ErrConflict           = errors.New("conflict")
	ErrTooManyRequests    = errors.New("too many requests")
	ErrInternalServer     = errors.New("internal server error")
	ErrServiceUnavailable = errors.New("service unavailable")
)

var statusSentinels = map[int]error{
	http.StatusBadRequest:          ErrBadRequest,
	http.StatusUnauthorized:        ErrUnauthorized,
	http.StatusForbidden:           ErrForbidden,
	http.StatusNotFound:            ErrNotFound,
	http.StatusMethodNotAllowed:    ErrNotAllowed,
	http.StatusNotAcceptable:       ErrNotAcceptable,
	http.StatusConflict:            ErrConflict,
	http.StatusTooManyRequests:     ErrTooManyRequests,
	http.StatusInternalServerError: ErrInternalServer,
	http.StatusServiceUnavailable:  ErrServiceUnavailable,
}

// WrongInputError reports a malformed call. It is returned before any request is sent.
type WrongInputError struct {
	Msg string
}

func (e *WrongInputError) Error() string { return e.Msg }

func (e *WrongInputError) Is(target error) bool { return target == ErrWrongInput }

func wrongInput(format string, args ...any) error {
	return &WrongInputError{Msg: fmt.Sprintf(format, args...)}
}

// RequestError reports a response whose status code is outside 2xx.
type RequestError struct {
	StatusCode int
	Status     string
	URL        string
	Body       []byte
}

func (e *RequestError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if len(e.Body) > 0 {
		return fmt.Sprintf("request to %s failed: %s: %s", e.URL, status, truncate(string(e.Body), 256))
	}
	return fmt.Sprintf("request to %s failed: %s", e.URL, status)
}

func (e *RequestError) Is(target error) bool {
	if target == ErrRequest {
		return true
	}
	sentinel, ok := statusSentinels[e.StatusCode]
	return ok && target == sentinel
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
