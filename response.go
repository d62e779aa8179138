package tiscale

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/raysh454/tiscale/internal/webclient"
)

// Response is the raw worker response. Result payloads are passed through
// unmodelled; decode them with JSON.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

func newResponse(r *webclient.Response) *Response {
	return &Response{
		StatusCode: r.StatusCode,
		Status:     r.Status,
		Header:     r.Headers,
		Body:       r.Body,
	}
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// TaskURL extracts the task reference from an upload response. Workers answer
// either with the bare URL or with {"task_url": "..."}.
func (r *Response) TaskURL() (string, error) {
	text := strings.TrimSpace(r.Text())
	if strings.HasPrefix(text, "{") {
		var body struct {
			TaskURL string `json:"task_url"`
		}
		if err := json.Unmarshal([]byte(text), &body); err != nil {
			return "", fmt.Errorf("decode upload response: %w", err)
		}
		text = strings.TrimSpace(body.TaskURL)
	} else {
		text = strings.Trim(text, `"`)
	}
	if text == "" {
		return "", fmt.Errorf("upload response carries no task url")
	}
	return text, nil
}

// processed reports whether a task status body describes a finished task:
// the top-level "processed" field must be present and truthy.
func processed(body []byte) (bool, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return false, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return false, fmt.Errorf("decode task status: %w", err)
	}
	switch v := fields["processed"].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case string:
		return v != "", nil
	case []any:
		return len(v) > 0, nil
	case map[string]any:
		return len(v) > 0, nil
	default:
		return false, nil
	}
}
