package journal

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a journaled submission.
type Status string

const (
	// StatusSubmitted means the upload succeeded and no report was fetched yet.
	StatusSubmitted Status = "submitted"

	// StatusPending means results were polled but the worker had not finished.
	StatusPending Status = "pending"

	// StatusFinished means a processed report is stored.
	StatusFinished Status = "finished"
)

// Submission describes an upload to record.
type Submission struct {
	Host        string
	FileName    string
	SHA256      string
	Size        int64
	TaskURL     string
	CustomToken string
}

// Entry is one journaled submission.
type Entry struct {
	ID          string          `json:"id"`
	Host        string          `json:"host,omitempty"`
	FileName    string          `json:"file_name"`
	SHA256      string          `json:"sha256"`
	Size        int64           `json:"size"`
	TaskURL     string          `json:"task_url"`
	CustomToken string          `json:"custom_token,omitempty"`
	Status      Status          `json:"status"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Report      json.RawMessage `json:"report,omitempty"`
	ReportAt    time.Time       `json:"report_at,omitzero"`
}

// DiffChunk is a contiguous run of report lines present on one side only.
type DiffChunk struct {
	Type    string `json:"type"` // "added" or "removed"
	Content string `json:"content"`
}

// ReportDiff summarizes the differences between two stored reports.
type ReportDiff struct {
	BaseID string      `json:"base_id"`
	HeadID string      `json:"head_id"`
	Chunks []DiffChunk `json:"chunks"`
}

// Changed reports whether the two reports differ.
func (d *ReportDiff) Changed() bool { return len(d.Chunks) > 0 }
