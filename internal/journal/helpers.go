package journal

import (
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

//go:embed schema.sql
var schemaFS embed.FS

// applySchema applies the SQLite schema to the database and sets appropriate pragmas.
func applySchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}

	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// Fingerprint returns the hex SHA-256 and the size of everything read from r.
func Fingerprint(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("hash sample: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// canonicalReport re-encodes a JSON report with sorted keys and one field per
// line so that line diffs line up regardless of the worker's key order.
func canonicalReport(report []byte) (string, error) {
	if len(report) == 0 {
		return "", nil
	}
	var v any
	if err := json.Unmarshal(report, &v); err != nil {
		return "", fmt.Errorf("decode report: %w", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	return string(out) + "\n", nil
}

// computeReportDiff diffs two reports line by line with diffmatchpatch.
func computeReportDiff(baseID, headID string, base, head []byte) (*ReportDiff, error) {
	baseStr, err := canonicalReport(base)
	if err != nil {
		return nil, fmt.Errorf("base report: %w", err)
	}
	headStr, err := canonicalReport(head)
	if err != nil {
		return nil, fmt.Errorf("head report: %w", err)
	}

	dmp := diffmatchpatch.New()
	baseChars, headChars, lines := dmp.DiffLinesToChars(baseStr, headStr)
	diffs := dmp.DiffMain(baseChars, headChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	chunks := make([]DiffChunk, 0)
	for _, d := range diffs {
		var chunkType string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			chunkType = "added"
		case diffmatchpatch.DiffDelete:
			chunkType = "removed"
		case diffmatchpatch.DiffEqual:
			continue
		}

		if strings.TrimSpace(d.Text) != "" {
			chunks = append(chunks, DiffChunk{
				Type:    chunkType,
				Content: d.Text,
			})
		}
	}

	return &ReportDiff{
		BaseID: baseID,
		HeadID: headID,
		Chunks: chunks,
	}, nil
}
