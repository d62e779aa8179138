package mockworker

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strings"
	"time"
)

const eicarMarker = "EICAR-STANDARD-ANTIVIRUS-TEST-FILE"

// task is one submitted sample.
type task struct {
	ID          int
	FileName    string
	Content     []byte
	CustomToken string
	UserData    json.RawMessage
	CustomData  json.RawMessage
	Submitted   time.Time
	Processed   time.Time
	Polls       int
	Forwarded   string
	Sender      string
}

type classification struct {
	code   int
	factor int
	result string
	story  string
	tag    string
}

func classify(content []byte) classification {
	if strings.Contains(string(content), eicarMarker) {
		return classification{
			code:   3,
			factor: 5,
			result: "Text.Format.EICAR",
			story:  "The file was classified as malicious, using TitaniumCore signature classifier.",
			tag:    "eicar",
		}
	}
	return classification{
		code:   1,
		factor: 5,
		result: "Text.Format.Graylisting",
		story:  "The file was classified as goodware, using TitaniumCore graylisting classifier.",
		tag:    "graylisting",
	}
}

// entropy is the Shannon entropy of content in bits per byte.
func entropy(content []byte) float64 {
	if len(content) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range content {
		counts[b]++
	}
	var h float64
	n := float64(len(content))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// report renders the processed task document. full adds the per-classifier
// breakdown and file statistics.
func (t *task) report(hostname string, full bool) map[string]any {
	md5sum := md5.Sum(t.Content)
	sha1sum := sha1.Sum(t.Content)
	sha256sum := sha256.Sum256(t.Content)
	c := classify(t.Content)
	sha1hex := hex.EncodeToString(sha1sum[:])

	tc := map[string]any{
		"classification_classification": c.code,
		"classification_factor":         c.factor,
		"classification_propagated":     false,
		"classification_result":         c.result,
		"info_file_file_name":           t.FileName,
		"info_file_file_type":           "Text",
		"info_file_hashes_md5":          hex.EncodeToString(md5sum[:]),
		"info_file_hashes_sha1":         sha1hex,
		"info_file_hashes_sha256":       hex.EncodeToString(sha256sum[:]),
		"info_file_size":                len(t.Content),
		"story_0_caption":               "Description",
		"story_0_content":               "This file (SHA1: " + sha1hex + ") is a text file. There are no extracted files.",
		"story_1_caption":               "Classification",
		"story_1_content":               c.story,
		"tags":                          []string{c.tag},
	}
	if full {
		tc["classification_rca_factor"] = c.factor
		tc["classification_scan_results_TitaniumCore_Graylisting_classification"] = c.code
		tc["classification_scan_results_TitaniumCore_Graylisting_result"] = c.result
		tc["classification_scan_results_TitaniumCore_Graylisting_type"] = "internal"
		tc["info_file_entropy"] = entropy(t.Content)
		tc["info_file_file_path"] = t.FileName
		tc["info_statistics_file_stats_0_count"] = 1
		tc["info_statistics_file_stats_0_type"] = "Text"
	}

	out := map[string]any{
		"task_id":         t.ID,
		"submitted":       t.Submitted.Unix(),
		"processed":       t.Processed.Unix(),
		"worker_hostname": hostname,
		"worker_address":  []string{hostname},
		"direct_sender":   t.Sender,
		"tc_report":       []map[string]any{tc},
	}
	if t.Forwarded != "" {
		out["forwarded_for"] = []string{t.Forwarded}
	}
	if len(t.CustomData) > 0 {
		out["custom_data"] = t.CustomData
	}
	if len(t.UserData) > 0 {
		out["user_data"] = t.UserData
	}
	if t.CustomToken != "" {
		out["custom_token"] = t.CustomToken
	}
	return out
}
