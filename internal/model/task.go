package model

import (
	"fmt"
	"path/filepath"
)

// DefaultOutputPattern is the file name pattern used for task outputs when
// the caller does not supply explicit paths. The ordinal starts at 1.
const DefaultOutputPattern = "doc_%03d.txt"

// Task is one unit of work: a URL to fetch and the file its body goes to.
// Tasks are immutable values. Each one is handed out by the queue exactly
// once and completed by the reactor that received it.
type Task struct {
	// URL is the absolute http or https URL to fetch.
	URL string `json:"url"`

	// OutputPath is where the raw response body is written.
	// The file is opened in append-or-create mode, never truncated.
	OutputPath string `json:"outputPath"`
}

// NewTask creates a Task for the given URL and output path.
func NewTask(url, outputPath string) Task {
	return Task{URL: url, OutputPath: outputPath}
}

// OutputPathFor returns the default output path for the task with the given
// 1-based ordinal inside dir (e.g. "results/doc_007.txt").
func OutputPathFor(dir string, ordinal int) string {
	return filepath.Join(dir, fmt.Sprintf(DefaultOutputPattern, ordinal))
}

// String returns a compact representation used in log lines.
func (t Task) String() string {
	return t.URL + " -> " + t.OutputPath
}
