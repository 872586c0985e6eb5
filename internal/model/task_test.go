package model

import (
	"path/filepath"
	"testing"
)

// TestOutputPathFor tests the default output naming scheme.
func TestOutputPathFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dir     string
		ordinal int
		want    string
	}{
		{
			name:    "first task",
			dir:     "results",
			ordinal: 1,
			want:    filepath.Join("results", "doc_001.txt"),
		},
		{
			name:    "two digit ordinal is zero padded",
			dir:     "results",
			ordinal: 42,
			want:    filepath.Join("results", "doc_042.txt"),
		},
		{
			name:    "ordinal wider than the pad is kept",
			dir:     "out",
			ordinal: 1234,
			want:    filepath.Join("out", "doc_1234.txt"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := OutputPathFor(tt.dir, tt.ordinal); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

// TestTask tests Task construction and formatting.
func TestTask(t *testing.T) {
	t.Parallel()

	task := NewTask("http://example.com/", "results/doc_001.txt")

	if task.URL != "http://example.com/" {
		t.Errorf("expected URL to be kept, got %q", task.URL)
	}
	if task.OutputPath != "results/doc_001.txt" {
		t.Errorf("expected output path to be kept, got %q", task.OutputPath)
	}
	if got := task.String(); got != "http://example.com/ -> results/doc_001.txt" {
		t.Errorf("unexpected string form %q", got)
	}
}
