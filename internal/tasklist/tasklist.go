package tasklist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/nao1215/torcrawl/internal/model"
	"github.com/nao1215/torcrawl/internal/queue"
	"github.com/nao1215/torcrawl/internal/tor"
)

var (
	// ErrInvalidURL is returned for entries that are not absolute http or
	// https URLs.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrEmptyList is returned by Build when there is nothing to crawl.
	ErrEmptyList = errors.New("no URLs to crawl")
)

// maxLineLength bounds a single list entry.
const maxLineLength = 64 * 1024

// Load reads URLs from r, one per line. Blank lines and lines starting with
// '#' are skipped; surrounding whitespace is trimmed. Every URL is checked
// with Validate and the first invalid line is reported with its number.
func Load(r io.Reader) ([]string, error) {
	var urls []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := Validate(line); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read URL list: %w", err)
	}
	return urls, nil
}

// LoadFile reads a URL list from path. See Load.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // path is given by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to open URL list: %w", err)
	}
	defer f.Close()

	urls, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return urls, nil
}

// Validate checks that raw is an absolute http or https URL with a host.
// Hosts under .onion must be well-formed v3 addresses.
func Validate(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidURL, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q: scheme must be http or https", ErrInvalidURL, raw)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: %q: missing host", ErrInvalidURL, raw)
	}
	if err := tor.CheckOnionHost(u.Hostname()); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidURL, raw, err)
	}
	return nil
}

// Build maps urls to tasks whose output files are numbered from 1 inside
// dir, in list order. Duplicates are kept: each entry is its own task.
func Build(urls []string, dir string) ([]model.Task, error) {
	if len(urls) == 0 {
		return nil, ErrEmptyList
	}
	tasks := make([]model.Task, len(urls))
	for i, u := range urls {
		if err := Validate(u); err != nil {
			return nil, err
		}
		tasks[i] = model.NewTask(u, model.OutputPathFor(dir, i+1))
	}
	return tasks, nil
}

// Enqueue builds the tasks for urls and puts them on a new queue.
func Enqueue(urls []string, dir string) (*queue.TaskQueue, error) {
	tasks, err := Build(urls, dir)
	if err != nil {
		return nil, err
	}
	q := queue.New()
	if err := q.PutAll(tasks); err != nil {
		return nil, err
	}
	return q, nil
}
