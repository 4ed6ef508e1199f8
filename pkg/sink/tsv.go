// Package sink writes append-only tab-delimited result logs.
package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
)

// WriteError reports a failed append. The affected row may be partially
// buffered but was not confirmed durable.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("sink write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// TSV appends rows to a tab-delimited file. Writes are serialized and each
// row is flushed and synced before Append returns.
type TSV struct {
	path string
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
}

// OpenTSV opens path for appending, creating it with header when it is new
// or empty. An existing non-empty file is never truncated.
func OpenTSV(path string, header []string) (*TSV, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &WriteError{Path: path, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, &WriteError{Path: path, Err: err}
	}
	t := &TSV{path: path, f: f, w: newWriter(f)}
	if info.Size() == 0 && len(header) > 0 {
		if err := t.append(header); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return t, nil
}

func newWriter(f *os.File) *csv.Writer {
	w := csv.NewWriter(f)
	w.Comma = '\t'
	return w
}

func (t *TSV) Path() string { return t.path }

// Append writes one row atomically with respect to other callers.
func (t *TSV) Append(row []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return &WriteError{Path: t.path, Err: os.ErrClosed}
	}
	return t.append(row)
}

func (t *TSV) append(row []string) error {
	if err := t.w.Write(row); err != nil {
		return &WriteError{Path: t.path, Err: err}
	}
	t.w.Flush()
	if err := t.w.Error(); err != nil {
		return &WriteError{Path: t.path, Err: err}
	}
	if err := t.f.Sync(); err != nil {
		return &WriteError{Path: t.path, Err: err}
	}
	return nil
}

func (t *TSV) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	return err
}
