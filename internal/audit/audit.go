// Package audit provides the append-only record sinks the queue
// writes played songs and bug reports to.
package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Log is an append-only file of timestamped, comma-delimited records.
// Safe for concurrent use.
type Log struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// Open opens the log at path for appending, creating the file and its
// directory as needed.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return &Log{f: f, w: csv.NewWriter(f)}, nil
}

// Append writes one record led by the RFC 3339 timestamp and flushes
// it to the file.
func (l *Log) Append(ts time.Time, fields ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := append([]string{ts.Format(time.RFC3339)}, fields...)
	if err := l.w.Write(record); err != nil {
		return fmt.Errorf("failed to write log record: %w", err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("failed to flush log record: %w", err)
	}
	return nil
}

// Close flushes pending records and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.w.Flush()
	if err := l.w.Error(); err != nil {
		_ = l.f.Close()
		return fmt.Errorf("failed to flush log: %w", err)
	}
	return l.f.Close()
}
