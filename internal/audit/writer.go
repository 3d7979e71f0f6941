package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// NewStdoutWriter writes JSON lines to out, os.Stdout when nil.
func NewStdoutWriter(out io.Writer) Writer {
	if out == nil {
		out = os.Stdout
	}
	return &stdoutWriter{
		encoder: json.NewEncoder(out),
	}
}

type stdoutWriter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func (w *stdoutWriter) Write(record *Record) error {
	if record == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.encoder.Encode(record)
}

func (w *stdoutWriter) Flush() error {
	return nil
}

func (w *stdoutWriter) Close(context.Context) error {
	return nil
}

type fileWriter struct {
	mu     sync.Mutex
	path   string
	writer *bufio.Writer
	file   *os.File
}

// NewFileWriter appends JSON lines to path, creating its directory.
func NewFileWriter(path string) (Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("audit file path cannot be empty")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &fileWriter{
		path:   path,
		writer: bufio.NewWriter(file),
		file:   file,
	}, nil
}

func (w *fileWriter) Write(record *Record) error {
	if record == nil {
		return nil
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.writer.Write(payload); err != nil {
		return err
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return err
	}
	return nil
}

func (w *fileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writer.Flush()
}

func (w *fileWriter) Close(ctx context.Context) error {
	done := make(chan struct{})
	var flushErr error

	go func() {
		flushErr = w.Flush()
		if err := w.file.Close(); err != nil && flushErr == nil {
			flushErr = err
		}
		close(done)
	}()

	select {
	case <-done:
		return flushErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query scans the log from the start. Lines that do not decode are skipped.
func (w *fileWriter) Query(ctx context.Context, q Query) ([]Record, error) {
	if err := w.Flush(); err != nil {
		return nil, err
	}

	file, err := os.Open(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	defer file.Close()

	q = q.Normalize()
	records := []Record{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		if q.Matches(&r) {
			records = append(records, r)
			if len(records) == q.Limit {
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log file: %w", err)
	}
	return records, nil
}
