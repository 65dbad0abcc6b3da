// Package audit is a human-readable, rotating trail of repair-queue
// enqueues and quorum-failure replies, independent of the structured
// zap operational log. It is adapted from the teacher's bespoke
// internal/logging package: same mutex-guarded io.Writer core and
// size-triggered rename-and-reopen rotation, narrowed from a
// general-purpose leveled logger (redundant with zap, which already
// covers this module's operational logging) down to the two record
// kinds this node actually needs a compliance trail for.
package audit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openendpoint/replicator/internal/object"
)

// Trail appends one line per record to output, rotating the backing
// file once it exceeds maxBytes.
type Trail struct {
	mu       sync.Mutex
	output   io.Writer
	path     string // empty when not file-backed (e.g. in tests)
	maxBytes int64
	written  int64
}

// New opens (creating its directory if needed) a rotating audit trail
// file at path. maxBytes <= 0 disables auto-rotation.
func New(path string, maxBytes int64) (*Trail, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create audit trail directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat audit trail: %w", err)
	}

	return &Trail{output: file, path: path, maxBytes: maxBytes, written: info.Size()}, nil
}

// NewWriter wraps an arbitrary io.Writer with no rotation, for tests
// and for callers that want the trail on an already-managed stream.
func NewWriter(output io.Writer) *Trail {
	return &Trail{output: output}
}

// RecordRepairEnqueue appends one line for a repair-queue publish.
func (t *Trail) RecordRepairEnqueue(kind object.ErrorKind, partitionID int64, key []byte) error {
	return t.writeLine("repair_enqueue", fmt.Sprintf("kind=%s partition=%d key=%q", kind, partitionID, key))
}

// RecordQuorumFailure appends one line for a terminal reply that did
// not reach write quorum (including timeouts).
func (t *Trail) RecordQuorumFailure(method object.Method, partitionID int64, key []byte, timeout bool, causes []string) error {
	return t.writeLine("quorum_failure", fmt.Sprintf("method=%s partition=%d key=%q timeout=%t causes=%v", method, partitionID, key, timeout, causes))
}

func (t *Trail) writeLine(kind, detail string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := fmt.Sprintf("%s %s %s\n", time.Now().UTC().Format("2006-01-02T15:04:05.000Z"), kind, detail)

	if err := t.rotateIfNeededLocked(int64(len(line))); err != nil {
		return err
	}

	n, err := io.WriteString(t.output, line)
	t.written += int64(n)
	return err
}

// rotateIfNeededLocked renames the current file aside with a timestamp
// suffix and opens a fresh one, once the next write would cross
// maxBytes. Callers must hold t.mu.
func (t *Trail) rotateIfNeededLocked(nextWrite int64) error {
	if t.maxBytes <= 0 || t.path == "" {
		return nil
	}
	if t.written+nextWrite <= t.maxBytes {
		return nil
	}

	if file, ok := t.output.(*os.File); ok {
		file.Close()
	}

	ext := filepath.Ext(t.path)
	base := t.path[:len(t.path)-len(ext)]
	rotated := fmt.Sprintf("%s-%s%s", base, time.Now().UTC().Format("20060102-150405.000"), ext)
	if err := os.Rename(t.path, rotated); err != nil {
		return fmt.Errorf("rotate audit trail: %w", err)
	}

	file, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("reopen audit trail after rotation: %w", err)
	}
	t.output = file
	t.written = 0
	return nil
}

// Close releases the underlying file, if any.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if file, ok := t.output.(*os.File); ok {
		return file.Close()
	}
	return nil
}
