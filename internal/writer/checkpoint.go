package writer

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wegman-software/osmhistory-go/internal/model"
)

// snapshotHeader prefixes the line recording the run's snapshot time
const snapshotHeader = "# snapshot "

// Checkpoint is an append-only file of committed entity refs, one per line.
// The last line is the resume point. A "# snapshot <RFC 3339>" line records
// the snapshot time of the run that wrote it.
type Checkpoint struct {
	path string
	mu   sync.Mutex
	f    *os.File
	last model.Ref
}

// ReadCheckpoint returns the last ref recorded in path.
// A missing or empty file yields the zero Ref, meaning start from the beginning.
func ReadCheckpoint(path string) (model.Ref, error) {
	lastLine, _, err := scanCheckpoint(path)
	if err != nil || lastLine == "" {
		return model.Ref{}, err
	}
	ref, err := model.ParseRef(lastLine)
	if err != nil {
		return model.Ref{}, fmt.Errorf("corrupt checkpoint file %s: %w", path, err)
	}
	return ref, nil
}

// ReadCheckpointSnapshot returns the snapshot time recorded in path.
// ok is false when the file is missing or carries no snapshot line.
func ReadCheckpointSnapshot(path string) (t time.Time, ok bool, err error) {
	_, snapshot, err := scanCheckpoint(path)
	if err != nil || snapshot == "" {
		return time.Time{}, false, err
	}
	t, err = time.Parse(time.RFC3339, snapshot)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt snapshot time in checkpoint file %s: %w", path, err)
	}
	return t.UTC(), true, nil
}

// scanCheckpoint returns the last ref line and the last snapshot value of path
func scanCheckpoint(path string) (lastLine, snapshot string, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, snapshotHeader):
			snapshot = strings.TrimSpace(strings.TrimPrefix(line, snapshotHeader))
		case line == "" || strings.HasPrefix(line, "#"):
		default:
			lastLine = line
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	return lastLine, snapshot, nil
}

// OpenCheckpoint opens path for appending. When truncate is set any earlier
// progress is discarded.
func OpenCheckpoint(path string, truncate bool) (*Checkpoint, error) {
	var last model.Ref
	if !truncate {
		ref, err := ReadCheckpoint(path)
		if err != nil {
			return nil, err
		}
		last = ref
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	return &Checkpoint{path: path, f: f, last: last}, nil
}

// Record durably appends ref
func (c *Checkpoint) Record(ref model.Ref) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLine(ref.String()); err != nil {
		return err
	}
	c.last = ref
	return nil
}

// RecordSnapshot durably appends the snapshot time of the current run, so a
// resumed run stamps its versions with the same time.
func (c *Checkpoint) RecordSnapshot(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLine(snapshotHeader + t.UTC().Format(time.RFC3339Nano))
}

func (c *Checkpoint) writeLine(line string) error {
	if c.f == nil {
		return fmt.Errorf("checkpoint file %s is closed", c.path)
	}
	if _, err := c.f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := c.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	return nil
}

// Last returns the most recently recorded ref
func (c *Checkpoint) Last() model.Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Path returns the checkpoint file path
func (c *Checkpoint) Path() string {
	return c.path
}

// Close closes the underlying file
func (c *Checkpoint) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}
