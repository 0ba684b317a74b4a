package channel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rail44/culprit/internal/diagnosis"
	"github.com/rail44/culprit/internal/log"
)

// Tail waits for the first complete record to land in the channel file.
//
// A filesystem watch wakes the reader as soon as the interception layer
// appends; an interval ticker bounds staleness when watch events are
// lost, and doubles as the hook point for liveness checks.
type Tail struct {
	path     string
	interval time.Duration
}

// NewTail creates a tail on the channel file at path.
func NewTail(path string, interval time.Duration) *Tail {
	return &Tail{path: path, interval: interval}
}

// Wait blocks until a complete record is extracted, check fails, or ctx
// expires. check runs once per interval tick; a non-nil error aborts the
// wait and is returned as-is so the caller can distinguish producer death
// from timeout.
func (t *Tail) Wait(ctx context.Context, check func() error) (*diagnosis.Record, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: the append happens via a
	// redirected child stdout and some platforms only report the dir.
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		return nil, fmt.Errorf("failed to watch channel directory: %w", err)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	// The file may already hold a frame by the time we start.
	if rec, ok := t.read(); ok {
		return rec, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil, fmt.Errorf("watcher closed")
			}
			if filepath.Clean(event.Name) != filepath.Clean(t.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if rec, ok := t.read(); ok {
					return rec, nil
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil, fmt.Errorf("watcher closed")
			}
			log.Debug("channel watcher error", "error", err)

		case <-ticker.C:
			if check != nil {
				if err := check(); err != nil {
					return nil, err
				}
			}
			if rec, ok := t.read(); ok {
				return rec, nil
			}
		}
	}
}

// read attempts one extraction. A missing file, a partial frame, or an
// undecodable frame all mean "not yet found"; the next wake rechecks.
func (t *Tail) read() (*diagnosis.Record, bool) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return nil, false
	}
	rec, ok, err := ExtractRecord(data)
	if err != nil {
		log.Debug("incomplete diagnosis frame, rechecking", "error", err)
		return nil, false
	}
	return rec, ok
}
