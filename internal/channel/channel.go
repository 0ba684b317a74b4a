// Package channel implements the append-only, marker-framed log that
// carries diagnosis records from the interception layer process to the
// orchestrator.
package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rail44/culprit/internal/diagnosis"
)

// Marker lines bracketing one serialized record. Nothing else the
// interception layer prints may occupy these exact lines, so a line-range
// extraction between the most recent pair is unambiguous.
const (
	BeginMarker = "----- CULPRIT DIAGNOSIS BEGIN -----"
	EndMarker   = "----- CULPRIT DIAGNOSIS END -----"
)

// Writer appends marker-framed records to the channel. Each frame is
// emitted as a single write so a reader never observes a torn frame from
// this process.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewWriter creates a channel writer on top of out, typically the
// interception layer's stdout.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// WriteRecord appends one framed record.
func (w *Writer) WriteRecord(rec diagnosis.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode diagnosis record: %w", err)
	}

	var frame bytes.Buffer
	frame.WriteString(BeginMarker)
	frame.WriteByte('\n')
	frame.Write(line)
	frame.WriteByte('\n')
	frame.WriteString(EndMarker)
	frame.WriteByte('\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(frame.Bytes()); err != nil {
		return fmt.Errorf("failed to write diagnosis frame: %w", err)
	}
	return nil
}

// Extract returns the content of the last complete marker-delimited group
// in data. Multiple groups may accumulate (retries); the most recent
// complete pair is authoritative. A trailing unterminated group is an
// in-progress append and is ignored.
func Extract(data []byte) (string, bool) {
	var (
		groups  []string
		current []string
		open    bool
	)
	for _, line := range strings.Split(string(data), "\n") {
		switch strings.TrimRight(line, "\r") {
		case BeginMarker:
			open = true
			current = current[:0]
		case EndMarker:
			if open {
				groups = append(groups, strings.Join(current, "\n"))
				open = false
			}
		default:
			if open {
				current = append(current, line)
			}
		}
	}
	if len(groups) == 0 {
		return "", false
	}
	return groups[len(groups)-1], true
}

// ExtractRecord decodes the last complete group in data as a diagnosis
// record.
func ExtractRecord(data []byte) (*diagnosis.Record, bool, error) {
	content, ok := Extract(data)
	if !ok {
		return nil, false, nil
	}
	var rec diagnosis.Record
	if err := json.Unmarshal([]byte(content), &rec); err != nil {
		return nil, false, fmt.Errorf("failed to decode diagnosis frame: %w", err)
	}
	return &rec, true, nil
}
