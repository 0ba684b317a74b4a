package channel

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rail44/culprit/internal/diagnosis"
)

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	rec := diagnosis.Found(1, "B", "http://json-schema.org/draft-07/schema#")
	if err := w.WriteRecord(rec); err != nil {
		t.Fatalf("WriteRecord failed: %v", err)
	}

	got, ok, err := ExtractRecord(buf.Bytes())
	if err != nil {
		t.Fatalf("ExtractRecord failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a record")
	}
	if got.ToolName != "B" || got.Message != diagnosis.MessageFound {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestExtractLastCompleteGroup(t *testing.T) {
	data := []byte(
		"proxy starting up\n" +
			BeginMarker + "\n" +
			`{"message":"first"}` + "\n" +
			EndMarker + "\n" +
			"some interleaved output\n" +
			BeginMarker + "\n" +
			`{"message":"second"}` + "\n" +
			EndMarker + "\n")

	content, ok := Extract(data)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if content != `{"message":"second"}` {
		t.Errorf("Extract = %q, want the last group", content)
	}
}

func TestExtractIgnoresUnterminatedGroup(t *testing.T) {
	// A trailing begin marker without its end marker is an in-progress
	// append; the previous complete group stays authoritative.
	data := []byte(
		BeginMarker + "\n" +
			`{"message":"complete"}` + "\n" +
			EndMarker + "\n" +
			BeginMarker + "\n" +
			`{"message":"torn`)

	content, ok := Extract(data)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if content != `{"message":"complete"}` {
		t.Errorf("Extract = %q, want the complete group", content)
	}
}

func TestExtractNothing(t *testing.T) {
	if _, ok := Extract([]byte("ordinary log output\nmore output\n")); ok {
		t.Error("expected no group in marker-free data")
	}
	if _, ok := Extract([]byte(BeginMarker + "\npartial")); ok {
		t.Error("expected no group for an unterminated frame")
	}
	if _, ok := Extract(nil); ok {
		t.Error("expected no group in empty data")
	}
}

func TestTailWaitDeliversRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channel.log")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("failed to create channel file: %v", err)
	}

	go func() {
		time.Sleep(150 * time.Millisecond)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return
		}
		defer f.Close()
		NewWriter(f).WriteRecord(diagnosis.Found(0, "A", ""))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tail := NewTail(path, 50*time.Millisecond)
	rec, err := tail.Wait(ctx, nil)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if rec.ToolName != "A" {
		t.Errorf("ToolName = %q, want %q", rec.ToolName, "A")
	}
}

func TestTailWaitTimesOut(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channel.log")
	if err := os.WriteFile(path, []byte("no frames here\n"), 0644); err != nil {
		t.Fatalf("failed to create channel file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	tail := NewTail(path, 50*time.Millisecond)
	if _, err := tail.Wait(ctx, nil); err != context.DeadlineExceeded {
		t.Errorf("Wait error = %v, want context.DeadlineExceeded", err)
	}
}

func TestTailWaitAbortsOnCheckFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channel.log")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("failed to create channel file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dead := errors.New("producer died")
	tail := NewTail(path, 20*time.Millisecond)
	_, err := tail.Wait(ctx, func() error { return dead })
	if err == nil || err != dead {
		t.Errorf("Wait error = %v, want the check's error passed through", err)
	}
}
