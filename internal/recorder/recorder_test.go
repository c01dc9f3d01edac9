package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRecorderRotation(t *testing.T) {
	tempDir := t.TempDir()

	r, err := NewRecorder(tempDir, 0)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < MaxRotatedFiles+2; i++ {
		if _, err := r.Start(""); err != nil {
			t.Fatal(err)
		}
		r.Log("search", StatusInfo, map[string]string{"msg": "hello"})
		time.Sleep(10 * time.Millisecond) // distinct mod times
	}
	r.Close()

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != MaxRotatedFiles {
		t.Errorf("expected %d files, got %d", MaxRotatedFiles, len(entries))
	}
}

func TestRecorderCustomRetention(t *testing.T) {
	tempDir := t.TempDir()

	r, err := NewRecorder(tempDir, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := r.Start("run"); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.Close()

	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 1 {
		t.Errorf("expected 1 file, got %d", len(entries))
	}
}

func TestRecorderTrack(t *testing.T) {
	tempDir := t.TempDir()

	r, err := NewRecorder(tempDir, 0)
	if err != nil {
		t.Fatal(err)
	}

	runID, err := r.Start("")
	if err != nil {
		t.Fatal(err)
	}
	if runID == "" {
		t.Fatal("expected a generated run id")
	}
	if !strings.Contains(r.Path(), runID) {
		t.Errorf("trace file %q should carry run id %q", r.Path(), runID)
	}

	done := r.Track("verify_accommodates", map[string]int{"required": 4})
	done(nil)
	done = r.Track("verify_pin_hover", nil)
	done(errors.New("pin color did not change"))
	path := r.Path()
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			t.Fatalf("bad trace line %q: %v", scanner.Text(), err)
		}
		events = append(events, evt)
	}

	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	wantStatus := []string{StatusStart, StatusPass, StatusStart, StatusFail}
	for i, evt := range events {
		if evt.Status != wantStatus[i] {
			t.Errorf("event %d: expected status %q, got %q", i, wantStatus[i], evt.Status)
		}
		if evt.RunID != runID {
			t.Errorf("event %d: expected run id %q, got %q", i, runID, evt.RunID)
		}
	}
	if events[3].Error != "pin color did not change" {
		t.Errorf("expected failure message, got %q", events[3].Error)
	}
}

func TestRecorderLogBeforeStart(t *testing.T) {
	tempDir := t.TempDir()

	r, err := NewRecorder(tempDir, 0)
	if err != nil {
		t.Fatal(err)
	}
	r.Log("orphan", StatusInfo, nil)

	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 0 {
		t.Errorf("expected no trace files before Start, got %d", len(entries))
	}

	var nilRecorder *Recorder
	nilRecorder.Log("ignored", StatusInfo, nil)
}

func TestRecorderLogging(t *testing.T) {
	tempDir := t.TempDir()

	r, err := NewRecorder(tempDir, 0)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.Start("session1"); err != nil {
		t.Fatal(err)
	}
	r.Log("search", StatusInfo, "test message")
	r.Close()

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file, got %d", len(entries))
	}

	content, err := os.ReadFile(filepath.Join(tempDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(content), `{"ts":`) {
		t.Errorf("unexpected log content format: %s", string(content))
	}
}
