// Package recorder writes a JSONL flight-recorder trace of verification steps.
package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	MaxRotatedFiles = 3
	TraceDir        = "traces"
)

// Step statuses.
const (
	StatusStart    = "start"
	StatusPass     = "pass"
	StatusFail     = "fail"
	StatusEscalate = "escalate"
	StatusInfo     = "info"
)

// Event is a single record in the trace.
type Event struct {
	Timestamp  time.Time   `json:"ts"`
	RunID      string      `json:"run_id"`
	Step       string      `json:"step"`
	Status     string      `json:"status"`
	DurationMs int64       `json:"duration_ms,omitempty"`
	Error      string      `json:"error,omitempty"`
	Data       interface{} `json:"data,omitempty"`
}

// Recorder manages rotating trace files, one per run.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	basePath string
	maxFiles int
	runID    string
	path     string
}

// NewRecorder creates a recorder and ensures its directory exists. maxFiles <= 0 keeps
// MaxRotatedFiles traces.
func NewRecorder(basePath string, maxFiles int) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if maxFiles <= 0 {
		maxFiles = MaxRotatedFiles
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{basePath: basePath, maxFiles: maxFiles}, nil
}

// Start begins a new trace and returns its run id, generating one when runID is empty.
// Old traces are rotated so only the newest maxFiles remain.
func (r *Recorder) Start(runID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
		r.encoder = nil
	}

	if err := r.rotate(); err != nil {
		return "", fmt.Errorf("rotate traces: %w", err)
	}

	if runID == "" {
		runID = uuid.New().String()
	}
	filename := fmt.Sprintf("trace_%s_%d.jsonl", runID, time.Now().UnixMilli())
	path := filepath.Join(r.basePath, filename)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}

	r.file = f
	r.encoder = json.NewEncoder(f)
	r.runID = runID
	r.path = path
	return runID, nil
}

// RunID returns the id of the active trace, or "".
func (r *Recorder) RunID() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// Path returns the file of the active trace, or "".
func (r *Recorder) Path() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Log writes an event to the current trace. It is a no-op before Start.
func (r *Recorder) Log(step, status string, data interface{}) {
	r.write(Event{Step: step, Status: status, Data: data})
}

// Track logs the start of step and returns a func that logs its outcome and duration.
func (r *Recorder) Track(step string, data interface{}) func(err error) {
	start := time.Now()
	r.write(Event{Step: step, Status: StatusStart, Data: data})
	return func(err error) {
		evt := Event{Step: step, Status: StatusPass, DurationMs: time.Since(start).Milliseconds()}
		if err != nil {
			evt.Status = StatusFail
			evt.Error = err.Error()
		}
		r.write(evt)
	}
}

func (r *Recorder) write(evt Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}
	evt.Timestamp = time.Now()
	evt.RunID = r.runID
	_ = r.encoder.Encode(evt)
}

// rotate keeps only the newest maxFiles-1 traces, leaving room for the next one.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}

	type trace struct {
		name string
		mod  time.Time
	}
	var traces []trace
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, trace{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool {
		if traces[i].mod.Equal(traces[j].mod) {
			return traces[i].name > traces[j].name
		}
		return traces[i].mod.After(traces[j].mod)
	})

	keep := r.maxFiles - 1
	if len(traces) <= keep {
		return nil
	}
	var errs []error
	for _, t := range traces[keep:] {
		if err := os.Remove(filepath.Join(r.basePath, t.name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close finishes the current trace.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.encoder = nil
	r.runID = ""
	r.path = ""
	return err
}
