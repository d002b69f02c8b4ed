package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/divyekant/subdash/internal/pipeline"
)

// ProgressEvent is sent over SSE to report sync progress.
type ProgressEvent struct {
	Phase string `json:"phase"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

// SyncResult is the final summary sent when a sync completes.
type SyncResult struct {
	Mode      string        `json:"mode"`
	Strategy  string        `json:"strategy,omitempty"`
	Merged    int           `json:"merged"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Slots     int           `json:"slots"`
	Watermark string        `json:"watermark,omitempty"`
	Errors    int           `json:"errors"`
	Elapsed   time.Duration `json:"elapsed"`
	ErrMsgs   []string      `json:"error_messages,omitempty"`
}

func summarize(res *pipeline.Result, elapsed time.Duration) SyncResult {
	out := SyncResult{
		Mode:     res.Mode.String(),
		Strategy: res.Strategy,
		Errors:   len(res.Errors),
		Elapsed:  elapsed,
	}
	if p := res.Periods; p != nil {
		out.Merged = len(p.Merged)
		out.Skipped = len(p.Skipped)
		out.Failed = len(p.Failed)
		out.Watermark = p.Watermark
	}
	if sl := res.Slots; sl != nil {
		out.Slots = len(sl.Merged)
		out.Failed += len(sl.Failed)
	}
	for _, err := range res.Errors {
		out.ErrMsgs = append(out.ErrMsgs, err.Error())
	}
	return out
}

// SyncRun tracks a single in-flight sync.
type SyncRun struct {
	events chan sseEvent
	done   chan struct{}
}

// sseEvent is a typed SSE message sent over the events channel.
type sseEvent struct {
	Event string // SSE event type: "progress", "result", "error"
	Data  string // JSON-encoded payload
}

func (r *SyncRun) send(event string, v any) {
	data, _ := json.Marshal(v)
	select {
	case r.events <- sseEvent{Event: event, Data: string(data)}:
	default:
		// Drop event if channel is full (client too slow).
	}
}

// SendProgress sends a progress event to the SSE stream.
func (r *SyncRun) SendProgress(phase string, done, total int) {
	r.send("progress", ProgressEvent{Phase: phase, Done: done, Total: total})
}

// SendResult sends the final result event.
func (r *SyncRun) SendResult(result SyncResult) {
	r.send("result", result)
}

// SendError sends an error event.
func (r *SyncRun) SendError(msg string) {
	r.send("error", map[string]string{"error": msg})
}

// WriteSSE streams events to the HTTP response as text/event-stream.
// It blocks until the run completes or the client disconnects.
func (r *SyncRun) WriteSSE(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := req.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Event, ev.Data)
			flusher.Flush()
		}
	}
}

// RunManager tracks active runs by name.
type RunManager struct {
	mu   sync.Mutex
	runs map[string]*SyncRun
}

// NewRunManager creates an empty RunManager.
func NewRunManager() *RunManager {
	return &RunManager{runs: make(map[string]*SyncRun)}
}

// Start creates a run under name. Returns nil if one is already active.
func (m *RunManager) Start(name string) *SyncRun {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[name]; exists {
		return nil
	}
	run := &SyncRun{
		events: make(chan sseEvent, 100),
		done:   make(chan struct{}),
	}
	m.runs[name] = run
	return run
}

// Finish marks the run as done and removes it from the active set.
func (m *RunManager) Finish(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run, exists := m.runs[name]; exists {
		close(run.done)
		close(run.events)
		delete(m.runs, name)
	}
}

// Get returns the active run for name, or nil if none is active.
func (m *RunManager) Get(name string) *SyncRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[name]
}

// Done returns a channel closed when the run finishes.
func (r *SyncRun) Done() <-chan struct{} { return r.done }
