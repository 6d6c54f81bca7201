package pipeline

import (
	"sync"
	"time"
)

const defaultHistorySize = 100

// History keeps the most recent finished runs for inspection
type History struct {
	mu    sync.RWMutex
	items []Instance
	next  int
	full  bool
}

var _ Recorder = (*History)(nil)

// NewHistory creates a history holding up to size runs
func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{items: make([]Instance, size)}
}

// StageCompleted implements Recorder
func (h *History) StageCompleted(Stage, time.Duration, error) {}

// PipelineFinished implements Recorder
func (h *History) PipelineFinished(inst *Instance) {
	snapshot := *inst
	snapshot.Transitions = append([]Transition(nil), inst.Transitions...)
	snapshot.StageDurations = make(map[Stage]time.Duration, len(inst.StageDurations))
	for k, v := range inst.StageDurations {
		snapshot.StageDurations[k] = v
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.items[h.next] = snapshot
	h.next = (h.next + 1) % len(h.items)
	if h.next == 0 {
		h.full = true
	}
}

// Recent returns finished runs, newest first
func (h *History) Recent() []Instance {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.next
	if h.full {
		n = len(h.items)
	}
	out := make([]Instance, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

// Get returns the run with the given pipeline id
func (h *History) Get(id string) (Instance, bool) {
	for _, inst := range h.Recent() {
		if inst.ID == id {
			return inst, true
		}
	}
	return Instance{}, false
}
