package process

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "github.com/scriptdeck/scriptdeck/internal/common/errors"
	"github.com/scriptdeck/scriptdeck/internal/common/logger"
	"github.com/scriptdeck/scriptdeck/internal/events"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

// recordingEmitter captures every emitted event in order.
type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *recordingEmitter) Emit(evt events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) forProcess(id string) []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []events.Event
	for _, evt := range e.events {
		if evt.ProcessID == id {
			out = append(out, evt)
		}
	}
	return out
}

func (e *recordingEmitter) count(id string, typ events.Type) int {
	n := 0
	for _, evt := range e.forProcess(id) {
		if evt.Type == typ {
			n++
		}
	}
	return n
}

// memoryHistory is an in-memory HistoryStore.
type memoryHistory struct {
	mu      sync.Mutex
	records map[string]ProcessRecord
	output  map[string][]OutputChunk
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{
		records: make(map[string]ProcessRecord),
		output:  make(map[string][]OutputChunk),
	}
}

func (h *memoryHistory) Append(_ context.Context, rec ProcessRecord, output []OutputChunk) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[rec.ID] = rec
	h.output[rec.ID] = output
	return nil
}

func (h *memoryHistory) Get(_ context.Context, id string) (*ProcessRecord, []OutputChunk, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[id]
	if !ok {
		return nil, nil, apperrors.NotFound("process", id)
	}
	return &rec, h.output[id], nil
}

func (h *memoryHistory) List(_ context.Context, limit int) ([]ProcessRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ProcessRecord, 0, len(h.records))
	for _, rec := range h.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (h *memoryHistory) has(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.records[id]
	return ok
}
