//go:build !windows

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptdeck/scriptdeck/internal/common/logger"
	"github.com/scriptdeck/scriptdeck/internal/events"
	"github.com/scriptdeck/scriptdeck/internal/events/bus"
	"github.com/scriptdeck/scriptdeck/internal/process"
)

type captureBus struct {
	subject string
	handler bus.EventHandler
}

func (b *captureBus) Publish(context.Context, string, *bus.Event) error { return nil }

func (b *captureBus) Subscribe(subject string, handler bus.EventHandler) (bus.Subscription, error) {
	b.subject = subject
	b.handler = handler
	return nil, nil
}

func (b *captureBus) Close()            {}
func (b *captureBus) IsConnected() bool { return true }

func TestKillCommandsStopProcesses(t *testing.T) {
	log := logger.NewNop()
	broadcaster := events.NewBroadcaster(log, 64)
	registry := process.NewRegistry(broadcaster, nil, log, process.Options{
		KillGracePeriod:    500 * time.Millisecond,
		CompletedRetention: time.Minute,
	})
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })
	svc := &Services{Events: broadcaster, Processes: registry}

	fake := &captureBus{}
	_, err := subscribeKillCommands(fake, "scriptdeck.events", svc, log)
	require.NoError(t, err)
	assert.Equal(t, "scriptdeck.events.commands.kill", fake.subject)

	ctx := context.Background()
	id, err := registry.Start(ctx, process.StartRequest{Command: "sleep", Args: []string{"30"}})
	require.NoError(t, err)

	assert.Error(t, fake.handler(ctx, bus.NewEvent("kill", "test", "not-a-map")))
	assert.Error(t, fake.handler(ctx, bus.NewEvent("kill", "test", map[string]any{})))
	require.NoError(t, fake.handler(ctx, bus.NewEvent("kill", "test", map[string]any{"processId": id})))

	require.Eventually(t, func() bool {
		info, err := registry.GetInfo(ctx, id)
		return err == nil && info.Status == process.StatusKilled
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWithStreamDeadlinesPassesThrough(t *testing.T) {
	var hits []string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	h := withStreamDeadlines(next, logger.NewNop())

	for _, path := range []string{"/api/processes/events", "/api/processes"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
	assert.Equal(t, []string{"/api/processes/events", "/api/processes"}, hits)
}
