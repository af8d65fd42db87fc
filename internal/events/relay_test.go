package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptdeck/scriptdeck/internal/events/bus"
)

type recordingBus struct {
	mu       sync.Mutex
	subjects []string
	events   []*bus.Event
}

func (b *recordingBus) Publish(_ context.Context, subject string, event *bus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subjects = append(b.subjects, subject)
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) Subscribe(string, bus.EventHandler) (bus.Subscription, error) {
	return nil, nil
}

func (b *recordingBus) Close()            {}
func (b *recordingBus) IsConnected() bool { return true }

func (b *recordingBus) published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.subjects...)
}

func TestRelayMirrorsEventsInOrder(t *testing.T) {
	broadcaster := NewBroadcaster(newTestLogger(t), 16)
	rec := &recordingBus{}
	relay := NewRelay(broadcaster, rec, "scriptdeck.events", newTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return broadcaster.Count() == 1 }, time.Second, 5*time.Millisecond)

	broadcaster.Emit(NewStarted("p1", nil))
	broadcaster.Emit(NewOutput("p1", "stdout", "hi\n", time.Now()))
	broadcaster.Emit(NewCompleted("p1", CompletedData{Status: "completed"}))

	require.Eventually(t, func() bool { return len(rec.published()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{
		"scriptdeck.events.p1.started",
		"scriptdeck.events.p1.output",
		"scriptdeck.events.p1.completed",
	}, rec.published())
	assert.Equal(t, "output", rec.events[1].Type)
	assert.Equal(t, relaySource, rec.events[1].Source)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelayStopsWhenBroadcasterCloses(t *testing.T) {
	broadcaster := NewBroadcaster(newTestLogger(t), 16)
	relay := NewRelay(broadcaster, &recordingBus{}, "x", newTestLogger(t))

	done := make(chan struct{})
	go func() {
		relay.Run(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool { return broadcaster.Count() == 1 }, time.Second, 5*time.Millisecond)

	broadcaster.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after close")
	}
}

func TestRelaySubjectForServerEvents(t *testing.T) {
	relay := NewRelay(NewBroadcaster(newTestLogger(t), 1), &recordingBus{}, "p", newTestLogger(t))
	assert.Equal(t, "p.server.connected", relay.Subject(NewConnected()))
}
