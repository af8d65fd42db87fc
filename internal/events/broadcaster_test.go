package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptdeck/scriptdeck/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

func receive(t *testing.T, obs *Observer) Event {
	t.Helper()
	select {
	case evt, ok := <-obs.C():
		require.True(t, ok, "observer channel closed")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestAttachReceivesConnectedFirst(t *testing.T) {
	b := NewBroadcaster(newTestLogger(t), 8)
	obs := b.Attach()

	evt := receive(t, obs)
	assert.Equal(t, TypeConnected, evt.Type)
	assert.False(t, evt.Timestamp.IsZero())
	assert.Empty(t, evt.ProcessID)
	assert.Equal(t, 1, b.Count())
}

func TestTwoObserversSeeSameOrder(t *testing.T) {
	b := NewBroadcaster(newTestLogger(t), 64)
	first := b.Attach()
	second := b.Attach()

	b.Emit(NewStarted("p1", map[string]string{"id": "p1"}))
	for i := 0; i < 10; i++ {
		b.Emit(NewOutput("p1", "stdout", fmt.Sprintf("line %d\n", i), time.Now()))
	}
	b.Emit(NewCompleted("p1", CompletedData{Status: "completed"}))

	for _, obs := range []*Observer{first, second} {
		assert.Equal(t, TypeConnected, receive(t, obs).Type)
		assert.Equal(t, TypeStarted, receive(t, obs).Type)
		for i := 0; i < 10; i++ {
			evt := receive(t, obs)
			require.Equal(t, TypeOutput, evt.Type)
			assert.Equal(t, fmt.Sprintf("line %d\n", i), evt.Data.(OutputData).Data)
		}
		assert.Equal(t, TypeCompleted, receive(t, obs).Type)
	}
}

func TestDetachClosesChannelAndIsIdempotent(t *testing.T) {
	b := NewBroadcaster(newTestLogger(t), 4)
	obs := b.Attach()
	<-obs.C()

	b.Detach(obs)
	b.Detach(obs)
	assert.Equal(t, 0, b.Count())

	b.Emit(NewError("p1", "boom"))
	_, ok := <-obs.C()
	assert.False(t, ok)
}

func TestSlowObserverIsDroppedWithoutBlocking(t *testing.T) {
	b := NewBroadcaster(newTestLogger(t), 2)
	slow := b.Attach()
	fast := b.AttachWithBuffer(100)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			b.Emit(NewOutput("p1", "stdout", "x", time.Now()))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow observer")
	}

	assert.True(t, slow.Overflowed())
	assert.Equal(t, 1, b.Count())

	// The slow observer sees a contiguous prefix, then a closed channel.
	count := 0
	for evt := range slow.C() {
		if evt.Type == TypeOutput {
			count++
		}
	}
	assert.Equal(t, 2, count)

	assert.Equal(t, TypeConnected, receive(t, fast).Type)
	for i := 0; i < 50; i++ {
		assert.Equal(t, TypeOutput, receive(t, fast).Type)
	}
}

func TestConcurrentEmitAndDetach(t *testing.T) {
	b := NewBroadcaster(newTestLogger(t), 16)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			obs := b.Attach()
			for j := 0; j < 5; j++ {
				select {
				case <-obs.C():
				default:
				}
			}
			b.Detach(obs)
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Emit(NewOutput(fmt.Sprintf("p%d", n), "stdout", "x", time.Now()))
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, b.Count())
}

func TestCloseDetachesEveryone(t *testing.T) {
	b := NewBroadcaster(newTestLogger(t), 4)
	obs := b.Attach()
	<-obs.C()

	b.Close()
	_, ok := <-obs.C()
	assert.False(t, ok)
	assert.False(t, obs.Overflowed())

	late := b.Attach()
	evt, ok := <-late.C()
	require.True(t, ok)
	assert.Equal(t, TypeConnected, evt.Type)
	_, ok = <-late.C()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Count())
}
