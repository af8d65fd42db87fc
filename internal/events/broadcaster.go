package events

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scriptdeck/scriptdeck/internal/common/logger"
)

// DefaultObserverBuffer is the queue length used when none is configured.
const DefaultObserverBuffer = 512

// Observer is one attached consumer of broadcast events. Events arrive on
// C in production order; C is closed when the observer is detached.
type Observer struct {
	id         string
	ch         chan Event
	overflowed atomic.Bool
	closeOnce  sync.Once
}

// ID returns the observer identifier.
func (o *Observer) ID() string { return o.id }

// C returns the receive side of the observer queue.
func (o *Observer) C() <-chan Event { return o.ch }

// Overflowed reports whether the observer was dropped for falling behind.
func (o *Observer) Overflowed() bool { return o.overflowed.Load() }

func (o *Observer) close() {
	o.closeOnce.Do(func() { close(o.ch) })
}

// Broadcaster fans events out to attached observers.
//
// Emit never blocks: each observer owns a bounded queue, and an observer
// whose queue is full is detached instead of skipping events. Sends happen
// under the read lock and channel closes under the write lock, so a send
// never races a close.
type Broadcaster struct {
	logger *logger.Logger
	buffer int

	mu        sync.RWMutex
	observers map[string]*Observer
	closed    bool
}

// NewBroadcaster creates a broadcaster whose observers queue up to buffer events.
func NewBroadcaster(log *logger.Logger, buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultObserverBuffer
	}
	return &Broadcaster{
		logger:    log.WithFields(zap.String("component", "event-broadcaster")),
		buffer:    buffer,
		observers: make(map[string]*Observer),
	}
}

// Attach registers a new observer with the default queue length. The first
// event on its queue is always a connected event.
func (b *Broadcaster) Attach() *Observer {
	return b.AttachWithBuffer(b.buffer)
}

// AttachWithBuffer registers a new observer with a custom queue length.
func (b *Broadcaster) AttachWithBuffer(buffer int) *Observer {
	if buffer <= 0 {
		buffer = b.buffer
	}
	obs := &Observer{
		id: uuid.New().String(),
		// One extra slot for the connected event.
		ch: make(chan Event, buffer+1),
	}
	obs.ch <- NewConnected()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		obs.close()
		return obs
	}
	b.observers[obs.id] = obs
	b.logger.Debug("observer attached",
		zap.String("observer_id", obs.id),
		zap.Int("observers", len(b.observers)))
	return obs
}

// Detach removes the observer and closes its queue. Safe to call more than
// once and after Close.
func (b *Broadcaster) Detach(obs *Observer) {
	if obs == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.observers[obs.id]; ok {
		delete(b.observers, obs.id)
		b.logger.Debug("observer detached",
			zap.String("observer_id", obs.id),
			zap.Int("observers", len(b.observers)))
	}
	obs.close()
}

// Emit delivers evt to every attached observer without blocking.
func (b *Broadcaster) Emit(evt Event) {
	var overflowed []*Observer

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	for _, obs := range b.observers {
		if obs.overflowed.Load() {
			continue
		}
		select {
		case obs.ch <- evt:
		default:
			obs.overflowed.Store(true)
			overflowed = append(overflowed, obs)
		}
	}
	b.mu.RUnlock()

	for _, obs := range overflowed {
		b.logger.Warn("observer queue full, detaching",
			zap.String("observer_id", obs.id),
			zap.String("event_type", string(evt.Type)),
			zap.String("process_id", evt.ProcessID))
		b.Detach(obs)
	}
}

// Count returns the number of attached observers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Close detaches every observer. Later Emit calls are dropped and later
// Attach calls return an already-closed observer.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, obs := range b.observers {
		obs.close()
		delete(b.observers, id)
	}
}
