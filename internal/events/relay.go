package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/scriptdeck/scriptdeck/internal/common/logger"
	"github.com/scriptdeck/scriptdeck/internal/events/bus"
)

const (
	relaySource = "scriptdeck"

	// relayBuffer is larger than a remote observer's queue since the relay
	// only waits on a local publish.
	relayBuffer = 4096
)

// Relay mirrors every broadcast event onto an EventBus under
// <prefix>.<processId>.<type>.
type Relay struct {
	broadcaster *Broadcaster
	bus         bus.EventBus
	prefix      string
	logger      *logger.Logger
}

// NewRelay creates a relay. Call Run to start mirroring.
func NewRelay(b *Broadcaster, eventBus bus.EventBus, prefix string, log *logger.Logger) *Relay {
	return &Relay{
		broadcaster: b,
		bus:         eventBus,
		prefix:      prefix,
		logger:      log.WithFields(zap.String("component", "event-relay")),
	}
}

// Subject returns the bus subject for evt.
func (r *Relay) Subject(evt Event) string {
	processID := evt.ProcessID
	if processID == "" {
		processID = "server"
	}
	return fmt.Sprintf("%s.%s.%s", r.prefix, processID, evt.Type)
}

// Run attaches to the broadcaster and publishes until ctx is cancelled or
// the broadcaster is closed. If the relay falls behind it re-attaches and
// logs the gap.
func (r *Relay) Run(ctx context.Context) {
	for {
		obs := r.broadcaster.AttachWithBuffer(relayBuffer)
		r.drain(ctx, obs)
		r.broadcaster.Detach(obs)

		if ctx.Err() != nil || !obs.Overflowed() {
			return
		}
		r.logger.Warn("relay fell behind, events were not mirrored")
	}
}

func (r *Relay) drain(ctx context.Context, obs *Observer) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-obs.C():
			if !ok {
				return
			}
			if evt.Type == TypeConnected {
				continue
			}
			r.publish(ctx, evt)
		}
	}
}

func (r *Relay) publish(ctx context.Context, evt Event) {
	msg := bus.NewEvent(string(evt.Type), relaySource, evt)
	msg.Timestamp = evt.Timestamp
	if err := r.bus.Publish(ctx, r.Subject(evt), msg); err != nil {
		r.logger.Warn("failed to mirror event",
			zap.String("process_id", evt.ProcessID),
			zap.String("event_type", string(evt.Type)),
			zap.Error(err))
	}
}
