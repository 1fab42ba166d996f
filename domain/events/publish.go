package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	eh "github.com/looplab/eventhorizon"

	"github.com/datanova-ai/datanova-exchange/pkg/logger"
)

// Publisher is the publishing side of an event bus.
type Publisher interface {
	PublishEvent(ctx context.Context, event eh.Event) error
}

// Publish hands an event for the given aggregate to the bus. Events are
// published after the record they describe is committed, so a failing bus
// is logged and does not fail the operation. A nil bus drops the event.
func Publish(ctx context.Context, bus Publisher, eventType eh.EventType, data eh.EventData, aggregateType eh.AggregateType, id uuid.UUID, version int) {
	if bus == nil {
		return
	}
	event := eh.NewEventForAggregate(eventType, data, time.Now(), aggregateType, id, version)
	if err := bus.PublishEvent(ctx, event); err != nil {
		logger.Logger().WithError(err).WithField("event", eventType).Error("could not publish event")
	}
}

// Recorder is a publisher and event handler that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []eh.Event
}

func (r *Recorder) HandlerType() eh.EventHandlerType {
	return eh.EventHandlerType("Recorder")
}

func (r *Recorder) HandleEvent(ctx context.Context, event eh.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) PublishEvent(ctx context.Context, event eh.Event) error {
	return r.HandleEvent(ctx, event)
}

// Of returns the recorded events of type t in arrival order.
func (r *Recorder) Of(t eh.EventType) []eh.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []eh.Event
	for _, e := range r.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}
