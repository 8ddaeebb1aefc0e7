// Package eventbus provides event-driven communication between the API,
// dispatcher, and workers.
package eventbus

import (
	"context"

	"github.com/voyagehq/voyage/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// EventPublisher is the write half; the key partitions delivery so events for
// one run or entity stay ordered.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber registers handlers per event type, then consumes. Handlers
// must be registered before Subscribe; unhandled types are acked and dropped.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event interface{}) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
