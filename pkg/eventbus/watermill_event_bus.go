package eventbus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/voyagehq/voyage/pkg/events"
)

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) EventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var event any

			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			handler, exists := eb.subscriptions[eventType]
			if !exists {
				msg.Ack()

				continue
			}

			switch eventType {
			case events.RunCreatedEvent:
				event = &events.RunCreated{}
			case events.RunTransitionedEvent:
				event = &events.RunTransitioned{}
			case events.RunCompletedEvent:
				event = &events.RunCompleted{}
			case events.RunExitedEvent:
				event = &events.RunExited{}
			case events.RunFailedEvent:
				event = &events.RunFailed{}
			case events.JourneyActivatedEvent:
				event = &events.JourneyActivated{}
			case events.JourneyPausedEvent:
				event = &events.JourneyPaused{}
			case events.JourneyArchivedEvent:
				event = &events.JourneyArchived{}
			case events.EntityEventReceivedEvent:
				event = &events.EntityEventReceived{}
			case events.EntityPropertiesChangedEvent:
				event = &events.EntityPropertiesChanged{}
			default:
				msg.Nack()

				continue
			}

			err := json.Unmarshal(msg.Payload, event)
			if err != nil {
				msg.Nack()

				continue
			}

			err = handler(ctx, event)
			if err != nil {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
