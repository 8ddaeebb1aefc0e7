package dispatcher

import (
	"context"
	"fmt"

	"github.com/voyagehq/voyage/pkg/eventbus"
	"github.com/voyagehq/voyage/pkg/events"
)

// RegisterHandlers subscribes the dispatcher to entity activity on the bus,
// so ingestion (API) and trigger evaluation can run in separate processes.
func (d *Dispatcher) RegisterHandlers(bus eventbus.EventBus) error {
	err := bus.Handle(events.EntityEventReceivedEvent, d.handleEntityEvent)
	if err != nil {
		return fmt.Errorf("failed to register entity event handler: %w", err)
	}

	err = bus.Handle(events.EntityPropertiesChangedEvent, d.handlePropertiesChanged)
	if err != nil {
		return fmt.Errorf("failed to register properties handler: %w", err)
	}

	return nil
}

func (d *Dispatcher) handleEntityEvent(ctx context.Context, raw interface{}) error {
	received, ok := raw.(*events.EntityEventReceived)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", raw)
	}

	entity, err := d.persistence.EntityByID(ctx, received.EntityID)
	if err != nil {
		return fmt.Errorf("failed to load entity %s: %w", received.EntityID, err)
	}

	entityEvents, err := d.persistence.EventsByEntity(ctx, entity.ID)
	if err != nil {
		return fmt.Errorf("failed to load entity events: %w", err)
	}

	// Re-resolve the stored event so trigger evaluation sees exactly what
	// was persisted at ingestion.
	for i := len(entityEvents) - 1; i >= 0; i-- {
		if entityEvents[i].Name == received.EventName && entityEvents[i].Timestamp.Equal(received.OccurredAt) {
			return d.OnEvent(ctx, entity, entityEvents[i])
		}
	}

	d.logger.WarnContext(ctx, "Ingested event not found in store, skipping",
		"entity_id", received.EntityID, "event_name", received.EventName)

	return nil
}

func (d *Dispatcher) handlePropertiesChanged(ctx context.Context, raw interface{}) error {
	changed, ok := raw.(*events.EntityPropertiesChanged)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", raw)
	}

	entity, err := d.persistence.EntityByID(ctx, changed.EntityID)
	if err != nil {
		return fmt.Errorf("failed to load entity %s: %w", changed.EntityID, err)
	}

	return d.OnPropertiesChanged(ctx, entity)
}
