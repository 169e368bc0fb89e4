package domain

import "time"

// EventSchemaVersion is the schema version stamped on every outbound inventory event.
const EventSchemaVersion = 1

// EventType doubles as the routing key on the events exchange.
type EventType string

const (
	EventInventoryCreated     EventType = "product.inventory.created"
	EventInventoryReserved    EventType = "product.inventory.reserved"
	EventInventoryReleased    EventType = "product.inventory.released"
	EventInventoryReplenished EventType = "product.inventory.replenished"
)

// EventTypeFor maps a movement to the event announcing it.
func EventTypeFor(movement MovementType) EventType {
	switch movement {
	case MovementReserve:
		return EventInventoryReserved
	case MovementRelease:
		return EventInventoryReleased
	case MovementReplenish:
		return EventInventoryReplenished
	default:
		return EventInventoryCreated
	}
}

// Event is the wire envelope published after a state change commits.
type Event struct {
	Type      EventType `json:"type"`
	Version   int       `json:"version"`
	SKU       string    `json:"sku"`
	Quantity  int       `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEvent(eventType EventType, sku SKU, quantity int, at time.Time) Event {
	return Event{
		Type:      eventType,
		Version:   EventSchemaVersion,
		SKU:       sku.String(),
		Quantity:  quantity,
		Timestamp: at.UTC(),
	}
}
