package model

import "time"

// Event types published on the cart event stream.
const (
	EventTypeCartUpdated    = "cart_updated"
	EventTypeOrderCompleted = "order_completed"
	EventTypePing           = "ping"
	EventTypeError          = "error"
)

// CartEvent is a message sent over the WebSocket event stream.
type CartEvent struct {
	Type      string    `json:"type"`
	OrderID   ID        `json:"orderId,omitempty"`
	Count     int       `json:"count,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewCartEvent creates an event of the given type stamped with the current time.
func NewCartEvent(eventType string, count int) CartEvent {
	return CartEvent{
		Type:      eventType,
		Count:     count,
		Timestamp: time.Now().UTC(),
	}
}

// NewOrderCompletedEvent creates an order completion event.
func NewOrderCompletedEvent(orderID ID) CartEvent {
	return CartEvent{
		Type:      EventTypeOrderCompleted,
		OrderID:   orderID,
		Timestamp: time.Now().UTC(),
	}
}
