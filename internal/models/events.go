package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeCartUpdated    = "CART_UPDATED"
	EventTypeOrderPlaced    = "ORDER_PLACED"
	EventTypeCheckoutFailed = "CHECKOUT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CartUpdatedEvent published after a confirmed cart mutation
type CartUpdatedEvent struct {
	BaseEvent
	ProductID string      `json:"product_id"`
	Qty       int         `json:"qty"`
	Entries   []CartEntry `json:"entries"`
}

// OrderPlacedEvent published when the checkout service accepted the order
type OrderPlacedEvent struct {
	BaseEvent
	Username       string             `json:"username"`
	AddressID      string             `json:"address_id"`
	IdempotencyKey string             `json:"idempotency_key"`
	Total          decimal.Decimal    `json:"total"`
	ItemCount      int                `json:"item_count"`
	Items          []EnrichedCartItem `json:"items"`
}

// CheckoutFailedEvent published when placement was rejected or could not be sent
type CheckoutFailedEvent struct {
	BaseEvent
	AddressID string `json:"address_id"`
	Reason    string `json:"reason"`
}
