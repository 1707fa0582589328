package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog item as served by the catalog service
type Product struct {
	ID       string          `json:"_id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Cost     decimal.Decimal `json:"cost"`
	Rating   float64         `json:"rating"`
	Image    string          `json:"image"`
}

// CartEntry is the server-owned cart line mirrored locally
type CartEntry struct {
	ProductID string `json:"productId"`
	Qty       int    `json:"qty"`
}

// EnrichedCartItem is a cart entry joined with its product.
// Derived on every read, never stored.
type EnrichedCartItem struct {
	ProductID string          `json:"productId"`
	Qty       int             `json:"qty"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Cost      decimal.Decimal `json:"cost"`
	Rating    float64         `json:"rating"`
	Image     string          `json:"image"`
}

// Address is a shipping address owned by the user service
type Address struct {
	ID   string `json:"_id"`
	Text string `json:"address"`
}

// CheckoutResult is the response of the remote checkout operation
type CheckoutResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// LoginResult is the response of the remote login operation
type LoginResult struct {
	Success  bool            `json:"success"`
	Token    string          `json:"token"`
	Username string          `json:"username"`
	Balance  decimal.Decimal `json:"balance"`
}

// Receipt is a locally recorded placed order
type Receipt struct {
	ID        int64           `db:"id" json:"id"`
	EventID   string          `db:"event_id" json:"event_id"`
	Username  string          `db:"username" json:"username"`
	AddressID string          `db:"address_id" json:"address_id"`
	Total     decimal.Decimal `db:"total" json:"total"`
	ItemCount int             `db:"item_count" json:"item_count"`
	Items     []byte          `db:"items" json:"-"`
	PlacedAt  time.Time       `db:"placed_at" json:"placed_at"`
}
