package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"storefront-agent/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteOrderPlaced(t *testing.T) {
	handler := NewEventHandler()

	var got *models.OrderPlacedEvent
	handler.OnOrderPlaced(func(ctx context.Context, e *models.OrderPlacedEvent) error {
		got = e
		return nil
	})

	payload, err := json.Marshal(models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: models.EventTypeOrderPlaced,
			SessionID: "tab-1",
			Timestamp: time.Now(),
		},
		AddressID: "a1",
		Total:     decimal.NewFromInt(100),
		ItemCount: 2,
	})
	require.NoError(t, err)

	require.NoError(t, handler.Route(context.Background(), payload))
	require.NotNil(t, got)
	assert.Equal(t, "evt-1", got.EventID)
	assert.True(t, got.Total.Equal(decimal.NewFromInt(100)))
}

func TestRouteIgnoresOtherEvents(t *testing.T) {
	handler := NewEventHandler()
	handler.OnOrderPlaced(func(ctx context.Context, e *models.OrderPlacedEvent) error {
		t.Fatal("unexpected dispatch")
		return nil
	})

	payload := []byte(`{"event_id":"e","event_type":"CART_UPDATED"}`)
	assert.NoError(t, handler.Route(context.Background(), payload))
}

func TestRouteRejectsGarbage(t *testing.T) {
	assert.Error(t, NewEventHandler().Route(context.Background(), []byte(`not json`)))
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "session-tab-1", sessionKey("tab-1"))
}
