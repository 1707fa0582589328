package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"storefront-agent/internal/broker"
	"storefront-agent/internal/models"
	"storefront-agent/internal/util"

	"go.uber.org/zap"
)

// ReceiptSaver persists order receipts
type ReceiptSaver interface {
	SaveReceipt(ctx context.Context, r *models.Receipt) (bool, error)
}

// ReceiptWorker records a receipt for every ORDER_PLACED event
type ReceiptWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	receipts     ReceiptSaver
	logger       *zap.Logger
}

// NewReceiptWorker creates a new receipt worker
func NewReceiptWorker(consumer *broker.Consumer, receipts ReceiptSaver) *ReceiptWorker {
	w := &ReceiptWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		receipts:     receipts,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnOrderPlaced(w.HandleOrderPlaced)
	return w
}

// Start starts the worker
func (w *ReceiptWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting receipt worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ReceiptWorker) Stop() error {
	w.logger.Info("Stopping receipt worker...")
	return w.consumer.Close()
}

// HandleOrderPlaced stores the receipt for event
func (w *ReceiptWorker) HandleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	ctx, span := util.StartSpan(ctx, "ReceiptWorker.HandleOrderPlaced")
	defer span.End()

	receipt, err := receiptFromEvent(event)
	if err != nil {
		return err
	}

	stored, err := w.receipts.SaveReceipt(ctx, receipt)
	if err != nil {
		return err
	}
	if !stored {
		w.logger.Info("Duplicate ORDER_PLACED event ignored", zap.String("event_id", event.EventID))
		return nil
	}

	util.ReceiptsStoredTotal.Inc()
	w.logger.Info("Receipt stored",
		zap.String("event_id", event.EventID),
		zap.String("username", event.Username),
		zap.String("total", event.Total.StringFixed(2)))
	return nil
}

func receiptFromEvent(event *models.OrderPlacedEvent) (*models.Receipt, error) {
	items := event.Items
	if items == nil {
		items = []models.EnrichedCartItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal receipt items: %w", err)
	}
	return &models.Receipt{
		EventID:   event.EventID,
		Username:  event.Username,
		AddressID: event.AddressID,
		Total:     event.Total,
		ItemCount: event.ItemCount,
		Items:     raw,
		PlacedAt:  event.Timestamp,
	}, nil
}
