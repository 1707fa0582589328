package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-agent/internal/models"
)

// SaveReceipt inserts a receipt. Redelivered events are ignored; stored
// reports whether a new row was written.
func (s *Store) SaveReceipt(ctx context.Context, r *models.Receipt) (stored bool, err error) {
	query := `
		INSERT INTO receipts (event_id, username, address_id, total, item_count, items, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id`

	items := r.Items
	if len(items) == 0 {
		items = []byte("[]")
	}

	err = s.db.GetContext(ctx, &r.ID, query,
		r.EventID, r.Username, r.AddressID, r.Total, r.ItemCount, items, r.PlacedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to save receipt: %w", err)
	}
	return true, nil
}

// GetReceiptByEventID retrieves a receipt by the event that produced it
func (s *Store) GetReceiptByEventID(ctx context.Context, eventID string) (*models.Receipt, error) {
	var receipt models.Receipt
	err := s.db.GetContext(ctx, &receipt, "SELECT * FROM receipts WHERE event_id = $1", eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ListReceipts returns a user's receipts, newest first
func (s *Store) ListReceipts(ctx context.Context, username string, limit int) ([]models.Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	receipts := []models.Receipt{}
	err := s.db.SelectContext(ctx, &receipts,
		"SELECT * FROM receipts WHERE username = $1 ORDER BY placed_at DESC LIMIT $2", username, limit)
	return receipts, err
}
