package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"storefront-agent/internal/apperr"
	"storefront-agent/internal/broker"
	"storefront-agent/internal/models"
	"storefront-agent/internal/notify"
	"storefront-agent/internal/session"
	"storefront-agent/internal/util"
	"storefront-agent/internal/worker"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	msgLoginForCart     = "Login to add an item to the Cart"
	msgAlreadyInCart    = "Item already in cart. Use the cart sidebar to update quantity or remove item."
	msgFetchCartFailed  = "Could not fetch cart details. Check that the backend is running, reachable and returns valid JSON."
	msgUpdateCartFailed = "Could not update cart. Check that the backend is running, reachable and returns valid JSON."
	msgInvalidQuantity  = "Quantity must be at least 1"
)

// CartAPI is the remote cart service. Both calls return the complete cart.
type CartAPI interface {
	GetCart(ctx context.Context, token string) ([]models.CartEntry, error)
	SetCartItem(ctx context.Context, token, productID string, qty int) ([]models.CartEntry, error)
}

// CartStateManager mirrors the server-owned cart. Every mutation runs on a
// single queue, resolves the current quantity from the latest server response,
// and replaces the local mirror with the cart the server returns.
type CartStateManager struct {
	api       CartAPI
	catalog   *CatalogClient
	session   *session.Context
	queue     *worker.SerialQueue
	entries   atomic.Pointer[[]models.CartEntry]
	notifier  notify.Notifier
	publisher broker.Publisher
	logger    *zap.Logger
}

// NewCartStateManager creates a cart manager with its own mutation queue
func NewCartStateManager(
	api CartAPI,
	catalog *CatalogClient,
	sess *session.Context,
	notifier notify.Notifier,
	publisher broker.Publisher,
) *CartStateManager {
	m := &CartStateManager{
		api:       api,
		catalog:   catalog,
		session:   sess,
		queue:     worker.NewSerialQueue("cart"),
		notifier:  notifier,
		publisher: publisher,
		logger:    util.GetLogger().With(zap.String("component", "cart")),
	}
	m.store(nil)
	return m
}

// Load fetches the cart. Without a session it returns an empty cart and no
// error; on a transport failure it returns an empty cart and the error.
func (m *CartStateManager) Load(ctx context.Context) (entries []models.CartEntry, err error) {
	ctx, span := util.StartSpan(ctx, "CartStateManager.Load")
	defer func() { util.EndSpan(span, err) }()

	if _, err := m.session.Token(ctx); err != nil {
		if errors.Is(err, apperr.ErrNotLoggedIn) {
			return []models.CartEntry{}, nil
		}
		return []models.CartEntry{}, err
	}

	err = m.queue.Submit(ctx, func(ctx context.Context) error {
		token, err := m.session.Token(ctx)
		if err != nil {
			return err
		}
		fetched, err := m.api.GetCart(ctx, token)
		if err != nil {
			return err
		}
		entries = m.store(fetched)
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotLoggedIn) {
			return []models.CartEntry{}, nil
		}
		m.logger.Warn("Failed to load cart", zap.Error(err))
		if !canceled(err) {
			m.notifier.Notify(notify.VariantError, msgFetchCartFailed)
		}
		return []models.CartEntry{}, err
	}

	m.logger.Debug("Cart loaded", zap.Int("entries", len(entries)))
	return entries, nil
}

// MutateQuantity changes the quantity of productID by delta. The new quantity
// is computed inside the queue from the most recent server state and clamped
// at zero; zero removes the entry.
func (m *CartStateManager) MutateQuantity(ctx context.Context, productID string, delta int) ([]models.CartEntry, error) {
	ctx, span := util.StartSpan(ctx, "CartStateManager.MutateQuantity",
		attribute.String("product_id", productID),
		attribute.Int("delta", delta))
	defer span.End()

	if err := m.requireSession(ctx); err != nil {
		return m.Entries(), err
	}

	var result []models.CartEntry
	err := m.queue.Submit(ctx, func(ctx context.Context) error {
		token, err := m.session.Token(ctx)
		if err != nil {
			return err
		}

		current := quantityOf(m.Entries(), productID)
		newQty := current + delta
		if newQty < 0 {
			newQty = 0
		}

		m.logger.Debug("Setting cart quantity",
			zap.String("product_id", productID),
			zap.Int("from", current),
			zap.Int("qty", newQty))

		updated, err := m.api.SetCartItem(ctx, token, productID, newQty)
		if err != nil {
			return err
		}
		result = m.store(updated)
		m.publishUpdated(ctx, productID, newQty, result)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		m.failed("set_quantity", err)
		return m.Entries(), err
	}

	util.CartMutationsTotal.WithLabelValues("set_quantity", "ok").Inc()
	return result, nil
}

// AddToCart adds a product that is not yet in the cart. A product already
// present with a positive quantity is a business rule violation and no request
// is sent.
func (m *CartStateManager) AddToCart(ctx context.Context, productID string, qty int) ([]models.CartEntry, error) {
	ctx, span := util.StartSpan(ctx, "CartStateManager.AddToCart",
		attribute.String("product_id", productID),
		attribute.Int("qty", qty))
	defer span.End()

	if err := m.requireSession(ctx); err != nil {
		return m.Entries(), err
	}
	if qty < 1 {
		err := apperr.Validation("cart.add", msgInvalidQuantity)
		m.failed("add", err)
		return m.Entries(), err
	}

	var result []models.CartEntry
	err := m.queue.Submit(ctx, func(ctx context.Context) error {
		token, err := m.session.Token(ctx)
		if err != nil {
			return err
		}
		if quantityOf(m.Entries(), productID) > 0 {
			return apperr.BusinessRule("cart.add", msgAlreadyInCart)
		}

		updated, err := m.api.SetCartItem(ctx, token, productID, qty)
		if err != nil {
			return err
		}
		result = m.store(updated)
		m.publishUpdated(ctx, productID, qty, result)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		m.failed("add", err)
		return m.Entries(), err
	}

	util.CartMutationsTotal.WithLabelValues("add", "ok").Inc()
	return result, nil
}

// Entries returns a copy of the mirrored cart
func (m *CartStateManager) Entries() []models.CartEntry {
	current := *m.entries.Load()
	out := make([]models.CartEntry, len(current))
	copy(out, current)
	return out
}

// Items returns the cart joined with the cached catalog
func (m *CartStateManager) Items() []models.EnrichedCartItem {
	return Reconcile(m.Entries(), m.catalog.Products())
}

// Clear drops the mirrored cart after any queued mutation has finished
func (m *CartStateManager) Clear(ctx context.Context) error {
	return m.queue.Submit(ctx, func(ctx context.Context) error {
		m.store(nil)
		return nil
	})
}

// Close stops the mutation queue
func (m *CartStateManager) Close() {
	m.queue.Close()
}

func (m *CartStateManager) requireSession(ctx context.Context) error {
	_, err := m.session.Token(ctx)
	if errors.Is(err, apperr.ErrNotLoggedIn) {
		m.notifier.Notify(notify.VariantError, msgLoginForCart)
	}
	return err
}

// failed records and surfaces a failed mutation
func (m *CartStateManager) failed(kind string, err error) {
	result := string(apperr.KindOf(err))
	if result == "" {
		result = "error"
	}
	util.CartMutationsTotal.WithLabelValues(kind, result).Inc()
	m.logger.Warn("Cart mutation failed", zap.String("kind", kind), zap.Error(err))

	switch {
	case errors.Is(err, apperr.ErrNotLoggedIn):
		m.notifier.Notify(notify.VariantError, msgLoginForCart)
	case apperr.IsKind(err, apperr.KindBusinessRule),
		apperr.IsKind(err, apperr.KindValidation),
		apperr.IsKind(err, apperr.KindServerRejection):
		m.notifier.Notify(notify.VariantWarning, apperr.Message(err))
	case canceled(err):
	default:
		m.notifier.Notify(notify.VariantError, msgUpdateCartFailed)
	}
}

// store normalizes and publishes a new snapshot
func (m *CartStateManager) store(entries []models.CartEntry) []models.CartEntry {
	normalized := normalizeEntries(entries)
	m.entries.Store(&normalized)
	return normalized
}

func (m *CartStateManager) publishUpdated(ctx context.Context, productID string, qty int, entries []models.CartEntry) {
	event := &models.CartUpdatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeCartUpdated,
			SessionID: m.session.ID(),
			Timestamp: time.Now(),
		},
		ProductID: productID,
		Qty:       qty,
		Entries:   entries,
	}
	if err := m.publisher.PublishCartUpdated(ctx, event); err != nil {
		m.logger.Error("Failed to publish CartUpdated event", zap.Error(err))
	}
}

// normalizeEntries drops entries with qty <= 0 and repeated product ids
func normalizeEntries(entries []models.CartEntry) []models.CartEntry {
	out := make([]models.CartEntry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Qty <= 0 {
			continue
		}
		if _, dup := seen[e.ProductID]; dup {
			continue
		}
		seen[e.ProductID] = struct{}{}
		out = append(out, e)
	}
	return out
}

// canceled reports a caller that went away before a remote call was made
func canceled(err error) bool {
	if apperr.KindOf(err) != "" {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func quantityOf(entries []models.CartEntry, productID string) int {
	for _, e := range entries {
		if e.ProductID == productID {
			return e.Qty
		}
	}
	return 0
}

// Reconcile left-joins entries against products by id, keeping entry order.
// Entries without a matching product are dropped and counted.
func Reconcile(entries []models.CartEntry, products []models.Product) []models.EnrichedCartItem {
	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	items := make([]models.EnrichedCartItem, 0, len(entries))
	for _, e := range entries {
		p, ok := byID[e.ProductID]
		if !ok {
			util.CartReconcileMisses.Inc()
			util.GetLogger().Warn("Cart entry has no matching product", zap.String("product_id", e.ProductID))
			continue
		}
		items = append(items, models.EnrichedCartItem{
			ProductID: e.ProductID,
			Qty:       e.Qty,
			Name:      p.Name,
			Category:  p.Category,
			Cost:      p.Cost,
			Rating:    p.Rating,
			Image:     p.Image,
		})
	}
	return items
}

// ComputeTotal returns the sum of cost * qty; zero for no items
func ComputeTotal(items []models.EnrichedCartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Cost.Mul(decimal.NewFromInt(int64(item.Qty))))
	}
	return total
}

// ComputeItemCount returns the sum of quantities; zero for no items
func ComputeItemCount(items []models.EnrichedCartItem) int {
	count := 0
	for _, item := range items {
		count += item.Qty
	}
	return count
}
