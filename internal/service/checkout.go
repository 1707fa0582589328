package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"storefront-agent/internal/apperr"
	"storefront-agent/internal/broker"
	"storefront-agent/internal/models"
	"storefront-agent/internal/notify"
	"storefront-agent/internal/session"
	"storefront-agent/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	msgLoginForAddresses   = "Please login to view your addresses"
	msgInsufficientBalance = "You do not have enough balance in your wallet for this purchase"
	msgAddAddressFirst     = "Please add a new address before proceeding."
	msgSelectAddress       = "Please select one shipping address to proceed."
	msgUnknownAddress      = "Selected address does not exist"
	msgOrderPlaced         = "Order placed successfully"
	msgOrderDeclined       = "Order could not be placed"
	msgPlaceOrderFailed    = "Could not place the order. Check that the backend is running, reachable and returns valid JSON."
)

// Phase is the state of the checkout flow
type Phase string

const (
	PhaseLoading          Phase = "LOADING"
	PhaseAddressSelection Phase = "ADDRESS_SELECTION"
	PhaseAddingAddress    Phase = "ADDING_ADDRESS"
	PhaseValidating       Phase = "VALIDATING"
	PhasePlacingOrder     Phase = "PLACING_ORDER"
	PhaseSuccess          Phase = "SUCCESS"
)

var transitions = map[Phase][]Phase{
	PhaseLoading:          {PhaseLoading, PhaseAddressSelection},
	PhaseAddressSelection: {PhaseLoading, PhaseAddingAddress, PhaseValidating},
	PhaseAddingAddress:    {PhaseLoading, PhaseAddressSelection},
	PhaseValidating:       {PhasePlacingOrder, PhaseAddressSelection},
	PhasePlacingOrder:     {PhaseSuccess, PhaseAddressSelection},
	PhaseSuccess:          {PhaseLoading},
}

// CanTransition reports whether from -> to is a legal move
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// CheckoutAPI is the remote order placement operation
type CheckoutAPI interface {
	Checkout(ctx context.Context, token, addressID string) (*models.CheckoutResult, error)
}

// CheckoutView is everything the checkout page renders
type CheckoutView struct {
	Phase             Phase                     `json:"phase"`
	Items             []models.EnrichedCartItem `json:"items"`
	Total             decimal.Decimal           `json:"total"`
	ItemCount         int                       `json:"itemCount"`
	Addresses         []models.Address          `json:"addresses"`
	SelectedAddressID string                    `json:"selectedAddressId"`
	Draft             string                    `json:"draft"`
	Balance           *decimal.Decimal          `json:"balance"`
	WalletSummary     string                    `json:"walletSummary"`
}

// CheckoutCoordinator drives address selection, validation and order placement
type CheckoutCoordinator struct {
	api       CheckoutAPI
	catalog   *CatalogClient
	cart      *CartStateManager
	addresses *AddressBook
	session   *session.Context
	notifier  notify.Notifier
	publisher broker.Publisher
	logger    *zap.Logger

	mu       sync.Mutex
	phase    Phase
	draft    string
	selected string
}

// NewCheckoutCoordinator creates a coordinator in the LOADING phase
func NewCheckoutCoordinator(
	api CheckoutAPI,
	catalog *CatalogClient,
	cart *CartStateManager,
	addresses *AddressBook,
	sess *session.Context,
	notifier notify.Notifier,
	publisher broker.Publisher,
) *CheckoutCoordinator {
	return &CheckoutCoordinator{
		api:       api,
		catalog:   catalog,
		cart:      cart,
		addresses: addresses,
		session:   sess,
		notifier:  notifier,
		publisher: publisher,
		logger:    util.GetLogger().With(zap.String("component", "checkout")),
		phase:     PhaseLoading,
	}
}

// Phase returns the current phase
func (c *CheckoutCoordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Start loads the cart (with the catalog it is reconciled against) and the
// address list concurrently, then moves to ADDRESS_SELECTION. Load failures are
// notified by the components and leave the affected list empty.
func (c *CheckoutCoordinator) Start(ctx context.Context) (CheckoutView, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutCoordinator.Start")
	defer span.End()

	if _, err := c.session.Token(ctx); err != nil {
		if errors.Is(err, apperr.ErrNotLoggedIn) {
			c.notifier.Notify(notify.VariantInfo, msgLoginForAddresses)
		}
		return c.View(ctx), err
	}

	if err := c.transition(PhaseLoading); err != nil {
		return c.View(ctx), err
	}

	var g errgroup.Group
	g.Go(func() error {
		if _, err := c.catalog.EnsureLoaded(ctx); err != nil {
			return err
		}
		_, err := c.cart.Load(ctx)
		return err
	})
	g.Go(func() error {
		_, err := c.addresses.Load(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		c.logger.Warn("Checkout loaded with errors", zap.Error(err))
	}

	c.mu.Lock()
	if c.selected != "" && !c.addresses.Contains(c.selected) {
		c.selected = ""
	}
	c.mu.Unlock()

	if err := c.transition(PhaseAddressSelection); err != nil {
		return c.View(ctx), err
	}
	return c.View(ctx), nil
}

// BeginAddAddress opens an empty address draft
func (c *CheckoutCoordinator) BeginAddAddress() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transitionLocked(PhaseAddingAddress); err != nil {
		return err
	}
	c.draft = ""
	return nil
}

// UpdateDraft replaces the draft text
func (c *CheckoutCoordinator) UpdateDraft(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseAddingAddress {
		return illegal("update draft", c.phase)
	}
	c.draft = text
	return nil
}

// CancelAddAddress discards the draft
func (c *CheckoutCoordinator) CancelAddAddress() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseAddingAddress {
		return illegal("cancel draft", c.phase)
	}
	if err := c.transitionLocked(PhaseAddressSelection); err != nil {
		return err
	}
	c.draft = ""
	return nil
}

// CommitAddress adds the draft to the address book. A blank draft is a no-op.
// On failure the draft is kept and the phase stays ADDING_ADDRESS.
func (c *CheckoutCoordinator) CommitAddress(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseAddingAddress {
		defer c.mu.Unlock()
		return illegal("commit address", c.phase)
	}
	draft := strings.TrimSpace(c.draft)
	c.mu.Unlock()

	if draft == "" {
		return nil
	}

	if _, err := c.addresses.Add(ctx, draft); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseAddingAddress {
		c.draft = ""
		return c.transitionLocked(PhaseAddressSelection)
	}
	return nil
}

// SelectAddress marks an existing address as the shipping address
func (c *CheckoutCoordinator) SelectAddress(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseAddressSelection && c.phase != PhaseAddingAddress {
		return illegal("select address", c.phase)
	}
	if !c.addresses.Contains(id) {
		return apperr.Validation("checkout.select", msgUnknownAddress)
	}
	c.selected = id
	return nil
}

// DeleteAddress removes an address; deleting the selected one clears the selection
func (c *CheckoutCoordinator) DeleteAddress(ctx context.Context, id string) error {
	phase := c.Phase()
	if phase != PhaseAddressSelection && phase != PhaseAddingAddress {
		return illegal("delete address", phase)
	}

	if _, err := c.addresses.Delete(ctx, id); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == id || (c.selected != "" && !c.addresses.Contains(c.selected)) {
		c.selected = ""
	}
	return nil
}

// PlaceOrder validates the checkout locally and submits it. Validation and
// remote failures return to ADDRESS_SELECTION; success debits the cached
// balance by the cart total.
func (c *CheckoutCoordinator) PlaceOrder(ctx context.Context) (view CheckoutView, err error) {
	ctx, span := util.StartSpan(ctx, "CheckoutCoordinator.PlaceOrder")
	defer func() { util.EndSpan(span, err) }()

	c.mu.Lock()
	if err := c.transitionLocked(PhaseValidating); err != nil {
		c.mu.Unlock()
		return c.View(ctx), err
	}
	selected := c.selected
	c.mu.Unlock()

	items := c.cart.Items()
	total := ComputeTotal(items)
	span.SetAttributes(attribute.String("total", total.String()), attribute.String("address_id", selected))

	if err := c.validate(ctx, total, selected); err != nil {
		c.setPhase(PhaseAddressSelection)
		if apperr.IsKind(err, apperr.KindValidation) {
			util.CheckoutAttemptsTotal.WithLabelValues("validation").Inc()
			c.notifier.Notify(notify.VariantWarning, apperr.Message(err))
		} else {
			util.CheckoutAttemptsTotal.WithLabelValues("error").Inc()
			c.notifier.Notify(notify.VariantError, msgPlaceOrderFailed)
		}
		return c.View(ctx), err
	}

	token, err := c.session.Token(ctx)
	if err != nil {
		c.setPhase(PhaseAddressSelection)
		util.CheckoutAttemptsTotal.WithLabelValues("error").Inc()
		return c.View(ctx), err
	}

	if err := c.transition(PhasePlacingOrder); err != nil {
		return c.View(ctx), err
	}

	// Submitted orders are not cancellable; the client timeout bounds the call.
	ctx = context.WithoutCancel(ctx)

	result, err := c.api.Checkout(ctx, token, selected)
	if err != nil {
		c.logger.Error("Checkout request failed", zap.String("address_id", selected), zap.Error(err))
		util.CheckoutAttemptsTotal.WithLabelValues("network").Inc()
		c.notifier.Notify(notify.VariantError, msgPlaceOrderFailed)
		c.publishFailed(ctx, selected, err.Error())
		c.setPhase(PhaseAddressSelection)
		return c.View(ctx), err
	}

	if !result.Success {
		message := result.Message
		if message == "" {
			message = msgOrderDeclined
		}
		c.logger.Info("Checkout declined", zap.String("address_id", selected), zap.String("message", message))
		util.CheckoutAttemptsTotal.WithLabelValues("rejected").Inc()
		c.notifier.Notify(notify.VariantWarning, message)
		c.publishFailed(ctx, selected, message)
		c.setPhase(PhaseAddressSelection)
		return c.View(ctx), apperr.Rejected("checkout.place", message)
	}

	balance, debitErr := c.session.DebitBalance(ctx, total)
	if debitErr != nil {
		c.logger.Error("Failed to debit cached balance", zap.Error(debitErr))
	} else {
		c.logger.Info("Order placed",
			zap.String("address_id", selected),
			zap.String("total", total.String()),
			zap.String("balance", balance.String()))
	}

	util.CheckoutAttemptsTotal.WithLabelValues("success").Inc()
	c.setPhase(PhaseSuccess)
	c.notifier.Notify(notify.VariantSuccess, msgOrderPlaced)
	c.publishPlaced(ctx, selected, total, items)

	if _, err := c.cart.Load(ctx); err != nil {
		c.logger.Warn("Failed to refresh cart after checkout", zap.Error(err))
	}
	return c.View(ctx), nil
}

// validate runs every check in order and returns the first failure
func (c *CheckoutCoordinator) validate(ctx context.Context, total decimal.Decimal, selected string) error {
	balance, ok, err := c.session.Balance(ctx)
	if err != nil {
		return err
	}
	if !ok || total.GreaterThan(balance) {
		return apperr.Validation("checkout.validate", msgInsufficientBalance)
	}
	if len(c.addresses.Addresses()) == 0 {
		return apperr.Validation("checkout.validate", msgAddAddressFirst)
	}
	if selected == "" || !c.addresses.Contains(selected) {
		return apperr.Validation("checkout.validate", msgSelectAddress)
	}
	return nil
}

// View assembles the current checkout state
func (c *CheckoutCoordinator) View(ctx context.Context) CheckoutView {
	c.mu.Lock()
	phase, draft, selected := c.phase, c.draft, c.selected
	c.mu.Unlock()

	items := c.cart.Items()
	total := ComputeTotal(items)
	view := CheckoutView{
		Phase:             phase,
		Items:             items,
		Total:             total,
		ItemCount:         ComputeItemCount(items),
		Addresses:         c.addresses.Addresses(),
		SelectedAddressID: selected,
		Draft:             draft,
	}

	available := decimal.Zero
	if balance, ok, err := c.session.Balance(ctx); err != nil {
		c.logger.Warn("Failed to read balance", zap.Error(err))
	} else if ok {
		view.Balance = &balance
		available = balance
	}
	view.WalletSummary = WalletSummary(total, available)
	return view
}

// Reset returns to LOADING and forgets the draft and selection
func (c *CheckoutCoordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = PhaseLoading
	c.draft = ""
	c.selected = ""
}

// WalletSummary renders the amount due against the available balance
func WalletSummary(total, balance decimal.Decimal) string {
	return fmt.Sprintf("Pay $%s of available $%s", total.String(), balance.String())
}

func (c *CheckoutCoordinator) transition(to Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(to)
}

func (c *CheckoutCoordinator) transitionLocked(to Phase) error {
	if !CanTransition(c.phase, to) {
		return illegal("move to "+string(to), c.phase)
	}
	c.logger.Debug("Checkout transition", zap.String("from", string(c.phase)), zap.String("phase", string(to)))
	c.phase = to
	return nil
}

// setPhase is used for moves whose legality was established by an earlier transition
func (c *CheckoutCoordinator) setPhase(to Phase) {
	if err := c.transition(to); err != nil {
		c.logger.Error("Unexpected checkout transition", zap.Error(err))
	}
}

func illegal(action string, phase Phase) error {
	return fmt.Errorf("%w: %s in phase %s", apperr.ErrIllegalTransition, action, phase)
}

func (c *CheckoutCoordinator) publishPlaced(ctx context.Context, addressID string, total decimal.Decimal, items []models.EnrichedCartItem) {
	username, err := c.session.Username(ctx)
	if err != nil {
		c.logger.Warn("Failed to read username for OrderPlaced event", zap.Error(err))
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			SessionID: c.session.ID(),
			Timestamp: time.Now(),
		},
		Username:       username,
		AddressID:      addressID,
		IdempotencyKey: uuid.New().String(),
		Total:          total,
		ItemCount:      ComputeItemCount(items),
		Items:          items,
	}
	if err := c.publisher.PublishOrderPlaced(ctx, event); err != nil {
		c.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}

func (c *CheckoutCoordinator) publishFailed(ctx context.Context, addressID, reason string) {
	event := &models.CheckoutFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeCheckoutFailed,
			SessionID: c.session.ID(),
			Timestamp: time.Now(),
		},
		AddressID: addressID,
		Reason:    reason,
	}
	if err := c.publisher.PublishCheckoutFailed(ctx, event); err != nil {
		c.logger.Error("Failed to publish CheckoutFailed event", zap.Error(err))
	}
}
