package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storefront-agent/internal/models"
	"storefront-agent/internal/notify"
	"storefront-agent/internal/session"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory storefront backend. Writes return full state like the real one.
type fakeBackend struct {
	mu sync.Mutex

	products    []models.Product
	productsErr error
	searchFn    func(ctx context.Context, text string) ([]models.Product, error)
	searches    []string

	cart     []models.CartEntry
	cartErr  error
	setErr   error
	setDelay time.Duration
	setHook  func(ctx context.Context) error
	setCalls []models.CartEntry

	inFlight    int32
	maxInFlight int32

	addresses []models.Address
	addErr    error
	deleteErr error
	nextID    int

	checkoutResult *models.CheckoutResult
	checkoutErr    error
	checkoutHook   func(ctx context.Context) error
	checkoutCalls  int

	loginResult *models.LoginResult
	loginErr    error

	registerErr   error
	registrations []string
}

func (f *fakeBackend) GetProducts(ctx context.Context) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.productsErr != nil {
		return nil, f.productsErr
	}
	return append([]models.Product{}, f.products...), nil
}

func (f *fakeBackend) SearchProducts(ctx context.Context, text string) ([]models.Product, error) {
	f.mu.Lock()
	f.searches = append(f.searches, text)
	fn := f.searchFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	return []models.Product{}, nil
}

func (f *fakeBackend) GetCart(ctx context.Context, token string) ([]models.CartEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cartErr != nil {
		return nil, f.cartErr
	}
	return append([]models.CartEntry{}, f.cart...), nil
}

func (f *fakeBackend) SetCartItem(ctx context.Context, token, productID string, qty int) ([]models.CartEntry, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		m := atomic.LoadInt32(&f.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxInFlight, m, n) {
			break
		}
	}

	f.mu.Lock()
	delay, hook := f.setDelay, f.setHook
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls = append(f.setCalls, models.CartEntry{ProductID: productID, Qty: qty})
	if f.setErr != nil {
		return nil, f.setErr
	}

	next := make([]models.CartEntry, 0, len(f.cart)+1)
	found := false
	for _, e := range f.cart {
		if e.ProductID == productID {
			found = true
			if qty > 0 {
				next = append(next, models.CartEntry{ProductID: productID, Qty: qty})
			}
			continue
		}
		next = append(next, e)
	}
	if !found && qty > 0 {
		next = append(next, models.CartEntry{ProductID: productID, Qty: qty})
	}
	f.cart = next
	return append([]models.CartEntry{}, next...), nil
}

func (f *fakeBackend) GetAddresses(ctx context.Context, token string) ([]models.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Address{}, f.addresses...), nil
}

func (f *fakeBackend) AddAddress(ctx context.Context, token, text string) ([]models.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.nextID++
	f.addresses = append(f.addresses, models.Address{ID: fmt.Sprintf("addr-%d", f.nextID), Text: text})
	return append([]models.Address{}, f.addresses...), nil
}

func (f *fakeBackend) DeleteAddress(ctx context.Context, token, addressID string) ([]models.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	next := make([]models.Address, 0, len(f.addresses))
	for _, a := range f.addresses {
		if a.ID != addressID {
			next = append(next, a)
		}
	}
	f.addresses = next
	return append([]models.Address{}, next...), nil
}

func (f *fakeBackend) Checkout(ctx context.Context, token, addressID string) (*models.CheckoutResult, error) {
	f.mu.Lock()
	hook := f.checkoutHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkoutCalls++
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	if f.checkoutResult != nil {
		return f.checkoutResult, nil
	}
	f.cart = nil
	return &models.CheckoutResult{Success: true}, nil
}

func (f *fakeBackend) Login(ctx context.Context, username, password string) (*models.LoginResult, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.loginResult, nil
}

func (f *fakeBackend) Register(ctx context.Context, username, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registrations = append(f.registrations, username)
	return nil
}

func (f *fakeBackend) cartSnapshot() []models.CartEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CartEntry{}, f.cart...)
}

func (f *fakeBackend) sentQuantities() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.setCalls))
	for _, c := range f.setCalls {
		out = append(out, c.Qty)
	}
	return out
}

func (f *fakeBackend) searchLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.searches...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []notify.Notification
}

func (r *recordingNotifier) Notify(variant notify.Variant, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, notify.Notification{Variant: variant, Message: message})
}

func (r *recordingNotifier) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification{}, r.items...)
}

func (r *recordingNotifier) last() notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return notify.Notification{}
	}
	return r.items[len(r.items)-1]
}

type recordingPublisher struct {
	mu      sync.Mutex
	updated []*models.CartUpdatedEvent
	placed  []*models.OrderPlacedEvent
	failed  []*models.CheckoutFailedEvent
}

func (p *recordingPublisher) PublishCartUpdated(ctx context.Context, e *models.CartUpdatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updated = append(p.updated, e)
	return nil
}

func (p *recordingPublisher) PublishOrderPlaced(ctx context.Context, e *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, e)
	return nil
}

func (p *recordingPublisher) PublishCheckoutFailed(ctx context.Context, e *models.CheckoutFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, e)
	return nil
}

type fixture struct {
	backend   *fakeBackend
	session   *session.Context
	notifier  *recordingNotifier
	publisher *recordingPublisher
	catalog   *CatalogClient
	cart      *CartStateManager
	addresses *AddressBook
	checkout  *CheckoutCoordinator
}

func product(id string, cost int64) models.Product {
	return models.Product{ID: id, Name: "Product " + id, Category: "Misc", Cost: decimal.NewFromInt(cost), Rating: 4}
}

func newFixture(t *testing.T, backend *fakeBackend) *fixture {
	t.Helper()

	sess := session.New("tab-1", session.NewMemoryStore())
	notifier := &recordingNotifier{}
	publisher := &recordingPublisher{}
	catalog := NewCatalogClient(backend, notifier)
	cart := NewCartStateManager(backend, catalog, sess, notifier, publisher)
	addresses := NewAddressBook(backend, sess, notifier)
	checkout := NewCheckoutCoordinator(backend, catalog, cart, addresses, sess, notifier, publisher)

	t.Cleanup(func() {
		cart.Close()
		addresses.Close()
	})

	return &fixture{
		backend:   backend,
		session:   sess,
		notifier:  notifier,
		publisher: publisher,
		catalog:   catalog,
		cart:      cart,
		addresses: addresses,
		checkout:  checkout,
	}
}

// login starts a session with balance and loads catalog and cart
func (fx *fixture) login(t *testing.T, balance int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fx.session.Login(ctx, "token-123", "crio-user", decimal.NewFromInt(balance)))
	_, err := fx.catalog.FetchAll(ctx)
	require.NoError(t, err)
	_, err = fx.cart.Load(ctx)
	require.NoError(t, err)
}

// blockUntilReleased returns a hook that signals started on its first call and
// waits for release, then reports the context state like a real transport.
func blockUntilReleased() (hook func(ctx context.Context) error, started <-chan struct{}, release chan<- struct{}) {
	startedCh := make(chan struct{})
	releaseCh := make(chan struct{})
	var once sync.Once
	hook = func(ctx context.Context) error {
		once.Do(func() { close(startedCh) })
		<-releaseCh
		return ctx.Err()
	}
	return hook, startedCh, releaseCh
}
