package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"storefront-agent/internal/apperr"
	"storefront-agent/internal/broker"
	"storefront-agent/internal/models"
	"storefront-agent/internal/notify"
	"storefront-agent/internal/service"
	"storefront-agent/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	mu        sync.Mutex
	products  []models.Product
	cart      []models.CartEntry
	addresses []models.Address
}

func (s *stubBackend) GetProducts(ctx context.Context) ([]models.Product, error) {
	return s.products, nil
}

func (s *stubBackend) SearchProducts(ctx context.Context, text string) ([]models.Product, error) {
	return []models.Product{}, nil
}

func (s *stubBackend) GetCart(ctx context.Context, token string) ([]models.CartEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CartEntry{}, s.cart...), nil
}

func (s *stubBackend) SetCartItem(ctx context.Context, token, productID string, qty int) ([]models.CartEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := []models.CartEntry{}
	found := false
	for _, e := range s.cart {
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
	s.cart = next
	return append([]models.CartEntry{}, next...), nil
}

func (s *stubBackend) GetAddresses(ctx context.Context, token string) ([]models.Address, error) {
	return s.addresses, nil
}

func (s *stubBackend) AddAddress(ctx context.Context, token, text string) ([]models.Address, error) {
	s.addresses = append(s.addresses, models.Address{ID: "new", Text: text})
	return s.addresses, nil
}

func (s *stubBackend) DeleteAddress(ctx context.Context, token, addressID string) ([]models.Address, error) {
	return s.addresses, nil
}

func (s *stubBackend) Checkout(ctx context.Context, token, addressID string) (*models.CheckoutResult, error) {
	return &models.CheckoutResult{Success: true}, nil
}

func (s *stubBackend) Login(ctx context.Context, username, password string) (*models.LoginResult, error) {
	return &models.LoginResult{Success: true, Token: "token-123", Username: username, Balance: decimal.NewFromInt(500)}, nil
}

func (s *stubBackend) Register(ctx context.Context, username, password string) error {
	if username == "taken-user" {
		return apperr.Rejected("POST /auth/register", "Username is already taken")
	}
	return nil
}

type stubReceipts struct {
	receipts []models.Receipt
	err      error
}

func (s *stubReceipts) ListReceipts(ctx context.Context, username string, limit int) ([]models.Receipt, error) {
	return s.receipts, s.err
}

func setupRouter(t *testing.T, receipts ReceiptLister, checks map[string]ReadinessCheck) (*gin.Engine, *service.Storefront) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := &stubBackend{
		products:  []models.Product{{ID: "p1", Name: "X", Cost: decimal.NewFromInt(50)}},
		cart:      []models.CartEntry{{ProductID: "p1", Qty: 2}},
		addresses: []models.Address{{ID: "a1", Text: "221B Baker Street"}},
	}
	sf := service.NewStorefront(backend, session.New("tab-1", session.NewMemoryStore()), notify.NewFeed(10), broker.NopPublisher{}, 10*time.Millisecond)
	t.Cleanup(sf.Close)

	router := gin.New()
	NewHandler(sf, receipts, checks).SetupRoutes(router)
	return router, sf
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type cartResponse struct {
	Items     []models.EnrichedCartItem `json:"items"`
	Total     decimal.Decimal           `json:"total"`
	ItemCount int                       `json:"itemCount"`
	Error     string                    `json:"error"`
	Kind      string                    `json:"kind"`
}

func TestHealthCheck(t *testing.T) {
	router, _ := setupRouter(t, nil, nil)

	w := doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestReadinessCheckFailure(t *testing.T) {
	router, _ := setupRouter(t, nil, map[string]ReadinessCheck{
		"redis": func(ctx context.Context) error { return errors.New("connection refused") },
	})

	w := doJSON(router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestCartRequiresLogin(t *testing.T) {
	router, _ := setupRouter(t, nil, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/cart/items", gin.H{"productId": "p1", "qty": 1})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/notifications", nil)
	assert.Contains(t, w.Body.String(), "Login to add an item to the Cart")
}

func TestLoginAndCartFlow(t *testing.T) {
	router, _ := setupRouter(t, nil, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/session/login", gin.H{"username": "crio-user", "password": "secret"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/cart", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cart cartResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cart))
	assert.True(t, cart.Total.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 2, cart.ItemCount)

	w = doJSON(router, http.MethodPost, "/api/v1/cart/items", gin.H{"productId": "p1", "qty": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cart))
	assert.Equal(t, "business_rule", cart.Kind)
	assert.Equal(t, 2, cart.ItemCount)

	w = doJSON(router, http.MethodPost, "/api/v1/cart/items/p1/quantity", gin.H{"delta": -1})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cart))
	assert.Equal(t, 1, cart.ItemCount)
	assert.True(t, cart.Total.Equal(decimal.NewFromInt(50)))
}

func TestQuantityRequiresDelta(t *testing.T) {
	router, _ := setupRouter(t, nil, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/cart/items/p1/quantity", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckoutFlow(t *testing.T) {
	router, _ := setupRouter(t, nil, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/session/login", gin.H{"username": "crio-user", "password": "secret"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/checkout/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view service.CheckoutView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, service.PhaseAddressSelection, view.Phase)

	w = doJSON(router, http.MethodPost, "/api/v1/checkout/place", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "Please select one shipping address to proceed.")

	w = doJSON(router, http.MethodPost, "/api/v1/checkout/addresses/a1/select", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/checkout/place", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, service.PhaseSuccess, view.Phase)
	require.NotNil(t, view.Balance)
	assert.True(t, view.Balance.Equal(decimal.NewFromInt(400)))
}

func TestIllegalCheckoutStep(t *testing.T) {
	router, _ := setupRouter(t, nil, nil)

	w := doJSON(router, http.MethodPut, "/api/v1/checkout/address-draft", gin.H{"text": "x"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestOrdersRequiresStore(t *testing.T) {
	router, _ := setupRouter(t, nil, nil)

	w := doJSON(router, http.MethodGet, "/api/v1/orders", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListOrders(t *testing.T) {
	receipts := &stubReceipts{receipts: []models.Receipt{{ID: 1, EventID: "evt-1", Username: "crio-user", Total: decimal.NewFromInt(100)}}}
	router, sf := setupRouter(t, receipts, nil)

	w := doJSON(router, http.MethodGet, "/api/v1/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	_, err := sf.Login(context.Background(), "crio-user", "secret")
	require.NoError(t, err)

	w = doJSON(router, http.MethodGet, "/api/v1/orders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "evt-1")
}

func TestRegister(t *testing.T) {
	router, _ := setupRouter(t, nil, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/session/register", gin.H{"username": "crio-user", "password": "secret1", "confirmPassword": "secret1"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/session/register", gin.H{"username": "crio-user", "password": "secret1", "confirmPassword": "secret2"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "Passwords do not match")

	w = doJSON(router, http.MethodPost, "/api/v1/session/register", gin.H{"username": "taken-user", "password": "secret1", "confirmPassword": "secret1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "Username is already taken")
}
