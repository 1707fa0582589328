package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront-agent/internal/apperr"
	"storefront-agent/internal/models"
	"storefront-agent/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 20

// Client talks to the storefront backend. Every call is a single attempt
// bounded by the configured timeout; there is no automatic retry.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a backend client rooted at baseURL (e.g. http://host/api/v1)
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  util.GetLogger(),
	}
}

type errorBody struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// GetProducts fetches the full catalog
func (c *Client) GetProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	if err := c.do(ctx, http.MethodGet, "/products", "", nil, &products); err != nil {
		return nil, err
	}
	return nonNil(products), nil
}

// SearchProducts runs a server-side search
func (c *Client) SearchProducts(ctx context.Context, text string) ([]models.Product, error) {
	var products []models.Product
	path := "/products/search?value=" + url.QueryEscape(text)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &products); err != nil {
		return nil, err
	}
	return nonNil(products), nil
}

// GetCart returns the cart entries of the token's user
func (c *Client) GetCart(ctx context.Context, token string) ([]models.CartEntry, error) {
	var entries []models.CartEntry
	if err := c.do(ctx, http.MethodGet, "/cart", token, nil, &entries); err != nil {
		return nil, err
	}
	return nonNil(entries), nil
}

// SetCartItem sets the absolute quantity of a product and returns the full cart
func (c *Client) SetCartItem(ctx context.Context, token, productID string, qty int) ([]models.CartEntry, error) {
	body := models.CartEntry{ProductID: productID, Qty: qty}
	var entries []models.CartEntry
	if err := c.do(ctx, http.MethodPost, "/cart", token, body, &entries); err != nil {
		return nil, err
	}
	return nonNil(entries), nil
}

// GetAddresses returns the user's shipping addresses
func (c *Client) GetAddresses(ctx context.Context, token string) ([]models.Address, error) {
	var addresses []models.Address
	if err := c.do(ctx, http.MethodGet, "/user/addresses", token, nil, &addresses); err != nil {
		return nil, err
	}
	return nonNil(addresses), nil
}

// AddAddress adds an address and returns the full list
func (c *Client) AddAddress(ctx context.Context, token, text string) ([]models.Address, error) {
	body := map[string]string{"address": text}
	var addresses []models.Address
	if err := c.do(ctx, http.MethodPost, "/user/addresses", token, body, &addresses); err != nil {
		return nil, err
	}
	return nonNil(addresses), nil
}

// DeleteAddress removes an address and returns the full list
func (c *Client) DeleteAddress(ctx context.Context, token, addressID string) ([]models.Address, error) {
	var addresses []models.Address
	path := "/user/addresses/" + url.PathEscape(addressID)
	if err := c.do(ctx, http.MethodDelete, path, token, nil, &addresses); err != nil {
		return nil, err
	}
	return nonNil(addresses), nil
}

// Checkout places the order for the current cart. A declined checkout is a
// result with Success=false, not an error, whatever the HTTP status.
func (c *Client) Checkout(ctx context.Context, token, addressID string) (*models.CheckoutResult, error) {
	body := map[string]string{"addressId": addressID}
	var result models.CheckoutResult
	err := c.do(ctx, http.MethodPost, "/cart/checkout", token, body, &result)
	if err != nil {
		if apperr.IsKind(err, apperr.KindServerRejection) {
			return &models.CheckoutResult{Success: false, Message: apperr.Message(err)}, nil
		}
		return nil, err
	}
	return &result, nil
}

// Login exchanges credentials for a token and the wallet balance
func (c *Client) Login(ctx context.Context, username, password string) (*models.LoginResult, error) {
	body := map[string]string{"username": username, "password": password}
	var result models.LoginResult
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Register creates an account. The response body carries nothing the storefront uses.
func (c *Client) Register(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	var ignored json.RawMessage
	return c.do(ctx, http.MethodPost, "/auth/register", "", body, &ignored)
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out interface{}) (err error) {
	op := method + " " + routeOf(path)
	ctx, span := util.StartSpan(ctx, "apiclient "+op, attribute.String("http.method", method))
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(apperr.KindOf(err))
		}
		util.RemoteRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
		util.EndSpan(span, err)
	}()

	var reader io.Reader
	if in != nil {
		payload, mErr := json.Marshal(in)
		if mErr != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, mErr)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("Backend unreachable", zap.String("op", op), zap.Error(err))
		return apperr.Network(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return apperr.Network(op, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var eb errorBody
		if jsonErr := json.Unmarshal(raw, &eb); jsonErr == nil && eb.Message != "" {
			c.logger.Info("Backend rejected request",
				zap.String("op", op),
				zap.Int("status", resp.StatusCode),
				zap.String("message", eb.Message))
			return apperr.Rejected(op, eb.Message)
		}
		return apperr.Network(op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Warn("Backend returned invalid JSON", zap.String("op", op), zap.Error(err))
		return apperr.Network(op, fmt.Errorf("invalid JSON: %w", err))
	}
	return nil
}

// routeOf strips query strings and ids so metric labels stay bounded
func routeOf(path string) string {
	u, err := url.Parse(path)
	if err != nil {
		return path
	}
	if strings.HasPrefix(u.Path, "/user/addresses/") {
		return "/user/addresses/:id"
	}
	return u.Path
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
