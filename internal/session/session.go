package session

import (
	"context"
	"fmt"
	"time"

	"storefront-agent/internal/apperr"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
)

// DefaultTTL applies when the token carries no usable expiry
const DefaultTTL = 24 * time.Hour

// State is what the storefront persists for a logged-in shopper
type State struct {
	Token    string
	Username string
	Balance  *decimal.Decimal
}

// Store is the session-scoped key/value store
type Store interface {
	Get(ctx context.Context, id string) (*State, error)
	Put(ctx context.Context, id string, st State, ttl time.Duration) error
	SetBalance(ctx context.Context, id string, balance decimal.Decimal) error
	Delete(ctx context.Context, id string) error
}

// Context is the explicit session handle injected into the cart and checkout components
type Context struct {
	id    string
	store Store
}

func New(id string, store Store) *Context {
	return &Context{id: id, store: store}
}

func (c *Context) ID() string {
	return c.id
}

// Login persists token, username and balance; the entry expires with the token
func (c *Context) Login(ctx context.Context, token, username string, balance decimal.Decimal) error {
	st := State{Token: token, Username: username, Balance: &balance}
	if err := c.store.Put(ctx, c.id, st, TokenTTL(token, time.Now())); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func (c *Context) Logout(ctx context.Context) error {
	if err := c.store.Delete(ctx, c.id); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Token returns the bearer token or apperr.ErrNotLoggedIn
func (c *Context) Token(ctx context.Context) (string, error) {
	st, err := c.store.Get(ctx, c.id)
	if err != nil {
		return "", fmt.Errorf("failed to read session: %w", err)
	}
	if st == nil || st.Token == "" {
		return "", apperr.ErrNotLoggedIn
	}
	return st.Token, nil
}

func (c *Context) Username(ctx context.Context) (string, error) {
	st, err := c.store.Get(ctx, c.id)
	if err != nil {
		return "", fmt.Errorf("failed to read session: %w", err)
	}
	if st == nil {
		return "", apperr.ErrNotLoggedIn
	}
	return st.Username, nil
}

// Balance returns the cached wallet balance; ok is false when none is cached
func (c *Context) Balance(ctx context.Context) (balance decimal.Decimal, ok bool, err error) {
	st, err := c.store.Get(ctx, c.id)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to read session: %w", err)
	}
	if st == nil || st.Balance == nil {
		return decimal.Zero, false, nil
	}
	return *st.Balance, true, nil
}

// DebitBalance subtracts amount from the cached balance and returns the new value
func (c *Context) DebitBalance(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	current, ok, err := c.Balance(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, apperr.ErrNotLoggedIn
	}
	next := current.Sub(amount)
	if err := c.store.SetBalance(ctx, c.id, next); err != nil {
		return decimal.Zero, fmt.Errorf("failed to update balance: %w", err)
	}
	return next, nil
}

// TokenTTL reads the exp claim without verifying the signature.
// Verification belongs to the backend that issued the token.
func TokenTTL(token string, now time.Time) time.Duration {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return DefaultTTL
	}
	if claims.ExpiresAt == nil {
		return DefaultTTL
	}
	ttl := claims.ExpiresAt.Time.Sub(now)
	if ttl <= 0 {
		return time.Second
	}
	return ttl
}
