package service

import (
	"context"
	"strings"
	"time"

	"storefront-agent/internal/apperr"
	"storefront-agent/internal/broker"
	"storefront-agent/internal/models"
	"storefront-agent/internal/notify"
	"storefront-agent/internal/session"
	"storefront-agent/internal/util"

	"go.uber.org/zap"
)

const (
	msgUsernameRequired = "Username is a required field"
	msgPasswordRequired = "Password is a required field"
	msgLoginFailed      = "Something went wrong. Check that the backend is running, reachable and returns valid JSON."
	msgLoggedIn         = "Logged in successfully"
	msgLoggedOut        = "Logged out successfully"
	msgUsernameTooShort = "Username must be at least 6 characters"
	msgPasswordTooShort = "Password must be at least 6 characters"
	msgPasswordMismatch = "Passwords do not match"
	msgRegistered       = "Registration successful"
)

const minCredentialLength = 6

// RemoteAPI is every backend operation the storefront consumes
type RemoteAPI interface {
	CatalogAPI
	CartAPI
	AddressAPI
	CheckoutAPI
	Login(ctx context.Context, username, password string) (*models.LoginResult, error)
	Register(ctx context.Context, username, password string) error
}

// Storefront wires the cart and checkout components of one shopper session
type Storefront struct {
	Session       *session.Context
	Catalog       *CatalogClient
	Search        *SearchDebouncer
	Cart          *CartStateManager
	Addresses     *AddressBook
	Checkout      *CheckoutCoordinator
	Notifications *notify.Feed

	api    RemoteAPI
	logger *zap.Logger
}

// NewStorefront creates the components for sess
func NewStorefront(
	api RemoteAPI,
	sess *session.Context,
	feed *notify.Feed,
	publisher broker.Publisher,
	searchDebounce time.Duration,
) *Storefront {
	catalog := NewCatalogClient(api, feed)
	cart := NewCartStateManager(api, catalog, sess, feed, publisher)
	addresses := NewAddressBook(api, sess, feed)

	return &Storefront{
		Session:       sess,
		Catalog:       catalog,
		Search:        NewSearchDebouncer(catalog, searchDebounce),
		Cart:          cart,
		Addresses:     addresses,
		Checkout:      NewCheckoutCoordinator(api, catalog, cart, addresses, sess, feed, publisher),
		Notifications: feed,
		api:           api,
		logger:        util.GetLogger(),
	}
}

// Login authenticates against the backend, persists the session and loads the cart
func (s *Storefront) Login(ctx context.Context, username, password string) (*models.LoginResult, error) {
	ctx, span := util.StartSpan(ctx, "Storefront.Login")
	defer span.End()

	if strings.TrimSpace(username) == "" {
		s.Notifications.Notify(notify.VariantWarning, msgUsernameRequired)
		return nil, apperr.Validation("session.login", msgUsernameRequired)
	}
	if password == "" {
		s.Notifications.Notify(notify.VariantWarning, msgPasswordRequired)
		return nil, apperr.Validation("session.login", msgPasswordRequired)
	}

	result, err := s.api.Login(ctx, username, password)
	if err != nil {
		span.RecordError(err)
		if apperr.IsKind(err, apperr.KindServerRejection) {
			s.Notifications.Notify(notify.VariantError, apperr.Message(err))
		} else {
			s.Notifications.Notify(notify.VariantError, msgLoginFailed)
		}
		return nil, err
	}
	if !result.Success || result.Token == "" {
		s.Notifications.Notify(notify.VariantError, msgLoginFailed)
		return nil, apperr.Rejected("session.login", msgLoginFailed)
	}

	if result.Username == "" {
		result.Username = username
	}
	if err := s.Session.Login(ctx, result.Token, result.Username, result.Balance); err != nil {
		return nil, err
	}

	s.logger.Info("Session started", zap.String("session_id", s.Session.ID()), zap.String("username", result.Username))
	s.Notifications.Notify(notify.VariantSuccess, msgLoggedIn)

	if _, err := s.Catalog.EnsureLoaded(ctx); err != nil {
		s.logger.Warn("Catalog unavailable after login", zap.Error(err))
	}
	if _, err := s.Cart.Load(ctx); err != nil {
		s.logger.Warn("Cart unavailable after login", zap.Error(err))
	}
	return result, nil
}

// Register creates an account. It does not start a session.
func (s *Storefront) Register(ctx context.Context, username, password, confirmPassword string) (err error) {
	ctx, span := util.StartSpan(ctx, "Storefront.Register")
	defer func() { util.EndSpan(span, err) }()

	if err := validateRegistration(username, password, confirmPassword); err != nil {
		s.Notifications.Notify(notify.VariantWarning, apperr.Message(err))
		return err
	}

	if err := s.api.Register(ctx, username, password); err != nil {
		if apperr.IsKind(err, apperr.KindServerRejection) {
			s.Notifications.Notify(notify.VariantError, apperr.Message(err))
		} else {
			s.Notifications.Notify(notify.VariantError, msgLoginFailed)
		}
		return err
	}

	s.logger.Info("Account registered", zap.String("username", username))
	s.Notifications.Notify(notify.VariantSuccess, msgRegistered)
	return nil
}

func validateRegistration(username, password, confirmPassword string) error {
	const op = "session.register"
	switch {
	case strings.TrimSpace(username) == "":
		return apperr.Validation(op, msgUsernameRequired)
	case len(username) < minCredentialLength:
		return apperr.Validation(op, msgUsernameTooShort)
	case password == "":
		return apperr.Validation(op, msgPasswordRequired)
	case len(password) < minCredentialLength:
		return apperr.Validation(op, msgPasswordTooShort)
	case password != confirmPassword:
		return apperr.Validation(op, msgPasswordMismatch)
	}
	return nil
}

// Logout clears the session and the cart and address mirrors
func (s *Storefront) Logout(ctx context.Context) error {
	if err := s.Session.Logout(ctx); err != nil {
		return err
	}
	if err := s.Cart.Clear(ctx); err != nil {
		return err
	}
	if err := s.Addresses.Clear(ctx); err != nil {
		return err
	}
	s.Checkout.Reset()

	s.logger.Info("Session ended", zap.String("session_id", s.Session.ID()))
	s.Notifications.Notify(notify.VariantSuccess, msgLoggedOut)
	return nil
}

// Close stops background work
func (s *Storefront) Close() {
	s.Search.Stop()
	s.Cart.Close()
	s.Addresses.Close()
}
