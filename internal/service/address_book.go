package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"storefront-agent/internal/apperr"
	"storefront-agent/internal/models"
	"storefront-agent/internal/notify"
	"storefront-agent/internal/session"
	"storefront-agent/internal/util"
	"storefront-agent/internal/worker"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	msgFetchAddressesFailed = "Could not fetch addresses. Check that the backend is running, reachable and returns valid JSON."
	msgAddAddressFailed     = "Could not add this address. Check that the backend is running, reachable and returns valid JSON."
	msgDeleteAddressFailed  = "Could not delete this address. Check that the backend is running, reachable and returns valid JSON."
	msgEmptyAddress         = "Address cannot be empty"
)

// AddressAPI is the remote address service. Writes return the complete list.
type AddressAPI interface {
	GetAddresses(ctx context.Context, token string) ([]models.Address, error)
	AddAddress(ctx context.Context, token, text string) ([]models.Address, error)
	DeleteAddress(ctx context.Context, token, addressID string) ([]models.Address, error)
}

// AddressBook mirrors the user's shipping addresses. Writes are serialized on
// a queue of their own, independent of the cart queue.
type AddressBook struct {
	api       AddressAPI
	session   *session.Context
	queue     *worker.SerialQueue
	addresses atomic.Pointer[[]models.Address]
	notifier  notify.Notifier
	logger    *zap.Logger
}

func NewAddressBook(api AddressAPI, sess *session.Context, notifier notify.Notifier) *AddressBook {
	b := &AddressBook{
		api:      api,
		session:  sess,
		queue:    worker.NewSerialQueue("addresses"),
		notifier: notifier,
		logger:   util.GetLogger().With(zap.String("component", "addresses")),
	}
	b.store(nil)
	return b
}

// Load fetches the address list; on failure the list is empty
func (b *AddressBook) Load(ctx context.Context) ([]models.Address, error) {
	ctx, span := util.StartSpan(ctx, "AddressBook.Load")
	defer span.End()

	var result []models.Address
	err := b.submit(ctx, func(ctx context.Context, token string) error {
		fetched, err := b.api.GetAddresses(ctx, token)
		if err != nil {
			return err
		}
		result = b.store(fetched)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, apperr.ErrNotLoggedIn) {
			b.logger.Warn("Failed to load addresses", zap.Error(err))
			b.notifyFailure(err, msgFetchAddressesFailed)
		}
		return []models.Address{}, err
	}
	return result, nil
}

// Add creates an address and replaces the mirror with the returned list
func (b *AddressBook) Add(ctx context.Context, text string) ([]models.Address, error) {
	ctx, span := util.StartSpan(ctx, "AddressBook.Add")
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		err := apperr.Validation("addresses.add", msgEmptyAddress)
		b.notifier.Notify(notify.VariantWarning, msgEmptyAddress)
		return b.Addresses(), err
	}

	var result []models.Address
	err := b.submit(ctx, func(ctx context.Context, token string) error {
		updated, err := b.api.AddAddress(ctx, token, text)
		if err != nil {
			return err
		}
		result = b.store(updated)
		return nil
	})
	b.record("add", err)
	if err != nil {
		span.RecordError(err)
		b.notifyFailure(err, msgAddAddressFailed)
		return b.Addresses(), err
	}
	return result, nil
}

// Delete removes an address and replaces the mirror with the returned list
func (b *AddressBook) Delete(ctx context.Context, addressID string) ([]models.Address, error) {
	ctx, span := util.StartSpan(ctx, "AddressBook.Delete", attribute.String("address_id", addressID))
	defer span.End()

	var result []models.Address
	err := b.submit(ctx, func(ctx context.Context, token string) error {
		updated, err := b.api.DeleteAddress(ctx, token, addressID)
		if err != nil {
			return err
		}
		result = b.store(updated)
		return nil
	})
	b.record("delete", err)
	if err != nil {
		span.RecordError(err)
		b.notifyFailure(err, msgDeleteAddressFailed)
		return b.Addresses(), err
	}
	return result, nil
}

// Addresses returns a copy of the mirrored list
func (b *AddressBook) Addresses() []models.Address {
	current := *b.addresses.Load()
	out := make([]models.Address, len(current))
	copy(out, current)
	return out
}

// Contains reports whether id is in the mirrored list
func (b *AddressBook) Contains(id string) bool {
	for _, a := range *b.addresses.Load() {
		if a.ID == id {
			return true
		}
	}
	return false
}

// Clear drops the mirror after queued writes have finished
func (b *AddressBook) Clear(ctx context.Context) error {
	return b.queue.Submit(ctx, func(ctx context.Context) error {
		b.store(nil)
		return nil
	})
}

func (b *AddressBook) Close() {
	b.queue.Close()
}

// submit runs fn on the queue with the token current at execution time
func (b *AddressBook) submit(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	return b.queue.Submit(ctx, func(ctx context.Context) error {
		token, err := b.session.Token(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, token)
	})
}

func (b *AddressBook) record(kind string, err error) {
	result := "ok"
	if err != nil {
		result = string(apperr.KindOf(err))
		if result == "" {
			result = "error"
		}
		b.logger.Warn("Address mutation failed", zap.String("kind", kind), zap.Error(err))
	}
	util.AddressMutationsTotal.WithLabelValues(kind, result).Inc()
}

func (b *AddressBook) notifyFailure(err error, fallback string) {
	switch {
	case errors.Is(err, apperr.ErrNotLoggedIn):
		b.notifier.Notify(notify.VariantInfo, msgLoginForAddresses)
	case apperr.IsKind(err, apperr.KindServerRejection):
		b.notifier.Notify(notify.VariantError, apperr.Message(err))
	case canceled(err):
	default:
		b.notifier.Notify(notify.VariantError, fallback)
	}
}

func (b *AddressBook) store(addresses []models.Address) []models.Address {
	if addresses == nil {
		addresses = []models.Address{}
	}
	b.addresses.Store(&addresses)
	return addresses
}
