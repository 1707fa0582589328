package notify

import (
	"sync"
	"time"

	"storefront-agent/internal/util"

	"go.uber.org/zap"
)

// Variant mirrors the snackbar variants of the storefront UI
type Variant string

const (
	VariantError   Variant = "error"
	VariantWarning Variant = "warning"
	VariantInfo    Variant = "info"
	VariantSuccess Variant = "success"
)

// Notification is a user-visible message
type Notification struct {
	Variant Variant   `json:"variant"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier receives user-visible notifications
type Notifier interface {
	Notify(variant Variant, message string)
}

// Feed buffers the most recent notifications until the UI drains them
type Feed struct {
	mu     sync.Mutex
	items  []Notification
	limit  int
	logger *zap.Logger
}

// NewFeed creates a feed keeping at most limit undrained notifications
func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = 50
	}
	return &Feed{
		limit:  limit,
		logger: util.GetLogger(),
	}
}

func (f *Feed) Notify(variant Variant, message string) {
	util.NotificationsTotal.WithLabelValues(string(variant)).Inc()
	f.logger.Info("Notification", zap.String("variant", string(variant)), zap.String("message", message))

	f.mu.Lock()
	defer f.mu.Unlock()

	f.items = append(f.items, Notification{Variant: variant, Message: message, At: time.Now()})
	if over := len(f.items) - f.limit; over > 0 {
		f.items = append([]Notification(nil), f.items[over:]...)
	}
}

// Drain returns pending notifications oldest first and empties the feed
func (f *Feed) Drain() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.items
	f.items = nil
	if out == nil {
		return []Notification{}
	}
	return out
}

// Discard is a Notifier that drops everything
type Discard struct{}

func (Discard) Notify(Variant, string) {}
