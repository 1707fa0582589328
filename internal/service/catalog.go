package service

import (
	"context"
	"sync/atomic"

	"storefront-agent/internal/models"
	"storefront-agent/internal/notify"
	"storefront-agent/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const msgFetchProductsFailed = "Could not fetch products. Check that the backend is running, reachable and returns valid JSON."

// CatalogAPI is the remote catalog service
type CatalogAPI interface {
	GetProducts(ctx context.Context) ([]models.Product, error)
	SearchProducts(ctx context.Context, text string) ([]models.Product, error)
}

// CatalogClient fetches the product catalog and runs server-side searches.
// The last successfully fetched catalog is cached for reconciliation.
type CatalogClient struct {
	api      CatalogAPI
	notifier notify.Notifier
	products atomic.Pointer[[]models.Product]
	logger   *zap.Logger
}

// NewCatalogClient creates a new catalog client
func NewCatalogClient(api CatalogAPI, notifier notify.Notifier) *CatalogClient {
	c := &CatalogClient{
		api:      api,
		notifier: notifier,
		logger:   util.GetLogger(),
	}
	empty := []models.Product{}
	c.products.Store(&empty)
	return c
}

// FetchAll loads the full catalog. On failure it returns an empty sequence and
// the network error; the cached catalog is left untouched.
func (c *CatalogClient) FetchAll(ctx context.Context) (products []models.Product, err error) {
	ctx, span := util.StartSpan(ctx, "CatalogClient.FetchAll")
	defer func() { util.EndSpan(span, err) }()

	products, err = c.api.GetProducts(ctx)
	if err != nil {
		c.logger.Warn("Failed to fetch products", zap.Error(err))
		c.notifier.Notify(notify.VariantError, msgFetchProductsFailed)
		return []models.Product{}, err
	}

	cached := make([]models.Product, len(products))
	copy(cached, products)
	c.products.Store(&cached)
	c.logger.Debug("Catalog fetched", zap.Int("count", len(products)))
	return products, nil
}

// Search runs a server-side search. It never fails: an error yields an empty result.
func (c *CatalogClient) Search(ctx context.Context, text string) []models.Product {
	ctx, span := util.StartSpan(ctx, "CatalogClient.Search", attribute.String("query", text))
	defer span.End()

	products, err := c.api.SearchProducts(ctx, text)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("Search failed", zap.String("query", text), zap.Error(err))
		return []models.Product{}
	}
	return products
}

// Products returns a copy of the cached catalog
func (c *CatalogClient) Products() []models.Product {
	current := *c.products.Load()
	out := make([]models.Product, len(current))
	copy(out, current)
	return out
}

// EnsureLoaded fetches the catalog if nothing is cached yet
func (c *CatalogClient) EnsureLoaded(ctx context.Context) ([]models.Product, error) {
	if products := c.Products(); len(products) > 0 {
		return products, nil
	}
	return c.FetchAll(ctx)
}
