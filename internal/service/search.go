package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"storefront-agent/internal/models"
	"storefront-agent/internal/util"

	"go.uber.org/zap"
)

// DefaultSearchDebounce is the quiet interval after the last keystroke
const DefaultSearchDebounce = 500 * time.Millisecond

// SearchResult is the result set currently shown to the user
type SearchResult struct {
	Query    string           `json:"query"`
	Seq      uint64           `json:"seq"`
	Products []models.Product `json:"products"`
}

// SearchDebouncer turns query edits into at most one search per quiet period.
// Every dispatch takes a sequence number and a response is applied only if no
// later dispatch has been applied already.
type SearchDebouncer struct {
	catalog  *CatalogClient
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	seq     uint64
	applied uint64
	result  SearchResult
	stopped bool
}

// NewSearchDebouncer creates a debouncer; a non-positive interval uses DefaultSearchDebounce
func NewSearchDebouncer(catalog *CatalogClient, interval time.Duration) *SearchDebouncer {
	if interval <= 0 {
		interval = DefaultSearchDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SearchDebouncer{
		catalog:  catalog,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		logger:   util.GetLogger().With(zap.String("component", "search")),
	}
}

// OnQueryChange reschedules the pending search for text. An empty query resets
// the results to the cached catalog immediately and supersedes in-flight searches.
func (d *SearchDebouncer) OnQueryChange(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++

	if strings.TrimSpace(text) == "" {
		d.timer = nil
		d.seq++
		d.applyLocked(d.seq, "", d.catalog.Products())
		return
	}

	gen := d.gen
	d.timer = time.AfterFunc(d.interval, func() { d.fire(gen, text) })
}

// Results returns the applied result set, or the cached catalog before any query
func (d *SearchDebouncer) Results() SearchResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.applied == 0 {
		return SearchResult{Products: d.catalog.Products()}
	}
	return d.result
}

// Stop cancels the pending search and any in-flight request
func (d *SearchDebouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	d.cancel()
}

func (d *SearchDebouncer) fire(gen uint64, text string) {
	seq, ok := d.claim(gen)
	if !ok {
		return
	}
	d.run(d.ctx, seq, text)
}

// claim takes the next sequence number if gen is still the latest query
func (d *SearchDebouncer) claim(gen uint64) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || gen != d.gen {
		return 0, false
	}
	d.timer = nil
	d.seq++
	return d.seq, true
}

// run performs the search for seq and applies it unless superseded
func (d *SearchDebouncer) run(ctx context.Context, seq uint64, text string) bool {
	util.SearchesDispatchedTotal.Inc()
	d.logger.Debug("Dispatching search", zap.Uint64("seq", seq), zap.String("query", text))

	products := d.catalog.Search(ctx, text)

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applyLocked(seq, text, products)
}

func (d *SearchDebouncer) applyLocked(seq uint64, text string, products []models.Product) bool {
	if seq <= d.applied {
		util.SearchStaleDiscardedTotal.Inc()
		d.logger.Debug("Discarding stale search result",
			zap.Uint64("seq", seq),
			zap.Uint64("applied", d.applied),
			zap.String("query", text))
		return false
	}
	d.applied = seq
	d.result = SearchResult{Query: text, Seq: seq, Products: products}
	return true
}
