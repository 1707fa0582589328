package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RemoteRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_remote_request_duration_seconds",
		Help:    "Latency of calls to the storefront backend",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "outcome"})

	CartMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_cart_mutations_total",
		Help: "Cart mutations by result",
	}, []string{"kind", "result"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "storefront_mutation_queue_depth",
		Help: "Commands waiting or running in a serialized mutation queue",
	}, []string{"queue"})

	CartReconcileMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_cart_reconcile_misses_total",
		Help: "Cart entries dropped because their product is missing from the catalog",
	})

	SearchesDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_searches_dispatched_total",
		Help: "Debounced searches sent to the catalog service",
	})

	SearchStaleDiscardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_search_stale_discarded_total",
		Help: "Search responses discarded because a newer query was already applied",
	})

	AddressMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_address_mutations_total",
		Help: "Address add/delete operations by result",
	}, []string{"kind", "result"})

	CheckoutAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_checkout_attempts_total",
		Help: "Order placement attempts by outcome",
	}, []string{"outcome"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_notifications_total",
		Help: "User-visible notifications by variant",
	}, []string{"variant"})

	ReceiptsStoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_receipts_stored_total",
		Help: "Order receipts persisted by the receipt worker",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
