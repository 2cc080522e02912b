package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "splitledger"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Factory metrics
	ProtocolsCreated prometheus.Counter
	CreationFees     prometheus.Counter

	// Split metrics
	SplitsCreated     prometheus.Counter
	SplitsDeactivated prometheus.Counter

	// Distribution metrics
	Deposits            prometheus.Counter
	DepositAmount       prometheus.Histogram
	FeesAccrued         prometheus.Counter
	Distributions       prometheus.Counter
	DistributionAmount  prometheus.Histogram
	DistributionErrors  *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	FeeWithdrawals      prometheus.Counter
	FeeWithdrawalAmount prometheus.Counter

	// Outbox metrics
	EventsPublished prometheus.Counter
	PublishErrors   prometheus.Counter

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec

	// Idempotency metrics
	IdempotentReplays prometheus.Counter
}

// New creates and registers all Prometheus metrics on the default registerer
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates all Prometheus metrics and registers them on reg
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	// Amounts are base units; buckets span 1e9 to 1e24 base units.
	amountBuckets := prometheus.ExponentialBuckets(1e9, 10, 16)

	return &Metrics{
		ProtocolsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocols_created_total",
			Help:      "Total number of protocols created by the factory",
		}),
		CreationFees: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "creation_fees_total",
			Help:      "Total creation payments received by the factory, in base units",
		}),

		SplitsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "splits_created_total",
			Help:      "Total number of splits created",
		}),
		SplitsDeactivated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "splits_deactivated_total",
			Help:      "Total number of splits deactivated",
		}),

		Deposits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_total",
			Help:      "Total number of deposits",
		}),
		DepositAmount: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deposit_amount",
			Help:      "Gross deposit amounts in base units",
			Buckets:   amountBuckets,
		}),
		FeesAccrued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fees_accrued_total",
			Help:      "Total protocol fees accrued, in base units",
		}),
		Distributions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distributions_total",
			Help:      "Total number of distributions",
		}),
		DistributionAmount: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "distribution_amount",
			Help:      "Distributed amounts in base units",
			Buckets:   amountBuckets,
		}),
		DistributionErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "distribution_errors_total",
				Help:      "Total number of failed distribution engine operations by type",
			},
			[]string{"error_type"},
		),
		OperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of ledger operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		FeeWithdrawals: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_withdrawals_total",
			Help:      "Total number of protocol fee withdrawals",
		}),
		FeeWithdrawalAmount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_withdrawal_amount_total",
			Help:      "Total protocol fees withdrawn, in base units",
		}),

		EventsPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total outbox events published",
		}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "Total outbox events that failed to publish",
		}),

		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		RateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Total rate limit hits",
			},
			[]string{"method"},
		),

		IdempotentReplays: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotent_replays_total",
			Help:      "Total requests answered from a stored idempotent response",
		}),
	}
}
