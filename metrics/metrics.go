package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/txix-open/isp-kit/metrics"
)

// Storage holds counters for subsystem events that must stay observable
// even when the corresponding errors are swallowed (increment bookkeeping
// failures in particular). Collectors are registered once; repeated
// construction reuses them.
type Storage struct {
	quotaRejections     prometheus.Counter
	rateLimitRejections prometheus.Counter
	incrementFailures   prometheus.Counter
	transactionRetries  prometheus.Counter
}

func NewStorage() *Storage {
	registry := metrics.DefaultRegistry
	return &Storage{
		quotaRejections: metrics.GetOrRegister(registry, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quota",
			Subsystem: "tool",
			Name:      "rejections_total",
			Help:      "Count of tool calls rejected by the quota check",
		})),
		rateLimitRejections: metrics.GetOrRegister(registry, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quota",
			Subsystem: "rate_limit",
			Name:      "rejections_total",
			Help:      "Count of requests rejected by the ip rate limiter",
		})),
		incrementFailures: metrics.GetOrRegister(registry, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quota",
			Subsystem: "tool",
			Name:      "increment_failures_total",
			Help:      "Count of usage recordings that failed after the tool call succeeded",
		})),
		transactionRetries: metrics.GetOrRegister(registry, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quota",
			Subsystem: "store",
			Name:      "transaction_retries_total",
			Help:      "Count of store transaction conflicts that were retried",
		})),
	}
}

func (s *Storage) QuotaRejected() {
	s.quotaRejections.Inc()
}

func (s *Storage) RateLimitRejected() {
	s.rateLimitRejections.Inc()
}

func (s *Storage) IncrementFailed() {
	s.incrementFailures.Inc()
}

func (s *Storage) TransactionRetried() {
	s.transactionRetries.Inc()
}
