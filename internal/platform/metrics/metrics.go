package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the Prometheus instruments for the lifecycle engine. A nil
// Collector is valid and records nothing.
type Collector struct {
	sweeps             *prometheus.CounterVec
	sweepDuration      prometheus.Histogram
	transitions        *prometheus.CounterVec
	recordsAdopted     prometheus.Counter
	recordsErased      prometheus.Counter
	eraseFailures      prometheus.Counter
	lockContention     prometheus.Counter
	certificatesIssued prometheus.Counter
}

func New() *Collector {
	return &Collector{
		sweeps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traindesk_retention_sweeps_total",
				Help: "Sweep cycles by outcome",
			},
			[]string{"result"},
		),
		sweepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "traindesk_retention_sweep_duration_seconds",
				Help:    "Duration of partition sweep cycles",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		transitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traindesk_retention_transitions_total",
				Help: "Lifecycle record transitions by target state",
			},
			[]string{"state"},
		),
		recordsAdopted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "traindesk_retention_records_adopted_total",
				Help: "Governed resources adopted into lifecycle records",
			},
		),
		recordsErased: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "traindesk_retention_records_erased_total",
				Help: "Records that reached securely_erased",
			},
		),
		eraseFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "traindesk_retention_erase_failures_total",
				Help: "Failed secure-erase attempts",
			},
		),
		lockContention: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "traindesk_retention_lock_contention_total",
				Help: "Partition sweeps skipped because the lock was held elsewhere",
			},
		),
		certificatesIssued: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "traindesk_retention_certificates_issued_total",
				Help: "Secure deletion certificates issued",
			},
		),
	}
}

func (c *Collector) ObserveSweep(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.sweeps.WithLabelValues(result).Inc()
	c.sweepDuration.Observe(d.Seconds())
}

func (c *Collector) Transition(state string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(state).Inc()
}

func (c *Collector) RecordsAdopted(n int) {
	if c == nil {
		return
	}
	c.recordsAdopted.Add(float64(n))
}

func (c *Collector) RecordsErased(n int) {
	if c == nil {
		return
	}
	c.recordsErased.Add(float64(n))
}

func (c *Collector) EraseFailure() {
	if c == nil {
		return
	}
	c.eraseFailures.Inc()
}

func (c *Collector) LockContention() {
	if c == nil {
		return
	}
	c.lockContention.Inc()
}

func (c *Collector) CertificateIssued() {
	if c == nil {
		return
	}
	c.certificatesIssued.Inc()
}
