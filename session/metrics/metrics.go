// Package metrics exposes prometheus collectors for session activity.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "xfer"

// Collector holds the collectors of one session. A nil *Collector
// discards every observation.
type Collector struct {
	TasksCreated     *prometheus.CounterVec
	TasksCompleted   *prometheus.CounterVec
	BytesReceived    prometheus.Counter
	BytesSent        prometheus.Counter
	ActiveTransfers  prometheus.Gauge
	TransferDuration *prometheus.HistogramVec
	AuthChallenges   prometheus.Counter
}

func New() *Collector {
	return &Collector{
		TasksCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_created_total",
				Help:      "Count of tasks created, by kind.",
			},
			[]string{"kind"},
		),
		TasksCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_completed_total",
				Help:      "Count of tasks completed, by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		BytesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_received_total",
				Help:      "Response body bytes received.",
			},
		),
		BytesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_sent_total",
				Help:      "Request body bytes sent.",
			},
		),
		ActiveTransfers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_transfers",
				Help:      "Number of transfers currently holding a transport slot.",
			},
		),
		TransferDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transfer_duration_seconds",
				Help:      "Time from first resume to completion, by protocol scheme.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
			},
			[]string{"scheme"},
		),
		AuthChallenges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_challenges_total",
				Help:      "Authentication challenges received.",
			},
		),
	}
}

// Register registers every collector with reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	var errs []error
	for _, col := range c.collectors() {
		if err := reg.Register(col); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.TasksCreated, c.TasksCompleted, c.BytesReceived, c.BytesSent,
		c.ActiveTransfers, c.TransferDuration, c.AuthChallenges,
	}
}

func (c *Collector) TaskCreated(kind string) {
	if c == nil {
		return
	}
	c.TasksCreated.WithLabelValues(kind).Inc()
}

func (c *Collector) TaskCompleted(kind, outcome string) {
	if c == nil {
		return
	}
	c.TasksCompleted.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) Received(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.BytesReceived.Add(float64(n))
}

func (c *Collector) Sent(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.BytesSent.Add(float64(n))
}

// TransferStarted and TransferDone bracket a transport slot.
func (c *Collector) TransferStarted() {
	if c == nil {
		return
	}
	c.ActiveTransfers.Inc()
}

func (c *Collector) TransferDone() {
	if c == nil {
		return
	}
	c.ActiveTransfers.Dec()
}

func (c *Collector) ObserveDuration(scheme string, d time.Duration) {
	if c == nil {
		return
	}
	c.TransferDuration.WithLabelValues(scheme).Observe(d.Seconds())
}

func (c *Collector) AuthChallenge() {
	if c == nil {
		return
	}
	c.AuthChallenges.Inc()
}
