// Package metrics exposes prometheus collectors for the engine. A nil
// *Collector is valid everywhere and records nothing, so metrics stay
// optional.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector bundles the engine's prometheus instruments.
type Collector struct {
	sessionsActive     prometheus.Gauge
	sessionsEvicted    *prometheus.CounterVec
	actionsTotal       *prometheus.CounterVec
	actionDuration     *prometheus.HistogramVec
	recoveryAttempts   *prometheus.CounterVec
	rateLimitRejected  prometheus.Counter
	patternsLearned    prometheus.Counter
	navigationsBlocked prometheus.Counter
}

// NewCollector registers the engine's instruments on the given registerer.
// Pass prometheus.DefaultRegisterer for the usual global registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "siteflow",
			Name:      "sessions_active",
			Help:      "Currently open browser sessions.",
		}),
		sessionsEvicted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteflow",
			Name:      "sessions_evicted_total",
			Help:      "Sessions evicted from the pool, by reason.",
		}, []string{"reason"}),
		actionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteflow",
			Name:      "actions_total",
			Help:      "Browser actions executed, by kind and status.",
		}, []string{"kind", "status"}),
		actionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "siteflow",
			Name:      "action_duration_seconds",
			Help:      "Browser action latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		recoveryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteflow",
			Name:      "recovery_attempts_total",
			Help:      "Error-recovery strategy attempts, by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		rateLimitRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "siteflow",
			Name:      "rate_limit_rejections_total",
			Help:      "User actions rejected by the rate limiter.",
		}),
		patternsLearned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "siteflow",
			Name:      "patterns_learned_total",
			Help:      "Site patterns saved after successful workflows.",
		}),
		navigationsBlocked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "siteflow",
			Name:      "navigations_blocked_total",
			Help:      "Navigation targets rejected by the URL guard.",
		}),
	}
}

func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
}

func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
}

// SessionEvicted records one eviction. Reason is "idle", "capacity", or
// "explicit".
func (c *Collector) SessionEvicted(reason string) {
	if c == nil {
		return
	}
	c.sessionsEvicted.WithLabelValues(reason).Inc()
}

func (c *Collector) ActionExecuted(kind string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	c.actionsTotal.WithLabelValues(kind, status).Inc()
	c.actionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (c *Collector) RecoveryAttempt(strategy string, success bool) {
	if c == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.recoveryAttempts.WithLabelValues(strategy, outcome).Inc()
}

func (c *Collector) RateLimitRejected() {
	if c == nil {
		return
	}
	c.rateLimitRejected.Inc()
}

func (c *Collector) PatternLearned() {
	if c == nil {
		return
	}
	c.patternsLearned.Inc()
}

func (c *Collector) NavigationBlocked() {
	if c == nil {
		return
	}
	c.navigationsBlocked.Inc()
}
