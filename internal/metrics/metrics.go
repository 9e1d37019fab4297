// Package metrics exports Prometheus metrics for one engine run: token and
// premium-request budget consumption, and guardrail verdict counts.
//
// Grounded on the teacher's internal/metrics package (Namespace/Subsystem
// CounterVec/GaugeVec shape, promauto construction), but reshaped from a
// Gin-middleware singleton (internal/metrics/middleware.go's
// PrometheusMiddleware registering against a global HTTP server) into a
// single prometheus.Collector value the host process registers itself —
// this engine is a one-shot CLI, not a server, so there is no always-on
// /metrics endpoint to own (per SPEC_FULL.md's DOMAIN STACK: "exposed as a
// Collector the host process can register"). Collect() and RecordVerdicts()
// only read from internal/budget and internal/guardrail; neither ever
// feeds back into their control flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/DigiBanks99/lopen/internal/budget"
	"github.com/DigiBanks99/lopen/internal/guardrail"
)

// Collector implements prometheus.Collector for one module run's budget
// tracker and guardrail verdict history. A Collector is safe to register
// exactly once with a prometheus.Registerer; Describe/Collect are called
// concurrently by the Prometheus client on every scrape.
type Collector struct {
	tracker *budget.Tracker

	tokensConsumed  *prometheus.Desc
	tokensBudget    *prometheus.Desc
	premiumConsumed *prometheus.Desc
	premiumBudget   *prometheus.Desc

	verdicts *prometheus.CounterVec
}

// NewCollector builds a Collector reporting tracker's snapshot on every
// scrape. The returned Collector also owns the guardrail verdict counter;
// call RecordVerdicts after every guardrail.Pipeline.Run.
func NewCollector(tracker *budget.Tracker) *Collector {
	return &Collector{
		tracker: tracker,
		tokensConsumed: prometheus.NewDesc(
			"lopen_budget_tokens_consumed",
			"Tokens consumed so far in this module run.",
			[]string{"module"}, nil,
		),
		tokensBudget: prometheus.NewDesc(
			"lopen_budget_tokens_limit",
			"Configured token budget for this module run (0 = unlimited).",
			[]string{"module"}, nil,
		),
		premiumConsumed: prometheus.NewDesc(
			"lopen_budget_premium_requests_consumed",
			"Premium-tier LLM requests consumed so far in this module run.",
			[]string{"module"}, nil,
		),
		premiumBudget: prometheus.NewDesc(
			"lopen_budget_premium_requests_limit",
			"Configured premium-request budget for this module run (0 = unlimited).",
			[]string{"module"}, nil,
		),
		verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lopen_guardrail_verdicts_total",
				Help: "Guardrail evaluations by guardrail name and verdict.",
			},
			[]string{"guardrail", "verdict"},
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tokensConsumed
	ch <- c.tokensBudget
	ch <- c.premiumConsumed
	ch <- c.premiumBudget
	c.verdicts.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.tracker.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.tokensConsumed, prometheus.GaugeValue, float64(snap.TokensConsumed), snap.ModuleID)
	ch <- prometheus.MustNewConstMetric(c.tokensBudget, prometheus.GaugeValue, float64(snap.TokenBudget), snap.ModuleID)
	ch <- prometheus.MustNewConstMetric(c.premiumConsumed, prometheus.GaugeValue, float64(snap.PremiumUsed), snap.ModuleID)
	ch <- prometheus.MustNewConstMetric(c.premiumBudget, prometheus.GaugeValue, float64(snap.PremiumBudget), snap.ModuleID)
	c.verdicts.Collect(ch)
}

// RecordVerdicts increments the verdict counter for every result in agg.
// Call this once per iteration, right after guardrail.Pipeline.Run.
func (c *Collector) RecordVerdicts(agg guardrail.Aggregate) {
	for _, r := range agg.Results {
		c.verdicts.WithLabelValues(r.Name, r.Verdict.String()).Inc()
	}
}
