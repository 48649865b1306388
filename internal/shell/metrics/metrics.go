// Package metrics exposes deployment outcomes as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artpar/rollout/internal/core/domain"
)

const namespace = "rollout"

// Recorder holds the deployment metrics. It satisfies rollout.StepObserver.
type Recorder struct {
	registry *prometheus.Registry

	deploymentsTotal  *prometheus.CounterVec
	deploymentSeconds *prometheus.HistogramVec
	stepsTotal        *prometheus.CounterVec
	inFlight          *prometheus.GaugeVec
	rollbacksTotal    *prometheus.CounterVec
}

// New creates a Recorder registered on reg. A nil reg gets a fresh registry
// so tests and multiple servers never collide on the global one.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Recorder{
		registry: reg,
		deploymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_total",
				Help:      "Deployments finished, by strategy and status",
			},
			[]string{"platform", "strategy", "status"},
		),
		deploymentSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deployment_duration_seconds",
				Help:      "Wall time of a deployment run",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"strategy", "status"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Execution steps recorded, by strategy, step and outcome",
			},
			[]string{"strategy", "step", "success"},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "deployments_in_flight",
				Help:      "Deployments currently executing",
			},
			[]string{"strategy"},
		),
		rollbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Manual rollbacks, by platform and status",
			},
			[]string{"platform", "status"},
		),
	}

	reg.MustRegister(r.deploymentsTotal, r.deploymentSeconds, r.stepsTotal, r.inFlight, r.rollbacksTotal)
	return r
}

// Started marks a deployment as in flight and returns the func that ends it.
func (r *Recorder) Started(strategy domain.Strategy) func() {
	g := r.inFlight.WithLabelValues(string(strategy))
	g.Inc()
	return g.Dec
}

// ObserveStep counts one recorded step.
func (r *Recorder) ObserveStep(strategy domain.Strategy, step domain.ExecutionStep) {
	r.stepsTotal.WithLabelValues(string(strategy), stepLabel(step.Name), strconv.FormatBool(step.Success)).Inc()
}

// ObserveResult counts a finished deployment and its duration.
func (r *Recorder) ObserveResult(res domain.DeploymentResult) {
	strategy := string(res.Strategy)
	status := string(res.Status)
	r.deploymentsTotal.WithLabelValues(string(res.Platform), strategy, status).Inc()

	if !res.StartedAt.IsZero() && !res.FinishedAt.IsZero() {
		r.deploymentSeconds.WithLabelValues(strategy, status).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	}
}

// ObserveRollback counts a manual rollback.
func (r *Recorder) ObserveRollback(platform domain.Platform, res domain.RollbackResult) {
	r.rollbacksTotal.WithLabelValues(string(platform), string(res.Status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Timeout: 10 * time.Second})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// stepLabel folds canary percentages into one label value to keep the
// series count bounded.
func stepLabel(name string) string {
	if strings.HasPrefix(name, "canary_") && strings.HasSuffix(name, "%") {
		return "canary_step"
	}
	return name
}
