// Package metrics instruments runs and iterations with Prometheus.
//
// Collectors live on a private registry so tests and multiple runs in one
// process never collide on the global default registry.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives run and iteration observations.
type Recorder interface {
	IterationFinished(success bool, elapsed time.Duration, records int)
	IterationsInFlight(delta int)
	RunFinished(crashed bool)
	UnmatchedColumns(n int)
}

// Nop is a Recorder that records nothing.
type Nop struct{}

func (Nop) IterationFinished(bool, time.Duration, int) {}
func (Nop) IterationsInFlight(int) {}
func (Nop) RunFinished(bool) {}
func (Nop) UnmatchedColumns(int) {}

// Prometheus is a Recorder backed by client_golang collectors.
type Prometheus struct {
	reg *prometheus.Registry

	iterations *prometheus.CounterVec   // simrun_iterations_total
	duration   *prometheus.HistogramVec // simrun_iteration_duration_seconds
	records    prometheus.Counter       // simrun_records_total
	inFlight   prometheus.Gauge         // simrun_iterations_in_flight
	runs       *prometheus.CounterVec   // simrun_runs_total
	unmatched  prometheus.Counter       // simrun_unmatched_columns_total
}

// NewPrometheus builds the collectors on a fresh registry.
func NewPrometheus() (*Prometheus, error) {
	p := &Prometheus{
		reg: prometheus.NewRegistry(),
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simrun_iterations_total",
			Help: "Finished engine iterations by status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "simrun_iteration_duration_seconds",
			Help:    "Wall time of engine iterations by status.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"status"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simrun_records_total",
			Help: "Normalized records produced by successful iterations.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simrun_iterations_in_flight",
			Help: "Engine processes currently running.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simrun_runs_total",
			Help: "Finished runs by outcome.",
		}, []string{"outcome"}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simrun_unmatched_columns_total",
			Help: "Output columns that matched no record field.",
		}),
	}

	for _, c := range []prometheus.Collector{p.iterations, p.duration, p.records, p.inFlight, p.runs, p.unmatched} {
		if err := p.reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return p, nil
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// IterationFinished implements Recorder.
func (p *Prometheus) IterationFinished(success bool, elapsed time.Duration, records int) {
	s := status(success)
	p.iterations.WithLabelValues(s).Inc()
	p.duration.WithLabelValues(s).Observe(elapsed.Seconds())
	if success {
		p.records.Add(float64(records))
	}
}

// IterationsInFlight implements Recorder.
func (p *Prometheus) IterationsInFlight(delta int) {
	p.inFlight.Add(float64(delta))
}

// RunFinished implements Recorder.
func (p *Prometheus) RunFinished(crashed bool) {
	outcome := "completed"
	if crashed {
		outcome = "crashed"
	}
	p.runs.WithLabelValues(outcome).Inc()
}

// UnmatchedColumns implements Recorder.
func (p *Prometheus) UnmatchedColumns(n int) {
	p.unmatched.Add(float64(n))
}

// Registry exposes the registry for scraping or tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}
