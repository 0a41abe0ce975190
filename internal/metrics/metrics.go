// Package metrics exports repository operations as Prometheus metrics
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/lemmego/fluid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements fluid.Observer
type Collector struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	gatherer   prometheus.Gatherer
}

var _ fluid.Observer = (*Collector)(nil)

// NewCollector registers the operation metrics on reg
func NewCollector(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluid_operations_total",
				Help: "Total number of repository operations",
			},
			[]string{"collection", "operation", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluid_operation_duration_seconds",
				Help:    "Repository operation duration in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"collection", "operation"},
		),
		gatherer: reg,
	}
}

// ObserveOperation records one repository call
func (c *Collector) ObserveOperation(collection, operation string, duration time.Duration, err error) {
	c.operations.WithLabelValues(collection, operation, Outcome(err)).Inc()
	c.duration.WithLabelValues(collection, operation).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Outcome labels an operation result: "ok" or the fluid error type
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var ferr fluid.Error
	if errors.As(err, &ferr) {
		return string(ferr.Type)
	}
	return "error"
}
