// Package metrics exposes Prometheus collectors for runtime preparation and
// adapter construction.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collectors groups the loader's metrics. A nil *Collectors records nothing.
type Collectors struct {
	Initializations    *prometheus.CounterVec
	InitializationTime prometheus.Histogram
	NativeFiles        prometheus.Gauge
	Constructions      *prometheus.CounterVec
}

func New() *Collectors {
	return &Collectors{
		Initializations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sdkloader_initializations_total",
				Help: "Number of runtime initialization attempts by result",
			},
			[]string{"result"},
		),
		InitializationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sdkloader_initialization_seconds",
			Help:    "Duration of runtime initialization attempts",
			Buckets: prometheus.DefBuckets,
		}),
		NativeFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sdkloader_native_files",
			Help: "Number of native files extracted by the last successful initialization",
		}),
		Constructions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sdkloader_constructions_total",
				Help: "Number of adapter command constructions by result",
			},
			[]string{"result"},
		),
	}
}

// Register adds every collector to registerer.
func (c *Collectors) Register(registerer prometheus.Registerer) error {
	return errors.Join(
		registerer.Register(c.Initializations),
		registerer.Register(c.InitializationTime),
		registerer.Register(c.NativeFiles),
		registerer.Register(c.Constructions),
	)
}

// MustRegister is like Register but panics on error.
func (c *Collectors) MustRegister(registerer prometheus.Registerer) *Collectors {
	if err := c.Register(registerer); err != nil {
		panic(err)
	}
	return c
}

// ObserveInitialization records one initialization attempt.
func (c *Collectors) ObserveInitialization(start time.Time, nativeFiles int, err error) {
	if c == nil {
		return
	}
	c.InitializationTime.Observe(time.Since(start).Seconds())
	if err != nil {
		c.Initializations.WithLabelValues(ResultFailure).Inc()
		return
	}
	c.Initializations.WithLabelValues(ResultSuccess).Inc()
	c.NativeFiles.Set(float64(nativeFiles))
}

// ObserveConstruction records one construction attempt.
func (c *Collectors) ObserveConstruction(err error) {
	if c == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	c.Constructions.WithLabelValues(result).Inc()
}
