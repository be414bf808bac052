// Package metrics records custodian operation outcomes with Prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jmcleod/ironkeep/custodian"
	"github.com/jmcleod/ironkeep/keystore"
)

const namespace = "ironkeep"

// Recorder implements custodian.Observer.
type Recorder struct {
	registry          *prometheus.Registry
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

var _ custodian.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "custodian",
				Name:      "operations_total",
				Help:      "Total number of custodian operations by outcome",
			},
			[]string{"op", "result"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "custodian",
				Name:      "operation_duration_seconds",
				Help:      "Custodian operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
}

// Observe records one operation. The alias is deliberately not a label.
func (r *Recorder) Observe(op, _ string, elapsed time.Duration, err error) {
	r.operationsTotal.WithLabelValues(op, Result(err)).Inc()
	r.operationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Result classifies an operation error into a low-cardinality label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, keystore.ErrKeyInvalidated):
		return "key_invalidated"
	case errors.Is(err, custodian.ErrKeyProvisioning):
		return "provisioning_error"
	case errors.Is(err, custodian.ErrEncryption):
		return "encryption_error"
	case errors.Is(err, custodian.ErrDecryption):
		return "decryption_error"
	default:
		return "error"
	}
}

// Gatherer exposes the recorder's registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteToTextfile writes the metrics in the node-exporter textfile format.
func (r *Recorder) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
