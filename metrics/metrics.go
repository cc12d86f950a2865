package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ethereum-optimism/infra/op-reporter/types"
)

const (
	MetricsNamespace = "op_reporter"
)

var nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z ]+`)

// Metricer records the reporting pipeline's activity.
type Metricer interface {
	RecordOperation(op string, d time.Duration, err error)
	RecordEnqueued()
	RecordSettled()
	RecordItem(kind types.ItemKind, status types.Status)
	RecordDrain(d time.Duration, result string)
	RecordTests(passed, failed, skipped int)
	RecordErrorDetails(label string, err error)
}

// Metrics is the prometheus backed Metricer.
type Metrics struct {
	registry *prometheus.Registry
	factory  opmetrics.Factory

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	outstanding       prometheus.Gauge
	items             *prometheus.CounterVec
	drainDuration     prometheus.Gauge
	drains            *prometheus.CounterVec
	tests             *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
}

var _ Metricer = (*Metrics)(nil)

func NewMetrics() *Metrics {
	registry := opmetrics.NewRegistry()
	factory := opmetrics.With(registry)
	return &Metrics{
		registry: registry,
		factory:  factory,

		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "operations_total",
			Help:      "Count of collector operations by type and result",
		}, []string{"op", "result"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of collector operations",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"op"}),
		outstanding: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "outstanding_operations",
			Help:      "Number of enqueued collector operations not yet settled",
		}),
		items: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "items_total",
			Help:      "Count of finished report items by kind and status",
		}, []string{"kind", "status"}),
		drainDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "drain_duration_seconds",
			Help:      "Duration of the last final drain",
		}),
		drains: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "drains_total",
			Help:      "Count of final drains by result",
		}, []string{"result"}),
		tests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "tests_total",
			Help:      "Count of reported tests by result",
		}, []string{"result"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "errors_total",
			Help:      "Count of errors",
		}, []string{"error"}),
	}
}

// Registry returns the registry the metrics are registered in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Document lists the registered metrics.
func (m *Metrics) Document() []opmetrics.DocumentedMetric {
	return m.factory.Document()
}

func (m *Metrics) RecordOperation(op string, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Outstanding is the gauge of enqueued operations that have not settled.
func (m *Metrics) Outstanding() prometheus.Gauge {
	return m.outstanding
}

func (m *Metrics) RecordEnqueued() {
	m.outstanding.Inc()
}

func (m *Metrics) RecordSettled() {
	m.outstanding.Dec()
}

func (m *Metrics) RecordItem(kind types.ItemKind, status types.Status) {
	m.items.WithLabelValues(string(kind), string(status)).Inc()
}

func (m *Metrics) RecordDrain(d time.Duration, result string) {
	m.drainDuration.Set(d.Seconds())
	m.drains.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordTests(passed, failed, skipped int) {
	m.tests.WithLabelValues("passed").Add(float64(passed))
	m.tests.WithLabelValues("failed").Add(float64(failed))
	m.tests.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func (m *Metrics) RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	log.Debug("metric inc", "m", "errors_total", "error", label)
	m.errorsTotal.WithLabelValues(label).Inc()
}

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

type noopMetrics struct{}

// NoopMetrics discards everything.
var NoopMetrics Metricer = noopMetrics{}

func (noopMetrics) RecordOperation(string, time.Duration, error) {}
func (noopMetrics) RecordEnqueued()                              {}
func (noopMetrics) RecordSettled()                               {}
func (noopMetrics) RecordItem(types.ItemKind, types.Status)      {}
func (noopMetrics) RecordDrain(time.Duration, string)            {}
func (noopMetrics) RecordTests(int, int, int)                    {}
func (noopMetrics) RecordErrorDetails(string, error)             {}
