package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for one pagebridge process.
// A nil *Metrics is valid and records nothing, so components can treat
// metrics as optional.
type Metrics struct {
	// Injection metrics
	Injections        *prometheus.CounterVec
	InjectionFailures prometheus.Counter
	SerializedBytes   prometheus.Histogram
	SerializeErrors   prometheus.Counter

	// Hook manager metrics
	Loads       *prometheus.CounterVec
	BridgeCalls *prometheus.CounterVec

	// Page metrics
	PageScriptErrors prometheus.Counter
	PageScripts      prometheus.Counter

	// Transport metrics
	FetchRequests *prometheus.CounterVec
	FetchDuration prometheus.Histogram
}

// NewMetrics registers the collectors with reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Injections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagebridge_injections_total",
				Help: "Total number of script artifacts inserted into a page",
			},
			[]string{"retained"},
		),
		InjectionFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pagebridge_injection_failures_total",
				Help: "Total number of injections that found nothing to attach to",
			},
		),
		SerializedBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagebridge_serialized_bytes",
				Help:    "Size of composed artifact source text in bytes",
				Buckets: []float64{64, 256, 1024, 4096, 16384, 65536, 262144},
			},
		),
		SerializeErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pagebridge_serialization_errors_total",
				Help: "Total number of argument lists that could not be serialized",
			},
		),
		Loads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagebridge_hook_loads_total",
				Help: "Hook manager load attempts by outcome",
			},
			[]string{"result"},
		),
		BridgeCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagebridge_bridge_calls_total",
				Help: "Method calls relayed to hook manager instances",
			},
			[]string{"method"},
		),
		PageScriptErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pagebridge_page_script_errors_total",
				Help: "Uncaught exceptions raised by scripts running in a page",
			},
		),
		PageScripts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pagebridge_page_scripts_total",
				Help: "Script elements executed by pages",
			},
		),
		FetchRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagebridge_fetch_requests_total",
				Help: "Page fetch requests by HTTP status (0 for transport errors)",
			},
			[]string{"status"},
		),
		FetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagebridge_fetch_duration_seconds",
				Help:    "Page fetch round trip duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
	}
}

// RecordInjection counts one inserted artifact and the size of its source.
func (m *Metrics) RecordInjection(retained bool, sourceLen int) {
	if m == nil {
		return
	}
	m.Injections.WithLabelValues(strconv.FormatBool(retained)).Inc()
	m.SerializedBytes.Observe(float64(sourceLen))
}

// RecordInjectionFailure counts an injection with no attach point.
func (m *Metrics) RecordInjectionFailure() {
	if m == nil {
		return
	}
	m.InjectionFailures.Inc()
}

// RecordSerializeError counts an argument list rejected by the serializer.
func (m *Metrics) RecordSerializeError() {
	if m == nil {
		return
	}
	m.SerializeErrors.Inc()
}

// RecordLoad counts a hook manager load attempt; installed is false for
// attempts skipped because the load marker was already present.
func (m *Metrics) RecordLoad(installed bool) {
	if m == nil {
		return
	}
	result := "skipped"
	if installed {
		result = "installed"
	}
	m.Loads.WithLabelValues(result).Inc()
}

// RecordBridgeCall counts a relayed method call.
func (m *Metrics) RecordBridgeCall(method string) {
	if m == nil {
		return
	}
	m.BridgeCalls.WithLabelValues(method).Inc()
}

// RecordPageScript counts an executed script element and whether it threw.
func (m *Metrics) RecordPageScript(failed bool) {
	if m == nil {
		return
	}
	m.PageScripts.Inc()
	if failed {
		m.PageScriptErrors.Inc()
	}
}

// RecordFetch counts a page fetch and its latency.
func (m *Metrics) RecordFetch(status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.FetchRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	m.FetchDuration.Observe(duration.Seconds())
}
