// Package metrics provides Prometheus instrumentation for the flow monitor.
//
// Metrics exposed:
//   - aquaflow_readings_total: Counter of flow readings by channel
//   - aquaflow_dropped_events_total: Counter of store notifications dropped by a full queue
//   - aquaflow_snapshot_writes_total: Counter of usage snapshot writes
//   - aquaflow_store_errors_total: Counter of store failures by operation
//   - aquaflow_pump_commands_total: Counter of pump commands by state
//   - aquaflow_flow_lpm: Gauge of instantaneous flow in liters per minute by sensor
//   - aquaflow_total_liters / aquaflow_total_price: Gauges of accumulated usage
//   - aquaflow_leak_normal: 1 when both sensors agree, 0 otherwise
//   - aquaflow_ready: 1 once the usage baseline is loaded
//   - aquaflow_http_requests_total / aquaflow_http_request_duration_seconds
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quentinrf/aquaflow/internal/domain"
	"github.com/quentinrf/aquaflow/internal/ports"
)

type Metrics struct {
	ReadingsTotal       *prometheus.CounterVec
	DroppedEventsTotal  *prometheus.CounterVec
	SnapshotWritesTotal prometheus.Counter
	StoreErrorsTotal    *prometheus.CounterVec
	PumpCommandsTotal   *prometheus.CounterVec
	FlowLPM             *prometheus.GaugeVec
	TotalLiters         prometheus.Gauge
	TotalPrice          prometheus.Gauge
	LeakNormal          prometheus.Gauge
	Ready               prometheus.Gauge
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every metric on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReadingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aquaflow_readings_total",
			Help: "Total number of flow readings received by channel",
		}, []string{"channel"}),

		DroppedEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aquaflow_dropped_events_total",
			Help: "Store notifications dropped because the event queue was full",
		}, []string{"channel"}),

		SnapshotWritesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "aquaflow_snapshot_writes_total",
			Help: "Total number of usage snapshot writes",
		}),

		StoreErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aquaflow_store_errors_total",
			Help: "Total number of state store failures by operation",
		}, []string{"op"}),

		PumpCommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aquaflow_pump_commands_total",
			Help: "Total number of pump commands sent by state",
		}, []string{"state"}),

		FlowLPM: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aquaflow_flow_lpm",
			Help: "Latest instantaneous flow in liters per minute",
		}, []string{"sensor"}),

		TotalLiters: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aquaflow_total_liters",
			Help: "Accumulated water usage in liters",
		}),

		TotalPrice: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aquaflow_total_price",
			Help: "Price of the accumulated water usage",
		}),

		LeakNormal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aquaflow_leak_normal",
			Help: "1 when the two flow sensors agree, 0 when a leak is suspected",
		}),

		Ready: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aquaflow_ready",
			Help: "1 once the usage baseline has been loaded",
		}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aquaflow_http_requests_total",
			Help: "Total number of HTTP requests served",
		}, []string{"route", "method", "status"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aquaflow_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

func (m *Metrics) RecordReading(channel domain.Channel) {
	m.ReadingsTotal.WithLabelValues(string(channel)).Inc()
}

func (m *Metrics) RecordDroppedEvent(channel domain.Channel) {
	m.DroppedEventsTotal.WithLabelValues(string(channel)).Inc()
}

func (m *Metrics) RecordSnapshotWrite() {
	m.SnapshotWritesTotal.Inc()
}

func (m *Metrics) RecordStoreError(op string) {
	m.StoreErrorsTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordPumpCommand(cmd domain.PumpCommand) {
	m.PumpCommandsTotal.WithLabelValues(string(cmd)).Inc()
}

// Render mirrors the dashboard view into gauges
func (m *Metrics) Render(v ports.View) {
	m.FlowLPM.WithLabelValues("1").Set(v.Reading1 * 1000 / 60)
	m.FlowLPM.WithLabelValues("2").Set(v.Reading2 * 1000 / 60)
	m.TotalLiters.Set(v.Usage.TotalLiters)
	m.TotalPrice.Set(v.Usage.TotalPrice)
	m.LeakNormal.Set(boolToFloat(v.Leak == domain.LeakNormal))
	m.Ready.Set(boolToFloat(v.Ready))
}

func (m *Metrics) ObserveHTTPRequest(route, method string, status int, dur time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
