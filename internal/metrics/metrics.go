// Package metrics holds the Prometheus instrumentation for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// PollSuccess counts successful fetch cycles per meter.
	PollSuccess = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "youless_poll_success_total",
			Help: "Number of successful fetch cycles",
		},
		[]string{"meter"},
	)

	// PollFailure counts failed fetch cycles per meter.
	PollFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "youless_poll_failure_total",
			Help: "Number of failed fetch cycles",
		},
		[]string{"meter"},
	)

	// ConsecutiveErrors tracks the session's current error streak.
	ConsecutiveErrors = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "youless_consecutive_errors",
			Help: "Consecutive fetch failures since the last success",
		},
		[]string{"meter"},
	)

	// LastSuccessTimestamp is the unix time of the last successful cycle.
	LastSuccessTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "youless_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful fetch cycle",
		},
		[]string{"meter"},
	)

	// Power reports the last measured power draw per meter.
	Power = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "youless_power_watts",
			Help: "Last measured power in watts (negative while generating)",
		},
		[]string{"meter"},
	)

	// DiscoveryDuration is the wall time of the last discovery scan.
	DiscoveryDuration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "youless_discovery_duration_seconds",
			Help: "Duration of the last discovery scan",
		},
	)

	// DiscoveryDevices is the device count of the last discovery scan.
	DiscoveryDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "youless_discovery_devices",
			Help: "Meters found by the last discovery scan",
		},
	)

	// MQTTPublishFailures counts failed or timed-out MQTT publishes.
	MQTTPublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "youless_mqtt_publish_failures_total",
			Help: "Number of MQTT publishes that failed or timed out",
		},
	)
)

// NewRegistry creates a registry with all bridge collectors plus the
// standard process and Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		PollSuccess,
		PollFailure,
		ConsecutiveErrors,
		LastSuccessTimestamp,
		Power,
		DiscoveryDuration,
		DiscoveryDevices,
		MQTTPublishFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
