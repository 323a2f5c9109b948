package metrics

import (
	"time"

	"github.com/mailrelay/mailrelay/internal/observability"
)

// Relay metric names
const (
	RequestsTotal      = "relay_requests_total"
	RateLimitedTotal   = "relay_rate_limited_total"
	AuthFailuresTotal  = "relay_auth_failures_total"
	SendDuration       = "relay_send_duration_ms"
	TrackedIdentities  = "relay_tracked_identities"
	DeliveryLogErrors  = "relay_delivery_log_errors_total"
	HealthCheckTotal   = "app_health_check_total"
	HealthCheckLatency = "app_health_check_duration_ms"
	ServerStartTime    = "app_server_start_time_seconds"
)

// RecordRequest counts a /send-email request by outcome, e.g. "sent",
// "rate_limited", "transport_failure".
func RecordRequest(outcome string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RequestsTotal,
			1,
			map[string]string{
				"outcome": outcome,
			},
		)
	}
}

// RecordRateLimited counts a request rejected by the sliding window.
func RecordRateLimited() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(RateLimitedTotal, 1, nil)
	}
}

// RecordAuthFailure counts a rejected credential. reason is "missing" or
// "invalid".
func RecordAuthFailure(reason string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			AuthFailuresTotal,
			1,
			map[string]string{
				"reason": reason,
			},
		)
	}
}

// RecordSend records how long one transport attempt took.
func RecordSend(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(
			SendDuration,
			duration,
			map[string]string{
				"status": status,
			},
		)
	}
}

// SetTrackedIdentities reports how many identities the limiter holds.
func SetTrackedIdentities(count int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			TrackedIdentities,
			float64(count),
			nil,
		)
	}
}

// RecordDeliveryLogError counts delivery log writes that failed.
func RecordDeliveryLogError() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(DeliveryLogErrors, 1, nil)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckLatency,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}
