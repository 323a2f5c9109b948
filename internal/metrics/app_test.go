package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailrelay/mailrelay/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: collector,
	})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() {
		observability.TelemetrySystem = original
	})

	return collector
}

func TestRelayMetricsEmit(t *testing.T) {
	collector := setupTelemetry(t)

	RecordRequest("sent")
	RecordRateLimited()
	RecordAuthFailure("missing")
	RecordSend(true, 25*time.Millisecond)
	SetTrackedIdentities(3)
	RecordDeliveryLogError()
	RecordHealthCheck("transport", true, time.Millisecond)
	SetServerStartTime(time.Now().Unix())
	RecordError("RATE_LIMITED", 429)
	RecordErrorByEndpoint("/send-email", "RATE_LIMITED")
	RecordPanic()

	for _, name := range []string{
		RequestsTotal, RateLimitedTotal, AuthFailuresTotal, SendDuration,
		TrackedIdentities, DeliveryLogErrors, HealthCheckTotal, HealthCheckLatency,
		ServerStartTime, ErrorsTotalName, ErrorsByEndpointName, PanicsTotalName,
	} {
		assert.Greater(t, collector.CountMetricsByName(name), 0, name)
	}
}

func TestRelayMetricsWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() {
		observability.TelemetrySystem = original
	})

	assert.NotPanics(t, func() {
		RecordRequest("sent")
		RecordSend(false, time.Second)
		SetTrackedIdentities(1)
	})
}
