package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordPacketReceived("call_state")
	m.RecordOperation("trim", nil, 0.01)
	m.RecordOperation("trim", errors.New("boom"), 0.02)
	m.RecordCaptureStarted("device_buffer")

	if got := testutil.ToFloat64(m.PacketsReceived.WithLabelValues("call_state")); got != 1 {
		t.Errorf("Expected 1 packet, got %f", got)
	}
	if got := testutil.ToFloat64(m.Operations.WithLabelValues("trim", "failure")); got != 1 {
		t.Errorf("Expected 1 failed trim, got %f", got)
	}
	if got := testutil.ToFloat64(m.ActiveCaptures); got != 1 {
		t.Errorf("Expected 1 active capture, got %f", got)
	}

	m.RecordCaptureStopped()
	if got := testutil.ToFloat64(m.ActiveCaptures); got != 0 {
		t.Errorf("Expected 0 active captures, got %f", got)
	}

	// a second set on a fresh registry must not panic on duplicate registration
	NewMetrics(prometheus.NewRegistry())
}
