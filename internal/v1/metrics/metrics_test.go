package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistration(t *testing.T) {
	t.Run("Operations", func(t *testing.T) {
		Operations.WithLabelValues("block", "add", "confirmed").Inc()
		val := testutil.ToFloat64(Operations.WithLabelValues("block", "add", "confirmed"))
		if val < 1 {
			t.Errorf("Expected Operations counter to be at least 1, got %v", val)
		}
	})

	t.Run("SocketEvents", func(t *testing.T) {
		SocketEvents.WithLabelValues("join-workflow", "ok").Inc()
		val := testutil.ToFloat64(SocketEvents.WithLabelValues("join-workflow", "ok"))
		if val < 1 {
			t.Errorf("Expected SocketEvents counter to be at least 1, got %v", val)
		}
	})

	t.Run("FanoutEvents", func(t *testing.T) {
		FanoutEvents.WithLabelValues("folders", "delete").Inc()
		val := testutil.ToFloat64(FanoutEvents.WithLabelValues("folders", "delete"))
		if val < 1 {
			t.Errorf("Expected FanoutEvents counter to be at least 1, got %v", val)
		}
	})

	t.Run("ConnectionGauge", func(t *testing.T) {
		before := testutil.ToFloat64(ActiveConnections)
		IncConnection()
		IncConnection()
		DecConnection()
		after := testutil.ToFloat64(ActiveConnections)
		if after != before+1 {
			t.Errorf("Expected gauge to move by +1, got %v -> %v", before, after)
		}
	})

	t.Run("OperationDuration", func(t *testing.T) {
		// no-panic is the main goal for histogram registration
		OperationDuration.WithLabelValues("edge").Observe(0.01)
	})

	t.Run("RoomParticipants", func(t *testing.T) {
		RoomParticipants.WithLabelValues("wf-1").Set(3)
		val := testutil.ToFloat64(RoomParticipants.WithLabelValues("wf-1"))
		if val != 3 {
			t.Errorf("Expected 3 participants, got %v", val)
		}
		RoomParticipants.DeleteLabelValues("wf-1")
	})
}
