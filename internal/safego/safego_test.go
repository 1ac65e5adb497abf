package safego

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/go-green-rwanda/admin-backend/internal/telemetry"
)

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not complete within timeout")
	}
}

func TestGo_RunsFunction(t *testing.T) {
	done := make(chan struct{})
	Go("test-run", func() { close(done) })
	wait(t, done)
}

func TestGo_RecoversPanic(t *testing.T) {
	before := testutil.ToFloat64(telemetry.BackgroundPanicsTotal.WithLabelValues("test-panic"))

	done := make(chan struct{})
	// This should not crash the test process; the panic must be recovered.
	Go("test-panic", func() {
		defer close(done)
		panic("intentional panic in test")
	})
	wait(t, done)

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(telemetry.BackgroundPanicsTotal.WithLabelValues("test-panic")) != before+1 {
		if time.Now().After(deadline) {
			t.Fatal("panic was not counted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecover_NoPanic(t *testing.T) {
	before := testutil.ToFloat64(telemetry.BackgroundPanicsTotal.WithLabelValues("test-quiet"))
	func() {
		defer Recover("test-quiet")
	}()
	if got := testutil.ToFloat64(telemetry.BackgroundPanicsTotal.WithLabelValues("test-quiet")); got != before {
		t.Errorf("counter = %v, want %v", got, before)
	}
}
