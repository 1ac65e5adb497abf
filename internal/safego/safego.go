// Package safego launches background goroutines that survive panics. Every
// fire-and-forget goroutine in the service (audit persistence, shipping, the
// archive job, cross-instance change watching) goes through Go.
package safego

import (
	"log/slog"
	"runtime/debug"

	"github.com/go-green-rwanda/admin-backend/internal/telemetry"
)

// Go runs fn in a new goroutine under the given task name. A panic is recovered,
// logged with its stack and counted in telemetry.BackgroundPanicsTotal.
func Go(task string, fn func()) {
	go func() {
		defer Recover(task)
		fn()
	}()
}

// Recover is deferred by Go. It can also be deferred directly in goroutines that are
// started elsewhere.
func Recover(task string) {
	r := recover()
	if r == nil {
		return
	}
	telemetry.BackgroundPanicsTotal.WithLabelValues(task).Inc()
	slog.Error("recovered panic in background goroutine",
		"task", task,
		"panic", r,
		"stack", string(debug.Stack()))
}
