// Package metrics provides Prometheus instrumentation for cyberguard.
package metrics

import "time"

// Recorder is the slice of instrumentation the HTTP layer depends on.
// It lets handlers and middleware run without a Prometheus registry.
type Recorder interface {
	// RecordHTTPRequest records one served request.
	RecordHTTPRequest(method, route string, status int, duration time.Duration)

	// RecordLogin records a login attempt outcome label.
	RecordLogin(outcome string)
}

// Nop is a Recorder that discards everything.
type Nop struct{}

// RecordHTTPRequest implements Recorder.
func (Nop) RecordHTTPRequest(string, string, int, time.Duration) {}

// RecordLogin implements Recorder.
func (Nop) RecordLogin(string) {}

// Ensure both implementations satisfy Recorder.
var (
	_ Recorder = Nop{}
	_ Recorder = (*PrometheusMetrics)(nil)
)
