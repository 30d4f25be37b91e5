package metrics

import "time"

var _ Recorder = NoopMetrics{}

// NoopMetrics discards everything. Used when metrics are disabled and in tests.
type NoopMetrics struct{}

// NewNoopMetrics returns a Recorder that does nothing.
func NewNoopMetrics() Recorder {
	return NoopMetrics{}
}

func (NoopMetrics) RecordStrategy(string, string) {}
func (NoopMetrics) RecordAuthorization(string) {}
func (NoopMetrics) RecordTokensIssued(string) {}
func (NoopMetrics) RecordHTTPRequest(string, string, int, time.Duration) {}
