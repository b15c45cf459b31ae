package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// ObserveHTTPRequest is a no-op.
func (n *NoopRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {}

// IncAuthResult is a no-op.
func (n *NoopRecorder) IncAuthResult(outcome string) {}

// IncLoginAttempt is a no-op.
func (n *NoopRecorder) IncLoginAttempt(outcome string) {}

// IncUserRegistered is a no-op.
func (n *NoopRecorder) IncUserRegistered() {}

// IncOwnerResolution is a no-op.
func (n *NoopRecorder) IncOwnerResolution(source string) {}

// IncOwnerCacheHit is a no-op.
func (n *NoopRecorder) IncOwnerCacheHit() {}

// IncOwnerCacheMiss is a no-op.
func (n *NoopRecorder) IncOwnerCacheMiss() {}

// ObserveOwnerResolveDuration is a no-op.
func (n *NoopRecorder) ObserveOwnerResolveDuration(duration time.Duration) {}

// IncAuditEventPublished is a no-op.
func (n *NoopRecorder) IncAuditEventPublished(status string) {}

// IncAuditEventProcessed is a no-op.
func (n *NoopRecorder) IncAuditEventProcessed(status string) {}

// ObserveAuditBatchSize is a no-op.
func (n *NoopRecorder) ObserveAuditBatchSize(size int) {}

// ObserveAuditBatchDuration is a no-op.
func (n *NoopRecorder) ObserveAuditBatchDuration(duration time.Duration) {}

// SetAuditQueueDepth is a no-op.
func (n *NoopRecorder) SetAuditQueueDepth(depth int64) {}

// ObserveAuditIngestLag is a no-op.
func (n *NoopRecorder) ObserveAuditIngestLag(lag time.Duration) {}
