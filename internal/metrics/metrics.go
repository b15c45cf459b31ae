// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Auth outcomes recorded by IncAuthResult.
const (
	AuthSuccess      = "success"
	AuthMissingToken = "missing_token"
	AuthMalformed    = "malformed"
	AuthBadSignature = "bad_signature"
	AuthExpired      = "expired"
	AuthRevoked      = "revoked"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// HTTP metrics
	ObserveHTTPRequest(method, route string, status int, duration time.Duration)

	// Authentication metrics
	IncAuthResult(outcome string)
	IncLoginAttempt(outcome string) // outcome: "success", "failure", "rate_limited"
	IncUserRegistered()

	// Owner resolution metrics
	IncOwnerResolution(source string) // source: "token", "owner_email", "domain", or a failure reason
	IncOwnerCacheHit()
	IncOwnerCacheMiss()
	ObserveOwnerResolveDuration(duration time.Duration)

	// Audit pipeline metrics
	IncAuditEventPublished(status string) // status: "success" or "dropped"
	IncAuditEventProcessed(status string) // status: "success", "failed", "dead_lettered"
	ObserveAuditBatchSize(size int)
	ObserveAuditBatchDuration(duration time.Duration)
	SetAuditQueueDepth(depth int64)
	ObserveAuditIngestLag(lag time.Duration)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
