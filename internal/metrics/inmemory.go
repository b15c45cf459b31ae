package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	HTTPRequests        uint64
	AuthResults         map[string]uint64
	LoginAttempts       map[string]uint64
	UsersRegistered     uint64
	OwnerResolutions    map[string]uint64
	OwnerCacheHits      uint64
	OwnerCacheMisses    uint64
	AuditPublished      map[string]uint64
	AuditProcessed      map[string]uint64
	AuditBatches        uint64
	AuditQueueDepth     int64
	OwnerResolveCount   uint64
	OwnerResolveTotalNs int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	httpRequests        uint64
	usersRegistered     uint64
	ownerCacheHits      uint64
	ownerCacheMisses    uint64
	auditBatches        uint64
	auditQueueDepth     int64
	ownerResolveCount   uint64
	ownerResolveTotalNs int64

	mu               sync.Mutex
	authResults      map[string]uint64
	loginAttempts    map[string]uint64
	ownerResolutions map[string]uint64
	auditPublished   map[string]uint64
	auditProcessed   map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		authResults:      make(map[string]uint64),
		loginAttempts:    make(map[string]uint64),
		ownerResolutions: make(map[string]uint64),
		auditPublished:   make(map[string]uint64),
		auditProcessed:   make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		HTTPRequests:        atomic.LoadUint64(&m.httpRequests),
		AuthResults:         copyCounts(m.authResults),
		LoginAttempts:       copyCounts(m.loginAttempts),
		UsersRegistered:     atomic.LoadUint64(&m.usersRegistered),
		OwnerResolutions:    copyCounts(m.ownerResolutions),
		OwnerCacheHits:      atomic.LoadUint64(&m.ownerCacheHits),
		OwnerCacheMisses:    atomic.LoadUint64(&m.ownerCacheMisses),
		AuditPublished:      copyCounts(m.auditPublished),
		AuditProcessed:      copyCounts(m.auditProcessed),
		AuditBatches:        atomic.LoadUint64(&m.auditBatches),
		AuditQueueDepth:     atomic.LoadInt64(&m.auditQueueDepth),
		OwnerResolveCount:   atomic.LoadUint64(&m.ownerResolveCount),
		OwnerResolveTotalNs: atomic.LoadInt64(&m.ownerResolveTotalNs),
	}
}

// ObserveHTTPRequest counts a served request.
func (m *InMemoryRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	atomic.AddUint64(&m.httpRequests, 1)
}

// IncAuthResult increments the counter for an auth outcome.
func (m *InMemoryRecorder) IncAuthResult(outcome string) {
	m.inc(m.authResults, outcome)
}

// IncLoginAttempt increments the counter for a login outcome.
func (m *InMemoryRecorder) IncLoginAttempt(outcome string) {
	m.inc(m.loginAttempts, outcome)
}

// IncUserRegistered increments the registration counter.
func (m *InMemoryRecorder) IncUserRegistered() {
	atomic.AddUint64(&m.usersRegistered, 1)
}

// IncOwnerResolution increments the counter for an owner resolution source.
func (m *InMemoryRecorder) IncOwnerResolution(source string) {
	m.inc(m.ownerResolutions, source)
}

// IncOwnerCacheHit increments owner cache hit counter.
func (m *InMemoryRecorder) IncOwnerCacheHit() {
	atomic.AddUint64(&m.ownerCacheHits, 1)
}

// IncOwnerCacheMiss increments owner cache miss counter.
func (m *InMemoryRecorder) IncOwnerCacheMiss() {
	atomic.AddUint64(&m.ownerCacheMisses, 1)
}

// ObserveOwnerResolveDuration records owner resolution duration.
func (m *InMemoryRecorder) ObserveOwnerResolveDuration(duration time.Duration) {
	atomic.AddUint64(&m.ownerResolveCount, 1)
	atomic.AddInt64(&m.ownerResolveTotalNs, duration.Nanoseconds())
}

// IncAuditEventPublished increments the published counter for a status.
func (m *InMemoryRecorder) IncAuditEventPublished(status string) {
	m.inc(m.auditPublished, status)
}

// IncAuditEventProcessed increments the processed counter for a status.
func (m *InMemoryRecorder) IncAuditEventProcessed(status string) {
	m.inc(m.auditProcessed, status)
}

// ObserveAuditBatchSize counts a processed batch.
func (m *InMemoryRecorder) ObserveAuditBatchSize(size int) {
	atomic.AddUint64(&m.auditBatches, 1)
}

// ObserveAuditBatchDuration is not tracked in memory.
func (m *InMemoryRecorder) ObserveAuditBatchDuration(duration time.Duration) {}

// SetAuditQueueDepth stores the latest pending count.
func (m *InMemoryRecorder) SetAuditQueueDepth(depth int64) {
	atomic.StoreInt64(&m.auditQueueDepth, depth)
}

// ObserveAuditIngestLag is not tracked in memory.
func (m *InMemoryRecorder) ObserveAuditIngestLag(lag time.Duration) {}

func (m *InMemoryRecorder) inc(counts map[string]uint64, label string) {
	m.mu.Lock()
	counts[label]++
	m.mu.Unlock()
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
