package authcore

import (
	"sync/atomic"
)

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts completed logins, including MFA logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts credential rejections.
	MetricLoginFailure
	// MetricLoginRateLimited counts logins refused inside a lockout window.
	MetricLoginRateLimited
	// MetricMFARequired counts logins answered with an MFA challenge.
	MetricMFARequired
	// MetricMFAFailure counts rejected TOTP codes.
	MetricMFAFailure
	// MetricRefreshSuccess counts completed token rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts refresh attempts with an unknown, expired
	// or malformed token.
	MetricRefreshFailure
	// MetricRefreshReuse counts rotations that redeemed an already-spent
	// token and destroyed the session.
	MetricRefreshReuse
	// MetricValidateSuccess counts access tokens accepted by Validate.
	MetricValidateSuccess
	// MetricValidateFailure counts access tokens rejected by Validate.
	MetricValidateFailure
	// MetricLogout counts single-session logouts.
	MetricLogout
	// MetricLogoutAll counts whole-account logouts.
	MetricLogoutAll
	// MetricSessionCreated counts sessions written to the store.
	MetricSessionCreated
	// MetricSessionInvalidated counts sessions removed for any reason.
	MetricSessionInvalidated
	// MetricStoreFault counts operations abandoned because the store was
	// unreachable or timed out.
	MetricStoreFault
	metricIDCount
)

const cacheLineSize = 64

// paddedCounter keeps each slot on its own cache line so hot counters on
// different cores do not false-share.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is the engine's in-process counter set. A nil or disabled Metrics
// accepts increments and discards them.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// NewMetrics creates a counter set honoring cfg.Enabled.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Enabled reports whether increments are being recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to a counter. Unknown IDs are ignored.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot copies all counters. Slots are read individually with atomic
// loads; the snapshot is consistent per counter, not across counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	s := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}

// CounterDef pairs a counter with its exposition name and help text.
type CounterDef struct {
	ID   MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in a stable exposition order.
var CounterDefs = []CounterDef{
	{MetricLoginSuccess, "authcore_login_success_total", "Completed logins, including MFA logins."},
	{MetricLoginFailure, "authcore_login_failure_total", "Logins rejected for bad credentials."},
	{MetricLoginRateLimited, "authcore_login_rate_limited_total", "Logins refused inside a lockout window."},
	{MetricMFARequired, "authcore_mfa_required_total", "Logins answered with an MFA challenge."},
	{MetricMFAFailure, "authcore_mfa_failure_total", "Rejected TOTP codes."},
	{MetricRefreshSuccess, "authcore_refresh_success_total", "Completed refresh token rotations."},
	{MetricRefreshFailure, "authcore_refresh_failure_total", "Refresh attempts with an invalid token."},
	{MetricRefreshReuse, "authcore_refresh_reuse_total", "Spent refresh tokens redeemed again; sessions destroyed."},
	{MetricValidateSuccess, "authcore_validate_success_total", "Access tokens accepted by validation."},
	{MetricValidateFailure, "authcore_validate_failure_total", "Access tokens rejected by validation."},
	{MetricLogout, "authcore_logout_total", "Single-session logouts."},
	{MetricLogoutAll, "authcore_logout_all_total", "Whole-account logouts."},
	{MetricSessionCreated, "authcore_session_created_total", "Sessions written to the store."},
	{MetricSessionInvalidated, "authcore_session_invalidated_total", "Sessions removed for any reason."},
	{MetricStoreFault, "authcore_store_fault_total", "Operations abandoned on store faults."},
}
