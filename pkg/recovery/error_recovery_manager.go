package recovery

import "time"

// ErrorRecoveryManager tracks a run of consecutive failures against a grace
// period, so a single flaky read doesn't flip a bus's externally reported
// status before the failure has had a chance to resolve itself.
type ErrorRecoveryManager struct {
	consecutiveErrors  int
	firstErrorTime     time.Time
	errorGracePeriod   time.Duration
	statusSetToOffline bool
}

// NewErrorRecoveryManager creates a manager with the given grace period (15s
// if zero).
func NewErrorRecoveryManager(gracePeriod time.Duration) *ErrorRecoveryManager {
	if gracePeriod == 0 {
		gracePeriod = 15 * time.Second
	}
	return &ErrorRecoveryManager{errorGracePeriod: gracePeriod}
}

// RecordError records an error occurrence and returns whether the grace
// period has expired.
func (m *ErrorRecoveryManager) RecordError() bool {
	m.consecutiveErrors++
	if m.firstErrorTime.IsZero() {
		m.firstErrorTime = time.Now()
	}
	return time.Since(m.firstErrorTime) >= m.errorGracePeriod
}

// RecordSuccess resets error tracking after a successful operation.
func (m *ErrorRecoveryManager) RecordSuccess() {
	m.consecutiveErrors = 0
	m.firstErrorTime = time.Time{}
	m.statusSetToOffline = false
}

func (m *ErrorRecoveryManager) GetConsecutiveErrors() int {
	return m.consecutiveErrors
}

// ShouldMarkOffline reports whether the grace period has expired and offline
// status has not already been reported.
func (m *ErrorRecoveryManager) ShouldMarkOffline() bool {
	if m.statusSetToOffline {
		return false
	}
	return !m.firstErrorTime.IsZero() && time.Since(m.firstErrorTime) >= m.errorGracePeriod
}

func (m *ErrorRecoveryManager) MarkAsOffline() {
	m.statusSetToOffline = true
}

func (m *ErrorRecoveryManager) IsInGracePeriod() bool {
	if m.firstErrorTime.IsZero() {
		return false
	}
	return time.Since(m.firstErrorTime) < m.errorGracePeriod
}

func (m *ErrorRecoveryManager) GetTimeSinceFirstError() time.Duration {
	if m.firstErrorTime.IsZero() {
		return 0
	}
	return time.Since(m.firstErrorTime)
}

func (m *ErrorRecoveryManager) Reset() {
	m.consecutiveErrors = 0
	m.firstErrorTime = time.Time{}
	m.statusSetToOffline = false
}
