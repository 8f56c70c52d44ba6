// Package health tracks per-bus online/offline status with flap
// suppression, and exposes it over a small HTTP surface for liveness and
// readiness probes.
package health

import (
	"sync"
	"time"

	"github.com/hahn-schickard/modbus-technology-adapter/pkg/recovery"
)

// BusHealthMonitor tracks one bus's online/offline status, deferring an
// offline report until a run of failures has outlasted the grace period.
type BusHealthMonitor struct {
	isOnline      bool
	lastErrorTime time.Time
	errorManager  *recovery.ErrorRecoveryManager
	mu            sync.RWMutex
}

// NewBusHealthMonitor creates a monitor starting in the online state.
func NewBusHealthMonitor(gracePeriod time.Duration) *BusHealthMonitor {
	return &BusHealthMonitor{
		isOnline:     true,
		errorManager: recovery.NewErrorRecoveryManager(gracePeriod),
	}
}

func (m *BusHealthMonitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isOnline
}

// RecordSuccess records a successful read, resetting error tracking.
func (m *BusHealthMonitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorManager.RecordSuccess()
	m.isOnline = true
}

// RecordError records a read failure and reports whether it should be
// surfaced as offline.
func (m *BusHealthMonitor) RecordError() (shouldMarkOffline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErrorTime = time.Now()
	m.errorManager.RecordError()
	return m.errorManager.ShouldMarkOffline()
}

func (m *BusHealthMonitor) MarkOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isOnline = false
	m.errorManager.MarkAsOffline()
}

func (m *BusHealthMonitor) MarkOnline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isOnline = true
	m.errorManager.Reset()
}

func (m *BusHealthMonitor) GetConsecutiveErrors() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorManager.GetConsecutiveErrors()
}

func (m *BusHealthMonitor) GetLastErrorTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErrorTime
}

func (m *BusHealthMonitor) IsInGracePeriod() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorManager.IsInGracePeriod()
}
