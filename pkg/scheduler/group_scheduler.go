// Package scheduler drives periodic execution of named groups of work, each
// on its own configured interval, while serializing the actual execution so
// concurrent group ticks never pile up work against a single shared Modbus
// context.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/hahn-schickard/modbus-technology-adapter/pkg/logger"
)

// Executor runs one named group's work (typically: read every metric in the
// group and publish its value) and reports how many items it processed.
type Executor interface {
	ExecuteGroup(ctx context.Context, groupKey string) (n int, err error)
}

// GroupScheduler manages independent polling for each named group, each with
// its own interval.
type GroupScheduler struct {
	executor         Executor
	groupIntervals   map[string]time.Duration
	lastExecutions   map[string]time.Time
	mu               sync.RWMutex
	executionMutex   sync.Mutex
	minCheckInterval time.Duration
}

// NewGroupScheduler builds a scheduler over the given group->interval map.
// The check frequency is derived from the smallest configured interval
// (1/10th of it, floored at 100ms).
func NewGroupScheduler(executor Executor, groupIntervals map[string]time.Duration) *GroupScheduler {
	s := &GroupScheduler{
		executor:       executor,
		groupIntervals: groupIntervals,
		lastExecutions: make(map[string]time.Time),
	}

	minInterval := time.Duration(0)
	for groupKey, interval := range groupIntervals {
		if minInterval == 0 || interval < minInterval {
			minInterval = interval
		}
		logger.LogInfo("scheduled group %q with interval %v", groupKey, interval)
	}

	s.minCheckInterval = minInterval / 10
	if s.minCheckInterval < 100*time.Millisecond {
		s.minCheckInterval = 100 * time.Millisecond
	}

	logger.LogInfo("group scheduler initialized with %d groups (check interval: %v)", len(groupIntervals), s.minCheckInterval)
	return s
}

// Start runs the scheduler until ctx is cancelled.
func (s *GroupScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.minCheckInterval)
	defer ticker.Stop()

	logger.LogInfo("group scheduler started (check interval: %v)", s.minCheckInterval)
	for {
		select {
		case <-ctx.Done():
			logger.LogDebug("group scheduler stopped")
			return
		case <-ticker.C:
			s.checkAndExecuteGroups(ctx)
		}
	}
}

func (s *GroupScheduler) checkAndExecuteGroups(ctx context.Context) {
	now := time.Now()

	s.mu.RLock()
	due := make([]string, 0)
	for groupKey, interval := range s.groupIntervals {
		lastExec, exists := s.lastExecutions[groupKey]
		if !exists || now.Sub(lastExec) >= interval {
			due = append(due, groupKey)
		}
	}
	s.mu.RUnlock()

	for _, groupKey := range due {
		s.executeGroup(ctx, groupKey)
	}
}

// executeGroup serializes execution across all groups via executionMutex,
// so the scheduler never issues two groups' worth of Modbus work at once.
func (s *GroupScheduler) executeGroup(ctx context.Context, groupKey string) {
	s.executionMutex.Lock()
	defer s.executionMutex.Unlock()

	start := time.Now()
	n, err := s.executor.ExecuteGroup(ctx, groupKey)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.lastExecutions[groupKey] = start
	s.mu.Unlock()

	if err != nil {
		logger.LogError("group %q execution failed after %v: %v", groupKey, elapsed, err)
		return
	}
	logger.LogTrace("group %q executed %d item(s) in %v", groupKey, n, elapsed)
}

// GetNextExecutionTimes reports when each group will next be due.
func (s *GroupScheduler) GetNextExecutionTimes() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next := make(map[string]time.Time)
	for groupKey, interval := range s.groupIntervals {
		if lastExec, exists := s.lastExecutions[groupKey]; exists {
			next[groupKey] = lastExec.Add(interval)
		} else {
			next[groupKey] = time.Now()
		}
	}
	return next
}
