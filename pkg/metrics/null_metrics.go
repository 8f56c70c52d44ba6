package metrics

import "time"

// NullMetrics is a zero-overhead no-op Collector, used when metrics are
// disabled (metrics_port == 0).
type NullMetrics struct{}

func NewNullMetrics() *NullMetrics { return &NullMetrics{} }

func (nm *NullMetrics) IncrementReads(port string)                       {}
func (nm *NullMetrics) IncrementReadErrors(port string, retryable bool)  {}
func (nm *NullMetrics) ObserveReadDuration(port string, d time.Duration) {}
func (nm *NullMetrics) SetBusConnected(port string, connected bool)      {}
func (nm *NullMetrics) SetDevicesRegistered(port string, count int)      {}
func (nm *NullMetrics) IncrementBusAborts(port string)                  {}
func (nm *NullMetrics) StartServer(port int) error                      { return nil }

var _ Collector = (*NullMetrics)(nil)
