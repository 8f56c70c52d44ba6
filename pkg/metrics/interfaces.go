package metrics

import "time"

// Collector defines the interface for collecting adapter metrics. This
// abstraction allows for different implementations (Prometheus, a no-op)
// and keeps the bus/port-finder packages free of a concrete metrics
// backend.
type Collector interface {
	// IncrementReads counts one successful burst read on the named port.
	IncrementReads(port string)

	// IncrementReadErrors counts one failed burst read, tagged by whether
	// the underlying transport error was retryable.
	IncrementReadErrors(port string, retryable bool)

	// ObserveReadDuration records how long one burst read took.
	ObserveReadDuration(port string, d time.Duration)

	// SetBusConnected reports whether a bus is currently connected on port.
	SetBusConnected(port string, connected bool)

	// SetDevicesRegistered reports the current count of registered devices
	// on a bus.
	SetDevicesRegistered(port string, count int)

	// IncrementBusAborts counts one bus abort on port.
	IncrementBusAborts(port string)

	// StartServer starts an HTTP server exposing the collected metrics.
	// port == 0 disables the server.
	StartServer(port int) error
}
