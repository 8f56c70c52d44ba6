// Package adapter implements the top-level coordinator: it owns the port
// finder, creates per-port Bus instances on confirmation, and tears them
// down on communication failure, triggering re-discovery.
package adapter

import (
	"context"
	"sync"

	"github.com/hahn-schickard/modbus-technology-adapter/pkg/bus"
	adaptererrors "github.com/hahn-schickard/modbus-technology-adapter/pkg/errors"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/health"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/logger"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/metrics"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/model"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/modbuswire"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/portfinder"
)

// BuilderFactory produces a fresh DeviceBuilder for one device.
type BuilderFactory func() model.DeviceBuilder

// Adapter holds the port finder, the bus map, a stopping flag, and a lock
// serializing model-builder calls.
type Adapter struct {
	finder   *portfinder.PortFinder
	registry model.DeviceRegistry
	builder  BuilderFactory
	metrics  metrics.Collector
	health   *health.Registry

	busesMu sync.Mutex
	buses   map[string]*bus.Bus // keyed by port

	stoppingMu sync.Mutex
	stopping   bool

	builderMu sync.Mutex
}

// New constructs an Adapter. The modbus context factory is used by the
// port finder's search workers and by the adapter itself when promoting a
// confirmed candidate to a live Bus.
func New(factory modbuswire.Factory, registry model.DeviceRegistry, builder BuilderFactory) *Adapter {
	a := &Adapter{
		registry: registry,
		builder:  builder,
		metrics:  metrics.NewNullMetrics(),
		buses:    make(map[string]*bus.Bus),
	}
	a.finder = portfinder.New(a, factory)
	return a
}

// WithMetrics attaches a Collector every Bus this Adapter creates reports
// to. Defaults to a no-op collector if never called.
func (a *Adapter) WithMetrics(m metrics.Collector) *Adapter {
	a.metrics = m
	return a
}

// WithHealth attaches a health.Registry; every Bus this Adapter creates
// reports read outcomes to that port's monitor.
func (a *Adapter) WithHealth(h *health.Registry) *Adapter {
	a.health = h
	return a
}

// Start submits every configured bus to the port finder.
func (a *Adapter) Start(buses []portfinder.BusConfig) {
	a.finder.AddBuses(buses)
}

// Stop is idempotent and composes top-down: set stopping, stop every live
// Bus, tear down the port finder, clear stopping.
func (a *Adapter) Stop() {
	a.stoppingMu.Lock()
	if a.stopping {
		a.stoppingMu.Unlock()
		return
	}
	a.stopping = true
	a.stoppingMu.Unlock()

	a.busesMu.Lock()
	buses := make([]*bus.Bus, 0, len(a.buses))
	for _, b := range a.buses {
		buses = append(buses, b)
	}
	a.buses = make(map[string]*bus.Bus)
	a.busesMu.Unlock()

	for _, b := range buses {
		b.Stop()
	}

	a.finder.Stop()

	a.stoppingMu.Lock()
	a.stopping = false
	a.stoppingMu.Unlock()
}

func (a *Adapter) isStopping() bool {
	a.stoppingMu.Lock()
	defer a.stoppingMu.Unlock()
	return a.stopping
}

// AddBus is called by the port finder's confirmCandidate: creates a Bus,
// starts it, then holds the builder lock while building its model. The Bus
// is added to the map only after both succeed, so a failure leaves no entry.
func (a *Adapter) AddBus(cfg portfinder.BusConfig, actualPort string) error {
	if a.isStopping() {
		return adaptererrors.NewLifecycleError("adapter.add_bus", cfg.Name)
	}

	ctx, err := a.finder.Factory().NewContext(actualPort, cfg.Serial)
	if err != nil {
		return adaptererrors.NewTransportError("adapter.add_bus", err, actualPort, adaptererrors.NonRetryable)
	}

	b := bus.New(a, actualPort, ctx, bus.Config{Port: actualPort, Devices: cfg.Devices}, a.registry).WithMetrics(a.metrics)
	if a.health != nil {
		b = b.WithHealth(a.health.Monitor(actualPort))
	}
	if err := b.Start(); err != nil {
		return err
	}

	a.builderMu.Lock()
	buildErr := b.BuildModel(context.Background(), a.builder)
	a.builderMu.Unlock()
	if buildErr != nil {
		return buildErr
	}

	a.busesMu.Lock()
	a.buses[actualPort] = b
	a.busesMu.Unlock()

	logger.LogInfo("bus %q active on port %q with %d device(s)", cfg.Name, actualPort, len(cfg.Devices))
	return nil
}

// CancelBus removes the bus from the map and asks the port finder to
// unassign its port, reopening search.
func (a *Adapter) CancelBus(port string) {
	a.busesMu.Lock()
	delete(a.buses, port)
	a.busesMu.Unlock()
	if a.health != nil {
		a.health.Remove(port)
	}
	a.finder.Unassign(port)
}

