// Package portfinder owns the combinatorial plan and the map of per-port
// search workers, fanning newly feasible candidates out to the right Port
// and routing successful probes back through confirmation.
package portfinder

import (
	"sync"

	"github.com/hahn-schickard/modbus-technology-adapter/pkg/logger"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/model"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/modbuswire"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/plan"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/port"
)

// BusConfig is everything the finder and its Ports need to know about a
// configured bus to search for and, on success, hand off to the owner.
type BusConfig struct {
	Name    string
	Ports   []string
	Serial  modbuswire.SerialParams
	Devices []model.Device
}

func (b BusConfig) probes() []port.DeviceProbe {
	out := make([]port.DeviceProbe, len(b.Devices))
	for i, d := range b.Devices {
		out[i] = port.DeviceProbe{SlaveID: d.SlaveID, Holding: d.Holding, Input: d.Input}
	}
	return out
}

func (b BusConfig) planDevices() []plan.DeviceSpec {
	out := make([]plan.DeviceSpec, len(b.Devices))
	for i, d := range b.Devices {
		out[i] = plan.DeviceSpec{SlaveID: d.SlaveID, Registers: d.Holding.Union(d.Input)}
	}
	return out
}

// Owner is implemented by the Adapter: it is asked to instantiate a Bus on
// confirmation.
type Owner interface {
	AddBus(bus BusConfig, actualPort string) error
}

// PortFinder owns the plan and a port_name -> Port map.
type PortFinder struct {
	owner   Owner
	factory modbuswire.Factory

	mu    sync.Mutex
	plan  *plan.Plan
	ports map[string]*port.Port
	buses map[string]BusConfig
}

func New(owner Owner, factory modbuswire.Factory) *PortFinder {
	return &PortFinder{
		owner:   owner,
		factory: factory,
		plan:    plan.New(),
		ports:   make(map[string]*port.Port),
		buses:   make(map[string]BusConfig),
	}
}

// Factory exposes the Modbus context factory so the Adapter can obtain its
// own context for a confirmed candidate without duplicating configuration.
func (f *PortFinder) Factory() modbuswire.Factory {
	return f.factory
}

// AddBuses forwards new buses to the plan, remembers their full configs,
// and fans every returned Candidate out to the corresponding Port (created
// on first use).
func (f *PortFinder) AddBuses(buses []BusConfig) {
	f.mu.Lock()
	specs := make([]plan.BusSpec, len(buses))
	for i, b := range buses {
		f.buses[b.Name] = b
		specs[i] = plan.BusSpec{Name: b.Name, Ports: b.Ports, Devices: b.planDevices()}
	}
	f.mu.Unlock()

	cands := f.plan.AddBuses(specs)
	f.dispatch(cands)
}

func (f *PortFinder) dispatch(cands []*plan.Candidate) {
	for _, c := range cands {
		f.portFor(c.Port).AddCandidate(f.toPortCandidate(c))
	}
}

func (f *PortFinder) portFor(name string) *port.Port {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.ports[name]
	if !ok {
		p = port.New(name, f.factory, f.confirmCandidate)
		f.ports[name] = p
	}
	return p
}

func (f *PortFinder) toPortCandidate(c *plan.Candidate) *port.Candidate {
	f.mu.Lock()
	bus := f.buses[c.Bus]
	f.mu.Unlock()
	return &port.Candidate{
		Plan:    c,
		BusName: c.Bus,
		Port:    c.Port,
		Serial:  bus.Serial,
		Devices: bus.probes(),
	}
}

// confirmCandidate is the per-Port success callback: logs the find, asks
// the owner to instantiate a Bus, and forwards whatever further candidates
// result — either Confirm()'s (on success) or Unassign()'s (on failure).
func (f *PortFinder) confirmCandidate(pc *port.Candidate) {
	logger.LogInfo("found bus %q on port %q", pc.BusName, pc.Port)

	f.mu.Lock()
	bus := f.buses[pc.BusName]
	f.mu.Unlock()

	if err := f.owner.AddBus(bus, pc.Port); err != nil {
		logger.LogWarn("failed to instantiate bus %q on %q: %v", pc.BusName, pc.Port, err)
		// The Port is already in its terminal Found state at this point, so
		// unassigning via the plan alone would leave it stuck there forever;
		// go through Unassign to also Reset() the Port back to Idle.
		f.Unassign(pc.Port)
		return
	}

	f.dispatch(pc.Plan.Confirm())
}

// Unassign is called by the owner (via Adapter.CancelBus) when a
// previously-confirmed Bus fails later, reopening the port for search.
func (f *PortFinder) Unassign(portName string) {
	f.mu.Lock()
	p, ok := f.ports[portName]
	f.mu.Unlock()
	if ok {
		p.Reset()
	}
	f.dispatch(f.plan.Unassign(portName))
}

// Stop signals every Port to stop and joins their workers, then resets the
// plan. Idempotent.
func (f *PortFinder) Stop() {
	f.mu.Lock()
	ports := make([]*port.Port, 0, len(f.ports))
	for _, p := range f.ports {
		ports = append(ports, p)
	}
	f.mu.Unlock()

	for _, p := range ports {
		p.Stop()
	}
	f.plan.Reset()
}
