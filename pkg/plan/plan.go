// Package plan implements the PortFinderPlan combinatorial solver: given a
// set of configured buses (each with candidate serial ports) and the
// evolving set of already-bound ports, it enumerates only the bus/port
// pairs that are currently feasible and unambiguous.
package plan

import (
	"sync"

	"github.com/hahn-schickard/modbus-technology-adapter/pkg/intern"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/logger"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/registerset"
)

// DeviceSpec is the minimal shape of a device needed for distinguishability:
// its slave id and the union of its two readable register sets.
type DeviceSpec struct {
	SlaveID    uint8
	Registers  registerset.Set
}

// BusSpec is a configured bus as the plan sees it: a name, its ordered
// candidate ports, and its devices.
type BusSpec struct {
	Name    string
	Ports   []string
	Devices []DeviceSpec
}

// isDistinguishableFrom reports whether bus a can be told apart from bus b:
// some device in a issues a read that every device in b would refuse (same
// slave id but a's register set is not a subset of b's device's set, or no
// device in b shares the slave id at all).
func isDistinguishableFrom(a, b BusSpec) bool {
	for _, da := range a.Devices {
		provesA := true
		for _, db := range b.Devices {
			if da.SlaveID != db.SlaveID {
				continue
			}
			if da.Registers.Subset(db.Registers) {
				provesA = false
				break
			}
		}
		if provesA {
			return true
		}
	}
	return false
}

type portState struct {
	possible  []string // bus names
	ambiguous map[string]bool
	assigned  bool
	assignedBus string
}

func newPortState() *portState {
	return &portState{ambiguous: make(map[string]bool)}
}

func (p *portState) removePossible(bus string) {
	for i, b := range p.possible {
		if b == bus {
			p.possible = append(p.possible[:i], p.possible[i+1:]...)
			break
		}
	}
	delete(p.ambiguous, bus)
}

func (p *portState) hasPossible(bus string) bool {
	for _, b := range p.possible {
		if b == bus {
			return true
		}
	}
	return false
}

func (p *portState) feasible(bus string) bool {
	return p.hasPossible(bus) && !p.ambiguous[bus] && !p.assigned
}

// Candidate is a (bus, port) pairing the plan believes is worth probing. It
// carries a strong reference to the Plan so orphaned candidates (whose port
// never got probed before another bus claimed the port) remain well-defined.
type Candidate struct {
	Plan *Plan
	Bus  string
	Port string
}

// StillFeasible re-checks feasibility under the plan's current state.
func (c *Candidate) StillFeasible() bool {
	c.Plan.mu.Lock()
	defer c.Plan.mu.Unlock()
	ps, ok := c.Plan.ports[c.Port]
	if !ok {
		return false
	}
	return ps.feasible(c.Bus)
}

// Confirm binds the candidate: marks the port assigned, clears its possible
// and ambiguous sets, and removes the bus from every other port's possible
// set — which may make a previously-ambiguous bus on another port unique
// again, in which case a fresh Candidate for it is returned.
func (c *Candidate) Confirm() []*Candidate {
	c.Plan.mu.Lock()
	defer c.Plan.mu.Unlock()
	return c.Plan.confirmLocked(c.Bus, c.Port)
}

// Plan holds all mutable combinatorial state behind a single mutex. All
// work under the lock is short and bounded: no I/O and no user callbacks
// are ever invoked while it is held.
type Plan struct {
	mu       sync.Mutex
	buses    map[string]BusSpec
	ports    map[string]*portState
	reported map[string]bool // "bus\x00port" already emitted as a Candidate
	busIndex *intern.Interner[string]
}

func New() *Plan {
	return &Plan{
		buses:    make(map[string]BusSpec),
		ports:    make(map[string]*portState),
		reported: make(map[string]bool),
		busIndex: intern.New[string](),
	}
}

// BusIndex returns a dense, zero-based id for name, stable for the life of
// the Plan and assigned the first time the bus is seen. Used to correlate
// log lines for a bus across its possibly many candidate ports without
// repeating the full name.
func (p *Plan) BusIndex(name string) intern.Id {
	return p.busIndex.Intern(name)
}

func reportKey(bus, port string) string { return bus + "\x00" + port }

// AddBuses appends each new bus to the possible set of its candidate ports,
// recomputes uniqueness on every affected port, and returns a Candidate for
// every (bus, port) pair that is newly feasible and not previously
// reported. Precondition: new buses are disjoint from buses already known
// to the plan.
func (p *Plan) AddBuses(buses []BusSpec) []*Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, b := range buses {
		p.buses[b.Name] = b
		logger.LogDebug("plan: bus %q assigned index %d, %d candidate port(s)", b.Name, p.BusIndex(b.Name), len(b.Ports))
		for _, port := range b.Ports {
			ps, ok := p.ports[port]
			if !ok {
				ps = newPortState()
				p.ports[port] = ps
			}
			ps.possible = append(ps.possible, b.Name)
		}
	}

	return p.recomputeAll()
}

// recomputeAll recomputes ambiguity for every port and returns freshly
// feasible candidates not yet reported.
func (p *Plan) recomputeAll() []*Candidate {
	var out []*Candidate
	for port, ps := range p.ports {
		p.recomputePort(port, ps)
		for _, bus := range ps.possible {
			if ps.feasible(bus) {
				key := reportKey(bus, port)
				if !p.reported[key] {
					p.reported[key] = true
					out = append(out, &Candidate{Plan: p, Bus: bus, Port: port})
				}
			}
		}
	}
	return out
}

func (p *Plan) recomputePort(port string, ps *portState) {
	for _, bus := range ps.possible {
		if ps.ambiguous[bus] {
			continue
		}
		unique := true
		for _, other := range ps.possible {
			if other == bus {
				continue
			}
			if !isDistinguishableFrom(p.buses[bus], p.buses[other]) {
				unique = false
				break
			}
		}
		if !unique {
			ps.ambiguous[bus] = true
		}
	}
	// A bus may also regain uniqueness once a competitor leaves possible;
	// re-evaluate every ambiguous entry too so it can clear.
	for bus := range ps.ambiguous {
		if !ps.hasPossible(bus) {
			delete(ps.ambiguous, bus)
			continue
		}
		unique := true
		for _, other := range ps.possible {
			if other == bus {
				continue
			}
			if !isDistinguishableFrom(p.buses[bus], p.buses[other]) {
				unique = false
				break
			}
		}
		if unique {
			delete(ps.ambiguous, bus)
		}
	}
}

func (p *Plan) confirmLocked(bus, port string) []*Candidate {
	ps, ok := p.ports[port]
	if !ok {
		return nil
	}
	ps.assigned = true
	ps.assignedBus = bus
	ps.possible = nil
	ps.ambiguous = make(map[string]bool)

	spec := p.buses[bus]
	var touched []string
	for _, otherPort := range spec.Ports {
		if otherPort == port {
			continue
		}
		ops, ok := p.ports[otherPort]
		if !ok {
			continue
		}
		ops.removePossible(bus)
		touched = append(touched, otherPort)
	}

	var out []*Candidate
	// Bus is no longer possible on any other port; one fewer competitor may
	// let a previously-ambiguous bus on that port become unique again.
	for _, portName := range touched {
		ps := p.ports[portName]
		p.recomputePort(portName, ps)
		for _, b := range ps.possible {
			if ps.feasible(b) {
				key := reportKey(b, portName)
				if !p.reported[key] {
					p.reported[key] = true
					out = append(out, &Candidate{Plan: p, Bus: b, Port: portName})
				}
			}
		}
	}
	return out
}

// Unassign undoes Confirm for port only, used when a confirmed Bus later
// fails. The unassigned bus is re-added to its candidate ports exactly as
// in AddBuses, producing new Candidates where feasibility newly holds.
func (p *Plan) Unassign(port string) []*Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()

	ps, ok := p.ports[port]
	if !ok || !ps.assigned {
		return nil
	}
	bus := ps.assignedBus
	ps.assigned = false
	ps.assignedBus = ""

	spec := p.buses[bus]
	for _, portName := range spec.Ports {
		target, ok := p.ports[portName]
		if !ok {
			target = newPortState()
			p.ports[portName] = target
		}
		if !target.hasPossible(bus) {
			target.possible = append(target.possible, bus)
		}
	}

	// Clear prior reports for this bus so it can be re-emitted.
	for _, portName := range spec.Ports {
		delete(p.reported, reportKey(bus, portName))
	}

	return p.recomputeAll()
}

// Reset clears all plan state (used by PortFinder.stop).
func (p *Plan) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buses = make(map[string]BusSpec)
	p.ports = make(map[string]*portState)
	p.reported = make(map[string]bool)
}

// Feasible reports whether (bus, port) is currently feasible. Exposed for
// tests asserting on plan-state invariants.
func (p *Plan) Feasible(bus, port string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ps, ok := p.ports[port]
	if !ok {
		return false
	}
	return ps.feasible(bus)
}
