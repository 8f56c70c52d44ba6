// Package port implements the per-serial-port search worker: it owns a
// worker goroutine, consumes candidates from the plan, tries each one over
// a fresh Modbus context, handles hot-plug and transient failure, and
// reports the first success.
package port

import (
	"sync"
	"time"

	"github.com/hahn-schickard/modbus-technology-adapter/pkg/burst"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/logger"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/modbuswire"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/plan"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/registerset"
)

// HotplugWaitTime is how long the worker sleeps before restarting a drained
// queue in which every attempt failed with NoPort — i.e. no candidate port
// was even present.
const HotplugWaitTime = 100 * time.Millisecond

// State is the per-Port worker lifecycle.
type State int

const (
	Idle State = iota
	WakingUp
	Searching
	Found
	Stopping
)

// DeviceProbe is the minimal shape a candidate bus's device needs during
// discovery: enough to address the slave and probe every readable register.
type DeviceProbe struct {
	SlaveID uint8
	Holding registerset.Set
	Input   registerset.Set
}

// Candidate is a (bus, port) pairing ready to be tried against a live
// serial port, carrying everything needed to actually probe it.
type Candidate struct {
	Plan    *plan.Candidate
	BusName string
	Port    string
	Serial  modbuswire.SerialParams
	Devices []DeviceProbe
}

func (c *Candidate) stillFeasible() bool { return c.Plan.StillFeasible() }

// outcome of a single candidate attempt.
type outcome int

const (
	outcomeFound outcome = iota
	outcomeNotFound
	outcomeNoPort
)

// Port owns one candidate serial port's worker goroutine and queue.
type Port struct {
	name    string
	factory modbuswire.Factory

	mu      sync.Mutex
	state   State
	queue   []*Candidate
	running bool
	done    chan struct{}

	onSuccess func(c *Candidate)
}

// New creates a Port in the Idle state. onSuccess is invoked from the
// worker goroutine, outside any lock, at most once per worker lifetime.
func New(name string, factory modbuswire.Factory, onSuccess func(c *Candidate)) *Port {
	return &Port{name: name, factory: factory, onSuccess: onSuccess, state: Idle}
}

func (p *Port) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// AddCandidate enqueues c. Terminal states (Found, Stopping) discard
// arriving candidates. Starting from Idle spawns the worker goroutine.
func (p *Port) AddCandidate(c *Candidate) {
	p.mu.Lock()
	if p.state == Found || p.state == Stopping {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, c)
	wasIdle := p.state == Idle
	if wasIdle {
		p.state = WakingUp
	}
	needsStart := wasIdle && !p.running
	var prev chan struct{}
	if wasIdle && p.running {
		prev = p.done
	}
	if needsStart {
		p.running = true
		p.done = make(chan struct{})
	}
	p.mu.Unlock()

	if prev != nil {
		// The previous worker already went Idle and is winding down: join
		// it, then start a fresh one unless Stop intervened meanwhile.
		<-prev
		p.mu.Lock()
		needsStart = p.state == WakingUp && !p.running
		if needsStart {
			p.running = true
			p.done = make(chan struct{})
		}
		p.mu.Unlock()
	}

	if needsStart {
		go p.search()
	}
}

// Stop signals the worker to wind down and joins it.
func (p *Port) Stop() {
	p.mu.Lock()
	wasRunning := p.running
	done := p.done
	p.state = Stopping
	p.mu.Unlock()

	if wasRunning && done != nil {
		<-done
	}
}

// Reset moves a Found port back to Idle, joining the worker first. Called
// after the confirmed bus on this port is later cancelled elsewhere.
func (p *Port) Reset() {
	p.mu.Lock()
	done := p.done
	running := p.running
	p.mu.Unlock()
	if running && done != nil {
		<-done
	}
	p.mu.Lock()
	if p.state == Found {
		p.state = Idle
	}
	p.mu.Unlock()
}

func (p *Port) search() {
	defer func() {
		p.mu.Lock()
		p.running = false
		done := p.done
		p.mu.Unlock()
		if done != nil {
			close(done)
		}
	}()

	p.mu.Lock()
	p.state = Searching
	p.mu.Unlock()

	for {
		snapshot, exit := p.drainOrIdle()
		if exit {
			return
		}

		allNoPort := true
		var found *Candidate
		for i, cand := range snapshot {
			if p.currentlyStopping() {
				p.requeueAll(snapshot[i:])
				return
			}
			if !cand.stillFeasible() {
				continue
			}

			switch p.tryCandidate(cand) {
			case outcomeFound:
				found = cand
			case outcomeNoPort:
				p.requeue(cand)
			case outcomeNotFound:
				p.requeue(cand)
				allNoPort = false
			}
			if found != nil {
				break
			}
		}

		if found != nil {
			p.mu.Lock()
			p.state = Found
			p.mu.Unlock()
			if p.onSuccess != nil {
				p.onSuccess(found)
			}
			return
		}

		if p.currentlyStopping() {
			return
		}

		if allNoPort && !p.queueEmpty() {
			time.Sleep(HotplugWaitTime)
		}
	}
}

// drainOrIdle atomically drains the queue, or — if it is empty — transitions
// the Port back to Idle and reports that the worker should exit. Folding the
// emptiness check and the Idle transition into one critical section closes
// the window where a concurrent AddCandidate could observe a non-Idle state,
// queue silently without spawning a new worker, and be stranded once this
// goroutine exits.
func (p *Port) drainOrIdle() (snapshot []*Candidate, exit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		if p.state == WakingUp || p.state == Searching {
			p.state = Idle
		}
		return nil, true
	}
	q := p.queue
	p.queue = nil
	return q, false
}

func (p *Port) requeue(c *Candidate) {
	p.mu.Lock()
	p.queue = append(p.queue, c)
	p.mu.Unlock()
}

func (p *Port) requeueAll(cands []*Candidate) {
	p.mu.Lock()
	p.queue = append(p.queue, cands...)
	p.mu.Unlock()
}

func (p *Port) queueEmpty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) == 0
}

func (p *Port) currentlyStopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == Stopping
}

// tryCandidate connects, then probes every device's readable registers with
// a 1-register read, per §4.5 step 4.
func (p *Port) tryCandidate(c *Candidate) outcome {
	ctx, err := p.factory.NewContext(p.name, c.Serial)
	if err != nil {
		return outcomeNoPort
	}
	if err := ctx.Connect(); err != nil {
		return outcomeNoPort
	}
	defer ctx.Close()

	for _, dev := range c.Devices {
		if err := ctx.SelectDevice(dev.SlaveID); err != nil {
			return outcomeNotFound
		}
		if !probeAll(ctx, dev.Holding, burst.Holding) || !probeAll(ctx, dev.Input, burst.Input) {
			return outcomeNotFound
		}
	}
	return outcomeFound
}

func probeAll(ctx modbuswire.Context, regs registerset.Set, kind burst.Kind) bool {
	buf := make([]uint16, 1)
	for _, r := range regs.Iterate() {
		n, err := ctx.ReadRegisters(r, kind, 1, buf)
		if err != nil || n == 0 {
			logger.LogDebug("probe register %d (%s) failed: %v", r, kind, err)
			return false
		}
	}
	return true
}
