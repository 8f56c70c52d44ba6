package port

import (
	"testing"
	"time"

	"github.com/hahn-schickard/modbus-technology-adapter/pkg/modbuswire"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/plan"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/registerset"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestPortFindsCandidateOnLiveWire(t *testing.T) {
	vf := modbuswire.NewVirtualFactory()
	vf.PortUp["p1"] = true
	vf.Slaves[1] = modbuswire.VirtualRegisters{Holding: map[uint16]uint16{1: 42}}

	pl := plan.New()
	bus := plan.BusSpec{Name: "bus", Ports: []string{"p1"}, Devices: []plan.DeviceSpec{{SlaveID: 1, Registers: registerset.FromIndices(1)}}}
	cands := pl.AddBuses([]plan.BusSpec{bus})
	if len(cands) != 1 {
		t.Fatalf("expected one plan candidate, got %d", len(cands))
	}

	var found *Candidate
	p := New("p1", vf, func(c *Candidate) { found = c })
	p.AddCandidate(&Candidate{
		Plan:    cands[0],
		BusName: "bus",
		Port:    "p1",
		Devices: []DeviceProbe{{SlaveID: 1, Holding: registerset.FromIndices(1)}},
	})

	waitFor(t, time.Second, func() bool { return p.State() == Found })
	if found == nil || found.BusName != "bus" {
		t.Fatalf("expected success callback with the bus candidate, got %+v", found)
	}
}

func TestPortNeverFindsCandidateWhenPortAbsent(t *testing.T) {
	vf := modbuswire.NewVirtualFactory() // port never marked up

	pl := plan.New()
	bus := plan.BusSpec{Name: "bus", Ports: []string{"p1"}, Devices: []plan.DeviceSpec{{SlaveID: 1, Registers: registerset.FromIndices(1)}}}
	cands := pl.AddBuses([]plan.BusSpec{bus})

	p := New("p1", vf, func(c *Candidate) {})
	p.AddCandidate(&Candidate{
		Plan:    cands[0],
		BusName: "bus",
		Port:    "p1",
		Devices: []DeviceProbe{{SlaveID: 1, Holding: registerset.FromIndices(1)}},
	})

	// Give the worker a moment to attempt (and fail with NoPort, requeue,
	// sleep) then stop it — it must not reach Found.
	time.Sleep(20 * time.Millisecond)
	if p.State() == Found {
		t.Fatal("must not find a candidate when the port never comes up")
	}
	p.Stop()
}

func TestStopIsIdempotent(t *testing.T) {
	vf := modbuswire.NewVirtualFactory()
	p := New("p1", vf, func(c *Candidate) {})
	p.Stop()
	p.Stop()
}
