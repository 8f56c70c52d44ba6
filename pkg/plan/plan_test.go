package plan

import (
	"testing"

	"github.com/hahn-schickard/modbus-technology-adapter/pkg/registerset"
)

func oneReg(idx uint16) registerset.Set { return registerset.FromIndices(idx) }

func TestSingleBusSingleCandidatePort(t *testing.T) {
	p := New()
	bus := BusSpec{
		Name:  "bus",
		Ports: []string{"p1"},
		Devices: []DeviceSpec{{SlaveID: 1, Registers: oneReg(1)}},
	}

	cands := p.AddBuses([]BusSpec{bus})
	if len(cands) != 1 {
		t.Fatalf("expected exactly one candidate, got %d", len(cands))
	}
	if cands[0].Bus != "bus" || cands[0].Port != "p1" {
		t.Fatalf("unexpected candidate: %+v", cands[0])
	}

	more := cands[0].Confirm()
	if len(more) != 0 {
		t.Fatalf("expected no further candidates after confirm, got %d", len(more))
	}
	if p.Feasible("bus", "p1") {
		t.Fatal("port should no longer be feasible after confirm")
	}
}

func TestTwoIndistinguishableBuses(t *testing.T) {
	p := New()
	a := BusSpec{Name: "A", Ports: []string{"p1", "p2"}, Devices: []DeviceSpec{{SlaveID: 1, Registers: oneReg(1)}}}
	b := BusSpec{Name: "B", Ports: []string{"p1", "p2"}, Devices: []DeviceSpec{{SlaveID: 1, Registers: oneReg(1)}}}

	cands := p.AddBuses([]BusSpec{a, b})
	if len(cands) != 0 {
		t.Fatalf("expected zero candidates for indistinguishable buses, got %d: %+v", len(cands), cands)
	}
}

func TestCommonGeneralizationPattern(t *testing.T) {
	p := New()
	a := BusSpec{Name: "A", Ports: []string{"p1", "p2", "p3"}, Devices: []DeviceSpec{{SlaveID: 1, Registers: oneReg(1)}}}
	b := BusSpec{Name: "B", Ports: []string{"p1", "p2", "p3"}, Devices: []DeviceSpec{{SlaveID: 2, Registers: oneReg(1)}}}
	ab := BusSpec{
		Name:  "AB",
		Ports: []string{"p1", "p2", "p3"},
		Devices: []DeviceSpec{
			{SlaveID: 1, Registers: oneReg(1)},
			{SlaveID: 2, Registers: oneReg(1)},
		},
	}

	cands := p.AddBuses([]BusSpec{a, b, ab})
	if len(cands) != 3 {
		t.Fatalf("expected 3 candidates for bus_AB, got %d: %+v", len(cands), cands)
	}
	for _, c := range cands {
		if c.Bus != "AB" {
			t.Fatalf("expected all initial candidates to be for AB, got %+v", c)
		}
	}

	var onP2 *Candidate
	for _, c := range cands {
		if c.Port == "p2" {
			onP2 = c
		}
	}
	if onP2 == nil {
		t.Fatal("expected a candidate for AB on p2")
	}

	freed := onP2.Confirm()
	if len(freed) != 4 {
		t.Fatalf("expected A and B to become feasible on p1 and p3 (4 candidates), got %d: %+v", len(freed), freed)
	}
	seen := map[string]bool{}
	for _, c := range freed {
		seen[c.Bus+"@"+c.Port] = true
	}
	for _, want := range []string{"A@p1", "A@p3", "B@p1", "B@p3"} {
		if !seen[want] {
			t.Errorf("expected freed candidate %s, got %+v", want, freed)
		}
	}
}

func TestConfirmThenUnassignRestoresFeasibility(t *testing.T) {
	p := New()
	bus := BusSpec{Name: "bus", Ports: []string{"p1"}, Devices: []DeviceSpec{{SlaveID: 1, Registers: oneReg(1)}}}
	cands := p.AddBuses([]BusSpec{bus})
	cands[0].Confirm()

	if p.Feasible("bus", "p1") {
		t.Fatal("should not be feasible while assigned")
	}

	restored := p.Unassign("p1")
	if len(restored) != 1 || restored[0].Bus != "bus" || restored[0].Port != "p1" {
		t.Fatalf("expected bus to become feasible again on p1, got %+v", restored)
	}
	if !p.Feasible("bus", "p1") {
		t.Fatal("expected feasible(bus, p1) after unassign")
	}
}

func TestCandidateStillFeasibleAtEmission(t *testing.T) {
	p := New()
	bus := BusSpec{Name: "bus", Ports: []string{"p1"}, Devices: []DeviceSpec{{SlaveID: 1, Registers: oneReg(1)}}}
	cands := p.AddBuses([]BusSpec{bus})
	for _, c := range cands {
		if !c.StillFeasible() {
			t.Fatalf("candidate %+v should be feasible at emission", c)
		}
	}
}

func TestAtMostOneBusAssignedPerPortAndViceVersa(t *testing.T) {
	p := New()
	a := BusSpec{Name: "A", Ports: []string{"p1", "p2"}, Devices: []DeviceSpec{{SlaveID: 1, Registers: oneReg(1)}}}
	cands := p.AddBuses([]BusSpec{a})
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates (one per port), got %d", len(cands))
	}
	cands[0].Confirm()
	// The other port's candidate for the same bus must no longer be feasible.
	for _, c := range cands[1:] {
		if c.StillFeasible() {
			t.Fatal("bus already assigned elsewhere must not remain feasible on another port")
		}
	}
}
