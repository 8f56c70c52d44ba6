package adapter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hahn-schickard/modbus-technology-adapter/pkg/model"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/modbuswire"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/portfinder"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/registerset"
)

type recordingRegistry struct {
	mu           sync.Mutex
	registered   []string
	deregistered []string
}

func (r *recordingRegistry) Register(ctx context.Context, d model.Device) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, d.ID)
	return true, nil
}

func (r *recordingRegistry) Deregister(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deregistered = append(r.deregistered, id)
	return true, nil
}

func (r *recordingRegistry) count(list *[]string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(*list)
}

type passthroughBuilder struct {
	device model.Device
}

func (b *passthroughBuilder) BuildDeviceBase(id, name, description string) {
	b.device = model.Device{ID: id, Name: name, Description: description}
}
func (b *passthroughBuilder) AddDeviceElementGroup(name, description string) string { return name }
func (b *passthroughBuilder) AddReadableMetric(groupID, name, description string, dt model.DataType, fn model.ReadFunc) string {
	return name
}
func (b *passthroughBuilder) GetResult() (model.Device, error) { return b.device, nil }

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func oneDevice(id string, slave uint8) model.Device {
	holding := registerset.FromIndices(1)
	readable := model.Readable{Name: "metric", Registers: []uint16{1}, Decoder: model.LinearDecoder{Factor: 1}}
	return model.Device{
		ID:       id,
		SlaveID:  slave,
		Name:     id,
		MaxBurst: 5,
		Holding:  holding,
		Root:     model.Group{Name: "root", Readables: []model.Readable{readable}},
	}
}

func TestAdapterDiscoversAndBuildsModel(t *testing.T) {
	vf := modbuswire.NewVirtualFactory()
	vf.PortUp["p1"] = true
	vf.Slaves[1] = modbuswire.VirtualRegisters{Holding: map[uint16]uint16{1: 99}}

	reg := &recordingRegistry{}
	a := New(vf, reg, func() model.DeviceBuilder { return &passthroughBuilder{} })

	a.Start([]portfinder.BusConfig{{
		Name:    "bus1",
		Ports:   []string{"p1"},
		Devices: []model.Device{oneDevice("dev1", 1)},
	}})

	waitUntil(t, time.Second, func() bool { return reg.count(&reg.registered) == 1 })
	if reg.registered[0] != "dev1" {
		t.Fatalf("expected dev1 registered, got %v", reg.registered)
	}

	a.Stop()
	waitUntil(t, time.Second, func() bool { return reg.count(&reg.deregistered) == 1 })
}

func TestAdapterRediscoversAfterBusAbort(t *testing.T) {
	vf := modbuswire.NewVirtualFactory()
	vf.PortUp["p1"] = true
	vf.Slaves[1] = modbuswire.VirtualRegisters{Holding: map[uint16]uint16{1: 99}}

	reg := &recordingRegistry{}
	var mu sync.Mutex
	var lastRead model.ReadFunc
	builder := func() model.DeviceBuilder {
		return &capturingBuilder{onRead: func(fn model.ReadFunc) {
			mu.Lock()
			lastRead = fn
			mu.Unlock()
		}}
	}
	a := New(vf, reg, builder)

	a.Start([]portfinder.BusConfig{{
		Name:    "bus1",
		Ports:   []string{"p1"},
		Devices: []model.Device{oneDevice("dev1", 1)},
	}})

	waitUntil(t, time.Second, func() bool { return reg.count(&reg.registered) == 1 })

	// Simulate the peer vanishing: reads now return zero-count, which the
	// bus treats as a fatal protocol error and aborts on.
	vf.Slaves[1] = modbuswire.VirtualRegisters{} // no registers -> zero-count reads

	mu.Lock()
	rf := lastRead
	mu.Unlock()
	if rf == nil {
		t.Fatal("expected a captured read function")
	}
	if _, err := rf(context.Background()); err == nil {
		t.Fatal("expected the metric read to fail once the device vanishes")
	}

	waitUntil(t, time.Second, func() bool { return reg.count(&reg.deregistered) == 1 })

	// Bring it back and confirm the finder re-confirms and rebuilds.
	vf.Slaves[1] = modbuswire.VirtualRegisters{Holding: map[uint16]uint16{1: 99}}
	waitUntil(t, 2*time.Second, func() bool { return reg.count(&reg.registered) == 2 })

	a.Stop()
}

type capturingBuilder struct {
	device model.Device
	onRead func(model.ReadFunc)
}

func (b *capturingBuilder) BuildDeviceBase(id, name, description string) {
	b.device = model.Device{ID: id, Name: name, Description: description}
}
func (b *capturingBuilder) AddDeviceElementGroup(name, description string) string { return name }
func (b *capturingBuilder) AddReadableMetric(groupID, name, description string, dt model.DataType, fn model.ReadFunc) string {
	b.onRead(fn)
	return name
}
func (b *capturingBuilder) GetResult() (model.Device, error) { return b.device, nil }
