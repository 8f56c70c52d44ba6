package bus

import (
	"context"
	"sync"
	"testing"

	adaptererrors "github.com/hahn-schickard/modbus-technology-adapter/pkg/errors"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/logger"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/model"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/registerset"

	"github.com/hahn-schickard/modbus-technology-adapter/pkg/burst"
)

// fakeContext lets tests script exact read outcomes.
type fakeContext struct {
	mu         sync.Mutex
	connected  bool
	readErr    error // if set, every ReadRegisters call fails with this error
	readValue  uint16
	closeCalls int
}

func (c *fakeContext) Connect() error          { c.connected = true; return nil }
func (c *fakeContext) Close()                  { c.mu.Lock(); c.closeCalls++; c.connected = false; c.mu.Unlock() }
func (c *fakeContext) SelectDevice(uint8) error { return nil }
func (c *fakeContext) ReadRegisters(addr uint16, kind burst.Kind, count uint16, buf []uint16) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return 0, c.readErr
	}
	for i := range buf[:count] {
		buf[i] = c.readValue
	}
	return int(count), nil
}

type fakeRegistry struct {
	mu          sync.Mutex
	registered  []string
	deregistered []string
}

func (r *fakeRegistry) Register(ctx context.Context, d model.Device) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, d.ID)
	return true, nil
}

func (r *fakeRegistry) Deregister(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deregistered = append(r.deregistered, id)
	return true, nil
}

type fakeBuilder struct {
	device model.Device
}

func (b *fakeBuilder) BuildDeviceBase(id, name, description string) {
	b.device = model.Device{ID: id, Name: name, Description: description}
}
func (b *fakeBuilder) AddDeviceElementGroup(name, description string) string { return name }
func (b *fakeBuilder) AddReadableMetric(groupID, name, description string, dt model.DataType, fn model.ReadFunc) string {
	return name
}
func (b *fakeBuilder) GetResult() (model.Device, error) { return b.device, nil }

type fakeOwner struct {
	cancelled []string
}

func (o *fakeOwner) CancelBus(port string) { o.cancelled = append(o.cancelled, port) }

func testDevice() model.Device {
	holding := registerset.FromIndices(1)
	readable := model.Readable{
		Name:      "metric",
		Registers: []uint16{1},
		Decoder:   model.LinearDecoder{Factor: 1, Offset: 0},
	}
	return model.Device{
		ID:       "dev1",
		SlaveID:  1,
		Name:     "dev1",
		MaxBurst: 5,
		Holding:  holding,
		Root:     model.Group{Name: "root", Readables: []model.Readable{readable}},
	}
}

func TestBusBuildModelAndReadMetric(t *testing.T) {
	ctx := &fakeContext{readValue: 7}
	reg := &fakeRegistry{}
	owner := &fakeOwner{}
	b := New(owner, "p1", ctx, Config{Port: "p1", Devices: []model.Device{testDevice()}}, reg)

	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fb := &captureBuilder{}
	if err := b.BuildModel(context.Background(), func() model.DeviceBuilder { return fb }); err != nil {
		t.Fatalf("BuildModel: %v", err)
	}
	if len(reg.registered) != 1 || reg.registered[0] != "dev1" {
		t.Fatalf("expected dev1 registered, got %v", reg.registered)
	}
	if fb.lastRead == nil {
		t.Fatal("expected a read callback to have been captured")
	}
	v, err := fb.lastRead(context.Background())
	if err != nil {
		t.Fatalf("metric read: %v", err)
	}
	if v != 7 {
		t.Fatalf("metric value = %v, want 7", v)
	}
}

type captureBuilder struct {
	fakeBuilder
	lastRead model.ReadFunc
}

func (b *captureBuilder) AddReadableMetric(groupID, name, description string, dt model.DataType, fn model.ReadFunc) string {
	b.lastRead = fn
	return name
}

func TestBusAbortsAfterExhaustedRetries(t *testing.T) {
	ctx := &fakeContext{readErr: adaptererrors.NewTransportError("read", errTimeout{}, "p1", adaptererrors.Retryable)}
	reg := &fakeRegistry{}
	owner := &fakeOwner{}
	b := New(owner, "p1", ctx, Config{Port: "p1", Devices: []model.Device{testDevice()}}, reg)
	b.Start()

	fb := &captureBuilder{}
	if err := b.BuildModel(context.Background(), func() model.DeviceBuilder { return fb }); err != nil {
		t.Fatalf("BuildModel: %v", err)
	}

	_, err := fb.lastRead(context.Background())
	if err == nil {
		t.Fatal("expected a read error after exhausting retries")
	}
	if b.Connected() {
		t.Fatal("bus should no longer be connected after abort")
	}
	if len(reg.deregistered) != 1 || reg.deregistered[0] != "dev1" {
		t.Fatalf("expected dev1 deregistered, got %v", reg.deregistered)
	}
	if len(owner.cancelled) != 1 || owner.cancelled[0] != "p1" {
		t.Fatalf("expected owner.CancelBus(p1), got %v", owner.cancelled)
	}

	// A later read must fail cleanly with a lifecycle error, not panic or
	// touch the closed context.
	if _, err := fb.lastRead(context.Background()); err == nil {
		t.Fatal("expected DeviceDeregistered-style error on read after abort")
	}
}

type errTimeout struct{}

func (errTimeout) Error() string { return "i/o timeout" }

func TestBusAbortLogsThroughInjectedLogger(t *testing.T) {
	ctx := &fakeContext{readErr: adaptererrors.NewTransportError("read", errTimeout{}, "p1", adaptererrors.Retryable)}
	reg := &fakeRegistry{}
	owner := &fakeOwner{}
	mock := logger.NewMockLogger()
	b := New(owner, "p1", ctx, Config{Port: "p1", Devices: []model.Device{testDevice()}}, reg).WithLogger(mock)
	b.Start()

	fb := &captureBuilder{}
	if err := b.BuildModel(context.Background(), func() model.DeviceBuilder { return fb }); err != nil {
		t.Fatalf("BuildModel: %v", err)
	}

	if _, err := fb.lastRead(context.Background()); err == nil {
		t.Fatal("expected a read error after exhausting retries")
	}

	if !mock.HasErrorMessage() {
		t.Fatal("expected abort to log an error message through the injected logger")
	}
}
