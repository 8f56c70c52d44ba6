// Package bus implements the per-bound-port runtime: it owns a single
// Modbus context, builds the external device/metric model, serializes
// register reads across metrics, retries transient failures, and aborts
// the bus (deregistering its devices and asking its owner to cancel it) on
// unrecoverable failure.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hahn-schickard/modbus-technology-adapter/pkg/burst"
	adaptererrors "github.com/hahn-schickard/modbus-technology-adapter/pkg/errors"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/logger"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/metrics"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/model"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/modbuswire"
)

// NumReadAttempts is the number of per-burst attempts before a metric read
// is abandoned and the bus is aborted.
const NumReadAttempts = 3

// Owner is implemented by the Adapter: told to remove this bus from its map
// and unassign its port when the bus aborts.
type Owner interface {
	CancelBus(port string)
}

// HealthRecorder is the subset of health.BusHealthMonitor the bus needs; kept
// as a local interface so this package never imports pkg/health directly.
type HealthRecorder interface {
	RecordSuccess()
	RecordError() (shouldMarkOffline bool)
}

type noopHealth struct{}

func (noopHealth) RecordSuccess()            {}
func (noopHealth) RecordError() bool         { return false }

// Config is everything needed to build one bus's model: its devices and
// how to reach them.
type Config struct {
	Port    string
	Devices []model.Device
}

// Bus is the per-bound-port runtime.
type Bus struct {
	owner  Owner
	port   string
	ctx    modbuswire.Context
	config Config

	mu        sync.Mutex // serializes every context access, held across a full transaction
	connected bool
	registry  model.DeviceRegistry
	deviceIDs []string
	metrics   metrics.Collector
	health    HealthRecorder
	log       logger.ILogger
	errs      *adaptererrors.ErrorHandler

	abortOnce sync.Once
}

// New constructs a Bus around an already-obtained Modbus context.
func New(owner Owner, port string, ctx modbuswire.Context, config Config, registry model.DeviceRegistry) *Bus {
	return &Bus{
		owner: owner, port: port, ctx: ctx, config: config, registry: registry,
		metrics: metrics.NewNullMetrics(), health: noopHealth{}, log: logger.NewStandardLogger(),
		errs: adaptererrors.NewErrorHandler(nil),
	}
}

// WithMetrics attaches a Collector the bus reports read/connection/abort
// events to. Defaults to a no-op collector if never called.
func (b *Bus) WithMetrics(m metrics.Collector) *Bus {
	b.metrics = m
	return b
}

// WithHealth attaches a HealthRecorder the bus reports read outcomes to.
// Defaults to a no-op recorder if never called.
func (b *Bus) WithHealth(h HealthRecorder) *Bus {
	b.health = h
	return b
}

// WithLogger overrides the logger the bus reports lifecycle events to.
// Defaults to the standard global logger; tests substitute a
// logger.MockLogger to assert on emitted messages without a live logger.
func (b *Bus) WithLogger(l logger.ILogger) *Bus {
	b.log = l
	return b
}

// WithDiagnostics routes abort causes through an ErrorHandler that also
// publishes a diagnostic code/message pair via pub, in addition to the
// severity-appropriate log line every abort already gets. Defaults to a
// handler with no publisher (log-only) if never called.
func (b *Bus) WithDiagnostics(pub adaptererrors.DiagnosticPublisher) *Bus {
	b.errs = adaptererrors.NewErrorHandler(pub)
	return b
}

// Start connects the underlying context.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ctx.Connect(); err != nil {
		return adaptererrors.NewTransportError("bus.Start", err, b.port, adaptererrors.NonRetryable)
	}
	b.connected = true
	b.metrics.SetBusConnected(b.port, true)
	return nil
}

// Stop deregisters devices and closes the context. Idempotent.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return
	}
	ids := b.deviceIDs
	b.deviceIDs = nil
	b.connected = false
	b.ctx.Close()
	b.mu.Unlock()

	b.metrics.SetBusConnected(b.port, false)
	for _, id := range ids {
		if _, err := b.registry.Deregister(context.Background(), id); err != nil {
			b.log.LogWarn("failed to deregister device %q on stop: %v", id, err)
		}
	}
	b.metrics.SetDevicesRegistered(b.port, 0)
}

// BuildModel walks the bus's devices, registers each with builder, and
// publishes the completed device to the registry. Any failure triggers
// abort.
func (b *Bus) BuildModel(ctx context.Context, builder func() model.DeviceBuilder) error {
	for _, dev := range b.config.Devices {
		db := builder()
		db.BuildDeviceBase(dev.ID, dev.Name, dev.Description)
		if err := b.registerGroup(db, "", dev.Root, dev); err != nil {
			b.Abort(err)
			return err
		}
		built, err := db.GetResult()
		if err != nil {
			b.Abort(err)
			return err
		}
		ok, err := b.registry.Register(ctx, built)
		if err != nil || !ok {
			rerr := adaptererrors.NewRegistryError("build_model.register", err, dev.ID)
			b.Abort(rerr)
			return rerr
		}
		b.mu.Lock()
		b.deviceIDs = append(b.deviceIDs, dev.ID)
		count := len(b.deviceIDs)
		b.mu.Unlock()
		b.metrics.SetDevicesRegistered(b.port, count)
	}
	return nil
}

func (b *Bus) registerGroup(db model.DeviceBuilder, parentGroupID string, g model.Group, dev model.Device) error {
	groupID := db.AddDeviceElementGroup(g.Name, g.Description)
	for _, readable := range g.Readables {
		buf, err := burst.NewBuffer(readable.Registers, dev.Holding, dev.Input, dev.MaxBurst)
		if err != nil {
			return err
		}
		slaveID := dev.SlaveID
		task := readable
		readFn := func(ctx context.Context) (float64, error) {
			return b.readMetric(ctx, slaveID, dev.ID, buf, task.Decoder)
		}
		db.AddReadableMetric(groupID, readable.Name, readable.Description, readable.Type, readFn)
	}
	for _, sub := range g.Groups {
		if err := b.registerGroup(db, groupID, sub, dev); err != nil {
			return err
		}
	}
	return nil
}

// readMetric is the metric read callback: under the context mutex, selects
// the slave, reads every burst (up to NumReadAttempts attempts when
// failures are transient), gathers the task buffer and hands it to decoder.
func (b *Bus) readMetric(ctx context.Context, slaveID uint8, deviceID string, buf *burst.Buffer, decoder model.Decoder) (float64, error) {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return 0, adaptererrors.NewLifecycleError("read_metric", deviceID)
	}

	if err := b.ctx.SelectDevice(slaveID); err != nil {
		b.mu.Unlock()
		aerr := adaptererrors.NewTransportError("select_device", err, b.port, adaptererrors.NonRetryable)
		b.Abort(aerr)
		return 0, aerr
	}

	offset := 0
	for _, brst := range buf.Plan.Bursts {
		start := time.Now()
		err := b.readBurstLocked(brst, buf.Padded[offset:offset+int(brst.Length)])
		b.metrics.ObserveReadDuration(b.port, time.Since(start))
		if err != nil {
			b.mu.Unlock()
			b.metrics.IncrementReadErrors(b.port, isRetryable(err))
			b.health.RecordError()
			b.Abort(err)
			return 0, err
		}
		b.metrics.IncrementReads(b.port)
		offset += int(brst.Length)
	}
	b.mu.Unlock()

	b.health.RecordSuccess()
	values := buf.Gather()
	return decoder.Decode(values)
}

func isRetryable(err error) bool {
	te, ok := err.(*adaptererrors.TransportError)
	return ok && bool(te.Retryable)
}

// readBurstLocked reads one burst into dst, making up to NumReadAttempts
// attempts while failures are retryable TransportErrors and aggregating
// short reads. Must be
// called with b.mu held.
func (b *Bus) readBurstLocked(brst burst.Burst, dst []uint16) error {
	got := 0
	attempt := 0
	for got < int(brst.Length) {
		n, err := b.ctx.ReadRegisters(brst.Start+uint16(got), brst.Kind, brst.Length-uint16(got), dst[got:])
		if err == nil && n == 0 {
			err = adaptererrors.NewProtocolError("read_registers", fmt.Errorf("zero-count response"), 0, brst.Start+uint16(got))
		}
		if err == nil {
			got += n
			continue
		}

		attempt++
		te, retryable := err.(*adaptererrors.TransportError)
		if retryable && te.Retryable && attempt < NumReadAttempts {
			continue
		}
		return err
	}
	return nil
}

// Abort deregisters every previously registered device, closes the
// context, marks the bus disconnected, and asks the owner to cancel this
// bus. Safe to call more than once; only the first call has effect.
func (b *Bus) Abort(cause error) {
	b.abortOnce.Do(func() {
		b.log.LogError("aborting bus on port %q: %v", b.port, cause)
		b.errs.Handle(context.Background(), cause)
		b.mu.Lock()
		ids := b.deviceIDs
		b.deviceIDs = nil
		wasConnected := b.connected
		b.connected = false
		if wasConnected {
			b.ctx.Close()
		}
		b.mu.Unlock()

		b.metrics.IncrementBusAborts(b.port)
		b.metrics.SetBusConnected(b.port, false)
		b.metrics.SetDevicesRegistered(b.port, 0)
		for _, id := range ids {
			if _, err := b.registry.Deregister(context.Background(), id); err != nil {
				b.log.LogWarn("failed to deregister device %q during abort: %v", id, err)
			}
		}

		if b.owner != nil {
			b.owner.CancelBus(b.port)
		}
	})
}

// Connected reports whether the bus's context is currently open.
func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// RegisteredDevices returns the ids successfully registered so far.
func (b *Bus) RegisteredDevices() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.deviceIDs))
	copy(out, b.deviceIDs)
	return out
}
