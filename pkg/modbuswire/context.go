// Package modbuswire abstracts the Modbus RTU wire so the rest of the
// adapter never depends on a concrete transport. The production
// implementation is backed by github.com/goburrow/modbus over
// github.com/goburrow/serial; tests substitute a virtual context.
package modbuswire

import (
	"fmt"
	"time"

	"github.com/goburrow/modbus"

	adaptererrors "github.com/hahn-schickard/modbus-technology-adapter/pkg/errors"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/burst"
)

// Parity mirrors the three values the configuration schema accepts.
type Parity string

const (
	ParityEven Parity = "Even"
	ParityOdd  Parity = "Odd"
	ParityNone Parity = "None"
)

// SerialParams carries the RTU line parameters for one bus.
type SerialParams struct {
	Baud       int
	Parity     Parity
	DataBits   int
	StopBits   int
	Timeout    time.Duration
	RetryDelay time.Duration
}

// Context is the per-bus Modbus transaction surface. Connect/Close manage
// the underlying serial handle; SelectDevice addresses a specific slave;
// ReadRegisters issues one burst read. ReadRegisters may return fewer
// registers than requested (actual < count); zero means the peer refused
// without raising an error.
type Context interface {
	Connect() error
	Close()
	SelectDevice(slaveID uint8) error
	ReadRegisters(addr uint16, kind burst.Kind, count uint16, buf []uint16) (actual int, err error)
}

// Factory produces a Context for a named port and its bus configuration.
// Injectable so tests can substitute a virtual context instead of opening
// a real serial port.
type Factory interface {
	NewContext(portName string, params SerialParams) (Context, error)
}

// RTUFactory is the production Factory, backed by goburrow/modbus's RTU
// client handler over goburrow/serial.
type RTUFactory struct{}

func (RTUFactory) NewContext(portName string, params SerialParams) (Context, error) {
	handler := modbus.NewRTUClientHandler(portName)
	handler.BaudRate = params.Baud
	handler.DataBits = params.DataBits
	handler.StopBits = params.StopBits
	handler.Parity = parityByte(params.Parity)
	if params.Timeout > 0 {
		handler.Timeout = params.Timeout
	} else {
		handler.Timeout = time.Second
	}

	return &rtuContext{
		handler:    handler,
		client:     modbus.NewClient(handler),
		retryDelay: params.RetryDelay,
	}, nil
}

func parityByte(p Parity) string {
	switch p {
	case ParityEven:
		return "E"
	case ParityOdd:
		return "O"
	default:
		return "N"
	}
}

type rtuContext struct {
	handler    *modbus.RTUClientHandler
	client     modbus.Client
	retryDelay time.Duration
}

func (c *rtuContext) Connect() error {
	return c.handler.Connect()
}

func (c *rtuContext) Close() {
	_ = c.handler.Close()
}

func (c *rtuContext) SelectDevice(slaveID uint8) error {
	c.handler.SlaveId = slaveID
	return nil
}

func (c *rtuContext) ReadRegisters(addr uint16, kind burst.Kind, count uint16, buf []uint16) (int, error) {
	if c.retryDelay > 0 {
		time.Sleep(c.retryDelay)
	}

	var (
		raw []byte
		err error
	)
	switch kind {
	case burst.Holding:
		raw, err = c.client.ReadHoldingRegisters(addr, count)
	default:
		raw, err = c.client.ReadInputRegisters(addr, count)
	}
	if err != nil {
		return 0, classify(err, addr)
	}

	n := len(raw) / 2
	for i := 0; i < n && i < len(buf); i++ {
		buf[i] = uint16(raw[2*i])<<8 | uint16(raw[2*i+1])
	}
	return n, nil
}

// classify maps a goburrow/modbus error onto the adapter's retryable/fatal
// TransportError distinction (§7): device-busy and memory-parity
// exceptions are retryable; illegal function/address/value, slave failure
// and unrecognized exception codes are fatal, as are timeouts. Any other
// plain handler error (CRC mismatch, short frame) is treated as retryable
// line noise.
func classify(err error, addr uint16) error {
	if me, ok := err.(*modbus.ModbusError); ok {
		switch me.ExceptionCode {
		case modbus.ExceptionCodeServerDeviceBusy, modbus.ExceptionCodeMemoryParityError:
			return adaptererrors.NewTransportError("read_registers", err, "", adaptererrors.Retryable)
		case modbus.ExceptionCodeIllegalFunction, modbus.ExceptionCodeIllegalDataAddress,
			modbus.ExceptionCodeIllegalDataValue, modbus.ExceptionCodeServerDeviceFailure:
			return adaptererrors.NewTransportError("read_registers", err, "", adaptererrors.NonRetryable)
		default:
			return adaptererrors.NewTransportError("read_registers", err, "", adaptererrors.NonRetryable)
		}
	}
	if err.Error() == "modbus: response transaction id" || isTimeoutLike(err) {
		return adaptererrors.NewTransportError("read_registers", err, "", adaptererrors.NonRetryable)
	}
	// CRC mismatches and short frames surface as plain errors from the
	// handler; treat them as line noise and let the caller retry.
	return adaptererrors.NewTransportError(fmt.Sprintf("read_registers@%d", addr), err, "", adaptererrors.Retryable)
}

func isTimeoutLike(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}
