package modbuswire

import (
	"fmt"
	"sync"

	"github.com/hahn-schickard/modbus-technology-adapter/pkg/burst"
)

// VirtualRegisters is a slave's simulated register banks, used by tests in
// place of a real serial device.
type VirtualRegisters struct {
	Holding map[uint16]uint16
	Input   map[uint16]uint16
}

// VirtualFactory is a Factory that hands out VirtualContexts instead of
// opening real serial ports. PortUp controls whether a named port is
// "plugged in"; Slaves maps slave id -> its registers, shared across every
// context produced for a given port (so multiple candidates can probe the
// same simulated wire).
type VirtualFactory struct {
	mu     sync.Mutex
	PortUp map[string]bool
	Slaves map[uint8]VirtualRegisters
}

func NewVirtualFactory() *VirtualFactory {
	return &VirtualFactory{
		PortUp: make(map[string]bool),
		Slaves: make(map[uint8]VirtualRegisters),
	}
}

func (f *VirtualFactory) NewContext(portName string, params SerialParams) (Context, error) {
	return &VirtualContext{factory: f, port: portName}, nil
}

type VirtualContext struct {
	factory *VirtualFactory
	port    string
	slave   uint8
}

func (c *VirtualContext) Connect() error {
	c.factory.mu.Lock()
	defer c.factory.mu.Unlock()
	if up, ok := c.factory.PortUp[c.port]; !ok || !up {
		return fmt.Errorf("port %q not present", c.port)
	}
	return nil
}

func (c *VirtualContext) Close() {}

func (c *VirtualContext) SelectDevice(slaveID uint8) error {
	c.slave = slaveID
	return nil
}

func (c *VirtualContext) ReadRegisters(addr uint16, kind burst.Kind, count uint16, buf []uint16) (int, error) {
	c.factory.mu.Lock()
	defer c.factory.mu.Unlock()

	regs, ok := c.factory.Slaves[c.slave]
	if !ok {
		return 0, nil
	}
	bank := regs.Holding
	if kind == burst.Input {
		bank = regs.Input
	}

	n := 0
	for i := uint16(0); i < count; i++ {
		v, present := bank[addr+i]
		if !present {
			break
		}
		if int(i) < len(buf) {
			buf[i] = v
		}
		n++
	}
	return n, nil
}
