// Package config loads and validates the JSON bus/device configuration
// document: a top-level array of buses, each carrying its candidate serial
// ports, line parameters, and the device tree to build on confirmation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	adaptererrors "github.com/hahn-schickard/modbus-technology-adapter/pkg/errors"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/logger"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/model"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/modbuswire"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/portfinder"
	"github.com/hahn-schickard/modbus-technology-adapter/pkg/registerset"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 0
)

// Document holds the decoded buses. Parse accepts either a top-level array
// of buses or an object wrapping that array under "buses".
type Document struct {
	Buses []busDoc `json:"buses"`
}

type busDoc struct {
	PossibleSerialPorts []string    `json:"possible_serial_ports"`
	Baud                int         `json:"baud"`
	Parity              string      `json:"parity"`
	DataBits            int         `json:"data_bits"`
	StopBits            int         `json:"stop_bits"`
	TimeoutMS           int         `json:"timeout_ms"`
	Devices             []deviceDoc `json:"devices"`
}

type deviceDoc struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Description      string       `json:"description"`
	SlaveID          uint8        `json:"slave_id"`
	BurstSize        uint16       `json:"burst_size"`
	MaxRetries       *int         `json:"max_retries,omitempty"`
	RetryDelayMS     *int         `json:"retry_delay,omitempty"`
	HoldingRegisters []rangeDoc   `json:"holding_registers"`
	InputRegisters   []rangeDoc   `json:"input_registers"`
	Elements         []elementDoc `json:"elements"`
}

type rangeDoc struct {
	Begin uint16 `json:"begin"`
	End   uint16 `json:"end"`
}

type elementDoc struct {
	ElementType string       `json:"element_type"` // "readable" | "group"
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Registers   []uint16     `json:"registers,omitempty"`
	Decoder     *decoderDoc  `json:"decoder,omitempty"`
	Elements    []elementDoc `json:"elements,omitempty"` // groups only
}

type decoderDoc struct {
	Type   string  `json:"type"` // "linear" | "float"
	Factor float64 `json:"factor"`
	Offset float64 `json:"offset"`
}

// Load reads and parses path, then validates the result. Returns buses ready
// to hand to portfinder.PortFinder.AddBuses/Adapter.Start.
func Load(path string) ([]portfinder.BusConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, adaptererrors.NewConfigurationError("config.load", err, path)
	}
	return Parse(data)
}

// Parse decodes raw JSON into validated bus configurations.
func Parse(data []byte) ([]portfinder.BusConfig, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc.Buses); err != nil {
		doc = Document{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, adaptererrors.NewConfigurationError("config.parse", err, "")
		}
	}

	if len(doc.Buses) == 0 {
		return nil, adaptererrors.NewConfigurationError("config.parse", fmt.Errorf("no buses configured"), "buses")
	}

	buses := make([]portfinder.BusConfig, len(doc.Buses))
	for i, bd := range doc.Buses {
		bus, err := convertBus(bd)
		if err != nil {
			return nil, err
		}
		buses[i] = bus
	}

	logger.LogInfo("loaded %d bus(es) from configuration", len(buses))
	return buses, nil
}

func convertBus(bd busDoc) (portfinder.BusConfig, error) {
	if len(bd.PossibleSerialPorts) == 0 {
		return portfinder.BusConfig{}, adaptererrors.NewConfigurationError("config.bus", fmt.Errorf("at least one candidate port is required"), "possible_serial_ports")
	}
	if len(bd.Devices) == 0 {
		return portfinder.BusConfig{}, adaptererrors.NewConfigurationError("config.bus", fmt.Errorf("at least one device is required"), "devices")
	}
	seen := make(map[string]bool, len(bd.PossibleSerialPorts))
	for _, p := range bd.PossibleSerialPorts {
		if seen[p] {
			return portfinder.BusConfig{}, adaptererrors.NewConfigurationError("config.bus", fmt.Errorf("duplicate candidate port %q", p), "possible_serial_ports")
		}
		seen[p] = true
	}

	parity, err := parseParity(bd.Parity)
	if err != nil {
		return portfinder.BusConfig{}, err
	}

	timeout := time.Duration(bd.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Second
	}

	devices := make([]model.Device, len(bd.Devices))
	for i, dd := range bd.Devices {
		dev, err := convertDevice(dd)
		if err != nil {
			return portfinder.BusConfig{}, err
		}
		devices[i] = dev
	}

	name := fmt.Sprintf("bus(%v)", bd.PossibleSerialPorts)
	return portfinder.BusConfig{
		Name:  name,
		Ports: bd.PossibleSerialPorts,
		Serial: modbuswire.SerialParams{
			Baud:     bd.Baud,
			Parity:   parity,
			DataBits: bd.DataBits,
			StopBits: bd.StopBits,
			Timeout:  timeout,
		},
		Devices: devices,
	}, nil
}

func parseParity(s string) (modbuswire.Parity, error) {
	switch s {
	case "Even":
		return modbuswire.ParityEven, nil
	case "Odd":
		return modbuswire.ParityOdd, nil
	case "None":
		return modbuswire.ParityNone, nil
	default:
		return "", adaptererrors.NewConfigurationError("config.bus", fmt.Errorf("parity must be one of Even, Odd, None, got %q", s), "parity")
	}
}

func convertDevice(dd deviceDoc) (model.Device, error) {
	if dd.ID == "" {
		return model.Device{}, adaptererrors.NewConfigurationError("config.device", fmt.Errorf("id is required"), "id")
	}
	if dd.BurstSize == 0 {
		return model.Device{}, adaptererrors.NewConfigurationError("config.device", fmt.Errorf("burst_size must be >= 1"), "burst_size")
	}

	maxRetries := defaultMaxRetries
	if dd.MaxRetries != nil {
		maxRetries = *dd.MaxRetries
	}
	retryDelay := defaultRetryDelay
	if dd.RetryDelayMS != nil {
		retryDelay = *dd.RetryDelayMS
	}

	holding := registerset.New(toRanges(dd.HoldingRegisters)...)
	input := registerset.New(toRanges(dd.InputRegisters)...)

	root := model.Group{Name: "root"}
	if err := convertElements(dd.Elements, &root, holding, input); err != nil {
		return model.Device{}, err
	}

	return model.Device{
		ID:          dd.ID,
		SlaveID:     dd.SlaveID,
		Name:        dd.Name,
		Description: dd.Description,
		MaxBurst:    dd.BurstSize,
		MaxRetries:  maxRetries,
		RetryDelay:  retryDelay,
		Holding:     holding,
		Input:       input,
		Root:        root,
	}, nil
}

func toRanges(rs []rangeDoc) []registerset.Range {
	out := make([]registerset.Range, len(rs))
	for i, r := range rs {
		out[i] = registerset.Range{Begin: r.Begin, End: r.End}
	}
	return out
}

func convertElements(elements []elementDoc, into *model.Group, holding, input registerset.Set) error {
	for _, el := range elements {
		switch el.ElementType {
		case "readable":
			readable, err := convertReadable(el, holding, input)
			if err != nil {
				return err
			}
			into.Readables = append(into.Readables, readable)
		case "group":
			sub := model.Group{Name: el.Name, Description: el.Description}
			if err := convertElements(el.Elements, &sub, holding, input); err != nil {
				return err
			}
			into.Groups = append(into.Groups, sub)
		default:
			return adaptererrors.NewConfigurationError("config.element", fmt.Errorf("unknown element_type %q", el.ElementType), "element_type")
		}
	}
	return nil
}

func convertReadable(el elementDoc, holding, input registerset.Set) (model.Readable, error) {
	for _, reg := range el.Registers {
		if !holding.Contains(reg) && !input.Contains(reg) {
			return model.Readable{}, adaptererrors.NewConfigurationError(
				"config.readable", fmt.Errorf("register %d used by readable %q is not in holding or input set", reg, el.Name), "registers")
		}
	}

	decoder, dataType, err := convertDecoder(el.Decoder)
	if err != nil {
		return model.Readable{}, err
	}

	return model.Readable{
		Name:        el.Name,
		Description: el.Description,
		Type:        dataType,
		Registers:   el.Registers,
		Decoder:     decoder,
	}, nil
}

func convertDecoder(d *decoderDoc) (model.Decoder, model.DataType, error) {
	if d == nil {
		return nil, 0, adaptererrors.NewConfigurationError("config.decoder", fmt.Errorf("decoder is required"), "decoder")
	}
	switch d.Type {
	case "linear":
		dec := model.LinearDecoder{Factor: d.Factor, Offset: d.Offset}
		return dec, dec.DataType(), nil
	case "float":
		dec := model.FloatDecoder{}
		return dec, dec.DataType(), nil
	default:
		return nil, 0, adaptererrors.NewConfigurationError("config.decoder", fmt.Errorf("unknown decoder type %q", d.Type), "decoder.type")
	}
}
