package gpio

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/goburrow/modbus"
)

const (
	coilOn  = 0xFF00
	coilOff = 0x0000
)

// ModbusOptions configures a ModbusDriver.
type ModbusOptions struct {
	// Address is tcp://host:port for Modbus TCP, anything else is taken as a
	// serial device for Modbus RTU.
	Address    string
	SlaveID    byte
	CoilOffset uint16
	BaudRate   int
	Timeout    time.Duration
}

type modbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// ModbusDriver drives one coil per valve on a Modbus relay board.
// Valve i maps to coil CoilOffset+i.
type ModbusDriver struct {
	handler modbusHandler
	client  modbus.Client
	offset  uint16
	count   int
}

// NewModbusDriver connects to the board and switches every coil off.
func NewModbusDriver(opts ModbusOptions, count int) (*ModbusDriver, error) {
	var handler modbusHandler
	if addr, ok := strings.CutPrefix(opts.Address, "tcp://"); ok {
		h := modbus.NewTCPClientHandler(addr)
		h.SlaveId = opts.SlaveID
		h.Timeout = opts.Timeout
		handler = h
	} else {
		h := modbus.NewRTUClientHandler(opts.Address)
		h.BaudRate = opts.BaudRate
		h.DataBits = 8
		h.Parity = "N"
		h.StopBits = 1
		h.SlaveId = opts.SlaveID
		h.Timeout = opts.Timeout
		h.Logger = log.New(os.Stderr, "modbus: ", log.LstdFlags)
		handler = h
	}

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("connect modbus %q: %w", opts.Address, err)
	}

	d, err := newModbusDriver(modbus.NewClient(handler), opts.CoilOffset, count)
	if err != nil {
		handler.Close()
		return nil, err
	}
	d.handler = handler
	return d, nil
}

func newModbusDriver(client modbus.Client, offset uint16, count int) (*ModbusDriver, error) {
	d := &ModbusDriver{client: client, offset: offset, count: count}
	for i := 0; i < count; i++ {
		if err := d.Apply(i, false); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Apply writes the coil for valve index.
func (d *ModbusDriver) Apply(index int, open bool) error {
	if err := checkIndex(index, d.count); err != nil {
		return err
	}
	var v uint16 = coilOff
	if open {
		v = coilOn
	}
	coil := d.offset + uint16(index)
	if _, err := d.client.WriteSingleCoil(coil, v); err != nil {
		return fmt.Errorf("write coil %d: %w", coil, err)
	}
	return nil
}

// Close switches every coil off and disconnects.
func (d *ModbusDriver) Close() error {
	var errs []error
	for i := 0; i < d.count; i++ {
		if err := d.Apply(i, false); err != nil {
			errs = append(errs, err)
		}
	}
	if d.handler != nil {
		if err := d.handler.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close modbus: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
