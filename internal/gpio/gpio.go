// Package gpio provides pin drivers that assert valve state on hardware.
// The chip implementation uses the Linux GPIO character device, the periph
// implementation uses periph.io, and the modbus implementation writes coils
// on a relay board. The noop and fake implementations allow running and
// testing without hardware.
package gpio

import (
	"fmt"

	"github.com/sweeney/valve-panel/internal/config"
)

// Driver drives valve outputs.
type Driver interface {
	// Apply drives valve index open (true) or closed (false).
	Apply(index int, open bool) error

	// Close releases hardware resources.
	Close() error
}

// Open creates the driver selected by cfg for the given pins (index order).
func Open(cfg config.Driver, pins []int) (Driver, error) {
	switch cfg.Type {
	case config.DriverNoop, "":
		return NewNoopDriver(pins), nil
	case config.DriverGPIOCDev:
		return NewChipDriver(cfg.Chip, pins, cfg.ActiveLow)
	case config.DriverPeriph:
		return NewPeriphDriver(pins, cfg.ActiveLow)
	case config.DriverModbus:
		return NewModbusDriver(ModbusOptions{
			Address:    cfg.Address,
			SlaveID:    cfg.SlaveID,
			CoilOffset: cfg.CoilOffset,
			BaudRate:   cfg.BaudRate,
			Timeout:    cfg.Timeout,
		}, len(pins))
	default:
		return nil, fmt.Errorf("gpio: unknown driver %q", cfg.Type)
	}
}

// lineValue returns the raw line level for a logical valve state.
// Active-low relay modules energise on 0.
func lineValue(open, activeLow bool) int {
	if open != activeLow {
		return 1
	}
	return 0
}

func checkIndex(index, n int) error {
	if index < 0 || index >= n {
		return fmt.Errorf("gpio: no output for valve %d", index)
	}
	return nil
}
