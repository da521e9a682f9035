package gpio

import (
	"fmt"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphDriver drives valve outputs through periph.io. Pins are addressed
// by BCM number as GPIO<n>.
type PeriphDriver struct {
	pins      []pgpio.PinOut
	activeLow bool
}

// NewPeriphDriver initialises the periph host and claims every pin as an
// output in the closed level.
func NewPeriphDriver(pins []int, activeLow bool) (*PeriphDriver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	outs := make([]pgpio.PinOut, 0, len(pins))
	for _, pin := range pins {
		p := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
		if p == nil {
			return nil, fmt.Errorf("periph: no pin GPIO%d", pin)
		}
		outs = append(outs, p)
	}

	return newPeriphDriver(outs, activeLow)
}

func newPeriphDriver(pins []pgpio.PinOut, activeLow bool) (*PeriphDriver, error) {
	d := &PeriphDriver{pins: pins, activeLow: activeLow}
	for i := range pins {
		if err := d.Apply(i, false); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Apply sets the pin level for valve index.
func (d *PeriphDriver) Apply(index int, open bool) error {
	if err := checkIndex(index, len(d.pins)); err != nil {
		return err
	}
	level := pgpio.Level(lineValue(open, d.activeLow) == 1)
	if err := d.pins[index].Out(level); err != nil {
		return fmt.Errorf("set %s: %w", d.pins[index], err)
	}
	return nil
}

// Close drives every output back to the closed level.
func (d *PeriphDriver) Close() error {
	var errs []error
	for i := range d.pins {
		if err := d.Apply(i, false); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
