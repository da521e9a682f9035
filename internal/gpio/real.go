//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// ChipDriver drives valve outputs using the Linux GPIO character device.
type ChipDriver struct {
	chip      *gpiocdev.Chip
	lines     []*gpiocdev.Line
	pins      []int
	activeLow bool
}

// NewChipDriver requests every pin on chipName as an output, starting in
// the closed level.
func NewChipDriver(chipName string, pins []int, activeLow bool) (*ChipDriver, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("valve-panel"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	d := &ChipDriver{chip: chip, pins: pins, activeLow: activeLow}
	for _, pin := range pins {
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(lineValue(false, activeLow)))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("request pin %d: %w", pin, err)
		}
		d.lines = append(d.lines, line)
	}

	return d, nil
}

// Apply sets the line for valve index.
func (d *ChipDriver) Apply(index int, open bool) error {
	if err := checkIndex(index, len(d.lines)); err != nil {
		return err
	}
	if err := d.lines[index].SetValue(lineValue(open, d.activeLow)); err != nil {
		return fmt.Errorf("set pin %d: %w", d.pins[index], err)
	}
	return nil
}

// Close releases GPIO resources.
// Lines are reconfigured as inputs biased towards the closed level before
// release, so the relays stay off while the process is down.
func (d *ChipDriver) Close() error {
	var errs []error

	bias := gpiocdev.WithPullDown
	if d.activeLow {
		bias = gpiocdev.WithPullUp
	}

	for i, line := range d.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, bias); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", d.pins[i], err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", d.pins[i], err))
		}
	}
	d.lines = nil

	if d.chip != nil {
		if err := d.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		d.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
