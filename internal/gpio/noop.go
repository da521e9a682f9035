package gpio

import (
	"context"

	"github.com/sweeney/valve-panel/internal/logger"
)

// NoopDriver accepts every request without touching hardware.
type NoopDriver struct {
	pins []int
}

// NewNoopDriver creates a driver for hosts without attached valves.
func NewNoopDriver(pins []int) *NoopDriver {
	return &NoopDriver{pins: pins}
}

// Apply logs the request at debug level.
func (d *NoopDriver) Apply(index int, open bool) error {
	pin := -1
	if index >= 0 && index < len(d.pins) {
		pin = d.pins[index]
	}
	logger.DebugKV(context.Background(), "noop driver apply", "valve", index, "pin", pin, "open", open)
	return nil
}

// Close does nothing.
func (d *NoopDriver) Close() error {
	return nil
}
