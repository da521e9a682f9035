//go:build !linux

package gpio

import "errors"

// ChipDriver is not available on non-Linux platforms.
type ChipDriver struct{}

// NewChipDriver returns an error on non-Linux platforms.
func NewChipDriver(string, []int, bool) (*ChipDriver, error) {
	return nil, errors.New("gpio: character device not supported on this platform (requires Linux)")
}

// Apply is not implemented on non-Linux platforms.
func (d *ChipDriver) Apply(int, bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (d *ChipDriver) Close() error {
	return nil
}
