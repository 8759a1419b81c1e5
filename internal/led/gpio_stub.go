//go:build !linux

package led

import "errors"

// GPIO is not available on non-Linux platforms.
type GPIO struct{}

// NewGPIO returns an error on non-Linux platforms.
func NewGPIO(chip string, pin int) (*GPIO, error) {
	return nil, errors.New("led: gpio not supported on this platform (requires Linux)")
}

// Set is not implemented on non-Linux platforms.
func (g *GPIO) Set(on bool) error {
	return errors.New("led: gpio not supported")
}

// Close is not implemented on non-Linux platforms.
func (g *GPIO) Close() error {
	return nil
}
