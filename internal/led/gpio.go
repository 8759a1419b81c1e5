//go:build linux

package led

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIO drives an LED on a GPIO output line, active high.
type GPIO struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewGPIO requests pin on chip (e.g. "gpiochip0") as an output, initially off.
func NewGPIO(chip string, pin int) (*GPIO, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("led: open gpio chip %s: %w", chip, err)
	}

	line, err := c.RequestLine(pin, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("ebike-monitor"))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("led: request pin %d: %w", pin, err)
	}

	return &GPIO{chip: c, line: line}, nil
}

// Set turns the LED on or off.
func (g *GPIO) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := g.line.SetValue(v); err != nil {
		return fmt.Errorf("led: set pin: %w", err)
	}
	return nil
}

// Close turns the LED off and releases the line back to an input so the pin
// is left in its boot state.
func (g *GPIO) Close() error {
	var errs []error
	if g.line != nil {
		if err := g.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("led: clear pin: %w", err))
		}
		if err := g.line.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("led: reconfigure pin: %w", err))
		}
		if err := g.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("led: close pin: %w", err))
		}
	}
	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("led: close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}
