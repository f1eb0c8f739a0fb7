// Package gpio abstracts the pin layer behind a Chip interface with
// interchangeable backends: on-board BCM pins, a serial I/O expander, and
// an in-memory chip for tests and dry runs.
//
// Pins carry logical levels. Pull bias and active-low inversion are backend
// concerns, so a pressed button reads true regardless of how it is wired.
package gpio

import "fmt"

// Pull configures the bias resistor on an input pin.
type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// ParsePull parses a config string into a Pull value.
func ParsePull(s string) (Pull, error) {
	switch s {
	case "", "none":
		return PullNone, nil
	case "up":
		return PullUp, nil
	case "down":
		return PullDown, nil
	}
	return PullNone, fmt.Errorf("gpio: unknown pull %q (want none, up or down)", s)
}

// InputConfig configures an input pin. Invert makes a low raw line read as
// logical true (buttons wired active-low against a pull-up).
type InputConfig struct {
	Pull   Pull
	Invert bool
}

// OutputConfig configures an output pin.
type OutputConfig struct {
	Initial bool
}

// InputPin reads one logical input level.
type InputPin interface {
	Read() (bool, error)
}

// OutputPin drives one logical output level.
type OutputPin interface {
	Write(level bool) error
}

// Chip opens pins on one GPIO backend.
type Chip interface {
	OpenInput(pin int, cfg InputConfig) (InputPin, error)
	OpenOutput(pin int, cfg OutputConfig) (OutputPin, error)
	Close() error
}
