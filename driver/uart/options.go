package uart

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the coprocessor firmware's link speed.
const DefaultBaudRate = 115200

// ErrPortOptions is wrapped by every serial option the link cannot use.
var ErrPortOptions = errors.New("uart: bad port option")

// PortOptions describes the serial connection to the radio coprocessor.
// Zero fields fall back to the firmware's 8N1 framing at DefaultBaudRate.
type PortOptions struct {
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
}

var parities = map[string]struct {
	code string
	mode serial.Parity
}{
	"":     {"N", serial.NoParity},
	"N":    {"N", serial.NoParity},
	"NONE": {"N", serial.NoParity},
	"E":    {"E", serial.EvenParity},
	"EVEN": {"E", serial.EvenParity},
	"O":    {"O", serial.OddParity},
	"ODD":  {"O", serial.OddParity},
}

var stopBits = map[int]serial.StopBits{
	1: serial.OneStopBit,
	2: serial.TwoStopBits,
}

// Normalize fills in the 8N1 defaults and folds the parity name to one of
// N, E or O.
func (o PortOptions) Normalize() (PortOptions, error) {
	n := PortOptions{
		BaudRate: orDefault(o.BaudRate, DefaultBaudRate),
		DataBits: orDefault(o.DataBits, 8),
		StopBits: orDefault(o.StopBits, 1),
	}
	if n.DataBits < 5 || n.DataBits > 8 {
		return o, fmt.Errorf("%w: %d data bits", ErrPortOptions, n.DataBits)
	}
	if _, ok := stopBits[n.StopBits]; !ok {
		return o, fmt.Errorf("%w: %d stop bits", ErrPortOptions, n.StopBits)
	}
	p, ok := parities[strings.ToUpper(strings.TrimSpace(o.Parity))]
	if !ok {
		return o, fmt.Errorf("%w: parity %q", ErrPortOptions, o.Parity)
	}
	n.Parity = p.code
	return n, nil
}

// SerialMode returns the go.bug.st/serial mode for the normalized options.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		StopBits: stopBits[n.StopBits],
		Parity:   parities[n.Parity].mode,
	}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
