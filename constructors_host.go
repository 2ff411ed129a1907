//go:build !tinygo && !baremetal

// This file is built only for non-embedded targets.
package polypoint

import (
	"github.com/ystepanoff/polypoint/driver/stub"
	"github.com/ystepanoff/polypoint/driver/uart"
	"github.com/ystepanoff/polypoint/ranging"
)

// NewSimulatedAnchor returns an anchor on an in-memory radio. Frames are
// injected and transmissions inspected through the returned driver.
func NewSimulatedAnchor(cfg Config, opts ...Option) (*Anchor, *stub.Driver, error) {
	d := stub.New(nil)
	a, err := ranging.NewAnchorWithDriver(cfg, d, opts...)
	if err != nil {
		return nil, nil, err
	}
	return a, d, nil
}

// NewSerialAnchor returns an anchor driving a radio coprocessor on the serial
// port at path. The caller closes the driver once the anchor has stopped.
func NewSerialAnchor(cfg Config, path string, port uart.PortOptions, opts ...Option) (*Anchor, *uart.Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	d, err := uart.Open(path, port)
	if err != nil {
		return nil, nil, err
	}
	a, err := ranging.NewAnchorWithDriver(cfg, d, opts...)
	if err != nil {
		d.Close()
		return nil, nil, err
	}
	return a, d, nil
}
