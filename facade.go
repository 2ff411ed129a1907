// Package polypoint provides a façade over the UWB anchor ranging stack.
package polypoint

import (
	"github.com/ystepanoff/polypoint/protocol"
	"github.com/ystepanoff/polypoint/ranging"
)

// The constructors are split into build-tag specific files:
// - constructors_host.go - host drivers: in-memory stub and serial coprocessor (//go:build !tinygo && !baremetal)

// Re-export types for callers that only need the façade.
type (
	Anchor      = ranging.Anchor
	Config      = ranging.Config
	Calibration = ranging.Calibration
	RoundReport = ranging.RoundReport
	Stats       = ranging.Stats
	RadioDriver = ranging.RadioDriver
	Option      = ranging.Option
	Timestamp   = protocol.Timestamp
)

// Error constants exposed in the public API
var (
	ErrShortFrame       = protocol.ErrShortFrame
	ErrUnknownMessage   = protocol.ErrUnknownMessage
	ErrInvalidAnchor    = protocol.ErrInvalidAnchor
	ErrIncompleteSample = protocol.ErrIncompleteSample
	ErrFrameTooLarge    = protocol.ErrFrameTooLarge
	ErrTxLate           = protocol.ErrTxLate
	ErrTimeout          = protocol.ErrTimeout
	ErrInvalidChannel   = protocol.ErrInvalidChannel
)

// Constants exposed in the public API
const (
	MsgTypeTagPoll  = protocol.MsgTypeTagPoll
	MsgTypeAncResp  = protocol.MsgTypeAncResp
	MsgTypeTagFinal = protocol.MsgTypeTagFinal
	MsgTypeAncFinal = protocol.MsgTypeAncFinal
)

// DefaultConfig returns the parameters of a ten-anchor deployment.
func DefaultConfig() Config { return ranging.DefaultConfig() }

// Option re-exports.
var (
	WithLogger        = ranging.WithLogger
	WithClock         = ranging.WithClock
	WithRoundHandler  = ranging.WithRoundHandler
	WithEventBuffer   = ranging.WithEventBuffer
	WithChannelPlan   = ranging.WithChannelSelector
	NewAnchorOnDriver = ranging.NewAnchorWithDriver
)
