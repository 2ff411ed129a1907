package ranging

import (
	"fmt"
	"time"

	proto "github.com/ystepanoff/polypoint/protocol"
)

// Config holds the protocol parameters of one anchor.
type Config struct {
	AnchorEUI       uint8
	TagEUI          uint8
	NumAnchors      int
	NumMeasurements int
	PANID           uint16

	// Virtual timer: a subsequence starts every SubsequencePeriod; the
	// index advances ResponseWindow+FinalWindow after the start.
	ResponseWindow    time.Duration
	FinalWindow       time.Duration
	SubsequencePeriod time.Duration

	ResponseDelayUS     uint32 // poll rx to first response slot
	GlobalPacketDelayUS uint32 // width of one anchor slot
	RxAfterTxDelayUS    uint32
	TxAntennaDelay      uint16 // device ticks

	Channels    []uint8
	Calibration Calibration
}

// DefaultConfig returns the parameters of a ten-anchor deployment.
func DefaultConfig() Config {
	return Config{
		AnchorEUI:           proto.DefaultAnchorEUI,
		TagEUI:              proto.DefaultTagEUI,
		NumAnchors:          proto.DefaultNumAnchors,
		NumMeasurements:     proto.DefaultNumMeasurements,
		PANID:               proto.DefaultPANID,
		ResponseWindow:      7 * time.Millisecond,
		FinalWindow:         2 * time.Millisecond,
		SubsequencePeriod:   12 * time.Millisecond,
		ResponseDelayUS:     1000,
		GlobalPacketDelayUS: 500,
		RxAfterTxDelayUS:    1000,
		TxAntennaDelay:      16436,
		Channels:            []uint8{1, 4, 3},
		Calibration: Calibration{
			SpeedOfLight: proto.SpeedOfLight,
		},
	}
}

// Validate checks the invariants the state machine relies on.
func (c Config) Validate() error {
	if c.NumAnchors < 1 {
		return fmt.Errorf("num anchors %d: must be positive", c.NumAnchors)
	}
	if !c.identity().Valid() {
		return fmt.Errorf("anchor eui %d: %w (1..%d)", c.AnchorEUI, proto.ErrInvalidAnchor, c.NumAnchors)
	}
	if c.NumMeasurements < 1 || c.NumMeasurements > 255 {
		return fmt.Errorf("num measurements %d: must be in 1..255", c.NumMeasurements)
	}
	if n := proto.BroadcastSize(c.NumAnchors); n > proto.MaxFrameSize {
		return fmt.Errorf("tag broadcast for %d anchors is %d bytes: %w", c.NumAnchors, n, proto.ErrFrameTooLarge)
	}
	if n := proto.AnchorFinalSize(c.NumMeasurements); n > proto.MaxFrameSize {
		return fmt.Errorf("anchor final for %d measurements is %d bytes: %w", c.NumMeasurements, n, proto.ErrFrameTooLarge)
	}
	if c.ResponseWindow <= 0 || c.FinalWindow <= 0 {
		return fmt.Errorf("response and final windows must be positive")
	}
	if c.SubsequencePeriod <= c.pollWindow() {
		return fmt.Errorf("subsequence period %v must exceed response+final window %v", c.SubsequencePeriod, c.pollWindow())
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("channel plan: %w", proto.ErrInvalidChannel)
	}
	for _, ch := range c.Channels {
		if ch < 1 || ch > 7 || ch == 6 {
			return fmt.Errorf("channel %d: %w", ch, proto.ErrInvalidChannel)
		}
	}
	return nil
}

func (c Config) identity() proto.Identity {
	return proto.Identity{
		AnchorID:   c.AnchorEUI,
		TagID:      c.TagEUI,
		NumAnchors: c.NumAnchors,
		PANID:      c.PANID,
	}
}

func (c Config) pollWindow() time.Duration { return c.ResponseWindow + c.FinalWindow }

func (c Config) globalPacketDelay() uint32 { return proto.USToDeviceTicksHi32(c.GlobalPacketDelayUS) }

func (c Config) responseDelay() uint32 { return proto.USToDeviceTicksHi32(c.ResponseDelayUS) }
