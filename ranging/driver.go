package ranging

import (
	proto "github.com/ystepanoff/polypoint/protocol"
)

// RadioDriver is the interface that wraps the radio operations the anchor needs.
// Implementations deliver events to the registered EventHandler from their own
// context; they must not call back into the driver from inside a handler.
type RadioDriver interface {
	SetEventHandler(h EventHandler)
	SetChannel(channel uint8) error

	WriteTxData(data []byte) error
	// SetDelayedTxTime programs the transmit instant in upper-32-bit device time.
	SetDelayedTxTime(hi32 uint32)
	SetRxAfterTxDelay(us uint32)
	// StartDelayedTx starts the programmed transmit. With expectResponse the
	// receiver is enabled automatically once the frame is out.
	StartDelayedTx(expectResponse bool) error
	SetAntennaDelay(ticks uint16)

	ForceIdle()
	EnableRx() error

	// SysTimeHi32 reads the upper 32 bits of the free-running device clock.
	SysTimeHi32() uint32
}

// RxFrame is a received frame with its captured 40-bit receive timestamp.
type RxFrame struct {
	Timestamp proto.Timestamp
	Data      []byte
}

// EventHandler receives radio events. Implementations only record the event
// and return.
type EventHandler interface {
	OnReceive(f RxFrame)
	OnTransmitComplete(ts proto.Timestamp)
	OnReceiveError(err error)
}

// ChannelSelector maps a subsequence index to radio settings.
type ChannelSelector interface {
	// Apply reconfigures the radio for the given subsequence.
	Apply(subseq int) error
	// ChannelIndex returns the calibration column used for the given subsequence.
	ChannelIndex(subseq int) int
}

// ChannelPlan is a ChannelSelector cycling through a fixed list of channels.
type ChannelPlan struct {
	radio    RadioDriver
	channels []uint8
}

func NewChannelPlan(radio RadioDriver, channels []uint8) *ChannelPlan {
	cp := make([]uint8, len(channels))
	copy(cp, channels)
	return &ChannelPlan{radio: radio, channels: cp}
}

func (p *ChannelPlan) ChannelIndex(subseq int) int {
	if len(p.channels) == 0 || subseq < 0 {
		return 0
	}
	return subseq % len(p.channels)
}

func (p *ChannelPlan) Apply(subseq int) error {
	if len(p.channels) == 0 {
		return proto.ErrInvalidChannel
	}
	return p.radio.SetChannel(p.channels[p.ChannelIndex(subseq)])
}
