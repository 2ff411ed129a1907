//go:build !tinygo && !baremetal

// Package stub provides a host-side radio for running an anchor without
// hardware. The device clock is derived from the host clock.
package stub

import (
	"sync"
	"time"

	"github.com/ystepanoff/polypoint/internal/clock"
	proto "github.com/ystepanoff/polypoint/protocol"
	"github.com/ystepanoff/polypoint/ranging"
)

// The DW1000 timestamp counter runs at 499.2 MHz * 128, 638976 ticks per 10 µs.
const (
	ticksPerTenUS = 638976
	nsPerTenUS    = 10_000
)

// Tx is a frame handed to the radio for delayed transmission.
type Tx struct {
	Data           []byte
	DelayedHi32    uint32
	ExpectResponse bool
}

// Driver implements ranging.RadioDriver in memory.
type Driver struct {
	mu      sync.Mutex
	clk     clock.Clock
	start   time.Time
	handler ranging.EventHandler

	channel      uint8
	txData       []byte
	delayed      uint32
	rxAfterTx    uint32
	antennaDelay uint16
	rxEnabled    bool

	txBuf ringBuffer
}

func New(clk clock.Clock) *Driver {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Driver{clk: clk, start: clk.Now()}
}

func (d *Driver) SetEventHandler(h ranging.EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

func (d *Driver) SetChannel(channel uint8) error {
	if channel < 1 || channel > 7 || channel == 6 {
		return proto.ErrInvalidChannel
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channel = channel
	return nil
}

func (d *Driver) WriteTxData(data []byte) error {
	if len(data) > proto.MaxFrameSize {
		return proto.ErrFrameTooLarge
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txData = append(d.txData[:0], data...)
	return nil
}

func (d *Driver) SetDelayedTxTime(hi32 uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delayed = hi32
}

func (d *Driver) SetRxAfterTxDelay(us uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rxAfterTx = us
}

func (d *Driver) StartDelayedTx(expectResponse bool) error {
	d.mu.Lock()
	frame := make([]byte, len(d.txData))
	copy(frame, d.txData)
	d.txBuf.push(Tx{Data: frame, DelayedHi32: d.delayed, ExpectResponse: expectResponse})
	d.rxEnabled = expectResponse
	h := d.handler
	ts := proto.FromHi32(d.delayed).Add(uint64(d.antennaDelay))
	d.mu.Unlock()

	if h != nil {
		h.OnTransmitComplete(ts)
	}
	return nil
}

func (d *Driver) SetAntennaDelay(ticks uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.antennaDelay = ticks
}

func (d *Driver) ForceIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rxEnabled = false
}

func (d *Driver) EnableRx() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rxEnabled = true
	return nil
}

func (d *Driver) SysTimeHi32() uint32 {
	return d.SysTime().Hi32()
}

// SysTime returns the full-resolution device clock.
func (d *Driver) SysTime() proto.Timestamp {
	ns := uint64(d.clk.Now().Sub(d.start).Nanoseconds())
	ticks := ns/nsPerTenUS*ticksPerTenUS + ns%nsPerTenUS*ticksPerTenUS/nsPerTenUS
	return proto.Timestamp(ticks & proto.TimestampMask)
}

// Channel returns the channel last configured.
func (d *Driver) Channel() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channel
}

// InjectRx delivers a frame to the event handler as if it had been received at ts.
func (d *Driver) InjectRx(data []byte, ts proto.Timestamp) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	if h == nil {
		return
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	h.OnReceive(ranging.RxFrame{Timestamp: ts, Data: frame})
}

// PopTx removes and returns the oldest transmitted frame.
func (d *Driver) PopTx() (Tx, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.txBuf.pop()
}

func (d *Driver) GetTxLog() []Tx {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.txBuf.snapshot()
}

const ringCapacity = 64

type ringBuffer struct {
	data       [ringCapacity]Tx
	head, tail int // head = next pop, tail = next push
	count      int
}

func (rb *ringBuffer) push(tx Tx) {
	if rb.count == ringCapacity {
		// Overwrite the oldest when buffer is full to keep memory bounded
		rb.data[rb.tail] = Tx{}
		rb.head = (rb.head + 1) % ringCapacity
		rb.count--
	}
	rb.data[rb.tail] = tx
	rb.tail = (rb.tail + 1) % ringCapacity
	rb.count++
}

func (rb *ringBuffer) pop() (Tx, bool) {
	if rb.count == 0 {
		return Tx{}, false
	}
	tx := rb.data[rb.head]
	rb.data[rb.head] = Tx{}
	rb.head = (rb.head + 1) % ringCapacity
	rb.count--
	return tx, true
}

func (rb *ringBuffer) snapshot() []Tx {
	out := make([]Tx, rb.count)
	i := rb.head
	for c := 0; c < rb.count; c++ {
		tx := rb.data[i]
		tx.Data = append([]byte(nil), tx.Data...)
		out[c] = tx
		i = (i + 1) % ringCapacity
	}
	return out
}
