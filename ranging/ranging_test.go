package ranging

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ystepanoff/polypoint/internal/clock"
	proto "github.com/ystepanoff/polypoint/protocol"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type txRecord struct {
	Data           []byte
	DelayedTime    uint32
	ExpectResponse bool
}

// MockDriver implements the RadioDriver interface for testing
type MockDriver struct {
	mu           sync.Mutex
	handler      EventHandler
	channels     []uint8
	txBuf        []byte
	delayed      uint32
	rxAfterTx    uint32
	antennaDelay uint16
	txLog        []txRecord
	startCalls   int
	rxEnables    int
	forceIdles   int
	sysTime      uint32
	startErr     error
	writeErr     error
}

func NewMockDriver() *MockDriver { return &MockDriver{} }

func (d *MockDriver) SetEventHandler(h EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

func (d *MockDriver) SetChannel(channel uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = append(d.channels, channel)
	return nil
}

func (d *MockDriver) WriteTxData(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeErr != nil {
		return d.writeErr
	}
	d.txBuf = append([]byte(nil), data...)
	return nil
}

func (d *MockDriver) SetDelayedTxTime(hi32 uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delayed = hi32
}

func (d *MockDriver) SetRxAfterTxDelay(us uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rxAfterTx = us
}

func (d *MockDriver) StartDelayedTx(expectResponse bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startCalls++
	if d.startErr != nil {
		return d.startErr
	}
	d.txLog = append(d.txLog, txRecord{Data: d.txBuf, DelayedTime: d.delayed, ExpectResponse: expectResponse})
	return nil
}

func (d *MockDriver) SetAntennaDelay(ticks uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.antennaDelay = ticks
}

func (d *MockDriver) ForceIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forceIdles++
}

func (d *MockDriver) EnableRx() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rxEnables++
	return nil
}

func (d *MockDriver) SysTimeHi32() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sysTime
}

// Deliver hands a frame to the registered handler as if it had just been received.
func (d *MockDriver) Deliver(data []byte, ts proto.Timestamp) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	h.OnReceive(RxFrame{Timestamp: ts, Data: append([]byte(nil), data...)})
}

func (d *MockDriver) GetTxLog() []txRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]txRecord(nil), d.txLog...)
}

func (d *MockDriver) Channels() []uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint8(nil), d.channels...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AnchorEUI = 3
	cfg.NumAnchors = 4
	cfg.NumMeasurements = 3
	return cfg
}

type harness struct {
	t       *testing.T
	cfg     Config
	drv     *MockDriver
	clk     *clock.Manual
	a       *Anchor
	reports []RoundReport
}

func newHarness(t *testing.T, mutate func(*Config), opts ...Option) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{t: t, cfg: cfg, drv: NewMockDriver(), clk: clock.NewManual(epoch)}
	opts = append([]Option{
		WithClock(h.clk),
		WithRoundHandler(func(r RoundReport) { h.reports = append(h.reports, r) }),
	}, opts...)
	a, err := NewAnchorWithDriver(cfg, h.drv, opts...)
	require.NoError(t, err)
	require.NoError(t, a.Initialise())
	h.a = a
	return h
}

// advance moves the clock forward by d, processing every wake on the way.
func (h *harness) advance(d time.Duration) {
	target := h.clk.Now().Add(d)
	for {
		next, ok := h.clk.Next()
		if !ok || next.After(target) {
			break
		}
		h.clk.Advance(next.Sub(h.clk.Now()))
		h.a.drain()
	}
	h.clk.Advance(target.Sub(h.clk.Now()))
	h.a.drain()
}

func (h *harness) deliver(data []byte, ts proto.Timestamp) {
	h.drv.Deliver(data, ts)
	h.a.drain()
}

// exchange is a consistent set of tag and anchor captures for one subsequence.
type exchange struct {
	tRP proto.Timestamp
	tSR uint32
	tRR proto.Timestamp
	tSP uint32
	tSF uint32
	tRF proto.Timestamp
}

// newExchange builds the captures of an exchange with the given time of
// flight, the anchor clock running offset ticks ahead of the tag clock.
func newExchange(tagStartHi32 uint32, offset, tof uint64) exchange {
	var e exchange
	e.tSP = tagStartHi32
	e.tRP = proto.FromHi32(e.tSP).Add(tof + offset)
	e.tSR = e.tRP.Hi32() + 250_000
	e.tRR = proto.FromHi32(e.tSR).Add(tof - offset)
	e.tSF = e.tSP + 500_000
	e.tRF = proto.FromHi32(e.tSF).Add(tof + offset)
	return e
}

func (e exchange) sample() Sample {
	return Sample{TRP: e.tRP, TSR: e.tSR, TRR: e.tRR, TSP: e.tSP, TSF: e.tSF, TRF: e.tRF}
}

func tagPoll(round, subseq uint8, numAnchors int) []byte {
	return proto.EncodeBroadcast(&proto.Broadcast{
		PANID:  proto.DefaultPANID,
		Src:    proto.PopulateEUI(proto.DefaultTagEUI),
		Type:   proto.MsgTypeTagPoll,
		Round:  round,
		Subseq: subseq,
		TRR:    make([]proto.Timestamp, numAnchors),
	})
}

func tagFinal(round, subseq uint8, tSP, tSF uint32, trr []proto.Timestamp) []byte {
	return proto.EncodeBroadcast(&proto.Broadcast{
		PANID:  proto.DefaultPANID,
		Src:    proto.PopulateEUI(proto.DefaultTagEUI),
		Type:   proto.MsgTypeTagFinal,
		Round:  round,
		Subseq: subseq,
		TSP:    tSP,
		TSF:    tSF,
		TRR:    trr,
	})
}
