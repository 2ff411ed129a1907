// Package ranging implements the anchor side of the ADS-TWR ranging round:
// the subsequence state machine, the poll/response/final exchange and the
// distance estimate.
//
// All protocol state lives in one Session owned by the goroutine running
// Anchor.Run. Radio callbacks only enqueue events and timer expirations only
// post a wake;
// each event is processed to completion before the next is taken.
package ranging

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/ystepanoff/polypoint/internal/clock"
	proto "github.com/ystepanoff/polypoint/protocol"
)

const defaultEventBuffer = 64

// Anchor is the ranging state machine of one fixed anchor.
type Anchor struct {
	cfg      Config
	id       proto.Identity
	radio    RadioDriver
	channels ChannelSelector
	clk      clock.Clock
	log      *slog.Logger
	onRound  func(RoundReport)

	events  chan event
	// wakes holds at most one timer expiration; a newer one replaces it.
	wakes   chan timerEvent
	session Session
	timer   roundTimer

	resp  *proto.PollResponse
	final *proto.AnchorFinal

	globalDelay uint32
	respDelay   uint32

	stats counters
}

// Option customises an Anchor.
type Option func(*Anchor)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *slog.Logger) Option {
	return func(a *Anchor) { a.log = l }
}

// WithClock replaces the host clock driving the round timer.
func WithClock(c clock.Clock) Option {
	return func(a *Anchor) { a.clk = c }
}

// WithChannelSelector replaces the default channel plan.
func WithChannelSelector(s ChannelSelector) Option {
	return func(a *Anchor) { a.channels = s }
}

// WithRoundHandler registers f to receive every completed round. f runs on
// the processing loop and must not block.
func WithRoundHandler(f func(RoundReport)) Option {
	return func(a *Anchor) { a.onRound = f }
}

// WithEventBuffer sets the capacity of the event queue.
func WithEventBuffer(n int) Option {
	return func(a *Anchor) {
		if n > 0 {
			a.events = make(chan event, n)
		}
	}
}

// NewAnchorWithDriver builds an anchor on top of d and registers itself as
// d's event handler.
func NewAnchorWithDriver(cfg Config, d RadioDriver, opts ...Option) (*Anchor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Anchor{
		cfg:         cfg,
		id:          cfg.identity(),
		radio:       d,
		clk:         clock.Real{},
		events:      make(chan event, defaultEventBuffer),
		wakes:       make(chan timerEvent, 1),
		session:     newSession(cfg.NumMeasurements),
		globalDelay: cfg.globalPacketDelay(),
		respDelay:   cfg.responseDelay(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a.log = a.log.With("component", "anchor", "eui", cfg.AnchorEUI)
	if a.channels == nil {
		a.channels = NewChannelPlan(d, cfg.Channels)
	}
	a.timer.clk = a.clk
	a.resp = proto.NewPollResponse(a.id)
	a.final = proto.NewAnchorFinal(a.id, cfg.NumMeasurements)
	d.SetEventHandler(a)
	return a, nil
}

// Initialise puts the radio in the idle-round configuration: subsequence 0
// settings, antenna delay applied and the receiver listening for a poll.
func (a *Anchor) Initialise() error {
	a.session.Subseq = 0
	if err := a.channels.Apply(0); err != nil {
		return err
	}
	a.radio.SetAntennaDelay(a.cfg.TxAntennaDelay)
	if err := a.radio.EnableRx(); err != nil {
		return err
	}
	a.log.Info("anchor initialised",
		"num_anchors", a.cfg.NumAnchors,
		"num_measurements", a.cfg.NumMeasurements,
		"tag", a.cfg.TagEUI)
	return nil
}

// Run processes events until ctx is cancelled.
func (a *Anchor) Run(ctx context.Context) error {
	defer a.timer.stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.wakes:
			a.onTimerExpire(ev)
		case ev := <-a.events:
			a.handle(ev)
		}
	}
}

// Stats returns a snapshot of the event counters. Safe to call from any goroutine.
func (a *Anchor) Stats() Stats { return a.stats.snapshot() }

type event struct {
	rx    *RxFrame
	at    time.Time
	txTS  *proto.Timestamp
	rxErr error
}

func (a *Anchor) OnReceive(f RxFrame) {
	a.post(event{rx: &f, at: a.clk.Now()})
}

func (a *Anchor) OnTransmitComplete(ts proto.Timestamp) {
	a.post(event{txTS: &ts, at: a.clk.Now()})
}

func (a *Anchor) OnReceiveError(err error) {
	a.post(event{rxErr: err, at: a.clk.Now()})
}

func (a *Anchor) post(ev event) {
	select {
	case a.events <- ev:
	default:
		a.stats.droppedEvents.Add(1)
		a.log.Warn("event queue full, dropping event")
	}
}

func (a *Anchor) handle(ev event) {
	switch {
	case ev.rx != nil:
		a.onFrameReceived(*ev.rx, ev.at)
	case ev.txTS != nil:
		a.log.Debug("tx complete", "ts", uint64(*ev.txTS))
	case ev.rxErr != nil:
		a.stats.rxErrors.Add(1)
		a.log.Warn("rx error", "err", ev.rxErr)
	}
}

// drain processes every queued event without blocking and returns how many it handled.
func (a *Anchor) drain() int {
	n := 0
	for {
		select {
		case ev := <-a.wakes:
			a.onTimerExpire(ev)
			n++
		case ev := <-a.events:
			a.handle(ev)
			n++
		default:
			return n
		}
	}
}

func (a *Anchor) armTimer(p phase, deadline time.Time) {
	a.timer.arm(p, deadline, a.postWake)
}

// postWake hands a timer expiration to the loop. It never drops the newest
// expiration: an older one still waiting in the slot is replaced.
func (a *Anchor) postWake(ev timerEvent) {
	for {
		select {
		case a.wakes <- ev:
			return
		default:
		}
		select {
		case old := <-a.wakes:
			if old.gen > ev.gen {
				ev = old
			}
		default:
		}
	}
}

// onTimerExpire turns a round-timer expiration into a wake and re-arms the
// timer for the other phase.
func (a *Anchor) onTimerExpire(ev timerEvent) {
	if !a.timer.expire(ev) {
		a.stats.stale.Add(1)
		a.log.Debug("stale timer wake", "phase", ev.phase)
		return
	}
	switch ev.phase {
	case phaseSubsequence:
		a.timer.start = ev.deadline
		a.armTimer(phaseSubstate, a.timer.start.Add(a.cfg.pollWindow()))
	case phaseSubstate:
		// No timer once the final phase is done; the next round starts with a tag poll.
		if a.session.Subseq < a.cfg.NumMeasurements {
			a.armTimer(phaseSubsequence, a.timer.start.Add(a.cfg.SubsequencePeriod))
		}
	}
	a.onWake(wakeFor(ev.phase))
}

func (a *Anchor) onWake(w wake) {
	if !w.valid() {
		a.stats.mismatches.Add(1)
		a.log.Warn("timer mismatch",
			"subsequence_fired", w.subsequence,
			"substate_fired", w.substate)
	}

	if a.session.Subseq < a.cfg.NumMeasurements {
		if w.subsequence {
			// Waiting for the tag poll of this subsequence.
			return
		}
		a.onSubsequenceAdvanceNeeded()
		return
	}

	if w.subsequence {
		a.sendFinal()
		return
	}
	a.finishRound()
}

func (a *Anchor) onSubsequenceAdvanceNeeded() {
	a.session.Subseq++
	a.session.Stamps = TimestampStore{}
	if err := a.channels.Apply(a.session.Subseq); err != nil {
		a.log.Warn("apply channel settings", "subseq", a.session.Subseq, "err", err)
	}
	a.log.Debug("subsequence advanced", "subseq", a.session.Subseq)
}

// sendFinal reports the round's histogram to the tag in this anchor's final slot.
func (a *Anchor) sendFinal() {
	// The receiver is likely on; it must be off before a delayed transmit.
	a.radio.ForceIdle()

	delay := FinalSlotDelay(a.radio.SysTimeHi32(), a.cfg.NumAnchors, a.cfg.AnchorEUI, a.globalDelay)
	a.radio.SetDelayedTxTime(delay)

	a.final.Seq++
	a.final.Round = a.session.Round.Num
	copy(a.final.DistanceHist, a.session.Round.DistanceHist)
	if err := a.radio.WriteTxData(a.final.Encode()); err != nil {
		a.stats.txFailures.Add(1)
		a.log.Warn("could not write anchor final", "err", err)
	} else if err := a.radio.StartDelayedTx(false); err != nil {
		a.stats.txFailures.Add(1)
		a.log.Warn("could not send anchor final", "err", err)
	} else {
		a.stats.finalsSent.Add(1)
		a.log.Debug("sent ANC_FINAL", "round", a.final.Round, "delay", delay)
	}
	a.radio.SetAntennaDelay(a.cfg.TxAntennaDelay)

	if a.onRound != nil {
		a.onRound(RoundReport{
			AnchorID:    a.cfg.AnchorEUI,
			Round:       a.session.Round.Num,
			SeqCount:    a.session.Round.SeqCount,
			Distances:   append([]float32(nil), a.session.Round.DistanceHist...),
			CompletedAt: a.clk.Now(),
		})
	}
}

// finishRound returns to subsequence 0 and listens for the next round's poll.
func (a *Anchor) finishRound() {
	a.session.Subseq = 0
	a.session.Stamps = TimestampStore{}
	if err := a.channels.Apply(0); err != nil {
		a.log.Warn("apply channel settings", "subseq", 0, "err", err)
	}
	a.enableRx()
	a.log.Debug("round finished", "round", a.session.Round.Num)
}

// beginRound handles a subsequence-0 poll: it resynchronises the index,
// clears the histogram and starts the round timer from the poll's arrival.
func (a *Anchor) beginRound(at time.Time) {
	if a.session.Subseq != 0 {
		a.stats.resyncs.Add(1)
		a.log.Warn("rx'd TAG_POLL subseq 0 mid-round, resynchronising", "local_subseq", a.session.Subseq)
		a.session.Subseq = 0
	}
	a.session.resetHistogram()
	a.session.Round.SeqCount++

	a.timer.start = at
	a.armTimer(phaseSubstate, at.Add(a.cfg.pollWindow()))
}
