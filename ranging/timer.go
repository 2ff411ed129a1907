package ranging

import (
	"time"

	"github.com/ystepanoff/polypoint/internal/clock"
)

// phase identifies which half of a subsequence the single round timer is counting down.
type phase uint8

const (
	// phaseSubsequence expires at the start of a subsequence.
	phaseSubsequence phase = iota + 1
	// phaseSubstate expires once the response and final windows have passed.
	phaseSubstate
)

func (p phase) String() string {
	switch p {
	case phaseSubsequence:
		return "subsequence"
	case phaseSubstate:
		return "substate"
	}
	return "none"
}

// wake records which logical timer fired. Exactly one flag is set on a healthy wake.
type wake struct {
	subsequence bool
	substate    bool
}

func (w wake) valid() bool { return w.subsequence != w.substate }

func wakeFor(p phase) wake {
	return wake{subsequence: p == phaseSubsequence, substate: p == phaseSubstate}
}

type timerEvent struct {
	gen      uint64
	phase    phase
	deadline time.Time
}

// roundTimer multiplexes both logical timers onto one outstanding clock timer.
// A generation number identifies the live arm; expirations of superseded arms
// are ignored.
type roundTimer struct {
	clk     clock.Clock
	cur     clock.Timer
	gen     uint64
	pending phase
	// start of the current subsequence; substate and next-subsequence
	// deadlines are measured from here.
	start time.Time
}

func (t *roundTimer) arm(p phase, deadline time.Time, fire func(timerEvent)) {
	t.stop()
	t.gen++
	t.pending = p
	ev := timerEvent{gen: t.gen, phase: p, deadline: deadline}
	d := deadline.Sub(t.clk.Now())
	if d < 0 {
		d = 0
	}
	t.cur = t.clk.AfterFunc(d, func() { fire(ev) })
}

// expire consumes an expiration and reports whether it belongs to the live arm.
func (t *roundTimer) expire(ev timerEvent) bool {
	if ev.gen != t.gen || t.pending == 0 {
		return false
	}
	t.pending = 0
	t.cur = nil
	return true
}

func (t *roundTimer) stop() {
	if t.cur != nil {
		t.cur.Stop()
		t.cur = nil
	}
	t.pending = 0
}
