package ranging

import (
	"sync/atomic"
	"time"

	proto "github.com/ystepanoff/polypoint/protocol"
)

// Round is the state of the ranging round in progress.
type Round struct {
	Num          uint8  // taken from the tag's broadcasts, wraps
	SeqCount     uint32 // rounds started since boot
	DistanceHist []float32
}

// TimestampStore holds the locally captured timestamps of the current subsequence.
type TimestampStore struct {
	TRP proto.Timestamp
	TSR uint32
}

// Session is all mutable protocol state of an anchor. It is owned by the
// processing loop.
type Session struct {
	Round  Round
	Stamps TimestampStore
	// Subseq is in [0, NumMeasurements]; NumMeasurements is the final phase.
	Subseq int
}

func newSession(numMeasurements int) Session {
	return Session{Round: Round{DistanceHist: make([]float32, numMeasurements)}}
}

func (s *Session) resetHistogram() {
	clear(s.Round.DistanceHist)
}

// RoundReport is a completed round as handed to the round handler.
type RoundReport struct {
	AnchorID    uint8
	Round       uint8
	SeqCount    uint32
	Distances   []float32 // zero entries are dropped samples
	CompletedAt time.Time
}

// Stats is a snapshot of the anchor's event counters.
type Stats struct {
	Polls           uint64
	Finals          uint64
	ResponsesSent   uint64
	FinalsSent      uint64
	TxFailures      uint64
	DroppedSamples  uint64
	UnknownFrames   uint64
	RxErrors        uint64
	Resyncs         uint64
	TimerMismatches uint64
	StaleWakes      uint64
	DroppedEvents   uint64
}

type counters struct {
	polls, finals, responsesSent, finalsSent atomic.Uint64
	txFailures, droppedSamples, unknown      atomic.Uint64
	rxErrors, resyncs, mismatches, stale     atomic.Uint64
	droppedEvents                            atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Polls:           c.polls.Load(),
		Finals:          c.finals.Load(),
		ResponsesSent:   c.responsesSent.Load(),
		FinalsSent:      c.finalsSent.Load(),
		TxFailures:      c.txFailures.Load(),
		DroppedSamples:  c.droppedSamples.Load(),
		UnknownFrames:   c.unknown.Load(),
		RxErrors:        c.rxErrors.Load(),
		Resyncs:         c.resyncs.Load(),
		TimerMismatches: c.mismatches.Load(),
		StaleWakes:      c.stale.Load(),
		DroppedEvents:   c.droppedEvents.Load(),
	}
}
