package report

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/ystepanoff/polypoint/ranging"
)

// Recorder persists completed rounds.
type Recorder interface {
	Record(ctx context.Context, r ranging.RoundReport) error
}

// Sink takes round reports off the ranging loop and logs and records them on
// its own goroutine.
type Sink struct {
	rec     Recorder
	log     *slog.Logger
	reports chan ranging.RoundReport
	dropped atomic.Uint64
}

// NewSink returns a sink buffering up to buffer reports. rec may be nil.
func NewSink(rec Recorder, log *slog.Logger, buffer int) *Sink {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if buffer < 1 {
		buffer = 1
	}
	return &Sink{rec: rec, log: log.With("component", "report"), reports: make(chan ranging.RoundReport, buffer)}
}

// Handle queues a report without blocking. It is a ranging round handler.
func (s *Sink) Handle(r ranging.RoundReport) {
	select {
	case s.reports <- r:
	default:
		s.dropped.Add(1)
		s.log.Warn("report queue full, dropping round", "round", r.Round)
	}
}

// Dropped returns how many reports were discarded because the queue was full.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

// Run handles queued reports until ctx is cancelled.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-s.reports:
			s.process(ctx, r)
		}
	}
}

func (s *Sink) process(ctx context.Context, r ranging.RoundReport) {
	sum := Summarize(r)
	s.log.Info("round complete",
		"anchor", r.AnchorID,
		"round", r.Round,
		"valid", sum.Valid,
		"dropped", sum.Dropped,
		"mean_m", sum.Mean,
		"median_m", sum.Median,
		"stddev_m", sum.StdDev)
	if s.rec == nil {
		return
	}
	if err := s.rec.Record(ctx, r); err != nil {
		s.log.Error("failed to record round", "round", r.Round, "err", err)
	}
}
