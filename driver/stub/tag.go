//go:build !tinygo && !baremetal

package stub

import (
	"context"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/ystepanoff/polypoint/internal/clock"
	proto "github.com/ystepanoff/polypoint/protocol"
)

// TagConfig describes the simulated tag and the geometry it reports.
type TagConfig struct {
	TagEUI          uint8
	NumAnchors      int
	NumMeasurements int
	PANID           uint16
	// Distance from the tag to every anchor, in metres.
	Distance float64

	ResponseWindow    time.Duration
	SubsequencePeriod time.Duration
}

// Tag plays the tag side of a ranging round against anchors sharing a Driver.
// The tag and the anchors share one device clock.
type Tag struct {
	drv *Driver
	cfg TagConfig
	clk clock.Clock
	log *slog.Logger

	tof uint64
	seq uint8
	tSP uint32

	// Finals collects every ANC_FINAL the tag has heard.
	Finals []*proto.AnchorFinal
}

func NewTag(drv *Driver, cfg TagConfig, log *slog.Logger) *Tag {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tof := math.Round(cfg.Distance / (proto.TimeUnitSeconds * proto.SpeedOfLight))
	return &Tag{
		drv: drv,
		cfg: cfg,
		clk: drv.clk,
		log: log.With("component", "sim-tag", "eui", cfg.TagEUI),
		tof: uint64(tof),
	}
}

func (t *Tag) broadcast(typ, round, subseq uint8, tSP, tSF uint32, trr []proto.Timestamp) []byte {
	t.seq++
	if trr == nil {
		trr = make([]proto.Timestamp, t.cfg.NumAnchors)
	}
	return proto.EncodeBroadcast(&proto.Broadcast{
		Seq:    t.seq,
		PANID:  t.cfg.PANID,
		Src:    proto.PopulateEUI(t.cfg.TagEUI),
		Type:   typ,
		Round:  round,
		Subseq: subseq,
		TSP:    tSP,
		TSF:    tSF,
		TRR:    trr,
	})
}

// Poll broadcasts TAG_POLL for a subsequence.
func (t *Tag) Poll(round, subseq uint8) {
	t.tSP = t.drv.SysTimeHi32() &^ 1
	t.drv.InjectRx(t.broadcast(proto.MsgTypeTagPoll, round, subseq, 0, 0, nil), proto.FromHi32(t.tSP).Add(t.tof))
}

// Final collects the anchor responses to the last poll and broadcasts
// TAG_FINAL carrying their receive times. It returns how many anchors answered.
func (t *Tag) Final(round, subseq uint8) int {
	trr := make([]proto.Timestamp, t.cfg.NumAnchors)
	n := 0
	for _, resp := range t.collect() {
		if resp.AnchorID < 1 || int(resp.AnchorID) > t.cfg.NumAnchors {
			continue
		}
		trr[resp.AnchorID-1] = proto.FromHi32(resp.DelayedHi32).Add(t.tof)
		n++
	}
	tSF := t.drv.SysTimeHi32() &^ 1
	t.drv.InjectRx(t.broadcast(proto.MsgTypeTagFinal, round, subseq, t.tSP, tSF, trr), proto.FromHi32(tSF).Add(t.tof))
	t.log.Debug("sent TAG_FINAL", "round", round, "subseq", subseq, "responses", n)
	return n
}

type response struct {
	AnchorID    uint8
	DelayedHi32 uint32
}

// collect drains the transmit log, returning responses and keeping finals.
func (t *Tag) collect() []response {
	var out []response
	for {
		tx, ok := t.drv.PopTx()
		if !ok {
			return out
		}
		if resp, err := proto.DecodePollResponse(tx.Data); err == nil {
			out = append(out, response{AnchorID: resp.AnchorID, DelayedHi32: tx.DelayedHi32})
			continue
		}
		fin, err := proto.DecodeAnchorFinal(tx.Data, t.cfg.NumMeasurements)
		if err != nil {
			t.log.Debug("ignoring frame", "err", err)
			continue
		}
		t.Finals = append(t.Finals, fin)
		t.log.Info("anchor final", "anchor", fin.AnchorID, "round", fin.Round, "distances", fin.DistanceHist)
	}
}

// Run plays rounds until ctx is cancelled. Each round is NumMeasurements
// subsequences followed by two periods for the anchors' finals.
func (t *Tag) Run(ctx context.Context) error {
	period := t.cfg.SubsequencePeriod
	for round := uint8(0); ; round++ {
		start := t.clk.Now()
		for s := 0; s < t.cfg.NumMeasurements; s++ {
			at := start.Add(time.Duration(s) * period)
			if err := t.waitUntil(ctx, at); err != nil {
				return err
			}
			t.Poll(round, uint8(s))
			if err := t.waitUntil(ctx, at.Add(t.cfg.ResponseWindow)); err != nil {
				return err
			}
			t.Final(round, uint8(s))
		}
		if err := t.waitUntil(ctx, start.Add(time.Duration(t.cfg.NumMeasurements+2)*period)); err != nil {
			return err
		}
		t.collect()
	}
}

func (t *Tag) waitUntil(ctx context.Context, at time.Time) error {
	d := at.Sub(t.clk.Now())
	if d <= 0 {
		return ctx.Err()
	}
	fired := make(chan struct{})
	tm := t.clk.AfterFunc(d, func() { close(fired) })
	select {
	case <-ctx.Done():
		tm.Stop()
		return ctx.Err()
	case <-fired:
		return nil
	}
}
