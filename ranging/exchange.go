package ranging

import (
	"time"

	proto "github.com/ystepanoff/polypoint/protocol"
)

// ResponseDelay returns the delayed-transmit time, in upper-32-bit device
// units, of the response to a poll received at tRP. Each anchor answers in
// its own slot; the low bit is cleared as delayed transmit requires.
func ResponseDelay(tRP proto.Timestamp, anchorEUI uint8, globalDelay, respDelay uint32) uint32 {
	delay := tRP.Hi32() + globalDelay*uint32(anchorEUI) + respDelay
	return delay &^ 1
}

// FinalSlotDelay returns the delayed-transmit time of an anchor's ANC_FINAL.
// Lower EUIs transmit later, two slots apart.
func FinalSlotDelay(sysHi32 uint32, numAnchors int, anchorEUI uint8, globalDelay uint32) uint32 {
	slots := uint32(numAnchors-int(anchorEUI)+1) * 2
	delay := sysHi32 + globalDelay*slots
	return delay &^ 1
}

// onFrameReceived dispatches a received frame on its broadcast header.
func (a *Anchor) onFrameReceived(f RxFrame, at time.Time) {
	h, err := proto.PeekHeader(f.Data)
	if err != nil {
		a.stats.unknown.Add(1)
		a.log.Debug("discarding frame", "err", err)
		return
	}

	switch h.Type {
	case proto.MsgTypeTagPoll:
		a.session.Round.Num = h.Round
		a.onPoll(f.Timestamp, h, at)
	case proto.MsgTypeTagFinal:
		a.session.Round.Num = h.Round
		a.onFinal(f, h)
	default:
		a.stats.unknown.Add(1)
		a.log.Debug("rx unknown packet type", "type", h.Type)
	}
}

// onPoll records tRP and schedules the response in this anchor's slot.
func (a *Anchor) onPoll(tRP proto.Timestamp, h proto.Header, at time.Time) {
	a.stats.polls.Add(1)
	a.log.Debug("TAG_POLL received", "remote_subseq", h.Subseq, "round", h.Round)

	a.session.Stamps.TRP = tRP
	delay := ResponseDelay(tRP, a.cfg.AnchorEUI, a.globalDelay, a.respDelay)
	a.session.Stamps.TSR = delay
	a.radio.SetDelayedTxTime(delay)

	a.resp.Seq++
	if err := a.radio.WriteTxData(a.resp.Encode()); err != nil {
		a.stats.txFailures.Add(1)
		a.log.Warn("could not write anchor response", "err", err)
	} else {
		// Expect the tag final next.
		a.radio.SetRxAfterTxDelay(a.cfg.RxAfterTxDelayUS)
		if err := a.radio.StartDelayedTx(true); err != nil {
			a.stats.txFailures.Add(1)
			a.log.Warn("could not send anchor response", "err", err)
		} else {
			a.stats.responsesSent.Add(1)
			a.log.Debug("sent ANC_RESP", "delay", delay)
		}
	}
	a.radio.SetAntennaDelay(a.cfg.TxAntennaDelay)

	if h.Subseq == 0 {
		a.beginRound(at)
	}
}

// onFinal completes the exchange for the current subsequence and stores the
// distance estimate. Incomplete exchanges leave the histogram slot unset.
func (a *Anchor) onFinal(f RxFrame, h proto.Header) {
	a.stats.finals.Add(1)
	a.log.Debug("TAG_FINAL received", "remote_subseq", h.Subseq, "round", h.Round)
	defer a.enableRx()

	b, err := proto.DecodeBroadcast(f.Data, a.cfg.NumAnchors)
	if err != nil {
		a.stats.droppedSamples.Add(1)
		a.log.Warn("could not decode TAG_FINAL", "err", err)
		return
	}
	a.session.Round.Num = b.Round
	a.log.Debug("TAG_FINAL decoded", "tag", b.Src.ID(), "tsp", b.TSP, "tsf", b.TSF)

	tRR, err := b.TRRFor(a.cfg.AnchorEUI)
	if err != nil {
		a.stats.droppedSamples.Add(1)
		a.log.Warn("TAG_FINAL has no slot for this anchor", "err", err)
		return
	}

	s := Sample{
		TRP: a.session.Stamps.TRP,
		TSR: a.session.Stamps.TSR,
		TRR: tRR,
		TSP: b.TSP,
		TSF: b.TSF,
		TRF: f.Timestamp,
	}
	if err := s.Validate(); err != nil {
		a.stats.droppedSamples.Add(1)
		a.log.Debug("slot left unset", "subseq", a.session.Subseq, "err", err)
		return
	}

	idx := a.session.Subseq
	if idx >= len(a.session.Round.DistanceHist) {
		a.stats.droppedSamples.Add(1)
		a.log.Warn("TAG_FINAL during final phase, no histogram slot", "subseq", idx)
		return
	}
	ch := a.channels.ChannelIndex(idx)
	dist := EstimateDistance(s, a.cfg.AnchorEUI, ch, a.cfg.Calibration)
	a.session.Round.DistanceHist[idx] = float32(dist)
	a.log.Debug("distance estimated", "subseq", idx, "channel", ch, "dist_m", dist)
}

func (a *Anchor) enableRx() {
	if err := a.radio.EnableRx(); err != nil {
		a.log.Warn("could not enable rx", "err", err)
	}
}
