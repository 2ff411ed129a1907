package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Header holds the broadcast fields read on the receive fast path.
type Header struct {
	Type   byte
	Round  uint8
	Subseq uint8
}

// PeekHeader extracts message type, round number and subsequence number from
// their fixed broadcast offsets without decoding the rest of the frame.
func PeekHeader(data []byte) (Header, error) {
	if len(data) < BcastHeaderSize {
		return Header{}, fmt.Errorf("peek header (%d bytes): %w", len(data), ErrShortFrame)
	}
	return Header{
		Type:   data[BcastTypeOffset],
		Round:  data[BcastRoundOffset],
		Subseq: data[BcastSubseqOffset],
	}, nil
}

// Broadcast is a tag-originated TAG_POLL or TAG_FINAL frame.
// TSP and TSF are upper-32-bit device times; TRR holds full 40-bit receive
// times, one per anchor, indexed by anchor id minus one.
type Broadcast struct {
	Seq    uint8
	PANID  uint16
	Src    EUI
	Type   byte
	Round  uint8
	Subseq uint8
	TSP    uint32
	TSF    uint32
	TRR    []Timestamp
}

// EncodeBroadcast serialises b for len(b.TRR) anchors. The FCS bytes are left zero.
func EncodeBroadcast(b *Broadcast) []byte {
	if b == nil {
		return make([]byte, 0)
	}
	data := make([]byte, BroadcastSize(len(b.TRR)))
	data[0] = FrameCtrl0
	data[1] = FrameCtrl1Broadcast
	data[2] = b.Seq
	binary.LittleEndian.PutUint16(data[3:5], b.PANID)
	binary.LittleEndian.PutUint16(data[5:7], BroadcastAddr)
	copy(data[7:7+EUISize], b.Src[:])
	data[BcastTypeOffset] = b.Type
	data[BcastRoundOffset] = b.Round
	data[BcastSubseqOffset] = b.Subseq
	binary.LittleEndian.PutUint32(data[bcastTSPOffset:], b.TSP)
	binary.LittleEndian.PutUint32(data[bcastTSFOffset:], b.TSF)
	for i, ts := range b.TRR {
		off := bcastTRROffset + i*TimestampFieldSize
		binary.LittleEndian.PutUint64(data[off:off+TimestampFieldSize], uint64(ts))
	}
	return data
}

// DecodeBroadcast parses a full tag broadcast carrying numAnchors tRR slots.
func DecodeBroadcast(data []byte, numAnchors int) (*Broadcast, error) {
	want := BroadcastSize(numAnchors) - FCSSize
	if len(data) < want {
		return nil, fmt.Errorf("decode broadcast: have %d bytes, want %d: %w", len(data), want, ErrShortFrame)
	}
	b := &Broadcast{
		Seq:    data[2],
		PANID:  binary.LittleEndian.Uint16(data[3:5]),
		Type:   data[BcastTypeOffset],
		Round:  data[BcastRoundOffset],
		Subseq: data[BcastSubseqOffset],
		TSP:    binary.LittleEndian.Uint32(data[bcastTSPOffset:]),
		TSF:    binary.LittleEndian.Uint32(data[bcastTSFOffset:]),
		TRR:    make([]Timestamp, numAnchors),
	}
	copy(b.Src[:], data[7:7+EUISize])
	for i := range b.TRR {
		off := bcastTRROffset + i*TimestampFieldSize
		b.TRR[i] = Timestamp(binary.LittleEndian.Uint64(data[off:off+TimestampFieldSize]) & TimestampMask)
	}
	return b, nil
}

// TRRFor returns the tRR slot reported for the given anchor id.
func (b *Broadcast) TRRFor(anchorID uint8) (Timestamp, error) {
	if anchorID == 0 || int(anchorID) > len(b.TRR) {
		return 0, fmt.Errorf("tRR slot for anchor %d of %d: %w", anchorID, len(b.TRR), ErrInvalidAnchor)
	}
	return b.TRR[anchorID-1], nil
}

// AnchorHeader carries the header fields shared by both anchor-originated messages.
type AnchorHeader struct {
	Seq      uint8
	PANID    uint16
	Dest     EUI
	Src      EUI
	Type     byte
	AnchorID uint8
}

func (f *AnchorHeader) putHeader(data []byte) {
	data[0] = FrameCtrl0
	data[1] = FrameCtrl1
	data[2] = f.Seq
	binary.LittleEndian.PutUint16(data[3:5], f.PANID)
	copy(data[5:5+EUISize], f.Dest[:])
	copy(data[5+EUISize:5+2*EUISize], f.Src[:])
	data[anchorTypeOffset] = f.Type
	data[anchorIDOffset] = f.AnchorID
}

func (f *AnchorHeader) getHeader(data []byte) {
	f.Seq = data[2]
	f.PANID = binary.LittleEndian.Uint16(data[3:5])
	copy(f.Dest[:], data[5:5+EUISize])
	copy(f.Src[:], data[5+EUISize:5+2*EUISize])
	f.Type = data[anchorTypeOffset]
	f.AnchorID = data[anchorIDOffset]
}

// PollResponse is the ANC_RESP frame an anchor sends in its slot after a TAG_POLL.
type PollResponse struct {
	AnchorHeader
}

// NewPollResponse builds the response template with every constant field filled in.
func NewPollResponse(id Identity) *PollResponse {
	return &PollResponse{AnchorHeader{
		PANID:    id.PANID,
		Dest:     id.Tag(),
		Src:      id.Anchor(),
		Type:     MsgTypeAncResp,
		AnchorID: id.AnchorID,
	}}
}

// Encode serialises the response. The FCS bytes are left zero.
func (m *PollResponse) Encode() []byte {
	data := make([]byte, PollResponseSize)
	m.putHeader(data)
	return data
}

// DecodePollResponse parses an ANC_RESP frame.
func DecodePollResponse(data []byte) (*PollResponse, error) {
	if len(data) < PollResponseSize-FCSSize {
		return nil, fmt.Errorf("decode poll response (%d bytes): %w", len(data), ErrShortFrame)
	}
	m := &PollResponse{}
	m.getHeader(data)
	if m.Type != MsgTypeAncResp {
		return nil, fmt.Errorf("decode poll response: type 0x%02X: %w", m.Type, ErrUnknownMessage)
	}
	return m, nil
}

// AnchorFinal is the ANC_FINAL frame reporting a round's distance histogram.
// Unset slots are zero.
type AnchorFinal struct {
	AnchorHeader
	Round        uint8
	DistanceHist []float32
}

// NewAnchorFinal builds the final template for a histogram of numMeasurements slots.
func NewAnchorFinal(id Identity, numMeasurements int) *AnchorFinal {
	return &AnchorFinal{
		AnchorHeader: AnchorHeader{
			PANID:    id.PANID,
			Dest:     id.Tag(),
			Src:      id.Anchor(),
			Type:     MsgTypeAncFinal,
			AnchorID: id.AnchorID,
		},
		DistanceHist: make([]float32, numMeasurements),
	}
}

// Encode serialises the final. The FCS bytes are left zero.
func (m *AnchorFinal) Encode() []byte {
	data := make([]byte, AnchorFinalSize(len(m.DistanceHist)))
	m.putHeader(data)
	data[anchorRoundOffset] = m.Round
	for i, d := range m.DistanceHist {
		off := anchorHistOffset + 4*i
		binary.LittleEndian.PutUint32(data[off:off+4], math.Float32bits(d))
	}
	return data
}

// DecodeAnchorFinal parses an ANC_FINAL frame with numMeasurements histogram slots.
func DecodeAnchorFinal(data []byte, numMeasurements int) (*AnchorFinal, error) {
	want := AnchorFinalSize(numMeasurements) - FCSSize
	if len(data) < want {
		return nil, fmt.Errorf("decode anchor final: have %d bytes, want %d: %w", len(data), want, ErrShortFrame)
	}
	m := &AnchorFinal{DistanceHist: make([]float32, numMeasurements)}
	m.getHeader(data)
	if m.Type != MsgTypeAncFinal {
		return nil, fmt.Errorf("decode anchor final: type 0x%02X: %w", m.Type, ErrUnknownMessage)
	}
	m.Round = data[anchorRoundOffset]
	for i := range m.DistanceHist {
		off := anchorHistOffset + 4*i
		m.DistanceHist[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
	}
	return m, nil
}
