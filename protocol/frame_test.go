package protocol

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testIdentity() Identity {
	return Identity{AnchorID: 3, TagID: 0, NumAnchors: 4, PANID: DefaultPANID}
}

func TestPollResponseLayout(t *testing.T) {
	m := NewPollResponse(testIdentity())
	m.Seq = 7
	data := m.Encode()

	if len(data) != PollResponseSize {
		t.Fatalf("Encode() size = %d, want %d", len(data), PollResponseSize)
	}
	if data[0] != FrameCtrl0 || data[1] != FrameCtrl1 {
		t.Errorf("frame control = % X, want 41 CC", data[0:2])
	}
	if data[2] != 7 {
		t.Errorf("seq = %d, want 7", data[2])
	}
	if got := binary.LittleEndian.Uint16(data[3:5]); got != DefaultPANID {
		t.Errorf("PAN ID = %04X, want %04X", got, DefaultPANID)
	}
	if data[5] != 0 || data[13] != 3 {
		t.Errorf("dest/src id bytes = %d/%d, want 0/3", data[5], data[13])
	}
	if data[21] != MsgTypeAncResp {
		t.Errorf("type = %02X, want %02X", data[21], MsgTypeAncResp)
	}
	if data[22] != 3 {
		t.Errorf("anchor id = %d, want 3", data[22])
	}
}

func TestPollResponseTemplateOnlySeqChanges(t *testing.T) {
	m := NewPollResponse(testIdentity())
	first := m.Encode()
	m.Seq++
	second := m.Encode()

	for i := range first {
		if i == 2 {
			continue
		}
		if first[i] != second[i] {
			t.Errorf("byte %d changed between transmits: %02X -> %02X", i, first[i], second[i])
		}
	}
	if second[2] != first[2]+1 {
		t.Errorf("seq = %d, want %d", second[2], first[2]+1)
	}
}

func TestAnchorFinalRoundTrip(t *testing.T) {
	m := NewAnchorFinal(testIdentity(), 5)
	m.Seq = 200
	m.Round = 0x42
	m.DistanceHist[0] = 1.25
	m.DistanceHist[3] = -0.5

	data := m.Encode()
	if len(data) != AnchorFinalSize(5) {
		t.Fatalf("Encode() size = %d, want %d", len(data), AnchorFinalSize(5))
	}

	got, err := DecodeAnchorFinal(data, 5)
	if err != nil {
		t.Fatalf("DecodeAnchorFinal() error = %v", err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("DecodeAnchorFinal() mismatch (-want +got):\n%s", diff)
	}
}

func TestBroadcastRoundTrip(t *testing.T) {
	b := &Broadcast{
		Seq:    9,
		PANID:  DefaultPANID,
		Src:    PopulateEUI(0),
		Type:   MsgTypeTagFinal,
		Round:  17,
		Subseq: 4,
		TSP:    0x01020304,
		TSF:    0x0A0B0C0D,
		TRR:    []Timestamp{0, 0x12_3456_789A, 0xFF_FFFF_FFFF, 42},
	}
	data := EncodeBroadcast(b)
	if len(data) != BroadcastSize(4) {
		t.Fatalf("EncodeBroadcast() size = %d, want %d", len(data), BroadcastSize(4))
	}

	got, err := DecodeBroadcast(data, 4)
	if err != nil {
		t.Fatalf("DecodeBroadcast() error = %v", err)
	}
	if diff := cmp.Diff(b, got); diff != "" {
		t.Errorf("DecodeBroadcast() mismatch (-want +got):\n%s", diff)
	}

	h, err := PeekHeader(data)
	if err != nil {
		t.Fatalf("PeekHeader() error = %v", err)
	}
	if h != (Header{Type: MsgTypeTagFinal, Round: 17, Subseq: 4}) {
		t.Errorf("PeekHeader() = %+v", h)
	}
}

func TestTRRFor(t *testing.T) {
	b := &Broadcast{TRR: []Timestamp{10, 20, 30, 40}}

	tests := []struct {
		name    string
		anchor  uint8
		want    Timestamp
		wantErr error
	}{
		{"first slot", 1, 10, nil},
		{"own slot", 3, 30, nil},
		{"last slot", 4, 40, nil},
		{"zero id", 0, 0, ErrInvalidAnchor},
		{"beyond anchors", 5, 0, ErrInvalidAnchor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.TRRFor(tt.anchor)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("TRRFor(%d) error = %v, want %v", tt.anchor, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("TRRFor(%d) = %d, want %d", tt.anchor, got, tt.want)
			}
		})
	}
}

func TestDecodeInvalidFrames(t *testing.T) {
	resp := NewPollResponse(testIdentity()).Encode()
	final := NewAnchorFinal(testIdentity(), 3).Encode()

	tests := []struct {
		name    string
		decode  func() error
		wantErr error
	}{
		{
			name:    "peek nil",
			decode:  func() error { _, err := PeekHeader(nil); return err },
			wantErr: ErrShortFrame,
		},
		{
			name:    "truncated broadcast",
			decode:  func() error { _, err := DecodeBroadcast(make([]byte, BroadcastSize(4)-3), 4); return err },
			wantErr: ErrShortFrame,
		},
		{
			name:    "truncated response",
			decode:  func() error { _, err := DecodePollResponse(resp[:10]); return err },
			wantErr: ErrShortFrame,
		},
		{
			name:    "final decoded as response",
			decode:  func() error { _, err := DecodePollResponse(final); return err },
			wantErr: ErrUnknownMessage,
		},
		{
			name:    "response decoded as final",
			decode:  func() error { _, err := DecodeAnchorFinal(append(resp, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0), 3); return err },
			wantErr: ErrUnknownMessage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.decode(); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFrameSizesFitDefaults(t *testing.T) {
	if n := BroadcastSize(DefaultNumAnchors); n > MaxFrameSize {
		t.Errorf("BroadcastSize(%d) = %d, exceeds %d", DefaultNumAnchors, n, MaxFrameSize)
	}
	if n := AnchorFinalSize(DefaultNumMeasurements); n > MaxFrameSize {
		t.Errorf("AnchorFinalSize(%d) = %d, exceeds %d", DefaultNumMeasurements, n, MaxFrameSize)
	}
}
