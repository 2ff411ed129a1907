package protocol

// Wire, clock and timing constants shared by anchors and tags. All frames are
// packed little-endian IEEE 802.15.4 data frames; the FCS is filled by the radio.
//
// Broadcast (TAG_POLL, TAG_FINAL), tag -> anchors:
//
//	FrameCtrl(2) | Seq(1) | PANID(2) | Dest(2) | Src(8) | Type(1) | Round(1) | Subseq(1) |
//	tSP(4) | tSF(4) | tRR(8 * numAnchors) | FCS(2)
//
// PollResponse (ANC_RESP), anchor -> tag:
//
//	FrameCtrl(2) | Seq(1) | PANID(2) | Dest(8) | Src(8) | Type(1) | AnchorID(1) | FCS(2)
//
// AnchorFinal (ANC_FINAL), anchor -> tag:
//
//	FrameCtrl(2) | Seq(1) | PANID(2) | Dest(8) | Src(8) | Type(1) | AnchorID(1) | Round(1) |
//	DistanceHist(float32 * numMeasurements) | FCS(2)
const (
	FrameCtrlSize = 2
	SeqFieldSize  = 1
	PANIDSize     = 2
	ShortAddrSize = 2
	EUISize       = 8
	FCSSize       = 2

	// Largest PSDU a standard-mode frame may carry, FCS included.
	MaxFrameSize = 127

	// Data frame, PAN ID compression, long destination and source.
	FrameCtrl0 = 0x41
	FrameCtrl1 = 0xCC
	// Same, but with a short (broadcast) destination.
	FrameCtrl1Broadcast = 0xC8

	BroadcastAddr = 0xFFFF
	DefaultPANID  = 0xD100

	// Message types
	MsgTypeTagPoll  = 0x61
	MsgTypeAncResp  = 0x50
	MsgTypeTagFinal = 0x62
	MsgTypeAncFinal = 0x51

	// Broadcast field offsets. Type, round and subsequence are read without a full decode.
	BcastTypeOffset   = FrameCtrlSize + SeqFieldSize + PANIDSize + ShortAddrSize + EUISize // 15
	BcastRoundOffset  = BcastTypeOffset + 1
	BcastSubseqOffset = BcastTypeOffset + 2
	BcastHeaderSize   = BcastSubseqOffset + 1
	bcastTSPOffset    = BcastHeaderSize
	bcastTSFOffset    = bcastTSPOffset + 4
	bcastTRROffset    = bcastTSFOffset + 4

	// Anchor-originated frame offsets.
	anchorTypeOffset   = FrameCtrlSize + SeqFieldSize + PANIDSize + 2*EUISize // 21
	anchorIDOffset     = anchorTypeOffset + 1
	anchorRoundOffset  = anchorIDOffset + 1
	anchorHistOffset   = anchorRoundOffset + 1
	PollResponseSize   = anchorIDOffset + 1 + FCSSize
	TimestampFieldSize = 8

	// Device clock: 40-bit counter at 499.2 MHz * 128.
	TimestampBits   = 40
	TimestampMask   = 1<<TimestampBits - 1
	TimeUnitSeconds = 1.0 / (499.2e6 * 128.0)
	ticksPerTenUS   = 638976      // 63897.6 ticks per microsecond, kept integral
	SpeedOfLight    = 299702547.0 // m/s in air

	// Deployment defaults
	DefaultNumAnchors      = 10
	DefaultNumMeasurements = 9
	DefaultAnchorEUI       = 1
	DefaultTagEUI          = 0
)

// BroadcastSize returns the on-air size of a tag broadcast for the given anchor count.
func BroadcastSize(numAnchors int) int {
	return bcastTRROffset + TimestampFieldSize*numAnchors + FCSSize
}

// AnchorFinalSize returns the on-air size of an ANC_FINAL frame.
func AnchorFinalSize(numMeasurements int) int {
	return anchorHistOffset + 4*numMeasurements + FCSSize
}
