package ranging

import (
	"fmt"

	proto "github.com/ystepanoff/polypoint/protocol"
)

// Sample is the timestamp set of one ADS-TWR exchange. TSR, TSP and TSF are
// upper-32-bit device times; the others are full-resolution captures.
//
//	tRP  local rx of the tag poll
//	tSR  local tx of the anchor response
//	tRR  tag rx of the anchor response, read from the tag final
//	tSP  tag tx of the poll
//	tSF  tag tx of the final
//	tRF  local rx of the tag final
type Sample struct {
	TRP proto.Timestamp
	TSR uint32
	TRR proto.Timestamp
	TSP uint32
	TSF uint32
	TRF proto.Timestamp
}

// Complete reports whether every timestamp of the exchange was captured.
func (s Sample) Complete() bool { return s.Validate() == nil }

// Validate returns proto.ErrIncompleteSample naming the first timestamp that
// was not captured. A zero value marks a missing capture.
func (s Sample) Validate() error {
	var missing string
	switch {
	case s.TRP == 0:
		missing = "tRP"
	case s.TSR == 0:
		missing = "tSR"
	case s.TRR == 0:
		missing = "tRR"
	case s.TSP == 0:
		missing = "tSP"
	case s.TSF == 0:
		missing = "tSF"
	case s.TRF == 0:
		missing = "tRF"
	default:
		return nil
	}
	return fmt.Errorf("%s not captured: %w", missing, proto.ErrIncompleteSample)
}

// Calibration holds the distance corrections of a deployment.
type Calibration struct {
	// AnchorCalLength is added to every estimate, in metres.
	AnchorCalLength float64
	// AntennaDelay[anchor EUI][channel index] is subtracted from every estimate, in metres.
	AntennaDelay [][]float64
	// SpeedOfLight in m/s; zero means proto.SpeedOfLight.
	SpeedOfLight float64
}

// AntennaDelayFor returns the correction for an anchor and channel; missing entries are zero.
func (c Calibration) AntennaDelayFor(anchorID uint8, channel int) float64 {
	if int(anchorID) >= len(c.AntennaDelay) {
		return 0
	}
	row := c.AntennaDelay[anchorID]
	if channel < 0 || channel >= len(row) {
		return 0
	}
	return row[channel]
}

func (c Calibration) speedOfLight() float64 {
	if c.SpeedOfLight == 0 {
		return proto.SpeedOfLight
	}
	return c.SpeedOfLight
}

// EstimateDistance computes the ADS-TWR distance in metres for an exchange.
// Intervals are taken modulo the 40-bit device counter so a rollover between
// captures does not corrupt the result. The value is not clamped: negative or
// implausible distances are returned as computed.
func EstimateDistance(s Sample, anchorID uint8, channel int, cal Calibration) float64 {
	tSR := proto.FromHi32(s.TSR)
	tSP := proto.FromHi32(s.TSP)
	tSF := proto.FromHi32(s.TSF)

	spanLocal := float64(proto.Diff(s.TRF, s.TRP))
	spanRemote := float64(proto.Diff(tSF, tSP))
	round2 := float64(proto.Diff(s.TRF, tSR))
	reply2 := float64(proto.Diff(tSF, s.TRR))

	// Explicit float64 conversions prevent fused multiply-add.
	aot := spanLocal / spanRemote
	tof := round2 - float64(reply2*aot)

	dist := float64(tof*proto.TimeUnitSeconds) / 2
	dist = float64(dist * cal.speedOfLight())
	dist += cal.AnchorCalLength
	dist -= cal.AntennaDelayFor(anchorID, channel)
	return dist
}
