package ranging

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	proto "github.com/ystepanoff/polypoint/protocol"
)

func TestEstimateDistanceGolden(t *testing.T) {
	s := Sample{TRP: 1000, TSR: 2000, TRR: 2100, TSP: 500, TSF: 8000, TRF: 9000}

	first := EstimateDistance(s, 3, 0, Calibration{})
	second := EstimateDistance(s, 3, 0, Calibration{})

	assert.Equal(t, -1199.6164212592785, first)
	assert.Equal(t, math.Float64bits(first), math.Float64bits(second))
}

func TestEstimateDistanceKnownFlight(t *testing.T) {
	const tof = 2132 // ticks, about ten metres
	e := newExchange(1_000_000, 123_456_789, tof)

	got := EstimateDistance(e.sample(), 3, 0, Calibration{})
	want := float64(tof) * proto.TimeUnitSeconds * proto.SpeedOfLight
	assert.InDelta(t, want, got, 1e-9)
	assert.InDelta(t, 10.0, got, 0.01)
}

func TestEstimateDistanceAcrossRollover(t *testing.T) {
	const tof = 2132
	plain := newExchange(1_000_000, 123_456_789, tof)
	// Anchor clock 50M ticks short of rollover when the poll arrives, so
	// tSR and tRF wrap past zero.
	offset := uint64(proto.TimestampMask+1) - uint64(proto.FromHi32(1_000_000)) - 50_000_000
	wrapped := newExchange(1_000_000, offset, tof)

	require.Greater(t, uint64(wrapped.tRP), uint64(wrapped.tRF), "tRF should have wrapped")

	want := EstimateDistance(plain.sample(), 3, 0, Calibration{})
	got := EstimateDistance(wrapped.sample(), 3, 0, Calibration{})
	assert.Equal(t, want, got)
}

func TestEstimateDistanceCalibration(t *testing.T) {
	e := newExchange(1_000_000, 0, 2132)
	base := EstimateDistance(e.sample(), 3, 1, Calibration{})

	cal := Calibration{
		AnchorCalLength: 0.5,
		AntennaDelay: [][]float64{
			{}, {}, {},
			{0.9, 0.2, 0.7}, // anchor 3
		},
	}
	got := EstimateDistance(e.sample(), 3, 1, cal)
	assert.InDelta(t, base+0.5-0.2, got, 1e-12)
}

func TestAntennaDelayFor(t *testing.T) {
	cal := Calibration{AntennaDelay: [][]float64{{}, {0.1, 0.2}}}

	tests := []struct {
		name    string
		anchor  uint8
		channel int
		want    float64
	}{
		{"present", 1, 1, 0.2},
		{"missing anchor row", 4, 0, 0},
		{"missing channel", 1, 2, 0},
		{"negative channel", 1, -1, 0},
		{"empty row", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.AntennaDelayFor(tt.anchor, tt.channel))
		})
	}
}

func TestSampleComplete(t *testing.T) {
	full := Sample{TRP: 1, TSR: 2, TRR: 3, TSP: 4, TSF: 5, TRF: 6}
	require.True(t, full.Complete())
	require.NoError(t, full.Validate())

	tests := []struct {
		name string
		zero func(*Sample)
	}{
		{"tRP", func(s *Sample) { s.TRP = 0 }},
		{"tSR", func(s *Sample) { s.TSR = 0 }},
		{"tRR", func(s *Sample) { s.TRR = 0 }},
		{"tSP", func(s *Sample) { s.TSP = 0 }},
		{"tSF", func(s *Sample) { s.TSF = 0 }},
		{"tRF", func(s *Sample) { s.TRF = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := full
			tt.zero(&s)
			assert.False(t, s.Complete())
			err := s.Validate()
			assert.ErrorIs(t, err, proto.ErrIncompleteSample)
			assert.ErrorContains(t, err, tt.name)
		})
	}
}
