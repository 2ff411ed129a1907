package protocol

// Timestamp is a 40-bit device clock reading in native ticks (~15.65 ps).
type Timestamp uint64

// TimestampFromBytes assembles a timestamp from the radio's 5-byte little-endian register image.
func TimestampFromBytes(b []byte) Timestamp {
	var ts uint64
	for i := 0; i < 5 && i < len(b); i++ {
		ts |= uint64(b[i]) << (8 * i)
	}
	return Timestamp(ts & TimestampMask)
}

// Bytes returns the 5-byte little-endian register image of t.
func (t Timestamp) Bytes() [5]byte {
	var b [5]byte
	for i := range b {
		b[i] = byte(t >> (8 * i))
	}
	return b
}

// Hi32 returns the upper 32 bits, the resolution used by delayed transmit and by tSP/tSF.
func (t Timestamp) Hi32() uint32 { return uint32(t >> 8) }

// FromHi32 widens an upper-32-bit reading back to full tick resolution.
func FromHi32(v uint32) Timestamp { return Timestamp(uint64(v) << 8) }

// Add returns t+ticks modulo the 40-bit counter range.
func (t Timestamp) Add(ticks uint64) Timestamp {
	return Timestamp((uint64(t) + ticks) & TimestampMask)
}

// Diff returns a-b as a signed tick count, treating both as points on the
// wrapping 40-bit counter. Results lie in [-2^39, 2^39).
func Diff(a, b Timestamp) int64 {
	d := (uint64(a) - uint64(b)) & TimestampMask
	if d >= 1<<(TimestampBits-1) {
		return int64(d) - 1<<TimestampBits
	}
	return int64(d)
}

// USToDeviceTicks converts microseconds to device ticks.
func USToDeviceTicks(us uint32) uint64 {
	return uint64(us) * ticksPerTenUS / 10
}

// USToDeviceTicksHi32 converts microseconds to upper-32-bit device time units.
func USToDeviceTicksHi32(us uint32) uint32 {
	return uint32(USToDeviceTicks(us) >> 8)
}
