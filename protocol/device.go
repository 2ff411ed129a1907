package protocol

// EUI is a 64-bit IEEE extended address, stored in over-the-air (little-endian) order.
type EUI [EUISize]byte

// euiBase fills the upper seven bytes of every node address in the deployment.
var euiBase = [EUISize - 1]byte{0x55, 0x44, 0x33, 0x22, 0x11, 0x98, 0xC0}

// PopulateEUI builds the extended address of the node with the given short id.
// The id doubles as the node's time-slot index.
func PopulateEUI(id uint8) EUI {
	var e EUI
	e[0] = id
	copy(e[1:], euiBase[:])
	return e
}

// ID returns the short node id carried in the lowest address byte.
func (e EUI) ID() uint8 { return e[0] }

// Identity describes the local anchor and its peer tag.
type Identity struct {
	AnchorID   uint8
	TagID      uint8
	NumAnchors int
	PANID      uint16
}

// Valid reports whether the anchor id addresses a tRR slot in a tag broadcast.
func (id Identity) Valid() bool {
	return id.AnchorID >= 1 && int(id.AnchorID) <= id.NumAnchors
}

// Anchor returns the anchor's extended address.
func (id Identity) Anchor() EUI { return PopulateEUI(id.AnchorID) }

// Tag returns the tag's extended address.
func (id Identity) Tag() EUI { return PopulateEUI(id.TagID) }
