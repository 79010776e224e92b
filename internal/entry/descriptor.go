package entry

import "encoding/binary"

// Kind tags a frame with the type of record it carries.
type Kind uint16

const (
	// KindEvent is an ordinary entry.
	KindEvent Kind = 1
	// KindAuditBundle is a compressed container of other entries.
	KindAuditBundle Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindAuditBundle:
		return "audit-bundle"
	default:
		return "unknown"
	}
}

// Frame flags.
const (
	// FlagRelativeSource marks a source event position that is an index
	// relative to the first entry of the enclosing bundle.
	FlagRelativeSource uint8 = 1 << 0
)

const (
	lengthOffset              = 0
	kindOffset                = 4
	flagsOffset               = 6
	positionOffset            = 8
	sourceEventPositionOffset = 16
	keyOffset                 = 24
	timestampOffset           = 32
	metadataLengthOffset      = 40
	metadataOffset            = 42

	// FrameAlignment is the byte boundary every frame is padded to.
	FrameAlignment = 8
	// MaxMetadataLength is bounded by the 2-byte length field.
	MaxMetadataLength = 1<<16 - 1
)

// Sentinel values shared by writers and readers.
const (
	// NoPosition is returned for rejected writes and unpositioned readers.
	NoPosition int64 = -1
	// KeyUnset marks an entry without a correlation key.
	KeyUnset int64 = -1
	// NoSourceIndex marks an entry without an intra-batch causal parent.
	NoSourceIndex = -1
)

// HeaderLength returns the length of the fixed header plus metadata.
func HeaderLength(metadataLength int) int {
	return metadataOffset + metadataLength
}

// FrameLength returns the unaligned length of a frame.
func FrameLength(metadataLength, valueLength int) int {
	return HeaderLength(metadataLength) + valueLength
}

// FramedLength returns the aligned space one frame occupies in a buffer.
func FramedLength(metadataLength, valueLength int) int {
	return Align(FrameLength(metadataLength, valueLength))
}

// Align rounds n up to FrameAlignment.
func Align(n int) int {
	return (n + FrameAlignment - 1) &^ (FrameAlignment - 1)
}

var le = binary.LittleEndian
