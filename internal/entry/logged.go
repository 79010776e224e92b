package entry

import "fmt"

// Logged is a read-only view over one serialized frame. It aliases the buffer
// it was read from; use Clone to keep it beyond the lifetime of that buffer.
type Logged []byte

// ReadFrame returns the frame starting at offset in buf.
func ReadFrame(buf []byte, offset int) (Logged, error) {
	if offset < 0 {
		return nil, ErrNegativeOffset
	}
	if len(buf)-offset < metadataOffset {
		return nil, fmt.Errorf("%w: %d bytes left at offset %d", ErrCorruptFrame, len(buf)-offset, offset)
	}
	b := buf[offset:]
	length := int(le.Uint32(b[lengthOffset:]))
	metaLen := int(le.Uint16(b[metadataLengthOffset:]))
	if length < HeaderLength(metaLen) || length > len(b) {
		return nil, fmt.Errorf("%w: length %d at offset %d", ErrCorruptFrame, length, offset)
	}
	return Logged(b[:length]), nil
}

// Length is the unaligned frame length.
func (l Logged) Length() int { return len(l) }

// FramedLength is the aligned space of the frame in its buffer.
func (l Logged) FramedLength() int { return Align(len(l)) }

func (l Logged) Kind() Kind      { return Kind(le.Uint16(l[kindOffset:])) }
func (l Logged) Flags() uint8    { return l[flagsOffset] }
func (l Logged) Position() int64 { return int64(le.Uint64(l[positionOffset:])) }
func (l Logged) Key() int64      { return int64(le.Uint64(l[keyOffset:])) }
func (l Logged) Timestamp() int64 {
	return int64(le.Uint64(l[timestampOffset:]))
}

// SourceEventPosition is the causal parent position, or a value <= 0 when the
// entry has none.
func (l Logged) SourceEventPosition() int64 {
	return int64(le.Uint64(l[sourceEventPositionOffset:]))
}

func (l Logged) metadataLength() int { return int(le.Uint16(l[metadataLengthOffset:])) }

// Metadata aliases the metadata bytes of the frame.
func (l Logged) Metadata() []byte {
	return l[metadataOffset : metadataOffset+l.metadataLength()]
}

// Value aliases the value bytes of the frame.
func (l Logged) Value() []byte {
	return l[HeaderLength(l.metadataLength()):]
}

// IsAuditBundle reports whether the frame is a compressed bundle.
func (l Logged) IsAuditBundle() bool { return l.Kind() == KindAuditBundle }

// Clone copies the frame into a new buffer.
func (l Logged) Clone() Logged {
	if l == nil {
		return nil
	}
	return append(Logged(nil), l...)
}

// Entry converts the frame back into a writable entry. Metadata and value are
// copied.
func (l Logged) Entry() Entry {
	return Entry{
		Key:         l.Key(),
		SourceIndex: NoSourceIndex,
		Metadata:    append([]byte(nil), l.Metadata()...),
		Value:       append([]byte(nil), l.Value()...),
	}
}

// setPosition and setSourceEventPosition patch frames in privately owned buffers.
func (l Logged) setPosition(p int64) { le.PutUint64(l[positionOffset:], uint64(p)) }
func (l Logged) setSourceEventPosition(p int64) {
	le.PutUint64(l[sourceEventPositionOffset:], uint64(p))
}

// Rebase rewrites the frame in place so that it reads as a member of a run of
// entries starting at firstPosition: the position becomes firstPosition+index
// and a relative source index is resolved against firstPosition. The frame
// must not alias shared storage.
func (l Logged) Rebase(firstPosition int64, index int) {
	l.setPosition(firstPosition + int64(index))
	if l.Flags()&FlagRelativeSource != 0 {
		l.setSourceEventPosition(firstPosition + l.SourceEventPosition())
		l[flagsOffset] &^= FlagRelativeSource
	}
}

func (l Logged) String() string {
	return fmt.Sprintf("{kind=%s position=%d source=%d key=%d ts=%d meta=%d value=%d}",
		l.Kind(), l.Position(), l.SourceEventPosition(), l.Key(), l.Timestamp(), l.metadataLength(), len(l.Value()))
}

// Scanner iterates the frames of a buffer written by Write or WriteBatch.
type Scanner struct {
	buf    []byte
	offset int
	cur    Logged
	err    error
}

// NewScanner returns a scanner over buf.
func NewScanner(buf []byte) *Scanner { return &Scanner{buf: buf} }

// Scan advances to the next frame. It returns false at the end of the buffer
// or on a corrupt frame; Err distinguishes the two.
func (s *Scanner) Scan() bool {
	if s.err != nil || s.offset >= len(s.buf) {
		s.cur = nil
		return false
	}
	l, err := ReadFrame(s.buf, s.offset)
	if err != nil {
		s.err = err
		s.cur = nil
		return false
	}
	s.cur = l
	s.offset += l.FramedLength()
	return true
}

// Entry returns the current frame.
func (s *Scanner) Entry() Logged { return s.cur }

// Offset is the offset of the next frame.
func (s *Scanner) Offset() int { return s.offset }

// Err returns the first corruption found.
func (s *Scanner) Err() error { return s.err }
