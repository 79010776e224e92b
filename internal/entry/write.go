package entry

import "fmt"

// Frame carries every field of one serialized entry.
type Frame struct {
	Kind                Kind
	Flags               uint8
	Position            int64
	SourceEventPosition int64
	Key                 int64
	Timestamp           int64
	Metadata            []byte
	Value               []byte
}

// FramedLength is the aligned space the frame occupies.
func (f Frame) FramedLength() int {
	return FramedLength(len(f.Metadata), len(f.Value))
}

// Write serializes f into dst at offset and returns the number of bytes used,
// including alignment padding. Nothing is written when a precondition fails.
func Write(dst []byte, offset int, f Frame) (int, error) {
	if offset < 0 {
		return 0, ErrNegativeOffset
	}
	if f.Position < 0 {
		return 0, ErrNegativePosition
	}
	if f.Timestamp < 0 {
		return 0, ErrNegativeTimestamp
	}
	if len(f.Value) == 0 {
		return 0, ErrEmptyValue
	}
	if len(f.Metadata) > MaxMetadataLength {
		return 0, ErrMetadataTooLarge
	}
	framed := f.FramedLength()
	if offset > len(dst) || len(dst)-offset < framed {
		return 0, ErrBufferTooSmall
	}
	kind := f.Kind
	if kind == 0 {
		kind = KindEvent
	}

	b := dst[offset : offset+framed]
	le.PutUint32(b[lengthOffset:], uint32(FrameLength(len(f.Metadata), len(f.Value))))
	le.PutUint16(b[kindOffset:], uint16(kind))
	b[flagsOffset] = f.Flags
	b[flagsOffset+1] = 0
	le.PutUint64(b[positionOffset:], uint64(f.Position))
	le.PutUint64(b[sourceEventPositionOffset:], uint64(f.SourceEventPosition))
	le.PutUint64(b[keyOffset:], uint64(f.Key))
	le.PutUint64(b[timestampOffset:], uint64(f.Timestamp))
	le.PutUint16(b[metadataLengthOffset:], uint16(len(f.Metadata)))
	n := copy(b[metadataOffset:], f.Metadata)
	n += copy(b[metadataOffset+n:], f.Value)
	clear(b[metadataOffset+n:])
	return framed, nil
}

// WriteBatch serializes entries back to back into dst at offset. The entry at
// index i is assigned firstPosition+i and its source event position is
// resolved with SourcePosition. It returns the total bytes written.
func WriteBatch(dst []byte, offset int, firstPosition, sourcePosition, timestamp int64, entries []Entry) (int, error) {
	if offset < 0 {
		return 0, ErrNegativeOffset
	}
	if len(dst)-offset < BatchLength(entries) {
		return 0, ErrBufferTooSmall
	}
	written := 0
	for i, e := range entries {
		n, err := Write(dst, offset+written, Frame{
			Kind:                KindEvent,
			Position:            firstPosition + int64(i),
			SourceEventPosition: SourcePosition(firstPosition, sourcePosition, i, e),
			Key:                 e.Key,
			Timestamp:           timestamp,
			Metadata:            e.Metadata,
			Value:               e.Value,
		})
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// EncodeRelative frames entries with positions 0..n-1. A valid SourceIndex is
// kept as a relative source flagged with FlagRelativeSource; every other
// entry carries sourcePosition. Rebase resolves the frames once their first
// position is known.
func EncodeRelative(entries []Entry, sourcePosition, timestamp int64) ([]byte, error) {
	raw := make([]byte, BatchLength(entries))
	offset := 0
	for i, e := range entries {
		f := Frame{
			Kind:                KindEvent,
			Position:            int64(i),
			SourceEventPosition: sourcePosition,
			Key:                 e.Key,
			Timestamp:           timestamp,
			Metadata:            e.Metadata,
			Value:               e.Value,
		}
		if e.SourceIndex >= 0 && e.SourceIndex < i {
			f.Flags = FlagRelativeSource
			f.SourceEventPosition = int64(e.SourceIndex)
		}
		n, err := Write(raw, offset, f)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		offset += n
	}
	return raw, nil
}

// DecodeRelative reverses EncodeRelative into writable entries. Relative
// sources become SourceIndex values again.
func DecodeRelative(buf []byte) ([]Entry, error) {
	var out []Entry
	sc := NewScanner(buf)
	for sc.Scan() {
		l := sc.Entry()
		e := l.Entry()
		if l.Flags()&FlagRelativeSource != 0 {
			e.SourceIndex = int(l.SourceEventPosition())
		}
		out = append(out, e)
	}
	if sc.Err() != nil {
		return nil, sc.Err()
	}
	return out, nil
}
