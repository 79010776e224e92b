package logstorage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Block encoding: varint headerLen | header | frames | crc32c(header|frames)
// The header carries the highest position of the block.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const blockHeaderLen = 8

// encodeBlock serializes the block produced by w.
func encodeBlock(highest int64, w BufferWriter) ([]byte, error) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], blockHeaderLen)
	length := w.Length()
	out := make([]byte, n+blockHeaderLen+length+4)
	copy(out, tmp[:n])
	header := out[n : n+blockHeaderLen]
	binary.BigEndian.PutUint64(header, uint64(highest))
	payload := out[n+blockHeaderLen : n+blockHeaderLen+length]
	written, err := w.Write(payload)
	if err != nil {
		return nil, err
	}
	if written != length {
		return nil, fmt.Errorf("logstorage: writer produced %d of %d bytes", written, length)
	}
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	binary.BigEndian.PutUint32(out[len(out)-4:], crc)
	return out, nil
}

// decodeBlock verifies b and returns the highest position and the frames.
// frames aliases b.
func decodeBlock(b []byte) (int64, []byte, error) {
	if len(b) < 1+4 {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrCorruptBlock, len(b))
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 || hlen != blockHeaderLen || n+int(hlen)+4 > len(b) {
		return 0, nil, fmt.Errorf("%w: bad header", ErrCorruptBlock)
	}
	header := b[n : n+int(hlen)]
	payload := b[n+int(hlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return 0, nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptBlock)
	}
	return int64(binary.BigEndian.Uint64(header)), payload, nil
}

// Bytes adapts a byte slice to BufferWriter.
type Bytes []byte

func (b Bytes) Length() int { return len(b) }

func (b Bytes) Write(dst []byte) (int, error) { return copy(dst, b), nil }
