// Package audit stores runs of entries as one compressed bundle frame and
// expands them again on read, so readers observe the same entries and
// positions as if the run had been written uncompressed.
//
// A bundle reserves one position per entry. The bundle frame itself carries
// the highest of those positions; its metadata holds the entry count and its
// value is an LZ4 frame of the inner entries, framed with positions and
// intra-bundle sources relative to the first reserved position.
package audit

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/rzbill/logstreams/internal/entry"
)

// ErrCorruptBundle is returned when a bundle cannot be decompressed or does
// not hold the entries its header announces.
var ErrCorruptBundle = errors.New("audit: corrupt bundle")

// ErrBundleTooLarge is returned when the entries of one bundle exceed
// MaxExpandedLength once framed.
var ErrBundleTooLarge = errors.New("audit: bundle too large")

// MaxExpandedLength bounds the framed size of a bundle's entries. Writers
// reject larger bundles and readers treat them as corrupt.
var MaxExpandedLength = 64 << 20

const countLength = 4

// Encode frames entries with relative positions and compresses them.
func Encode(entries []entry.Entry, sourcePosition, timestamp int64) ([]byte, error) {
	raw, err := entry.EncodeRelative(entries, sourcePosition, timestamp)
	if err != nil {
		return nil, err
	}
	if len(raw) > MaxExpandedLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrBundleTooLarge, len(raw))
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if err := zw.Apply(lz4.BlockSizeOption(lz4.Block64Kb), lz4.ChecksumOption(true)); err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("audit: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("audit: compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Count returns the number of entries a bundle frame announces.
func Count(bundle entry.Logged) (int, error) {
	meta := bundle.Metadata()
	if len(meta) != countLength {
		return 0, fmt.Errorf("%w: metadata length %d", ErrCorruptBundle, len(meta))
	}
	return int(binary.LittleEndian.Uint32(meta)), nil
}

// Expand decompresses bundle and returns its entries with absolute
// positions. The entries live in a private buffer.
func Expand(bundle entry.Logged) ([]entry.Logged, error) {
	if !bundle.IsAuditBundle() {
		return nil, fmt.Errorf("%w: frame kind %s", ErrCorruptBundle, bundle.Kind())
	}
	count, err := Count(bundle)
	if err != nil {
		return nil, err
	}
	if count <= 0 || count > MaxExpandedLength/entry.FramedLength(1, 1) {
		return nil, fmt.Errorf("%w: count %d", ErrCorruptBundle, count)
	}
	limited := io.LimitReader(lz4.NewReader(bytes.NewReader(bundle.Value())), int64(MaxExpandedLength)+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBundle, err)
	}
	if len(raw) > MaxExpandedLength {
		return nil, fmt.Errorf("%w: expands beyond %d bytes", ErrCorruptBundle, MaxExpandedLength)
	}

	first := bundle.Position() - int64(count) + 1
	var out []entry.Logged
	sc := entry.NewScanner(raw)
	for sc.Scan() {
		l := sc.Entry()
		i := len(out)
		if i >= count || l.Position() != int64(i) {
			return nil, fmt.Errorf("%w: unexpected inner entry %d", ErrCorruptBundle, l.Position())
		}
		l.Rebase(first, i)
		out = append(out, l)
	}
	if sc.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBundle, sc.Err())
	}
	if len(out) != count {
		return nil, fmt.Errorf("%w: %d of %d entries", ErrCorruptBundle, len(out), count)
	}
	return out, nil
}

func countMetadata(n int) []byte {
	b := make([]byte, countLength)
	binary.LittleEndian.PutUint32(b, uint32(n))
	return b
}
