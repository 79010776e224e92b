// Package writer implements zero-copy log stream writers: entries are framed
// directly into space claimed from the sequencer's write buffer.
package writer

import (
	"fmt"

	"github.com/rzbill/logstreams/internal/entry"
	"github.com/rzbill/logstreams/internal/sequencer"
)

// Claimer hands out exclusive reservations of positions and buffer space.
type Claimer interface {
	TryClaim(positions, length int) (*sequencer.Claim, error)
	MaxFragmentLength() int
}

// Options configures a Writer.
type Options struct {
	Clock sequencer.Clock
}

// Writer frames entries in place into claimed buffer space.
type Writer struct {
	claimer Claimer
	clock   sequencer.Clock
}

// New returns a writer over claimer.
func New(claimer Claimer, opts Options) *Writer {
	if opts.Clock == nil {
		opts.Clock = sequencer.SystemClock
	}
	return &Writer{claimer: claimer, clock: opts.Clock}
}

// TryWrite writes a single entry and returns its position.
func (w *Writer) TryWrite(e entry.Entry, sourcePosition int64) (int64, error) {
	return w.TryWriteBatch([]entry.Entry{e}, sourcePosition)
}

// TryWriteBatch writes entries as one contiguous claim and returns the
// position of the last entry. An empty list returns zero. On any failure the
// claim is aborted and entry.NoPosition is returned.
func (w *Writer) TryWriteBatch(entries []entry.Entry, sourcePosition int64) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return entry.NoPosition, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	claim, err := w.claimer.TryClaim(len(entries), entry.BatchLength(entries))
	if err != nil {
		return entry.NoPosition, err
	}
	if err := w.fill(claim, entries, sourcePosition); err != nil {
		return entry.NoPosition, err
	}
	return claim.FirstPosition() + int64(len(entries)) - 1, nil
}

func (w *Writer) fill(claim *sequencer.Claim, entries []entry.Entry, sourcePosition int64) error {
	return Fill(claim, func(buf []byte) error {
		_, err := entry.WriteBatch(buf, 0, claim.FirstPosition(), sourcePosition, w.clock(), entries)
		return err
	})
}

// Fill runs frame over the claim's buffer and commits the claim. If frame
// fails or panics the claim is aborted instead; a panic is re-raised.
func Fill(claim *sequencer.Claim, frame func(buf []byte) error) (err error) {
	committed := false
	defer func() {
		if committed {
			return
		}
		claim.Abort()
		if r := recover(); r != nil {
			panic(r)
		}
	}()
	if err = frame(claim.Buffer()); err != nil {
		return err
	}
	committed = true
	claim.Commit()
	return nil
}

// CanWriteEvents reports whether count entries carrying totalBytes of
// metadata and value fit in one claim.
func (w *Writer) CanWriteEvents(count, totalBytes int) bool {
	return sequencer.CanWriteEvents(w.claimer.MaxFragmentLength(), count, totalBytes)
}
