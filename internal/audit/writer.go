package audit

import (
	"fmt"

	"github.com/rzbill/logstreams/internal/entry"
	"github.com/rzbill/logstreams/internal/sequencer"
	"github.com/rzbill/logstreams/internal/writer"
)

// Writer writes runs of entries as single compressed bundle frames.
type Writer struct {
	claimer writer.Claimer
	clock   sequencer.Clock
}

// NewWriter returns a bundle writer over claimer.
func NewWriter(claimer writer.Claimer, clock sequencer.Clock) *Writer {
	if clock == nil {
		clock = sequencer.SystemClock
	}
	return &Writer{claimer: claimer, clock: clock}
}

// TryWrite bundles entries and returns the position of the last one. The
// bundle consumes len(entries) positions. An empty list returns zero.
func (w *Writer) TryWrite(entries []entry.Entry, sourcePosition int64) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	if err := entry.ValidateForSequencing(entries); err != nil {
		return entry.NoPosition, err
	}
	timestamp := w.clock()
	compressed, err := Encode(entries, sourcePosition, timestamp)
	if err != nil {
		return entry.NoPosition, err
	}
	meta := countMetadata(len(entries))
	length := entry.FramedLength(len(meta), len(compressed))

	claim, err := w.claimer.TryClaim(len(entries), length)
	if err != nil {
		return entry.NoPosition, err
	}
	highest := claim.FirstPosition() + int64(len(entries)) - 1
	err = writer.Fill(claim, func(buf []byte) error {
		_, err := entry.Write(buf, 0, entry.Frame{
			Kind:                entry.KindAuditBundle,
			Position:            highest,
			SourceEventPosition: sourcePosition,
			Key:                 entry.KeyUnset,
			Timestamp:           timestamp,
			Metadata:            meta,
			Value:               compressed,
		})
		return err
	})
	if err != nil {
		return entry.NoPosition, fmt.Errorf("audit: frame bundle: %w", err)
	}
	return highest, nil
}
