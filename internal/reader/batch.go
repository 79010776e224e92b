package reader

import "github.com/rzbill/logstreams/internal/entry"

// Batch is a run of consecutive entries produced by one command: they share
// one positive source event position. Entries without a source form a batch
// of their own.
type Batch struct {
	entries []entry.Logged
	cursor  int
}

// Head is the first entry of the batch.
func (b *Batch) Head() entry.Logged { return b.entries[0] }

// Len is the number of entries.
func (b *Batch) Len() int { return len(b.entries) }

// Entries returns all entries of the batch.
func (b *Batch) Entries() []entry.Logged { return b.entries }

// SourceEventPosition is the shared causal parent, or the head's own value
// for a singleton.
func (b *Batch) SourceEventPosition() int64 { return b.entries[0].SourceEventPosition() }

// LastPosition is the position of the last entry.
func (b *Batch) LastPosition() int64 { return b.entries[len(b.entries)-1].Position() }

// HasNext reports whether the batch cursor has entries left.
func (b *Batch) HasNext() bool { return b.cursor < len(b.entries) }

// Next returns the entry under the batch cursor and advances it.
func (b *Batch) Next() entry.Logged {
	if !b.HasNext() {
		return nil
	}
	l := b.entries[b.cursor]
	b.cursor++
	return l
}

// BatchReader groups the entries of an Iterator into batches.
type BatchReader struct {
	it Iterator
}

// NewBatchReader wraps it.
func NewBatchReader(it Iterator) *BatchReader {
	return &BatchReader{it: it}
}

func (r *BatchReader) HasNext() bool { return r.it.HasNext() }

// Next consumes and returns the next batch, or nil. Entries are copied so the
// batch outlives the reader's buffers.
func (r *BatchReader) Next() *Batch {
	if !r.it.HasNext() {
		return nil
	}
	head := r.it.Next().Clone()
	b := &Batch{entries: []entry.Logged{head}}
	src := head.SourceEventPosition()
	if src <= 0 {
		return b
	}
	for r.it.HasNext() && r.it.PeekNext().SourceEventPosition() == src {
		b.entries = append(b.entries, r.it.Next().Clone())
	}
	return b
}

// SeekToNextBatch positions the reader after the batch containing position,
// skipping what is left of it. A negative position seeks to the first batch.
// It reports whether position exists.
func (r *BatchReader) SeekToNextBatch(position int64) bool {
	if position < 0 {
		r.it.SeekToFirstEvent()
		return true
	}
	if !r.it.Seek(position) {
		return false
	}
	src := r.it.Next().SourceEventPosition()
	if src <= 0 {
		return true
	}
	for r.it.HasNext() && r.it.PeekNext().SourceEventPosition() == src {
		r.it.Next()
	}
	return true
}

// Seek positions the reader so the next batch starts at position, or at the
// first entry after it. The first batch may then be the tail of a causal run.
func (r *BatchReader) Seek(position int64) bool { return r.it.Seek(position) }

// SeekToFirstBatch rewinds to the start of the log.
func (r *BatchReader) SeekToFirstBatch() { r.it.SeekToFirstEvent() }

// SeekToEnd positions after the last entry and returns its position.
func (r *BatchReader) SeekToEnd() int64 { return r.it.SeekToEnd() }

// Position is the underlying iterator's position.
func (r *BatchReader) Position() int64 { return r.it.Position() }

func (r *BatchReader) Err() error   { return r.it.Err() }
func (r *BatchReader) Close() error { return r.it.Close() }
