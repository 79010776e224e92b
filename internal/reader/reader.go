// Package reader iterates committed log entries in position order.
package reader

import (
	"math"

	"github.com/rzbill/logstreams/internal/entry"
	"github.com/rzbill/logstreams/internal/logstorage"
)

// Iterator is the positional read contract shared by the plain reader and
// its decorators.
type Iterator interface {
	HasNext() bool
	Next() entry.Logged
	// PeekNext returns the upcoming entry without consuming it, or nil.
	PeekNext() entry.Logged
	// Seek positions the iterator on position or the next existing entry and
	// reports whether position itself exists.
	Seek(position int64) bool
	// SeekToNextEvent positions the iterator just after position. A negative
	// position seeks to the first entry.
	SeekToNextEvent(position int64) bool
	SeekToFirstEvent()
	// SeekToEnd positions after the last entry and returns its position, or
	// entry.NoPosition when the log is empty.
	SeekToEnd() int64
	// Position is the position of the last returned entry or, when
	// unpositioned, of the upcoming one.
	Position() int64
	Err() error
	Close() error
}

// Reader is a forward-only cursor over the frames of storage blocks.
type Reader struct {
	blocks logstorage.Reader
	data   []byte
	offset int
	next   entry.Logged
	last   int64
	err    error
	closed bool
}

var _ Iterator = (*Reader)(nil)

// New returns a reader positioned before the first entry.
func New(blocks logstorage.Reader) *Reader {
	return &Reader{blocks: blocks, last: entry.NoPosition}
}

func (r *Reader) reset() {
	r.data = nil
	r.offset = 0
	r.next = nil
	r.last = entry.NoPosition
}

func (r *Reader) HasNext() bool {
	if r.next != nil {
		return true
	}
	if r.closed || r.err != nil {
		return false
	}
	for {
		if r.offset < len(r.data) {
			l, err := entry.ReadFrame(r.data, r.offset)
			if err != nil {
				r.err = err
				return false
			}
			r.offset += l.FramedLength()
			r.next = l
			return true
		}
		if !r.blocks.HasNext() {
			r.err = r.blocks.Err()
			return false
		}
		r.data = r.blocks.Next().Data
		r.offset = 0
	}
}

// Next returns the next entry, or nil when there is none. The entry stays
// valid after the reader moves on.
func (r *Reader) Next() entry.Logged {
	if !r.HasNext() {
		return nil
	}
	l := r.next
	r.next = nil
	r.last = l.Position()
	return l
}

func (r *Reader) PeekNext() entry.Logged {
	if !r.HasNext() {
		return nil
	}
	return r.next
}

func (r *Reader) Seek(position int64) bool {
	r.reset()
	r.blocks.Seek(position)
	for r.HasNext() {
		if p := r.next.Position(); p >= position {
			return p == position
		}
		r.next = nil
	}
	return false
}

func (r *Reader) SeekToNextEvent(position int64) bool {
	if position < 0 {
		r.SeekToFirstEvent()
		return true
	}
	if !r.Seek(position) {
		return false
	}
	r.Next()
	return true
}

func (r *Reader) SeekToFirstEvent() {
	r.reset()
	r.blocks.SeekToFirst()
}

func (r *Reader) SeekToEnd() int64 {
	r.reset()
	r.blocks.Seek(math.MaxInt64)
	for r.HasNext() {
		r.Next()
	}
	return r.last
}

func (r *Reader) Position() int64 {
	if r.last != entry.NoPosition {
		return r.last
	}
	if l := r.PeekNext(); l != nil {
		return l.Position()
	}
	return entry.NoPosition
}

func (r *Reader) Err() error { return r.err }

func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.reset()
	return r.blocks.Close()
}
