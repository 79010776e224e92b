package audit

import (
	"github.com/rzbill/logstreams/internal/entry"
	"github.com/rzbill/logstreams/internal/reader"
)

// Reader decorates an iterator and transparently expands bundle frames. It
// is either delegating to the wrapped iterator or expanding the entries of
// the last bundle it met.
type Reader struct {
	inner    reader.Iterator
	expanded []entry.Logged
	cursor   int
	last     int64
	err      error
}

var _ reader.Iterator = (*Reader)(nil)

// NewReader wraps inner.
func NewReader(inner reader.Iterator) *Reader {
	return &Reader{inner: inner, last: entry.NoPosition}
}

func (r *Reader) expanding() bool { return r.cursor < len(r.expanded) }

func (r *Reader) reset() {
	r.expanded = nil
	r.cursor = 0
	r.last = entry.NoPosition
}

// HasNext expands bundles met on the way. A corrupt bundle stops the reader
// for good.
func (r *Reader) HasNext() bool {
	for {
		if r.expanding() {
			return true
		}
		if r.err != nil || !r.inner.HasNext() {
			return false
		}
		if !r.inner.PeekNext().IsAuditBundle() {
			return true
		}
		entries, err := Expand(r.inner.Next())
		if err != nil {
			r.err = err
			r.expanded = nil
			return false
		}
		r.expanded = entries
		r.cursor = 0
	}
}

func (r *Reader) Next() entry.Logged {
	if !r.HasNext() {
		return nil
	}
	var l entry.Logged
	if r.expanding() {
		l = r.expanded[r.cursor]
		r.cursor++
	} else {
		l = r.inner.Next()
	}
	r.last = l.Position()
	return l
}

func (r *Reader) PeekNext() entry.Logged {
	if !r.HasNext() {
		return nil
	}
	if r.expanding() {
		return r.expanded[r.cursor]
	}
	return r.inner.PeekNext()
}

// Seek resets any expansion and replays forward to position.
func (r *Reader) Seek(position int64) bool {
	r.reset()
	r.inner.Seek(position)
	for r.HasNext() {
		if p := r.PeekNext().Position(); p >= position {
			return p == position
		}
		if r.expanding() {
			r.cursor++
		} else {
			r.inner.Next()
		}
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
	r.inner.SeekToFirstEvent()
}

// SeekToEnd returns the last position. A trailing bundle frame carries the
// position of its last entry, so no expansion is needed.
func (r *Reader) SeekToEnd() int64 {
	r.reset()
	r.last = r.inner.SeekToEnd()
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

func (r *Reader) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.inner.Err()
}

func (r *Reader) Close() error {
	r.reset()
	return r.inner.Close()
}
