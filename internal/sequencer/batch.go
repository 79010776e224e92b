package sequencer

import "github.com/rzbill/logstreams/internal/entry"

type batchState int

const (
	statePending batchState = iota
	stateCommitted
	stateAborted
)

// Batch is one unit handed from producers to the appender: a run of
// consecutively positioned, already framed entries.
type Batch struct {
	first  int64
	count  int
	data   []byte
	state  batchState
	region *region
	owner  *Sequencer
}

// FirstPosition is the position of the first entry.
func (b *Batch) FirstPosition() int64 { return b.first }

// LastPosition is the position of the last entry.
func (b *Batch) LastPosition() int64 { return b.first + int64(b.count) - 1 }

// Len is the number of positions the batch covers.
func (b *Batch) Len() int { return b.count }

// Length is the framed byte length of the batch.
func (b *Batch) Length() int { return len(b.data) }

// Bytes aliases the framed entries. Valid until Release.
func (b *Batch) Bytes() []byte { return b.data }

// Write copies the framed entries into dst and returns the bytes copied.
func (b *Batch) Write(dst []byte) (int, error) {
	if len(dst) < len(b.data) {
		return 0, entry.ErrBufferTooSmall
	}
	return copy(dst, b.data), nil
}

// Release returns the batch's claim space to the write buffer. It must be
// called once the bytes were consumed; further calls are no-ops.
func (b *Batch) Release() {
	if b.region == nil {
		return
	}
	b.owner.mu.Lock()
	b.owner.arena.free(b.region)
	b.owner.mu.Unlock()
	b.region = nil
	b.data = nil
}
