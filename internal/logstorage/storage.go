package logstorage

import "errors"

var (
	// ErrClosed is reported to appends made after Close.
	ErrClosed = errors.New("logstorage: closed")
	// ErrCorruptBlock is reported when a stored block fails its checksum.
	ErrCorruptBlock = errors.New("logstorage: corrupt block")
	// ErrOutOfOrder is reported for a block that does not follow the last one.
	ErrOutOfOrder = errors.New("logstorage: block out of order")
)

// BufferWriter is the source of one block's bytes.
type BufferWriter interface {
	// Length is the exact number of bytes Write produces.
	Length() int
	// Write copies the block into dst and returns the bytes written.
	Write(dst []byte) (int, error)
}

// AppendListener observes the fate of one append. OnWrite or OnWriteError is
// called exactly once; OnCommit or OnCommitError follows a successful write.
type AppendListener interface {
	OnWrite()
	OnWriteError(err error)
	OnCommit()
	OnCommitError(err error)
}

// CommitListener is notified after every committed block.
type CommitListener interface {
	OnCommit()
}

// Block is one committed append.
type Block struct {
	Lowest  int64
	Highest int64
	Data    []byte
}

// Reader iterates committed blocks in position order.
type Reader interface {
	// Seek positions the reader on the last block whose lowest position is at
	// or below position, or on the first block when there is none.
	Seek(position int64)
	// SeekToFirst positions the reader on the first block.
	SeekToFirst()
	HasNext() bool
	Next() Block
	// Err reports the fault that stopped iteration, if any.
	Err() error
	Close() error
}

// LogStorage is the durable backing of a log stream.
type LogStorage interface {
	// Append persists the block covering [lowest, highest] read from w.
	Append(lowest, highest int64, w BufferWriter, listener AppendListener)
	NewReader() Reader
	AddCommitListener(l CommitListener)
	RemoveCommitListener(l CommitListener)
	// CommitPosition is the highest committed position, or -1 when empty.
	CommitPosition() int64
}
