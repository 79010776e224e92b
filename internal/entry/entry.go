package entry

import (
	"errors"
	"fmt"
)

// ErrInvalidEntry groups all precondition failures of the framing layer.
var ErrInvalidEntry = errors.New("invalid entry")

var (
	ErrEmptyValue        = fmt.Errorf("%w: value must not be empty", ErrInvalidEntry)
	ErrEmptyMetadata     = fmt.Errorf("%w: metadata must not be empty", ErrInvalidEntry)
	ErrEmptyBatch        = fmt.Errorf("%w: batch must not be empty", ErrInvalidEntry)
	ErrNegativePosition  = fmt.Errorf("%w: negative position", ErrInvalidEntry)
	ErrNegativeTimestamp = fmt.Errorf("%w: negative timestamp", ErrInvalidEntry)
	ErrNegativeOffset    = fmt.Errorf("%w: negative offset", ErrInvalidEntry)
	ErrMetadataTooLarge  = fmt.Errorf("%w: metadata exceeds %d bytes", ErrInvalidEntry, MaxMetadataLength)
	ErrBufferTooSmall    = fmt.Errorf("%w: buffer too small", ErrInvalidEntry)
	ErrCorruptFrame      = errors.New("corrupt frame")
)

// Entry is one logical record handed to a writer. The position, timestamp and
// resolved source position are assigned when the entry is sequenced.
type Entry struct {
	// Key is a caller-chosen correlation id, KeyUnset when absent.
	Key int64
	// SourceIndex references an earlier entry of the same batch as causal
	// parent. NoSourceIndex (or any out of range value) means the batch-wide
	// source position applies.
	SourceIndex int
	Metadata    []byte
	Value       []byte
}

// New returns an event entry without key or intra-batch parent.
func New(metadata, value []byte) Entry {
	return Entry{Key: KeyUnset, SourceIndex: NoSourceIndex, Metadata: metadata, Value: value}
}

// FramedLength is the aligned space the entry occupies once framed.
func (e Entry) FramedLength() int {
	return FramedLength(len(e.Metadata), len(e.Value))
}

// Validate checks the preconditions every framed entry must meet.
func (e Entry) Validate() error {
	if len(e.Value) == 0 {
		return ErrEmptyValue
	}
	if len(e.Metadata) > MaxMetadataLength {
		return ErrMetadataTooLarge
	}
	return nil
}

// ValidateForSequencing checks a batch before it is handed to the sequencer:
// the list is non-empty and every entry has a value and metadata.
func ValidateForSequencing(entries []Entry) error {
	if len(entries) == 0 {
		return ErrEmptyBatch
	}
	for i := range entries {
		if len(entries[i].Metadata) == 0 {
			return fmt.Errorf("entry %d: %w", i, ErrEmptyMetadata)
		}
		if err := entries[i].Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

// BatchLength returns the framed length of all entries written back to back.
func BatchLength(entries []Entry) int {
	n := 0
	for i := range entries {
		n += entries[i].FramedLength()
	}
	return n
}

// SourcePosition resolves the stored source event position of the entry at
// index within a batch starting at firstPosition.
func SourcePosition(firstPosition, sourcePosition int64, index int, e Entry) int64 {
	if e.SourceIndex >= 0 && e.SourceIndex < index {
		return firstPosition + int64(e.SourceIndex)
	}
	return sourcePosition
}
