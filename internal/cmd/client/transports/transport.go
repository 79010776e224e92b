package transports

import (
	"context"

	"github.com/rzbill/logstreams/internal/entry"
)

// AppendRequest is one batch written through the CLI.
type AppendRequest struct {
	Partition      int
	Entries        []entry.Entry
	SourcePosition int64
}

// TailRequest describes a tail from a position.
type TailRequest struct {
	Partition int
	// After is the position after which to start; 0 tails from the first entry.
	After  int64
	Filter string
	// Limit stops after that many entries; 0 tails until cancelled.
	Limit int
}

// LogTransport abstracts the transport used by the CLI.
type LogTransport interface {
	Append(ctx context.Context, req AppendRequest) (int64, error)
	Tail(ctx context.Context, req TailRequest, onEntry func(entry.Logged) error) error
}
