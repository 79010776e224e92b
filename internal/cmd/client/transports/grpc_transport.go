// Package transports provides pluggable transport implementations for the CLI.
package transports

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"

	"github.com/rzbill/logstreams/internal/entry"
	grpcserver "github.com/rzbill/logstreams/internal/server/grpc"
)

// GrpcTransport implements LogTransport over gRPC.
type GrpcTransport struct {
	dial func(ctx context.Context) (*grpc.ClientConn, error)
}

// NewGrpcTransport constructs a new GrpcTransport using the provided dialer.
func NewGrpcTransport(dial func(ctx context.Context) (*grpc.ClientConn, error)) *GrpcTransport {
	return &GrpcTransport{dial: dial}
}

func (t *GrpcTransport) withClient(ctx context.Context, fn func(cli *grpcserver.Client) error) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	return fn(grpcserver.NewClient(conn))
}

// Append sends one batch and returns the position of its last entry.
func (t *GrpcTransport) Append(ctx context.Context, req AppendRequest) (int64, error) {
	last := entry.NoPosition
	err := t.withClient(ctx, func(cli *grpcserver.Client) error {
		var err error
		last, err = cli.Append(ctx, req.Partition, req.Entries, req.SourcePosition)
		return err
	})
	return last, err
}

// Tail invokes onEntry for every entry until ctx ends, the server closes the
// stream or req.Limit entries were delivered.
func (t *GrpcTransport) Tail(ctx context.Context, req TailRequest, onEntry func(entry.Logged) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	return t.withClient(ctx, func(cli *grpcserver.Client) error {
		stream, err := cli.Tail(ctx, req.Partition, req.After, req.Filter)
		if err != nil {
			return err
		}
		seen := 0
		for {
			batch, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			for _, l := range batch {
				if err := onEntry(l); err != nil {
					return err
				}
				seen++
				if req.Limit > 0 && seen >= req.Limit {
					return nil
				}
			}
		}
	})
}

var _ LogTransport = (*GrpcTransport)(nil)
