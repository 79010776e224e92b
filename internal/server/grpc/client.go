package grpcserver

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rzbill/logstreams/internal/entry"
)

// Client calls logstreams.v1.LogStream.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func partitionContext(ctx context.Context, partition int) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataPartition, strconv.Itoa(partition))
}

// Append writes entries to partition as one batch and returns the position
// of the last one. sourcePosition applies to entries without a SourceIndex.
func (c *Client) Append(ctx context.Context, partition int, entries []entry.Entry, sourcePosition int64) (int64, error) {
	buf, err := entry.EncodeRelative(entries, entry.NoPosition, 0)
	if err != nil {
		return entry.NoPosition, err
	}
	ctx = partitionContext(ctx, partition)
	if sourcePosition > 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, MetadataSourcePosition, strconv.FormatInt(sourcePosition, 10))
	}
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, AppendMethod, wrapperspb.Bytes(buf), out); err != nil {
		return entry.NoPosition, err
	}
	return out.GetValue(), nil
}

// TailStream receives committed batches.
type TailStream struct {
	stream grpc.ServerStreamingClient[wrapperspb.BytesValue]
}

// Tail streams batches of partition that start after position after. A
// non-empty filter is a CEL expression evaluated per entry on the server.
func (c *Client) Tail(ctx context.Context, partition int, after int64, filterExpr string) (*TailStream, error) {
	ctx = partitionContext(ctx, partition)
	if filterExpr != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, MetadataFilter, filterExpr)
	}
	cs, err := c.cc.NewStream(ctx, &LogStreamServiceDesc.Streams[0], TailMethod)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[wrapperspb.Int64Value, wrapperspb.BytesValue]{ClientStream: cs}
	if err := x.SendMsg(wrapperspb.Int64(after)); err != nil {
		return nil, err
	}
	if err := x.CloseSend(); err != nil {
		return nil, err
	}
	return &TailStream{stream: x}, nil
}

// Recv returns the entries of the next batch. The entries alias one received
// message.
func (t *TailStream) Recv() ([]entry.Logged, error) {
	msg, err := t.stream.Recv()
	if err != nil {
		return nil, err
	}
	var out []entry.Logged
	sc := entry.NewScanner(msg.GetValue())
	for sc.Scan() {
		out = append(out, sc.Entry())
	}
	return out, sc.Err()
}
