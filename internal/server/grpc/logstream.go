package grpcserver

import (
	"context"
	"errors"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rzbill/logstreams/internal/entry"
	"github.com/rzbill/logstreams/internal/filter"
	"github.com/rzbill/logstreams/internal/health"
	"github.com/rzbill/logstreams/internal/logstream"
	"github.com/rzbill/logstreams/internal/runtime"
	"github.com/rzbill/logstreams/internal/sequencer"
	"github.com/rzbill/logstreams/pkg/log"
)

// tailPoll bounds how long Tail sleeps without a commit notification.
const tailPoll = time.Second

type logStreamSvc struct {
	rt     *runtime.Runtime
	logger log.Logger
	done   <-chan struct{}
}

func firstValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (s *logStreamSvc) stream(ctx context.Context) (*logstream.LogStream, error) {
	p := 0
	if v := firstValue(ctx, MetadataPartition); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "bad %s %q", MetadataPartition, v)
		}
		p = n
	}
	st, err := s.rt.Stream(p)
	if err != nil {
		return nil, toStatus(err)
	}
	return st, nil
}

func (s *logStreamSvc) Append(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.Int64Value, error) {
	st, err := s.stream(ctx)
	if err != nil {
		return nil, err
	}
	source := entry.NoPosition
	if v := firstValue(ctx, MetadataSourcePosition); v != "" {
		if source, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "bad %s %q", MetadataSourcePosition, v)
		}
	}
	entries, err := entry.DecodeRelative(in.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode entries: %v", err)
	}
	w, err := st.NewSequencedWriter()
	if err != nil {
		return nil, toStatus(err)
	}
	last, err := w.TryWrite(entries, source)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Int64(last), nil
}

func (s *logStreamSvc) Tail(in *wrapperspb.Int64Value, out grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	ctx := out.Context()
	st, err := s.stream(ctx)
	if err != nil {
		return err
	}
	f, err := filter.New(firstValue(ctx, MetadataFilter))
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	br, err := st.NewBatchReader()
	if err != nil {
		return toStatus(err)
	}
	defer br.Close()
	after := in.GetValue()
	if after > 0 {
		br.Seek(after + 1)
	}

	for {
		for br.HasNext() {
			b := br.Next()
			var buf []byte
			for _, l := range b.Entries() {
				// after may not be committed yet when the reader was positioned
				if l.Position() > after && f.Match(l) {
					buf = append(buf, l...)
					buf = append(buf, make([]byte, l.FramedLength()-l.Length())...)
				}
			}
			if len(buf) == 0 {
				continue
			}
			if err := out.Send(wrapperspb.Bytes(buf)); err != nil {
				return err
			}
		}
		if err := br.Err(); err != nil {
			return status.Error(codes.DataLoss, err.Error())
		}
		if st.HealthReport().Status == health.Dead {
			return status.Error(codes.Unavailable, "partition is dead")
		}
		ready := st.RecordAvailable()
		if br.HasNext() {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return status.Error(codes.Unavailable, "server stopping")
		case <-ready:
		case <-time.After(tailPoll):
		}
	}
}

// toStatus maps engine errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case sequencer.IsRetryable(err):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, sequencer.ErrClosed), errors.Is(err, logstream.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, entry.ErrInvalidEntry),
		errors.Is(err, sequencer.ErrFragmentTooLarge),
		errors.Is(err, runtime.ErrUnknownPartition):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
