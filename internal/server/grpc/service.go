package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "logstreams.v1.LogStream"

const (
	AppendMethod = "/" + ServiceName + "/Append"
	TailMethod   = "/" + ServiceName + "/Tail"
)

// Request metadata keys.
const (
	MetadataPartition      = "x-partition"
	MetadataFilter         = "x-filter"
	MetadataSourcePosition = "x-source-position"
)

// LogStreamServer is the server API of logstreams.v1.LogStream.
//
// Append takes entries encoded with entry.EncodeRelative and returns the
// position of the last one. Tail takes the position after which to start and
// streams committed batches as concatenated frames.
type LogStreamServer interface {
	Append(context.Context, *wrapperspb.BytesValue) (*wrapperspb.Int64Value, error)
	Tail(*wrapperspb.Int64Value, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
}

func appendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LogStreamServer).Append(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AppendMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LogStreamServer).Append(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func tailHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.Int64Value)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(LogStreamServer).Tail(in, &grpc.GenericServerStream[wrapperspb.Int64Value, wrapperspb.BytesValue]{ServerStream: stream})
}

// LogStreamServiceDesc describes logstreams.v1.LogStream for grpc.Server.
var LogStreamServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LogStreamServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Append", Handler: appendHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Tail", Handler: tailHandler, ServerStreams: true},
	},
	Metadata: "logstreams/v1/logstream.proto",
}

// RegisterLogStreamServer registers srv on s.
func RegisterLogStreamServer(s grpc.ServiceRegistrar, srv LogStreamServer) {
	s.RegisterService(&LogStreamServiceDesc, srv)
}
