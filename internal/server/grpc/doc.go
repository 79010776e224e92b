// Package grpcserver exposes a runtime over gRPC: the standard
// grpc.health.v1 service and logstreams.v1.LogStream with Append and Tail.
//
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	s := grpcserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":50051")
package grpcserver
