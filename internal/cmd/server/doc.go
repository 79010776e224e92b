// Package serverrun exposes the Run entrypoint the CLI uses to start a
// logstreams node: the runtime, the gRPC service, the admin HTTP endpoints
// and the optional Kafka exporter, with shutdown on signal.
//
// Example:
//
//	cfg := config.Default()
//	cfg.DataDir = "./data"
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{GRPCAddr: ":50051", HTTPAddr: ":8080", Config: cfg})
package serverrun
