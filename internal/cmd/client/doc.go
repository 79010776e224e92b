// Package client provides the logstreams command-line client.
//
// append and tail talk to a running server over gRPC. The address is read
// from LOGSTREAMS_GRPC (default 127.0.0.1:50051). read and bench open the
// data directory in-process and must not run against a directory a server
// holds open.
//
// Usage
//
//	logstreams append --partition 0 --data '{"kind":"order"}' --data '{"kind":"ship"}' --chain
//
//	# follow partition 0 from the start, JSON lines on stdout
//	logstreams tail --partition 0
//	logstreams tail --partition 0 --after 41 --filter "json.kind == 'order'" --limit 10
//
//	# offline
//	logstreams read --data-dir ./data --partition 0 --batch
//	logstreams bench --data-dir /tmp/bench --producers 8 --entries 100000 --size 256
package client
