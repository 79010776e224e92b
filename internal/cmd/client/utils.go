package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"unicode/utf8"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rzbill/logstreams/internal/cmd/client/transports"
	"github.com/rzbill/logstreams/internal/entry"
)

// grpcAddrFromEnv returns the gRPC server address from LOGSTREAMS_GRPC or a default.
func grpcAddrFromEnv() string {
	if addr := os.Getenv("LOGSTREAMS_GRPC"); addr != "" {
		return addr
	}
	return "127.0.0.1:50051"
}

// dialGRPCContext connects to the logstreams gRPC endpoint with insecure
// transport for local/dev.
func dialGRPCContext(_ context.Context) (*grpc.ClientConn, error) {
	return grpc.NewClient(grpcAddrFromEnv(), grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func getTransport() transports.LogTransport {
	return transports.NewGrpcTransport(dialGRPCContext)
}

// decodedEntry renders an entry for JSON output with one of value_json,
// value_text or value_b64.
func decodedEntry(l entry.Logged) map[string]any {
	out := map[string]any{
		"position":        l.Position(),
		"source_position": l.SourceEventPosition(),
		"timestamp":       l.Timestamp(),
		"metadata":        string(l.Metadata()),
	}
	if l.Key() != entry.KeyUnset {
		out["key"] = l.Key()
	}
	value := l.Value()
	if len(value) > 0 && (value[0] == '{' || value[0] == '[') {
		var v any
		if json.Unmarshal(value, &v) == nil {
			out["value_json"] = v
			return out
		}
	}
	if utf8.Valid(value) {
		out["value_text"] = string(value)
		return out
	}
	out["value_b64"] = base64.StdEncoding.EncodeToString(value)
	return out
}
