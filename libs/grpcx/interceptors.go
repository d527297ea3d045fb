package grpcx

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/clinicbook/libs/httpx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey int

const ctxKeyRequestID ctxKey = iota

// RequestIDMetadataKey carries the request id in gRPC metadata (lowercase per gRPC rules).
const RequestIDMetadataKey = "x-request-id"

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// outgoingRequestID prefers the HTTP request id so an HTTP call fanning out to gRPC keeps
// one id end to end.
func outgoingRequestID(ctx context.Context) string {
	if id := httpx.RequestIDFromContext(ctx); id != "" {
		return id
	}
	return RequestIDFromContext(ctx)
}

// UnaryClientRequestIDInterceptor copies the caller's request id into outgoing metadata.
func UnaryClientRequestIDInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if id := outgoingRequestID(ctx); id != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, RequestIDMetadataKey, id)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// UnaryServerInterceptor adopts the inbound request id (or mints one), echoes it in the
// response header and logs one line per call when logger is set.
func UnaryServerInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var id string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 {
				id = vals[0]
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDMetadataKey, id))

		start := time.Now()
		resp, err := handler(WithRequestID(ctx, id), req)
		if logger != nil {
			code := status.Code(err)
			level := slog.LevelDebug
			if err != nil {
				level = slog.LevelWarn
			}
			logger.Log(ctx, level, "grpc request",
				"request_id", id,
				"method", info.FullMethod,
				"code", code.String(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
		return resp, err
	}
}
