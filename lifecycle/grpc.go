package lifecycle

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/stripe/requesttrace/propagation"
)

// UnaryServerInterceptor runs each unary call as a unit of work named
// after the full method, continuing the trace found in the call's
// incoming metadata.
func (m *Manager) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			md = metadata.MD{}
		}
		s, ctx := m.Begin(ctx, info.FullMethod, propagation.MetadataCarrier{MD: &md})
		defer s.End()
		return handler(ctx, req)
	}
}
