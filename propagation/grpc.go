package propagation

import (
	"context"
	"encoding/base64"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// MetadataCarrier adapts gRPC metadata to the opentracing TextMap carrier
// interfaces.
type MetadataCarrier struct {
	*metadata.MD
}

func (w MetadataCarrier) Set(key, val string) {
	key = strings.ToLower(key)
	if strings.HasSuffix(key, "-bin") {
		val = base64.StdEncoding.EncodeToString([]byte(val))
	}
	(*w.MD)[key] = append((*w.MD)[key], val)
}

func (w MetadataCarrier) ForeachKey(handler func(key, val string) error) error {
	for k, vals := range *w.MD {
		for _, v := range vals {
			if err := handler(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// UnaryClientInterceptor attaches the propagator installed in the call's
// context to the outgoing metadata.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(PersistToMetadata(ctx), method, req, reply, cc, opts...)
	}
}

// PersistToMetadata returns ctx with the propagation value appended to its
// outgoing metadata. Without a propagator ctx is returned unchanged.
func PersistToMetadata(ctx context.Context) context.Context {
	p, ok := FromContext(ctx)
	if !ok || p.Value == "" {
		return ctx
	}
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}
	md.Set(MetadataKey, p.Value)
	return metadata.NewOutgoingContext(ctx, md)
}
