package fabric

import (
	"context"
	"fmt"

	"github.com/jmerrifield20/AuditVault/internal/canonical"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Fully-qualified gRPC names of the gateway service.
const (
	GatewayServiceName = "fabric.gateway.v1.Gateway"
	SubmitHashMethod   = "/" + GatewayServiceName + "/SubmitHash"
	LookupHashMethod   = "/" + GatewayServiceName + "/LookupHash"
)

// GatewayServer is the server API of the gateway service. Requests and
// responses use protobuf well-known wrapper types so no generated code is
// needed on either side.
type GatewayServer interface {
	// SubmitHash takes a content hash and returns the transaction ID.
	SubmitHash(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	// LookupHash takes a transaction ID and returns the anchored content hash.
	LookupHash(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

// RegisterGatewayServer registers srv on s.
func RegisterGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&gatewayServiceDesc, srv)
}

var gatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: GatewayServiceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitHash", Handler: unaryHandler(SubmitHashMethod, GatewayServer.SubmitHash)},
		{MethodName: "LookupHash", Handler: unaryHandler(LookupHashMethod, GatewayServer.LookupHash)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fabric/gateway/v1/gateway.proto",
}

type unaryMethod func(GatewayServer, context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)

func unaryHandler(fullMethod string, m unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.StringValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return m(srv.(GatewayServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return m(srv.(GatewayServer), ctx, req.(*wrapperspb.StringValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// GRPCClient submits hashes over the gateway's gRPC service.
type GRPCClient struct {
	conn     grpc.ClientConnInterface
	signer   *Signer
	clientID string
}

// GRPCOption configures a GRPCClient.
type GRPCOption func(*GRPCClient)

// WithGRPCAssertion attaches a signed client assertion to every call.
func WithGRPCAssertion(signer *Signer, clientID string) GRPCOption {
	return func(c *GRPCClient) {
		c.signer = signer
		c.clientID = clientID
	}
}

// NewGRPCClient creates a GRPCClient over an established connection.
func NewGRPCClient(conn grpc.ClientConnInterface, opts ...GRPCOption) *GRPCClient {
	c := &GRPCClient{conn: conn}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit implements Client.
func (c *GRPCClient) Submit(ctx context.Context, hash canonical.ContentHash) (Reference, error) {
	if err := checkHash(hash); err != nil {
		return "", err
	}
	out, err := c.invoke(ctx, SubmitHashMethod, hash.String())
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", unavailable("gateway returned an empty transaction ID")
	}
	return Reference(out), nil
}

// Lookup implements Lookup.
func (c *GRPCClient) Lookup(ctx context.Context, ref Reference) (canonical.ContentHash, error) {
	out, err := c.invoke(ctx, LookupHashMethod, ref.String())
	if err != nil {
		return "", err
	}
	return canonical.ContentHash(out), nil
}

func (c *GRPCClient) invoke(ctx context.Context, method, arg string) (string, error) {
	if c.signer != nil {
		tok, err := c.signer.Sign(c.clientID)
		if err != nil {
			return "", err
		}
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
	}

	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, method, wrapperspb.String(arg), out); err != nil {
		return "", classifyCode(ctx, err)
	}
	return out.GetValue(), nil
}

// classifyCode maps a gRPC status to ErrUnavailable or ErrRejected.
func classifyCode(ctx context.Context, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return classifyContext(ctx, fmt.Errorf("%w: %w", ErrUnavailable, err))
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Aborted, codes.Canceled, codes.Internal, codes.Unknown:
		return unavailable("gateway %s: %s", st.Code(), st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrUnknownReference, st.Message())
	default:
		return rejected("gateway %s: %s", st.Code(), st.Message())
	}
}
