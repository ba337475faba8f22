package fabric_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jmerrifield20/AuditVault/internal/fabric"
	"github.com/jmerrifield20/AuditVault/internal/fabric/gateway"
	"github.com/jmerrifield20/AuditVault/internal/trustledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func dialBufconn(t *testing.T, register func(*grpc.Server), opts ...grpc.ServerOption) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(opts...)
	register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGRPCClient_submitAndLookup(t *testing.T) {
	ledger := trustledger.New()
	gw := gateway.NewServer(ledger, nil, zap.NewNop())
	conn := dialBufconn(t, func(s *grpc.Server) { fabric.RegisterGatewayServer(s, gw) })

	c := fabric.NewGRPCClient(conn)
	ref, err := c.Submit(context.Background(), testHash)
	require.NoError(t, err)

	got, err := c.Lookup(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, testHash, got)

	_, err = c.Lookup(context.Background(), fabric.Reference("missing"))
	assert.ErrorIs(t, err, fabric.ErrUnknownReference)
}

func TestGRPCClient_assertion(t *testing.T) {
	signer, err := fabric.NewSigner(testSecret, "auditvault", time.Minute)
	require.NoError(t, err)
	ledger := trustledger.New()
	gw := gateway.NewServer(ledger, signer, zap.NewNop())
	conn := dialBufconn(t,
		func(s *grpc.Server) { fabric.RegisterGatewayServer(s, gw) },
		grpc.UnaryInterceptor(gw.UnaryInterceptor),
	)

	_, err = fabric.NewGRPCClient(conn).Submit(context.Background(), testHash)
	assert.ErrorIs(t, err, fabric.ErrRejected)

	ref, err := fabric.NewGRPCClient(conn, fabric.WithGRPCAssertion(signer, "vault-2")).
		Submit(context.Background(), testHash)
	require.NoError(t, err)
	entry, err := ledger.GetByTxID(context.Background(), ref.String())
	require.NoError(t, err)
	assert.Equal(t, "vault-2", entry.Submitter)
}

// codeServer fails every call with a fixed status code.
type codeServer struct{ code codes.Code }

func (s codeServer) SubmitHash(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(s.code, "forced")
}

func (s codeServer) LookupHash(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(s.code, "forced")
}

func TestGRPCClient_codeClassification(t *testing.T) {
	cases := map[codes.Code]error{
		codes.Unavailable:        fabric.ErrUnavailable,
		codes.DeadlineExceeded:   fabric.ErrUnavailable,
		codes.ResourceExhausted:  fabric.ErrUnavailable,
		codes.Aborted:            fabric.ErrUnavailable,
		codes.InvalidArgument:    fabric.ErrRejected,
		codes.PermissionDenied:   fabric.ErrRejected,
		codes.FailedPrecondition: fabric.ErrRejected,
		codes.Unauthenticated:    fabric.ErrRejected,
	}
	for code, want := range cases {
		srv := codeServer{code: code}
		conn := dialBufconn(t, func(s *grpc.Server) { fabric.RegisterGatewayServer(s, srv) })

		_, err := fabric.NewGRPCClient(conn).Submit(context.Background(), testHash)
		assert.ErrorIs(t, err, want, "code %s", code)
	}
}

func TestGRPCClient_malformedHash(t *testing.T) {
	conn := dialBufconn(t, func(s *grpc.Server) {
		fabric.RegisterGatewayServer(s, codeServer{code: codes.Internal})
	})
	_, err := fabric.NewGRPCClient(conn).Submit(context.Background(), "ABC")
	assert.ErrorIs(t, err, fabric.ErrRejected)
}
