package gateway

import (
	"context"
	"errors"

	"github.com/jmerrifield20/AuditVault/internal/fabric"
	"github.com/jmerrifield20/AuditVault/internal/trustledger"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type submitterKey struct{}

// Server implements fabric.GatewayServer over a trust ledger.
type Server struct {
	ledger trustledger.Ledger
	signer *fabric.Signer
	logger *zap.Logger
}

// NewServer creates a Server. A nil signer disables authentication.
func NewServer(ledger trustledger.Ledger, signer *fabric.Signer, logger *zap.Logger) *Server {
	return &Server{ledger: ledger, signer: signer, logger: logger}
}

// SubmitHash implements fabric.GatewayServer.
func (s *Server) SubmitHash(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	sub, _ := ctx.Value(submitterKey{}).(string)
	if sub == "" {
		sub = anonymous
	}
	entry, err := s.ledger.Append(ctx, in.GetValue(), sub)
	if err != nil {
		if errors.Is(err, trustledger.ErrInvalidHash) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.logger.Error("append ledger entry", zap.Error(err))
		return nil, status.Error(codes.Unavailable, "ledger unavailable")
	}
	s.logger.Info("hash anchored",
		zap.String("content_hash", entry.ContentHash),
		zap.String("tx_id", entry.TxID()),
	)
	return wrapperspb.String(entry.TxID()), nil
}

// LookupHash implements fabric.GatewayServer.
func (s *Server) LookupHash(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	entry, err := s.ledger.GetByTxID(ctx, in.GetValue())
	if err != nil {
		if errors.Is(err, trustledger.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "transaction not found")
		}
		return nil, status.Error(codes.Unavailable, "ledger unavailable")
	}
	return wrapperspb.String(entry.ContentHash), nil
}

// UnaryInterceptor verifies the bearer credential in call metadata when a
// signer is configured.
func (s *Server) UnaryInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if s.signer == nil {
		return handler(ctx, req)
	}
	md, _ := metadata.FromIncomingContext(ctx)
	var tok string
	var ok bool
	if vals := md.Get("authorization"); len(vals) > 0 {
		tok, ok = bearer(vals[0])
	}
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing bearer credential")
	}
	sub, err := s.signer.Verify(tok)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid credential")
	}
	return handler(context.WithValue(ctx, submitterKey{}, sub), req)
}
