// Package connect provides the Connect RPC control surface.
package connect

import (
	"context"
	"crypto/subtle"

	"connectrpc.com/connect"
	zlog "github.com/rs/zerolog/log"
)

const (
	// AdminTokenHeader is the header name for admin authentication token.
	AdminTokenHeader = "X-Admin-Token"
)

// adminAuthInterceptor validates admin tokens on unary and streaming calls.
type adminAuthInterceptor struct {
	token string
}

// NewAdminAuthInterceptor creates an interceptor that validates admin tokens
// from request headers. An empty token disables the check.
func NewAdminAuthInterceptor(token string) connect.Interceptor {
	return &adminAuthInterceptor{token: token}
}

func (i *adminAuthInterceptor) authorize(procedure, got string) error {
	if i.token == "" {
		return nil
	}
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(i.token)) != 1 {
		zlog.Warn().Msgf("connect: rejected call: procedure=%s", procedure)
		return connect.NewError(connect.CodeUnauthenticated, nil)
	}
	return nil
}

func (i *adminAuthInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			return next(ctx, req)
		}
		if err := i.authorize(req.Spec().Procedure, req.Header().Get(AdminTokenHeader)); err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

func (i *adminAuthInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *adminAuthInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if err := i.authorize(conn.Spec().Procedure, conn.RequestHeader().Get(AdminTokenHeader)); err != nil {
			return err
		}
		return next(ctx, conn)
	}
}

// tokenInterceptor attaches the admin token to outgoing calls.
type tokenInterceptor struct {
	token string
}

// NewTokenInterceptor creates a client interceptor that sends token in
// the admin token header.
func NewTokenInterceptor(token string) connect.Interceptor {
	return &tokenInterceptor{token: token}
}

func (i *tokenInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient && i.token != "" {
			req.Header().Set(AdminTokenHeader, i.token)
		}
		return next(ctx, req)
	}
}

func (i *tokenInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		if i.token != "" {
			conn.RequestHeader().Set(AdminTokenHeader, i.token)
		}
		return conn
	}
}

func (i *tokenInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
