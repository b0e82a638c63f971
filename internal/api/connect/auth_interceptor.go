package connect

import (
	"context"
	"crypto/subtle"
	"net/http"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
)

const (
	// AdminTokenHeader is the header name for admin authentication token.
	AdminTokenHeader = "X-Admin-Token"
)

var errBadToken = errors.New("missing or invalid admin token")

// AdminAuthInterceptor validates the admin token on every unary and
// streaming call. As a client option it attaches the token instead.
type AdminAuthInterceptor struct {
	token string
}

var _ connect.Interceptor = (*AdminAuthInterceptor)(nil)

// NewAdminAuthInterceptor creates an interceptor for token.
func NewAdminAuthInterceptor(token string) *AdminAuthInterceptor {
	return &AdminAuthInterceptor{token: token}
}

func (a *AdminAuthInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			req.Header().Set(AdminTokenHeader, a.token)
			return next(ctx, req)
		}
		if err := a.check(req.Header()); err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

func (a *AdminAuthInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		conn.RequestHeader().Set(AdminTokenHeader, a.token)
		return conn
	}
}

func (a *AdminAuthInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if err := a.check(conn.RequestHeader()); err != nil {
			return err
		}
		return next(ctx, conn)
	}
}

func (a *AdminAuthInterceptor) check(h http.Header) error {
	got := h.Get(AdminTokenHeader)
	if got == "" || a.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) != 1 {
		return connect.NewError(connect.CodeUnauthenticated, errBadToken)
	}
	return nil
}
