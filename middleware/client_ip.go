package middleware

import (
	"net"
	"strings"

	"syd-quota-service/request"
)

const (
	forwardedForHeader = "X-Forwarded-For"
)

// ClientIp resolves the caller's address: the first entry of
// X-Forwarded-For when present, the socket peer otherwise. The value is
// an opaque identity for the rate limiter and is not validated here.
func ClientIp() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx *request.Context) error {
			ctx.SetClientIp(resolveClientIp(ctx))
			return next.Handle(ctx)
		})
	}
}

func resolveClientIp(ctx *request.Context) string {
	forwardedFor := ctx.Request().Header.Get(forwardedForHeader)
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(ctx.Request().RemoteAddr)
	if err != nil {
		return ctx.Request().RemoteAddr
	}
	return host
}
