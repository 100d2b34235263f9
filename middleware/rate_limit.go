package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"syd-quota-service/domain"
	"syd-quota-service/httperrors"
	"syd-quota-service/request"
)

type RateLimiter interface {
	CheckAndRecord(ctx context.Context, ip string) (*domain.CheckResult, error)
	Limit() int
}

// RateLimit admits or rejects a request by client ip before any other
// processing. A store error fails closed: not being able to verify the
// limit must not mean "allowed".
func RateLimit(limiter RateLimiter) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx *request.Context) error {
			ip := ctx.ClientIp()

			result, err := limiter.CheckAndRecord(ctx.Context(), ip)
			if err != nil {
				return httperrors.New(
					http.StatusServiceUnavailable,
					domain.ServiceIsNotAvailableErrorMessage,
					errors.WithMessage(err, "rate limit: check and record"),
				)
			}

			header := ctx.ResponseWriter().Header()
			header.Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
			header.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			header.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retryAfter := int(time.Until(result.ResetAt).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				return httperrors.New(
					http.StatusTooManyRequests,
					"too many requests, wait",
					errors.Errorf("rate limit: limit has been reached for '%s'", ip),
				).WithHeader("Retry-After", strconv.Itoa(retryAfter))
			}

			return next.Handle(ctx)
		})
	}
}
