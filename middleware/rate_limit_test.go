package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/txix-open/isp-kit/test"
	"syd-quota-service/domain"
	"syd-quota-service/middleware"
	"syd-quota-service/request"
)

type stubLimiter struct {
	result *domain.CheckResult
	err    error
	lastIp string
}

func (s *stubLimiter) CheckAndRecord(ctx context.Context, ip string) (*domain.CheckResult, error) {
	s.lastIp = ip
	return s.result, s.err
}

func (s *stubLimiter) Limit() int {
	return 20
}

func callChain(t *testing.T, limiter *stubLimiter, req *http.Request) (*httptest.ResponseRecorder, bool) {
	testInstance, _ := test.New(t)
	passed := false
	root := middleware.HandlerFunc(func(ctx *request.Context) error {
		passed = true
		ctx.ResponseWriter().WriteHeader(http.StatusOK)
		return nil
	})
	handler := middleware.Chain(root,
		middleware.ClientIp(),
		middleware.ErrorHandler(testInstance.Logger()),
		middleware.RateLimit(limiter),
	)

	recorder := httptest.NewRecorder()
	err := handler.Handle(request.NewContext(req, recorder, req.URL.Path))
	require.NoError(t, err)
	return recorder, passed
}

func TestRateLimitAllowed(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	resetAt := time.Now().Add(time.Minute)
	limiter := &stubLimiter{result: &domain.CheckResult{
		Allowed:   true,
		Remaining: 19,
		ResetAt:   resetAt,
	}}

	req := httptest.NewRequest(http.MethodPost, "/chat/message", nil)
	req.RemoteAddr = "10.1.2.3:51000"
	recorder, passed := callChain(t, limiter, req)

	require.True(passed)
	require.EqualValues(http.StatusOK, recorder.Code)
	require.EqualValues("10.1.2.3", limiter.lastIp)
	require.EqualValues("20", recorder.Header().Get("X-RateLimit-Limit"))
	require.EqualValues("19", recorder.Header().Get("X-RateLimit-Remaining"))
	require.EqualValues(resetAt.Unix(), mustParseInt(require, recorder.Header().Get("X-RateLimit-Reset")))
}

func TestRateLimitRejected(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	limiter := &stubLimiter{result: &domain.CheckResult{
		Allowed:      false,
		Remaining:    0,
		ResetAt:      time.Now().Add(30 * time.Second),
		CurrentCount: 20,
	}}

	req := httptest.NewRequest(http.MethodPost, "/chat/message", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	recorder, passed := callChain(t, limiter, req)

	require.False(passed)
	require.EqualValues(http.StatusTooManyRequests, recorder.Code)
	require.EqualValues("203.0.113.7", limiter.lastIp)
	require.EqualValues("0", recorder.Header().Get("X-RateLimit-Remaining"))
	retryAfter := mustParseInt(require, recorder.Header().Get("Retry-After"))
	require.True(retryAfter >= 1 && retryAfter <= 30)
}

func TestRateLimitStoreErrorFailsClosed(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	limiter := &stubLimiter{err: errors.New("store is down")}

	req := httptest.NewRequest(http.MethodPost, "/chat/message", nil)
	req.RemoteAddr = "10.1.2.3:51000"
	recorder, passed := callChain(t, limiter, req)

	require.False(passed)
	require.EqualValues(http.StatusServiceUnavailable, recorder.Code)
	require.Empty(recorder.Header().Get("X-RateLimit-Limit"))
}

func mustParseInt(require *require.Assertions, value string) int64 {
	parsed, err := strconv.ParseInt(value, 10, 64)
	require.NoError(err)
	return parsed
}
