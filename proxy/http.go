package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"syd-quota-service/httperrors"
	"syd-quota-service/request"

	"github.com/pkg/errors"
	"github.com/txix-open/isp-kit/requestid"
	"golang.org/x/net/context"
)

type HttpHostManager interface {
	Next() (string, error)
}

type Http struct {
	hostManager HttpHostManager
	timeout     time.Duration
}

func NewHttp(hostManager HttpHostManager, timeout time.Duration) Http {
	return Http{
		hostManager: hostManager,
		timeout:     timeout,
	}
}

func (p Http) Handle(ctx *request.Context) error {
	host, err := p.hostManager.Next()
	if err != nil {
		return errors.WithMessage(err, "http: next host")
	}

	rawUrl := fmt.Sprintf("http://%s", host) // secure HTTP links are reset connection
	target, err := url.Parse(rawUrl)
	if err != nil {
		return errors.WithMessage(err, "http: parse url")
	}

	req := ctx.Request()
	req.URL.Path = ctx.Endpoint()
	setHttpHeaders(ctx, req.Header)

	reverseProxy := httputil.NewSingleHostReverseProxy(target)
	var resultError error
	reverseProxy.ErrorHandler = func(writer http.ResponseWriter, request *http.Request, err error) {
		resultError = httperrors.New(
			http.StatusServiceUnavailable,
			"upstream is not available",
			errors.WithMessagef(err, "http proxy to %s", host),
		)
	}

	context, cancel := context.WithTimeout(req.Context(), p.timeout)
	defer cancel()
	req = req.WithContext(context)
	reverseProxy.ServeHTTP(ctx.ResponseWriter(), req)

	return resultError
}

func setHttpHeaders(ctx *request.Context, header http.Header) {
	header.Set(requestid.Header, requestid.FromContext(ctx.Context()))
	header.Set("X-Forwarded-For", ctx.ClientIp())
}
