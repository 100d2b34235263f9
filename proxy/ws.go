package proxy

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/tomakado/websocketproxy"
	"syd-quota-service/httperrors"
	"syd-quota-service/request"
)

type Ws struct {
	hostManager HttpHostManager
}

func NewWs(hostManager HttpHostManager) Ws {
	return Ws{
		hostManager: hostManager,
	}
}

//nolint:gomnd
func (ws Ws) Handle(ctx *request.Context) error {
	host, err := ws.hostManager.Next()
	if err != nil {
		return errors.WithMessage(err, "ws: next host")
	}

	rawUrl := fmt.Sprintf("ws://%s", host)
	target, err := url.Parse(rawUrl)
	if err != nil {
		return errors.WithMessage(err, "ws: parse url")
	}

	req := ctx.Request()
	req.URL.Path = ctx.Endpoint()

	var resultError error
	proxy := websocketproxy.NewProxy(target)
	proxy.Director = func(incoming *http.Request, out http.Header) {
		setHttpHeaders(ctx, out)
	}
	proxy.Upgrader = &websocket.Upgrader{
		HandshakeTimeout: 5 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			resultError = httperrors.New(
				http.StatusServiceUnavailable,
				"upstream is not available",
				errors.WithMessagef(reason, "ws proxy to %s", host),
			)
		},
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	proxy.ServeHTTP(ctx.ResponseWriter(), ctx.Request())

	return resultError
}
