package handler

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/txix-open/isp-kit/json"
	"syd-quota-service/httperrors"
	"syd-quota-service/request"
)

func readJson(ctx *request.Context, ptr interface{}) error {
	err := json.NewDecoder(ctx.Request().Body).Decode(ptr)
	if err != nil {
		return httperrors.New(
			http.StatusBadRequest,
			"invalid request body",
			errors.WithMessage(err, "decode request body"),
		)
	}
	return nil
}

func writeJson(ctx *request.Context, data interface{}) error {
	ctx.ResponseWriter().Header().Set("Content-Type", "application/json")
	return json.NewEncoder(ctx.ResponseWriter()).Encode(data)
}
