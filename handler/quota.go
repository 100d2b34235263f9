package handler

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/txix-open/isp-kit/log"
	"syd-quota-service/domain"
	"syd-quota-service/entity"
	"syd-quota-service/httperrors"
	"syd-quota-service/request"
)

type QuotaService interface {
	Check(ctx context.Context, req domain.CheckQuotaRequest) (*domain.CheckResult, error)
	Increment(ctx context.Context, req domain.IncrementQuotaRequest) error
	Stats(ctx context.Context, identity string) (map[string]*entity.QuotaRecord, error)
}

type Quota struct {
	service QuotaService
	logger  log.Logger
}

func NewQuota(service QuotaService, logger log.Logger) Quota {
	return Quota{
		service: service,
		logger:  logger,
	}
}

func (h Quota) Check(ctx *request.Context) error {
	req := domain.CheckQuotaRequest{}
	err := readJson(ctx, &req)
	if err != nil {
		return err
	}

	result, err := h.service.Check(ctx.Context(), req)
	if err != nil {
		return asHttpError(err, "quota check")
	}
	return writeJson(ctx, result)
}

// Increment records usage after the gated operation already succeeded.
// A store failure here is logged and swallowed: the produced output must
// not be discarded because bookkeeping failed. Invalid input is still a
// caller bug and gets a 400.
func (h Quota) Increment(ctx *request.Context) error {
	req := domain.IncrementQuotaRequest{}
	err := readJson(ctx, &req)
	if err != nil {
		return err
	}

	err = h.service.Increment(ctx.Context(), req)
	switch {
	case isInvalidInput(err):
		return asHttpError(err, "quota increment")
	case err != nil:
		h.logger.Error(ctx.Context(), errors.WithMessage(err, "quota increment"))
	}
	return writeJson(ctx, struct{}{})
}

func (h Quota) Stats(ctx *request.Context) error {
	req := domain.QuotaStatsRequest{}
	err := readJson(ctx, &req)
	if err != nil {
		return err
	}

	records, err := h.service.Stats(ctx.Context(), req.Identity)
	if err != nil {
		return asHttpError(err, "quota stats")
	}
	return writeJson(ctx, records)
}

func isInvalidInput(err error) bool {
	return errors.Is(err, domain.ErrEmptyIdentity) || errors.Is(err, domain.ErrUnknownToolType)
}

func asHttpError(err error, message string) error {
	if isInvalidInput(err) {
		return httperrors.New(http.StatusBadRequest, err.Error(), errors.WithMessage(err, message))
	}
	return errors.WithMessage(err, message)
}
