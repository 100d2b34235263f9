package handler

import (
	"context"

	"syd-quota-service/domain"
	"syd-quota-service/entity"
	"syd-quota-service/request"
)

type RateLimitService interface {
	CheckAndRecord(ctx context.Context, ip string) (*domain.CheckResult, error)
	Stats(ctx context.Context, ip string) (*entity.RateLimitRecord, error)
}

type RateLimit struct {
	service RateLimitService
}

func NewRateLimit(service RateLimitService) RateLimit {
	return RateLimit{
		service: service,
	}
}

func (h RateLimit) Check(ctx *request.Context) error {
	req := domain.RateLimitRequest{}
	err := readJson(ctx, &req)
	if err != nil {
		return err
	}

	result, err := h.service.CheckAndRecord(ctx.Context(), req.Ip)
	if err != nil {
		return asHttpError(err, "rate limit check")
	}
	return writeJson(ctx, result)
}

func (h RateLimit) Stats(ctx *request.Context) error {
	req := domain.RateLimitRequest{}
	err := readJson(ctx, &req)
	if err != nil {
		return err
	}

	record, err := h.service.Stats(ctx.Context(), req.Ip)
	if err != nil {
		return asHttpError(err, "rate limit stats")
	}
	return writeJson(ctx, record)
}
