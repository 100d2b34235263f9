package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/txix-open/isp-kit/log"
)

type QuotaCleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

type RateLimitCleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// Cleaner sweeps counter records that outlived their retention. It runs
// outside the request path; a failed sweep is retried on the next tick.
type Cleaner struct {
	quota     QuotaCleaner
	rateLimit RateLimitCleaner
	interval  time.Duration
	logger    log.Logger
}

func NewCleaner(
	quota QuotaCleaner,
	rateLimit RateLimitCleaner,
	interval time.Duration,
	logger log.Logger,
) Cleaner {
	return Cleaner{
		quota:     quota,
		rateLimit: rateLimit,
		interval:  interval,
		logger:    logger,
	}
}

func (c Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

func (c Cleaner) Sweep(ctx context.Context) {
	deletedQuotas, err := c.quota.CleanupExpired(ctx)
	if err != nil {
		c.logger.Error(ctx, errors.WithMessage(err, "cleanup expired quotas"))
	}

	deletedRateLimits, err := c.rateLimit.CleanupExpired(ctx)
	if err != nil {
		c.logger.Error(ctx, errors.WithMessage(err, "cleanup expired rate limits"))
	}

	c.logger.Info(ctx, "cleanup finished",
		log.Int("deletedQuotas", deletedQuotas),
		log.Int("deletedRateLimits", deletedRateLimits),
	)
}
