package service

import (
	"context"

	"github.com/pkg/errors"
	"github.com/txix-open/isp-kit/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"syd-quota-service/domain"
)

type TierCache interface {
	Get(ctx context.Context, identity string) (*domain.TierResponse, error)
	Set(ctx context.Context, identity string, data domain.TierResponse) error
}

type TierRepo interface {
	GetTier(ctx context.Context, identity string) (*domain.TierResponse, error)
}

type Tier struct {
	cache  TierCache
	repo   TierRepo
	logger log.Logger
}

func NewTier(cache TierCache, repo TierRepo, logger log.Logger) Tier {
	return Tier{
		cache:  cache,
		repo:   repo,
		logger: logger,
	}
}

// Resolve classifies an identity as guest or registered. Lookup failures
// fall back to the guest tier, the stricter allowance. Only tier data is
// cached here; counters are always re-read from the store.
func (s Tier) Resolve(ctx context.Context, identity string) string {
	cached, err := s.cache.Get(ctx, identity)
	if err == nil {
		return tierOf(cached.Registered)
	}
	if !errors.Is(err, domain.ErrTierCacheMiss) {
		s.logger.Error(ctx, errors.WithMessage(err, "tier cache get"))
	}

	resp, err := s.repo.GetTier(ctx, identity)
	if err != nil {
		if status.Code(err) != codes.NotFound {
			s.logger.Error(ctx, errors.WithMessage(err, "tier repo get tier"))
		}
		return domain.TierGuest
	}

	err = s.cache.Set(ctx, identity, *resp)
	if err != nil {
		s.logger.Error(ctx, errors.WithMessage(err, "tier cache set"))
	}

	return tierOf(resp.Registered)
}

func tierOf(registered bool) string {
	if registered {
		return domain.TierRegistered
	}
	return domain.TierGuest
}
