package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/txix-open/isp-kit/json"
	"syd-quota-service/cache"
	"syd-quota-service/domain"
)

type TierCache struct {
	cache    *cache.Cache
	duration time.Duration
}

func NewTierCache(duration time.Duration) TierCache {
	return TierCache{
		duration: duration,
		cache:    cache.New(),
	}
}

func (r TierCache) Get(ctx context.Context, identity string) (*domain.TierResponse, error) {
	data, ok := r.cache.Get(identity)
	if !ok {
		return nil, domain.ErrTierCacheMiss
	}

	result := domain.TierResponse{}
	err := json.Unmarshal(data, &result)
	if err != nil {
		return nil, errors.WithMessage(err, "json unmarshal tier data")
	}

	return &result, nil
}

func (r TierCache) Set(ctx context.Context, identity string, data domain.TierResponse) error {
	value, err := json.Marshal(data)
	if err != nil {
		return errors.WithMessage(err, "json marshal tier data")
	}

	r.cache.Set(identity, value, r.duration)

	return nil
}
