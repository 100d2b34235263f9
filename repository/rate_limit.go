package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/txix-open/isp-kit/json"
	"syd-quota-service/entity"
	"syd-quota-service/metrics"
)

type RateLimit struct {
	cli      redis.UniversalClient
	metrics *metrics.Storage
}

func NewRateLimit(cli redis.UniversalClient, metrics *metrics.Storage) RateLimit {
	return RateLimit{
		cli:      cli,
		metrics: metrics,
	}
}

func (r RateLimit) Update(
	ctx context.Context,
	identity string,
	decide func(record *entity.RateLimitRecord, now time.Time) (*entity.RateLimitRecord, error),
) error {
	key := r.key(identity)
	return updateInTx(ctx, r.cli, r.metrics, key, func(current []byte, now time.Time) ([]byte, error) {
		var record *entity.RateLimitRecord
		if current != nil {
			record = &entity.RateLimitRecord{}
			err := json.Unmarshal(current, record)
			if err != nil {
				return nil, errors.WithMessage(err, "json unmarshal rate limit record")
			}
		}

		next, err := decide(record, now)
		if err != nil || next == nil {
			return nil, err
		}

		data, err := json.Marshal(next)
		if err != nil {
			return nil, errors.WithMessage(err, "json marshal rate limit record")
		}
		return data, nil
	})
}

func (r RateLimit) Get(ctx context.Context, identity string) (*entity.RateLimitRecord, error) {
	data, err := r.cli.Get(ctx, r.key(identity)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, errors.WithMessage(err, "get rate limit record")
	}

	record := &entity.RateLimitRecord{}
	err = json.Unmarshal(data, record)
	if err != nil {
		return nil, errors.WithMessage(err, "json unmarshal rate limit record")
	}
	return record, nil
}

func (r RateLimit) DeleteExpired(ctx context.Context, olderThan time.Time, batchSize int) (int, error) {
	return deleteExpired(ctx, r.cli, "rate_limit:*", olderThan, batchSize, func(data []byte) (time.Time, error) {
		record := entity.RateLimitRecord{}
		err := json.Unmarshal(data, &record)
		if err != nil {
			return time.Time{}, errors.WithMessage(err, "json unmarshal rate limit record")
		}
		return record.WindowStart, nil
	})
}

func (r RateLimit) key(identity string) string {
	return fmt.Sprintf("rate_limit:%s", identity)
}
