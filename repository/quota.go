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

type Quota struct {
	cli      redis.UniversalClient
	metrics *metrics.Storage
}

func NewQuota(cli redis.UniversalClient, metrics *metrics.Storage) Quota {
	return Quota{
		cli:      cli,
		metrics: metrics,
	}
}

// Update applies decide atomically to the (identity, toolType) record.
// decide gets nil when no record exists yet; returning nil skips the write.
func (r Quota) Update(
	ctx context.Context,
	identity string,
	toolType string,
	decide func(record *entity.QuotaRecord, now time.Time) (*entity.QuotaRecord, error),
) error {
	key := r.key(identity, toolType)
	return updateInTx(ctx, r.cli, r.metrics, key, func(current []byte, now time.Time) ([]byte, error) {
		var record *entity.QuotaRecord
		if current != nil {
			record = &entity.QuotaRecord{}
			err := json.Unmarshal(current, record)
			if err != nil {
				return nil, errors.WithMessage(err, "json unmarshal quota record")
			}
		}

		next, err := decide(record, now)
		if err != nil || next == nil {
			return nil, err
		}

		data, err := json.Marshal(next)
		if err != nil {
			return nil, errors.WithMessage(err, "json marshal quota record")
		}
		return data, nil
	})
}

func (r Quota) All(ctx context.Context, identity string) (map[string]*entity.QuotaRecord, error) {
	toolTypes := []string{entity.ToolRender, entity.ToolQuote, entity.ToolMarketPrices}
	keys := make([]string, 0, len(toolTypes))
	for _, toolType := range toolTypes {
		keys = append(keys, r.key(identity, toolType))
	}

	values, err := r.cli.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.WithMessage(err, "mget quota records")
	}

	result := make(map[string]*entity.QuotaRecord)
	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			continue
		}
		record := &entity.QuotaRecord{}
		err := json.Unmarshal([]byte(data), record)
		if err != nil {
			return nil, errors.WithMessagef(err, "json unmarshal quota record '%s'", keys[i])
		}
		result[toolTypes[i]] = record
	}
	return result, nil
}

func (r Quota) DeleteExpired(ctx context.Context, olderThan time.Time, batchSize int) (int, error) {
	return deleteExpired(ctx, r.cli, "quota:*", olderThan, batchSize, func(data []byte) (time.Time, error) {
		record := entity.QuotaRecord{}
		err := json.Unmarshal(data, &record)
		if err != nil {
			return time.Time{}, errors.WithMessage(err, "json unmarshal quota record")
		}
		return record.WindowStart, nil
	})
}

func (r Quota) key(identity string, toolType string) string {
	return fmt.Sprintf("quota:%s:%s", identity, toolType)
}
