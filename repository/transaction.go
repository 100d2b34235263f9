package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"syd-quota-service/metrics"
)

const transactionAttempts = 10

// decideFunc receives the current record bytes (nil when the record is
// absent) and returns the next record bytes. Returning nil bytes means
// no write is needed.
type decideFunc func(current []byte, now time.Time) ([]byte, error)

// updateInTx applies decide to the record under key with WATCH/EXEC
// semantics: concurrent writers for the same key cannot interleave their
// read and write. Write conflicts are retried a bounded number of times.
func updateInTx(
	ctx context.Context,
	cli redis.UniversalClient,
	metrics *metrics.Storage,
	key string,
	decide decideFunc,
) error {
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			current = nil
		case err != nil:
			return errors.WithMessage(err, "get record")
		}

		next, err := decide(current, time.Now())
		if err != nil || next == nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return errors.WithMessage(err, "exec transaction")
	}

	for attempt := 0; attempt < transactionAttempts; attempt++ {
		err := cli.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			metrics.TransactionRetried()
			continue
		default:
			return err
		}
	}
	return errors.Errorf("update '%s': too many transaction conflicts", key)
}

// deleteExpired scans records by pattern and deletes up to batchSize of
// those whose window started before olderThan. Records that no longer
// unmarshal are deleted as well, they can never be read back.
func deleteExpired(
	ctx context.Context,
	cli redis.UniversalClient,
	pattern string,
	olderThan time.Time,
	batchSize int,
	windowStartOf func(data []byte) (time.Time, error),
) (int, error) {
	keys := make([]string, 0, batchSize)
	iter := cli.Scan(ctx, 0, pattern, int64(batchSize)).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := cli.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return 0, errors.WithMessage(err, "get record")
		}

		windowStart, err := windowStartOf(data)
		if err != nil || windowStart.Before(olderThan) {
			keys = append(keys, key)
			if len(keys) >= batchSize {
				break
			}
		}
	}
	err := iter.Err()
	if err != nil {
		return 0, errors.WithMessage(err, "scan records")
	}

	if len(keys) == 0 {
		return 0, nil
	}
	deleted, err := cli.Del(ctx, keys...).Result()
	if err != nil {
		return 0, errors.WithMessage(err, "del records")
	}
	return int(deleted), nil
}
