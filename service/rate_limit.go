package service

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/txix-open/isp-kit/log"
	"syd-quota-service/conf"
	"syd-quota-service/domain"
	"syd-quota-service/entity"
	"syd-quota-service/metrics"
)

type RateLimitRepo interface {
	Update(
		ctx context.Context,
		identity string,
		decide func(record *entity.RateLimitRecord, now time.Time) (*entity.RateLimitRecord, error),
	) error
	Get(ctx context.Context, identity string) (*entity.RateLimitRecord, error)
	DeleteExpired(ctx context.Context, olderThan time.Time, batchSize int) (int, error)
}

type RateLimit struct {
	repo     RateLimitRepo
	limit    int
	window   time.Duration
	cleanup  conf.Cleanup
	metrics *metrics.Storage
	logger   log.Logger
}

func NewRateLimit(
	repo RateLimitRepo,
	config conf.RateLimit,
	cleanup conf.Cleanup,
	metrics *metrics.Storage,
	logger log.Logger,
) RateLimit {
	return RateLimit{
		repo:     repo,
		limit:    config.GetMaxRequests(),
		window:   config.GetWindow(),
		cleanup:  cleanup,
		metrics: metrics,
		logger:   logger,
	}
}

// CheckAndRecord is a single transactional step: unlike the tool quota
// flow there is no expensive operation between check and increment, the
// request itself is the protected cost.
func (s RateLimit) CheckAndRecord(ctx context.Context, ip string) (*domain.CheckResult, error) {
	identity := strings.TrimSpace(ip)
	if identity == "" {
		return nil, domain.ErrEmptyIdentity
	}
	if net.ParseIP(identity) == nil {
		// proxy headers are not always well formed, rejecting would block legitimate traffic
		s.logger.Warn(ctx, "rate limit: identity is not a valid ip", log.String("identity", identity))
	}

	var result domain.CheckResult
	err := s.repo.Update(ctx, identity, func(record *entity.RateLimitRecord, now time.Time) (*entity.RateLimitRecord, error) {
		switch {
		case record == nil:
			next := entity.NewRateLimitRecord(identity, s.limit, s.window, now)
			next.Count = 1
			result = domain.CheckResult{
				Allowed:      true,
				Remaining:    s.limit - 1,
				ResetAt:      now.Add(s.window),
				CurrentCount: 1,
			}
			return next, nil
		case record.Expired(now):
			next := *record
			next.Count = 1
			next.WindowStart = now
			next.Limit = s.limit
			next.WindowLengthMs = s.window.Milliseconds()
			result = domain.CheckResult{
				Allowed:      true,
				Remaining:    s.limit - 1,
				ResetAt:      now.Add(s.window),
				CurrentCount: 1,
			}
			return &next, nil
		case record.Count >= s.limit:
			result = domain.CheckResult{
				Allowed:      false,
				Remaining:    0,
				ResetAt:      record.ResetAt(),
				CurrentCount: record.Count,
			}
			return nil, nil
		default:
			next := *record
			next.Count++
			result = domain.CheckResult{
				Allowed:      true,
				Remaining:    s.limit - next.Count,
				ResetAt:      record.ResetAt(),
				CurrentCount: next.Count,
			}
			return &next, nil
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "rate limit repo update")
	}

	if !result.Allowed {
		s.metrics.RateLimitRejected()
	}
	return &result, nil
}

func (s RateLimit) Limit() int {
	return s.limit
}

func (s RateLimit) Stats(ctx context.Context, ip string) (*entity.RateLimitRecord, error) {
	identity := strings.TrimSpace(ip)
	if identity == "" {
		return nil, domain.ErrEmptyIdentity
	}

	record, err := s.repo.Get(ctx, identity)
	if err != nil {
		return nil, errors.WithMessage(err, "rate limit repo get")
	}
	return record, nil
}

func (s RateLimit) CleanupExpired(ctx context.Context) (int, error) {
	olderThan := time.Now().Add(-s.cleanup.GetRateLimitRetention())
	deleted, err := s.repo.DeleteExpired(ctx, olderThan, s.cleanup.GetBatchSize())
	if err != nil {
		return 0, errors.WithMessage(err, "rate limit repo delete expired")
	}
	return deleted, nil
}
