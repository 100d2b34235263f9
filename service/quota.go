package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/txix-open/isp-kit/log"
	"syd-quota-service/conf"
	"syd-quota-service/domain"
	"syd-quota-service/entity"
	"syd-quota-service/metrics"
)

const (
	defaultToolLimit  = 2
	defaultToolWindow = 24 * time.Hour
)

type QuotaRepo interface {
	Update(
		ctx context.Context,
		identity string,
		toolType string,
		decide func(record *entity.QuotaRecord, now time.Time) (*entity.QuotaRecord, error),
	) error
	All(ctx context.Context, identity string) (map[string]*entity.QuotaRecord, error)
	DeleteExpired(ctx context.Context, olderThan time.Time, batchSize int) (int, error)
}

type TierResolver interface {
	Resolve(ctx context.Context, identity string) string
}

type Quota struct {
	repo     QuotaRepo
	tier     TierResolver
	tiers    conf.Tiers
	defaults map[string]conf.ToolQuota
	cleanup  conf.Cleanup
	metrics *metrics.Storage
	logger   log.Logger
}

func NewQuota(
	repo QuotaRepo,
	tier TierResolver,
	tiers conf.Tiers,
	toolQuotas []conf.ToolQuota,
	cleanup conf.Cleanup,
	metrics *metrics.Storage,
	logger log.Logger,
) Quota {
	defaults := make(map[string]conf.ToolQuota)
	for _, quota := range toolQuotas {
		defaults[quota.ToolType] = quota
	}
	return Quota{
		repo:     repo,
		tier:     tier,
		tiers:    tiers,
		defaults: defaults,
		cleanup:  cleanup,
		metrics: metrics,
		logger:   logger,
	}
}

// Check gates a tool invocation. It never increments: window creation and
// rollover are the only writes it performs. Must be called before the
// gated operation runs; a store error here means "not verified", not
// "allowed".
func (s Quota) Check(ctx context.Context, req domain.CheckQuotaRequest) (*domain.CheckResult, error) {
	identity := strings.TrimSpace(req.Identity)
	err := validateToolRequest(identity, req.ToolType)
	if err != nil {
		return nil, err
	}

	tier, limit, window := s.policy(ctx, identity, req.ToolType, req.Limit, req.WindowMs)

	var result domain.CheckResult
	err = s.repo.Update(ctx, identity, req.ToolType, func(record *entity.QuotaRecord, now time.Time) (*entity.QuotaRecord, error) {
		switch {
		case record == nil:
			result = domain.CheckResult{
				Allowed:      true,
				Remaining:    limit,
				ResetAt:      now.Add(window),
				CurrentCount: 0,
				Tier:         tier,
			}
			return entity.NewQuotaRecord(identity, req.ToolType, limit, window, now), nil
		case now.Sub(record.WindowStart) >= window:
			// a caller at the exact boundary gets a fresh window
			next := *record
			next.Count = 0
			next.WindowStart = now
			next.Limit = limit
			next.WindowLengthMs = window.Milliseconds()
			result = domain.CheckResult{
				Allowed:      true,
				Remaining:    limit,
				ResetAt:      now.Add(window),
				CurrentCount: 0,
				Tier:         tier,
			}
			return &next, nil
		case record.Count >= limit:
			result = domain.CheckResult{
				Allowed:      false,
				Remaining:    0,
				ResetAt:      record.WindowStart.Add(window),
				CurrentCount: record.Count,
				Tier:         tier,
			}
			return nil, nil
		default:
			result = domain.CheckResult{
				Allowed:      true,
				Remaining:    limit - record.Count,
				ResetAt:      record.WindowStart.Add(window),
				CurrentCount: record.Count,
				Tier:         tier,
			}
			return nil, nil
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "quota repo update")
	}

	if !result.Allowed {
		s.metrics.QuotaRejected()
	}
	return &result, nil
}

// Increment records one successful tool invocation. It does not enforce
// the ceiling: enforcement belongs to Check, and losing the usage record
// of already-produced output is worse than an occasional under-count.
// A record created here without a prior Check starts with count=1.
func (s Quota) Increment(ctx context.Context, req domain.IncrementQuotaRequest) error {
	identity := strings.TrimSpace(req.Identity)
	err := validateToolRequest(identity, req.ToolType)
	if err != nil {
		return err
	}

	_, limit, window := s.policy(ctx, identity, req.ToolType, 0, 0)
	callId := uuid.NewString()

	overLimit := false
	err = s.repo.Update(ctx, identity, req.ToolType, func(record *entity.QuotaRecord, now time.Time) (*entity.QuotaRecord, error) {
		call := entity.ToolCall{
			Id:       callId,
			At:       now,
			Metadata: req.Metadata,
		}
		if record == nil {
			next := entity.NewQuotaRecord(identity, req.ToolType, limit, window, now)
			next.Count = 1
			next.Calls = []entity.ToolCall{call}
			overLimit = next.Count > next.Limit
			return next, nil
		}

		next := *record
		if next.Expired(now) {
			next.Count = 0
			next.WindowStart = now
		}
		next.Count++
		next.Calls = append(next.Calls, call)
		overLimit = next.Count > next.Limit
		return &next, nil
	})
	if err != nil {
		s.metrics.IncrementFailed()
		return errors.WithMessage(err, "quota repo update")
	}

	if overLimit {
		s.logger.Warn(ctx, "quota usage recorded past the limit",
			log.String("identity", identity),
			log.String("toolType", req.ToolType),
		)
	}
	return nil
}

func (s Quota) Stats(ctx context.Context, identity string) (map[string]*entity.QuotaRecord, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, domain.ErrEmptyIdentity
	}

	records, err := s.repo.All(ctx, identity)
	if err != nil {
		return nil, errors.WithMessage(err, "quota repo all")
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records, nil
}

func (s Quota) CleanupExpired(ctx context.Context) (int, error) {
	olderThan := time.Now().Add(-s.cleanup.GetQuotaRetention())
	deleted, err := s.repo.DeleteExpired(ctx, olderThan, s.cleanup.GetBatchSize())
	if err != nil {
		return 0, errors.WithMessage(err, "quota repo delete expired")
	}
	return deleted, nil
}

// policy resolves the effective ceiling and window: explicit call
// overrides win, then the identity's tier policy, then per-tool defaults.
func (s Quota) policy(
	ctx context.Context,
	identity string,
	toolType string,
	limitOverride int,
	windowMsOverride int64,
) (string, int, time.Duration) {
	tier := s.tier.Resolve(ctx, identity)
	tierPolicy := s.tiers.Guest
	if tier == domain.TierRegistered {
		tierPolicy = s.tiers.Registered
	}

	limit := defaultToolLimit
	window := defaultToolWindow
	if defaults, ok := s.defaults[toolType]; ok {
		limit = defaults.Limit
		window = defaults.GetWindow()
	}
	if tierLimit, ok := tierPolicy.LimitFor(toolType); ok {
		limit = tierLimit
	}
	if tierPolicy.WindowMs > 0 {
		window = time.Duration(tierPolicy.WindowMs) * time.Millisecond
	}

	if limitOverride > 0 {
		limit = limitOverride
	}
	if windowMsOverride > 0 {
		window = time.Duration(windowMsOverride) * time.Millisecond
	}
	return tier, limit, window
}

func validateToolRequest(identity string, toolType string) error {
	if identity == "" {
		return domain.ErrEmptyIdentity
	}
	if !entity.KnownToolType(toolType) {
		return errors.WithMessagef(domain.ErrUnknownToolType, "'%s'", toolType)
	}
	return nil
}
