package service_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/txix-open/isp-kit/test"
	"syd-quota-service/conf"
	"syd-quota-service/domain"
	"syd-quota-service/entity"
	"syd-quota-service/metrics"
	"syd-quota-service/service"
)

const day = 24 * time.Hour

type fakeQuotaRepo struct {
	mu      sync.Mutex
	records map[string]*entity.QuotaRecord
	now     time.Time
}

func newFakeQuotaRepo() *fakeQuotaRepo {
	return &fakeQuotaRepo{
		records: map[string]*entity.QuotaRecord{},
		now:     time.Now(),
	}
}

func (f *fakeQuotaRepo) Update(
	ctx context.Context,
	identity string,
	toolType string,
	decide func(record *entity.QuotaRecord, now time.Time) (*entity.QuotaRecord, error),
) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := identity + "/" + toolType
	var current *entity.QuotaRecord
	if record, ok := f.records[key]; ok {
		clone := *record
		clone.Calls = slices.Clone(record.Calls)
		current = &clone
	}
	next, err := decide(current, f.now)
	if err != nil {
		return err
	}
	if next != nil {
		f.records[key] = next
	}
	return nil
}

func (f *fakeQuotaRepo) All(ctx context.Context, identity string) (map[string]*entity.QuotaRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make(map[string]*entity.QuotaRecord)
	for _, toolType := range []string{entity.ToolRender, entity.ToolQuote, entity.ToolMarketPrices} {
		if record, ok := f.records[identity+"/"+toolType]; ok {
			result[toolType] = record
		}
	}
	return result, nil
}

func (f *fakeQuotaRepo) DeleteExpired(ctx context.Context, olderThan time.Time, batchSize int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	deleted := 0
	for key, record := range f.records {
		if deleted >= batchSize {
			break
		}
		if record.WindowStart.Before(olderThan) {
			delete(f.records, key)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeQuotaRepo) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fakeQuotaRepo) setNow(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

func (f *fakeQuotaRepo) count(identity string, toolType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[identity+"/"+toolType]
	if !ok {
		return -1
	}
	return record.Count
}

type staticTiers map[string]string

func (s staticTiers) Resolve(ctx context.Context, identity string) string {
	tier, ok := s[identity]
	if !ok {
		return domain.TierGuest
	}
	return tier
}

func newQuotaService(t *testing.T, repo *fakeQuotaRepo, tiers staticTiers) service.Quota {
	testInstance, _ := test.New(t)
	return service.NewQuota(
		repo,
		tiers,
		conf.Tiers{
			Guest: conf.TierPolicy{
				WindowMs: (2 * day).Milliseconds(),
				Limits:   []conf.ToolLimit{{ToolType: entity.ToolRender, Limit: 1}},
			},
			Registered: conf.TierPolicy{
				WindowMs: day.Milliseconds(),
				Limits:   []conf.ToolLimit{{ToolType: entity.ToolRender, Limit: 2}},
			},
		},
		[]conf.ToolQuota{
			{ToolType: entity.ToolRender, Limit: 2},
			{ToolType: entity.ToolQuote, Limit: 2},
			{ToolType: entity.ToolMarketPrices, Limit: 5},
		},
		conf.Cleanup{},
		metrics.NewStorage(),
		testInstance.Logger(),
	)
}

func TestQuotaLifecycle(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := context.Background()

	repo := newFakeQuotaRepo()
	quota := newQuotaService(t, repo, staticTiers{})
	req := domain.CheckQuotaRequest{Identity: "ip-A", ToolType: entity.ToolRender, Limit: 2, WindowMs: day.Milliseconds()}

	result, err := quota.Check(ctx, req)
	require.NoError(err)
	require.True(result.Allowed)
	require.EqualValues(2, result.Remaining)
	require.EqualValues(0, result.CurrentCount)

	err = quota.Increment(ctx, domain.IncrementQuotaRequest{Identity: "ip-A", ToolType: entity.ToolRender})
	require.NoError(err)

	result, err = quota.Check(ctx, req)
	require.NoError(err)
	require.True(result.Allowed)
	require.EqualValues(1, result.Remaining)
	require.EqualValues(1, result.CurrentCount)

	err = quota.Increment(ctx, domain.IncrementQuotaRequest{Identity: "ip-A", ToolType: entity.ToolRender})
	require.NoError(err)

	result, err = quota.Check(ctx, req)
	require.NoError(err)
	require.False(result.Allowed)
	require.EqualValues(0, result.Remaining)
	require.EqualValues(2, result.CurrentCount)
}

func TestQuotaWindowRollover(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := context.Background()

	repo := newFakeQuotaRepo()
	quota := newQuotaService(t, repo, staticTiers{})
	req := domain.CheckQuotaRequest{Identity: "ip-A", ToolType: entity.ToolRender, Limit: 1, WindowMs: day.Milliseconds()}

	_, err := quota.Check(ctx, req)
	require.NoError(err)
	err = quota.Increment(ctx, domain.IncrementQuotaRequest{Identity: "ip-A", ToolType: entity.ToolRender})
	require.NoError(err)

	repo.advance(day - time.Millisecond)
	result, err := quota.Check(ctx, req)
	require.NoError(err)
	require.False(result.Allowed)
	require.EqualValues(1, result.CurrentCount)

	repo.advance(time.Millisecond)
	result, err = quota.Check(ctx, req)
	require.NoError(err)
	require.True(result.Allowed)
	require.EqualValues(1, result.Remaining)
	require.EqualValues(0, result.CurrentCount)
}

func TestQuotaCheckIsSideEffectFree(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := context.Background()

	repo := newFakeQuotaRepo()
	quota := newQuotaService(t, repo, staticTiers{})
	req := domain.CheckQuotaRequest{Identity: "ip-A", ToolType: entity.ToolQuote, Limit: 2}

	for i := 0; i < 10; i++ {
		result, err := quota.Check(ctx, req)
		require.NoError(err)
		require.True(result.Allowed)
		require.EqualValues(0, result.CurrentCount)
	}
	require.EqualValues(0, repo.count("ip-A", entity.ToolQuote))
}

func TestQuotaIncrementWithoutCheck(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := context.Background()

	repo := newFakeQuotaRepo()
	quota := newQuotaService(t, repo, staticTiers{})

	err := quota.Increment(ctx, domain.IncrementQuotaRequest{
		Identity: "ip-B",
		ToolType: entity.ToolRender,
		Metadata: entity.CallMetadata{RoomType: "kitchen"},
	})
	require.NoError(err)
	require.EqualValues(1, repo.count("ip-B", entity.ToolRender))

	stats, err := quota.Stats(ctx, "ip-B")
	require.NoError(err)
	require.Len(stats, 1)
	require.Len(stats[entity.ToolRender].Calls, 1)
	require.EqualValues("kitchen", stats[entity.ToolRender].Calls[0].Metadata.RoomType)
}

func TestQuotaTierIsolation(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := context.Background()

	repo := newFakeQuotaRepo()
	quota := newQuotaService(t, repo, staticTiers{"user-1": domain.TierRegistered})

	// guests exhaust after one render, the registered user after two,
	// all under the same tool type bucket
	for _, guest := range []string{"guest-1", "guest-2"} {
		result, err := quota.Check(ctx, domain.CheckQuotaRequest{Identity: guest, ToolType: entity.ToolRender})
		require.NoError(err)
		require.True(result.Allowed)
		require.EqualValues(domain.TierGuest, result.Tier)
		require.EqualValues(1, result.Remaining)

		err = quota.Increment(ctx, domain.IncrementQuotaRequest{Identity: guest, ToolType: entity.ToolRender})
		require.NoError(err)

		result, err = quota.Check(ctx, domain.CheckQuotaRequest{Identity: guest, ToolType: entity.ToolRender})
		require.NoError(err)
		require.False(result.Allowed)
	}

	for i := 0; i < 2; i++ {
		result, err := quota.Check(ctx, domain.CheckQuotaRequest{Identity: "user-1", ToolType: entity.ToolRender})
		require.NoError(err)
		require.True(result.Allowed)
		require.EqualValues(domain.TierRegistered, result.Tier)

		err = quota.Increment(ctx, domain.IncrementQuotaRequest{Identity: "user-1", ToolType: entity.ToolRender})
		require.NoError(err)
	}
	result, err := quota.Check(ctx, domain.CheckQuotaRequest{Identity: "user-1", ToolType: entity.ToolRender})
	require.NoError(err)
	require.False(result.Allowed)
}

func TestQuotaInvalidInput(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := context.Background()

	repo := newFakeQuotaRepo()
	quota := newQuotaService(t, repo, staticTiers{})

	_, err := quota.Check(ctx, domain.CheckQuotaRequest{Identity: "  ", ToolType: entity.ToolRender})
	require.ErrorIs(err, domain.ErrEmptyIdentity)

	_, err = quota.Check(ctx, domain.CheckQuotaRequest{Identity: "ip-A", ToolType: "teleport"})
	require.ErrorIs(err, domain.ErrUnknownToolType)

	err = quota.Increment(ctx, domain.IncrementQuotaRequest{Identity: "ip-A", ToolType: "teleport"})
	require.ErrorIs(err, domain.ErrUnknownToolType)

	_, err = quota.Stats(ctx, "")
	require.ErrorIs(err, domain.ErrEmptyIdentity)
}

func TestQuotaStatsForUnknownIdentity(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := context.Background()

	repo := newFakeQuotaRepo()
	quota := newQuotaService(t, repo, staticTiers{})

	stats, err := quota.Stats(ctx, "never-seen")
	require.NoError(err)
	require.Nil(stats)
}

func TestQuotaIncrementPastLimit(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := context.Background()

	repo := newFakeQuotaRepo()
	quota := newQuotaService(t, repo, staticTiers{})

	// increment does not enforce the ceiling, only check does
	for i := 0; i < 4; i++ {
		err := quota.Increment(ctx, domain.IncrementQuotaRequest{Identity: "ip-C", ToolType: entity.ToolRender})
		require.NoError(err)
	}
	require.EqualValues(4, repo.count("ip-C", entity.ToolRender))

	result, err := quota.Check(ctx, domain.CheckQuotaRequest{Identity: "ip-C", ToolType: entity.ToolRender, Limit: 2})
	require.NoError(err)
	require.False(result.Allowed)
}

func TestQuotaCleanupExpired(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := context.Background()

	repo := newFakeQuotaRepo()
	quota := newQuotaService(t, repo, staticTiers{})

	repo.setNow(time.Now().Add(-50 * time.Hour))
	err := quota.Increment(ctx, domain.IncrementQuotaRequest{Identity: "old", ToolType: entity.ToolRender})
	require.NoError(err)

	repo.setNow(time.Now())
	err = quota.Increment(ctx, domain.IncrementQuotaRequest{Identity: "fresh", ToolType: entity.ToolRender})
	require.NoError(err)

	deleted, err := quota.CleanupExpired(ctx)
	require.NoError(err)
	require.EqualValues(1, deleted)
	require.EqualValues(-1, repo.count("old", entity.ToolRender))
	require.EqualValues(1, repo.count("fresh", entity.ToolRender))
}
