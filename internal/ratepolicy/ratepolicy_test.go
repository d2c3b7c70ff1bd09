package ratepolicy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/ratepolicy"
)

type fakeJobs struct {
	count int
}

func (f *fakeJobs) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return f.count, nil
}

type fakeOverrides struct {
	override *models.RateLimitOverride
}

func (f *fakeOverrides) GetRateLimitOverride(ctx context.Context, userID string) (*models.RateLimitOverride, error) {
	return f.override, nil
}

func TestResolveLimitsFallsBackToDefaultsWithoutOverride(t *testing.T) {
	p := ratepolicy.New(&fakeJobs{}, &fakeOverrides{})
	limits, err := p.ResolveLimits(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, ratepolicy.DefaultBenchmarksPerHour, limits.BenchmarksPerHour)
	assert.Equal(t, ratepolicy.DefaultMaxConcurrent, limits.MaxConcurrent)
}

func TestResolveLimitsAppliesPartialOverride(t *testing.T) {
	n := 5
	p := ratepolicy.New(&fakeJobs{}, &fakeOverrides{override: &models.RateLimitOverride{BenchmarksPerHour: &n}})
	limits, err := p.ResolveLimits(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, limits.BenchmarksPerHour)
	assert.Equal(t, ratepolicy.DefaultMaxConcurrent, limits.MaxConcurrent)
}

func TestAllowHourlyRejectsAtQuota(t *testing.T) {
	p := ratepolicy.New(&fakeJobs{count: ratepolicy.DefaultBenchmarksPerHour}, &fakeOverrides{})
	allowed, err := p.AllowHourly(context.Background(), "u1", time.Now())
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestAllowHourlyAllowsUnderQuota(t *testing.T) {
	p := ratepolicy.New(&fakeJobs{count: ratepolicy.DefaultBenchmarksPerHour - 1}, &fakeOverrides{})
	allowed, err := p.AllowHourly(context.Background(), "u1", time.Now())
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestAllowConcurrencyUsesCallerSuppliedActiveCount(t *testing.T) {
	p := ratepolicy.New(&fakeJobs{}, &fakeOverrides{})
	allowed, err := p.AllowConcurrency(context.Background(), "u1", ratepolicy.DefaultMaxConcurrent)
	require.NoError(t, err)
	assert.False(t, allowed)
}
