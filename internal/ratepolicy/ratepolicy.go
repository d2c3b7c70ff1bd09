// Package ratepolicy implements the two independent submission-time checks
// the job registry consults before deciding to run, queue, or reject a job:
// an hourly quota over durable job rows and an in-memory concurrency quota.
//
// Grounded on spec.md §4.3, unchanged from the distilled spec; the ambient
// shape (small stateless policy struct backed by the store) follows tarsy's
// pkg/config-style "load defaults, allow per-entity override" pattern.
package ratepolicy

import (
	"context"
	"time"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

// DefaultBenchmarksPerHour is the hourly submission quota absent an override.
const DefaultBenchmarksPerHour = 20

// DefaultMaxConcurrent is the concurrent-job quota absent an override.
const DefaultMaxConcurrent = 1

// JobCounter supplies the hourly count check; *store.Store satisfies it via
// Jobs().CountCreatedSince.
type JobCounter interface {
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// OverrideSource supplies a user's rate-limit override row, if any.
type OverrideSource interface {
	GetRateLimitOverride(ctx context.Context, userID string) (*models.RateLimitOverride, error)
}

// Policy evaluates submission quotas. It does not itself reject or queue —
// that decision belongs to the Job Registry (C4); Policy only returns a
// signal (spec §4.3: "exceeding either is not an error in C3").
type Policy struct {
	jobs      JobCounter
	overrides OverrideSource
}

// New constructs a Policy backed by the given store-like dependencies.
func New(jobs JobCounter, overrides OverrideSource) *Policy {
	return &Policy{jobs: jobs, overrides: overrides}
}

// Limits is the resolved (possibly overridden) quota pair for a user.
type Limits struct {
	BenchmarksPerHour int
	MaxConcurrent     int
}

// ResolveLimits returns the effective limits for userID, falling back to
// defaults for any field the user has not overridden.
func (p *Policy) ResolveLimits(ctx context.Context, userID string) (Limits, error) {
	limits := Limits{BenchmarksPerHour: DefaultBenchmarksPerHour, MaxConcurrent: DefaultMaxConcurrent}
	override, err := p.overrides.GetRateLimitOverride(ctx, userID)
	if err != nil {
		return limits, err
	}
	if override == nil {
		return limits, nil
	}
	if override.BenchmarksPerHour != nil {
		limits.BenchmarksPerHour = *override.BenchmarksPerHour
	}
	if override.MaxConcurrent != nil {
		limits.MaxConcurrent = *override.MaxConcurrent
	}
	return limits, nil
}

// AllowHourly reports whether userID may submit another job this hour.
func (p *Policy) AllowHourly(ctx context.Context, userID string, now time.Time) (bool, error) {
	limits, err := p.ResolveLimits(ctx, userID)
	if err != nil {
		return false, err
	}
	count, err := p.jobs.CountCreatedSince(ctx, userID, now.Add(-time.Hour))
	if err != nil {
		return false, err
	}
	return count < limits.BenchmarksPerHour, nil
}

// AllowConcurrency reports whether userID has a free concurrency slot, given
// activeCount already held under the registry's mutex — this function does
// not itself hold that lock; the caller must have it (spec §4.3: "enforced
// by the Job Registry under a mutex held across the check-and-decide step").
func (p *Policy) AllowConcurrency(ctx context.Context, userID string, activeCount int) (bool, error) {
	limits, err := p.ResolveLimits(ctx, userID)
	if err != nil {
		return false, err
	}
	return activeCount < limits.MaxConcurrent, nil
}
