package handlers

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/registry"
)

// errCancelled is a private sentinel a per-target worker returns to signal it
// stopped early because cancel_event fired; RunProviderGroups swallows it
// rather than surfacing it as a handler failure (cooperative cancellation is
// not an error, spec §4.4/§5).
type cancelledErr struct{}

func (cancelledErr) Error() string { return "cancelled" }

// ErrCancelled is returned by per-target worker functions that observed
// cancel_event.Cancelled() and stopped early.
var ErrCancelled error = cancelledErr{}

// RunProviderGroups drives every provider group concurrently but runs each
// group's own targets sequentially, so no single provider endpoint receives
// concurrent requests from this job (spec §4.6: "run provider groups in
// parallel but each provider sequentially, to avoid self-contention on a
// shared endpoint"). fn is invoked once per target, in group order; it must
// poll cancel itself between suspension points.
func RunProviderGroups(ctx context.Context, groups map[string][]ResolvedTarget, keys []string, cancel *registry.CancelEvent, fn func(ctx context.Context, target ResolvedTarget) error) error {
	var wg sync.WaitGroup
	errs := make([]error, len(keys))

	for i, k := range keys {
		i, k := i, k
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, t := range groups[k] {
				if cancel.Cancelled() {
					errs[i] = ErrCancelled
					return
				}
				if err := fn(ctx, t); err != nil {
					errs[i] = err
					return
				}
			}
		}()
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil && e != ErrCancelled {
			return e
		}
	}
	return nil
}

// ProgressCounter tracks completed/total units across concurrent provider
// goroutines and renders a 0-100 percentage, guarding the shared counter with
// an atomic so concurrent fire-and-forget progress_cb calls (spec §4.4) never
// race (spec §5: "no handler work is CPU-bound... guard shared mutable
// state").
type ProgressCounter struct {
	done  atomic.Int64
	total int64
}

// NewProgressCounter constructs a counter over `total` units of work. A
// total of 0 always reports 100.
func NewProgressCounter(total int) *ProgressCounter {
	return &ProgressCounter{total: int64(total)}
}

// Increment advances the counter by one unit and returns the resulting
// percentage.
func (p *ProgressCounter) Increment() int {
	done := p.done.Add(1)
	if p.total <= 0 {
		return 100
	}
	pct := int(done * 100 / p.total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// semaphore is a trivial counting semaphore used to bound concurrent judge
// calls (spec §4.6.2/§4.6.5: "semaphore-bounded pool").
type semaphore chan struct{}

func newSemaphore(n int) semaphore {
	if n < 1 {
		n = 1
	}
	return make(semaphore, n)
}

func (s semaphore) acquire() { s <- struct{}{} }
func (s semaphore) release() { <-s }
