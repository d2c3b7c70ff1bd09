package registry_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/registry"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(context.Background(), filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestUser(t *testing.T, st *store.Store) string {
	t.Helper()
	u := models.User{ID: store.NewID(), Email: store.NewID() + "@example.com", PasswordHash: "x", Role: models.RoleUser, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.Users().Create(context.Background(), u))
	return u.ID
}

// TestSubmitQueuesSecondJobUnderConcurrencyLimit is the spec §8 S1 scenario:
// a max_concurrent=1 user submitting two jobs back to back runs the first
// immediately and queues the second.
func TestSubmitQueuesSecondJobUnderConcurrencyLimit(t *testing.T) {
	st := newTestStore(t)
	userID := newTestUser(t, st)
	reg := registry.New(st, nil, func(ctx context.Context, userID string) int { return 1 })

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	reg.RegisterHandler(models.JobTypeBenchmark, func(ctx context.Context, jobID string, params json.RawMessage, cancel *registry.CancelEvent, progress registry.ProgressFunc) (string, error) {
		started <- struct{}{}
		<-release
		return "", nil
	})

	j1, err := reg.Submit(context.Background(), userID, models.JobTypeBenchmark, json.RawMessage(`{}`), 0, "")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, j1.Status)

	j2, err := reg.Submit(context.Background(), userID, models.JobTypeBenchmark, json.RawMessage(`{}`), 0, "")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, j2.Status)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("handler for first job never started")
	}

	got, err := st.Jobs().Get(context.Background(), j2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)

	close(release)

	require.Eventually(t, func() bool {
		got, err := st.Jobs().Get(context.Background(), j2.ID)
		return err == nil && got.Status == models.JobStatusRunning
	}, time.Second, 10*time.Millisecond)
}

// TestCancelRunningJobSetsEventAndFinalizesCancelled covers spec §8 invariant
// 4: after cancel on a running job followed by handler return, the final
// status is cancelled and the job is no longer tracked as running.
func TestCancelRunningJobSetsEventAndFinalizesCancelled(t *testing.T) {
	st := newTestStore(t)
	userID := newTestUser(t, st)
	reg := registry.New(st, nil, func(ctx context.Context, userID string) int { return 1 })

	handlerDone := make(chan struct{})
	reg.RegisterHandler(models.JobTypeBenchmark, func(ctx context.Context, jobID string, params json.RawMessage, cancel *registry.CancelEvent, progress registry.ProgressFunc) (string, error) {
		defer close(handlerDone)
		<-cancel.Done()
		return "", nil
	})

	job, err := reg.Submit(context.Background(), userID, models.JobTypeBenchmark, json.RawMessage(`{}`), 0, "")
	require.NoError(t, err)

	wasOrphan, err := reg.Cancel(context.Background(), job.ID, userID, false)
	require.NoError(t, err)
	assert.False(t, wasOrphan)

	select {
	case <-handlerDone:
	case <-time.After(time.Second):
		t.Fatal("handler never observed cancellation")
	}

	require.Eventually(t, func() bool {
		got, err := st.Jobs().Get(context.Background(), job.ID)
		return err == nil && got.Status == models.JobStatusCancelled
	}, time.Second, 10*time.Millisecond)
}

// TestCancelGhostRunningJobInterruptsAndReportsOrphan covers spec §8 S3: a
// running job with no in-memory cancel event (simulating a post-restart
// ghost) is forced to interrupted and reported as an orphan.
func TestCancelGhostRunningJobInterruptsAndReportsOrphan(t *testing.T) {
	st := newTestStore(t)
	userID := newTestUser(t, st)
	reg := registry.New(st, nil, func(ctx context.Context, userID string) int { return 1 })

	job := models.Job{ID: store.NewID(), UserID: userID, JobType: models.JobTypeParamTune, Status: models.JobStatusRunning, CreatedAt: time.Now().UTC(), TimeoutSeconds: 7200}
	require.NoError(t, st.Jobs().Create(context.Background(), job))
	require.NoError(t, st.Jobs().StartRunning(context.Background(), job.ID, job.TimeoutSeconds))

	wasOrphan, err := reg.Cancel(context.Background(), job.ID, userID, true)
	require.NoError(t, err)
	assert.True(t, wasOrphan)

	got, err := st.Jobs().Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusInterrupted, got.Status)
}

// TestCancelRefusesForNonOwnerNonAdmin covers the ownership check in cancel.
func TestCancelRefusesForNonOwnerNonAdmin(t *testing.T) {
	st := newTestStore(t)
	owner := newTestUser(t, st)
	other := newTestUser(t, st)
	reg := registry.New(st, nil, func(ctx context.Context, userID string) int { return 1 })
	reg.RegisterHandler(models.JobTypeBenchmark, func(ctx context.Context, jobID string, params json.RawMessage, cancel *registry.CancelEvent, progress registry.ProgressFunc) (string, error) {
		<-cancel.Done()
		return "", nil
	})

	job, err := reg.Submit(context.Background(), owner, models.JobTypeBenchmark, json.RawMessage(`{}`), 0, "")
	require.NoError(t, err)

	_, err = reg.Cancel(context.Background(), job.ID, other, false)
	assert.ErrorIs(t, err, models.ErrNotCancellable)

	_, _ = reg.Cancel(context.Background(), job.ID, owner, false)
}
