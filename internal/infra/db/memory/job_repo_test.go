package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
)

func queuedJob(t *testing.T, r *JobRepo, id string, at time.Time) {
	t.Helper()
	j := model.NewJob(id, model.GenerationRequest{OrgID: "org", Topic: "t"}, model.ModeAsync, at)
	require.NoError(t, j.TransitionTo(model.JobStatusQueued, at))
	require.NoError(t, r.Create(context.Background(), j))
}

func TestJobRepo_CreateGet(t *testing.T) {
	r := NewJobRepo()
	ctx := context.Background()
	j := model.NewJob("j1", model.GenerationRequest{OrgID: "org", Topic: "t"}, model.ModeSync, time.Now())
	require.NoError(t, r.Create(ctx, j))
	assert.ErrorIs(t, r.Create(ctx, j), domain.ErrAlreadyExists)

	got, err := r.Get(ctx, "j1")
	require.NoError(t, err)
	got.Status = model.JobStatusFailed
	again, _ := r.Get(ctx, "j1")
	assert.Equal(t, model.JobStatusPending, again.Status, "Get returns a snapshot")

	_, err = r.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepo_UpdateAbortLeavesJobUntouched(t *testing.T) {
	r := NewJobRepo()
	ctx := context.Background()
	queuedJob(t, r, "j1", time.Now())

	_, err := r.Update(ctx, "j1", func(j *model.Job) error {
		j.Progress = 50
		return domain.ErrStatusConflict
	})
	assert.ErrorIs(t, err, domain.ErrStatusConflict)
	got, _ := r.Get(ctx, "j1")
	assert.Equal(t, 0, got.Progress)
}

func TestJobRepo_ClaimNextOldestFirst(t *testing.T) {
	r := NewJobRepo()
	ctx := context.Background()
	base := time.Now()
	queuedJob(t, r, "late", base.Add(time.Second))
	queuedJob(t, r, "early", base)

	j, err := r.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "early", j.ID)
	assert.Equal(t, model.JobStatusProcessing, j.Status)

	j, err = r.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "late", j.ID)

	_, err = r.ClaimNext(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepo_ClaimNextIsExclusive(t *testing.T) {
	r := NewJobRepo()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		queuedJob(t, r, string(rune('a'+i)), time.Now())
	}

	var claimed atomic.Int32
	seen := sync.Map{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := r.ClaimNext(ctx)
				if err != nil {
					return
				}
				_, dup := seen.LoadOrStore(j.ID, true)
				assert.False(t, dup, "job %s claimed twice", j.ID)
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 20, claimed.Load())
}
