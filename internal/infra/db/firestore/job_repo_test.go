//go:build integration

package firestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
)

// setupEmulator starts the Firestore emulator and points the SDK at it.
func setupEmulator(t *testing.T) *JobRepo {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "gcr.io/google.com/cloudsdktool/google-cloud-cli:emulators",
		ExposedPorts: []string{"8080/tcp"},
		Cmd: []string{"gcloud", "beta", "emulators", "firestore", "start",
			"--host-port=0.0.0.0:8080", "--project=pipeline-test"},
		WaitingFor: wait.ForLog("Dev App Server is now running").WithStartupTimeout(90 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	t.Setenv("FIRESTORE_EMULATOR_HOST", endpoint)

	client, err := NewClient(ctx, "pipeline-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewJobRepo(client, "jobs_"+time.Now().Format("150405.000"))
}

func TestJobRepo_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	repo := setupEmulator(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	j := model.NewJob("job-1", model.GenerationRequest{OrgID: "org-a", Topic: "t"}, model.ModeAsync, now)
	require.NoError(t, repo.Create(ctx, j))
	assert.ErrorIs(t, repo.Create(ctx, j), domain.ErrAlreadyExists)

	_, err := repo.Update(ctx, "job-1", func(j *model.Job) error {
		return j.TransitionTo(model.JobStatusQueued, now)
	})
	require.NoError(t, err)

	_, err = repo.Update(ctx, "job-1", func(*model.Job) error { return domain.ErrStatusConflict })
	assert.ErrorIs(t, err, domain.ErrStatusConflict)

	claimed, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", claimed.ID)
	assert.Equal(t, model.JobStatusProcessing, claimed.Status)

	_, err = repo.ClaimNext(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, got.Status)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
