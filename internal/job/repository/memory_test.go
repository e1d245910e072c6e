package repository_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/ezmove/internal/job/domain"
	"github.com/example/ezmove/internal/job/repository"
)

func TestMemoryRepositoryVersioning(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	job, err := repo.CreateJob(ctx, domain.Job{ID: uuid.New(), ClientID: uuid.New(), Status: domain.StatusPending})
	require.NoError(t, err)
	require.EqualValues(t, 1, job.Version)

	job.Status = domain.StatusAccepted
	updated, err := repo.UpdateJob(ctx, job)
	require.NoError(t, err)
	require.EqualValues(t, 2, updated.Version)

	_, err = repo.UpdateJob(ctx, job)
	require.ErrorIs(t, err, repository.ErrVersionConflict)

	_, err = repo.GetJobByID(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestMemoryRepositoryHasJobLinking(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	client, driver, stranger := uuid.New(), uuid.New(), uuid.New()
	_, err := repo.CreateJob(ctx, domain.Job{ID: uuid.New(), ClientID: client, DriverID: &driver, Status: domain.StatusInProgress})
	require.NoError(t, err)

	ok, err := repo.HasJobLinking(ctx, driver, client)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.HasJobLinking(ctx, driver, driver)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.HasJobLinking(ctx, driver, stranger)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.HasJobLinking(ctx, stranger, client)
	require.NoError(t, err)
	require.False(t, ok)
}
