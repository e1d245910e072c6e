package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/ezmove/internal/db/dbtest"
	"github.com/example/ezmove/internal/job/domain"
	"github.com/example/ezmove/internal/job/repository"
)

func TestPostgresRepositoryLifecycle(t *testing.T) {
	pool, _ := dbtest.StartPostgres(t)
	repo := repository.NewPostgresRepository(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	client := uuid.New()
	job, err := repo.CreateJob(ctx, domain.Job{
		ID:        uuid.New(),
		Number:    "JOB1700000000000123",
		ClientID:  client,
		Pickup:    domain.Point{Lat: 52.52, Lng: 13.405, Address: "Alexanderplatz"},
		Delivery:  domain.Point{Lat: 52.50, Lng: 13.37},
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)

	fetched, err := repo.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, "Alexanderplatz", fetched.Pickup.Address)
	require.Nil(t, fetched.DriverID)
	require.EqualValues(t, 1, fetched.Version)

	driver := uuid.New()
	fetched.DriverID = &driver
	fetched.Status = domain.StatusAccepted
	fetched.AcceptedAt = &now
	updated, err := repo.UpdateJob(ctx, fetched)
	require.NoError(t, err)
	require.EqualValues(t, 2, updated.Version)

	_, err = repo.UpdateJob(ctx, fetched)
	require.ErrorIs(t, err, repository.ErrVersionConflict)

	linked, err := repo.HasJobLinking(ctx, driver, client)
	require.NoError(t, err)
	require.True(t, linked)

	linked, err = repo.HasJobLinking(ctx, driver, uuid.New())
	require.NoError(t, err)
	require.False(t, linked)

	_, err = repo.GetJobByID(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrJobNotFound)
}
