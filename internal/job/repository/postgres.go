package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/ezmove/internal/job/domain"
)

const jobColumns = `id, job_number, client_id, driver_id,
	COALESCE(pickup_address, ''), pickup_latitude, pickup_longitude,
	COALESCE(delivery_address, ''), delivery_latitude, delivery_longitude,
	COALESCE(vehicle_type, ''), distance_km, estimated_duration_minutes, status,
	created_at, updated_at, accepted_at, started_at, completed_at, cancelled_at,
	COALESCE(cancellation_reason, ''), version`

// PostgresRepository persists jobs in the jobs table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateJob(ctx context.Context, job domain.Job) (domain.Job, error) {
	if job.Version == 0 {
		job.Version = 1
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO jobs (
		id, job_number, client_id, driver_id,
		pickup_address, pickup_latitude, pickup_longitude,
		delivery_address, delivery_latitude, delivery_longitude,
		vehicle_type, distance_km, estimated_duration_minutes, status,
		created_at, updated_at, version
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		job.ID, job.Number, job.ClientID, job.DriverID,
		job.Pickup.Address, job.Pickup.Lat, job.Pickup.Lng,
		job.Delivery.Address, job.Delivery.Lat, job.Delivery.Lng,
		job.VehicleType, job.DistanceKM, job.EstimatedDurationMinutes, string(job.Status),
		job.CreatedAt, job.UpdatedAt, job.Version,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (r *PostgresRepository) GetJobByID(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// UpdateJob writes mutable fields when the stored version matches job.Version.
func (r *PostgresRepository) UpdateJob(ctx context.Context, job domain.Job) (domain.Job, error) {
	var version int64
	err := r.pool.QueryRow(ctx, `UPDATE jobs SET
		driver_id = $2, status = $3, updated_at = $4,
		accepted_at = $5, started_at = $6, completed_at = $7, cancelled_at = $8,
		cancellation_reason = NULLIF($9, ''), version = version + 1
	WHERE id = $1 AND version = $10
	RETURNING version`,
		job.ID, job.DriverID, string(job.Status), job.UpdatedAt,
		job.AcceptedAt, job.StartedAt, job.CompletedAt, job.CancelledAt,
		job.CancellationReason, job.Version,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetJobByID(ctx, job.ID); getErr != nil {
			return domain.Job{}, getErr
		}
		return domain.Job{}, ErrVersionConflict
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job: %w", err)
	}
	job.Version = version
	return job, nil
}

func (r *PostgresRepository) HasJobLinking(ctx context.Context, driverID, participantID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM jobs WHERE driver_id = $1 AND (client_id = $2 OR driver_id = $2)
	)`, driverID, participantID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("select job link: %w", err)
	}
	return exists, nil
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var (
		job    domain.Job
		status string
	)
	err := row.Scan(
		&job.ID, &job.Number, &job.ClientID, &job.DriverID,
		&job.Pickup.Address, &job.Pickup.Lat, &job.Pickup.Lng,
		&job.Delivery.Address, &job.Delivery.Lat, &job.Delivery.Lng,
		&job.VehicleType, &job.DistanceKM, &job.EstimatedDurationMinutes, &status,
		&job.CreatedAt, &job.UpdatedAt, &job.AcceptedAt, &job.StartedAt, &job.CompletedAt, &job.CancelledAt,
		&job.CancellationReason, &job.Version,
	)
	job.Status = domain.Status(status)
	return job, err
}
