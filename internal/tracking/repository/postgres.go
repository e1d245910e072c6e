package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/ezmove/internal/tracking/domain"
)

// TopicTrackingPoints is the outbox topic of recorded tracking points.
const TopicTrackingPoints = "tracking.points"

// PostgresProfileStore writes live-location fields of the driver_profiles table.
type PostgresProfileStore struct {
	pool *pgxpool.Pool
}

func NewPostgresProfileStore(pool *pgxpool.Pool) *PostgresProfileStore {
	return &PostgresProfileStore{pool: pool}
}

// UpdateLocation upserts so a driver without a profile row still gets a fallback position.
func (s *PostgresProfileStore) UpdateLocation(ctx context.Context, loc domain.DriverLocation) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO driver_profiles (user_id, current_latitude, current_longitude, last_location_update)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (user_id) DO UPDATE SET
		current_latitude = EXCLUDED.current_latitude,
		current_longitude = EXCLUDED.current_longitude,
		last_location_update = EXCLUDED.last_location_update`,
		loc.DriverID, loc.Latitude, loc.Longitude, loc.Timestamp)
	if err != nil {
		return fmt.Errorf("update driver profile location: %w", err)
	}
	return nil
}

// GetLocation returns false when the profile is missing or has never reported a position.
func (s *PostgresProfileStore) GetLocation(ctx context.Context, driverID uuid.UUID) (domain.DriverLocation, bool, error) {
	var (
		lat, lng *float64
		updated  *time.Time
	)
	err := s.pool.QueryRow(ctx, `SELECT current_latitude, current_longitude, last_location_update
	FROM driver_profiles WHERE user_id = $1`, driverID).Scan(&lat, &lng, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DriverLocation{}, false, nil
	}
	if err != nil {
		return domain.DriverLocation{}, false, fmt.Errorf("select driver profile location: %w", err)
	}
	if lat == nil || lng == nil {
		return domain.DriverLocation{}, false, nil
	}
	loc := domain.DriverLocation{DriverID: driverID, Latitude: *lat, Longitude: *lng}
	if updated != nil {
		loc.Timestamp = updated.UTC()
	}
	return loc, true, nil
}

// PostgresPointLog stores tracking points and queues them for the outbox relay.
type PostgresPointLog struct {
	pool *pgxpool.Pool
}

func NewPostgresPointLog(pool *pgxpool.Pool) *PostgresPointLog {
	return &PostgresPointLog{pool: pool}
}

// Append inserts the point and its outbox record in one transaction.
func (l *PostgresPointLog) Append(ctx context.Context, point domain.TrackingPoint) error {
	payload, err := json.Marshal(point)
	if err != nil {
		return fmt.Errorf("marshal tracking point: %w", err)
	}
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO job_tracking
			(id, job_id, latitude, longitude, accuracy, heading, speed, status, notes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)`,
			point.ID, point.JobID, point.Latitude, point.Longitude,
			point.Accuracy, point.Heading, point.Speed, point.Status, point.Notes, point.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert tracking point: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2)`, TopicTrackingPoints, payload); err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}
		return nil
	})
}

func (l *PostgresPointLog) ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.TrackingPoint, error) {
	rows, err := l.pool.Query(ctx, `SELECT id, job_id, latitude, longitude, accuracy, heading, speed,
		COALESCE(status, ''), COALESCE(notes, ''), created_at
	FROM job_tracking WHERE job_id = $1 ORDER BY created_at ASC, seq ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("select tracking points: %w", err)
	}
	defer rows.Close()

	var points []domain.TrackingPoint
	for rows.Next() {
		var p domain.TrackingPoint
		if err := rows.Scan(&p.ID, &p.JobID, &p.Latitude, &p.Longitude, &p.Accuracy, &p.Heading, &p.Speed,
			&p.Status, &p.Notes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tracking point: %w", err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracking points: %w", err)
	}
	return points, nil
}
