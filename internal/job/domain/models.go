package domain

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job state transition")
	ErrDriverMismatch    = errors.New("driver not assigned to job")
	ErrNotParticipant    = errors.New("not a participant of job")
)

var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s Status) CanTransitionTo(next Status) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Point struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

type Job struct {
	ID          uuid.UUID  `json:"id"`
	Number      string     `json:"jobNumber"`
	ClientID    uuid.UUID  `json:"clientId"`
	DriverID    *uuid.UUID `json:"driverId,omitempty"`
	Pickup      Point      `json:"pickup"`
	Delivery    Point      `json:"delivery"`
	VehicleType string     `json:"vehicleType,omitempty"`

	DistanceKM               float64 `json:"distanceKm"`
	EstimatedDurationMinutes int     `json:"estimatedDurationMinutes"`

	Status             Status     `json:"status"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	AcceptedAt         *time.Time `json:"acceptedAt,omitempty"`
	StartedAt          *time.Time `json:"startedAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`
	CancellationReason string     `json:"cancellationReason,omitempty"`
	Version            int64      `json:"version"`
}

// AssignedTo reports whether driverID is the driver on the job.
func (j Job) AssignedTo(driverID uuid.UUID) bool {
	return j.DriverID != nil && *j.DriverID == driverID
}

// IsParticipant reports whether userID is the job's client or assigned driver.
func (j Job) IsParticipant(userID uuid.UUID) bool {
	return j.ClientID == userID || j.AssignedTo(userID)
}

// NewJobNumber formats the human-facing job reference: "JOB", unix millis, three random digits.
func NewJobNumber(now time.Time, rnd *rand.Rand) string {
	return fmt.Sprintf("JOB%d%03d", now.UnixMilli(), rnd.Intn(1000))
}

type EventType string

const (
	EventJobCreated   EventType = "JobCreated"
	EventJobAccepted  EventType = "JobAccepted"
	EventJobStarted   EventType = "JobStarted"
	EventJobCompleted EventType = "JobCompleted"
	EventJobCancelled EventType = "JobCancelled"
)

type Event struct {
	JobID     uuid.UUID      `json:"jobId"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

type Repository interface {
	CreateJob(ctx context.Context, job Job) (Job, error)
	GetJobByID(ctx context.Context, id uuid.UUID) (Job, error)
	UpdateJob(ctx context.Context, job Job) (Job, error)
	// HasJobLinking reports whether some job has driverID as driver and participantID as its client or driver.
	HasJobLinking(ctx context.Context, driverID, participantID uuid.UUID) (bool, error)
}

type IdempotencyRepository interface {
	GetResponse(ctx context.Context, key string) ([]byte, bool, error)
	PutResponse(ctx context.Context, key string, payload []byte) error
}

type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
