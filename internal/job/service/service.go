package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/example/ezmove/internal/auth"
	etasvc "github.com/example/ezmove/internal/eta/service"
	"github.com/example/ezmove/internal/job/domain"
)

// ErrInvalidRequest marks create payloads that fail validation.
var ErrInvalidRequest = errors.New("invalid job request")

// Service coordinates job lifecycle operations between handlers and repositories.
type Service struct {
	repo       domain.Repository
	events     domain.EventPublisher
	eta        *etasvc.Service
	clock      domain.Clock
	idempotent domain.IdempotencyRepository

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// New constructs a Service with the required collaborators. events and idem may be nil.
func New(repo domain.Repository, events domain.EventPublisher, eta *etasvc.Service, clock domain.Clock, idem domain.IdempotencyRepository) *Service {
	if eta == nil {
		eta = etasvc.New(0, clock.Now)
	}
	return &Service{
		repo:       repo,
		events:     events,
		eta:        eta,
		clock:      clock,
		idempotent: idem,
		rnd:        rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
}

// CreateJobRequest contains the request payload for posting a job.
type CreateJobRequest struct {
	ClientID    uuid.UUID
	Pickup      domain.Point
	Delivery    domain.Point
	VehicleType string
}

// CreateJob posts a new pending job. Repeated calls with the same key return the first job.
func (s *Service) CreateJob(ctx context.Context, key string, req CreateJobRequest) (domain.Job, error) {
	if err := validateCreate(req); err != nil {
		return domain.Job{}, err
	}
	if key != "" && s.idempotent != nil {
		if cached, ok, err := s.idempotent.GetResponse(ctx, key); err == nil && ok {
			var job domain.Job
			if err := json.Unmarshal(cached, &job); err == nil {
				return job, nil
			}
		}
	}

	now := s.clock.Now()
	est := s.eta.Estimate(
		etasvc.GeoPoint{Lat: req.Pickup.Lat, Lng: req.Pickup.Lng},
		etasvc.GeoPoint{Lat: req.Delivery.Lat, Lng: req.Delivery.Lng},
	)
	job := domain.Job{
		ID:                       uuid.New(),
		Number:                   s.jobNumber(),
		ClientID:                 req.ClientID,
		Pickup:                   req.Pickup,
		Delivery:                 req.Delivery,
		VehicleType:              req.VehicleType,
		DistanceKM:               est.DistanceKM,
		EstimatedDurationMinutes: est.DurationMinutes,
		Status:                   domain.StatusPending,
		CreatedAt:                now,
		UpdatedAt:                now,
		Version:                  1,
	}

	created, err := s.repo.CreateJob(ctx, job)
	if err != nil {
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}

	s.publish(ctx, created, domain.EventJobCreated, map[string]any{"clientId": created.ClientID.String()})

	if key != "" && s.idempotent != nil {
		if payload, err := json.Marshal(created); err == nil {
			_ = s.idempotent.PutResponse(ctx, key, payload)
		}
	}
	return created, nil
}

// GetJob retrieves a job by identifier.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	return s.repo.GetJobByID(ctx, id)
}

// AcceptJob assigns a pending job to the driver.
func (s *Service) AcceptJob(ctx context.Context, jobID, driverID uuid.UUID) (domain.Job, error) {
	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if !job.Status.CanTransitionTo(domain.StatusAccepted) {
		return domain.Job{}, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	job.DriverID = &driverID
	job.Status = domain.StatusAccepted
	job.AcceptedAt = &now
	job.UpdatedAt = now

	updated, err := s.repo.UpdateJob(ctx, job)
	if err != nil {
		return domain.Job{}, fmt.Errorf("accept job: %w", err)
	}
	s.publish(ctx, updated, domain.EventJobAccepted, map[string]any{"driverId": driverID.String()})
	return updated, nil
}

// StartJob moves an accepted job to in_progress. Only the assigned driver may start it.
func (s *Service) StartJob(ctx context.Context, jobID, driverID uuid.UUID) (domain.Job, error) {
	return s.driverTransition(ctx, jobID, driverID, domain.StatusInProgress, domain.EventJobStarted)
}

// CompleteJob marks an in-progress job completed.
func (s *Service) CompleteJob(ctx context.Context, jobID, driverID uuid.UUID) (domain.Job, error) {
	return s.driverTransition(ctx, jobID, driverID, domain.StatusCompleted, domain.EventJobCompleted)
}

func (s *Service) driverTransition(ctx context.Context, jobID, driverID uuid.UUID, next domain.Status, eventType domain.EventType) (domain.Job, error) {
	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if !job.AssignedTo(driverID) {
		return domain.Job{}, domain.ErrDriverMismatch
	}
	if !job.Status.CanTransitionTo(next) {
		return domain.Job{}, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	job.Status = next
	job.UpdatedAt = now
	switch next {
	case domain.StatusInProgress:
		job.StartedAt = &now
	case domain.StatusCompleted:
		job.CompletedAt = &now
	}

	updated, err := s.repo.UpdateJob(ctx, job)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%s job: %w", next, err)
	}
	s.publish(ctx, updated, eventType, map[string]any{"driverId": driverID.String()})
	return updated, nil
}

// CancelJob cancels a non-terminal job on behalf of a participant or an admin.
func (s *Service) CancelJob(ctx context.Context, jobID uuid.UUID, actor auth.Identity, reason string) (domain.Job, error) {
	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if !actor.IsAdmin() && !job.IsParticipant(actor.UserID) {
		return domain.Job{}, domain.ErrNotParticipant
	}
	if !job.Status.CanTransitionTo(domain.StatusCancelled) {
		return domain.Job{}, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	job.Status = domain.StatusCancelled
	job.CancelledAt = &now
	job.CancellationReason = reason
	job.UpdatedAt = now

	updated, err := s.repo.UpdateJob(ctx, job)
	if err != nil {
		return domain.Job{}, fmt.Errorf("cancel job: %w", err)
	}
	s.publish(ctx, updated, domain.EventJobCancelled, map[string]any{
		"cancelledBy": string(actor.Role),
		"reason":      reason,
	})
	return updated, nil
}

func (s *Service) publish(ctx context.Context, job domain.Job, eventType domain.EventType, payload map[string]any) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, string(eventType), domain.Event{
		JobID:     job.ID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: job.UpdatedAt,
	})
}

func (s *Service) jobNumber() string {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return domain.NewJobNumber(s.clock.Now(), s.rnd)
}

func validateCreate(req CreateJobRequest) error {
	if req.ClientID == uuid.Nil {
		return fmt.Errorf("%w: client id required", ErrInvalidRequest)
	}
	for name, p := range map[string]domain.Point{"pickup": req.Pickup, "delivery": req.Delivery} {
		if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
			return fmt.Errorf("%w: %s coordinates out of range", ErrInvalidRequest, name)
		}
	}
	return nil
}
