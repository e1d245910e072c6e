package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/example/ezmove/internal/job/domain"
)

// ErrVersionConflict indicates the job changed since it was read.
var ErrVersionConflict = errors.New("job version conflict")

// MemoryRepository provides an in-memory implementation suitable for tests and local demos.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]domain.Job
}

// NewMemoryRepository constructs an empty memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[uuid.UUID]domain.Job)}
}

// CreateJob stores the job and returns it.
func (m *MemoryRepository) CreateJob(_ context.Context, job domain.Job) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.Version == 0 {
		job.Version = 1
	}
	m.jobs[job.ID] = job
	return job, nil
}

// GetJobByID retrieves a job.
func (m *MemoryRepository) GetJobByID(_ context.Context, id uuid.UUID) (domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return job, nil
}

// UpdateJob replaces the stored job, performing optimistic locking on version.
func (m *MemoryRepository) UpdateJob(_ context.Context, job domain.Job) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.jobs[job.ID]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if job.Version != existing.Version {
		return domain.Job{}, ErrVersionConflict
	}
	job.Version = existing.Version + 1
	m.jobs[job.ID] = job
	return job, nil
}

func (m *MemoryRepository) HasJobLinking(_ context.Context, driverID, participantID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, job := range m.jobs {
		if job.AssignedTo(driverID) && job.IsParticipant(participantID) {
			return true, nil
		}
	}
	return false, nil
}
