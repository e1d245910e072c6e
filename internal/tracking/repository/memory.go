package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/example/ezmove/internal/tracking/domain"
)

// MemoryProfileStore keeps driver profile live-location fields in memory.
type MemoryProfileStore struct {
	mu        sync.RWMutex
	locations map[uuid.UUID]domain.DriverLocation
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{locations: make(map[uuid.UUID]domain.DriverLocation)}
}

// UpdateLocation persists latitude, longitude and timestamp. Other sample fields are not persisted.
func (s *MemoryProfileStore) UpdateLocation(_ context.Context, loc domain.DriverLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[loc.DriverID] = profileFields(loc)
	return nil
}

func (s *MemoryProfileStore) GetLocation(_ context.Context, driverID uuid.UUID) (domain.DriverLocation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locations[driverID]
	return loc, ok, nil
}

func profileFields(loc domain.DriverLocation) domain.DriverLocation {
	return domain.DriverLocation{
		DriverID:  loc.DriverID,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Timestamp: loc.Timestamp,
	}
}

// MemoryPointLog is an append-only in-memory tracking log.
type MemoryPointLog struct {
	mu     sync.RWMutex
	points map[uuid.UUID][]domain.TrackingPoint
}

func NewMemoryPointLog() *MemoryPointLog {
	return &MemoryPointLog{points: make(map[uuid.UUID][]domain.TrackingPoint)}
}

func (l *MemoryPointLog) Append(_ context.Context, point domain.TrackingPoint) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.points[point.JobID] = append(l.points[point.JobID], point)
	return nil
}

// ListByJob returns the job's points by creation time, insertion order breaking ties.
func (l *MemoryPointLog) ListByJob(_ context.Context, jobID uuid.UUID) ([]domain.TrackingPoint, error) {
	l.mu.RLock()
	points := append([]domain.TrackingPoint(nil), l.points[jobID]...)
	l.mu.RUnlock()
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].CreatedAt.Before(points[j].CreatedAt)
	})
	return points, nil
}
