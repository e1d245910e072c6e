package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/example/ezmove/internal/auth"
	jobdomain "github.com/example/ezmove/internal/job/domain"
)

// Realtime event names shared by every transport.
const (
	EventDriverLocation    = "driver:location"
	EventDriverLocationAck = "driver:location:ack"
	EventJobTrack          = "job:track"
	EventJobTrackAck       = "job:track:ack"
	EventJobUntrack        = "job:untrack"
	EventLocationUpdate    = "driver:location:update"
	EventError             = "error"
)

// Error event messages.
const (
	MsgDriversOnly       = "Only drivers can send location updates"
	MsgLocationRequired  = "Latitude and longitude required"
	MsgLocationFailed    = "Failed to update location"
	MsgJobNotFound       = "Job not found"
	MsgNotAuthorized     = "Not authorized"
	MsgTrackFailed       = "Failed to track job"
	MsgUnknownEvent      = "Unknown event"
	MsgInvalidMessage    = "Invalid message"
	MsgLocationNotExists = "Location not available"
)

// PointStatusInTransit is the status stamped on every point recorded during a job.
const PointStatusInTransit = "in_transit"

var (
	ErrNotDriver           = errors.New("only drivers can submit locations")
	ErrInvalidLocation     = errors.New("latitude and longitude required")
	ErrForbidden           = errors.New("not authorized for job")
	ErrLocationUnavailable = errors.New("location not available")
)

// RoomForJob names the broadcast room of a job.
func RoomForJob(jobID string) string { return "job:" + jobID }

// LocationSubmit is the driver:location payload.
type LocationSubmit struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	Accuracy  *float64 `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	JobID     string   `json:"jobId,omitempty"`
}

// DriverLocation is the latest known position of a driver.
type DriverLocation struct {
	DriverID  uuid.UUID `json:"driverId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TrackingPoint is one persisted breadcrumb of a job's route.
type TrackingPoint struct {
	ID        uuid.UUID `json:"id"`
	JobID     uuid.UUID `json:"jobId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

// LocationPayload is the location object inside driver:location:update.
type LocationPayload struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
}

// LocationUpdate is pushed to job rooms and sent as the subscribe snapshot.
// Timestamp is unix milliseconds.
type LocationUpdate struct {
	JobID     string          `json:"jobId"`
	Location  LocationPayload `json:"location"`
	Timestamp int64           `json:"timestamp"`
}

func NewLocationUpdate(jobID string, loc DriverLocation) LocationUpdate {
	return LocationUpdate{
		JobID: jobID,
		Location: LocationPayload{
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Accuracy:  loc.Accuracy,
			Heading:   loc.Heading,
			Speed:     loc.Speed,
		},
		Timestamp: loc.Timestamp.UnixMilli(),
	}
}

type LocationAck struct {
	Success bool `json:"success"`
	Tracked bool `json:"tracked"`
}

type TrackAck struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

// Session is one authenticated realtime connection.
type Session interface {
	ID() string
	Identity() auth.Identity
	Emit(event string, payload any) error
}

// RoomRouter maps room names to member sessions. It performs no authorization.
type RoomRouter interface {
	Join(room string, s Session)
	Leave(room string, s Session)
	LeaveAll(s Session) []string
	Broadcast(room, event string, payload any) int
}

type JobReader interface {
	GetJobByID(ctx context.Context, id uuid.UUID) (jobdomain.Job, error)
}

// ProfileStore holds the persisted live-location fields of driver profiles.
type ProfileStore interface {
	UpdateLocation(ctx context.Context, loc DriverLocation) error
	GetLocation(ctx context.Context, driverID uuid.UUID) (DriverLocation, bool, error)
}

// PointLog is the append-only per-job breadcrumb trail.
type PointLog interface {
	Append(ctx context.Context, point TrackingPoint) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]TrackingPoint, error)
}

// LocationCache keeps the freshest location per driver.
type LocationCache interface {
	Set(ctx context.Context, loc DriverLocation) error
	Get(ctx context.Context, driverID uuid.UUID) (DriverLocation, bool, error)
	Delete(ctx context.Context, driverID uuid.UUID) error
}

// EvictionScheduler removes a driver's cache entry after a grace period unless cancelled.
type EvictionScheduler interface {
	Schedule(driverID uuid.UUID)
	Cancel(driverID uuid.UUID)
}

// LocationSink receives every accepted sample for downstream consumers.
type LocationSink interface {
	Publish(ctx context.Context, loc DriverLocation) error
}

type Clock interface {
	Now() time.Time
}
