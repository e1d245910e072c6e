package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/ezmove/internal/auth"
	jobdomain "github.com/example/ezmove/internal/job/domain"
	"github.com/example/ezmove/internal/tracking/domain"
)

// Deps lists the collaborators of the tracking service. Sink and Clock are optional.
type Deps struct {
	Jobs     domain.JobReader
	Profiles domain.ProfileStore
	Points   domain.PointLog
	Cache    domain.LocationCache
	Rooms    domain.RoomRouter
	Evictor  domain.EvictionScheduler
	Sink     domain.LocationSink
	Clock    domain.Clock
	Logger   *zap.Logger
}

// Service reconciles driver location streams with job state and fans updates out to job rooms.
type Service struct {
	jobs     domain.JobReader
	profiles domain.ProfileStore
	points   domain.PointLog
	cache    domain.LocationCache
	rooms    domain.RoomRouter
	evictor  domain.EvictionScheduler
	sink     domain.LocationSink
	clock    domain.Clock
	logger   *zap.Logger
	tracer   trace.Tracer
	validate *validator.Validate

	mu   sync.Mutex
	live map[uuid.UUID]map[string]struct{}
}

func New(deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = jobdomain.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		jobs:     deps.Jobs,
		profiles: deps.Profiles,
		points:   deps.Points,
		cache:    deps.Cache,
		rooms:    deps.Rooms,
		evictor:  deps.Evictor,
		sink:     deps.Sink,
		clock:    deps.Clock,
		logger:   deps.Logger.Named("tracking"),
		tracer:   otel.Tracer("tracking.service"),
		validate: validator.New(),
		live:     make(map[uuid.UUID]map[string]struct{}),
	}
}

// Connect registers a driver session and cancels a pending cache eviction.
func (s *Service) Connect(sess domain.Session) {
	identity := sess.Identity()
	if !identity.IsDriver() {
		return
	}
	s.mu.Lock()
	sessions, ok := s.live[identity.UserID]
	if !ok {
		sessions = make(map[string]struct{})
		s.live[identity.UserID] = sessions
	}
	sessions[sess.ID()] = struct{}{}
	s.mu.Unlock()
	s.evictor.Cancel(identity.UserID)
}

// SubmitLocation records a driver sample and, when it belongs to the driver's in-progress job,
// appends it to the job trail and broadcasts it to the job room. It reports whether the sample
// was tracked against a job.
func (s *Service) SubmitLocation(ctx context.Context, sess domain.Session, req domain.LocationSubmit) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "tracking.submit_location")
	defer span.End()

	identity := sess.Identity()
	if !identity.IsDriver() {
		locationUpdatesTotal.WithLabelValues("rejected").Inc()
		s.emitError(sess, domain.MsgDriversOnly)
		return false, domain.ErrNotDriver
	}
	if err := s.validate.Struct(req); err != nil {
		locationUpdatesTotal.WithLabelValues("rejected").Inc()
		s.emitError(sess, domain.MsgLocationRequired)
		return false, fmt.Errorf("%w: %v", domain.ErrInvalidLocation, err)
	}
	span.SetAttributes(attribute.String("driver.id", identity.UserID.String()))

	s.evictor.Cancel(identity.UserID)

	loc := domain.DriverLocation{
		DriverID:  identity.UserID,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Accuracy:  req.Accuracy,
		Heading:   req.Heading,
		Speed:     req.Speed,
		Timestamp: s.clock.Now(),
	}
	if err := s.cache.Set(ctx, loc); err != nil {
		return false, s.failLocation(sess, span, fmt.Errorf("cache location: %w", err))
	}
	if err := s.profiles.UpdateLocation(ctx, loc); err != nil {
		return false, s.failLocation(sess, span, fmt.Errorf("persist profile location: %w", err))
	}
	if s.sink != nil {
		if err := s.sink.Publish(ctx, loc); err != nil {
			sinkFailuresTotal.Inc()
			s.logger.Debug("location sink refused sample", zap.Error(err))
		}
	}

	tracked, err := s.trackForJob(ctx, req.JobID, loc)
	if err != nil {
		return false, s.failLocation(sess, span, err)
	}

	if tracked {
		locationUpdatesTotal.WithLabelValues("tracked").Inc()
	} else {
		locationUpdatesTotal.WithLabelValues("accepted").Inc()
	}
	span.SetAttributes(attribute.Bool("tracked", tracked))
	_ = sess.Emit(domain.EventDriverLocationAck, domain.LocationAck{Success: true, Tracked: tracked})
	return tracked, nil
}

// trackForJob appends and broadcasts the sample when jobID names an in-progress job of the driver.
// Any other job reference is ignored.
func (s *Service) trackForJob(ctx context.Context, rawJobID string, loc domain.DriverLocation) (bool, error) {
	if rawJobID == "" {
		return false, nil
	}
	jobID, err := uuid.Parse(rawJobID)
	if err != nil {
		return false, nil
	}
	job, err := s.jobs.GetJobByID(ctx, jobID)
	if errors.Is(err, jobdomain.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fetch job: %w", err)
	}
	if !job.AssignedTo(loc.DriverID) || job.Status != jobdomain.StatusInProgress {
		return false, nil
	}

	point := domain.TrackingPoint{
		ID:        uuid.New(),
		JobID:     job.ID,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Accuracy:  loc.Accuracy,
		Heading:   loc.Heading,
		Speed:     loc.Speed,
		Status:    domain.PointStatusInTransit,
		CreatedAt: loc.Timestamp,
	}
	if err := s.points.Append(ctx, point); err != nil {
		return false, fmt.Errorf("append tracking point: %w", err)
	}

	jobKey := job.ID.String()
	reached := s.rooms.Broadcast(domain.RoomForJob(jobKey), domain.EventLocationUpdate, domain.NewLocationUpdate(jobKey, loc))
	broadcastRecipients.Observe(float64(reached))
	return true, nil
}

func (s *Service) failLocation(sess domain.Session, span trace.Span, err error) error {
	locationUpdatesTotal.WithLabelValues("failed").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, "location update failed")
	s.logger.Error("location update failed",
		zap.String("driver_id", sess.Identity().UserID.String()),
		zap.Error(err))
	s.emitError(sess, domain.MsgLocationFailed)
	return err
}

// Subscribe joins the session to the job room after checking it belongs to the job's client
// or assigned driver, then pushes the driver's last known location if there is one.
func (s *Service) Subscribe(ctx context.Context, sess domain.Session, rawJobID string) error {
	ctx, span := s.tracer.Start(ctx, "tracking.subscribe")
	defer span.End()

	jobID, err := uuid.Parse(rawJobID)
	if err != nil {
		subscriptionsTotal.WithLabelValues("not_found").Inc()
		s.emitError(sess, domain.MsgJobNotFound)
		return jobdomain.ErrJobNotFound
	}
	job, err := s.jobs.GetJobByID(ctx, jobID)
	if errors.Is(err, jobdomain.ErrJobNotFound) {
		subscriptionsTotal.WithLabelValues("not_found").Inc()
		s.emitError(sess, domain.MsgJobNotFound)
		return err
	}
	if err != nil {
		subscriptionsTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
		s.logger.Error("track job failed", zap.String("job_id", rawJobID), zap.Error(err))
		s.emitError(sess, domain.MsgTrackFailed)
		return fmt.Errorf("fetch job: %w", err)
	}
	if !mayWatch(sess.Identity(), job) {
		subscriptionsTotal.WithLabelValues("forbidden").Inc()
		s.emitError(sess, domain.MsgNotAuthorized)
		return domain.ErrForbidden
	}

	jobKey := job.ID.String()
	s.rooms.Join(domain.RoomForJob(jobKey), sess)
	subscriptionsTotal.WithLabelValues("joined").Inc()

	if job.DriverID != nil {
		loc, ok, err := s.CurrentLocation(ctx, *job.DriverID)
		switch {
		case err != nil:
			s.logger.Warn("snapshot lookup failed", zap.String("job_id", jobKey), zap.Error(err))
		case ok:
			_ = sess.Emit(domain.EventLocationUpdate, domain.NewLocationUpdate(jobKey, loc))
		}
	}

	_ = sess.Emit(domain.EventJobTrackAck, domain.TrackAck{Success: true, JobID: jobKey})
	return nil
}

// mayWatch allows a client on its own job and a driver on the job assigned to them.
func mayWatch(identity auth.Identity, job jobdomain.Job) bool {
	switch identity.Role {
	case auth.RoleClient:
		return job.ClientID == identity.UserID
	case auth.RoleDriver:
		return job.AssignedTo(identity.UserID)
	}
	return false
}

// Unsubscribe leaves the job room. Leaving a room the session is not in is harmless.
func (s *Service) Unsubscribe(sess domain.Session, rawJobID string) {
	key := rawJobID
	if id, err := uuid.Parse(rawJobID); err == nil {
		key = id.String()
	}
	s.rooms.Leave(domain.RoomForJob(key), sess)
}

// Disconnect removes the session from every room. Cache eviction is armed once a driver has no
// live session left.
func (s *Service) Disconnect(sess domain.Session) {
	s.rooms.LeaveAll(sess)
	identity := sess.Identity()
	if !identity.IsDriver() {
		return
	}
	if s.releaseSession(identity.UserID, sess.ID()) == 0 {
		s.evictor.Schedule(identity.UserID)
	}
}

// releaseSession forgets a driver session and returns how many remain.
func (s *Service) releaseSession(driverID uuid.UUID, sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := s.live[driverID]
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(s.live, driverID)
		return 0
	}
	return len(sessions)
}

// History returns the job's tracking points oldest first. Callers enforce access.
func (s *Service) History(ctx context.Context, jobID uuid.UUID) ([]domain.TrackingPoint, error) {
	points, err := s.points.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list tracking points: %w", err)
	}
	return points, nil
}

// CurrentLocation prefers the cache and falls back to the persisted profile position.
func (s *Service) CurrentLocation(ctx context.Context, driverID uuid.UUID) (domain.DriverLocation, bool, error) {
	loc, ok, err := s.cache.Get(ctx, driverID)
	if err != nil {
		s.logger.Warn("location cache read failed", zap.String("driver_id", driverID.String()), zap.Error(err))
	} else if ok {
		return loc, true, nil
	}
	loc, ok, err = s.profiles.GetLocation(ctx, driverID)
	if err != nil {
		return domain.DriverLocation{}, false, fmt.Errorf("read profile location: %w", err)
	}
	return loc, ok, nil
}

func (s *Service) emitError(sess domain.Session, message string) {
	_ = sess.Emit(domain.EventError, domain.ErrorEvent{Message: message})
}
