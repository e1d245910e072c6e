package location

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/example/ezmove/internal/auth"
	"github.com/example/ezmove/internal/tracking/domain"
)

// Tracker is the part of the tracking service a stream drives.
type Tracker interface {
	Connect(sess domain.Session)
	SubmitLocation(ctx context.Context, sess domain.Session, req domain.LocationSubmit) (bool, error)
	Disconnect(sess domain.Session)
}

// Server implements DriverLocationServer on top of the tracking service.
type Server struct {
	tracker Tracker
	authn   *auth.Authenticator
	logger  *zap.Logger
}

// NewServer constructs a server.
func NewServer(tracker Tracker, authn *auth.Authenticator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{tracker: tracker, authn: authn, logger: logger.Named("location.grpc")}
}

// Stream feeds each sample through the tracking service and acks the totals on EOF.
// A stream behaves like one connection: it is disconnected when it ends.
func (s *Server) Stream(stream DriverLocation_StreamServer) error {
	identity, err := s.authenticate(stream.Context())
	if err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	sess := &streamSession{id: "grpc-" + uuid.NewString(), identity: identity}
	s.tracker.Connect(sess)
	defer s.tracker.Disconnect(sess)

	var ack Ack
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			ack.LastError = sess.lastError()
			return stream.SendAndClose(&ack)
		}
		if err != nil {
			return err
		}
		tracked, err := s.tracker.SubmitLocation(stream.Context(), sess, msg.submit())
		if err != nil {
			ack.Rejected++
			s.logger.Debug("sample rejected", zap.String("driver_id", identity.UserID.String()), zap.Error(err))
			continue
		}
		ack.Accepted++
		if tracked {
			ack.Tracked++
		}
	}
}

func (s *Server) authenticate(ctx context.Context) (auth.Identity, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	var token string
	if values := md.Get("authorization"); len(values) > 0 {
		token = auth.TokenFromHeader(values[0])
	}
	return s.authn.Authenticate(token)
}

func (m *LocationSample) submit() domain.LocationSubmit {
	return domain.LocationSubmit{
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		Accuracy:  m.Accuracy,
		Heading:   m.Heading,
		Speed:     m.Speed,
		JobID:     m.JobID,
	}
}

// streamSession keeps the last error event so it can be reported in the final ack.
type streamSession struct {
	id       string
	identity auth.Identity

	mu      sync.Mutex
	lastErr string
}

func (s *streamSession) ID() string              { return s.id }
func (s *streamSession) Identity() auth.Identity { return s.identity }

func (s *streamSession) Emit(event string, payload any) error {
	if event != domain.EventError {
		return nil
	}
	if e, ok := payload.(domain.ErrorEvent); ok {
		s.mu.Lock()
		s.lastErr = e.Message
		s.mu.Unlock()
	}
	return nil
}

func (s *streamSession) lastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// GRPCService runs a grpc.Server on addr under a supervisor.
type GRPCService struct {
	addr   string
	server *grpc.Server
	logger *zap.Logger
}

func NewGRPCService(addr string, server *grpc.Server, logger *zap.Logger) *GRPCService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCService{addr: addr, server: server, logger: logger}
}

// Serve listens until ctx is cancelled and then stops gracefully.
func (g *GRPCService) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- g.server.Serve(lis) }()
	g.logger.Info("location grpc listening", zap.String("addr", lis.Addr().String()))

	select {
	case <-ctx.Done():
		g.server.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("grpc serve: %w", err)
	}
}

func (g *GRPCService) String() string { return "location-grpc" }
