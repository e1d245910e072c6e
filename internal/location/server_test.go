package location_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/ezmove/internal/auth"
	jobdomain "github.com/example/ezmove/internal/job/domain"
	jobrepo "github.com/example/ezmove/internal/job/repository"
	"github.com/example/ezmove/internal/location"
	"github.com/example/ezmove/internal/realtime"
	"github.com/example/ezmove/internal/tracking/cache"
	"github.com/example/ezmove/internal/tracking/repository"
	"github.com/example/ezmove/internal/tracking/service"
)

const secret = "grpc-secret"

type harness struct {
	client  *location.Client
	jobs    *jobrepo.MemoryRepository
	points  *repository.MemoryPointLog
	evictor *cache.Evictor
	issuer  *auth.Issuer
}

func newHarness(t *testing.T) harness {
	t.Helper()
	jobs := jobrepo.NewMemoryRepository()
	points := repository.NewMemoryPointLog()
	locations := cache.NewMemoryCache()
	evictor := cache.NewEvictor(locations, time.Minute, nil)
	t.Cleanup(evictor.Stop)
	tracker := service.New(service.Deps{
		Jobs:     jobs,
		Profiles: repository.NewMemoryProfileStore(),
		Points:   points,
		Cache:    locations,
		Rooms:    realtime.NewRooms(),
		Evictor:  evictor,
	})

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	location.RegisterDriverLocationServer(srv, location.NewServer(tracker, auth.NewAuthenticator(secret), nil))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return harness{
		client:  location.NewClient(conn),
		jobs:    jobs,
		points:  points,
		evictor: evictor,
		issuer:  auth.NewIssuer(secret),
	}
}

func (h harness) authed(t *testing.T, userID uuid.UUID, role auth.Role) context.Context {
	t.Helper()
	token, err := h.issuer.IssueAccessToken(userID, role, time.Hour)
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func coords(lat, lng float64) (*float64, *float64) { return &lat, &lng }

func TestStreamSubmitsSamples(t *testing.T) {
	h := newHarness(t)
	clientID, driverID := uuid.New(), uuid.New()
	job, err := h.jobs.CreateJob(context.Background(), jobdomain.Job{ID: uuid.New(), ClientID: clientID, DriverID: &driverID, Status: jobdomain.StatusInProgress})
	require.NoError(t, err)

	stream, err := h.client.Stream(h.authed(t, driverID, auth.RoleDriver))
	require.NoError(t, err)

	lat, lng := coords(52.52, 13.405)
	require.NoError(t, stream.Send(&location.LocationSample{Latitude: lat, Longitude: lng, JobID: job.ID.String()}))
	require.NoError(t, stream.Send(&location.LocationSample{Longitude: lng}))
	lat, lng = coords(0, 0)
	require.NoError(t, stream.Send(&location.LocationSample{Latitude: lat, Longitude: lng}))

	ack, err := stream.CloseAndRecv()
	require.NoError(t, err)
	require.Equal(t, location.Ack{Accepted: 2, Tracked: 1, Rejected: 1, LastError: "Latitude and longitude required"}, *ack)

	points, err := h.points.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Eventually(t, func() bool { return h.evictor.Pending(driverID) }, time.Second, 10*time.Millisecond)
}

func TestStreamRejectsNonDrivers(t *testing.T) {
	h := newHarness(t)
	stream, err := h.client.Stream(h.authed(t, uuid.New(), auth.RoleClient))
	require.NoError(t, err)

	lat, lng := coords(1, 1)
	require.NoError(t, stream.Send(&location.LocationSample{Latitude: lat, Longitude: lng}))
	ack, err := stream.CloseAndRecv()
	require.NoError(t, err)
	require.Equal(t, 1, ack.Rejected)
	require.Equal(t, "Only drivers can send location updates", ack.LastError)
}

func TestStreamRequiresToken(t *testing.T) {
	h := newHarness(t)
	stream, err := h.client.Stream(context.Background())
	require.NoError(t, err)
	_, err = stream.CloseAndRecv()
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}
