package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/ezmove/internal/auth"
	"github.com/example/ezmove/internal/config"
	"github.com/example/ezmove/internal/db"
	etahandler "github.com/example/ezmove/internal/eta/handler"
	etasvc "github.com/example/ezmove/internal/eta/service"
	"github.com/example/ezmove/internal/http/middleware"
	"github.com/example/ezmove/internal/ingest"
	jobdomain "github.com/example/ezmove/internal/job/domain"
	jobhandler "github.com/example/ezmove/internal/job/handler"
	jobrepo "github.com/example/ezmove/internal/job/repository"
	jobservice "github.com/example/ezmove/internal/job/service"
	"github.com/example/ezmove/internal/location"
	outboxworker "github.com/example/ezmove/internal/outbox"
	"github.com/example/ezmove/internal/realtime"
	"github.com/example/ezmove/internal/tracking/cache"
	trackingdomain "github.com/example/ezmove/internal/tracking/domain"
	trackinghandler "github.com/example/ezmove/internal/tracking/handler"
	trackingrepo "github.com/example/ezmove/internal/tracking/repository"
	trackingservice "github.com/example/ezmove/internal/tracking/service"
	"github.com/example/ezmove/pkg/observability"
	outboxpkg "github.com/example/ezmove/pkg/outbox"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger(cfg.Service.Name, cfg.Service.LogLevel)
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, cfg.Service.Name)
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background()) //nolint:errcheck
	}

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("tracking service stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

type stores struct {
	jobs     jobdomain.Repository
	idem     jobdomain.IdempotencyRepository
	profiles trackingdomain.ProfileStore
	points   trackingdomain.PointLog
	cache    trackingdomain.LocationCache
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var pool *pgxpool.Pool
	if cfg.Postgres.DSN != "" {
		p, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.Postgres.DSN, MaxConns: cfg.Postgres.MaxConns, MinConns: cfg.Postgres.MinConns})
		if err != nil {
			return err
		}
		defer p.Close()
		if cfg.Postgres.Migrate {
			if err := db.Migrate(ctx, p); err != nil {
				return err
			}
		}
		pool = p
	} else {
		logger.Warn("postgres not configured, using in-memory stores")
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		if conn, err := nats.Connect(cfg.NATS.URL, nats.Name(cfg.NATS.ConnectName)); err == nil {
			natsConn = conn
			defer conn.Drain() //nolint:errcheck
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	st := buildStores(pool, redisClient, cfg)
	authn := auth.NewAuthenticator(cfg.Auth.JWTSecret)

	sup := suture.New("tracking-service", suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warn("supervisor event", zap.String("event", e.String()))
		},
		Timeout: cfg.HTTP.ShutdownTimeout,
	})

	var evictor trackingdomain.EvictionScheduler
	switch c := st.cache.(type) {
	case *cache.RedisCache:
		evictor = cache.NewRedisExpiry(c, cfg.Tracking.EvictionGrace, logger)
	case *cache.MemoryCache:
		memEvictor := cache.NewEvictor(c, cfg.Tracking.EvictionGrace, logger)
		defer memEvictor.Stop()
		evictor = memEvictor
	}

	var sink trackingdomain.LocationSink
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink := ingest.NewKafkaSink(ingest.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic, Buffer: cfg.Kafka.Buffer}, logger)
		sup.Add(kafkaSink)
		sink = kafkaSink
	}

	hub := realtime.NewHub(logger)
	sup.Add(hub)
	tracker := trackingservice.New(trackingservice.Deps{
		Jobs:     st.jobs,
		Profiles: st.profiles,
		Points:   st.points,
		Cache:    st.cache,
		Rooms:    realtime.NewRooms(),
		Evictor:  evictor,
		Sink:     sink,
		Logger:   logger,
	})

	eta := etasvc.New(cfg.ETA.SpeedKmh, nil)
	jobs := jobservice.New(st.jobs, outboxpkg.NewPublisher(natsConn, cfg.NATS.JobSubject), eta, jobdomain.SystemClock{}, st.idem)

	ws := realtime.NewServer(hub, tracker, authn, realtime.Config{
		SendBuffer:      cfg.Tracking.SendBuffer,
		MaxMessageBytes: cfg.Tracking.MaxMessageBytes,
		EventTimeout:    cfg.Tracking.EventTimeout,
		PongWait:        cfg.Tracking.PongWait,
		AllowedOrigins:  cfg.HTTP.CORSOrigins,
	}, logger)

	limits := cfg.HTTP.RateLimit
	var scripter redis.Scripter
	if redisClient != nil {
		scripter = redisClient
	}
	limiter := middleware.NewRateLimiter(scripter,
		middleware.RateConfig{Rate: limits.ReadRate, Burst: limits.ReadBurst},
		middleware.RateConfig{Rate: limits.WriteRate, Burst: limits.WriteBurst},
		logger,
	)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID, chimiddleware.RealIP, observability.RequestLogger(logger), chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.HTTP.CORSOrigins))
	r.Route("/api", func(api chi.Router) {
		api.Use(limiter.Middleware)
		api.Mount("/jobs", jobhandler.NewHTTP(jobs, authn, logger).Router())
		api.Mount("/tracking", trackinghandler.NewHTTP(tracker, st.jobs, authn, etahandler.New(eta).Router(), logger).Router())
	})
	r.Handle("/ws", ws)
	r.Handle("/socket", ws)
	r.Mount("/observability", observability.MetricsRouter())

	sup.Add(&httpService{
		srv:     &http.Server{Addr: cfg.HTTP.Addr, Handler: r, ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout},
		timeout: cfg.HTTP.ShutdownTimeout,
		logger:  logger,
	})

	if cfg.GRPC.Addr != "" {
		grpcSrv := grpc.NewServer()
		location.RegisterDriverLocationServer(grpcSrv, location.NewServer(tracker, authn, logger))
		sup.Add(location.NewGRPCService(cfg.GRPC.Addr, grpcSrv, logger))
	}

	if pool != nil && natsConn != nil {
		sqlDB := db.SQLDB(pool)
		defer sqlDB.Close()
		sup.Add(outboxworker.NewWorker(sqlDB, natsConn, logger, outboxworker.WorkerConfig{
			PollInterval: cfg.Outbox.PollInterval,
			BatchSize:    cfg.Outbox.BatchSize,
			RetryMax:     cfg.Outbox.RetryMax,
			Retention:    cfg.Outbox.Retention,
		}))
	} else {
		logger.Warn("outbox worker disabled", zap.Bool("db", pool != nil), zap.Bool("nats", natsConn != nil))
	}

	return sup.Serve(ctx)
}

func buildStores(pool *pgxpool.Pool, redisClient *redis.Client, cfg *config.Config) stores {
	st := stores{
		jobs:     jobrepo.NewMemoryRepository(),
		idem:     jobrepo.NewMemoryIdempotencyRepo(),
		profiles: trackingrepo.NewMemoryProfileStore(),
		points:   trackingrepo.NewMemoryPointLog(),
		cache:    cache.NewMemoryCache(),
	}
	if pool != nil {
		st.jobs = jobrepo.NewPostgresRepository(pool)
		st.profiles = trackingrepo.NewPostgresProfileStore(pool)
		st.points = trackingrepo.NewPostgresPointLog(pool)
	}
	if redisClient != nil {
		st.cache = cache.NewRedisCache(redisClient, cfg.Redis.CachePrefix)
		st.idem = jobrepo.NewRedisIdempotencyRepo(redisClient, "", cfg.Redis.IdempotencyTTL)
	}
	return st
}

// httpService adapts http.Server to suture.Service.
type httpService struct {
	srv     *http.Server
	timeout time.Duration
	logger  *zap.Logger
}

func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("tracking service listening", zap.String("addr", h.srv.Addr))
		errCh <- h.srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		_ = h.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return suture.ErrDoNotRestart
		}
		return fmt.Errorf("http server: %w", err)
	}
}

func (h *httpService) String() string { return "http-server" }
