package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/example/ezmove/internal/tracking/domain"
)

// DefaultTopic receives every accepted driver sample.
const DefaultTopic = "driver-locations"

var (
	ErrSinkFull        = errors.New("location sink queue full")
	ErrSinkUnavailable = errors.New("location sink circuit open")
)

var (
	sinkMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_kafka_messages_total",
		Help: "Driver samples handed to Kafka by result.",
	}, []string{"result"})
	sinkBreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_kafka_breaker_open",
		Help: "1 while the Kafka circuit breaker is open.",
	})
)

// KafkaConfig tunes the producer and its circuit breaker.
type KafkaConfig struct {
	Brokers          []string
	Topic            string
	Buffer           int
	BatchSize        int
	WriteTimeout     time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink queues samples in memory and writes them to Kafka from its own goroutine,
// so a slow or dead broker never blocks the location update path.
type KafkaSink struct {
	writer  messageWriter
	queue   chan domain.DriverLocation
	breaker *gobreaker.CircuitBreaker[struct{}]
	cfg     KafkaConfig
	logger  *zap.Logger
}

// NewKafkaSink builds a sink writing to cfg.Topic. Messages are keyed by driver id and the
// hash balancer keeps one driver on one partition.
func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger) *KafkaSink {
	cfg = withDefaults(cfg)
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafkaSink(writer, cfg, logger)
}

func newKafkaSink(writer messageWriter, cfg KafkaConfig, logger *zap.Logger) *KafkaSink {
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ingest.kafka")
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "kafka:" + cfg.Topic,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			if to == gobreaker.StateOpen {
				sinkBreakerOpen.Set(1)
			} else {
				sinkBreakerOpen.Set(0)
			}
		},
	})
	return &KafkaSink{
		writer:  writer,
		queue:   make(chan domain.DriverLocation, cfg.Buffer),
		breaker: breaker,
		cfg:     cfg,
		logger:  logger,
	}
}

func withDefaults(cfg KafkaConfig) KafkaConfig {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return cfg
}

// Publish enqueues a sample without blocking.
func (s *KafkaSink) Publish(_ context.Context, loc domain.DriverLocation) error {
	if s.breaker.State() == gobreaker.StateOpen {
		sinkMessagesTotal.WithLabelValues("rejected").Inc()
		return ErrSinkUnavailable
	}
	select {
	case s.queue <- loc:
		return nil
	default:
		sinkMessagesTotal.WithLabelValues("dropped").Inc()
		return ErrSinkFull
	}
}

// Run drains the queue until ctx is cancelled, then closes the writer.
func (s *KafkaSink) Run(ctx context.Context) error {
	defer func() {
		if err := s.writer.Close(); err != nil {
			s.logger.Warn("close kafka writer", zap.Error(err))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case loc := <-s.queue:
			s.write(ctx, s.collect(loc))
		}
	}
}

// Serve implements suture.Service.
func (s *KafkaSink) Serve(ctx context.Context) error { return s.Run(ctx) }

func (s *KafkaSink) String() string { return "kafka-location-sink" }

// collect takes whatever is already queued, up to one batch.
func (s *KafkaSink) collect(first domain.DriverLocation) []kafka.Message {
	msgs := make([]kafka.Message, 0, s.cfg.BatchSize)
	msgs = s.appendMessage(msgs, first)
	for len(msgs) < s.cfg.BatchSize {
		select {
		case loc := <-s.queue:
			msgs = s.appendMessage(msgs, loc)
		default:
			return msgs
		}
	}
	return msgs
}

func (s *KafkaSink) appendMessage(msgs []kafka.Message, loc domain.DriverLocation) []kafka.Message {
	payload, err := json.Marshal(loc)
	if err != nil {
		s.logger.Error("marshal driver location", zap.Error(err))
		return msgs
	}
	return append(msgs, kafka.Message{
		Key:   []byte(loc.DriverID.String()),
		Value: payload,
		Time:  loc.Timestamp,
	})
}

func (s *KafkaSink) write(ctx context.Context, msgs []kafka.Message) {
	if len(msgs) == 0 {
		return
	}
	_, err := s.breaker.Execute(func() (struct{}, error) {
		wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
		defer cancel()
		return struct{}{}, s.writer.WriteMessages(wctx, msgs...)
	})
	if err != nil {
		sinkMessagesTotal.WithLabelValues("failed").Add(float64(len(msgs)))
		s.logger.Warn("write driver locations", zap.Int("count", len(msgs)), zap.Error(err))
		return
	}
	sinkMessagesTotal.WithLabelValues("written").Add(float64(len(msgs)))
}
