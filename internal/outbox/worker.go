package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	outboxPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_total",
		Help: "Outbox rows published to NATS by topic.",
	}, []string{"topic"})
	outboxFailTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_fail_total",
		Help: "Outbox publish failures after exhausting retries.",
	})
	outboxLagSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_lag_seconds",
		Help: "Age of the oldest row in the last published batch.",
	})
	outboxPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_purged_total",
		Help: "Published outbox rows removed after the retention window.",
	})
)

// WorkerConfig defines tunables for the relay. Retention of zero keeps published rows forever.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	RetryMax     int
	RetryBackoff time.Duration
	Retention    time.Duration
}

type natsPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Worker relays unpublished outbox rows, such as tracking points, to the NATS subject named
// by each row's topic.
type Worker struct {
	db        *sql.DB
	publisher natsPublisher
	logger    *zap.Logger
	cfg       WorkerConfig
	tracer    trace.Tracer
}

// NewWorker constructs a relay. db is usually db.SQLDB over the service pool.
func NewWorker(db *sql.DB, conn *nats.Conn, logger *zap.Logger, cfg WorkerConfig) *Worker {
	var publisher natsPublisher
	if conn != nil {
		publisher = conn
	}
	return newWorker(db, publisher, logger, cfg)
}

func newWorker(db *sql.DB, publisher natsPublisher, logger *zap.Logger, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		db:        db,
		publisher: publisher,
		logger:    logger.Named("outbox"),
		cfg:       cfg,
		tracer:    otel.Tracer("tracking.outbox.worker"),
	}
}

// Serve implements suture.Service.
func (w *Worker) Serve(ctx context.Context) error { return w.Run(ctx) }

func (w *Worker) String() string { return "outbox-worker" }

// Run polls until the context is cancelled. A full batch is followed immediately by the next
// one so a backlog drains without waiting for the ticker.
func (w *Worker) Run(ctx context.Context) error {
	if w.db == nil || w.publisher == nil {
		return errors.New("outbox worker requires database and NATS connection")
	}
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		for {
			n, err := w.processOnce(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					w.logger.Error("outbox batch failed", zap.Error(err))
				}
				break
			}
			if n < w.cfg.BatchSize {
				break
			}
		}
		if w.cfg.Retention > 0 {
			if err := w.purge(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Warn("outbox purge failed", zap.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type record struct {
	ID        int64
	Topic     string
	Payload   []byte
	CreatedAt time.Time
}

// processOnce publishes one locked batch and reports how many rows it held. Rows stay locked
// by the transaction so concurrent relays skip them.
func (w *Worker) processOnce(ctx context.Context) (int, error) {
	ctx, span := w.tracer.Start(ctx, "outbox.batch")
	defer span.End()

	tx, err := w.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	records, err := w.loadPending(ctx, tx)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("outbox.batch_size", len(records)))
	if len(records) == 0 {
		return 0, tx.Commit()
	}

	ids := make([]int64, 0, len(records))
	var oldest time.Time
	for _, rec := range records {
		if err := w.publishWithRetry(ctx, rec); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "publish failed")
			return 0, err
		}
		ids = append(ids, rec.ID)
		outboxPublishTotal.WithLabelValues(rec.Topic).Inc()
		if oldest.IsZero() || rec.CreatedAt.Before(oldest) {
			oldest = rec.CreatedAt
		}
	}
	outboxLagSeconds.Set(time.Since(oldest).Seconds())

	if _, err := tx.ExecContext(ctx, `UPDATE outbox SET published = true WHERE id = ANY($1)`, ids); err != nil {
		return 0, fmt.Errorf("mark published: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox batch: %w", err)
	}
	return len(records), nil
}

func (w *Worker) loadPending(ctx context.Context, tx *sql.Tx) ([]record, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, topic, payload, created_at
		FROM outbox
		WHERE published = false
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, w.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("select outbox: %w", err)
	}
	defer rows.Close()
	var records []record
	for rows.Next() {
		var rec record
		if err := rows.Scan(&rec.ID, &rec.Topic, &rec.Payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return records, nil
}

func (w *Worker) purge(ctx context.Context) error {
	res, err := w.db.ExecContext(ctx, `DELETE FROM outbox WHERE published = true AND created_at < $1`, time.Now().Add(-w.cfg.Retention))
	if err != nil {
		return fmt.Errorf("purge outbox: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		outboxPurgedTotal.Add(float64(n))
	}
	return nil
}

func (w *Worker) publishWithRetry(ctx context.Context, rec record) error {
	ctx, span := w.tracer.Start(ctx, "outbox.publish", trace.WithAttributes(
		attribute.String("outbox.topic", rec.Topic),
		attribute.Int64("outbox.id", rec.ID),
	))
	defer span.End()
	if rec.Topic == "" {
		return fmt.Errorf("outbox record %d missing topic", rec.ID)
	}
	msg := nats.NewMsg(rec.Topic)
	msg.Data = rec.Payload
	msg.Header.Set("x-outbox-id", fmt.Sprint(rec.ID))
	if sc := span.SpanContext(); sc.IsValid() {
		msg.Header.Set("traceparent", fmt.Sprintf("00-%s-%s-01", sc.TraceID(), sc.SpanID()))
	}
	for attempt := 1; ; attempt++ {
		err := w.publisher.PublishMsg(msg)
		if err == nil {
			return nil
		}
		w.logger.Warn("publish failed", zap.Error(err), zap.Int("attempt", attempt), zap.Int64("outbox_id", rec.ID))
		if attempt >= w.cfg.RetryMax {
			outboxFailTotal.Inc()
			return fmt.Errorf("publish outbox %d: %w", rec.ID, err)
		}
		select {
		case <-time.After(time.Duration(attempt*attempt) * w.cfg.RetryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
