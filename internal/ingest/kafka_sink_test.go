package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/example/ezmove/internal/tracking/domain"
)

type fakeWriter struct {
	mu     sync.Mutex
	fail   error
	msgs   []kafka.Message
	calls  int
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.fail != nil {
		return w.fail
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) snapshot() ([]kafka.Message, int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...), w.calls, w.closed
}

func sample(driverID uuid.UUID, lat float64) domain.DriverLocation {
	return domain.DriverLocation{DriverID: driverID, Latitude: lat, Longitude: 13.4, Timestamp: time.Now()}
}

func TestKafkaSinkWritesKeyedMessages(t *testing.T) {
	writer := &fakeWriter{}
	sink := newKafkaSink(writer, KafkaConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sink.Run(ctx) }()

	driverID := uuid.New()
	require.NoError(t, sink.Publish(ctx, sample(driverID, 52.5)))
	require.NoError(t, sink.Publish(ctx, sample(driverID, 52.6)))

	require.Eventually(t, func() bool {
		msgs, _, _ := writer.snapshot()
		return len(msgs) == 2
	}, time.Second, 10*time.Millisecond)

	msgs, _, _ := writer.snapshot()
	require.Equal(t, driverID.String(), string(msgs[0].Key))
	var got domain.DriverLocation
	require.NoError(t, json.Unmarshal(msgs[1].Value, &got))
	require.Equal(t, 52.6, got.Latitude)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	_, _, closed := writer.snapshot()
	require.True(t, closed)
}

func TestKafkaSinkDropsWhenQueueFull(t *testing.T) {
	sink := newKafkaSink(&fakeWriter{}, KafkaConfig{Buffer: 1}, nil)
	ctx := context.Background()
	require.NoError(t, sink.Publish(ctx, sample(uuid.New(), 1)))
	require.ErrorIs(t, sink.Publish(ctx, sample(uuid.New(), 2)), ErrSinkFull)
}

func TestKafkaSinkBreakerOpensOnBrokerFailures(t *testing.T) {
	writer := &fakeWriter{fail: errors.New("broker down")}
	sink := newKafkaSink(writer, KafkaConfig{FailureThreshold: 2, OpenTimeout: time.Minute}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sink.Run(ctx) }()

	driverID := uuid.New()
	require.NoError(t, sink.Publish(ctx, sample(driverID, 1)))
	require.Eventually(t, func() bool {
		_, calls, _ := writer.snapshot()
		return calls == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, sink.Publish(ctx, sample(driverID, 2)))

	require.Eventually(t, func() bool {
		return errors.Is(sink.Publish(ctx, sample(driverID, 3)), ErrSinkUnavailable)
	}, time.Second, 5*time.Millisecond)
}
