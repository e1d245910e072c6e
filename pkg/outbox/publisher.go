package outbox

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
)

// Subjects used by the services.
const (
	SubjectJobEvents      = "job.events"
	SubjectTrackingPoints = "tracking.points"
)

type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Publisher writes domain events to a NATS subject.
type Publisher struct {
	conn    msgPublisher
	subject string
}

// NewPublisher builds a Publisher using the provided NATS connection. A nil connection
// yields a publisher that drops every event.
func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	if conn == nil {
		return &Publisher{subject: subject}
	}
	return &Publisher{conn: conn, subject: subject}
}

// Publish satisfies the job domain EventPublisher.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload any) error {
	if p == nil || p.conn == nil {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.conn.PublishMsg(&nats.Msg{Subject: p.subject, Data: data, Header: nats.Header{
		"x-trace-id":   {traceIDFromContext(ctx)},
		"x-event-type": {eventType},
	}})
}

func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
