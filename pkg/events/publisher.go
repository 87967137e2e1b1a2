// Package events publishes booking domain events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/servicebook/internal/booking/domain"
)

const DefaultSubjectPrefix = "bookings"

const (
	HeaderEventType = "x-event-type"
	HeaderTraceID   = "x-trace-id"
	HeaderBookingID = "x-booking-id"
)

// Subject is the NATS subject an event type is published on.
func Subject(prefix string, t domain.EventType) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return fmt.Sprintf("%s.%s", prefix, t)
}

type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Publisher writes booking events straight to NATS. It is used when there is
// no database outbox.
type Publisher struct {
	conn   msgPublisher
	prefix string
}

// NewPublisher builds a Publisher using the provided NATS connection.
func NewPublisher(conn *nats.Conn, prefix string) *Publisher {
	return &Publisher{conn: conn, prefix: prefix}
}

// Publish satisfies domain.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	if p == nil || p.conn == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := NewMsg(Subject(p.prefix, event.Type), event, payload)
	if id := TraceIDFromContext(ctx); id != "" {
		msg.Header.Set(HeaderTraceID, id)
	}
	return p.conn.PublishMsg(msg)
}

// NewMsg builds the message for an encoded event. The event id doubles as the
// JetStream de-duplication id.
func NewMsg(subject string, event domain.Event, payload []byte) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(HeaderEventType, string(event.Type))
	msg.Header.Set(HeaderBookingID, fmt.Sprint(event.BookingID))
	msg.Header.Set(nats.MsgIdHdr, event.ID.String())
	return msg
}

func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
