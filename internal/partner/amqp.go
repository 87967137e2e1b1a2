package partner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const RoutingKeyBookingCreated = "booking.created"

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPForwarder publishes new bookings to a topic exchange that partner
// consumers bind to.
type AMQPForwarder struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
}

// NewAMQPForwarder dials RabbitMQ and declares a durable topic exchange.
func NewAMQPForwarder(url, exchange string) (*AMQPForwarder, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPForwarder{conn: conn, ch: ch, exchange: exchange}, nil
}

func (f *AMQPForwarder) Name() string { return "amqp:" + f.exchange }

func (f *AMQPForwarder) Forward(ctx context.Context, booking NewBooking) error {
	body, err := json.Marshal(booking)
	if err != nil {
		return fmt.Errorf("marshal booking: %w", err)
	}
	err = f.ch.PublishWithContext(ctx, f.exchange, RoutingKeyBookingCreated, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		AppId:        sourceName,
		Body:         body,
	})
	if err != nil {
		forwardsTotal.WithLabelValues(f.Name(), "error").Inc()
		return fmt.Errorf("publish booking %d: %w", booking.BookingID, err)
	}
	forwardsTotal.WithLabelValues(f.Name(), "ok").Inc()
	return nil
}

func (f *AMQPForwarder) Close() error {
	if f.ch != nil {
		_ = f.ch.Close()
	}
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}
