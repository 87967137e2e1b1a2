// Package notify delivers push notifications to customer and vendor devices.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ErrNoTarget is returned when there is no device token to send to.
var ErrNoTarget = errors.New("notify: no device token")

var notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "notifications_sent_total",
	Help: "Push notifications grouped by outcome.",
}, []string{"result"})

// Message is one push notification. Data values are flattened to strings on
// the wire.
type Message struct {
	Title string
	Body  string
	Data  map[string]any
}

// SendResult is the outcome for one device in a batch.
type SendResult struct {
	Token     string
	MessageID string
	Err       error
}

// BatchResult summarises a multi-device send. Results is in token order.
type BatchResult struct {
	SuccessCount int
	FailureCount int
	Results      []SendResult
}

// Errors returns the failures in token order.
func (r BatchResult) Errors() []error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errs
}

// Notifier sends to device tokens. Notify returns the provider's message id.
type Notifier interface {
	Notify(ctx context.Context, token string, msg Message) (string, error)
	NotifyMany(ctx context.Context, tokens []string, msg Message) (BatchResult, error)
}

// Broadcaster sends to every device subscribed to a topic.
type Broadcaster interface {
	NotifyTopic(ctx context.Context, topic string, msg Message) (string, error)
}

// TokenValidator checks that a device token is still registered with the provider.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) error
}

// Sender is everything the notification routes need.
type Sender interface {
	Notifier
	Broadcaster
	TokenValidator
}

// StringData flattens a payload into the string map push providers accept.
func StringData(data map[string]any) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			out[k] = val
		case fmt.Stringer:
			out[k] = val.String()
		case int, int32, int64, float32, float64, bool:
			out[k] = fmt.Sprintf("%v", val)
		default:
			raw, err := json.Marshal(val)
			if err != nil {
				out[k] = fmt.Sprintf("%v", val)
				continue
			}
			out[k] = string(raw)
		}
	}
	return out
}

// LogNotifier only logs. It stands in when no push provider is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, token string, msg Message) (string, error) {
	if token == "" {
		return "", ErrNoTarget
	}
	id := "log-" + uuid.NewString()
	n.logger.Info("notification", zap.String("message_id", id), zap.String("token", token), zap.String("title", msg.Title), zap.String("body", msg.Body), zap.Any("data", msg.Data))
	notificationsSent.WithLabelValues("logged").Inc()
	return id, nil
}

func (n *LogNotifier) NotifyMany(ctx context.Context, tokens []string, msg Message) (BatchResult, error) {
	if len(tokens) == 0 {
		return BatchResult{}, ErrNoTarget
	}
	var res BatchResult
	for _, token := range tokens {
		id, err := n.Notify(ctx, token, msg)
		if err != nil {
			res.FailureCount++
		} else {
			res.SuccessCount++
		}
		res.Results = append(res.Results, SendResult{Token: token, MessageID: id, Err: err})
	}
	return res, nil
}

func (n *LogNotifier) NotifyTopic(_ context.Context, topic string, msg Message) (string, error) {
	if topic == "" {
		return "", ErrNoTarget
	}
	id := "log-" + uuid.NewString()
	n.logger.Info("topic notification", zap.String("message_id", id), zap.String("topic", topic), zap.String("title", msg.Title))
	notificationsSent.WithLabelValues("logged").Inc()
	return id, nil
}

// ValidateToken accepts any non-empty token.
func (n *LogNotifier) ValidateToken(_ context.Context, token string) error {
	if token == "" {
		return ErrNoTarget
	}
	return nil
}
