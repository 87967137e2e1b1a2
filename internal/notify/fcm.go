package notify

import (
	"context"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
)

// sender is the subset of *messaging.Client used here.
type sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendDryRun(ctx context.Context, message *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCM sends through Firebase Cloud Messaging.
type FCM struct {
	client sender
	logger *zap.Logger
}

func NewFCM(client *messaging.Client, logger *zap.Logger) *FCM {
	return newFCM(client, logger)
}

func newFCM(client sender, logger *zap.Logger) *FCM {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FCM{client: client, logger: logger.Named("fcm")}
}

func (f *FCM) Notify(ctx context.Context, token string, msg Message) (string, error) {
	if token == "" {
		return "", ErrNoTarget
	}
	m := message(msg)
	m.Token = token
	id, err := f.client.Send(ctx, m)
	if err != nil {
		notificationsSent.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("fcm send: %w", err)
	}
	notificationsSent.WithLabelValues("sent").Inc()
	f.logger.Debug("notification sent", zap.String("message_id", id))
	return id, nil
}

func (f *FCM) NotifyMany(ctx context.Context, tokens []string, msg Message) (BatchResult, error) {
	tokens = nonEmpty(tokens)
	if len(tokens) == 0 {
		return BatchResult{}, ErrNoTarget
	}
	m := message(msg)
	resp, err := f.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: m.Notification,
		Data:         m.Data,
		Android:      m.Android,
		APNS:         m.APNS,
	})
	if err != nil {
		notificationsSent.WithLabelValues("failed").Add(float64(len(tokens)))
		return BatchResult{}, fmt.Errorf("fcm multicast: %w", err)
	}
	res := BatchResult{SuccessCount: resp.SuccessCount, FailureCount: resp.FailureCount, Results: make([]SendResult, 0, len(resp.Responses))}
	for i, r := range resp.Responses {
		var out SendResult
		if i < len(tokens) {
			out.Token = tokens[i]
		}
		if r.Success {
			out.MessageID = r.MessageID
		} else {
			err := r.Error
			if err == nil {
				err = errors.New("unknown failure")
			}
			out.Err = fmt.Errorf("token %d: %w", i, err)
		}
		res.Results = append(res.Results, out)
	}
	notificationsSent.WithLabelValues("sent").Add(float64(res.SuccessCount))
	notificationsSent.WithLabelValues("failed").Add(float64(res.FailureCount))
	return res, nil
}

// NotifyTopic broadcasts to every device subscribed to topic.
func (f *FCM) NotifyTopic(ctx context.Context, topic string, msg Message) (string, error) {
	if topic == "" {
		return "", ErrNoTarget
	}
	m := message(msg)
	m.Topic = topic
	id, err := f.client.Send(ctx, m)
	if err != nil {
		notificationsSent.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("fcm topic send: %w", err)
	}
	notificationsSent.WithLabelValues("sent").Inc()
	return id, nil
}

// ValidateToken performs a dry-run send to check that token is still registered.
func (f *FCM) ValidateToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrNoTarget
	}
	_, err := f.client.SendDryRun(ctx, &messaging.Message{Token: token})
	if err != nil {
		return fmt.Errorf("fcm validate: %w", err)
	}
	return nil
}

func message(msg Message) *messaging.Message {
	badge := 1
	return &messaging.Message{
		Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
		Data:         StringData(msg.Data),
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:       "default",
				ClickAction: "FLUTTER_NOTIFICATION_CLICK",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default", Badge: &badge},
			},
		},
	}
}

func nonEmpty(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
