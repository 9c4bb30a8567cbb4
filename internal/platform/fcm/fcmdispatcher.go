package fcm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-chat-notifier/pkg/push"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

// NewDispatcher accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

type sendResult struct {
	MessageID string `json:"message_id"`
}

// Dispatch sends through the HTTP v1 API. The response is shaped as
// {"message_id": "..."}.
func (d *Dispatcher) Dispatch(ctx context.Context, msg push.Message) (json.RawMessage, error) {
	m := &messaging.Message{
		Token: msg.Token,
		Data:  msg.Data,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: androidPriority(msg.Priority),
			Notification: &messaging.AndroidNotification{
				Sound: msg.Sound,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: msg.Sound},
			},
		},
	}

	id, err := d.client.Send(ctx, m)
	if err != nil {
		if messaging.IsRegistrationTokenNotRegistered(err) || messaging.IsInvalidArgument(err) {
			d.logger.Warn("FCM rejected token", "err", err)
		}
		return nil, fmt.Errorf("fcm send failed: %w", err)
	}

	return json.Marshal(sendResult{MessageID: id})
}

func androidPriority(p string) string {
	if p == push.PriorityHigh {
		return "high"
	}
	return "normal"
}
