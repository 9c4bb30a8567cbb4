package dispatch

import (
	"context"
	"encoding/json"

	"github.com/tinywideclouds/go-chat-notifier/pkg/push"
)

// Dispatcher defines the contract for a component that hands one notification
// to a push provider (e.g. FCM's legacy HTTP API or the Firebase Admin SDK).
type Dispatcher interface {
	// Dispatch sends msg and returns the provider's raw JSON response.
	Dispatch(ctx context.Context, msg push.Message) (json.RawMessage, error)
}

// Directory defines the read-only lookups the notifiers need from the user store.
type Directory interface {
	// DisplayName returns the user's name. found is false when no user matches.
	DisplayName(ctx context.Context, userID string) (name string, found bool, err error)

	// ChatRecipients returns every participant of chatID except excludeUserID,
	// together with their push token (which may be empty).
	ChatRecipients(ctx context.Context, chatID, excludeUserID string) ([]push.Recipient, error)

	// PushToken returns the user's push token, or "" when none is registered.
	PushToken(ctx context.Context, userID string) (string, error)
}
