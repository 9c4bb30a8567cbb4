package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-chat-notifier/internal/notify"
	"github.com/tinywideclouds/go-chat-notifier/pkg/push"
)

// FanOuter is the slice of notify.Notifier the pipeline needs.
type FanOuter interface {
	FanOut(ctx context.Context, event push.MessageEvent) (notify.FanOutResult, error)
}

// NewProcessor runs each event through the fan-out notifier. A chat with
// nobody to notify is a completed message; directory failures are returned
// so the message is redelivered.
func NewProcessor(
	notifier FanOuter,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[push.MessageEvent] {

	return func(ctx context.Context, original messagepipeline.Message, event *push.MessageEvent) error {
		procLogger := logger.With(
			"chat_id", event.ChatID,
			"message_id", event.MessageID,
			"pubsub_msg_id", original.ID,
		)

		result, err := notifier.FanOut(ctx, *event)
		if errors.Is(err, notify.ErrNoRecipients) {
			procLogger.Info("No recipients for chat message; dropping.")
			return nil
		}
		if err != nil {
			procLogger.Error("Fan-out failed", "err", err)
			return err
		}

		procLogger.Info("Fan-out complete",
			"recipients", result.Recipients,
			"dispatched", result.Dispatched,
			"failed", result.Failed,
		)
		return nil
	}
}
