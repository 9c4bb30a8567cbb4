// Package pipeline adapts the chat notifier to a Pub/Sub streaming trigger.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-chat-notifier/pkg/push"
)

var validate = validator.New()

// MessageEventTransformer unmarshals and validates a raw payload into a
// push.MessageEvent. Any failure sets skip=true so the StreamingService can
// Nack the message and let the dead-letter policy take it.
func MessageEventTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*push.MessageEvent, bool, error) {
	var event push.MessageEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal message event from message %s: %w", msg.ID, err)
	}
	if err := validate.Struct(&event); err != nil {
		return nil, true, fmt.Errorf("invalid message event in message %s: %w", msg.ID, err)
	}
	return &event, false, nil
}
