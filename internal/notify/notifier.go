// Package notify turns chat events into provider dispatches.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-chat-notifier/pkg/dispatch"
	"github.com/tinywideclouds/go-chat-notifier/pkg/push"
)

var (
	// ErrNoRecipients means nobody in the chat can be notified. It is a
	// successful outcome for callers, not a failure.
	ErrNoRecipients = errors.New("no recipients")

	// ErrNoPushToken means the direct receiver has no registered device.
	ErrNoPushToken = errors.New("no push token registered")
)

// FanOutResult summarises one fan-out once every dispatch has settled.
type FanOutResult struct {
	Recipients int
	Dispatched int
	Failed     int
}

// Notifier resolves recipients through a Directory and hands one push per
// recipient to a Dispatcher.
type Notifier struct {
	directory   dispatch.Directory
	dispatcher  dispatch.Dispatcher
	metrics     *Metrics
	logger      *slog.Logger
	maxInFlight int
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithMetrics records dispatch outcomes.
func WithMetrics(m *Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// WithMaxInFlight bounds concurrent dispatches per fan-out. Zero or negative
// means unbounded.
func WithMaxInFlight(limit int) Option {
	return func(n *Notifier) { n.maxInFlight = limit }
}

// New builds a Notifier. The logger gains a component attribute.
func New(directory dispatch.Directory, dispatcher dispatch.Dispatcher, logger *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		directory:  directory,
		dispatcher: dispatcher,
		logger:     logger.With("component", "Notifier"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// FanOut notifies every other participant of event's chat that has a push
// token. Individual dispatch failures are logged and counted but never fail
// the call; only lookups can. Returns ErrNoRecipients when nobody is eligible.
func (n *Notifier) FanOut(ctx context.Context, event push.MessageEvent) (FanOutResult, error) {
	log := n.logger.With("chat_id", event.ChatID, "message_id", event.MessageID)

	title, err := n.senderTitle(ctx, event.SenderID)
	if err != nil {
		return FanOutResult{}, err
	}

	participants, err := n.directory.ChatRecipients(ctx, event.ChatID, event.SenderID)
	if err != nil {
		return FanOutResult{}, fmt.Errorf("failed to fetch chat participants: %w", err)
	}

	recipients := eligible(participants, event.SenderID)
	n.metrics.observeRecipients(len(recipients))
	if len(recipients) == 0 {
		log.Info("No eligible recipients", "participants", len(participants))
		return FanOutResult{}, ErrNoRecipients
	}

	// Dispatches outlive the inbound request; once started they run to completion.
	dispatchCtx := context.WithoutCancel(ctx)
	failures := make([]error, len(recipients))

	var g errgroup.Group
	if n.maxInFlight > 0 {
		g.SetLimit(n.maxInFlight)
	}
	for i, r := range recipients {
		msg := push.ChatMessage(event, title, r.PushToken)
		g.Go(func() error {
			if _, err := n.dispatcher.Dispatch(dispatchCtx, msg); err != nil {
				failures[i] = err
				log.Warn("Push dispatch failed", "user_id", r.UserID, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := FanOutResult{Recipients: len(recipients)}
	for _, err := range failures {
		if err != nil {
			result.Failed++
			n.metrics.dispatched(pathFanOut, err)
			continue
		}
		result.Dispatched++
		n.metrics.dispatched(pathFanOut, nil)
	}

	log.Info("Fan-out settled", "recipients", result.Recipients, "dispatched", result.Dispatched, "failed", result.Failed)
	return result, nil
}

// Direct sends dm to its single receiver and returns the provider response untouched.
// A blank receiver has no token by definition.
func (n *Notifier) Direct(ctx context.Context, dm push.DirectMessage) (json.RawMessage, error) {
	if strings.TrimSpace(dm.ReceiverID) == "" {
		return nil, ErrNoPushToken
	}
	token, err := n.directory.PushToken(ctx, dm.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch push token: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return nil, ErrNoPushToken
	}

	result, err := n.dispatcher.Dispatch(ctx, push.DirectPush(dm, token))
	n.metrics.dispatched(pathDirect, err)
	if err != nil {
		n.logger.Error("Direct push failed", "receiver_id", dm.ReceiverID, "err", err)
		return nil, err
	}
	return result, nil
}

func (n *Notifier) senderTitle(ctx context.Context, senderID string) (string, error) {
	name, found, err := n.directory.DisplayName(ctx, senderID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch sender: %w", err)
	}
	if !found || strings.TrimSpace(name) == "" {
		return push.DefaultTitle, nil
	}
	return name, nil
}

func eligible(participants []push.Recipient, senderID string) []push.Recipient {
	out := make([]push.Recipient, 0, len(participants))
	for _, p := range participants {
		if p.UserID == senderID || !p.HasToken() {
			continue
		}
		out = append(out, p)
	}
	return out
}
