// Package fcmlegacy talks to FCM's legacy HTTP endpoint, authenticated with a
// server key.
package fcmlegacy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-chat-notifier/pkg/push"
)

const (
	DefaultEndpoint = "https://fcm.googleapis.com/fcm/send"
	DefaultTimeout  = 30 * time.Second

	maxErrorExcerpt = 1024
	maxResponseSize = 1 << 20
)

type notificationBody struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound,omitempty"`
}

type requestBody struct {
	To           string            `json:"to"`
	Priority     string            `json:"priority,omitempty"`
	Notification notificationBody  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type Config struct {
	Endpoint  string
	ServerKey string
	Timeout   time.Duration
}

type Dispatcher struct {
	endpoint   string
	serverKey  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDispatcher builds a dispatcher with its own http.Client. Use
// NewDispatcherWithClient to share or stub the transport.
func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewDispatcherWithClient(cfg, &http.Client{Timeout: timeout}, logger)
}

func NewDispatcherWithClient(cfg Config, client *http.Client, logger *slog.Logger) *Dispatcher {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Dispatcher{
		endpoint:   endpoint,
		serverKey:  cfg.ServerKey,
		httpClient: client,
		logger:     logger.With("component", "FCMLegacyDispatcher"),
	}
}

// Dispatch posts one message. Any JSON response is returned as-is, whatever the
// status code and even when it reports a per-token failure. Only transport
// failures and non-JSON bodies are errors.
func (d *Dispatcher) Dispatch(ctx context.Context, msg push.Message) (json.RawMessage, error) {
	payload, err := json.Marshal(requestBody{
		To:       msg.Token,
		Priority: msg.Priority,
		Notification: notificationBody{
			Title: msg.Title,
			Body:  msg.Body,
			Sound: msg.Sound,
		},
		Data: msg.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "key="+d.serverKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fcm transport failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read fcm response: %w", err)
	}

	if !json.Valid(body) {
		excerpt := body
		if len(excerpt) > maxErrorExcerpt {
			excerpt = excerpt[:maxErrorExcerpt]
		}
		return nil, fmt.Errorf("fcm returned status %d with a non-JSON body: %s", resp.StatusCode, bytes.TrimSpace(excerpt))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.logger.Warn("FCM rejected request", "status", resp.StatusCode)
	}
	return json.RawMessage(body), nil
}
