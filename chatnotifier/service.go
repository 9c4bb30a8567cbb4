// Package chatnotifier assembles the HTTP entry points and the optional
// Pub/Sub pipeline around one notifier.
package chatnotifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"

	"github.com/tinywideclouds/go-chat-notifier/chatnotifier/config"
	"github.com/tinywideclouds/go-chat-notifier/internal/api"
	"github.com/tinywideclouds/go-chat-notifier/internal/pipeline"
	"github.com/tinywideclouds/go-chat-notifier/pkg/push"
)

const (
	RouteSendNotification     = "/functions/v1/send-notification"
	RouteSendPushNotification = "/functions/v1/send-push-notification"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[push.MessageEvent]
	logger          *slog.Logger
}

// New assembles the service. A nil consumer disables the streaming pipeline;
// a nil gatherer leaves /metrics unmounted.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	notifier api.Notifier,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Pipeline (optional)
	var streamingService *messagepipeline.StreamingService[push.MessageEvent]
	if consumer != nil {
		processor := pipeline.NewProcessor(notifier, logger.With("component", "pipeline"))
		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.MessageEventTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 3. API
	notifyAPI := api.NewNotifyAPI(notifier, logger.With("component", "api"))

	mux := baseServer.Mux()
	corsMiddleware := api.CorsMiddleware(cfg.AllowedOrigins)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(handlerFunc))
	}

	handle("POST "+RouteSendNotification, notifyAPI.SendChatNotification)
	handle("POST "+RouteSendPushNotification, notifyAPI.SendPushNotification)
	handle("OPTIONS "+RouteSendNotification, notifyAPI.Preflight)
	handle("OPTIONS "+RouteSendPushNotification, notifyAPI.Preflight)

	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Core processing pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
