package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"slices"
	"strings"

	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-chat-notifier/internal/notify"
	"github.com/tinywideclouds/go-chat-notifier/pkg/push"
)

const (
	bodySent         = "Sent"
	bodyNoRecipients = "No recipients"
	bodyNoFCMToken   = "No FCM token"
)

// AllowedHeaders are the request headers browser clients send with these calls.
var AllowedHeaders = []string{"authorization", "x-client-info", "apikey", "content-type"}

// Notifier is the part of notify.Notifier the handlers call.
type Notifier interface {
	FanOut(ctx context.Context, event push.MessageEvent) (notify.FanOutResult, error)
	Direct(ctx context.Context, dm push.DirectMessage) (json.RawMessage, error)
}

type NotifyAPI struct {
	Notifier Notifier
	Logger   *slog.Logger
	validate *validator.Validate
}

func NewNotifyAPI(notifier Notifier, logger *slog.Logger) *NotifyAPI {
	v := validator.New()
	// Report fields by their wire names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &NotifyAPI{
		Notifier: notifier,
		Logger:   logger,
		validate: v,
	}
}

// CorsMiddleware applies the cross-origin policy. With a wildcard origin every
// response carries the permissive headers, whether or not the request sent an
// Origin. OPTIONS requests are passed through so Preflight can write the body.
func CorsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	chiCors := cors.Handler(cors.Options{
		AllowedOrigins:     allowedOrigins,
		AllowedMethods:     []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders:     AllowedHeaders,
		OptionsPassthrough: true,
	})
	if !slices.Contains(allowedOrigins, "*") {
		return chiCors
	}

	allowHeaders := strings.Join(AllowedHeaders, ", ")
	return func(next http.Handler) http.Handler {
		inner := chiCors(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			inner.ServeHTTP(w, r)
		})
	}
}

// Preflight is the bare success for OPTIONS.
func (api *NotifyAPI) Preflight(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

// SendChatNotification fans a chat message out to the other participants.
func (api *NotifyAPI) SendChatNotification(w http.ResponseWriter, r *http.Request) {
	log := api.Logger.With("request_id", uuid.NewString(), "handler", "SendChatNotification")

	var event push.MessageEvent
	if err := api.decode(r, &event); err != nil {
		log.Warn("Rejected chat notification", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err := api.Notifier.FanOut(r.Context(), event)
	switch {
	case errors.Is(err, notify.ErrNoRecipients):
		writeText(w, http.StatusOK, bodyNoRecipients)
	case err != nil:
		log.Error("Chat notification failed", "chat_id", event.ChatID, "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
	default:
		writeText(w, http.StatusOK, bodySent)
	}
}

type directResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
}

// SendPushNotification delivers one direct push and echoes the provider response.
func (api *NotifyAPI) SendPushNotification(w http.ResponseWriter, r *http.Request) {
	log := api.Logger.With("request_id", uuid.NewString(), "handler", "SendPushNotification")

	var dm push.DirectMessage
	if err := api.decode(r, &dm); err != nil {
		log.Warn("Rejected push notification", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := api.Notifier.Direct(r.Context(), dm)
	switch {
	case errors.Is(err, notify.ErrNoPushToken):
		response.WriteJSONError(w, http.StatusBadRequest, bodyNoFCMToken)
	case err != nil:
		log.Error("Push notification failed", "receiver_id", dm.ReceiverID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, err.Error())
	default:
		response.WriteJSON(w, http.StatusOK, directResponse{Success: true, Result: result})
	}
}

func (api *NotifyAPI) decode(r *http.Request, dest any) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	if err := api.validate.Struct(dest); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return fmt.Errorf("missing required field(s): %s", strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}
