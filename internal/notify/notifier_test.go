package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tinywideclouds/go-chat-notifier/internal/notify"
	"github.com/tinywideclouds/go-chat-notifier/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) DisplayName(ctx context.Context, userID string) (string, bool, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockDirectory) ChatRecipients(ctx context.Context, chatID, excludeUserID string) ([]push.Recipient, error) {
	args := m.Called(ctx, chatID, excludeUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]push.Recipient), args.Error(1)
}

func (m *mockDirectory) PushToken(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

// recordingDispatcher captures every message and fails for tokens listed in failFor.
type recordingDispatcher struct {
	mu      sync.Mutex
	sent    []push.Message
	failFor map[string]bool
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg push.Message) (json.RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	if d.failFor[msg.Token] {
		return nil, errors.New("provider rejected")
	}
	return json.RawMessage(`{"success":1}`), nil
}

func (d *recordingDispatcher) tokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.sent))
	for _, m := range d.sent {
		out = append(out, m.Token)
	}
	return out
}

// --- Tests ---

func TestFanOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	logger := newTestLogger()
	event := push.MessageEvent{MessageID: "m1", ChatID: "c1", SenderID: "s1", Content: "hello there"}

	t.Run("Dispatches only to token holders", func(t *testing.T) {
		dir := new(mockDirectory)
		dir.On("DisplayName", mock.Anything, "s1").Return("Alice", true, nil)
		dir.On("ChatRecipients", mock.Anything, "c1", "s1").Return([]push.Recipient{
			{UserID: "u1", PushToken: "T1"},
			{UserID: "u2"},
		}, nil)
		dispatcher := &recordingDispatcher{}

		n := notify.New(dir, dispatcher, logger)
		result, err := n.FanOut(ctx, event)

		require.NoError(t, err)
		assert.Equal(t, notify.FanOutResult{Recipients: 1, Dispatched: 1}, result)
		require.Len(t, dispatcher.sent, 1)
		msg := dispatcher.sent[0]
		assert.Equal(t, "T1", msg.Token)
		assert.Equal(t, "Alice", msg.Title)
		assert.Equal(t, "hello there", msg.Body)
		assert.Equal(t, "default", msg.Sound)
		assert.Equal(t, map[string]string{"type": "chat_message", "chat_id": "c1", "message_id": "m1"}, msg.Data)
		dir.AssertExpectations(t)
	})

	t.Run("Unknown sender falls back to default title", func(t *testing.T) {
		dir := new(mockDirectory)
		dir.On("DisplayName", mock.Anything, "s1").Return("", false, nil)
		dir.On("ChatRecipients", mock.Anything, "c1", "s1").Return([]push.Recipient{
			{UserID: "u1", PushToken: "T1"},
			{UserID: "u3", PushToken: "T3"},
		}, nil)
		dispatcher := &recordingDispatcher{}

		_, err := notify.New(dir, dispatcher, logger).FanOut(ctx, event)

		require.NoError(t, err)
		require.Len(t, dispatcher.sent, 2)
		for _, msg := range dispatcher.sent {
			assert.Equal(t, "New Message", msg.Title)
		}
	})

	t.Run("Exactly K dispatches for K token holders, never the sender", func(t *testing.T) {
		dir := new(mockDirectory)
		dir.On("DisplayName", mock.Anything, "s1").Return("Alice", true, nil)
		// A backend that ignores the exclusion must still not reach the sender.
		dir.On("ChatRecipients", mock.Anything, "c1", "s1").Return([]push.Recipient{
			{UserID: "s1", PushToken: "SELF"},
			{UserID: "u1", PushToken: "T1"},
			{UserID: "u2", PushToken: ""},
			{UserID: "u3", PushToken: "T3"},
			{UserID: "u4", PushToken: "T4"},
		}, nil)
		dispatcher := &recordingDispatcher{}

		result, err := notify.New(dir, dispatcher, logger, notify.WithMaxInFlight(2)).FanOut(ctx, event)

		require.NoError(t, err)
		assert.Equal(t, 3, result.Recipients)
		assert.ElementsMatch(t, []string{"T1", "T3", "T4"}, dispatcher.tokens())
		assert.NotContains(t, dispatcher.tokens(), "SELF")
	})

	t.Run("No participants yields ErrNoRecipients without dispatch", func(t *testing.T) {
		dir := new(mockDirectory)
		dir.On("DisplayName", mock.Anything, "s1").Return("Alice", true, nil)
		dir.On("ChatRecipients", mock.Anything, "c1", "s1").Return([]push.Recipient{}, nil)
		dispatcher := &recordingDispatcher{}

		_, err := notify.New(dir, dispatcher, logger).FanOut(ctx, event)

		assert.ErrorIs(t, err, notify.ErrNoRecipients)
		assert.Empty(t, dispatcher.sent)
	})

	t.Run("Participants without tokens yield ErrNoRecipients", func(t *testing.T) {
		dir := new(mockDirectory)
		dir.On("DisplayName", mock.Anything, "s1").Return("Alice", true, nil)
		dir.On("ChatRecipients", mock.Anything, "c1", "s1").Return([]push.Recipient{
			{UserID: "u1"}, {UserID: "u2", PushToken: " "},
		}, nil)
		dispatcher := &recordingDispatcher{}

		_, err := notify.New(dir, dispatcher, logger).FanOut(ctx, event)

		assert.ErrorIs(t, err, notify.ErrNoRecipients)
		assert.Empty(t, dispatcher.sent)
	})

	t.Run("Failed dispatch does not affect the outcome or the others", func(t *testing.T) {
		dir := new(mockDirectory)
		dir.On("DisplayName", mock.Anything, "s1").Return("Alice", true, nil)
		dir.On("ChatRecipients", mock.Anything, "c1", "s1").Return([]push.Recipient{
			{UserID: "u1", PushToken: "BAD"},
			{UserID: "u2", PushToken: "T2"},
		}, nil)
		dispatcher := &recordingDispatcher{failFor: map[string]bool{"BAD": true}}
		metrics := notify.NewMetrics(prometheus.NewRegistry())

		result, err := notify.New(dir, dispatcher, logger, notify.WithMetrics(metrics)).FanOut(ctx, event)

		require.NoError(t, err)
		assert.Equal(t, notify.FanOutResult{Recipients: 2, Dispatched: 1, Failed: 1}, result)
		assert.ElementsMatch(t, []string{"BAD", "T2"}, dispatcher.tokens())
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DispatchCount("fanout", "ok")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DispatchCount("fanout", "error")))
	})

	t.Run("Sender lookup failure is an error", func(t *testing.T) {
		dir := new(mockDirectory)
		dir.On("DisplayName", mock.Anything, "s1").Return("", false, errors.New("connection refused"))
		dispatcher := &recordingDispatcher{}

		_, err := notify.New(dir, dispatcher, logger).FanOut(ctx, event)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		assert.Empty(t, dispatcher.sent)
	})

	t.Run("Participant lookup failure is an error", func(t *testing.T) {
		dir := new(mockDirectory)
		dir.On("DisplayName", mock.Anything, "s1").Return("Alice", true, nil)
		dir.On("ChatRecipients", mock.Anything, "c1", "s1").Return(nil, errors.New("relation does not exist"))
		dispatcher := &recordingDispatcher{}

		_, err := notify.New(dir, dispatcher, logger).FanOut(ctx, event)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "relation does not exist")
		assert.Empty(t, dispatcher.sent)
	})

	t.Run("Dispatches survive a cancelled request", func(t *testing.T) {
		dir := new(mockDirectory)
		dir.On("DisplayName", mock.Anything, "s1").Return("Alice", true, nil)
		dir.On("ChatRecipients", mock.Anything, "c1", "s1").Return([]push.Recipient{{UserID: "u1", PushToken: "T1"}}, nil)
		dispatcher := &ctxCheckingDispatcher{}

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := notify.New(dir, dispatcher, logger).FanOut(cctx, event)

		require.NoError(t, err)
		assert.NoError(t, dispatcher.seenErr)
	})
}

type ctxCheckingDispatcher struct {
	seenErr error
}

func (d *ctxCheckingDispatcher) Dispatch(ctx context.Context, _ push.Message) (json.RawMessage, error) {
	d.seenErr = ctx.Err()
	return json.RawMessage(`{}`), nil
}

func TestDirect(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	dm := push.DirectMessage{ReceiverID: "r1", SenderID: "s1", SenderName: "Bob", Message: "ping"}

	t.Run("Returns the provider response verbatim", func(t *testing.T) {
		dir := new(mockDirectory)
		dir.On("PushToken", mock.Anything, "r1").Return("T-r1", nil)
		dispatcher := &recordingDispatcher{}

		result, err := notify.New(dir, dispatcher, logger).Direct(ctx, dm)

		require.NoError(t, err)
		assert.JSONEq(t, `{"success":1}`, string(result))
		require.Len(t, dispatcher.sent, 1)
		assert.Equal(t, "T-r1", dispatcher.sent[0].Token)
		assert.Equal(t, "Bob", dispatcher.sent[0].Title)
		assert.Equal(t, "high", dispatcher.sent[0].Priority)
	})

	t.Run("Missing token", func(t *testing.T) {
		dir := new(mockDirectory)
		dir.On("PushToken", mock.Anything, "r1").Return("", nil)
		dispatcher := &recordingDispatcher{}

		_, err := notify.New(dir, dispatcher, logger).Direct(ctx, dm)

		assert.ErrorIs(t, err, notify.ErrNoPushToken)
		assert.Empty(t, dispatcher.sent)
	})

	t.Run("Blank receiver has no token and skips the lookup", func(t *testing.T) {
		dir := new(mockDirectory)
		dispatcher := &recordingDispatcher{}

		_, err := notify.New(dir, dispatcher, logger).Direct(ctx, push.DirectMessage{Message: "ping"})

		assert.ErrorIs(t, err, notify.ErrNoPushToken)
		dir.AssertNotCalled(t, "PushToken", mock.Anything, mock.Anything)
		assert.Empty(t, dispatcher.sent)
	})

	t.Run("Provider failure is returned", func(t *testing.T) {
		dir := new(mockDirectory)
		dir.On("PushToken", mock.Anything, "r1").Return("BAD", nil)
		dispatcher := &recordingDispatcher{failFor: map[string]bool{"BAD": true}}

		_, err := notify.New(dir, dispatcher, logger).Direct(ctx, dm)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider rejected")
	})

	t.Run("Lookup failure is returned", func(t *testing.T) {
		dir := new(mockDirectory)
		dir.On("PushToken", mock.Anything, "r1").Return("", errors.New("timeout"))

		_, err := notify.New(dir, &recordingDispatcher{}, logger).Direct(ctx, dm)

		require.Error(t, err)
		assert.NotErrorIs(t, err, notify.ErrNoPushToken)
	})
}
