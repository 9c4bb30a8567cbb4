package push

import "strings"

const (
	DefaultTitle    = "New Message"
	DefaultSound    = "default"
	ChatMessageType = "chat_message"
	PriorityHigh    = "high"
)

// MessageEvent is a new chat message that should be announced to the other
// participants of the chat.
type MessageEvent struct {
	MessageID string `json:"message_id" validate:"required"`
	ChatID    string `json:"chat_id" validate:"required"`
	SenderID  string `json:"sender_id" validate:"required"`
	Content   string `json:"content"`
}

// DirectMessage addresses a single receiver.
type DirectMessage struct {
	ReceiverID string `json:"receiver_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Message    string `json:"message" validate:"required"`
}

// Recipient is a chat participant and the push token registered for them, if any.
type Recipient struct {
	UserID    string `json:"user_id"`
	PushToken string `json:"push_token,omitempty"`
}

// HasToken reports whether the recipient can be addressed at all.
func (r Recipient) HasToken() bool {
	return strings.TrimSpace(r.PushToken) != ""
}

// Message is one provider-bound push notification.
type Message struct {
	Token    string
	Title    string
	Body     string
	Sound    string
	Priority string
	Data     map[string]string
}

// ChatMessage builds the push announcing event to the device behind token.
func ChatMessage(event MessageEvent, title, token string) Message {
	return Message{
		Token: token,
		Title: title,
		Body:  ParseContent(event.Content).NotificationBody(),
		Sound: DefaultSound,
		Data: map[string]string{
			"type":       ChatMessageType,
			"chat_id":    event.ChatID,
			"message_id": event.MessageID,
		},
	}
}

// DirectPush builds the high-priority push for a direct message.
func DirectPush(dm DirectMessage, token string) Message {
	return Message{
		Token:    token,
		Title:    dm.SenderName,
		Body:     dm.Message,
		Sound:    DefaultSound,
		Priority: PriorityHigh,
		Data: map[string]string{
			"sender_id":   dm.SenderID,
			"sender_name": dm.SenderName,
			"message":     dm.Message,
		},
	}
}
