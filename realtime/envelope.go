package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Frame type discriminators used on the chat socket, both directions.
const (
	frameChatMessage  = "chat_message"
	frameUserStatus   = "user_status"
	frameTypingStatus = "typing_status"
	frameMessagesRead = "messages_read"
	framePong         = "pong"

	frameTypingStart = "typing_start"
	frameTypingStop  = "typing_stop"
	frameMarkRead    = "mark_read"
	framePing        = "ping"
)

// ChatMessage is a message delivered on a channel.
type ChatMessage struct {
	ID       string    `json:"id"`
	SenderID string    `json:"sender_id"`
	Body     string    `json:"message"`
	SentAt   time.Time `json:"sent_at"`
}

// UserStatus reports a participant going online or offline.
type UserStatus struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// TypingStatus reports a participant starting or stopping typing.
type TypingStatus struct {
	UserID string `json:"user_id"`
	Typing bool   `json:"typing"`
}

// MessagesRead reports messages acknowledged by a participant.
type MessagesRead struct {
	UserID     string   `json:"user_id"`
	MessageIDs []string `json:"message_ids"`
}

// envelope is the wire shape shared by every frame. Incoming frames are
// first decoded to read the discriminator, then re-decoded into the
// typed payload.
type envelope struct {
	Type       string   `json:"type"`
	ID         string   `json:"id,omitempty"`
	Message    string   `json:"message,omitempty"`
	MessageIDs []string `json:"message_ids,omitempty"`
}

func marshalFrame(frameType string, mutate func(*envelope)) ([]byte, error) {
	e := envelope{Type: frameType, ID: uuid.NewString()}
	if mutate != nil {
		mutate(&e)
	}
	return json.Marshal(e)
}
