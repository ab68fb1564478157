package maxapi

import "fmt"

// Update types delivered by the Bot API.
const (
	UpdateMessageCreated = "message_created"
	UpdateBotStarted     = "bot_started"
)

// User is a messenger account.
type User struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	IsBot  bool   `json:"is_bot"`
}

// BotInfo describes the bot account behind the token.
type BotInfo struct {
	UserID   int64  `json:"user_id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// Recipient addresses the chat a message was posted to.
type Recipient struct {
	ChatID int64 `json:"chat_id"`
}

// MessageBody is the message content. Mid identifies the message for edits.
type MessageBody struct {
	Mid  string `json:"mid"`
	Seq  int64  `json:"seq"`
	Text string `json:"text"`
}

// Message is an inbound or stored chat message.
type Message struct {
	Sender    User        `json:"sender"`
	Recipient Recipient   `json:"recipient"`
	Timestamp int64       `json:"timestamp"`
	Body      MessageBody `json:"body"`
}

// Update is one long-polling event. Message is set for message_created;
// ChatID and User cover chat-level events such as bot_started.
type Update struct {
	UpdateType string   `json:"update_type"`
	Timestamp  int64    `json:"timestamp"`
	Message    *Message `json:"message,omitempty"`
	ChatID     int64    `json:"chat_id,omitempty"`
	User       *User    `json:"user,omitempty"`
}

// UpdatesResponse is the /updates reply. Marker is the cursor to pass on
// the next poll; the server returns only events past it.
type UpdatesResponse struct {
	Updates []Update `json:"updates"`
	Marker  int64    `json:"marker"`
}

// OutgoingMessage is the body of send and edit calls.
type OutgoingMessage struct {
	Text   string `json:"text"`
	Notify bool   `json:"notify"`
	Format string `json:"format,omitempty"`
}

// sendResult wraps the stored message returned by POST /messages.
type sendResult struct {
	Message Message `json:"message"`
}

// APIError is a non-2xx reply from the Bot API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("max api: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}
