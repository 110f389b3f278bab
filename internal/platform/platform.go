// Package platform describes the chat platform the bot talks to: the outbound Messenger
// and the inbound Event.
package platform

import (
	"context"
	"errors"
)

// ErrMessageGone is returned when the target message no longer exists on the platform.
var ErrMessageGone = errors.New("platform: message no longer exists")

// Button is one inline keyboard button. Data is returned in the callback event.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// Keyboard is a grid of inline buttons, one slice per row.
type Keyboard [][]Button

// Message is an outbound text message.
type Message struct {
	ChatID   int64    `json:"chat_id"`
	Text     string   `json:"text"`
	Keyboard Keyboard `json:"keyboard,omitempty"`
	// ReplyTo threads the message under another one when non-zero.
	ReplyTo int64 `json:"reply_to,omitempty"`
}

// Member is a chat member as reported by the platform.
type Member struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	IsBot       bool   `json:"is_bot"`
}

// Messenger is the outbound side of the chat platform.
type Messenger interface {
	SendMessage(ctx context.Context, msg Message) (int64, error)
	// EditMessage replaces the text and keyboard of a message; ErrMessageGone if it vanished.
	EditMessage(ctx context.Context, chatID, messageID int64, text string, kb Keyboard) error
	// DeleteMessage removes a message. Deleting a vanished message returns ErrMessageGone.
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	// ForwardMessage copies a message into toChatID and returns the copy's id.
	ForwardMessage(ctx context.Context, toChatID, fromChatID, messageID int64) (int64, error)
	ChatTitle(ctx context.Context, chatID int64) (string, error)
	ChatMembers(ctx context.Context, chatID int64) ([]Member, error)
}

// EventKind discriminates inbound events.
type EventKind string

const (
	EventText       EventKind = "text"
	EventAttachment EventKind = "attachment"
	EventCallback   EventKind = "callback"
)

// Event is one inbound update delivered by the platform.
type Event struct {
	Kind EventKind `json:"kind"`

	ChatID      int64  `json:"chat_id"`
	ChatTitle   string `json:"chat_title,omitempty"`
	UserID      int64  `json:"user_id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	MessageID   int64  `json:"message_id,omitempty"`

	// Text holds the message text of text events.
	Text string `json:"text,omitempty"`

	// CallbackID and Data are set on callback events. MessageID is then the message that
	// carried the pressed button.
	CallbackID string `json:"callback_id,omitempty"`
	Data       string `json:"data,omitempty"`

	// Attachment fields.
	FileID       string `json:"file_id,omitempty"`
	MIME         string `json:"mime,omitempty"`
	Size         int64  `json:"size,omitempty"`
	MediaGroupID string `json:"media_group_id,omitempty"`
}
