// Package platformtest provides an in-memory Messenger for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/mmynk/splitbot/internal/platform"
)

// Sent is a message held by the fake.
type Sent struct {
	ChatID   int64
	ID       int64
	Text     string
	Keyboard platform.Keyboard
	// ForwardedFrom is "chat/message" for forwarded copies.
	ForwardedFrom string
}

// Fake is a thread-safe in-memory Messenger. Messages that were never sent through it are
// treated as existing until deleted, so tests can reference inbound message ids freely.
type Fake struct {
	mu       sync.Mutex
	nextID   int64
	messages map[key]*Sent
	deleted  map[key]bool
	answers  []string
	titles   map[int64]string
	members  map[int64][]platform.Member

	// FailForward, when set, is consulted before every forward.
	FailForward func(fromChatID, messageID int64) error
	// FailEdit, when set, is consulted before every edit.
	FailEdit func(chatID, messageID int64) error
}

type key struct{ chat, msg int64 }

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		nextID:   1000,
		messages: make(map[key]*Sent),
		deleted:  make(map[key]bool),
		titles:   make(map[int64]string),
		members:  make(map[int64][]platform.Member),
	}
}

func (f *Fake) SendMessage(_ context.Context, msg platform.Message) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.messages[key{msg.ChatID, f.nextID}] = &Sent{ChatID: msg.ChatID, ID: f.nextID, Text: msg.Text, Keyboard: msg.Keyboard}
	return f.nextID, nil
}

func (f *Fake) EditMessage(_ context.Context, chatID, messageID int64, text string, kb platform.Keyboard) error {
	if f.FailEdit != nil {
		if err := f.FailEdit(chatID, messageID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key{chatID, messageID}
	if f.deleted[k] {
		return platform.ErrMessageGone
	}
	m, ok := f.messages[k]
	if !ok {
		m = &Sent{ChatID: chatID, ID: messageID}
		f.messages[k] = m
	}
	m.Text, m.Keyboard = text, kb
	return nil
}

func (f *Fake) DeleteMessage(_ context.Context, chatID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key{chatID, messageID}
	if f.deleted[k] {
		return platform.ErrMessageGone
	}
	f.deleted[k] = true
	delete(f.messages, k)
	return nil
}

func (f *Fake) AnswerCallback(_ context.Context, _ string, text string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *Fake) ForwardMessage(_ context.Context, toChatID, fromChatID, messageID int64) (int64, error) {
	if f.FailForward != nil {
		if err := f.FailForward(fromChatID, messageID); err != nil {
			return 0, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleted[key{fromChatID, messageID}] {
		return 0, platform.ErrMessageGone
	}
	f.nextID++
	f.messages[key{toChatID, f.nextID}] = &Sent{
		ChatID:        toChatID,
		ID:            f.nextID,
		ForwardedFrom: fmt.Sprintf("%d/%d", fromChatID, messageID),
	}
	return f.nextID, nil
}

func (f *Fake) ChatTitle(_ context.Context, chatID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.titles[chatID], nil
}

func (f *Fake) ChatMembers(_ context.Context, chatID int64) ([]platform.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Member(nil), f.members[chatID]...), nil
}

// SetChat seeds a chat title and member list.
func (f *Fake) SetChat(chatID int64, title string, members ...platform.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles[chatID] = title
	f.members[chatID] = members
}

// Get returns a live message.
func (f *Fake) Get(chatID, messageID int64) (Sent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[key{chatID, messageID}]
	if !ok {
		return Sent{}, false
	}
	return *m, true
}

// Deleted reports whether the message was deleted through the fake.
func (f *Fake) Deleted(chatID, messageID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleted[key{chatID, messageID}]
}

// Chat returns the live messages of a chat.
func (f *Fake) Chat(chatID int64) []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Sent
	for k, m := range f.messages {
		if k.chat == chatID {
			out = append(out, *m)
		}
	}
	return out
}

// Answers returns every callback answer text in order.
func (f *Fake) Answers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.answers...)
}
