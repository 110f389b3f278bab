// Package notice sends short-lived messages that delete themselves.
package notice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/splitbot/internal/platform"
	"github.com/mmynk/splitbot/internal/timers"
)

// DefaultTTL is how long a notice stays visible.
const DefaultTTL = 5 * time.Second

// deleteTimeout bounds the delayed delete call.
const deleteTimeout = 10 * time.Second

// Notifier posts notices and schedules their deletion on the timer registry.
type Notifier struct {
	messenger platform.Messenger
	timers    *timers.Registry
	ttl       time.Duration
	logger    *slog.Logger
}

// New creates a Notifier whose notices disappear after ttl.
func New(messenger platform.Messenger, registry *timers.Registry, ttl time.Duration, logger *slog.Logger) *Notifier {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{messenger: messenger, timers: registry, ttl: ttl, logger: logger}
}

// Key is the timer key of the deletion of messageID in chatID.
func Key(chatID, messageID int64) string {
	return fmt.Sprintf("notice:%d:%d", chatID, messageID)
}

// Send posts text into chatID and deletes it after the TTL.
func (n *Notifier) Send(ctx context.Context, chatID int64, text string) (int64, error) {
	id, err := n.messenger.SendMessage(ctx, platform.Message{ChatID: chatID, Text: text})
	if err != nil {
		return 0, fmt.Errorf("failed to send notice: %w", err)
	}
	n.DeleteLater(chatID, id)
	return id, nil
}

// DeleteLater removes an existing message after the TTL.
func (n *Notifier) DeleteLater(chatID, messageID int64) {
	n.timers.Schedule(Key(chatID, messageID), n.ttl, func() {
		ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
		defer cancel()
		err := n.messenger.DeleteMessage(ctx, chatID, messageID)
		if err != nil && !errors.Is(err, platform.ErrMessageGone) {
			n.logger.Warn("Failed to delete notice", "chat_id", chatID, "message_id", messageID, "error", err)
		}
	})
}
