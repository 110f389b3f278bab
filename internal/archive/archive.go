// Package archive keeps durable copies of member attachments by forwarding them into a
// dedicated files channel.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mmynk/splitbot/internal/platform"
)

// Channel archives into one files channel through the platform messenger.
type Channel struct {
	messenger platform.Messenger
	channelID int64
	logger    *slog.Logger
}

// New returns an archive that forwards into channelID.
func New(messenger platform.Messenger, channelID int64, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{messenger: messenger, channelID: channelID, logger: logger}
}

// Store forwards the source message and returns the id of the archived copy.
func (c *Channel) Store(ctx context.Context, chatID, messageID int64) (int64, error) {
	id, err := c.messenger.ForwardMessage(ctx, c.channelID, chatID, messageID)
	if err != nil {
		return 0, fmt.Errorf("failed to archive message %d from chat %d: %w", messageID, chatID, err)
	}
	return id, nil
}

// Purge deletes archived copies. Copies that are already gone count as purged; every other
// failure is joined into the returned error after all ids were attempted.
func (c *Channel) Purge(ctx context.Context, archiveIDs ...int64) error {
	var errs []error
	for _, id := range archiveIDs {
		if id == 0 {
			continue
		}
		err := c.messenger.DeleteMessage(ctx, c.channelID, id)
		switch {
		case err == nil, errors.Is(err, platform.ErrMessageGone):
		default:
			c.logger.Warn("Failed to purge archived copy", "archive_message_id", id, "error", err)
			errs = append(errs, fmt.Errorf("failed to purge archived message %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
