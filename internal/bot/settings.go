package bot

import (
	"context"
	"fmt"

	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/render"
)

// onSettings runs the settings editor. Only the holder of the group's settings lock may
// change anything; the lock is renewed on every toggle and released on Done.
func (b *Bot) onSettings(ctx context.Context, t *turn, cb render.Callback) error {
	switch cb.Action {
	case render.SetOpen:
		if err := b.locks.Acquire(ctx, t.ChatID, models.LockSettingsEditor, t.UserID); err != nil {
			return err
		}
		return b.showSettings(ctx, t)

	case render.SetToggle:
		if err := b.locks.Renew(ctx, t.ChatID, models.LockSettingsEditor, t.UserID); err != nil {
			return err
		}
		group, err := b.store.GetGroup(ctx, t.ChatID)
		if err != nil {
			return fmt.Errorf("failed to load group: %w", err)
		}
		settings := group.Settings
		on, ok := settings.Toggle(models.SettingsToggle(cb.ID), t.UserID)
		if !ok {
			b.logger.Warn("Unknown settings toggle", "toggle", cb.ID)
			return nil
		}
		if err := b.store.UpdateGroupSettings(ctx, t.ChatID, settings); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		b.logger.Info("Settings changed", "chat_id", t.ChatID, "user_id", t.UserID, "toggle", cb.ID, "on", on)
		t.answer = "Saved."
		return b.showSettings(ctx, t)

	case render.SetDone:
		if err := b.locks.Release(ctx, t.ChatID, models.LockSettingsEditor, t.UserID); err != nil {
			return err
		}
		out, _, err := b.mainMenu(ctx, t.ChatID)
		if err != nil {
			return err
		}
		return b.refresh(ctx, t, 0, out)
	}
	return nil
}

func (b *Bot) showSettings(ctx context.Context, t *turn) error {
	group, title, err := b.groupTitle(ctx, t.ChatID)
	if err != nil {
		return err
	}
	editor, err := b.store.GetUser(ctx, t.UserID)
	if err != nil {
		return fmt.Errorf("failed to load editor: %w", err)
	}
	return b.refresh(ctx, t, 0, b.render.Settings(title, group.Settings, t.UserID, editor.Name()))
}
