package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/storage"
)

const groupColumns = `chat_id, title, settings_json,
	active_wizard_user_id, active_wizard_locked_at,
	settings_editor_id, settings_locked_at,
	menu_message_id, last_activity_at`

// lockColumns maps a slot to its (holder, locked_at) columns.
func lockColumns(slot models.LockSlot) (string, string, error) {
	switch slot {
	case models.LockActiveWizard:
		return "active_wizard_user_id", "active_wizard_locked_at", nil
	case models.LockSettingsEditor:
		return "settings_editor_id", "settings_locked_at", nil
	default:
		return "", "", fmt.Errorf("unknown lock slot: %q", slot)
	}
}

// EnsureGroup creates the group row if it doesn't exist.
func (s *SQLiteStore) EnsureGroup(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO groups (chat_id, created_at) VALUES (?, ?)",
		chatID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to ensure group: %w", err)
	}
	return nil
}

// GetGroup retrieves a group with its settings and lock slots.
func (s *SQLiteStore) GetGroup(ctx context.Context, chatID int64) (*models.Group, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+groupColumns+" FROM groups WHERE chat_id = ?", chatID)
	group, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %d: %w", chatID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return group, nil
}

// ListGroups returns every known group.
func (s *SQLiteStore) ListGroups(ctx context.Context) ([]*models.Group, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+groupColumns+" FROM groups ORDER BY chat_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}
	return groups, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (*models.Group, error) {
	var (
		group                         models.Group
		settingsJSON                  string
		wizardUser, wizardAt          sql.NullInt64
		editorUser, editorAt          sql.NullInt64
		menuMessageID, lastActivityAt sql.NullInt64
	)
	if err := row.Scan(&group.ChatID, &group.Title, &settingsJSON,
		&wizardUser, &wizardAt, &editorUser, &editorAt,
		&menuMessageID, &lastActivityAt); err != nil {
		return nil, err
	}

	if settingsJSON != "" {
		if err := json.Unmarshal([]byte(settingsJSON), &group.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode settings: %w", err)
		}
	}
	group.ActiveWizard = models.LockHolder{UserID: wizardUser.Int64, LockedAt: wizardAt.Int64}
	group.SettingsEditor = models.LockHolder{UserID: editorUser.Int64, LockedAt: editorAt.Int64}
	group.MenuMessageID = menuMessageID.Int64
	group.LastActivityAt = lastActivityAt.Int64
	return &group, nil
}

// UpdateGroupSettings replaces the group's settings document.
func (s *SQLiteStore) UpdateGroupSettings(ctx context.Context, chatID int64, settings models.GroupSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return s.updateGroup(ctx, chatID, "settings_json = ?", string(data))
}

// SetGroupTitle stores the chat title resolved from the platform.
func (s *SQLiteStore) SetGroupTitle(ctx context.Context, chatID int64, title string) error {
	return s.updateGroup(ctx, chatID, "title = ?", title)
}

// SetMenuMessage records the latest menu message; zero clears it.
func (s *SQLiteStore) SetMenuMessage(ctx context.Context, chatID, messageID int64) error {
	return s.updateGroup(ctx, chatID, "menu_message_id = ?", nullInt(messageID))
}

// TouchGroup records inbound activity.
func (s *SQLiteStore) TouchGroup(ctx context.Context, chatID int64, at int64) error {
	return s.updateGroup(ctx, chatID, "last_activity_at = ?", at)
}

func (s *SQLiteStore) updateGroup(ctx context.Context, chatID int64, set string, value any) error {
	res, err := s.db.ExecContext(ctx, "UPDATE groups SET "+set+" WHERE chat_id = ?", value, chatID)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check group update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("group %d: %w", chatID, storage.ErrNotFound)
	}
	return nil
}

// GetLock returns the current holder of a lock slot.
func (s *SQLiteStore) GetLock(ctx context.Context, chatID int64, slot models.LockSlot) (models.LockHolder, error) {
	holderCol, atCol, err := lockColumns(slot)
	if err != nil {
		return models.LockHolder{}, err
	}

	var holder, lockedAt sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		"SELECT "+holderCol+", "+atCol+" FROM groups WHERE chat_id = ?", chatID,
	).Scan(&holder, &lockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LockHolder{}, fmt.Errorf("group %d: %w", chatID, storage.ErrNotFound)
	}
	if err != nil {
		return models.LockHolder{}, fmt.Errorf("failed to get lock: %w", err)
	}

	return models.LockHolder{UserID: holder.Int64, LockedAt: lockedAt.Int64}, nil
}

// SwapLock sets the slot to next only if it still holds expected.
func (s *SQLiteStore) SwapLock(ctx context.Context, chatID int64, slot models.LockSlot, expected, next models.LockHolder) error {
	holderCol, atCol, err := lockColumns(slot)
	if err != nil {
		return err
	}

	query := "UPDATE groups SET " + holderCol + " = ?, " + atCol + " = ? WHERE chat_id = ? AND " +
		"IFNULL(" + holderCol + ", 0) = ? AND IFNULL(" + atCol + ", 0) = ?"

	var nextHolder, nextAt any
	if next.Held() {
		nextHolder, nextAt = next.UserID, next.LockedAt
	}

	res, err := s.db.ExecContext(ctx, query, nextHolder, nextAt, chatID, expected.UserID, expected.LockedAt)
	if err != nil {
		return fmt.Errorf("failed to swap lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check lock swap: %w", err)
	}
	if n == 0 {
		return storage.ErrLockChanged
	}
	return nil
}

// ListHeldLocks returns held slots locked before lockedBefore, keyed by chat id.
func (s *SQLiteStore) ListHeldLocks(ctx context.Context, slot models.LockSlot, lockedBefore int64) (map[int64]models.LockHolder, error) {
	holderCol, atCol, err := lockColumns(slot)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT chat_id, "+holderCol+", IFNULL("+atCol+", 0) FROM groups WHERE "+holderCol+" IS NOT NULL AND IFNULL("+atCol+", 0) < ?",
		lockedBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list held locks: %w", err)
	}
	defer rows.Close()

	locks := make(map[int64]models.LockHolder)
	for rows.Next() {
		var chatID int64
		var holder models.LockHolder
		if err := rows.Scan(&chatID, &holder.UserID, &holder.LockedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lock: %w", err)
		}
		locks[chatID] = holder
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate locks: %w", err)
	}
	return locks, nil
}
