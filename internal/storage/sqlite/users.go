package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/storage"
)

// UpsertUser inserts the user on first contact and refreshes names afterwards.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *models.User) error {
	if user.RegisteredAt == 0 {
		user.RegisteredAt = time.Now().Unix()
	}

	query := `
		INSERT INTO users (id, username, display_name, registered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.DisplayName,
		user.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	return nil
}

// GetUser retrieves a user by their platform ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	query := `
		SELECT id, username, display_name, registered_at
		FROM users
		WHERE id = ?
	`

	user := &models.User{}
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.RegisteredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetUsers retrieves multiple users by their IDs.
// Users that don't exist are omitted from the result.
func (s *SQLiteStore) GetUsers(ctx context.Context, userIDs []int64) (map[int64]*models.User, error) {
	users := make(map[int64]*models.User, len(userIDs))
	if len(userIDs) == 0 {
		return users, nil
	}

	query := `
		SELECT id, username, display_name, registered_at
		FROM users
		WHERE id IN (` + placeholders(len(userIDs)) + `)`

	rows, err := s.db.QueryContext(ctx, query, int64Args(userIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		user := &models.User{}
		if err := rows.Scan(&user.ID, &user.Username, &user.DisplayName, &user.RegisteredAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// AddMember records a membership. Repeated calls are no-ops.
func (s *SQLiteStore) AddMember(ctx context.Context, chatID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO group_users (chat_id, user_id, joined_at) VALUES (?, ?, ?)",
		chatID, userID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// ListMembers returns every member of the group ordered by display name.
func (s *SQLiteStore) ListMembers(ctx context.Context, chatID int64) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.display_name, u.registered_at
		FROM users u
		JOIN group_users gu ON gu.user_id = u.id
		WHERE gu.chat_id = ?
		ORDER BY u.display_name, u.id`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*models.User
	for rows.Next() {
		user := &models.User{}
		if err := rows.Scan(&user.ID, &user.Username, &user.DisplayName, &user.RegisteredAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}

	return members, nil
}
