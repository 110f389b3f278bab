package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/storage"
)

const draftColumns = `id, chat_id, user_id, kind, step, payload_json, message_id,
	revision, created_at, updated_at, expires_at`

// CreateDraft persists a new draft. Any existing row for (chat, user) yields ErrDraftExists.
func (s *SQLiteStore) CreateDraft(ctx context.Context, draft *models.Draft) error {
	if draft.ID == "" {
		draft.ID = uuid.New().String()
	}
	now := time.Now().Unix()
	if draft.CreatedAt == 0 {
		draft.CreatedAt = now
	}
	if draft.UpdatedAt == 0 {
		draft.UpdatedAt = draft.CreatedAt
	}
	if draft.Step == 0 {
		draft.Step = 1
	}

	payload, err := models.EncodePayload(draft.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO drafts (`+draftColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		draft.ID, draft.ChatID, draft.UserID, string(draft.Kind), draft.Step, string(payload),
		nullInt(draft.MessageID), draft.Revision, draft.CreatedAt, draft.UpdatedAt, draft.ExpiresAt,
	)
	if isUniqueViolation(err) {
		return storage.ErrDraftExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert draft: %w", err)
	}
	return nil
}

// GetDraft retrieves a draft by ID.
func (s *SQLiteStore) GetDraft(ctx context.Context, draftID string) (*models.Draft, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+draftColumns+" FROM drafts WHERE id = ?", draftID)
	draft, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft %s: %w", draftID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}
	return draft, nil
}

// FindDraft retrieves the draft of userID in chatID, expired or not.
func (s *SQLiteStore) FindDraft(ctx context.Context, chatID, userID int64) (*models.Draft, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+draftColumns+" FROM drafts WHERE chat_id = ? AND user_id = ?", chatID, userID)
	draft, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft for user %d in %d: %w", userID, chatID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find draft: %w", err)
	}
	return draft, nil
}

// UpdateDraft writes the mutable fields guarded by the revision counter.
func (s *SQLiteStore) UpdateDraft(ctx context.Context, draft *models.Draft) error {
	payload, err := models.EncodePayload(draft.Payload)
	if err != nil {
		return err
	}
	if draft.UpdatedAt == 0 {
		draft.UpdatedAt = time.Now().Unix()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE drafts
		 SET step = ?, payload_json = ?, message_id = ?, updated_at = ?, expires_at = ?, revision = revision + 1
		 WHERE id = ? AND revision = ?`,
		draft.Step, string(payload), nullInt(draft.MessageID), draft.UpdatedAt, draft.ExpiresAt,
		draft.ID, draft.Revision,
	)
	if err != nil {
		return fmt.Errorf("failed to update draft: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check draft update: %w", err)
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM drafts WHERE id = ?", draft.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("draft %s: %w", draft.ID, storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to check draft: %w", err)
		}
		return storage.ErrStaleDraft
	}

	draft.Revision++
	return nil
}

// DeleteDraft removes a draft row. Missing drafts are not an error.
func (s *SQLiteStore) DeleteDraft(ctx context.Context, draftID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM drafts WHERE id = ?", draftID); err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}

// DeleteExpiredDraft removes a draft only while its revision is unchanged and it is expired
// at now. It reports whether a row was removed.
func (s *SQLiteStore) DeleteExpiredDraft(ctx context.Context, draftID string, revision, now int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM drafts WHERE id = ? AND revision = ? AND expires_at <= ?", draftID, revision, now)
	if err != nil {
		return false, fmt.Errorf("failed to delete expired draft: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check expired draft delete: %w", err)
	}
	return n == 1, nil
}

// ListExpiredDrafts returns drafts whose expiry is at or before now.
func (s *SQLiteStore) ListExpiredDrafts(ctx context.Context, now int64) ([]*models.Draft, error) {
	return s.queryDrafts(ctx,
		"SELECT "+draftColumns+" FROM drafts WHERE expires_at <= ? ORDER BY expires_at", now)
}

// ListDrafts returns every draft in a group.
func (s *SQLiteStore) ListDrafts(ctx context.Context, chatID int64) ([]*models.Draft, error) {
	return s.queryDrafts(ctx,
		"SELECT "+draftColumns+" FROM drafts WHERE chat_id = ? ORDER BY created_at", chatID)
}

func (s *SQLiteStore) queryDrafts(ctx context.Context, query string, args ...any) ([]*models.Draft, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	defer rows.Close()

	var drafts []*models.Draft
	for rows.Next() {
		draft, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan draft: %w", err)
		}
		drafts = append(drafts, draft)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate drafts: %w", err)
	}
	return drafts, nil
}

func scanDraft(row rowScanner) (*models.Draft, error) {
	var (
		draft     models.Draft
		kind      string
		payload   string
		messageID sql.NullInt64
	)
	if err := row.Scan(&draft.ID, &draft.ChatID, &draft.UserID, &kind, &draft.Step, &payload,
		&messageID, &draft.Revision, &draft.CreatedAt, &draft.UpdatedAt, &draft.ExpiresAt); err != nil {
		return nil, err
	}

	draft.Kind = models.DraftKind(kind)
	draft.MessageID = messageID.Int64

	p, err := models.DecodePayload(draft.Kind, []byte(payload))
	if err != nil {
		return nil, err
	}
	draft.Payload = p
	return &draft, nil
}
