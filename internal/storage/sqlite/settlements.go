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

const settlementColumns = `id, chat_id, from_user_id, to_user_id, amount_u5, status,
	created_at, status_at, message_id`

// CreateSettlement persists a new settlement to the database.
// A settlement that arrives confirmed is netted in the same transaction.
func (s *SQLiteStore) CreateSettlement(ctx context.Context, settlement *models.Settlement, draftID string) error {
	// Generate ID if not set
	if settlement.ID == "" {
		settlement.ID = uuid.New().String()
	}
	if settlement.CreatedAt == 0 {
		settlement.CreatedAt = time.Now().Unix()
	}
	if settlement.Status == "" {
		settlement.Status = models.StatusPending
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO settlements (`+settlementColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			settlement.ID, settlement.ChatID, settlement.FromUserID, settlement.ToUserID,
			settlement.Amount, string(settlement.Status), settlement.CreatedAt,
			nullInt(settlement.StatusAt), nullInt(settlement.MessageID),
		)
		if err != nil {
			return fmt.Errorf("failed to insert settlement: %w", err)
		}

		if settlement.Status == models.StatusConfirmed {
			if err := applyNet(ctx, tx, settlement.ToUserID, settlement.FromUserID, settlement.Amount, settlement.CreatedAt); err != nil {
				return err
			}
		}

		if draftID != "" {
			return consumeDraft(ctx, tx, draftID, models.SettlementRelation(settlement.ID))
		}
		return nil
	})
}

// GetSettlement retrieves a settlement by ID.
func (s *SQLiteStore) GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error) {
	return getSettlement(ctx, s.db, settlementID)
}

func getSettlement(ctx context.Context, q querier, settlementID string) (*models.Settlement, error) {
	row := q.QueryRowContext(ctx, "SELECT "+settlementColumns+" FROM settlements WHERE id = ?", settlementID)
	settlement, err := scanSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("settlement %s: %w", settlementID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return settlement, nil
}

func scanSettlement(row rowScanner) (*models.Settlement, error) {
	var (
		settlement models.Settlement
		status     string
		statusAt   sql.NullInt64
		messageID  sql.NullInt64
	)
	if err := row.Scan(&settlement.ID, &settlement.ChatID, &settlement.FromUserID, &settlement.ToUserID,
		&settlement.Amount, &status, &settlement.CreatedAt, &statusAt, &messageID); err != nil {
		return nil, err
	}
	settlement.Status = models.ShareStatus(status)
	settlement.StatusAt = statusAt.Int64
	settlement.MessageID = messageID.Int64
	return &settlement, nil
}

// SetSettlementMessage records the id of the posted settlement card.
func (s *SQLiteStore) SetSettlementMessage(ctx context.Context, settlementID string, messageID int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE settlements SET message_id = ? WHERE id = ?", nullInt(messageID), settlementID)
	if err != nil {
		return fmt.Errorf("failed to set settlement message: %w", err)
	}
	return expectOneRow(res, "settlement", settlementID)
}

// RejectSettlement moves a pending settlement to rejected.
func (s *SQLiteStore) RejectSettlement(ctx context.Context, settlementID string, at int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return transitionSettlement(ctx, tx, settlementID, models.StatusRejected, at)
	})
}

// ConfirmSettlementAndNet moves a pending settlement to confirmed and nets it.
func (s *SQLiteStore) ConfirmSettlementAndNet(ctx context.Context, settlementID string, at int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := transitionSettlement(ctx, tx, settlementID, models.StatusConfirmed, at); err != nil {
			return err
		}
		settlement, err := getSettlement(ctx, tx, settlementID)
		if err != nil {
			return err
		}
		return applyNet(ctx, tx, settlement.ToUserID, settlement.FromUserID, settlement.Amount, at)
	})
}

// transitionSettlement applies the one-shot pending -> status change.
func transitionSettlement(ctx context.Context, q querier, settlementID string, status models.ShareStatus, at int64) error {
	res, err := q.ExecContext(ctx,
		"UPDATE settlements SET status = ?, status_at = ? WHERE id = ? AND status = ?",
		string(status), at, settlementID, string(models.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check settlement update: %w", err)
	}
	if n == 0 {
		if _, err := getSettlement(ctx, q, settlementID); err != nil {
			return err
		}
		return storage.ErrInvalidTransition
	}
	return nil
}

// DeleteSettlement removes a settlement that never reached the ledger.
func (s *SQLiteStore) DeleteSettlement(ctx context.Context, settlementID string, moveFilesTo *models.Relation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		settlement, err := getSettlement(ctx, tx, settlementID)
		if err != nil {
			return err
		}
		if settlement.Status == models.StatusConfirmed {
			return storage.ErrInvalidTransition
		}

		rel := models.SettlementRelation(settlementID)
		if moveFilesTo != nil {
			if _, err := relinkFiles(ctx, tx, rel, *moveFilesTo); err != nil {
				return err
			}
		} else if _, err := tx.ExecContext(ctx,
			"DELETE FROM files WHERE related_type = ? AND related_id = ?", string(rel.Kind), rel.ID,
		); err != nil {
			return fmt.Errorf("failed to delete settlement files: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM settlements WHERE id = ?", settlementID); err != nil {
			return fmt.Errorf("failed to delete settlement: %w", err)
		}
		return nil
	})
}

// ListRejectedSettlements returns rejected settlements decided before the cutoff.
func (s *SQLiteStore) ListRejectedSettlements(ctx context.Context, rejectedBefore int64) ([]*models.Settlement, error) {
	return s.querySettlements(ctx,
		"SELECT "+settlementColumns+" FROM settlements WHERE status = ? AND status_at < ? ORDER BY status_at",
		string(models.StatusRejected), rejectedBefore)
}

// ListPendingSettlements returns settlements still pending that were created before the cutoff.
func (s *SQLiteStore) ListPendingSettlements(ctx context.Context, createdBefore int64) ([]*models.Settlement, error) {
	return s.querySettlements(ctx,
		"SELECT "+settlementColumns+" FROM settlements WHERE status = ? AND created_at < ? ORDER BY created_at",
		string(models.StatusPending), createdBefore)
}

func (s *SQLiteStore) querySettlements(ctx context.Context, query string, args ...any) ([]*models.Settlement, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	defer rows.Close()

	var settlements []*models.Settlement
	for rows.Next() {
		settlement, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		settlements = append(settlements, settlement)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settlements: %w", err)
	}
	return settlements, nil
}
