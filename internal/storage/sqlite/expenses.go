package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/storage"
)

const expenseColumns = `id, chat_id, payer_id, amount_u5, description, categories_json,
	created_at, rejected, rejected_at, message_id`

// CreateExpense persists an expense and its shares atomically.
// When every share arrives confirmed the ledger is updated in the same transaction.
func (s *SQLiteStore) CreateExpense(ctx context.Context, expense *models.Expense, draftID string) (bool, error) {
	if expense.ID == "" {
		expense.ID = uuid.New().String()
	}
	if expense.CreatedAt == 0 {
		expense.CreatedAt = time.Now().Unix()
	}
	if len(expense.Shares) == 0 {
		return false, fmt.Errorf("expense has no shares")
	}

	categories, err := json.Marshal(expense.Categories)
	if err != nil {
		return false, fmt.Errorf("failed to encode categories: %w", err)
	}

	netted := expense.AllConfirmed()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO expenses (id, chat_id, payer_id, amount_u5, description, categories_json, created_at, message_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			expense.ID, expense.ChatID, expense.PayerID, expense.Amount, expense.Description,
			string(categories), expense.CreatedAt, nullInt(expense.MessageID),
		)
		if err != nil {
			return fmt.Errorf("failed to insert expense: %w", err)
		}

		for i, share := range expense.Shares {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO expense_shares (expense_id, debtor_id, share_u5, status, status_at, position)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				expense.ID, share.DebtorID, share.Share, string(share.Status), nullInt(share.StatusAt), i,
			)
			if err != nil {
				return fmt.Errorf("failed to insert share for %d: %w", share.DebtorID, err)
			}
		}

		if netted {
			if err := applyExpenseNets(ctx, tx, expense, expense.CreatedAt); err != nil {
				return err
			}
		}

		if draftID != "" {
			return consumeDraft(ctx, tx, draftID, models.ExpenseRelation(expense.ID))
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return netted, nil
}

// applyExpenseNets applies net(debtor, payer, share) for every non-zero share.
func applyExpenseNets(ctx context.Context, q querier, expense *models.Expense, at int64) error {
	for _, share := range expense.Shares {
		if share.Share <= 0 || share.DebtorID == expense.PayerID {
			continue
		}
		if err := applyNet(ctx, q, share.DebtorID, expense.PayerID, share.Share, at); err != nil {
			return err
		}
	}
	return nil
}

// consumeDraft moves the draft's files to rel and deletes the draft row. A draft that is
// already gone yields ErrNotFound so the surrounding transaction creates nothing.
func consumeDraft(ctx context.Context, q querier, draftID string, rel models.Relation) error {
	res, err := q.ExecContext(ctx, "DELETE FROM drafts WHERE id = ?", draftID)
	if err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check draft delete: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("draft %s: %w", draftID, storage.ErrNotFound)
	}
	if _, err := relinkFiles(ctx, q, models.DraftRelation(draftID), rel); err != nil {
		return err
	}
	return nil
}

// GetExpense retrieves an expense with its shares in creation order.
func (s *SQLiteStore) GetExpense(ctx context.Context, expenseID string) (*models.Expense, error) {
	return getExpense(ctx, s.db, expenseID)
}

func getExpense(ctx context.Context, q querier, expenseID string) (*models.Expense, error) {
	row := q.QueryRowContext(ctx, "SELECT "+expenseColumns+" FROM expenses WHERE id = ?", expenseID)
	expense, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("expense %s: %w", expenseID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}

	if err := loadShares(ctx, q, expense); err != nil {
		return nil, err
	}
	return expense, nil
}

func loadShares(ctx context.Context, q querier, expense *models.Expense) error {
	rows, err := q.QueryContext(ctx,
		`SELECT debtor_id, share_u5, status, status_at
		 FROM expense_shares WHERE expense_id = ? ORDER BY position`,
		expense.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get shares: %w", err)
	}
	defer rows.Close()

	expense.Shares = nil
	for rows.Next() {
		var (
			share    models.ExpenseShare
			status   string
			statusAt sql.NullInt64
		)
		if err := rows.Scan(&share.DebtorID, &share.Share, &status, &statusAt); err != nil {
			return fmt.Errorf("failed to scan share: %w", err)
		}
		share.Status = models.ShareStatus(status)
		share.StatusAt = statusAt.Int64
		expense.Shares = append(expense.Shares, share)
	}
	return rows.Err()
}

func scanExpense(row rowScanner) (*models.Expense, error) {
	var (
		expense    models.Expense
		categories string
		rejected   bool
		rejectedAt sql.NullInt64
		messageID  sql.NullInt64
	)
	if err := row.Scan(&expense.ID, &expense.ChatID, &expense.PayerID, &expense.Amount,
		&expense.Description, &categories, &expense.CreatedAt, &rejected, &rejectedAt, &messageID); err != nil {
		return nil, err
	}
	if categories != "" {
		if err := json.Unmarshal([]byte(categories), &expense.Categories); err != nil {
			return nil, fmt.Errorf("failed to decode categories: %w", err)
		}
	}
	expense.Rejected = rejected
	expense.RejectedAt = rejectedAt.Int64
	expense.MessageID = messageID.Int64
	return &expense, nil
}

// SetExpenseMessage records the id of the posted expense card.
func (s *SQLiteStore) SetExpenseMessage(ctx context.Context, expenseID string, messageID int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE expenses SET message_id = ? WHERE id = ?", nullInt(messageID), expenseID)
	if err != nil {
		return fmt.Errorf("failed to set expense message: %w", err)
	}
	return expectOneRow(res, "expense", expenseID)
}

// RejectShare marks a pending share rejected and flags the whole expense as disputed.
func (s *SQLiteStore) RejectShare(ctx context.Context, expenseID string, debtorID int64, at int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		expense, err := getExpense(ctx, tx, expenseID)
		if err != nil {
			return err
		}
		share, ok := expense.Share(debtorID)
		if !ok {
			return fmt.Errorf("share of %d in expense %s: %w", debtorID, expenseID, storage.ErrNotFound)
		}
		if expense.Rejected || share.Status != models.StatusPending {
			return storage.ErrInvalidTransition
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE expense_shares SET status = ?, status_at = ? WHERE expense_id = ? AND debtor_id = ?",
			string(models.StatusRejected), at, expenseID, debtorID,
		); err != nil {
			return fmt.Errorf("failed to reject share: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE expenses SET rejected = 1, rejected_at = ? WHERE id = ?", at, expenseID,
		); err != nil {
			return fmt.Errorf("failed to flag expense: %w", err)
		}
		return nil
	})
}

// ConfirmShareAndNet confirms one share and applies the expense to the ledger once
// the last pending share is confirmed.
func (s *SQLiteStore) ConfirmShareAndNet(ctx context.Context, expenseID string, debtorID int64, at int64) (bool, error) {
	var netted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		expense, err := getExpense(ctx, tx, expenseID)
		if err != nil {
			return err
		}
		share, ok := expense.Share(debtorID)
		if !ok {
			return fmt.Errorf("share of %d in expense %s: %w", debtorID, expenseID, storage.ErrNotFound)
		}
		if expense.Rejected || share.Status != models.StatusPending {
			return storage.ErrInvalidTransition
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE expense_shares SET status = ?, status_at = ? WHERE expense_id = ? AND debtor_id = ?",
			string(models.StatusConfirmed), at, expenseID, debtorID,
		); err != nil {
			return fmt.Errorf("failed to confirm share: %w", err)
		}
		share.Status = models.StatusConfirmed
		share.StatusAt = at

		if !expense.AllConfirmed() {
			return nil
		}
		if err := applyExpenseNets(ctx, tx, expense, at); err != nil {
			return err
		}
		netted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return netted, nil
}

// DeleteExpense removes an expense that has not reached the ledger.
func (s *SQLiteStore) DeleteExpense(ctx context.Context, expenseID string, moveFilesTo *models.Relation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		expense, err := getExpense(ctx, tx, expenseID)
		if err != nil {
			return err
		}
		if expense.AllConfirmed() {
			return storage.ErrInvalidTransition
		}

		rel := models.ExpenseRelation(expenseID)
		if moveFilesTo != nil {
			if _, err := relinkFiles(ctx, tx, rel, *moveFilesTo); err != nil {
				return err
			}
		} else if _, err := tx.ExecContext(ctx,
			"DELETE FROM files WHERE related_type = ? AND related_id = ?", string(rel.Kind), rel.ID,
		); err != nil {
			return fmt.Errorf("failed to delete expense files: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM expenses WHERE id = ?", expenseID); err != nil {
			return fmt.Errorf("failed to delete expense: %w", err)
		}
		return nil
	})
}

// ListRejectedExpenses returns disputed expenses rejected before the cutoff.
func (s *SQLiteStore) ListRejectedExpenses(ctx context.Context, rejectedBefore int64) ([]*models.Expense, error) {
	return s.queryExpenses(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE rejected = 1 AND rejected_at < ? ORDER BY rejected_at",
		rejectedBefore)
}

// ListPendingExpenses returns undisputed expenses created before the cutoff that still
// have a pending share.
func (s *SQLiteStore) ListPendingExpenses(ctx context.Context, createdBefore int64) ([]*models.Expense, error) {
	return s.queryExpenses(ctx, `
		SELECT `+expenseColumns+` FROM expenses e
		WHERE e.rejected = 0 AND e.created_at < ?
		AND EXISTS (SELECT 1 FROM expense_shares s WHERE s.expense_id = e.id AND s.status = ?)
		ORDER BY e.created_at`,
		createdBefore, string(models.StatusPending))
}

func (s *SQLiteStore) queryExpenses(ctx context.Context, query string, args ...any) ([]*models.Expense, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}

	var expenses []*models.Expense
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, expense)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expenses: %w", err)
	}

	// Shares are loaded after the cursor closes; the pool holds a single connection.
	for _, expense := range expenses {
		if err := loadShares(ctx, s.db, expense); err != nil {
			return nil, err
		}
	}
	return expenses, nil
}

func expectOneRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check %s update: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, storage.ErrNotFound)
	}
	return nil
}
