package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mmynk/splitbot/internal/calculator"
	"github.com/mmynk/splitbot/internal/models"
)

// querier is the subset of *sql.DB and *sql.Tx used by the debt helpers.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ApplyNet folds amount from -> to into the debt table in its own transaction.
func (s *SQLiteStore) ApplyNet(ctx context.Context, from, to int64, amount models.Amount, at int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return applyNet(ctx, tx, from, to, amount, at)
	})
}

// applyNet reads both directions of the pair, nets the transfer and writes the result back.
// Zero results delete the row so the table only ever holds positive edges.
func applyNet(ctx context.Context, q querier, from, to int64, amount models.Amount, at int64) error {
	if amount <= 0 {
		return fmt.Errorf("net amount must be positive, got %d", amount)
	}
	if from == to {
		return fmt.Errorf("cannot net user %d against themselves", from)
	}

	forward, err := getDebt(ctx, q, from, to)
	if err != nil {
		return err
	}
	backward, err := getDebt(ctx, q, to, from)
	if err != nil {
		return err
	}

	newForward, newBackward := calculator.Net(forward, backward, amount)

	if err := putDebt(ctx, q, from, to, newForward, at); err != nil {
		return err
	}
	return putDebt(ctx, q, to, from, newBackward, at)
}

func getDebt(ctx context.Context, q querier, from, to int64) (models.Amount, error) {
	var amount models.Amount
	err := q.QueryRowContext(ctx,
		"SELECT amount_u5 FROM debts WHERE from_user_id = ? AND to_user_id = ?", from, to,
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get debt: %w", err)
	}
	return amount, nil
}

func putDebt(ctx context.Context, q querier, from, to int64, amount models.Amount, at int64) error {
	var err error
	if amount == 0 {
		_, err = q.ExecContext(ctx, "DELETE FROM debts WHERE from_user_id = ? AND to_user_id = ?", from, to)
	} else {
		_, err = q.ExecContext(ctx, `
			INSERT INTO debts (from_user_id, to_user_id, amount_u5, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(from_user_id, to_user_id) DO UPDATE SET
				amount_u5 = excluded.amount_u5,
				updated_at = excluded.updated_at`,
			from, to, amount, at,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to write debt %d->%d: %w", from, to, err)
	}
	return nil
}

// GetDebt returns how much from owes to, zero when no edge exists.
func (s *SQLiteStore) GetDebt(ctx context.Context, from, to int64) (models.Amount, error) {
	return getDebt(ctx, s.db, from, to)
}

// ListGroupDebts returns the edges between members of chatID at or above minAmount.
func (s *SQLiteStore) ListGroupDebts(ctx context.Context, chatID int64, minAmount models.Amount) ([]models.DebtEdge, error) {
	return s.queryDebts(ctx, `
		SELECT d.from_user_id, d.to_user_id, d.amount_u5, d.updated_at
		FROM debts d
		JOIN group_users gf ON gf.user_id = d.from_user_id AND gf.chat_id = ?
		JOIN group_users gt ON gt.user_id = d.to_user_id AND gt.chat_id = ?
		WHERE d.amount_u5 >= ?
		ORDER BY d.amount_u5 DESC, d.from_user_id, d.to_user_id`,
		chatID, chatID, minAmount,
	)
}

// ListUserDebts returns every edge touching userID whose counterpart is a member of chatID.
func (s *SQLiteStore) ListUserDebts(ctx context.Context, chatID, userID int64) ([]models.DebtEdge, error) {
	return s.queryDebts(ctx, `
		SELECT d.from_user_id, d.to_user_id, d.amount_u5, d.updated_at
		FROM debts d
		JOIN group_users g ON g.chat_id = ?
			AND g.user_id = CASE WHEN d.from_user_id = ? THEN d.to_user_id ELSE d.from_user_id END
		WHERE d.from_user_id = ? OR d.to_user_id = ?
		ORDER BY d.amount_u5 DESC`,
		chatID, userID, userID, userID,
	)
}

// ListCreditors returns the edges userID owes to members of chatID at or above minAmount.
func (s *SQLiteStore) ListCreditors(ctx context.Context, chatID, userID int64, minAmount models.Amount) ([]models.DebtEdge, error) {
	return s.queryDebts(ctx, `
		SELECT d.from_user_id, d.to_user_id, d.amount_u5, d.updated_at
		FROM debts d
		JOIN group_users g ON g.user_id = d.to_user_id AND g.chat_id = ?
		WHERE d.from_user_id = ? AND d.amount_u5 >= ?
		ORDER BY d.amount_u5 DESC`,
		chatID, userID, minAmount,
	)
}

func (s *SQLiteStore) queryDebts(ctx context.Context, query string, args ...any) ([]models.DebtEdge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list debts: %w", err)
	}
	defer rows.Close()

	var edges []models.DebtEdge
	for rows.Next() {
		var e models.DebtEdge
		if err := rows.Scan(&e.From, &e.To, &e.Amount, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan debt: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate debts: %w", err)
	}
	return edges, nil
}
