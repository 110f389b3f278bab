package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/storage"
)

// ListHistory returns expenses and settlements of a group merged newest first.
//
// An expense's status is "confirmed" once every share is, "rejected" when disputed,
// and "pending" otherwise.
func (s *SQLiteStore) ListHistory(ctx context.Context, chatID int64, limit, offset int) ([]storage.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, id, from_user_id, to_user_id, amount_u5, description, categories_json, status, created_at
		FROM (
			SELECT 'expense' AS kind, e.id, e.payer_id AS from_user_id, 0 AS to_user_id, e.amount_u5,
				e.description, e.categories_json,
				CASE
					WHEN e.rejected = 1 THEN 'rejected'
					WHEN EXISTS (SELECT 1 FROM expense_shares s WHERE s.expense_id = e.id AND s.status != 'confirmed') THEN 'pending'
					ELSE 'confirmed'
				END AS status,
				e.created_at
			FROM expenses e WHERE e.chat_id = ?
			UNION ALL
			SELECT 'settlement', st.id, st.from_user_id, st.to_user_id, st.amount_u5,
				'', '[]', st.status, st.created_at
			FROM settlements st WHERE st.chat_id = ?
		)
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`,
		chatID, chatID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []storage.HistoryEntry
	for rows.Next() {
		var (
			entry      storage.HistoryEntry
			kind       string
			categories string
		)
		if err := rows.Scan(&kind, &entry.ID, &entry.FromUserID, &entry.ToUserID, &entry.Amount,
			&entry.Description, &categories, &entry.Status, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entry.Kind = storage.HistoryKind(kind)
		if err := json.Unmarshal([]byte(categories), &entry.Categories); err != nil {
			return nil, fmt.Errorf("failed to decode categories: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return entries, nil
}

// SpendingByCategory totals fully confirmed expenses of a group per category.
// Multi-category expenses count toward each of their categories; uncategorized spending
// is reported under "Other". Pure debt records are excluded.
func (s *SQLiteStore) SpendingByCategory(ctx context.Context, chatID int64) ([]storage.CategoryTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.amount_u5, e.categories_json
		FROM expenses e
		WHERE e.chat_id = ? AND e.rejected = 0
		AND NOT EXISTS (SELECT 1 FROM expense_shares s WHERE s.expense_id = e.id AND s.status != 'confirmed')`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query spending: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]models.Amount)
	for rows.Next() {
		var (
			amount models.Amount
			raw    string
			cats   []string
		)
		if err := rows.Scan(&amount, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan spending: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &cats); err != nil {
			return nil, fmt.Errorf("failed to decode categories: %w", err)
		}
		if models.IsPureDebt(cats) {
			continue
		}
		if len(cats) == 0 {
			cats = []string{"Other"}
		}
		for _, c := range cats {
			totals[c] += amount
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate spending: %w", err)
	}

	result := make([]storage.CategoryTotal, 0, len(totals))
	for category, total := range totals {
		result = append(result, storage.CategoryTotal{Category: category, Total: total})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Total != result[j].Total {
			return result[i].Total > result[j].Total
		}
		return result[i].Category < result[j].Category
	})
	return result, nil
}
