package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/platform"
	"github.com/mmynk/splitbot/internal/storage"
)

// Report counts what one long sweep removed.
type Report struct {
	Expenses    int
	Settlements int
	Files       int
}

// SweepExpiredDrafts discards every expired draft through the wizard's rollback path and
// removes its wizard message. A draft written to after it was listed is left alone.
func (jr *JobRunner) SweepExpiredDrafts(ctx context.Context) (int, error) {
	drafts, err := jr.Store.ListExpiredDrafts(ctx, jr.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired drafts: %w", err)
	}

	swept := 0
	for _, d := range drafts {
		removed, err := jr.Wizard.Expire(ctx, d)
		if err != nil {
			jr.logger.Warn("Failed to discard expired draft", "draft_id", d.ID, "chat_id", d.ChatID, "error", err)
			continue
		}
		if !removed {
			jr.logger.Debug("Expired draft changed since listing, kept", "draft_id", d.ID, "chat_id", d.ChatID)
			continue
		}
		jr.deleteMessage(ctx, d.ChatID, d.MessageID)
		jr.logger.Info("Expired draft discarded", "draft_id", d.ID, "chat_id", d.ChatID, "user_id", d.UserID, "kind", d.Kind)
		swept++
	}
	jr.metrics.SweepDeleted("draft", swept)
	return swept, nil
}

// SweepStaleLocks frees holds that outlived the lock TTL.
func (jr *JobRunner) SweepStaleLocks(ctx context.Context) (int, error) {
	n, err := jr.Locks.ReleaseStale(ctx)
	if n > 0 {
		jr.logger.Info("Released stale locks", "count", n)
	}
	jr.metrics.SweepDeleted("lock", n)
	return n, err
}

// SweepAgedRecords deletes rejected expenses and settlements older than the rejected TTL and
// pending ones older than the pending TTL, with their cards and files. Records that reached
// the ledger are never touched: the store refuses to delete them.
func (jr *JobRunner) SweepAgedRecords(ctx context.Context) (Report, error) {
	var rep Report
	now := jr.now()
	rejectedBefore := now.Add(-jr.rejectedTTL).Unix()
	pendingBefore := now.Add(-jr.pendingTTL).Unix()

	rejected, err := jr.Store.ListRejectedExpenses(ctx, rejectedBefore)
	if err != nil {
		return rep, fmt.Errorf("failed to list rejected expenses: %w", err)
	}
	pending, err := jr.Store.ListPendingExpenses(ctx, pendingBefore)
	if err != nil {
		return rep, fmt.Errorf("failed to list pending expenses: %w", err)
	}
	seen := make(map[string]bool)
	for _, e := range append(rejected, pending...) {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		files, ok := jr.removeRecord(ctx, models.ExpenseRelation(e.ID), e.ChatID, e.MessageID, func() error {
			return jr.Store.DeleteExpense(ctx, e.ID, nil)
		})
		if ok {
			rep.Expenses++
			rep.Files += files
			jr.logger.Info("Aged expense removed", "expense_id", e.ID, "chat_id", e.ChatID, "rejected", e.Rejected)
		}
	}

	rejectedS, err := jr.Store.ListRejectedSettlements(ctx, rejectedBefore)
	if err != nil {
		return rep, fmt.Errorf("failed to list rejected settlements: %w", err)
	}
	pendingS, err := jr.Store.ListPendingSettlements(ctx, pendingBefore)
	if err != nil {
		return rep, fmt.Errorf("failed to list pending settlements: %w", err)
	}
	for _, s := range append(rejectedS, pendingS...) {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		files, ok := jr.removeRecord(ctx, models.SettlementRelation(s.ID), s.ChatID, s.MessageID, func() error {
			return jr.Store.DeleteSettlement(ctx, s.ID, nil)
		})
		if ok {
			rep.Settlements++
			rep.Files += files
			jr.logger.Info("Aged settlement removed", "settlement_id", s.ID, "chat_id", s.ChatID, "status", s.Status)
		}
	}

	jr.metrics.SweepDeleted("expense", rep.Expenses)
	jr.metrics.SweepDeleted("settlement", rep.Settlements)
	jr.metrics.SweepDeleted("file", rep.Files)
	return rep, nil
}

// removeRecord deletes one record through del, then its card and archived files. It reports
// how many files went and whether the record was deleted.
func (jr *JobRunner) removeRecord(ctx context.Context, rel models.Relation, chatID, cardID int64, del func() error) (int, bool) {
	refs, err := jr.Store.ListFileRefs(ctx, rel)
	if err != nil {
		jr.logger.Warn("Failed to list record files", "relation", rel.String(), "error", err)
		return 0, false
	}

	if err := del(); err != nil {
		// Confirmed or already gone: someone acted on it since it was listed.
		if errors.Is(err, storage.ErrInvalidTransition) || errors.Is(err, storage.ErrNotFound) {
			return 0, false
		}
		jr.logger.Warn("Failed to delete aged record", "relation", rel.String(), "error", err)
		return 0, false
	}

	jr.deleteMessage(ctx, chatID, cardID)
	if len(refs) > 0 {
		ids := make([]int64, len(refs))
		for i, ref := range refs {
			ids[i] = ref.ArchiveMessageID
		}
		if err := jr.Archive.Purge(ctx, ids...); err != nil {
			jr.logger.Warn("Failed to purge archived files", "relation", rel.String(), "error", err)
		}
	}
	return len(refs), true
}

func (jr *JobRunner) deleteMessage(ctx context.Context, chatID, messageID int64) {
	if messageID == 0 {
		return
	}
	err := jr.Messenger.DeleteMessage(ctx, chatID, messageID)
	if err != nil && !errors.Is(err, platform.ErrMessageGone) {
		jr.logger.Warn("Failed to delete message", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}
