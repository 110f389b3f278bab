package wizard

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/storage"
)

// EditExpense reopens an expense that has not reached the balances. A review-step form is
// seeded with its values, then the expense is deleted and its files move to the form.
func (e *Engine) EditExpense(ctx context.Context, chatID, userID int64, expenseID string) (*Result, error) {
	expense, err := e.store.GetExpense(ctx, expenseID)
	if errors.Is(err, storage.ErrNotFound) {
		return eventResult(EventExpired, ""), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load expense: %w", err)
	}
	if expense.ChatID != chatID {
		return eventResult(EventExpired, ""), nil
	}
	if expense.PayerID != userID {
		return eventResult(EventValidationFailed, "Only the payer can edit this expense."), nil
	}
	if expense.AllConfirmed() {
		return eventResult(EventConflict, "This expense is already in the balances and can no longer be changed."), nil
	}

	files, err := e.draftFiles(ctx, models.ExpenseRelation(expenseID))
	if err != nil {
		return nil, err
	}

	return e.reopen(ctx, chatID, userID, expense.MessageID, &models.Draft{
		ChatID: chatID,
		UserID: userID,
		Kind:   models.KindExpense,
		Step:   models.ExpenseStepReview,
		Payload: &models.ExpensePayload{
			Amount:      expense.Amount,
			Files:       files,
			NoReceipt:   len(files) == 0,
			Description: expense.Description,
			Categories:  slices.Clone(expense.Categories),
			Debtors:     expense.DebtorIDs(),
			ReplacesID:  expense.ID,
		},
	}, func(ctx context.Context, moveTo *models.Relation) error {
		_, err := e.ledger.DeleteExpense(ctx, expenseID, userID, moveTo)
		return err
	})
}

// EditSettlement reopens an unconfirmed settlement of the sender the same way.
func (e *Engine) EditSettlement(ctx context.Context, chatID, userID int64, settlementID string) (*Result, error) {
	settlement, err := e.store.GetSettlement(ctx, settlementID)
	if errors.Is(err, storage.ErrNotFound) {
		return eventResult(EventExpired, ""), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settlement: %w", err)
	}
	if settlement.ChatID != chatID {
		return eventResult(EventExpired, ""), nil
	}
	if settlement.FromUserID != userID {
		return eventResult(EventValidationFailed, "Only the sender can edit this payment."), nil
	}
	if settlement.Status == models.StatusConfirmed {
		return eventResult(EventConflict, "This payment is already in the balances and can no longer be changed."), nil
	}

	files, err := e.draftFiles(ctx, models.SettlementRelation(settlementID))
	if err != nil {
		return nil, err
	}

	return e.reopen(ctx, chatID, userID, settlement.MessageID, &models.Draft{
		ChatID: chatID,
		UserID: userID,
		Kind:   models.KindSettlement,
		Step:   models.SettlementStepReview,
		Payload: &models.SettlementPayload{
			Payee:      settlement.ToUserID,
			Amount:     settlement.Amount,
			Files:      files,
			NoProof:    len(files) == 0,
			ReplacesID: settlement.ID,
		},
	}, func(ctx context.Context, moveTo *models.Relation) error {
		_, err := e.ledger.DeleteSettlement(ctx, settlementID, userID, moveTo)
		return err
	})
}

func (e *Engine) draftFiles(ctx context.Context, rel models.Relation) ([]models.DraftFile, error) {
	refs, err := e.store.ListFileRefs(ctx, rel)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	files := make([]models.DraftFile, len(refs))
	for i, ref := range refs {
		files[i] = models.DraftFile{
			RefID:            ref.ID,
			FileID:           ref.FileID,
			ArchiveMessageID: ref.ArchiveMessageID,
			MIME:             ref.MIME,
			Size:             ref.Size,
		}
	}
	return files, nil
}

// reopen creates the seeded draft, then lets remove delete the original record and move its
// files onto the draft. When remove fails the draft row is deleted again.
func (e *Engine) reopen(ctx context.Context, chatID, userID, cardID int64, seeded *models.Draft,
	remove func(ctx context.Context, moveTo *models.Relation) error) (*Result, error) {
	res, err := e.begin(ctx, chatID, userID, func(context.Context) (*models.Draft, *Result, error) {
		return seeded, nil, nil
	})
	if err != nil || res.Event.Kind != EventStarted {
		return res, err
	}

	moveTo := models.DraftRelation(seeded.ID)
	if err := remove(ctx, &moveTo); err != nil {
		if derr := e.store.DeleteDraft(ctx, seeded.ID); derr != nil {
			e.logger.Error("Failed to delete reopened draft", "draft_id", seeded.ID, "error", derr)
		}
		if rerr := e.locks.Release(ctx, chatID, models.LockActiveWizard, userID); rerr != nil {
			e.logger.Error("Failed to release wizard lock", "chat_id", chatID, "user_id", userID, "error", rerr)
		}
		failed, ferr := outcome(err)
		if failed != nil {
			failed.MessageID = res.MessageID
		}
		return failed, ferr
	}

	res.ReplacedMessageID = cardID
	return res, nil
}
