package bot

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/render"
	"github.com/mmynk/splitbot/internal/wizard"
)

func (b *Bot) onCallback(ctx context.Context, t *turn) error {
	cb, err := render.ParseCallback(t.Data)
	if err != nil {
		b.logger.Warn("Ignoring foreign callback", "chat_id", t.ChatID, "data", t.Data)
		return nil
	}

	switch cb.NS {
	case render.NSWizard:
		return b.onWizard(ctx, t, cb)
	case render.NSExpense:
		return b.onExpenseCard(ctx, t, cb)
	case render.NSSettlement:
		return b.onSettlementCard(ctx, t, cb)
	case render.NSMenu:
		return b.onMenu(ctx, t, cb)
	case render.NSSettings:
		return b.onSettings(ctx, t, cb)
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad id %q", render.ErrMalformedCallback, s)
	}
	return id, nil
}

func (b *Bot) onWizard(ctx context.Context, t *turn, cb render.Callback) error {
	target := t.target(cb.ID)

	var (
		res *wizard.Result
		err error
	)
	switch cb.Action {
	case render.WizNext:
		res, err = b.wizard.Advance(ctx, target)
	case render.WizBack:
		res, err = b.wizard.Retreat(ctx, target)
	case render.WizCancel:
		res, err = b.wizard.Cancel(ctx, target)
	case render.WizConfirm:
		res, err = b.wizard.Confirm(ctx, target)
	case render.WizEdit:
		step, perr := strconv.Atoi(cb.Arg)
		if perr != nil {
			return fmt.Errorf("%w: bad step %q", render.ErrMalformedCallback, cb.Arg)
		}
		res, err = b.wizard.JumpToEdit(ctx, target, step)
	case render.WizCategory:
		res, err = b.wizard.ToggleCategory(ctx, target, cb.Arg)
	case render.WizDebtor:
		id, perr := parseID(cb.Arg)
		if perr != nil {
			return perr
		}
		res, err = b.wizard.ToggleDebtor(ctx, target, id)
	case render.WizAll:
		res, err = b.wizard.ToggleAllDebtors(ctx, target)
	case render.WizPayee:
		id, perr := parseID(cb.Arg)
		if perr != nil {
			return perr
		}
		res, err = b.wizard.SetPayee(ctx, target, id)
	case render.WizFull:
		res, err = b.wizard.UseFullAmount(ctx, target)
	case render.WizNoReceipt:
		res, err = b.wizard.SetNoReceipt(ctx, target)
	case render.WizNoProof:
		res, err = b.wizard.SetNoProof(ctx, target)
	case render.WizRemove:
		res, err = b.wizard.RemoveAttachment(ctx, target, cb.Arg)
	default:
		b.logger.Warn("Unknown wizard action", "action", cb.Action)
		return nil
	}
	if err != nil {
		return err
	}
	return b.apply(ctx, t, res)
}

func (b *Bot) onExpenseCard(ctx context.Context, t *turn, cb render.Callback) error {
	switch cb.Action {
	case render.CardConfirm:
		dec, err := b.ledger.ConfirmShare(ctx, cb.ID, t.UserID)
		if err != nil {
			return err
		}
		t.answer = "Confirmed."
		if dec.Netted {
			t.answer = "Confirmed. Balances updated."
		}
		return b.refreshExpense(ctx, t, dec.Expense)

	case render.CardReject:
		dec, err := b.ledger.RejectShare(ctx, cb.ID, t.UserID)
		if err != nil {
			return err
		}
		t.answer = "Rejected. The payer can edit and resubmit."
		return b.refreshExpense(ctx, t, dec.Expense)

	case render.CardEdit:
		res, err := b.wizard.EditExpense(ctx, t.ChatID, t.UserID, cb.ID)
		if err != nil {
			return err
		}
		return b.apply(ctx, t, res)

	case render.CardDelete:
		refs, err := b.store.ListFileRefs(ctx, models.ExpenseRelation(cb.ID))
		if err != nil {
			return fmt.Errorf("failed to list expense files: %w", err)
		}
		e, err := b.ledger.DeleteExpense(ctx, cb.ID, t.UserID, nil)
		if err != nil {
			return err
		}
		b.purge(ctx, refs)
		b.teardown(ctx, t, e.MessageID)
		t.answer = "Expense deleted."
	}
	return nil
}

func (b *Bot) refreshExpense(ctx context.Context, t *turn, e *models.Expense) error {
	card, err := b.expenseCard(ctx, e)
	if err != nil {
		return err
	}
	return b.refresh(ctx, t, e.MessageID, card)
}

func (b *Bot) onSettlementCard(ctx context.Context, t *turn, cb render.Callback) error {
	switch cb.Action {
	case render.CardConfirm:
		s, err := b.ledger.ConfirmSettlement(ctx, cb.ID, t.UserID)
		if err != nil {
			return err
		}
		t.answer = "Payment confirmed. Balances updated."
		return b.refreshSettlement(ctx, t, s)

	case render.CardReject:
		s, err := b.ledger.RejectSettlement(ctx, cb.ID, t.UserID)
		if err != nil {
			return err
		}
		t.answer = "Payment rejected."
		return b.refreshSettlement(ctx, t, s)

	case render.CardEdit:
		res, err := b.wizard.EditSettlement(ctx, t.ChatID, t.UserID, cb.ID)
		if err != nil {
			return err
		}
		return b.apply(ctx, t, res)

	case render.CardDelete:
		refs, err := b.store.ListFileRefs(ctx, models.SettlementRelation(cb.ID))
		if err != nil {
			return fmt.Errorf("failed to list settlement files: %w", err)
		}
		s, err := b.ledger.DeleteSettlement(ctx, cb.ID, t.UserID, nil)
		if err != nil {
			return err
		}
		b.purge(ctx, refs)
		b.teardown(ctx, t, s.MessageID)
		t.answer = "Payment deleted."
	}
	return nil
}

func (b *Bot) refreshSettlement(ctx context.Context, t *turn, s *models.Settlement) error {
	card, err := b.settlementCard(ctx, s)
	if err != nil {
		return err
	}
	return b.refresh(ctx, t, s.MessageID, card)
}

// purge drops the archived copies of deleted file references.
func (b *Bot) purge(ctx context.Context, refs []*models.FileRef) {
	if len(refs) == 0 {
		return
	}
	ids := make([]int64, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ArchiveMessageID
	}
	if err := b.archive.Purge(ctx, ids...); err != nil {
		b.logger.Warn("Failed to purge archived files", "count", len(ids), "error", err)
	}
}
