package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmynk/splitbot/internal/apperr"
	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/platform"
	"github.com/mmynk/splitbot/internal/render"
	"github.com/mmynk/splitbot/internal/wizard"
)

// Reflect shows v in its wizard message, sending the message first when the form has none.
// A vanished wizard message comes back as an error wrapping platform.ErrMessageGone.
func (b *Bot) Reflect(ctx context.Context, v *wizard.View) error {
	out := b.render.Wizard(v)

	if v.MessageID == 0 {
		id, err := b.messenger.SendMessage(ctx, platform.Message{ChatID: v.ChatID, Text: out.Text, Keyboard: out.Keyboard})
		if err != nil {
			return apperr.External("send wizard message", err)
		}
		if err := b.wizard.SetMessage(ctx, v.DraftID, id); err != nil {
			b.deleteMessage(ctx, v.ChatID, id)
			return fmt.Errorf("failed to record wizard message: %w", err)
		}
		v.MessageID = id
		return nil
	}

	err := b.messenger.EditMessage(ctx, v.ChatID, v.MessageID, out.Text, out.Keyboard)
	if errors.Is(err, platform.ErrMessageGone) {
		return fmt.Errorf("wizard message %d: %w", v.MessageID, err)
	}
	if err != nil {
		return apperr.External("edit wizard message", err)
	}
	return nil
}

// apply shows the outcome of a wizard operation.
func (b *Bot) apply(ctx context.Context, t *turn, res *wizard.Result) error {
	if res == nil {
		return nil
	}

	switch res.Event.Kind {
	case wizard.EventStarted:
		b.deleteMessage(ctx, t.ChatID, res.MessageID)
		b.deleteMessage(ctx, t.ChatID, res.ReplacedMessageID)
		return b.reflect(ctx, t, res.View)

	case wizard.EventAdvanced, wizard.EventUpdated:
		return b.reflect(ctx, t, res.View)

	case wizard.EventValidationFailed:
		b.notify(ctx, t, res.Event.Reason)

	case wizard.EventConflict:
		b.blocked(ctx, t, res.Event.Reason, res.Event.HolderID)

	case wizard.EventExpired:
		b.teardown(ctx, t, res.MessageID)
		if t.callback() {
			t.answer = "This form has expired."
		}

	case wizard.EventCancelled:
		b.deleteMessage(ctx, t.ChatID, res.MessageID)
		if t.callback() {
			t.answer = "Cancelled."
		}

	case wizard.EventConfirmed:
		b.deleteMessage(ctx, t.ChatID, res.MessageID)
		return b.publish(ctx, t, res)
	}
	return nil
}

// reflect is Reflect for the bot's own operations. A form whose message vanished cannot be
// shown again, so it is cancelled.
func (b *Bot) reflect(ctx context.Context, t *turn, v *wizard.View) error {
	err := b.Reflect(ctx, v)
	if !errors.Is(err, platform.ErrMessageGone) {
		return err
	}

	b.logger.Info("Wizard message vanished, cancelling form", "draft_id", v.DraftID, "chat_id", v.ChatID)
	if _, cerr := b.wizard.Cancel(ctx, t.target(v.DraftID)); cerr != nil {
		return fmt.Errorf("failed to cancel orphaned form: %w", cerr)
	}
	b.notify(ctx, t, "Your form was closed because its message was deleted.")
	return nil
}

// publish posts the records created by a confirmed form.
func (b *Bot) publish(ctx context.Context, t *turn, res *wizard.Result) error {
	switch {
	case res.Expense != nil:
		if t.callback() {
			t.answer = "Expense recorded."
		}
		return b.postExpense(ctx, res.Expense.Expense)

	case res.Settlement != nil:
		if t.callback() {
			t.answer = "Payment recorded."
		}
		return b.postSettlement(ctx, res.Settlement)

	case res.Cleared != nil:
		c := res.Cleared
		users, err := b.users(ctx, c.Creditor, c.Debtor)
		if err != nil {
			return err
		}
		out := b.render.DebtCleared(users[c.Creditor].Name(), users[c.Debtor].Name(), c.Amount, c.Remaining)
		if _, err := b.send(ctx, t.ChatID, out); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) expenseCard(ctx context.Context, e *models.Expense) (render.Rendered, error) {
	ids := append([]int64{e.PayerID}, e.DebtorIDs()...)
	users, err := b.users(ctx, ids...)
	if err != nil {
		return render.Rendered{}, err
	}
	files, err := b.store.ListFileRefs(ctx, models.ExpenseRelation(e.ID))
	if err != nil {
		return render.Rendered{}, fmt.Errorf("failed to list expense files: %w", err)
	}
	return b.render.ExpenseCard(e, users, files), nil
}

func (b *Bot) settlementCard(ctx context.Context, s *models.Settlement) (render.Rendered, error) {
	users, err := b.users(ctx, s.FromUserID, s.ToUserID)
	if err != nil {
		return render.Rendered{}, err
	}
	files, err := b.store.ListFileRefs(ctx, models.SettlementRelation(s.ID))
	if err != nil {
		return render.Rendered{}, fmt.Errorf("failed to list settlement files: %w", err)
	}
	owed := models.Amount(-1)
	if s.Status == models.StatusPending {
		if owed, err = b.ledger.Owed(ctx, s.FromUserID, s.ToUserID); err != nil {
			return render.Rendered{}, fmt.Errorf("failed to read debt: %w", err)
		}
	}
	return b.render.SettlementCard(s, users, files, owed), nil
}

func (b *Bot) postExpense(ctx context.Context, e *models.Expense) error {
	card, err := b.expenseCard(ctx, e)
	if err != nil {
		return err
	}
	id, err := b.send(ctx, e.ChatID, card)
	if err != nil {
		return err
	}
	if err := b.store.SetExpenseMessage(ctx, e.ID, id); err != nil {
		return fmt.Errorf("failed to record expense card: %w", err)
	}
	return nil
}

func (b *Bot) postSettlement(ctx context.Context, s *models.Settlement) error {
	card, err := b.settlementCard(ctx, s)
	if err != nil {
		return err
	}
	id, err := b.send(ctx, s.ChatID, card)
	if err != nil {
		return err
	}
	if err := b.store.SetSettlementMessage(ctx, s.ID, id); err != nil {
		return fmt.Errorf("failed to record settlement card: %w", err)
	}
	return nil
}

// refresh edits a card in place. cardID falls back to the message that carried the button.
func (b *Bot) refresh(ctx context.Context, t *turn, cardID int64, out render.Rendered) error {
	if cardID == 0 {
		cardID = t.MessageID
	}
	err := b.messenger.EditMessage(ctx, t.ChatID, cardID, out.Text, out.Keyboard)
	if errors.Is(err, platform.ErrMessageGone) {
		b.logger.Debug("Card vanished before refresh", "chat_id", t.ChatID, "message_id", cardID)
		return nil
	}
	if err != nil {
		return apperr.External("edit card", err)
	}
	return nil
}
