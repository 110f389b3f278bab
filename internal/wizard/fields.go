package wizard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/mmynk/splitbot/internal/ledger"
	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/storage"
)

// AcceptsAttachments reports whether d is on a step that collects files.
func AcceptsAttachments(d *models.Draft) bool {
	switch d.Kind {
	case models.KindExpense:
		return d.Step == models.ExpenseStepReceipts
	case models.KindSettlement:
		return d.Step == models.SettlementStepProof
	default:
		return false
	}
}

// HandleText routes typed input to the field the current step collects. It returns nil when
// the member has no form or the step takes no text, in which case the message is not ours.
func (e *Engine) HandleText(ctx context.Context, t Target, text string) (*Result, error) {
	d, err := e.store.FindDraft(ctx, t.ChatID, t.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	t.DraftID = d.ID
	switch {
	case d.Kind == models.KindExpense && d.Step == models.ExpenseStepAmount,
		d.Kind == models.KindSettlement && d.Step == models.SettlementStepAmount,
		d.Kind == models.KindClearDebt && d.Step == models.ClearDebtStepAmount:
		return e.SetAmount(ctx, t, text)
	case d.Kind == models.KindExpense && d.Step == models.ExpenseStepDescription:
		return e.SetDescription(ctx, t, text)
	default:
		return nil, nil
	}
}

// SetAmount parses text into the amount of the current step and moves on.
func (e *Engine) SetAmount(ctx context.Context, t Target, text string) (*Result, error) {
	amount, err := models.ParseAmount(text)
	if err != nil {
		return eventResult(EventValidationFailed, err.Error()), nil
	}

	return e.mutate(ctx, t, EventAdvanced, func(d *models.Draft) *Result {
		switch p := d.Payload.(type) {
		case *models.ExpensePayload:
			if d.Step != models.ExpenseStepAmount {
				return staleButton()
			}
			p.Amount = amount
			d.Step = models.ExpenseStepReceipts
		case *models.SettlementPayload:
			if d.Step != models.SettlementStepAmount {
				return staleButton()
			}
			p.Amount = amount
			d.Step = models.SettlementStepProof
		case *models.ClearDebtPayload:
			if d.Step != models.ClearDebtStepAmount {
				return staleButton()
			}
			if amount > p.TotalDebt {
				return eventResult(EventValidationFailed, "Amount must be between 0.00001 and "+p.TotalDebt.String()+".")
			}
			p.AmountToClear = amount
			d.Step = models.ClearDebtStepConfirm
		}
		return nil
	})
}

// SetDescription stores the free-text description of an expense.
func (e *Engine) SetDescription(ctx context.Context, t Target, text string) (*Result, error) {
	if utf8.RuneCountInString(text) > ledger.MaxDescriptionLength {
		return eventResult(EventValidationFailed, "Description is too long. Please keep it under 255 characters."), nil
	}
	return e.mutate(ctx, t, EventUpdated, func(d *models.Draft) *Result {
		p, ok := d.Payload.(*models.ExpensePayload)
		if !ok || d.Step != models.ExpenseStepDescription {
			return staleButton()
		}
		p.Description = text
		return nil
	})
}

// ToggleCategory selects or clears a category. "Debt" excludes every other category.
func (e *Engine) ToggleCategory(ctx context.Context, t Target, name string) (*Result, error) {
	if !models.IsCategory(name) {
		return eventResult(EventValidationFailed, "Unknown category."), nil
	}
	return e.mutate(ctx, t, EventUpdated, func(d *models.Draft) *Result {
		p, ok := d.Payload.(*models.ExpensePayload)
		if !ok || d.Step != models.ExpenseStepDescription {
			return staleButton()
		}
		p.Categories = models.ToggleCategory(p.Categories, name)
		return nil
	})
}

// ToggleDebtor adds or removes one member from the split.
func (e *Engine) ToggleDebtor(ctx context.Context, t Target, userID int64) (*Result, error) {
	candidates, err := e.candidates(ctx, t.ChatID, t.UserID)
	if err != nil {
		return nil, err
	}
	if !slices.ContainsFunc(candidates, func(u *models.User) bool { return u.ID == userID }) {
		return eventResult(EventValidationFailed, "This member cannot be part of the split."), nil
	}

	return e.mutate(ctx, t, EventUpdated, func(d *models.Draft) *Result {
		p, ok := d.Payload.(*models.ExpensePayload)
		if !ok || d.Step != models.ExpenseStepDebtors {
			return staleButton()
		}
		p.ToggleDebtor(userID)
		return nil
	})
}

// ToggleAllDebtors selects every candidate, or clears the selection when all are selected.
func (e *Engine) ToggleAllDebtors(ctx context.Context, t Target) (*Result, error) {
	candidates, err := e.candidates(ctx, t.ChatID, t.UserID)
	if err != nil {
		return nil, err
	}
	all := make([]int64, len(candidates))
	for i, u := range candidates {
		all[i] = u.ID
	}

	return e.mutate(ctx, t, EventUpdated, func(d *models.Draft) *Result {
		p, ok := d.Payload.(*models.ExpensePayload)
		if !ok || d.Step != models.ExpenseStepDebtors {
			return staleButton()
		}
		if sameMembers(p.Debtors, all) {
			p.Debtors = nil
		} else {
			p.Debtors = slices.Clone(all)
		}
		return nil
	})
}

func sameMembers(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for _, id := range a {
		if !slices.Contains(b, id) {
			return false
		}
	}
	return true
}

// SetPayee picks who the settlement is paid to and moves on to the amount. Any other
// member may be paid; exclusion from splits does not apply to settlements.
func (e *Engine) SetPayee(ctx context.Context, t Target, payee int64) (*Result, error) {
	members, err := e.store.ListMembers(ctx, t.ChatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	if payee == t.UserID || !slices.ContainsFunc(members, func(u *models.User) bool { return u.ID == payee }) {
		return eventResult(EventValidationFailed, "You cannot pay this member."), nil
	}

	return e.mutate(ctx, t, EventAdvanced, func(d *models.Draft) *Result {
		p, ok := d.Payload.(*models.SettlementPayload)
		if !ok || d.Step != models.SettlementStepPayee {
			return staleButton()
		}
		p.Payee = payee
		d.Step = models.SettlementStepAmount
		return nil
	})
}

// UseFullAmount fills the settlement amount with everything owed to the payee.
func (e *Engine) UseFullAmount(ctx context.Context, t Target) (*Result, error) {
	d, gone, err := e.Current(ctx, t)
	if err != nil || gone != nil {
		return gone, err
	}
	p, ok := d.Payload.(*models.SettlementPayload)
	if !ok || d.Step != models.SettlementStepAmount {
		return staleButton(), nil
	}
	if p.Payee == 0 {
		return eventResult(EventValidationFailed, "Please select a payee first."), nil
	}
	owed, err := e.ledger.Owed(ctx, d.UserID, p.Payee)
	if err != nil {
		return nil, err
	}
	if owed <= 0 {
		return eventResult(EventValidationFailed, "You don't owe any money to this person."), nil
	}

	payee := p.Payee
	t.DraftID = d.ID
	return e.mutate(ctx, t, EventAdvanced, func(d *models.Draft) *Result {
		p, ok := d.Payload.(*models.SettlementPayload)
		if !ok || d.Step != models.SettlementStepAmount || p.Payee != payee {
			return staleButton()
		}
		p.Amount = owed
		d.Step = models.SettlementStepProof
		return nil
	})
}

// SetNoReceipt records that the expense has no receipt and moves on.
func (e *Engine) SetNoReceipt(ctx context.Context, t Target) (*Result, error) {
	return e.mutate(ctx, t, EventAdvanced, func(d *models.Draft) *Result {
		p, ok := d.Payload.(*models.ExpensePayload)
		if !ok || d.Step != models.ExpenseStepReceipts {
			return staleButton()
		}
		p.NoReceipt = true
		d.Step = models.ExpenseStepDescription
		return nil
	})
}

// SetNoProof records a cash payment without proof and moves on.
func (e *Engine) SetNoProof(ctx context.Context, t Target) (*Result, error) {
	return e.mutate(ctx, t, EventAdvanced, func(d *models.Draft) *Result {
		p, ok := d.Payload.(*models.SettlementPayload)
		if !ok || d.Step != models.SettlementStepProof {
			return staleButton()
		}
		p.NoProof = true
		d.Step = models.SettlementStepReview
		return nil
	})
}

// AppendAttachments adds archived files to the form. The caller has already created their
// FileRef rows and rolls them back unless the result is EventUpdated. A caption becomes the
// expense description when it fits.
func (e *Engine) AppendAttachments(ctx context.Context, t Target, files []models.DraftFile, caption string) (*Result, error) {
	return e.mutate(ctx, t, EventUpdated, func(d *models.Draft) *Result {
		if !AcceptsAttachments(d) {
			return eventResult(EventConflict, "Files can only be added on the receipt step.")
		}
		d.Payload.SetAttachments(append(slices.Clone(d.Payload.Attachments()), files...))
		if p, ok := d.Payload.(*models.ExpensePayload); ok && caption != "" &&
			utf8.RuneCountInString(caption) <= ledger.MaxDescriptionLength {
			p.Description = caption
		}
		return nil
	})
}

// DropAttachments takes the listed files back out of the form. Their references and archived
// copies belong to the caller.
func (e *Engine) DropAttachments(ctx context.Context, t Target, refIDs []string) (*Result, error) {
	return e.mutate(ctx, t, EventUpdated, func(d *models.Draft) *Result {
		files := slices.DeleteFunc(slices.Clone(d.Payload.Attachments()), func(f models.DraftFile) bool {
			return slices.Contains(refIDs, f.RefID)
		})
		d.Payload.SetAttachments(files)
		return nil
	})
}

// RemoveAttachment drops one file from the form together with its reference and archived copy.
func (e *Engine) RemoveAttachment(ctx context.Context, t Target, refID string) (*Result, error) {
	var removed models.DraftFile
	res, err := e.mutate(ctx, t, EventUpdated, func(d *models.Draft) *Result {
		files := d.Payload.Attachments()
		i := slices.IndexFunc(files, func(f models.DraftFile) bool { return f.RefID == refID })
		if i < 0 {
			return staleButton()
		}
		removed = files[i]
		d.Payload.SetAttachments(slices.Delete(slices.Clone(files), i, i+1))
		return nil
	})
	if err != nil || res.Event.Kind != EventUpdated {
		return res, err
	}

	if err := e.store.DeleteFileRef(ctx, removed.RefID); err != nil {
		return nil, err
	}
	if err := e.archive.Purge(ctx, removed.ArchiveMessageID); err != nil {
		e.logger.Warn("Failed to purge removed attachment", "ref_id", removed.RefID, "error", err)
	}
	return res, nil
}
