package wizard

import (
	"context"
	"fmt"
	"slices"

	"github.com/mmynk/splitbot/internal/calculator"
	"github.com/mmynk/splitbot/internal/models"
)

// Totals are the figures derived from an expense payload.
type Totals struct {
	// Share is what every participant carries.
	Share models.Amount
	// Residual is the truncation remainder absorbed by the payer.
	Residual models.Amount
	// Participants is the number of people the amount is divided by.
	Participants int
}

// View is the read-only state handed to the renderer.
type View struct {
	DraftID    string
	ChatID     int64
	UserID     int64
	Kind       models.DraftKind
	Step       int
	ReviewStep int
	MessageID  int64
	ExpiresAt  int64
	Payload    models.Payload
	Totals     Totals

	// Members are the selectable counterparts: debtors for expenses, payees for settlements.
	Members []*models.User

	// Owed maps each member the actor owes to the amount, for the settlement payee step.
	Owed map[int64]models.Amount

	// Users resolves every id referenced by the payload.
	Users map[int64]*models.User
}

// Expense returns the payload as an expense payload, or nil.
func (v *View) Expense() *models.ExpensePayload {
	p, _ := v.Payload.(*models.ExpensePayload)
	return p
}

// Settlement returns the payload as a settlement payload, or nil.
func (v *View) Settlement() *models.SettlementPayload {
	p, _ := v.Payload.(*models.SettlementPayload)
	return p
}

// ClearDebt returns the payload as a clear-debt payload, or nil.
func (v *View) ClearDebt() *models.ClearDebtPayload {
	p, _ := v.Payload.(*models.ClearDebtPayload)
	return p
}

// Name returns the display name of userID.
func (v *View) Name(userID int64) string {
	return v.Users[userID].Name()
}

func computeTotals(p *models.ExpensePayload, payerID int64) Totals {
	if p.Amount <= 0 || len(p.Debtors) == 0 {
		return Totals{}
	}
	split, err := calculator.SplitExpense(p.Amount, payerID, p.Debtors, p.Categories)
	if err != nil {
		return Totals{}
	}
	return Totals{Share: split.PerPerson, Residual: split.Residual, Participants: split.Participants}
}

func (e *Engine) buildView(ctx context.Context, d *models.Draft) (*View, error) {
	v := &View{
		DraftID:    d.ID,
		ChatID:     d.ChatID,
		UserID:     d.UserID,
		Kind:       d.Kind,
		Step:       d.Step,
		ReviewStep: models.ReviewStep(d.Kind),
		MessageID:  d.MessageID,
		ExpiresAt:  d.ExpiresAt,
		Payload:    models.ClonePayload(d.Payload),
		Users:      make(map[int64]*models.User),
	}

	candidates, err := e.candidates(ctx, d.ChatID, d.UserID)
	if err != nil {
		return nil, err
	}
	v.Members = candidates
	for _, u := range candidates {
		v.Users[u.ID] = u
	}

	ids := []int64{d.UserID}
	switch p := d.Payload.(type) {
	case *models.ExpensePayload:
		v.Totals = computeTotals(p, d.UserID)
		ids = append(ids, p.Debtors...)
	case *models.SettlementPayload:
		creditors, err := e.ledger.Creditors(ctx, d.ChatID, d.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to load creditors: %w", err)
		}
		v.Owed = make(map[int64]models.Amount, len(creditors))
		for _, c := range creditors {
			v.Owed[c.To] = c.Amount
		}
		if p.Payee != 0 {
			ids = append(ids, p.Payee)
		}
	case *models.ClearDebtPayload:
		ids = append(ids, p.Debtor)
	}

	var missing []int64
	for _, id := range ids {
		if _, ok := v.Users[id]; !ok && !slices.Contains(missing, id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		users, err := e.store.GetUsers(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("failed to load users: %w", err)
		}
		for id, u := range users {
			v.Users[id] = u
		}
	}
	return v, nil
}

// candidates returns the group members other than userID who are not excluded from splits.
func (e *Engine) candidates(ctx context.Context, chatID, userID int64) ([]*models.User, error) {
	group, err := e.store.GetGroup(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	members, err := e.store.ListMembers(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return slices.DeleteFunc(members, func(u *models.User) bool {
		return u.ID == userID || group.Settings.IsExcluded(u.ID)
	}), nil
}

// stepReason returns why d cannot leave its current step, or "" when it can.
func stepReason(d *models.Draft) string {
	return reasonAt(d, d.Step)
}

func reasonAt(d *models.Draft, step int) string {
	switch p := d.Payload.(type) {
	case *models.ExpensePayload:
		switch step {
		case models.ExpenseStepAmount:
			if p.Amount <= 0 {
				return "Please enter an amount before proceeding."
			}
		case models.ExpenseStepDescription:
			if p.Description == "" && len(p.Categories) == 0 {
				return "Please add a description or select a category."
			}
		case models.ExpenseStepDebtors:
			if len(p.Debtors) == 0 {
				return "Please select at least one debtor."
			}
		}
	case *models.SettlementPayload:
		switch step {
		case models.SettlementStepPayee:
			if p.Payee == 0 {
				return "Please select a payee before proceeding."
			}
		case models.SettlementStepAmount:
			if p.Amount <= 0 {
				return "Please enter an amount before proceeding."
			}
		case models.SettlementStepProof:
			if len(p.Files) == 0 && !p.NoProof {
				return "Please upload proof of payment or choose to pay in cash."
			}
		}
	case *models.ClearDebtPayload:
		if step == models.ClearDebtStepAmount && p.AmountToClear <= 0 {
			return "Please enter the amount to clear."
		}
	}
	return ""
}

// readyReason re-checks every step before the review step.
func readyReason(d *models.Draft) string {
	for step := 1; step < models.ReviewStep(d.Kind); step++ {
		if reason := reasonAt(d, step); reason != "" {
			return reason
		}
	}
	return ""
}
