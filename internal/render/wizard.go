// Package render turns wizard views, ledger records and menus into message text and inline
// keyboards. Output is plain text; everything a button does is encoded in its Callback data.
package render

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/platform"
	"github.com/mmynk/splitbot/internal/wizard"
)

// Rendered is the text and keyboard of one message.
type Rendered struct {
	Text     string
	Keyboard platform.Keyboard
}

// Renderer holds the presentation settings shared by every message.
type Renderer struct {
	currency       string
	filesChannelID int64
	loc            *time.Location
}

// New creates a Renderer. Archived files are linked inside filesChannelID; dates are shown
// in loc.
func New(currency string, filesChannelID int64, loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{currency: currency, filesChannelID: filesChannelID, loc: loc}
}

// Money formats an amount with the currency code.
func (r *Renderer) Money(a models.Amount) string {
	if r.currency == "" {
		return a.String()
	}
	return a.String() + " " + r.currency
}

// FileLink points at an archived copy in the files channel.
func (r *Renderer) FileLink(archiveMessageID int64) string {
	channel := strconv.FormatInt(r.filesChannelID, 10)
	channel = strings.TrimPrefix(channel, "-100")
	channel = strings.TrimPrefix(channel, "-")
	return fmt.Sprintf("https://t.me/c/%s/%d", channel, archiveMessageID)
}

func fileLabel(mime string, i int) string {
	if mime == "image/jpeg" || mime == "image/png" {
		return fmt.Sprintf("Image %d", i+1)
	}
	return fmt.Sprintf("File %d", i+1)
}

func (r *Renderer) fileLines(files []models.DraftFile) string {
	var b strings.Builder
	for i, f := range files {
		fmt.Fprintf(&b, "  - %s: %s\n", fileLabel(f.MIME, i), r.FileLink(f.ArchiveMessageID))
	}
	return b.String()
}

func row(buttons ...platform.Button) []platform.Button { return buttons }

// pairs lays buttons out two per row.
func pairs(buttons []platform.Button) platform.Keyboard {
	var kb platform.Keyboard
	for i := 0; i < len(buttons); i += 2 {
		kb = append(kb, buttons[i:min(i+2, len(buttons))])
	}
	return kb
}

func check(on bool, label string) string {
	if on {
		return "✅ " + label
	}
	return label
}

// Wizard renders a live form.
func (r *Renderer) Wizard(v *wizard.View) Rendered {
	switch v.Kind {
	case models.KindExpense:
		return r.expenseForm(v)
	case models.KindSettlement:
		return r.settlementForm(v)
	case models.KindClearDebt:
		return r.clearDebtForm(v)
	default:
		return Rendered{Text: "Unknown form."}
	}
}

// navigation is the bottom row shared by every form.
func navigation(v *wizard.View, confirmLabel string) []platform.Button {
	var nav []platform.Button
	if v.Step > 1 {
		nav = append(nav, platform.Button{Text: "◀ Back", Data: wiz(WizBack, v.DraftID)})
	}
	nav = append(nav, platform.Button{Text: "❌ Cancel", Data: wiz(WizCancel, v.DraftID)})
	if v.Step < v.ReviewStep {
		nav = append(nav, platform.Button{Text: "Next ▶", Data: wiz(WizNext, v.DraftID)})
	} else {
		nav = append(nav, platform.Button{Text: confirmLabel, Data: wiz(WizConfirm, v.DraftID)})
	}
	return nav
}

func removeButtons(files []models.DraftFile) platform.Keyboard {
	var kb platform.Keyboard
	for i, f := range files {
		kb = append(kb, row(platform.Button{
			Text: "🗑️ Delete " + fileLabel(f.MIME, i),
			Data: Callback{NS: NSWizard, Action: WizRemove, Arg: f.RefID}.String(),
		}))
	}
	return kb
}

func (r *Renderer) expenseForm(v *wizard.View) Rendered {
	p := v.Expense()
	var b strings.Builder
	var kb platform.Keyboard

	title := "➕ New Expense"
	if p.ReplacesID != "" {
		title = "✏️ Edit Expense"
	}
	if v.Step == v.ReviewStep {
		title += " (Review)"
	}
	b.WriteString(title + "\n\n")

	if v.Step > 1 {
		if p.Amount > 0 {
			fmt.Fprintf(&b, "Amount: %s\n", r.Money(p.Amount))
		}
		if p.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", p.Description)
		}
		if len(p.Categories) > 0 {
			fmt.Fprintf(&b, "Category: %s\n", strings.Join(p.Categories, ", "))
		}
		if len(p.Debtors) > 0 {
			names := make([]string, len(p.Debtors))
			for i, id := range p.Debtors {
				names[i] = v.Name(id)
			}
			fmt.Fprintf(&b, "Debtors: %s\n", strings.Join(names, ", "))
		}
		if len(p.Files) > 0 {
			b.WriteString("\n📎 Files:\n" + r.fileLines(p.Files))
		}
		b.WriteString("\n")
	}

	switch v.Step {
	case models.ExpenseStepAmount:
		b.WriteString("Enter the total amount.")
	case models.ExpenseStepReceipts:
		b.WriteString("Send one or more receipts (images or PDFs).")
		kb = append(kb, removeButtons(p.Files)...)
		if !p.NoReceipt && len(p.Files) == 0 {
			kb = append(kb, row(platform.Button{Text: "➡️ No Receipt", Data: wiz(WizNoReceipt, v.DraftID)}))
		}
	case models.ExpenseStepDescription:
		b.WriteString("Add a description or category.")
		if models.IsPureDebt(p.Categories) {
			b.WriteString("\n\nℹ️ Note: As a 'Debt', the payer will not be included in the split.")
		}
		buttons := make([]platform.Button, len(models.Categories))
		for i, c := range models.Categories {
			buttons[i] = platform.Button{
				Text: check(slices.Contains(p.Categories, c.Name), c.Emoji+" "+c.Name),
				Data: wiz(WizCategory, v.DraftID, c.Name),
			}
		}
		kb = append(kb, pairs(buttons)...)
	case models.ExpenseStepDebtors:
		if models.IsPureDebt(p.Categories) {
			b.WriteString("Select who owes you.")
		} else {
			b.WriteString("Select who you should split the bill with.")
		}
		if len(v.Members) == 0 {
			b.WriteString("\n\nℹ️ Nobody else has been seen in this group yet.")
			break
		}
		buttons := make([]platform.Button, len(v.Members))
		all := true
		for i, m := range v.Members {
			selected := slices.Contains(p.Debtors, m.ID)
			all = all && selected
			buttons[i] = platform.Button{
				Text: check(selected, m.Name()),
				Data: wiz(WizDebtor, v.DraftID, strconv.FormatInt(m.ID, 10)),
			}
		}
		kb = append(kb, pairs(buttons)...)
		label := "✅ Select All"
		if all {
			label = "☑️ Deselect All"
		}
		kb = append(kb, row(platform.Button{Text: label, Data: wiz(WizAll, v.DraftID)}))
	case models.ExpenseStepReview:
		b.WriteString("Review the details below.")
		if v.Totals.Participants > 0 {
			fmt.Fprintf(&b, "\n\nEach of the %d participants carries %s.", v.Totals.Participants, r.Money(v.Totals.Share))
		}
		if adj := v.Totals.Residual; adj >= models.DisplayThreshold {
			fmt.Fprintf(&b, "\n\nℹ️ Rounding Adjustment:\nTo ensure a fair split, the remaining %s of the expense has been assigned to you as the payer.", r.Money(adj))
		}
		kb = append(kb,
			row(
				platform.Button{Text: "✏️ Amount", Data: wiz(WizEdit, v.DraftID, strconv.Itoa(models.ExpenseStepAmount))},
				platform.Button{Text: "✏️ Files", Data: wiz(WizEdit, v.DraftID, strconv.Itoa(models.ExpenseStepReceipts))},
			),
			row(
				platform.Button{Text: "✏️ Cat/Desc", Data: wiz(WizEdit, v.DraftID, strconv.Itoa(models.ExpenseStepDescription))},
				platform.Button{Text: "✏️ Debtors", Data: wiz(WizEdit, v.DraftID, strconv.Itoa(models.ExpenseStepDebtors))},
			),
		)
	}

	kb = append(kb, navigation(v, "✅ Request Confirmation"))
	return Rendered{Text: b.String(), Keyboard: kb}
}

// creditors returns the members the actor owes, largest debt first.
func creditors(v *wizard.View) []int64 {
	ids := make([]int64, 0, len(v.Owed))
	for id := range v.Owed {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b int64) int {
		if c := cmp.Compare(v.Owed[b], v.Owed[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return ids
}

func (r *Renderer) settlementForm(v *wizard.View) Rendered {
	p := v.Settlement()
	var b strings.Builder
	var kb platform.Keyboard

	title := "💸 Settle Debt"
	if p.ReplacesID != "" {
		title = "✏️ Edit Payment"
	}
	if v.Step == v.ReviewStep {
		title += " (Review)"
	}
	b.WriteString(title + "\n\n")

	if v.Step > 1 {
		if p.Payee != 0 {
			fmt.Fprintf(&b, "To: %s\n", v.Name(p.Payee))
		}
		if p.Amount > 0 {
			fmt.Fprintf(&b, "Amount: %s\n", r.Money(p.Amount))
		}
		if len(p.Files) > 0 {
			b.WriteString("\n📎 Proof:\n" + r.fileLines(p.Files))
		}
		b.WriteString("\n")
	}

	switch v.Step {
	case models.SettlementStepPayee:
		b.WriteString("Please select the person you paid.")
		owed := creditors(v)
		if len(owed) == 0 {
			b.WriteString("\n\nℹ️ You don't owe anyone in this group. You can't settle a debt.")
			kb = append(kb, row(platform.Button{Text: "❌ Cancel", Data: wiz(WizCancel, v.DraftID)}))
			return Rendered{Text: b.String(), Keyboard: kb}
		}
		buttons := make([]platform.Button, len(owed))
		for i, id := range owed {
			buttons[i] = platform.Button{
				Text: check(p.Payee == id, fmt.Sprintf("%s (%s)", v.Name(id), v.Owed[id])),
				Data: wiz(WizPayee, v.DraftID, strconv.FormatInt(id, 10)),
			}
		}
		kb = append(kb, pairs(buttons)...)
	case models.SettlementStepAmount:
		b.WriteString("Please enter the amount you paid.")
		if owed := v.Owed[p.Payee]; owed > 0 {
			fmt.Fprintf(&b, "\n\nℹ️ You owe %s %s.", v.Name(p.Payee), r.Money(owed))
			kb = append(kb, row(platform.Button{Text: "💰 Full Amount", Data: wiz(WizFull, v.DraftID)}))
		}
	case models.SettlementStepProof:
		b.WriteString("Please upload proof of payment (e.g., a screenshot).")
		kb = append(kb, removeButtons(p.Files)...)
		if !p.NoProof && len(p.Files) == 0 {
			kb = append(kb, row(platform.Button{Text: "➡️ I am paying with cash", Data: wiz(WizNoProof, v.DraftID)}))
		}
	case models.SettlementStepReview:
		b.WriteString("Everything look correct? You can still go back or edit details.")
		owed := v.Owed[p.Payee]
		switch {
		case owed > 0 && p.Amount > owed:
			fmt.Fprintf(&b, "\n\n⚠️ Overpayment: %s will owe you %s.", v.Name(p.Payee), r.Money(p.Amount-owed))
		case owed > 0 && p.Amount == owed:
			fmt.Fprintf(&b, "\n\n✅ This will settle your debt with %s.", v.Name(p.Payee))
		}
		var edits []platform.Button
		if len(v.Owed) > 1 {
			edits = append(edits, platform.Button{Text: "✏️ Payee", Data: wiz(WizEdit, v.DraftID, strconv.Itoa(models.SettlementStepPayee))})
		}
		edits = append(edits,
			platform.Button{Text: "✏️ Amount", Data: wiz(WizEdit, v.DraftID, strconv.Itoa(models.SettlementStepAmount))},
			platform.Button{Text: "✏️ Proof", Data: wiz(WizEdit, v.DraftID, strconv.Itoa(models.SettlementStepProof))},
		)
		kb = append(kb, edits)
	}

	kb = append(kb, navigation(v, "✅ Request Confirmation"))
	return Rendered{Text: b.String(), Keyboard: kb}
}

func (r *Renderer) clearDebtForm(v *wizard.View) Rendered {
	p := v.ClearDebt()
	var b strings.Builder
	var kb platform.Keyboard

	b.WriteString("🧹 Clear Debt\n\n")
	fmt.Fprintf(&b, "%s owes you %s.\n", v.Name(p.Debtor), r.Money(p.TotalDebt))
	if p.AmountToClear > 0 {
		fmt.Fprintf(&b, "Amount to clear: %s\n", r.Money(p.AmountToClear))
	}
	b.WriteString("\n")

	switch v.Step {
	case models.ClearDebtStepAmount:
		b.WriteString("Enter the amount you want to forgive.")
	case models.ClearDebtStepConfirm:
		fmt.Fprintf(&b, "%s will still owe you %s.", v.Name(p.Debtor), r.Money(p.TotalDebt-p.AmountToClear))
		kb = append(kb, row(platform.Button{Text: "✏️ Amount", Data: wiz(WizEdit, v.DraftID, strconv.Itoa(models.ClearDebtStepAmount))}))
	}

	kb = append(kb, navigation(v, "✅ Clear Debt"))
	return Rendered{Text: b.String(), Keyboard: kb}
}

// Expired is shown in place of a form that can no longer be used.
func Expired() Rendered {
	return Rendered{Text: "⌛ This form has expired."}
}
