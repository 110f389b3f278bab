package render

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/platform"
)

const cardTimeLayout = "Jan 02, 2006, 15:04"

func (r *Renderer) date(unix int64) string {
	return time.Unix(unix, 0).In(r.loc).Format(cardTimeLayout)
}

func (r *Renderer) refLinks(files []*models.FileRef) string {
	links := make([]string, len(files))
	for i, f := range files {
		links[i] = fileLabel(f.MIME, i) + ": " + r.FileLink(f.ArchiveMessageID)
	}
	return strings.Join(links, "\n")
}

func statusMark(s models.ShareStatus) string {
	switch s {
	case models.StatusConfirmed:
		return "✅"
	case models.StatusRejected:
		return "❌"
	default:
		return "⚪️"
	}
}

// ExpenseCard renders the group message of a published expense. users resolves the payer
// and every debtor.
func (r *Renderer) ExpenseCard(e *models.Expense, users map[int64]*models.User, files []*models.FileRef) Rendered {
	var b strings.Builder

	fmt.Fprintf(&b, "🧾 New Expense: %s from %s\n", r.Money(e.Amount), users[e.PayerID].Name())
	if e.Rejected {
		b.WriteString("Disputed 🔴\n")
	}
	b.WriteString("\n")

	category := strings.Join(e.Categories, ", ")
	switch {
	case e.Description != "" && category != "":
		fmt.Fprintf(&b, "%q (%s)\n\n", e.Description, category)
	case e.Description != "":
		fmt.Fprintf(&b, "%q\n\n", e.Description)
	case category != "":
		fmt.Fprintf(&b, "%s\n\n", category)
	}

	var share models.Amount
	if len(e.Shares) > 0 {
		share = e.Shares[0].Share
	}
	if len(e.Shares) == 1 {
		s := e.Shares[0]
		fmt.Fprintf(&b, "👤 %s %s owes %s\n", statusMark(s.Status), users[s.DebtorID].Name(), r.Money(share))
	} else {
		fmt.Fprintf(&b, "👥 Each of the %d debtors owes %s:\n", len(e.Shares), r.Money(share))
		for _, s := range e.Shares {
			fmt.Fprintf(&b, "%s %s\n", statusMark(s.Status), users[s.DebtorID].Name())
		}
	}

	if len(files) > 0 {
		b.WriteString("\n📎 Files:\n" + r.refLinks(files) + "\n")
	}

	participants := len(e.Shares)
	if !e.IsPureDebt() {
		participants++
	}
	if residual := e.Amount - share*models.Amount(participants); residual >= models.DisplayThreshold {
		fmt.Fprintf(&b, "\nℹ️ Rounding Adjustment:\nTo ensure a fair split, the remaining %s of the expense has been assigned to the payer.\n", r.Money(residual))
	}
	fmt.Fprintf(&b, "\n🗓️ %s", r.date(e.CreatedAt))

	var kb platform.Keyboard
	pending := slices.ContainsFunc(e.Shares, func(s models.ExpenseShare) bool { return s.Status == models.StatusPending })
	if pending && !e.Rejected {
		kb = append(kb, row(
			platform.Button{Text: "✅ Confirm", Data: Callback{NS: NSExpense, Action: CardConfirm, ID: e.ID}.String()},
			platform.Button{Text: "❌ Reject", Data: Callback{NS: NSExpense, Action: CardReject, ID: e.ID}.String()},
		))
	}
	if !e.AllConfirmed() {
		kb = append(kb, row(
			platform.Button{Text: "✏️ Edit & Resubmit", Data: Callback{NS: NSExpense, Action: CardEdit, ID: e.ID}.String()},
			platform.Button{Text: "🗑️ Delete Expense", Data: Callback{NS: NSExpense, Action: CardDelete, ID: e.ID}.String()},
		))
	}
	return Rendered{Text: b.String(), Keyboard: kb}
}

// SettlementCard renders the group message of a settlement. owedBefore is what the sender
// owed the receiver before this payment; pass a negative value when it is not known.
func (r *Renderer) SettlementCard(s *models.Settlement, users map[int64]*models.User, files []*models.FileRef, owedBefore models.Amount) Rendered {
	from, to := users[s.FromUserID].Name(), users[s.ToUserID].Name()
	var b strings.Builder

	b.WriteString("💸 Settlement\n\n")
	fmt.Fprintf(&b, "%s has paid %s %s.\n\n", from, to, r.Money(s.Amount))

	if s.Status == models.StatusPending && owedBefore >= 0 {
		switch remaining := owedBefore - s.Amount; {
		case remaining < 0:
			fmt.Fprintf(&b, "⚠️ Overpayment Warning\nBy confirming this settlement, %s will owe %s %s.\n\n", to, from, r.Money(-remaining))
		case remaining == 0:
			fmt.Fprintf(&b, "💰 Expected Balance\n%s and %s will be settled up.\n\n", from, to)
		default:
			fmt.Fprintf(&b, "💰 Expected Balance\n%s will still owe %s %s.\n\n", from, to, r.Money(remaining))
		}
	}

	switch s.Status {
	case models.StatusPending:
		fmt.Fprintf(&b, "⏳ Waiting for %s to confirm...", to)
	case models.StatusConfirmed:
		fmt.Fprintf(&b, "✅ Confirmed by %s.", to)
	case models.StatusRejected:
		fmt.Fprintf(&b, "❌ Rejected by %s.", to)
	}

	if len(files) > 0 {
		b.WriteString("\n\n📎 Proof:\n" + r.refLinks(files))
	}
	fmt.Fprintf(&b, "\n\n🗓️ %s", r.date(s.CreatedAt))

	var kb platform.Keyboard
	switch s.Status {
	case models.StatusPending:
		kb = append(kb, row(
			platform.Button{Text: "✅ Confirm", Data: Callback{NS: NSSettlement, Action: CardConfirm, ID: s.ID}.String()},
			platform.Button{Text: "❌ Reject", Data: Callback{NS: NSSettlement, Action: CardReject, ID: s.ID}.String()},
		))
	case models.StatusRejected:
		kb = append(kb, row(
			platform.Button{Text: "✏️ Edit & Resubmit", Data: Callback{NS: NSSettlement, Action: CardEdit, ID: s.ID}.String()},
			platform.Button{Text: "🗑️ Delete Settlement", Data: Callback{NS: NSSettlement, Action: CardDelete, ID: s.ID}.String()},
		))
	}
	return Rendered{Text: b.String(), Keyboard: kb}
}

// DebtCleared announces a confirmed clear-debt form.
func (r *Renderer) DebtCleared(creditor, debtor string, amount, remaining models.Amount) Rendered {
	text := fmt.Sprintf("🧹 %s cleared %s of %s's debt.", creditor, r.Money(amount), debtor)
	if remaining > 0 {
		text += fmt.Sprintf("\n%s still owes %s %s.", debtor, creditor, r.Money(remaining))
	} else {
		text += fmt.Sprintf("\n%s and %s are settled up.", debtor, creditor)
	}
	return Rendered{Text: text}
}
