package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmynk/splitbot/internal/calculator"
	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/platform"
	"github.com/mmynk/splitbot/internal/storage"
)

// HistoryPageSize is the number of entries per history page.
const HistoryPageSize = 10

func back(action string) []platform.Button {
	return row(platform.Button{Text: "◀ Back", Data: menu(action)})
}

// Menu renders the group's main menu.
func (r *Renderer) Menu(groupName string, activeDrafts int) Rendered {
	text := "🧾 Debt Manager — Group: " + groupName + "\n"
	if activeDrafts > 0 {
		text += fmt.Sprintf("Active drafts: %d\n", activeDrafts)
	}
	return Rendered{Text: text, Keyboard: platform.Keyboard{
		row(
			platform.Button{Text: "➕ Add Expense", Data: menu(MenuExpense)},
			platform.Button{Text: "💸 Settle Debt", Data: menu(MenuSettle)},
		),
		row(
			platform.Button{Text: "📊 Balances", Data: menu(MenuBalances)},
			platform.Button{Text: "📈 Reports", Data: menu(MenuReports)},
		),
		row(
			platform.Button{Text: "⚙️ Settings", Data: Callback{NS: NSSettings, Action: SetOpen}.String()},
			platform.Button{Text: "❓ Help", Data: menu(MenuHelp)},
		),
		row(platform.Button{Text: "❌ Close", Data: menu(MenuClose)}),
	}}
}

// BalancesMenu offers the personal and group balance views.
func (r *Renderer) BalancesMenu(groupName string) Rendered {
	return Rendered{
		Text: "📊 Balances for " + groupName + "\n\nSelect an option:",
		Keyboard: platform.Keyboard{
			row(
				platform.Button{Text: "📊 My Balance", Data: menu(MenuMine)},
				platform.Button{Text: "📋 All Balances", Data: menu(MenuAll)},
			),
			back(MenuMain),
		},
	}
}

// ReportsMenu offers history and analytics.
func (r *Renderer) ReportsMenu(groupName string) Rendered {
	return Rendered{
		Text: "📈 Reports for " + groupName + "\n\nSelect a report to view:",
		Keyboard: platform.Keyboard{
			row(
				platform.Button{Text: "📜 History", Data: Callback{NS: NSMenu, Action: MenuHistory, ID: "0"}.String()},
				platform.Button{Text: "📊 By Category", Data: menu(MenuCategories)},
			),
			back(MenuMain),
		},
	}
}

// AllBalances lists every displayed debt of the group and a settle-up plan.
func (r *Renderer) AllBalances(groupName string, edges, plan []models.DebtEdge, users map[int64]*models.User) Rendered {
	var b strings.Builder
	b.WriteString("📊 All Balances for " + groupName + "\n\n")
	if len(edges) == 0 {
		b.WriteString("Everyone is settled up! 🎉")
	} else {
		for _, e := range edges {
			fmt.Fprintf(&b, "• %s owes %s: %s\n", users[e.From].Name(), users[e.To].Name(), r.Money(e.Amount))
		}
		if len(plan) > 0 && len(plan) < len(edges) {
			b.WriteString("\nFastest way to settle up:\n")
			for _, e := range plan {
				fmt.Fprintf(&b, "• %s pays %s %s\n", users[e.From].Name(), users[e.To].Name(), r.Money(e.Amount))
			}
		}
	}
	return Rendered{Text: b.String(), Keyboard: platform.Keyboard{back(MenuBalances)}}
}

// MyBalance shows one member's position. Members who owe the viewer get a clear-debt button.
func (r *Renderer) MyBalance(userID int64, summary calculator.UserSummary, users map[int64]*models.User) Rendered {
	var b strings.Builder
	fmt.Fprintf(&b, "👤 Your Balance Summary (%s)\n\n", users[userID].Name())

	net := summary.TotalOwedToMember - summary.TotalOwed
	switch {
	case net >= models.DisplayThreshold:
		fmt.Fprintf(&b, "🎉 You are owed a net total of: %s\n\n", r.Money(net))
	case -net >= models.DisplayThreshold:
		fmt.Fprintf(&b, "💸 You owe a net total of: %s\n\n", r.Money(-net))
	default:
		b.WriteString("Everyone is settled up! 🎉\n\n")
	}

	var kb platform.Keyboard
	if len(summary.Debts) > 0 {
		b.WriteString("Details:\n")
		for _, e := range summary.Debts {
			if e.From == userID {
				fmt.Fprintf(&b, "• You owe %s: %s\n", users[e.To].Name(), r.Money(e.Amount))
				continue
			}
			fmt.Fprintf(&b, "• %s owes you: %s\n", users[e.From].Name(), r.Money(e.Amount))
			kb = append(kb, row(platform.Button{
				Text: "🧹 Clear " + users[e.From].Name() + "'s debt",
				Data: menu(MenuClear, strconv.FormatInt(e.From, 10)),
			}))
		}
	}
	kb = append(kb, back(MenuBalances))
	return Rendered{Text: b.String(), Keyboard: kb}
}

// History renders one page of the group history, grouped by day.
func (r *Renderer) History(groupName string, entries []storage.HistoryEntry, users map[int64]*models.User, offset int) Rendered {
	var b strings.Builder
	b.WriteString("📜 Recent History for " + groupName + "\n\n")

	if len(entries) == 0 {
		b.WriteString("No recent activity to display.")
	}
	lastDay := ""
	for _, e := range entries {
		at := time.Unix(e.CreatedAt, 0).In(r.loc)
		if day := at.Format("Jan 02"); day != lastDay {
			b.WriteString(day + "\n")
			lastDay = day
		}
		amount := r.Money(e.Amount)
		switch e.Kind {
		case storage.HistoryExpense:
			what := e.Description
			if what == "" {
				what = strings.Join(e.Categories, ", ")
			}
			if what == "" {
				what = "expense"
			}
			fmt.Fprintf(&b, "  • %s: %s paid %s for %q\n", at.Format("15:04"), users[e.FromUserID].Name(), amount, what)
		case storage.HistorySettlement:
			fmt.Fprintf(&b, "  • %s: %s paid %s %s\n", at.Format("15:04"), users[e.FromUserID].Name(), users[e.ToUserID].Name(), amount)
		}
	}

	var kb platform.Keyboard
	var paging []platform.Button
	if offset > 0 {
		prev := max(offset-HistoryPageSize, 0)
		paging = append(paging, platform.Button{Text: "◀ Previous", Data: Callback{NS: NSMenu, Action: MenuHistory, ID: strconv.Itoa(prev)}.String()})
	}
	if len(entries) == HistoryPageSize {
		paging = append(paging, platform.Button{Text: "Next ▶", Data: Callback{NS: NSMenu, Action: MenuHistory, ID: strconv.Itoa(offset + HistoryPageSize)}.String()})
	}
	if len(paging) > 0 {
		kb = append(kb, paging)
	}
	kb = append(kb, back(MenuReports))
	return Rendered{Text: b.String(), Keyboard: kb}
}

// SpendingByCategory lists settled spending per category.
func (r *Renderer) SpendingByCategory(groupName string, totals []storage.CategoryTotal) Rendered {
	emoji := make(map[string]string, len(models.Categories))
	for _, c := range models.Categories {
		emoji[c.Name] = c.Emoji
	}

	var b strings.Builder
	b.WriteString("📊 Spending by Category for " + groupName + "\n\n")
	if len(totals) == 0 {
		b.WriteString("No spending data available.")
	}
	for _, t := range totals {
		name := t.Category
		if name == "" {
			name = "Uncategorized"
		}
		mark, ok := emoji[name]
		if !ok {
			mark = "-"
		}
		fmt.Fprintf(&b, "%s %s: %s\n", mark, name, r.Money(t.Total))
	}
	return Rendered{Text: b.String(), Keyboard: platform.Keyboard{back(MenuReports)}}
}

// Settings renders the per-member switches of the settings editor.
func (r *Renderer) Settings(groupName string, settings models.GroupSettings, editorID int64, editorName string) Rendered {
	var b strings.Builder
	b.WriteString("⚙️ Settings for " + groupName + "\n\n")
	fmt.Fprintf(&b, "Currently being edited by %s.\n\n", editorName)

	onOff := func(on bool) string {
		if on {
			return "on"
		}
		return "off"
	}
	autoExpense := settings.AutoConfirmsExpenses(editorID)
	autoSettlement := settings.AutoConfirmsSettlements(editorID)
	excluded := settings.IsExcluded(editorID)
	fmt.Fprintf(&b, "Auto-confirm my expense shares: %s\n", onOff(autoExpense))
	fmt.Fprintf(&b, "Auto-confirm payments to me: %s\n", onOff(autoSettlement))
	fmt.Fprintf(&b, "Leave me out of splits: %s\n", onOff(excluded))

	toggle := func(on bool, label string, t models.SettingsToggle) []platform.Button {
		return row(platform.Button{
			Text: check(on, label),
			Data: Callback{NS: NSSettings, Action: SetToggle, ID: string(t)}.String(),
		})
	}
	return Rendered{Text: b.String(), Keyboard: platform.Keyboard{
		toggle(autoExpense, "Auto-confirm expenses", models.ToggleAutoConfirmExpense),
		toggle(autoSettlement, "Auto-confirm payments", models.ToggleAutoConfirmSettlement),
		toggle(excluded, "Exclude me", models.ToggleExcluded),
		row(platform.Button{Text: "✔ Done", Data: Callback{NS: NSSettings, Action: SetDone}.String()}),
	}}
}

// Help explains the bot.
func (r *Renderer) Help() Rendered {
	text := `❓ Help

➕ Add Expense
Record something you paid for. The bot asks for the amount, receipts, a description or category, and who shares the cost.
- With the 'Debt' category the payer is left out of the split.
- Every debtor has to confirm. A rejection marks the expense as disputed until the payer edits it.

💸 Settle Debt
Record a payment to a member you owe. If you owe exactly one person they are picked for you. Choose 'I am paying with cash' when there is no proof.

📊 Balances
See who you owe and who owes you, or every open debt in the group. Creditors can clear what someone owes them.

⚖️ Fair Splitting & Rounding
Each share is truncated, never rounded up, to 3 decimal places. The tiny leftover is assigned to the payer.
Example: 10 split among 3 people gives shares of 3.333; the 0.001 remainder stays with the payer.`
	return Rendered{Text: text, Keyboard: platform.Keyboard{back(MenuMain)}}
}
