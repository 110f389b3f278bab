package calculator

import (
	"cmp"
	"slices"

	"github.com/mmynk/splitbot/internal/models"
)

// MemberBalance represents the balance information for one group member.
type MemberBalance struct {
	UserID            int64
	NetBalance        models.Amount // Positive = owed money, Negative = owes money
	TotalOwed         models.Amount // Sum of edges where the member is the debtor
	TotalOwedToMember models.Amount // Sum of edges where the member is the creditor
}

// UserSummary is one member's view of the ledger.
type UserSummary struct {
	TotalOwed         models.Amount
	TotalOwedToMember models.Amount
	// Debts lists the edges involving the member that are above the display threshold.
	Debts []models.DebtEdge
}

// CalculateGroupBalances aggregates the pairwise ledger into per-member balances and
// a simplified settle-up plan.
//
// Algorithm:
//   - For each edge: debtor's TotalOwed += amount, creditor's TotalOwedToMember += amount
//   - net_balance = owed_to_member - owed
//   - Plan: greedy matching of largest debtors with largest creditors
func CalculateGroupBalances(edges []models.DebtEdge) ([]MemberBalance, []models.DebtEdge) {
	balances := make(map[int64]*MemberBalance)
	get := func(id int64) *MemberBalance {
		if b, ok := balances[id]; ok {
			return b
		}
		b := &MemberBalance{UserID: id}
		balances[id] = b
		return b
	}

	for _, e := range edges {
		if e.Amount <= 0 {
			continue
		}
		get(e.From).TotalOwed += e.Amount
		get(e.To).TotalOwedToMember += e.Amount
	}

	memberBalances := make([]MemberBalance, 0, len(balances))
	for _, b := range balances {
		b.NetBalance = b.TotalOwedToMember - b.TotalOwed
		memberBalances = append(memberBalances, *b)
	}
	slices.SortFunc(memberBalances, func(a, b MemberBalance) int {
		return cmp.Compare(a.UserID, b.UserID)
	})

	// Create lists of creditors (owed money) and debtors (owe money)
	var creditors, debtors []MemberBalance
	for _, b := range memberBalances {
		if b.NetBalance > 0 {
			creditors = append(creditors, b)
		} else if b.NetBalance < 0 {
			debtors = append(debtors, b)
		}
	}
	slices.SortStableFunc(creditors, func(a, b MemberBalance) int { return cmp.Compare(b.NetBalance, a.NetBalance) })
	slices.SortStableFunc(debtors, func(a, b MemberBalance) int { return cmp.Compare(a.NetBalance, b.NetBalance) })

	debtorBalance := make(map[int64]models.Amount, len(debtors))
	creditorBalance := make(map[int64]models.Amount, len(creditors))
	for _, d := range debtors {
		debtorBalance[d.UserID] = -d.NetBalance
	}
	for _, c := range creditors {
		creditorBalance[c.UserID] = c.NetBalance
	}

	// Greedy algorithm: match largest debts with largest credits
	var plan []models.DebtEdge
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		debtor := debtors[i].UserID
		creditor := creditors[j].UserID

		amount := min(debtorBalance[debtor], creditorBalance[creditor])
		if amount > 0 {
			plan = append(plan, models.DebtEdge{From: debtor, To: creditor, Amount: amount})
		}

		debtorBalance[debtor] -= amount
		creditorBalance[creditor] -= amount

		if debtorBalance[debtor] == 0 {
			i++
		}
		if creditorBalance[creditor] == 0 {
			j++
		}
	}

	return memberBalances, plan
}

// SummarizeUser totals what userID owes and is owed. Totals include every edge;
// the Debts listing hides edges below models.DisplayThreshold.
func SummarizeUser(edges []models.DebtEdge, userID int64) UserSummary {
	var s UserSummary
	for _, e := range edges {
		switch userID {
		case e.From:
			s.TotalOwed += e.Amount
		case e.To:
			s.TotalOwedToMember += e.Amount
		default:
			continue
		}
		if e.Amount >= models.DisplayThreshold {
			s.Debts = append(s.Debts, e)
		}
	}
	return s
}
