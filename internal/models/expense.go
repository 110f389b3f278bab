package models

import "slices"

// ShareStatus is the confirmation state of one debtor's share.
type ShareStatus string

const (
	StatusPending   ShareStatus = "pending"
	StatusConfirmed ShareStatus = "confirmed"
	StatusRejected  ShareStatus = "rejected"
)

// Expense is a payment made by one member and split among debtors.
// Expenses are immutable once created except for the rejected flag; edits replace the record.
type Expense struct {
	// ID is the unique identifier for the expense (UUID format).
	ID string

	// ChatID is the group this expense belongs to.
	ChatID int64

	// PayerID is the member who paid.
	PayerID int64

	// Amount is the total paid.
	Amount Amount

	// Description is optional free text (at most 255 characters).
	Description string

	// Categories are the selected category tags. "Debt" never coexists with another tag.
	Categories []string

	// CreatedAt is the Unix timestamp when the expense was published.
	CreatedAt int64

	// Rejected is set once any debtor rejects their share.
	Rejected bool

	// RejectedAt is the Unix timestamp of the first rejection.
	RejectedAt int64

	// MessageID is the id of the expense card posted in the group.
	MessageID int64

	// Shares holds one row per debtor.
	Shares []ExpenseShare
}

// ExpenseShare is one debtor's part of an expense.
type ExpenseShare struct {
	DebtorID int64
	Share    Amount
	Status   ShareStatus
	StatusAt int64
}

// IsPureDebt reports whether the expense is a plain "I lent you money" record.
func (e *Expense) IsPureDebt() bool {
	return IsPureDebt(e.Categories)
}

// Share returns the share row for debtorID.
func (e *Expense) Share(debtorID int64) (*ExpenseShare, bool) {
	for i := range e.Shares {
		if e.Shares[i].DebtorID == debtorID {
			return &e.Shares[i], true
		}
	}
	return nil, false
}

// AllConfirmed reports whether every share has been confirmed.
func (e *Expense) AllConfirmed() bool {
	if len(e.Shares) == 0 {
		return false
	}
	return !slices.ContainsFunc(e.Shares, func(s ExpenseShare) bool {
		return s.Status != StatusConfirmed
	})
}

// DebtorIDs returns the debtors in share order.
func (e *Expense) DebtorIDs() []int64 {
	ids := make([]int64, len(e.Shares))
	for i, s := range e.Shares {
		ids[i] = s.DebtorID
	}
	return ids
}
