package models

// Settlement is a claimed payment between group members to clear debts.
// Status moves once from pending to confirmed or rejected.
type Settlement struct {
	// ID is the unique identifier for the settlement (UUID format).
	ID string

	// ChatID is the group this settlement belongs to.
	ChatID int64

	// FromUserID is the member who says they paid (debtor settling up).
	FromUserID int64

	// ToUserID is the member who received the payment and must confirm it.
	ToUserID int64

	// Amount is the payment amount.
	Amount Amount

	// Status is pending until the receiver decides.
	Status ShareStatus

	// CreatedAt is the Unix timestamp when the settlement was recorded.
	CreatedAt int64

	// StatusAt is the Unix timestamp of the last status change.
	StatusAt int64

	// MessageID is the id of the settlement card posted in the group.
	MessageID int64
}

// DebtEdge is one row of the pairwise ledger: From owes To the given Amount.
// For any pair of members at most one direction holds a positive amount.
type DebtEdge struct {
	From      int64
	To        int64
	Amount    Amount
	UpdatedAt int64
}
