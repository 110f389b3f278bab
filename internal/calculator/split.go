package calculator

import (
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitbot/internal/models"
)

var (
	ErrNoDebtors       = errors.New("must have at least one debtor")
	ErrNonPositive     = errors.New("amount must be positive")
	ErrNegativeShare   = errors.New("computed share is negative")
	ErrPayerIsDebtor   = errors.New("payer cannot be a debtor")
	ErrDuplicateDebtor = errors.New("debtor listed twice")
)

// sharePrecision is the number of decimals each share is truncated to.
// Amounts are stored with 5 decimals; shares deliberately keep only 3.
const sharePrecision = 3

// PersonShare is one debtor's computed share.
type PersonShare struct {
	UserID int64
	Share  models.Amount
}

// SplitResult is the outcome of splitting an expense.
type SplitResult struct {
	// Shares holds one entry per debtor, in input order.
	Shares []PersonShare

	// PerPerson is the share every participant carries (payer included for shared expenses).
	PerPerson models.Amount

	// Participants is the number of people the amount was divided by.
	Participants int

	// Residual is what truncation left over; the payer absorbs it.
	Residual models.Amount
}

// SplitExpense divides amount among the debtors and, unless the expense is a pure debt, the payer.
//
// Algorithm:
//   - pure debt ("Debt" only) with one debtor: the debtor owes the whole amount
//   - otherwise: share = truncate(amount / N, 3 decimals), N = debtors (+1 payer for shared spending)
//   - residual = amount - share*N, never stored, absorbed by the payer
func SplitExpense(amount models.Amount, payerID int64, debtors []int64, categories []string) (SplitResult, error) {
	if amount <= 0 {
		return SplitResult{}, ErrNonPositive
	}
	if len(debtors) == 0 {
		return SplitResult{}, ErrNoDebtors
	}
	if slices.Contains(debtors, payerID) {
		return SplitResult{}, ErrPayerIsDebtor
	}
	seen := make(map[int64]bool, len(debtors))
	for _, d := range debtors {
		if seen[d] {
			return SplitResult{}, fmt.Errorf("%w: %d", ErrDuplicateDebtor, d)
		}
		seen[d] = true
	}

	pureDebt := models.IsPureDebt(categories)
	if pureDebt && len(debtors) == 1 {
		return SplitResult{
			Shares:       []PersonShare{{UserID: debtors[0], Share: amount}},
			PerPerson:    amount,
			Participants: 1,
		}, nil
	}

	n := len(debtors)
	if !pureDebt {
		n++
	}

	share := TruncatedShare(amount, n)
	if share < 0 {
		return SplitResult{}, ErrNegativeShare
	}

	result := SplitResult{
		Shares:       make([]PersonShare, len(debtors)),
		PerPerson:    share,
		Participants: n,
		Residual:     amount - share*models.Amount(n),
	}
	for i, d := range debtors {
		result.Shares[i] = PersonShare{UserID: d, Share: share}
	}
	return result, nil
}

// TruncatedShare returns amount/n truncated toward zero at 3 decimals, in scaled units.
func TruncatedShare(amount models.Amount, n int) models.Amount {
	q, _ := amount.Decimal().QuoRem(decimal.NewFromInt(int64(n)), sharePrecision)
	return models.AmountFromDecimal(q)
}
