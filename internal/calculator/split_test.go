package calculator

import (
	"errors"
	"testing"

	"github.com/mmynk/splitbot/internal/models"
)

func TestSplitExpense(t *testing.T) {
	tests := []struct {
		name         string
		amount       models.Amount
		payer        int64
		debtors      []int64
		categories   []string
		wantShare    models.Amount
		wantResidual models.Amount
		wantErr      error
	}{
		{
			name:         "ten split three ways",
			amount:       10 * models.Scale,
			payer:        1,
			debtors:      []int64{2, 3},
			categories:   []string{"Food"},
			wantShare:    333300,
			wantResidual: 100,
		},
		{
			name:         "250 split seven ways",
			amount:       250 * models.Scale,
			payer:        1,
			debtors:      []int64{2, 3, 4, 5, 6, 7},
			categories:   []string{"Groceries"},
			wantShare:    3571400,
			wantResidual: 200,
		},
		{
			name:         "even split has no residual",
			amount:       90 * models.Scale,
			payer:        1,
			debtors:      []int64{2, 3},
			wantShare:    30 * models.Scale,
			wantResidual: 0,
		},
		{
			name:         "pure debt single debtor owes everything",
			amount:       1234567,
			payer:        1,
			debtors:      []int64{2},
			categories:   []string{models.CategoryDebt},
			wantShare:    1234567,
			wantResidual: 0,
		},
		{
			name:         "pure debt with several debtors excludes payer",
			amount:       10 * models.Scale,
			payer:        1,
			debtors:      []int64{2, 3, 4},
			categories:   []string{models.CategoryDebt},
			wantShare:    333300,
			wantResidual: 100,
		},
		{
			name:       "no debtors",
			amount:     10 * models.Scale,
			payer:      1,
			categories: []string{"Food"},
			wantErr:    ErrNoDebtors,
		},
		{
			name:    "zero amount",
			amount:  0,
			payer:   1,
			debtors: []int64{2},
			wantErr: ErrNonPositive,
		},
		{
			name:    "payer in debtors",
			amount:  10 * models.Scale,
			payer:   1,
			debtors: []int64{1, 2},
			wantErr: ErrPayerIsDebtor,
		},
		{
			name:    "duplicate debtor",
			amount:  10 * models.Scale,
			payer:   1,
			debtors: []int64{2, 2},
			wantErr: ErrDuplicateDebtor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := SplitExpense(tt.amount, tt.payer, tt.debtors, tt.categories)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("SplitExpense() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SplitExpense() unexpected error: %v", err)
			}

			if len(result.Shares) != len(tt.debtors) {
				t.Fatalf("got %d shares, want %d", len(result.Shares), len(tt.debtors))
			}
			for i, s := range result.Shares {
				if s.UserID != tt.debtors[i] {
					t.Errorf("share %d user = %d, want %d", i, s.UserID, tt.debtors[i])
				}
				if s.Share != tt.wantShare {
					t.Errorf("share %d = %d, want %d", i, s.Share, tt.wantShare)
				}
			}
			if result.Residual != tt.wantResidual {
				t.Errorf("residual = %d, want %d", result.Residual, tt.wantResidual)
			}
		})
	}
}

// TestSplitExpenseResidualBound checks that truncation never overcharges anyone and
// leaves strictly less than one thousandth per participant to the payer.
func TestSplitExpenseResidualBound(t *testing.T) {
	amounts := []models.Amount{1, 99, 100, 101, 12345, 1000001, 33333333, 99999999999999}
	for _, amount := range amounts {
		for debtorCount := 1; debtorCount <= 12; debtorCount++ {
			debtors := make([]int64, debtorCount)
			for i := range debtors {
				debtors[i] = int64(i + 2)
			}

			result, err := SplitExpense(amount, 1, debtors, []string{"Other"})
			if err != nil {
				t.Fatalf("SplitExpense(%d, %d debtors) failed: %v", amount, debtorCount, err)
			}

			n := models.Amount(result.Participants)
			if result.PerPerson*n+result.Residual != amount {
				t.Errorf("amount %d / %d: shares + residual != amount", amount, n)
			}
			if result.Residual < 0 {
				t.Errorf("amount %d / %d: negative residual %d", amount, n, result.Residual)
			}
			if result.Residual >= n*100 {
				t.Errorf("amount %d / %d: residual %d exceeds truncation bound", amount, n, result.Residual)
			}
			if result.PerPerson%100 != 0 {
				t.Errorf("amount %d / %d: share %d has more than 3 decimals", amount, n, result.PerPerson)
			}
		}
	}
}
