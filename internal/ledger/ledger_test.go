package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitbot/internal/apperr"
	"github.com/mmynk/splitbot/internal/models"
	"github.com/mmynk/splitbot/internal/storage/sqlite"
)

const (
	chat  = int64(-500)
	alice = int64(1)
	bob   = int64(2)
	carol = int64(3)
)

func amt(s string) models.Amount {
	a, err := models.ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func setup(t *testing.T) (*Engine, *sqlite.SQLiteStore) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.EnsureGroup(ctx, chat))
	for _, id := range []int64{alice, bob, carol} {
		require.NoError(t, store.UpsertUser(ctx, &models.User{ID: id, DisplayName: "u"}))
		require.NoError(t, store.AddMember(ctx, chat, id))
	}

	now := time.Unix(1_700_000_000, 0)
	return New(store, WithClock(func() time.Time { return now })), store
}

func TestCreateExpense_SplitScenarios(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		amount    string
		debtors   []int64
		cats      []string
		wantShare string
		wantResid models.Amount
	}{
		{"ten among three", "10", []int64{bob, carol}, []string{"Food"}, "3.333", 100},
		{"pure debt single debtor", "10", []int64{bob}, []string{models.CategoryDebt}, "10", 0},
		{"pure debt two debtors", "10", []int64{bob, carol}, []string{models.CategoryDebt}, "5", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := setup(t)
			res, err := engine.CreateExpense(ctx, ExpenseInput{
				ChatID: chat, PayerID: alice, Amount: amt(tt.amount),
				Categories: tt.cats, Debtors: tt.debtors,
			})
			require.NoError(t, err)
			for _, s := range res.Expense.Shares {
				assert.Equal(t, amt(tt.wantShare), s.Share)
				assert.Equal(t, models.StatusPending, s.Status)
			}
			assert.Equal(t, tt.wantResid, res.Split.Residual)
			assert.False(t, res.Netted)
		})
	}
}

func TestCreateExpense_Validation(t *testing.T) {
	engine, _ := setup(t)
	ctx := context.Background()

	long := make([]byte, MaxDescriptionLength+1)
	for i := range long {
		long[i] = 'x'
	}

	inputs := map[string]ExpenseInput{
		"no debtors":          {ChatID: chat, PayerID: alice, Amount: amt("5"), Description: "x"},
		"payer among debtors": {ChatID: chat, PayerID: alice, Amount: amt("5"), Description: "x", Debtors: []int64{alice}},
		"no description":      {ChatID: chat, PayerID: alice, Amount: amt("5"), Debtors: []int64{bob}},
		"description too long": {ChatID: chat, PayerID: alice, Amount: amt("5"), Debtors: []int64{bob},
			Description: string(long)},
		"unknown category": {ChatID: chat, PayerID: alice, Amount: amt("5"), Debtors: []int64{bob},
			Categories: []string{"Yachts"}},
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := engine.CreateExpense(ctx, in)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "err = %v", err)
		})
	}
}

func TestConfirmationGating(t *testing.T) {
	engine, store := setup(t)
	ctx := context.Background()

	res, err := engine.CreateExpense(ctx, ExpenseInput{
		ChatID: chat, PayerID: alice, Amount: amt("30"), Description: "Groceries run",
		Debtors: []int64{bob, carol},
	})
	require.NoError(t, err)
	id := res.Expense.ID

	_, err = engine.ConfirmShare(ctx, id, alice)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "payer has no share")

	d, err := engine.ConfirmShare(ctx, id, bob)
	require.NoError(t, err)
	assert.False(t, d.Netted)
	owed, _ := store.GetDebt(ctx, bob, alice)
	assert.Zero(t, owed, "no net before every share is confirmed")

	d, err = engine.ConfirmShare(ctx, id, carol)
	require.NoError(t, err)
	assert.True(t, d.Netted)
	assert.True(t, d.Expense.AllConfirmed())

	for _, debtor := range []int64{bob, carol} {
		owed, _ := store.GetDebt(ctx, debtor, alice)
		assert.Equal(t, amt("10"), owed)
	}

	_, err = engine.ConfirmShare(ctx, id, bob)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = engine.DeleteExpense(ctx, id, alice, nil)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "netted expenses cannot be edited")
}

func TestAutoConfirmIsInline(t *testing.T) {
	engine, store := setup(t)
	ctx := context.Background()
	require.NoError(t, store.UpdateGroupSettings(ctx, chat, models.GroupSettings{
		AutoConfirmExpenseUsers:    []int64{bob, carol},
		AutoConfirmSettlementUsers: []int64{alice},
	}))

	res, err := engine.CreateExpense(ctx, ExpenseInput{
		ChatID: chat, PayerID: alice, Amount: amt("30"), Categories: []string{"Gas"},
		Debtors: []int64{bob, carol},
	})
	require.NoError(t, err)
	assert.True(t, res.Netted)

	owed, _ := store.GetDebt(ctx, bob, alice)
	assert.Equal(t, amt("10"), owed)

	stl, err := engine.CreateSettlement(ctx, SettlementInput{ChatID: chat, FromID: bob, ToID: alice, Amount: amt("4")})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, stl.Status)
	owed, _ = store.GetDebt(ctx, bob, alice)
	assert.Equal(t, amt("6"), owed)
}

func TestRejectedShareDisputesExpense(t *testing.T) {
	engine, _ := setup(t)
	ctx := context.Background()

	res, err := engine.CreateExpense(ctx, ExpenseInput{
		ChatID: chat, PayerID: alice, Amount: amt("30"), Description: "Taxi",
		Debtors: []int64{bob, carol},
	})
	require.NoError(t, err)

	d, err := engine.RejectShare(ctx, res.Expense.ID, bob)
	require.NoError(t, err)
	assert.True(t, d.Expense.Rejected)

	_, err = engine.ConfirmShare(ctx, res.Expense.ID, carol)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = engine.DeleteExpense(ctx, res.Expense.ID, bob, nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "only the payer may delete")

	_, err = engine.DeleteExpense(ctx, res.Expense.ID, alice, nil)
	require.NoError(t, err)

	_, err = engine.ConfirmShare(ctx, res.Expense.ID, carol)
	assert.Equal(t, apperr.KindExpired, apperr.KindOf(err))
}

func TestSettlementScenarios(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		owed        string
		paid        string
		wantForward models.Amount
		wantReverse models.Amount
	}{
		{"exact payment clears the edge", "50", "50", 0, 0},
		{"overpayment reverses the edge", "30", "50", 0, amt("20")},
		{"partial payment", "30", "10", amt("20"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, store := setup(t)
			require.NoError(t, store.ApplyNet(ctx, alice, bob, amt(tt.owed), 1))

			stl, err := engine.CreateSettlement(ctx, SettlementInput{ChatID: chat, FromID: alice, ToID: bob, Amount: amt(tt.paid)})
			require.NoError(t, err)
			require.Equal(t, models.StatusPending, stl.Status)

			_, err = engine.ConfirmSettlement(ctx, stl.ID, alice)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "sender cannot confirm")

			stl, err = engine.ConfirmSettlement(ctx, stl.ID, bob)
			require.NoError(t, err)
			assert.Equal(t, models.StatusConfirmed, stl.Status)

			forward, _ := store.GetDebt(ctx, alice, bob)
			reverse, _ := store.GetDebt(ctx, bob, alice)
			assert.Equal(t, tt.wantForward, forward)
			assert.Equal(t, tt.wantReverse, reverse)

			_, err = engine.RejectSettlement(ctx, stl.ID, bob)
			assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "decisions are single-use")
		})
	}
}

func TestClearDebt(t *testing.T) {
	engine, store := setup(t)
	ctx := context.Background()
	require.NoError(t, store.ApplyNet(ctx, bob, alice, amt("12.5"), 1))

	_, err := engine.ClearDebt(ctx, alice, bob, amt("13"))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = engine.ClearDebt(ctx, alice, bob, 0)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	remaining, err := engine.ClearDebt(ctx, alice, bob, amt("2.5"))
	require.NoError(t, err)
	assert.Equal(t, amt("10"), remaining)

	remaining, err = engine.ClearDebt(ctx, alice, bob, amt("10"))
	require.NoError(t, err)
	assert.Zero(t, remaining)

	_, err = engine.ClearDebt(ctx, alice, bob, amt("1"))
	assert.Equal(t, apperr.KindExpired, apperr.KindOf(err))
}

func TestConcurrentNetsKeepOneDirection(t *testing.T) {
	engine, store := setup(t)
	ctx := context.Background()
	require.NoError(t, store.UpdateGroupSettings(ctx, chat, models.GroupSettings{
		AutoConfirmExpenseUsers:    []int64{alice, bob},
		AutoConfirmSettlementUsers: []int64{alice, bob},
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := engine.CreateExpense(ctx, ExpenseInput{
				ChatID: chat, PayerID: alice, Amount: amt("2"), Categories: []string{models.CategoryDebt},
				Debtors: []int64{bob},
			})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := engine.CreateSettlement(ctx, SettlementInput{ChatID: chat, FromID: bob, ToID: alice, Amount: amt("1")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	forward, _ := store.GetDebt(ctx, bob, alice)
	reverse, _ := store.GetDebt(ctx, alice, bob)
	assert.Equal(t, amt("20"), forward)
	assert.Zero(t, reverse)
	assert.Zero(t, engine.pairs.size())
}

func TestPairLocksOrdering(t *testing.T) {
	l := newPairLocks()
	unlock := l.lock(newPair(2, 1), newPair(1, 2), newPair(3, 1))
	assert.Equal(t, 2, l.size())
	unlock()
	assert.Zero(t, l.size())
}
