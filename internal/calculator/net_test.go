package calculator

import (
	"math/rand"
	"testing"

	"github.com/mmynk/splitbot/internal/models"
)

func TestNet(t *testing.T) {
	tests := []struct {
		name         string
		forward      models.Amount
		backward     models.Amount
		amount       models.Amount
		wantForward  models.Amount
		wantBackward models.Amount
	}{
		{name: "empty ledger creates edge", amount: 50, wantForward: 50},
		{name: "existing forward grows", forward: 30, amount: 20, wantForward: 50},
		{name: "exact cancel leaves nothing", backward: 50, amount: 50},
		{name: "overpay flips direction", backward: 30, amount: 50, wantForward: 20},
		{name: "partial pay decrements", backward: 80, amount: 50, wantBackward: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotF, gotB := Net(tt.forward, tt.backward, tt.amount)
			if gotF != tt.wantForward || gotB != tt.wantBackward {
				t.Errorf("Net(%d, %d, %d) = (%d, %d), want (%d, %d)",
					tt.forward, tt.backward, tt.amount, gotF, gotB, tt.wantForward, tt.wantBackward)
			}
		})
	}
}

// pairLedger applies Net to a single unordered pair {a, b}.
type pairLedger struct {
	ab, ba models.Amount
}

func (l *pairLedger) net(fromA bool, amount models.Amount) {
	if fromA {
		l.ab, l.ba = Net(l.ab, l.ba, amount)
	} else {
		l.ba, l.ab = Net(l.ba, l.ab, amount)
	}
}

func TestNetCancelsOut(t *testing.T) {
	for _, x := range []models.Amount{1, 100, 333300, 99999999999999} {
		var l pairLedger
		l.net(true, x)
		l.net(false, x)
		if l.ab != 0 || l.ba != 0 {
			t.Errorf("net(A,B,%d) then net(B,A,%d) left (%d, %d)", x, x, l.ab, l.ba)
		}
	}
}

func TestNetNeverHoldsBothDirections(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var l pairLedger
	var signed models.Amount // positive = A owes B

	for i := 0; i < 10000; i++ {
		amount := models.Amount(rng.Int63n(10_000_000) + 1)
		fromA := rng.Intn(2) == 0
		l.net(fromA, amount)
		if fromA {
			signed += amount
		} else {
			signed -= amount
		}

		if l.ab > 0 && l.ba > 0 {
			t.Fatalf("step %d: both directions positive (%d, %d)", i, l.ab, l.ba)
		}
		if l.ab < 0 || l.ba < 0 {
			t.Fatalf("step %d: negative edge (%d, %d)", i, l.ab, l.ba)
		}
		if l.ab-l.ba != signed {
			t.Fatalf("step %d: ledger %d disagrees with running total %d", i, l.ab-l.ba, signed)
		}
	}
}

func TestCalculateGroupBalances(t *testing.T) {
	// A owes B 30, B owes C 30 -> plan collapses to A pays C 30
	edges := []models.DebtEdge{
		{From: 1, To: 2, Amount: 30 * models.Scale},
		{From: 2, To: 3, Amount: 30 * models.Scale},
	}

	balances, plan := CalculateGroupBalances(edges)
	if len(balances) != 3 {
		t.Fatalf("expected 3 balances, got %d", len(balances))
	}

	want := map[int64]models.Amount{1: -30 * models.Scale, 2: 0, 3: 30 * models.Scale}
	for _, b := range balances {
		if b.NetBalance != want[b.UserID] {
			t.Errorf("user %d net = %d, want %d", b.UserID, b.NetBalance, want[b.UserID])
		}
	}

	if len(plan) != 1 {
		t.Fatalf("expected 1 transfer, got %d: %+v", len(plan), plan)
	}
	if plan[0].From != 1 || plan[0].To != 3 || plan[0].Amount != 30*models.Scale {
		t.Errorf("unexpected plan %+v", plan[0])
	}
}

func TestSummarizeUser(t *testing.T) {
	edges := []models.DebtEdge{
		{From: 1, To: 2, Amount: 5 * models.Scale},
		{From: 3, To: 1, Amount: 2 * models.Scale},
		{From: 1, To: 4, Amount: 50}, // below display threshold
		{From: 2, To: 3, Amount: 9 * models.Scale},
	}

	s := SummarizeUser(edges, 1)
	if s.TotalOwed != 5*models.Scale+50 {
		t.Errorf("TotalOwed = %d", s.TotalOwed)
	}
	if s.TotalOwedToMember != 2*models.Scale {
		t.Errorf("TotalOwedToMember = %d", s.TotalOwedToMember)
	}
	if len(s.Debts) != 2 {
		t.Errorf("expected 2 listed debts, got %d", len(s.Debts))
	}
}
