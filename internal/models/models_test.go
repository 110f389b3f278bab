package models

import (
	"errors"
	"slices"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Amount
		wantErr error
	}{
		{name: "integer", input: "250", want: 250 * Scale},
		{name: "dot decimal", input: "10.5", want: 1050000},
		{name: "comma decimal", input: "10,5", want: 1050000},
		{name: "spaces as thousands", input: "1 200", want: 1200 * Scale},
		{name: "truncates past five decimals", input: "0.123456789", want: 12345},
		{name: "smallest unit", input: "0.00001", want: 1},
		{name: "zero", input: "0", wantErr: ErrAmountOutOfRange},
		{name: "negative", input: "-5", wantErr: ErrAmountOutOfRange},
		{name: "below one unit", input: "0.000001", wantErr: ErrAmountOutOfRange},
		{name: "upper bound exclusive", input: "1000000000", wantErr: ErrAmountOutOfRange},
		{name: "just under bound", input: "999999999.99999", want: MaxAmount - 1},
		{name: "garbage", input: "ten", wantErr: ErrInvalidAmount},
		{name: "empty", input: "  ", wantErr: ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseAmount(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseAmount(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestAmountString(t *testing.T) {
	tests := []struct {
		amount Amount
		want   string
	}{
		{amount: 333300, want: "3.333"},
		{amount: 1000000, want: "10"},
		{amount: 123456789 * Scale, want: "123,456,789"},
		{amount: 1234500000, want: "12,345"},
		{amount: 150, want: "0.002"},
		{amount: -2000000, want: "-20"},
	}

	for _, tt := range tests {
		if got := tt.amount.String(); got != tt.want {
			t.Errorf("Amount(%d).String() = %q, want %q", int64(tt.amount), got, tt.want)
		}
	}
}

func TestToggleCategory(t *testing.T) {
	tests := []struct {
		name   string
		start  []string
		toggle string
		want   []string
	}{
		{name: "add first", start: nil, toggle: "Food", want: []string{"Food"}},
		{name: "add second", start: []string{"Food"}, toggle: "Water", want: []string{"Food", "Water"}},
		{name: "remove", start: []string{"Food", "Water"}, toggle: "Food", want: []string{"Water"}},
		{name: "debt clears others", start: []string{"Food", "Water"}, toggle: CategoryDebt, want: []string{CategoryDebt}},
		{name: "other clears debt", start: []string{CategoryDebt}, toggle: "Food", want: []string{"Food"}},
		{name: "debt off", start: []string{CategoryDebt}, toggle: CategoryDebt, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToggleCategory(tt.start, tt.toggle)
			if !slices.Equal(got, tt.want) {
				t.Errorf("ToggleCategory(%v, %q) = %v, want %v", tt.start, tt.toggle, got, tt.want)
			}
		})
	}
}

func TestRelation(t *testing.T) {
	r, err := ParseRelation("draft:abc-123")
	if err != nil {
		t.Fatalf("ParseRelation failed: %v", err)
	}
	if r != DraftRelation("abc-123") {
		t.Errorf("ParseRelation = %+v, want draft relation", r)
	}

	for _, bad := range []string{"draft", "draft:", "bill:1"} {
		if _, err := ParseRelation(bad); err == nil {
			t.Errorf("ParseRelation(%q) expected error", bad)
		}
	}
}

func TestDecodePayloadRejectsMismatchedKind(t *testing.T) {
	raw, err := EncodePayload(&ExpensePayload{Amount: 5 * Scale, Debtors: []int64{2, 3}})
	if err != nil {
		t.Fatalf("EncodePayload failed: %v", err)
	}

	if _, err := DecodePayload(KindSettlement, raw); err == nil {
		t.Error("expected kind mismatch error")
	}

	p, err := DecodePayload(KindExpense, raw)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	exp := p.(*ExpensePayload)
	if exp.Amount != 5*Scale || !slices.Equal(exp.Debtors, []int64{2, 3}) {
		t.Errorf("decoded payload = %+v", exp)
	}
}

func TestGroupSettingsToggle(t *testing.T) {
	var s GroupSettings

	on, ok := s.Toggle(ToggleAutoConfirmExpense, 7)
	if !ok || !on || !s.AutoConfirmsExpenses(7) {
		t.Fatalf("expected user 7 to auto-confirm expenses, got %+v", s)
	}

	on, _ = s.Toggle(ToggleAutoConfirmExpense, 7)
	if on || s.AutoConfirmsExpenses(7) {
		t.Fatalf("expected toggle off, got %+v", s)
	}

	if _, ok := s.Toggle("bogus", 7); ok {
		t.Error("expected unknown toggle to be refused")
	}
}
