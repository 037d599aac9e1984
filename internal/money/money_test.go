package money_test

import (
	"strings"
	"testing"

	"pledgeline/internal/money"
)

func TestParseAndCents(t *testing.T) {
	cases := []struct {
		in    string
		cents int64
	}{
		{"9.91", 991},
		{"$9.91", 991},
		{"-$1.00", -100},
		{"0.01", 1},
		{"10", 1000},
	}
	for _, c := range cases {
		a, err := money.Parse(c.in)
		if err != nil {
			t.Fatalf("parse %q: %v", c.in, err)
		}
		if got := a.Cents(); got != c.cents {
			t.Fatalf("parse %q: got %d cents, want %d", c.in, got, c.cents)
		}
	}
	if _, err := money.Parse("not-money"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCentsPanicsOnSubCent(t *testing.T) {
	a := money.FromCents(1000).DivInt(3)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for sub-cent value")
		}
	}()
	_ = a.Cents()
}

func TestFloorAndHalfEvenRounding(t *testing.T) {
	third := money.FromCents(1000).DivInt(3)
	if got := third.FloorCents().Cents(); got != 333 {
		t.Fatalf("floor: got %d, want 333", got)
	}

	// banker's rounding: ties go to the even cent
	eighth, err := money.Parse("0.125")
	if err != nil {
		t.Fatal(err)
	}
	if got := eighth.RoundHalfEvenCents().Cents(); got != 12 {
		t.Fatalf("0.125 half-even: got %d, want 12", got)
	}
	odd, err := money.Parse("0.135")
	if err != nil {
		t.Fatal(err)
	}
	if got := odd.RoundHalfEvenCents().Cents(); got != 14 {
		t.Fatalf("0.135 half-even: got %d, want 14", got)
	}
}

func TestGatewayAmountRefusesSubCent(t *testing.T) {
	ok, err := money.FromCents(991).GatewayAmount()
	if err != nil || ok != "$9.91" {
		t.Fatalf("gateway amount: got %q, %v", ok, err)
	}
	sub, err := money.Parse("0.006")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sub.GatewayAmount(); err == nil {
		t.Fatalf("expected error for sub-cent gateway amount")
	} else if !strings.Contains(err.Error(), "sub-cent") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDisplayAmountRoundsHalfUp(t *testing.T) {
	sub, err := money.Parse("0.006")
	if err != nil {
		t.Fatal(err)
	}
	if got := sub.DisplayAmount(); got != "$0.01" {
		t.Fatalf("display: got %q, want $0.01", got)
	}
	if got := money.FromCents(991).DisplayAmount(); got != "$9.91" {
		t.Fatalf("display: got %q, want $9.91", got)
	}
}

func TestArithmeticIsExact(t *testing.T) {
	a := money.FromCents(10)
	sum := money.Zero
	for i := 0; i < 100; i++ {
		sum = sum.Add(a)
	}
	if got := sum.Cents(); got != 1000 {
		t.Fatalf("sum: got %d, want 1000", got)
	}
	if !money.FromCents(100).DivInt(4).Equal(money.FromCents(25)) {
		t.Fatalf("expected exact division")
	}
}
