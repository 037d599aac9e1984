package engine

import (
	"errors"
	"testing"

	"pledgeline/internal/config"
)

func testFees() config.FeeSchedule {
	return config.FeeSchedule{Version: 1, FixedFeeCents: 20, PercentFeeBps: 900, MinContributionCents: 1}
}

func nRecipients(n int) []ResolvedRecipient {
	return make([]ResolvedRecipient, n)
}

func TestComputeChargesSplitsExactly(t *testing.T) {
	// $10.00 across 27 recipients at $0.20 + 9%:
	// max contributable = 9.80/1.09 = 8.9908..., per recipient floors to $0.33,
	// subtotal $8.91, total rounds half-even from 9.9119 to $9.91.
	plan, err := computeCharges(1000, nRecipients(27), testFees())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got := plan.PerRecipient.Cents(); got != 33 {
		t.Fatalf("per recipient: got %d, want 33", got)
	}
	if got := plan.Subtotal.Cents(); got != 891 {
		t.Fatalf("subtotal: got %d, want 891", got)
	}
	if got := plan.Total.Cents(); got != 991 {
		t.Fatalf("total: got %d, want 991", got)
	}
	if got := plan.Fees.Cents(); got != 100 {
		t.Fatalf("fees: got %d, want 100", got)
	}
	if len(plan.Items) != 27 {
		t.Fatalf("items: got %d, want 27", len(plan.Items))
	}
	for _, item := range plan.Items {
		if item.Amount.Cents() != 33 {
			t.Fatalf("item amount: got %d, want 33", item.Amount.Cents())
		}
	}
}

func TestComputeChargesSingleRecipient(t *testing.T) {
	plan, err := computeCharges(1000, nRecipients(1), testFees())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got := plan.PerRecipient.Cents(); got != 899 {
		t.Fatalf("per recipient: got %d, want 899", got)
	}
	if got := plan.Total.Cents(); got != 1000 {
		t.Fatalf("total: got %d, want 1000", got)
	}
	if got := plan.Fees.Cents(); got != 101 {
		t.Fatalf("fees: got %d, want 101", got)
	}
}

func TestComputeChargesAmountTooSmall(t *testing.T) {
	_, err := computeCharges(10, nRecipients(1), testFees())
	if !errors.Is(err, ErrAmountTooSmall) {
		t.Fatalf("expected ErrAmountTooSmall, got %v", err)
	}
	if err.Error() != "The amount is less than the minimum fees." {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestComputeChargesTooSmallToDivide(t *testing.T) {
	// $0.25 leaves about 4.6 cents to contribute, which floors to zero per
	// recipient once split 27 ways.
	_, err := computeCharges(25, nRecipients(27), testFees())
	if !errors.Is(err, ErrAmountTooSmallToDivide) {
		t.Fatalf("expected ErrAmountTooSmallToDivide, got %v", err)
	}
}

func TestComputeChargesNoRecipients(t *testing.T) {
	if _, err := computeCharges(1000, nil, testFees()); err == nil {
		t.Fatalf("expected error for empty recipient list")
	}
}

func TestComputeChargesConservation(t *testing.T) {
	amounts := []int64{100, 500, 991, 1000, 2500, 99999}
	counts := []int{1, 2, 3, 7, 27}
	for _, amount := range amounts {
		for _, n := range counts {
			plan, err := computeCharges(amount, nRecipients(n), testFees())
			if err != nil {
				continue
			}
			var sum int64
			for _, item := range plan.Items {
				sum += item.Amount.Cents()
			}
			if sum+plan.Fees.Cents() != plan.Total.Cents() {
				t.Fatalf("amount=%d n=%d: %d + %d != %d", amount, n, sum, plan.Fees.Cents(), plan.Total.Cents())
			}
			if plan.Total.Cents() > amount {
				t.Fatalf("amount=%d n=%d: total %d exceeds pledged amount", amount, n, plan.Total.Cents())
			}
		}
	}
}
