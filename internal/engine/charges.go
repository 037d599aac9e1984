package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"pledgeline/internal/config"
	"pledgeline/internal/money"
)

// ChargeItem is one recipient's share of a pledge.
type ChargeItem struct {
	Recipient ResolvedRecipient
	Amount    money.Amount
}

// ChargePlan is the exact split of a pledge amount into per-recipient
// contributions, fees and the total charge submitted to the gateway.
type ChargePlan struct {
	Items        []ChargeItem
	PerRecipient money.Amount
	Subtotal     money.Amount
	Fees         money.Amount
	Total        money.Amount
}

// computeCharges splits a gross pledge amount across the resolved
// recipients under a fee schedule. All arithmetic is exact decimal; the
// per-recipient share floors to the cent and the total rounds half-even,
// clipped so it never exceeds the pledged amount.
func computeCharges(amountCents int64, resolved []ResolvedRecipient, fees config.FeeSchedule) (ChargePlan, error) {
	if len(resolved) == 0 {
		return ChargePlan{}, fmt.Errorf("no recipients to divide among")
	}
	amount := money.FromCents(amountCents)
	fixed := money.FromCents(fees.FixedFeeCents)
	onePlusPct := money.FromDecimal(decimal.New(10000+fees.PercentFeeBps, -4))
	minContribution := money.FromCents(fees.MinContributionCents)
	if minContribution.LessThan(money.OneCent) {
		minContribution = money.OneCent
	}

	maxContributable := amount.Sub(fixed).Div(onePlusPct)
	if maxContributable.LessThan(minContribution) {
		return ChargePlan{}, ErrAmountTooSmall
	}
	n := int64(len(resolved))
	perRecipient := maxContributable.DivInt(n).FloorCents()
	if perRecipient.LessThan(minContribution) {
		return ChargePlan{}, ErrAmountTooSmallToDivide
	}
	subtotal := perRecipient.MulInt(n)
	total := subtotal.Mul(onePlusPct).Add(fixed).RoundHalfEvenCents()
	if total.GreaterThan(amount) {
		total = amount
	}
	feesCharged := total.Sub(subtotal)

	plan := ChargePlan{
		PerRecipient: perRecipient,
		Subtotal:     subtotal,
		Fees:         feesCharged,
		Total:        total,
	}
	for _, r := range resolved {
		plan.Items = append(plan.Items, ChargeItem{Recipient: r, Amount: perRecipient})
	}
	if err := plan.check(amount); err != nil {
		return ChargePlan{}, err
	}
	return plan, nil
}

// check enforces the conservation invariant before anything reaches the
// gateway: contributions plus fees equal the total exactly, everything is
// cent-quantized and the total never exceeds the pledged amount.
func (p ChargePlan) check(pledged money.Amount) error {
	sum := money.Zero
	for _, item := range p.Items {
		if !item.Amount.IsQuantized() {
			return fmt.Errorf("internal: contribution %s is not cent-quantized", item.Amount)
		}
		sum = sum.Add(item.Amount)
	}
	if !sum.Add(p.Fees).Equal(p.Total) {
		return fmt.Errorf("internal: contributions %s + fees %s != total %s", sum, p.Fees, p.Total)
	}
	if !p.Total.IsQuantized() || !p.Fees.IsQuantized() {
		return fmt.Errorf("internal: total %s / fees %s not cent-quantized", p.Total, p.Fees)
	}
	if p.Total.GreaterThan(pledged) {
		return fmt.Errorf("internal: total %s exceeds pledged %s", p.Total, pledged)
	}
	return nil
}
