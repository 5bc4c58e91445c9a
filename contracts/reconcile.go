/*
Package contracts closes monthly contract periods and turns them into invoices.

PURPOSE:
  A contract gives a client a pool of included hours per month for a fixed
  fee. At the end of the month every service order the client had is summed,
  hours beyond the pool are billed at the excess rate of the hour tier the
  work was done under, and the period is frozen with its final numbers.
  Approval then turns the frozen period into an invoice.

KEY CONCEPTS:
  - Reconcile: pure computation over loaded rows, no I/O
  - Engine: ClosePeriod / ApprovePeriod against a core.TxStore
  - Roller: the scheduled ensure-and-close sweep over all active contracts

APPORTIONMENT:
  Excess hours are split across tiers in the same ratio as total hours:

    contribution(tier) = round2(excess × tierHours × rate ÷ totalHours)

  Cheaper or costlier tiers are not prioritized. Hours on orders without a
  tier (or with a tier the contract doesn't define) land in their own bucket
  of the hours map but are not priced.

SEE ALSO:
  - engine.go: Period lifecycle (active → closed → invoiced)
  - rollover.go: Monthly sweep
*/
package contracts

import (
	"github.com/shopspring/decimal"
	"github.com/warp/servicedesk/core"
)

// ReconcileInput is everything Reconcile needs, already loaded.
type ReconcileInput struct {
	Contract core.Contract
	Tiers    []core.HourTier
	Orders   []core.ServiceOrder
}

// TierBreakdown is the share of a defined tier in a reconciliation.
type TierBreakdown struct {
	Tier         core.HourTier
	Hours        decimal.Decimal
	ExcessAmount decimal.Decimal
}

// Reconciliation is the result of closing a month.
type Reconciliation struct {
	TotalHours      decimal.Decimal
	ExcessHours     decimal.Decimal
	ExcessAmount    decimal.Decimal
	MaterialsAmount decimal.Decimal
	TotalAmount     decimal.Decimal
	OrderCount      int

	// HoursByTier holds every order's hours under exactly one key.
	// core.NoTier collects orders without a tier.
	HoursByTier map[core.TierRef]decimal.Decimal

	// Tiers lists the contract's tiers in input order.
	Tiers []TierBreakdown
}

// Reconcile computes the period totals for a contract's month of orders.
func Reconcile(in ReconcileInput) Reconciliation {
	r := Reconciliation{
		TotalHours:      decimal.Zero,
		MaterialsAmount: decimal.Zero,
		ExcessAmount:    decimal.Zero,
		OrderCount:      len(in.Orders),
		HoursByTier:     make(map[core.TierRef]decimal.Decimal),
	}

	for _, o := range in.Orders {
		r.TotalHours = r.TotalHours.Add(o.WorkedHours)
		r.MaterialsAmount = r.MaterialsAmount.Add(o.MaterialCost)
		r.HoursByTier[o.Tier] = r.HoursByTier[o.Tier].Add(o.WorkedHours)
	}

	r.ExcessHours = core.FloorZero(r.TotalHours.Sub(in.Contract.IncludedHours))

	for _, tier := range in.Tiers {
		hours := r.HoursByTier[core.Tier(tier.ID)]
		share := apportion(r.ExcessHours, hours, r.TotalHours, tier.ExcessRate)
		r.ExcessAmount = r.ExcessAmount.Add(share)
		r.Tiers = append(r.Tiers, TierBreakdown{Tier: tier, Hours: hours, ExcessAmount: share})
	}

	r.TotalAmount = core.Sum(in.Contract.MonthlyFee, r.ExcessAmount, r.MaterialsAmount)
	return r
}

// apportion returns round2(excess × hours × rate ÷ total), or zero when
// there is nothing to apportion.
func apportion(excess, hours, total, rate decimal.Decimal) decimal.Decimal {
	if !excess.IsPositive() || !total.IsPositive() || hours.IsZero() {
		return decimal.Zero
	}
	return core.RoundMoney(excess.Mul(hours).Mul(rate).Div(total))
}
