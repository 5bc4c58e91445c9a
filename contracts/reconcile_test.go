package contracts_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/servicedesk/contracts"
	"github.com/warp/servicedesk/core"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal { return core.MustDecimal(s) }

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(core.MoneyPlaces))
}

func order(id string, hours string, tier core.TierRef) core.ServiceOrder {
	return core.ServiceOrder{
		ID:           core.ServiceOrderID(id),
		ClientID:     "client-1",
		Tier:         tier,
		WorkedHours:  dec(hours),
		MaterialCost: decimal.Zero,
		Status:       core.OrderCompleted,
	}
}

func baseContract() core.Contract {
	return core.Contract{
		ID:            "contract-1",
		Number:        "CT-001",
		ClientID:      "client-1",
		MonthlyFee:    dec("1500.00"),
		IncludedHours: dec("10"),
		Status:        core.ContractActive,
	}
}

var (
	remote = core.HourTier{ID: "tier-remote", ContractID: "contract-1", Name: "Remoto", ExcessRate: dec("50")}
	onsite = core.HourTier{ID: "tier-onsite", ContractID: "contract-1", Name: "Presencial", ExcessRate: dec("80")}
)

// =============================================================================
// SCENARIOS
// =============================================================================

func TestReconcile_SingleTierExcess(t *testing.T) {
	// GIVEN 12h of remote work against a 10h pool
	rec := contracts.Reconcile(contracts.ReconcileInput{
		Contract: baseContract(),
		Tiers:    []core.HourTier{remote},
		Orders: []core.ServiceOrder{
			order("o1", "4", core.Tier(remote.ID)),
			order("o2", "5", core.Tier(remote.ID)),
			order("o3", "3", core.Tier(remote.ID)),
		},
	})

	// THEN 2 excess hours are billed at 50/h
	assert.True(t, rec.TotalHours.Equal(dec("12")))
	assert.True(t, rec.ExcessHours.Equal(dec("2")))
	assertMoney(t, "100.00", rec.ExcessAmount)
	assertMoney(t, "1600.00", rec.TotalAmount)
	assert.Equal(t, 3, rec.OrderCount)
}

func TestReconcile_TwoTiersProportionalSplit(t *testing.T) {
	rec := contracts.Reconcile(contracts.ReconcileInput{
		Contract: baseContract(),
		Tiers:    []core.HourTier{remote, onsite},
		Orders: []core.ServiceOrder{
			order("o1", "6", core.Tier(remote.ID)),
			order("o2", "4", core.Tier(remote.ID)),
			order("o3", "5", core.Tier(onsite.ID)),
		},
	})

	require.Len(t, rec.Tiers, 2)
	assertMoney(t, "166.67", rec.Tiers[0].ExcessAmount)
	assertMoney(t, "133.33", rec.Tiers[1].ExcessAmount)
	assertMoney(t, "300.00", rec.ExcessAmount)
	assert.True(t, rec.ExcessHours.Equal(dec("5")))
}

func TestReconcile_NoOrders(t *testing.T) {
	c := baseContract()
	rec := contracts.Reconcile(contracts.ReconcileInput{Contract: c, Tiers: []core.HourTier{remote, onsite}})

	assert.True(t, rec.TotalHours.IsZero())
	assert.True(t, rec.ExcessHours.IsZero())
	assert.True(t, rec.ExcessAmount.IsZero())
	assert.True(t, rec.TotalAmount.Equal(c.MonthlyFee))
	assert.Equal(t, 0, rec.OrderCount)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestReconcile_UnderPoolHasNoExcess(t *testing.T) {
	for _, hours := range []string{"0", "0.5", "9.99", "10"} {
		rec := contracts.Reconcile(contracts.ReconcileInput{
			Contract: baseContract(),
			Tiers:    []core.HourTier{onsite},
			Orders:   []core.ServiceOrder{order("o1", hours, core.Tier(onsite.ID))},
		})
		assert.True(t, rec.ExcessHours.IsZero(), hours)
		assert.True(t, rec.ExcessAmount.IsZero(), hours)
	}
}

func TestReconcile_EveryHourLandsInOneBucket(t *testing.T) {
	rec := contracts.Reconcile(contracts.ReconcileInput{
		Contract: baseContract(),
		Tiers:    []core.HourTier{remote},
		Orders: []core.ServiceOrder{
			order("o1", "2.5", core.Tier(remote.ID)),
			order("o2", "1.25", core.NoTier),
			order("o3", "3", core.Tier("tier-deleted")),
			order("o4", "0.75", core.NoTier),
		},
	})

	sum := decimal.Zero
	for _, h := range rec.HoursByTier {
		sum = sum.Add(h)
	}
	assert.True(t, sum.Equal(rec.TotalHours))
	assert.True(t, rec.HoursByTier[core.NoTier].Equal(dec("2")))
	assert.True(t, rec.HoursByTier[core.Tier("tier-deleted")].Equal(dec("3")))
}

func TestReconcile_UntieredHoursAreNotPriced(t *testing.T) {
	// GIVEN 15h where only 10h carry a tier
	rec := contracts.Reconcile(contracts.ReconcileInput{
		Contract: baseContract(),
		Tiers:    []core.HourTier{remote},
		Orders: []core.ServiceOrder{
			order("o1", "10", core.Tier(remote.ID)),
			order("o2", "5", core.NoTier),
		},
	})

	// THEN only the remote share of the 5 excess hours is billed
	assertMoney(t, "166.67", rec.ExcessAmount)
}

func TestReconcile_TierOrderDoesNotMatter(t *testing.T) {
	third := core.HourTier{ID: "tier-night", ContractID: "contract-1", Name: "Noturno", ExcessRate: dec("97.30")}
	orders := []core.ServiceOrder{
		order("o1", "7.3", core.Tier(remote.ID)),
		order("o2", "4.1", core.Tier(onsite.ID)),
		order("o3", "2.9", core.Tier(third.ID)),
	}

	a := contracts.Reconcile(contracts.ReconcileInput{Contract: baseContract(), Tiers: []core.HourTier{remote, onsite, third}, Orders: orders})
	b := contracts.Reconcile(contracts.ReconcileInput{Contract: baseContract(), Tiers: []core.HourTier{third, remote, onsite}, Orders: orders})

	assert.True(t, a.ExcessAmount.Equal(b.ExcessAmount))
}

func TestReconcile_TotalIsFeePlusExcessPlusMaterials(t *testing.T) {
	orders := []core.ServiceOrder{
		order("o1", "8", core.Tier(remote.ID)),
		order("o2", "6.5", core.Tier(onsite.ID)),
	}
	orders[0].MaterialCost = dec("129.90")
	orders[1].MaterialCost = dec("45.35")

	c := baseContract()
	rec := contracts.Reconcile(contracts.ReconcileInput{Contract: c, Tiers: []core.HourTier{remote, onsite}, Orders: orders})

	assertMoney(t, "175.25", rec.MaterialsAmount)
	assert.True(t, rec.TotalAmount.Equal(c.MonthlyFee.Add(rec.ExcessAmount).Add(rec.MaterialsAmount)))
}
