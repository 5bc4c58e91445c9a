package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/servicedesk/core"
	"github.com/warp/servicedesk/store/postgres"
)

var march = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

// newStore connects to TEST_DATABASE_URL and starts from empty tables.
func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := postgres.New(ctx, url)
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx))
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *postgres.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveClient(ctx, core.Client{ID: "cl-1", Name: "Padaria Central"}))
	require.NoError(t, s.SaveContract(ctx, core.Contract{
		ID:            "c-1",
		Number:        "CT-001",
		ClientID:      "cl-1",
		MonthlyFee:    core.MustDecimal("1500.00"),
		IncludedHours: core.MustDecimal("10"),
		ValidFrom:     time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Status:        core.ContractActive,
	}))
	require.NoError(t, s.SaveHourTier(ctx, core.HourTier{ID: "tier-r", ContractID: "c-1", Name: "Remoto", ExcessRate: core.MustDecimal("50")}))
	require.NoError(t, s.CreatePeriod(ctx, core.ContractPeriod{
		ID:            "p-1",
		ContractID:    "c-1",
		Month:         march,
		IncludedHours: core.MustDecimal("10"),
		Status:        core.PeriodActive,
		CreatedAt:     march,
	}))
}

func TestPostgres_ContractAndPeriods(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s)

	c, err := s.GetContract(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "1500.00", c.MonthlyFee.StringFixed(2))
	assert.Nil(t, c.ValidTo)

	// GIVEN a period for March already exists
	// WHEN another is created for a day inside March
	err = s.CreatePeriod(ctx, core.ContractPeriod{ID: "p-2", ContractID: "c-1", Month: march.AddDate(0, 0, 9), Status: core.PeriodActive, CreatedAt: march})

	// THEN the store reports a duplicate
	assert.ErrorIs(t, err, core.ErrDuplicate)

	p, err := s.FindPeriod(ctx, "c-1", march.Add(36*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, march, p.Month)

	_, err = s.GetPeriod(ctx, "missing")
	assert.True(t, core.IsNotFound(err))
}

func TestPostgres_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx core.Store) error {
		p, err := tx.GetPeriod(ctx, "p-1")
		require.NoError(t, err)
		p.Status = core.PeriodClosed
		p.TotalAmount = core.MustDecimal("1880.10")
		require.NoError(t, tx.UpdatePeriod(ctx, *p))
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := s.GetPeriod(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, core.PeriodActive, p.Status)
	assert.True(t, p.TotalAmount.IsZero())
}

func TestPostgres_OrdersAndTierHours(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s)

	window := core.MonthPeriod(march)
	require.NoError(t, s.SaveServiceOrder(ctx, core.ServiceOrder{
		ID: "os-1", Number: 1, ClientID: "cl-1", Tier: core.Tier("tier-r"),
		WorkedHours: core.MustDecimal("12.25"), StartedAt: window.Start, CreatedAt: window.Start, Status: core.OrderCompleted,
	}))
	require.NoError(t, s.SaveServiceOrder(ctx, core.ServiceOrder{
		ID: "os-2", Number: 2, ClientID: "cl-1",
		WorkedHours: core.MustDecimal("1"), StartedAt: window.End.Add(time.Second), CreatedAt: window.Start, Status: core.OrderCompleted,
	}))

	got, err := s.ListServiceOrders(ctx, core.OrderFilter{
		ClientID:    "cl-1",
		Statuses:    []core.ServiceOrderStatus{core.OrderCompleted},
		StartedFrom: &window.Start,
		StartedTo:   &window.End,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Padaria Central", got[0].ClientName)
	assert.True(t, got[0].WorkedHours.Equal(core.MustDecimal("12.25")))
	assert.Equal(t, core.Tier("tier-r"), got[0].Tier)

	require.NoError(t, s.InsertPeriodTierHours(ctx, []core.PeriodTierHours{
		{ID: "h-1", PeriodID: "p-1", TierID: "tier-r", TierName: "Remoto", Hours: core.MustDecimal("12.25"), Rate: core.MustDecimal("50"), ExcessAmount: core.MustDecimal("112.50")},
	}))
	rows, err := s.ListPeriodTierHours(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "112.50", rows[0].ExcessAmount.StringFixed(2))

	require.NoError(t, s.SetServiceOrderStatus(ctx, []core.ServiceOrderID{"os-1"}, core.OrderInvoiced))
	err = s.SetServiceOrderStatus(ctx, []core.ServiceOrderID{"os-1", "nope"}, core.OrderInvoiced)
	assert.True(t, core.IsNotFound(err))
}

func TestPostgres_TicketsAndInteractions(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	tech := core.UserID("tech-1")

	require.NoError(t, s.SaveTicket(ctx, core.Ticket{ID: "t-1", Number: 1, ClientID: "cl-1", Priority: core.PriorityHigh, Status: core.TicketOpen, TechnicianID: &tech, OpenedAt: march}))
	require.NoError(t, s.SaveTicket(ctx, core.Ticket{ID: "t-2", Number: 2, ClientID: "cl-1", Priority: core.PriorityLow, Status: core.TicketClosed, OpenedAt: march}))

	open, err := s.ListTickets(ctx, core.TicketFilter{
		AssignedTo:        tech,
		IncludeUnassigned: true,
		ExcludeStatuses:   []core.TicketStatus{core.TicketClosed, core.TicketCancelled},
	})
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.NotNil(t, open[0].TechnicianID)
	assert.Equal(t, tech, *open[0].TechnicianID)
	assert.Nil(t, open[0].SLAHours)

	require.NoError(t, s.AppendInteraction(ctx, core.Interaction{ID: "i-1", TicketID: "t-1", AuthorID: tech, Kind: core.InteractionComment, Message: "a", CreatedAt: march.Add(time.Hour)}))
	require.NoError(t, s.AppendInteraction(ctx, core.Interaction{ID: "i-2", TicketID: "t-1", AuthorID: tech, Kind: core.InteractionComment, Message: "b", CreatedAt: march.Add(2 * time.Hour)}))

	rows, err := s.ListInteractions(ctx, core.InteractionFilter{TicketIDs: []core.TicketID{"t-1"}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "i-2", rows[0].ID)

	require.NoError(t, s.AppendInteraction(ctx, core.Interaction{ID: "i-q", TicketID: "t-2", AuthorID: tech, Kind: core.InteractionComment, Message: "c", CreatedAt: march.Add(30 * time.Minute)}))
	rows, err = s.ListInteractions(ctx, core.InteractionFilter{TicketIDs: []core.TicketID{"t-1", "t-2"}, PerTicket: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "i-2", rows[0].ID)
	assert.Equal(t, "i-q", rows[1].ID)

	err = s.AppendInteraction(ctx, core.Interaction{ID: "i-3", TicketID: "t-404", AuthorID: tech, Kind: core.InteractionComment, Message: "x", CreatedAt: march})
	assert.True(t, core.IsNotFound(err))
}
