package sla_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/servicedesk/core"
	"github.com/warp/servicedesk/core/store"
	"github.com/warp/servicedesk/sla"
)

const tech = core.UserID("tech-1")

func ptr[T any](v T) *T { return &v }

// seedDesk creates a small desk:
//
//	T-101 assigned, opened 30h ago              → critical
//	T-102 unassigned, opened 20h ago, waiting   → warning
//	T-103 assigned elsewhere                    → not listed
//	T-104 assigned, closed                      → not listed
//	T-105 assigned, 2h ago, 48h SLA             → normal
//	OS-7  assigned, linked to T-103 (40h ago)   → critical
//	OS-8  assigned, no ticket, started 5h ago   → normal
//	OS-9  assigned, completed                   → not listed
func seedDesk(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()

	require.NoError(t, s.SaveClient(ctx, core.Client{ID: "cl-a", Name: "Padaria Central"}))
	require.NoError(t, s.SaveClient(ctx, core.Client{ID: "cl-b", Name: "Oficina Boa Vista"}))

	tickets := []core.Ticket{
		{ID: "t101", Number: 101, ClientID: "cl-a", Title: "Impressora fiscal travando", Status: core.TicketOpen, Priority: core.PriorityHigh, TechnicianID: ptr(tech), OpenedAt: hoursAgo(30)},
		{ID: "t102", Number: 102, ClientID: "cl-b", Title: "Sem acesso ao e-mail", Status: core.TicketAwaitingClient, Priority: core.PriorityMedium, OpenedAt: hoursAgo(20)},
		{ID: "t103", Number: 103, ClientID: "cl-b", Title: "Troca de roteador", Status: core.TicketInProgress, TechnicianID: ptr(core.UserID("tech-2")), OpenedAt: hoursAgo(40)},
		{ID: "t104", Number: 104, ClientID: "cl-a", Title: "Backup", Status: core.TicketClosed, TechnicianID: ptr(tech), OpenedAt: hoursAgo(200)},
		{ID: "t105", Number: 105, ClientID: "cl-a", Title: "Instalar antivirus", Status: core.TicketInProgress, TechnicianID: ptr(tech), OpenedAt: hoursAgo(2), SLAHours: ptr(48)},
	}
	for _, tk := range tickets {
		require.NoError(t, s.SaveTicket(ctx, tk))
	}

	orders := []core.ServiceOrder{
		{ID: "os7", Number: 7, ClientID: "cl-b", Title: "Visita técnica roteador", TicketID: ptr(core.TicketID("t103")), TechnicianID: ptr(tech), Status: core.OrderInProgress, StartedAt: hoursAgo(1)},
		{ID: "os8", Number: 8, ClientID: "cl-a", Title: "Manutenção preventiva", TechnicianID: ptr(tech), Status: core.OrderOpen, StartedAt: hoursAgo(5)},
		{ID: "os9", Number: 9, ClientID: "cl-a", Title: "Cabeamento", TechnicianID: ptr(tech), Status: core.OrderCompleted, StartedAt: hoursAgo(50)},
	}
	for _, o := range orders {
		require.NoError(t, s.SaveServiceOrder(ctx, o))
	}

	interactions := []core.Interaction{
		{ID: "i1", TicketID: "t101", CreatedAt: hoursAgo(29)},
		{ID: "i2", TicketID: "t101", CreatedAt: hoursAgo(3)},
		{ID: "i3", TicketID: "t102", CreatedAt: hoursAgo(26)},
	}
	for _, i := range interactions {
		require.NoError(t, s.AppendInteraction(ctx, i))
	}
	return s
}

func build(t *testing.T, s *store.Memory) *sla.Worklist {
	t.Helper()
	w, err := sla.NewBuilder(s, core.FixedClock{At: now}).Build(context.Background(), tech)
	require.NoError(t, err)
	return w
}

func byID(items []sla.Item) map[string]sla.Item {
	out := make(map[string]sla.Item, len(items))
	for _, it := range items {
		out[it.ID] = it
	}
	return out
}

func ids(items []sla.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

// =============================================================================
// BUILD
// =============================================================================

func TestBuild_SelectsOpenWork(t *testing.T) {
	w := build(t, seedDesk(t))

	assert.ElementsMatch(t, []string{"t101", "t102", "t105", "os7", "os8"}, ids(w.Items))
}

func TestBuild_ClassifiesItems(t *testing.T) {
	items := byID(build(t, seedDesk(t)).Items)

	assert.Equal(t, sla.LevelCritical, items["t101"].Level)
	assert.Equal(t, sla.LevelWarning, items["t102"].Level)
	assert.Equal(t, sla.LevelNormal, items["t105"].Level)
	assert.Equal(t, sla.KindTicket, items["t101"].Kind)
	assert.Equal(t, "Padaria Central", items["t101"].ClientName)

	// the newest interaction wins
	require.NotNil(t, items["t101"].LastInteractionAt)
	assert.Equal(t, hoursAgo(3), *items["t101"].LastInteractionAt)
	assert.Equal(t, 0, items["t101"].DaysSinceInteraction)
	assert.Equal(t, 1, items["t101"].DaysOpen)

	// no interaction: staleness equals age
	assert.Nil(t, items["t105"].LastInteractionAt)
	assert.Equal(t, items["t105"].DaysOpen, items["t105"].DaysSinceInteraction)
}

func TestBuild_ServiceOrderUsesLinkedTicket(t *testing.T) {
	items := byID(build(t, seedDesk(t)).Items)

	os7 := items["os7"]
	assert.Equal(t, sla.KindServiceOrder, os7.Kind)
	assert.Equal(t, hoursAgo(40), os7.OpenedAt)
	assert.Equal(t, sla.LevelCritical, os7.Level)

	os8 := items["os8"]
	assert.Equal(t, hoursAgo(5), os8.OpenedAt)
	assert.Equal(t, sla.LevelNormal, os8.Level)
}

func TestBuild_RequiresTechnician(t *testing.T) {
	_, err := sla.NewBuilder(store.NewMemory(), core.FixedClock{At: now}).Build(context.Background(), "")
	assert.True(t, core.IsClientError(err))
}

func TestBuild_BusyTicketDoesNotHideOtherHistory(t *testing.T) {
	// GIVEN: t101 has far more recent interactions than any fetch bound
	s := seedDesk(t)
	ctx := context.Background()
	for i := 0; i < 2*core.DefaultListLimit; i++ {
		require.NoError(t, s.AppendInteraction(ctx, core.Interaction{
			ID:        fmt.Sprintf("busy-%d", i),
			TicketID:  "t101",
			CreatedAt: hoursAgo(1),
		}))
	}

	// WHEN
	items := byID(build(t, s).Items)

	// THEN: t102 still sees its own interaction from 26h ago
	require.NotNil(t, items["t102"].LastInteractionAt)
	assert.Equal(t, hoursAgo(26), *items["t102"].LastInteractionAt)
	assert.Equal(t, 1, items["t102"].DaysSinceInteraction)
	require.NotNil(t, items["t101"].LastInteractionAt)
	assert.Equal(t, hoursAgo(1), *items["t101"].LastInteractionAt)
}

func TestBuild_FailsPastItemLimit(t *testing.T) {
	// GIVEN: three open tickets for tech-1, plus two more unassigned
	s := seedDesk(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.NoError(t, s.SaveTicket(ctx, core.Ticket{
			ID: core.TicketID(fmt.Sprintf("free-%d", i)), Number: 900 + i, ClientID: "cl-a",
			Title: "Sem técnico", Status: core.TicketOpen, OpenedAt: hoursAgo(1),
		}))
	}
	b := sla.NewBuilder(s, core.FixedClock{At: now})

	// WHEN: the bound is below the workload
	b.ItemLimit = 4
	_, err := b.Build(ctx, tech)

	// THEN: the build fails instead of returning a cut list
	assert.ErrorIs(t, err, core.ErrRowLimitExceeded)

	// AND: at the exact size every item is listed and counted
	b.ItemLimit = 5
	w, err := b.Build(ctx, tech)
	require.NoError(t, err)
	assert.Equal(t, 7, w.Stats.Total)
}

func TestBuild_FailsPastOrderLimit(t *testing.T) {
	// GIVEN: no tickets, two open orders for tech-1
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.SaveClient(ctx, core.Client{ID: "cl-a", Name: "Padaria Central"}))
	for i := 0; i < 2; i++ {
		require.NoError(t, s.SaveServiceOrder(ctx, core.ServiceOrder{
			ID: core.ServiceOrderID(fmt.Sprintf("os-%d", i)), Number: i + 1, ClientID: "cl-a",
			TechnicianID: ptr(tech), Status: core.OrderOpen, StartedAt: hoursAgo(2),
		}))
	}
	b := sla.NewBuilder(s, core.FixedClock{At: now})

	b.ItemLimit = 1
	_, err := b.Build(ctx, tech)
	assert.ErrorIs(t, err, core.ErrRowLimitExceeded)

	b.ItemLimit = 2
	w, err := b.Build(ctx, tech)
	require.NoError(t, err)
	assert.Equal(t, 2, w.Stats.Total)
}

// =============================================================================
// VIEW
// =============================================================================

func TestView_Filters(t *testing.T) {
	w := build(t, seedDesk(t))

	assert.ElementsMatch(t, []string{"os7", "os8"}, ids(w.View(sla.Query{Kind: sla.KindServiceOrder})))
	assert.ElementsMatch(t, []string{"t101", "os7"}, ids(w.View(sla.Query{Level: sla.LevelCritical})))
	assert.ElementsMatch(t, []string{"t102", "os7"}, ids(w.View(sla.Query{ClientID: "cl-b"})))
	assert.ElementsMatch(t, []string{"t105", "os7"}, ids(w.View(sla.Query{Status: "em_andamento"})))
}

func TestView_SearchIsCaseInsensitive(t *testing.T) {
	w := build(t, seedDesk(t))

	assert.Equal(t, []string{"t101"}, ids(w.View(sla.Query{Search: "IMPRESSORA"})))
	assert.ElementsMatch(t, []string{"t102", "os7"}, ids(w.View(sla.Query{Search: "boa vista"})))
	assert.Equal(t, []string{"t105"}, ids(w.View(sla.Query{Search: "105"})))
	assert.Empty(t, w.View(sla.Query{Search: "nothing like this"}))
}

func TestView_SortOldest(t *testing.T) {
	w := build(t, seedDesk(t))
	assert.Equal(t, []string{"os7", "t101", "t102", "os8", "t105"}, ids(w.View(sla.Query{Sort: sla.SortOldest})))
}

func TestView_SortCritical(t *testing.T) {
	w := build(t, seedDesk(t))
	assert.Equal(t, []string{"os7", "t101", "t102", "os8", "t105"}, ids(w.View(sla.Query{Sort: sla.SortCritical})))
}

func TestView_SortLastInteraction(t *testing.T) {
	w := build(t, seedDesk(t))

	// items without interactions first, in build order
	got := ids(w.View(sla.Query{Sort: sla.SortLastInteraction}))
	assert.Equal(t, []string{"t105", "os8", "os7", "t102", "t101"}, got)
}

func TestView_StatsIgnoreFilters(t *testing.T) {
	w := build(t, seedDesk(t))
	_ = w.View(sla.Query{Kind: sla.KindTicket, Level: sla.LevelCritical})

	assert.Equal(t, 5, w.Stats.Total)
	assert.Equal(t, 2, w.Stats.ByLevel[sla.LevelCritical])
	assert.Equal(t, 1, w.Stats.ByLevel[sla.LevelWarning])
	assert.Equal(t, 2, w.Stats.ByLevel[sla.LevelNormal])
	assert.Equal(t, 2, w.Stats.ByBucket[sla.BucketOpen])
	assert.Equal(t, 2, w.Stats.ByBucket[sla.BucketInProgress])
	assert.Equal(t, 1, w.Stats.ByBucket[sla.BucketWaiting])
}

func TestParseSortMode(t *testing.T) {
	mode, err := sla.ParseSortMode("")
	require.NoError(t, err)
	assert.Equal(t, sla.SortOldest, mode)

	_, err = sla.ParseSortMode("newest")
	assert.True(t, core.IsClientError(err))
}
