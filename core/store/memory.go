// Package store provides an in-memory core.TxStore.
package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/servicedesk/core"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a thread-safe in-memory store. WithTx is simulated with a
// snapshot that is restored when the callback fails.
type Memory struct {
	mu   sync.RWMutex
	data *memData
}

var _ core.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

type memData struct {
	clients      map[core.ClientID]core.Client
	contracts    map[core.ContractID]core.Contract
	tiers        map[core.TierID]core.HourTier
	periods      map[core.PeriodID]core.ContractPeriod
	tierHours    []core.PeriodTierHours
	orders       map[core.ServiceOrderID]core.ServiceOrder
	tickets      map[core.TicketID]core.Ticket
	interactions []core.Interaction
	invoices     map[core.InvoiceID]core.Invoice
	runs         map[string]core.RolloverRun
}

func newMemData() *memData {
	return &memData{
		clients:   make(map[core.ClientID]core.Client),
		contracts: make(map[core.ContractID]core.Contract),
		tiers:     make(map[core.TierID]core.HourTier),
		periods:   make(map[core.PeriodID]core.ContractPeriod),
		orders:    make(map[core.ServiceOrderID]core.ServiceOrder),
		tickets:   make(map[core.TicketID]core.Ticket),
		invoices:  make(map[core.InvoiceID]core.Invoice),
		runs:      make(map[string]core.RolloverRun),
	}
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newMemData()
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn while holding the write lock. On error the state taken
// before fn ran is restored.
func (m *Memory) WithTx(_ context.Context, fn func(core.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(m.data); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (d *memData) clone() *memData {
	return &memData{
		clients:      cloneMap(d.clients),
		contracts:    cloneMap(d.contracts),
		tiers:        cloneMap(d.tiers),
		periods:      cloneMap(d.periods),
		tierHours:    slices.Clone(d.tierHours),
		orders:       cloneMap(d.orders),
		tickets:      cloneMap(d.tickets),
		interactions: slices.Clone(d.interactions),
		invoices:     cloneMap(d.invoices),
		runs:         cloneMap(d.runs),
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// =============================================================================
// LOCKED WRAPPERS (core.Store)
// =============================================================================

func (m *Memory) SaveClient(ctx context.Context, c core.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveClient(ctx, c)
}

func (m *Memory) SaveContract(ctx context.Context, c core.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveContract(ctx, c)
}

func (m *Memory) GetContract(ctx context.Context, id core.ContractID) (*core.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetContract(ctx, id)
}

func (m *Memory) ListContracts(ctx context.Context, f core.ContractFilter) ([]core.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListContracts(ctx, f)
}

func (m *Memory) SaveHourTier(ctx context.Context, t core.HourTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveHourTier(ctx, t)
}

func (m *Memory) ListHourTiers(ctx context.Context, contractID core.ContractID) ([]core.HourTier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListHourTiers(ctx, contractID)
}

func (m *Memory) CreatePeriod(ctx context.Context, p core.ContractPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreatePeriod(ctx, p)
}

func (m *Memory) UpdatePeriod(ctx context.Context, p core.ContractPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdatePeriod(ctx, p)
}

func (m *Memory) GetPeriod(ctx context.Context, id core.PeriodID) (*core.ContractPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetPeriod(ctx, id)
}

func (m *Memory) FindPeriod(ctx context.Context, contractID core.ContractID, month time.Time) (*core.ContractPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.FindPeriod(ctx, contractID, month)
}

func (m *Memory) ListPeriods(ctx context.Context, contractID core.ContractID) ([]core.ContractPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListPeriods(ctx, contractID)
}

func (m *Memory) InsertPeriodTierHours(ctx context.Context, rows []core.PeriodTierHours) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertPeriodTierHours(ctx, rows)
}

func (m *Memory) ListPeriodTierHours(ctx context.Context, periodID core.PeriodID) ([]core.PeriodTierHours, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListPeriodTierHours(ctx, periodID)
}

func (m *Memory) SaveServiceOrder(ctx context.Context, o core.ServiceOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveServiceOrder(ctx, o)
}

func (m *Memory) ListServiceOrders(ctx context.Context, f core.OrderFilter) ([]core.ServiceOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListServiceOrders(ctx, f)
}

func (m *Memory) SetServiceOrderStatus(ctx context.Context, ids []core.ServiceOrderID, status core.ServiceOrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SetServiceOrderStatus(ctx, ids, status)
}

func (m *Memory) SaveTicket(ctx context.Context, t core.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveTicket(ctx, t)
}

func (m *Memory) GetTicket(ctx context.Context, id core.TicketID) (*core.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetTicket(ctx, id)
}

func (m *Memory) ListTickets(ctx context.Context, f core.TicketFilter) ([]core.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListTickets(ctx, f)
}

func (m *Memory) AppendInteraction(ctx context.Context, i core.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.AppendInteraction(ctx, i)
}

func (m *Memory) ListInteractions(ctx context.Context, f core.InteractionFilter) ([]core.Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListInteractions(ctx, f)
}

func (m *Memory) CreateInvoice(ctx context.Context, inv core.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateInvoice(ctx, inv)
}

func (m *Memory) ListInvoices(ctx context.Context, f core.InvoiceFilter) ([]core.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListInvoices(ctx, f)
}

func (m *Memory) SaveRolloverRun(ctx context.Context, r core.RolloverRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveRolloverRun(ctx, r)
}

func (m *Memory) ListRolloverRuns(ctx context.Context, limit int) ([]core.RolloverRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListRolloverRuns(ctx, limit)
}

// =============================================================================
// UNLOCKED DATA ACCESS (also the view handed to WithTx callbacks)
// =============================================================================

func (d *memData) SaveClient(_ context.Context, c core.Client) error {
	d.clients[c.ID] = c
	return nil
}

func (d *memData) SaveContract(_ context.Context, c core.Contract) error {
	d.contracts[c.ID] = c
	return nil
}

func (d *memData) GetContract(_ context.Context, id core.ContractID) (*core.Contract, error) {
	c, ok := d.contracts[id]
	if !ok {
		return nil, core.NewNotFound("contract", id)
	}
	return &c, nil
}

func (d *memData) ListContracts(_ context.Context, f core.ContractFilter) ([]core.Contract, error) {
	var out []core.Contract
	for _, c := range d.contracts {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.ClientID != "" && c.ClientID != f.ClientID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return truncate(out, f.Limit), nil
}

func (d *memData) SaveHourTier(_ context.Context, t core.HourTier) error {
	d.tiers[t.ID] = t
	return nil
}

func (d *memData) ListHourTiers(_ context.Context, contractID core.ContractID) ([]core.HourTier, error) {
	var out []core.HourTier
	for _, t := range d.tiers {
		if t.ContractID == contractID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *memData) CreatePeriod(_ context.Context, p core.ContractPeriod) error {
	if _, ok := d.periods[p.ID]; ok {
		return core.ErrDuplicate
	}
	for _, existing := range d.periods {
		if existing.ContractID == p.ContractID && existing.Month.Equal(p.Month) {
			return core.ErrDuplicate
		}
	}
	d.periods[p.ID] = p
	return nil
}

func (d *memData) UpdatePeriod(_ context.Context, p core.ContractPeriod) error {
	if _, ok := d.periods[p.ID]; !ok {
		return core.NewNotFound("period", p.ID)
	}
	d.periods[p.ID] = p
	return nil
}

func (d *memData) GetPeriod(_ context.Context, id core.PeriodID) (*core.ContractPeriod, error) {
	p, ok := d.periods[id]
	if !ok {
		return nil, core.NewNotFound("period", id)
	}
	return &p, nil
}

func (d *memData) FindPeriod(_ context.Context, contractID core.ContractID, month time.Time) (*core.ContractPeriod, error) {
	month = core.StartOfMonth(month)
	for _, p := range d.periods {
		if p.ContractID == contractID && p.Month.Equal(month) {
			return &p, nil
		}
	}
	return nil, core.NewNotFound("period", string(contractID)+"@"+month.Format("2006-01"))
}

func (d *memData) ListPeriods(_ context.Context, contractID core.ContractID) ([]core.ContractPeriod, error) {
	var out []core.ContractPeriod
	for _, p := range d.periods {
		if p.ContractID == contractID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.After(out[j].Month) })
	return out, nil
}

func (d *memData) InsertPeriodTierHours(_ context.Context, rows []core.PeriodTierHours) error {
	d.tierHours = append(d.tierHours, rows...)
	return nil
}

func (d *memData) ListPeriodTierHours(_ context.Context, periodID core.PeriodID) ([]core.PeriodTierHours, error) {
	var out []core.PeriodTierHours
	for _, r := range d.tierHours {
		if r.PeriodID == periodID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TierName < out[j].TierName })
	return out, nil
}

func (d *memData) SaveServiceOrder(_ context.Context, o core.ServiceOrder) error {
	d.orders[o.ID] = o
	return nil
}

func (d *memData) ListServiceOrders(_ context.Context, f core.OrderFilter) ([]core.ServiceOrder, error) {
	var out []core.ServiceOrder
	for _, o := range d.orders {
		if len(f.IDs) > 0 && !slices.Contains(f.IDs, o.ID) {
			continue
		}
		if f.ClientID != "" && o.ClientID != f.ClientID {
			continue
		}
		if f.TechnicianID != "" && (o.TechnicianID == nil || *o.TechnicianID != f.TechnicianID) {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, o.Status) {
			continue
		}
		if f.StartedFrom != nil && o.StartedAt.Before(*f.StartedFrom) {
			continue
		}
		if f.StartedTo != nil && o.StartedAt.After(*f.StartedTo) {
			continue
		}
		o.ClientName = d.clients[o.ClientID].Name
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].Number < out[j].Number
	})
	return truncate(out, f.Limit), nil
}

func (d *memData) SetServiceOrderStatus(_ context.Context, ids []core.ServiceOrderID, status core.ServiceOrderStatus) error {
	for _, id := range ids {
		o, ok := d.orders[id]
		if !ok {
			return core.NewNotFound("service order", id)
		}
		o.Status = status
		d.orders[id] = o
	}
	return nil
}

func (d *memData) SaveTicket(_ context.Context, t core.Ticket) error {
	d.tickets[t.ID] = t
	return nil
}

func (d *memData) GetTicket(_ context.Context, id core.TicketID) (*core.Ticket, error) {
	t, ok := d.tickets[id]
	if !ok {
		return nil, core.NewNotFound("ticket", id)
	}
	t.ClientName = d.clients[t.ClientID].Name
	return &t, nil
}

func (d *memData) ListTickets(_ context.Context, f core.TicketFilter) ([]core.Ticket, error) {
	var out []core.Ticket
	for _, t := range d.tickets {
		if len(f.IDs) > 0 && !slices.Contains(f.IDs, t.ID) {
			continue
		}
		if f.AssignedTo != "" || f.IncludeUnassigned {
			mine := f.AssignedTo != "" && t.TechnicianID != nil && *t.TechnicianID == f.AssignedTo
			free := f.IncludeUnassigned && t.TechnicianID == nil
			if !mine && !free {
				continue
			}
		}
		if slices.Contains(f.ExcludeStatuses, t.Status) {
			continue
		}
		if f.ClientID != "" && t.ClientID != f.ClientID {
			continue
		}
		t.ClientName = d.clients[t.ClientID].Name
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].Number < out[j].Number
	})
	return truncate(out, f.Limit), nil
}

func (d *memData) AppendInteraction(_ context.Context, i core.Interaction) error {
	if _, ok := d.tickets[i.TicketID]; !ok {
		return core.NewNotFound("ticket", i.TicketID)
	}
	d.interactions = append(d.interactions, i)
	return nil
}

func (d *memData) ListInteractions(_ context.Context, f core.InteractionFilter) ([]core.Interaction, error) {
	var matched []core.Interaction
	for _, i := range d.interactions {
		if len(f.TicketIDs) > 0 && !slices.Contains(f.TicketIDs, i.TicketID) {
			continue
		}
		matched = append(matched, i)
	}
	sort.SliceStable(matched, func(a, b int) bool { return matched[a].CreatedAt.After(matched[b].CreatedAt) })

	if f.PerTicket <= 0 {
		return truncate(matched, f.Limit), nil
	}
	seen := make(map[core.TicketID]int)
	out := make([]core.Interaction, 0, len(matched))
	for _, i := range matched {
		if seen[i.TicketID] >= f.PerTicket {
			continue
		}
		seen[i.TicketID]++
		out = append(out, i)
	}
	return truncate(out, f.Limit), nil
}

func (d *memData) CreateInvoice(_ context.Context, inv core.Invoice) error {
	if _, ok := d.invoices[inv.ID]; ok {
		return core.ErrDuplicate
	}
	d.invoices[inv.ID] = inv
	return nil
}

func (d *memData) ListInvoices(_ context.Context, f core.InvoiceFilter) ([]core.Invoice, error) {
	var out []core.Invoice
	for _, inv := range d.invoices {
		if f.ClientID != "" && inv.ClientID != f.ClientID {
			continue
		}
		if f.PeriodID != "" && inv.PeriodID != f.PeriodID {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return strings.Compare(string(out[i].ID), string(out[j].ID)) < 0
	})
	return truncate(out, f.Limit), nil
}

func (d *memData) SaveRolloverRun(_ context.Context, r core.RolloverRun) error {
	d.runs[r.ID] = r
	return nil
}

func (d *memData) ListRolloverRuns(_ context.Context, limit int) ([]core.RolloverRun, error) {
	out := make([]core.RolloverRun, 0, len(d.runs))
	for _, r := range d.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return truncate(out, limit), nil
}

func truncate[T any](items []T, limit int) []T {
	limit = core.LimitOr(limit, core.DefaultListLimit)
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
