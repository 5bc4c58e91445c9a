/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. All dates are relative to the handler's
	clock, so a scenario loaded today always has "last month" to close.

AVAILABLE SCENARIOS:

	contract-excess:      One tier, 12h worked against 10h included last month
	multi-tier:           Remote and on-site tiers, untiered hours, materials
	technician-dashboard: Tickets and service orders at every SLA level

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create clients and contracts with their hour tiers
 3. Create last month's period (active, ready to close)
 4. Add service orders, tickets and interactions

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "multi-tier"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Period and worklist endpoints the scenarios exercise
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/warp/servicedesk/core"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "contract-excess",
		Name:        "Contract Excess",
		Description: "10h included, 12h remote worked last month; run the rollover to close it",
		Category:    "contracts",
	},
	{
		ID:          "multi-tier",
		Name:        "Multi-Tier Contract",
		Description: "Remote and on-site rates, an untiered order and materials",
		Category:    "contracts",
	},
	{
		ID:          "technician-dashboard",
		Name:        "Technician Dashboard",
		Description: "Open tickets and service orders for tech-1 at normal, warning and critical SLA",
		Category:    "sla",
	},
}

var scenarioLoaders = map[string]func(context.Context, *Handler) error{
	"contract-excess":      loadContractExcessScenario,
	"multi-tier":           loadMultiTierScenario,
	"technician-dashboard": loadTechnicianDashboardScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	loader, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.fail(w, r, "Failed to reset store", err)
		return
	}
	if err := loader(ctx, h); err != nil {
		h.fail(w, r, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.Log.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, r, "Failed to reset store", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO BUILDING BLOCKS
// =============================================================================

// seeder writes scenario rows and stops at the first error.
type seeder struct {
	ctx   context.Context
	store core.Store
	now   time.Time
	err   error
}

func (h *Handler) newSeeder(ctx context.Context) *seeder {
	return &seeder{ctx: ctx, store: h.Store, now: h.Clock.Now()}
}

func (s *seeder) do(fn func() error) {
	if s.err == nil {
		s.err = fn()
	}
}

// lastMonth returns a time inside the previous month, day d at hour.
func (s *seeder) lastMonth(d, hour int) time.Time {
	m := core.PreviousMonth(s.now)
	return time.Date(m.Year(), m.Month(), d, hour, 0, 0, 0, time.UTC)
}

func (s *seeder) client(id core.ClientID, name string) {
	s.do(func() error { return s.store.SaveClient(s.ctx, core.Client{ID: id, Name: name}) })
}

func (s *seeder) contract(c core.Contract, tiers ...core.HourTier) {
	s.do(func() error { return s.store.SaveContract(s.ctx, c) })
	for _, t := range tiers {
		t.ContractID = c.ID
		s.do(func() error { return s.store.SaveHourTier(s.ctx, t) })
	}
}

// openLastMonth creates last month's active period for c.
func (s *seeder) openLastMonth(c core.Contract) {
	month := core.PreviousMonth(s.now)
	s.do(func() error {
		return s.store.CreatePeriod(s.ctx, core.ContractPeriod{
			ID:            core.PeriodID(fmt.Sprintf("per-%s-%s", c.ID, month.Format("2006-01"))),
			ContractID:    c.ID,
			Month:         month,
			IncludedHours: c.IncludedHours,
			Status:        core.PeriodActive,
			CreatedAt:     month,
		})
	})
}

func (s *seeder) order(o core.ServiceOrder) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = o.StartedAt
	}
	o.TotalCost = o.LaborCost.Add(o.MaterialCost)
	s.do(func() error { return s.store.SaveServiceOrder(s.ctx, o) })
}

func (s *seeder) ticket(t core.Ticket) {
	s.do(func() error { return s.store.SaveTicket(s.ctx, t) })
}

func (s *seeder) interaction(ticketID core.TicketID, author core.UserID, at time.Time, message string) {
	s.do(func() error {
		return s.store.AppendInteraction(s.ctx, core.Interaction{
			ID:        uuid.NewString(),
			TicketID:  ticketID,
			AuthorID:  author,
			Kind:      core.InteractionComment,
			Message:   message,
			CreatedAt: at,
		})
	})
}

func ptr[T any](v T) *T { return &v }

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadContractExcessScenario(ctx context.Context, h *Handler) error {
	s := h.newSeeder(ctx)

	c := core.Contract{
		ID:            "ct-padaria",
		Number:        "CT-1001",
		ClientID:      "cl-padaria",
		MonthlyFee:    core.MustDecimal("1500.00"),
		IncludedHours: core.MustDecimal("10"),
		ValidFrom:     core.StartOfMonth(s.now).AddDate(-1, 0, 0),
		Status:        core.ContractActive,
	}
	s.client(c.ClientID, "Padaria Central")
	s.contract(c, core.HourTier{ID: "tier-padaria-remoto", Name: "Remoto", ExcessRate: core.MustDecimal("50.00")})
	s.openLastMonth(c)

	tech := ptr(core.UserID("tech-1"))
	for i, hours := range []string{"4", "5", "3"} {
		s.order(core.ServiceOrder{
			ID:           core.ServiceOrderID(fmt.Sprintf("os-padaria-%d", i+1)),
			Number:       1001 + i,
			ClientID:     c.ClientID,
			ContractID:   ptr(c.ID),
			Tier:         core.Tier("tier-padaria-remoto"),
			TechnicianID: tech,
			Title:        "Suporte remoto",
			WorkedHours:  core.MustDecimal(hours),
			StartedAt:    s.lastMonth(5+7*i, 10),
			Status:       core.OrderCompleted,
		})
	}
	return s.err
}

func loadMultiTierScenario(ctx context.Context, h *Handler) error {
	s := h.newSeeder(ctx)

	c := core.Contract{
		ID:            "ct-clinica",
		Number:        "CT-2040",
		ClientID:      "cl-clinica",
		MonthlyFee:    core.MustDecimal("2800.00"),
		IncludedHours: core.MustDecimal("10"),
		ValidFrom:     core.StartOfMonth(s.now).AddDate(0, -6, 0),
		Status:        core.ContractActive,
	}
	s.client(c.ClientID, "Clínica Boa Saúde")
	s.contract(c,
		core.HourTier{ID: "tier-clinica-remoto", Name: "Remoto", ExcessRate: core.MustDecimal("50.00")},
		core.HourTier{ID: "tier-clinica-presencial", Name: "Presencial", ExcessRate: core.MustDecimal("80.00")},
	)
	s.openLastMonth(c)

	tech := ptr(core.UserID("tech-2"))
	orders := []struct {
		tier  core.TierRef
		hours string
		mats  string
		title string
	}{
		{core.Tier("tier-clinica-remoto"), "6", "0", "Configuração de impressoras"},
		{core.Tier("tier-clinica-remoto"), "4", "0", "Backup do servidor"},
		{core.Tier("tier-clinica-presencial"), "5", "320.50", "Troca de switch"},
		{core.NoTier, "1.5", "0", "Visita sem tipo de hora"},
	}
	for i, o := range orders {
		s.order(core.ServiceOrder{
			ID:           core.ServiceOrderID(fmt.Sprintf("os-clinica-%d", i+1)),
			Number:       2001 + i,
			ClientID:     c.ClientID,
			ContractID:   ptr(c.ID),
			Tier:         o.tier,
			TechnicianID: tech,
			Title:        o.title,
			WorkedHours:  core.MustDecimal(o.hours),
			MaterialCost: core.MustDecimal(o.mats),
			StartedAt:    s.lastMonth(3+6*i, 14),
			Status:       core.OrderCompleted,
		})
	}

	// started this month: billed with the next close, not last month's
	s.order(core.ServiceOrder{
		ID:           "os-clinica-open",
		Number:       2099,
		ClientID:     c.ClientID,
		ContractID:   ptr(c.ID),
		Tier:         core.Tier("tier-clinica-presencial"),
		TechnicianID: tech,
		Title:        "Cabeamento (em andamento)",
		WorkedHours:  core.MustDecimal("8"),
		StartedAt:    core.StartOfMonth(s.now),
		Status:       core.OrderInProgress,
	})
	return s.err
}

func loadTechnicianDashboardScenario(ctx context.Context, h *Handler) error {
	s := h.newSeeder(ctx)
	tech := ptr(core.UserID("tech-1"))
	ago := func(hours int) time.Time { return s.now.Add(-time.Duration(hours) * time.Hour) }

	s.client("cl-mercado", "Mercado Bom Preço")
	s.client("cl-escola", "Escola Aprender")

	s.ticket(core.Ticket{ID: "tk-1", Number: 101, ClientID: "cl-mercado", Title: "PDV não liga",
		Priority: core.PriorityUrgent, Status: core.TicketOpen, TechnicianID: tech, OpenedAt: ago(30)})
	s.ticket(core.Ticket{ID: "tk-2", Number: 102, ClientID: "cl-escola", Title: "Wi-Fi lento no bloco B",
		Priority: core.PriorityMedium, Status: core.TicketInProgress, TechnicianID: tech, OpenedAt: ago(20)})
	s.ticket(core.Ticket{ID: "tk-3", Number: 103, ClientID: "cl-mercado", Title: "Troca de toner",
		Priority: core.PriorityLow, Status: core.TicketAwaitingClient, TechnicianID: tech, OpenedAt: ago(2)})
	s.ticket(core.Ticket{ID: "tk-4", Number: 104, ClientID: "cl-escola", Title: "Servidor fora do ar",
		Priority: core.PriorityHigh, Status: core.TicketOpen, OpenedAt: ago(5), SLAHours: ptr(4)})
	s.ticket(core.Ticket{ID: "tk-5", Number: 105, ClientID: "cl-escola", Title: "Instalação concluída",
		Priority: core.PriorityLow, Status: core.TicketClosed, TechnicianID: tech, OpenedAt: ago(200)})

	s.interaction("tk-1", "tech-1", ago(28), "Cliente informou que o PDV reinicia sozinho")
	s.interaction("tk-2", "tech-1", ago(3), "Canal do access point alterado")
	s.interaction("tk-2", "tech-1", ago(18), "Medição de sinal agendada")

	s.order(core.ServiceOrder{ID: "os-dash-1", Number: 501, ClientID: "cl-mercado", TicketID: ptr(core.TicketID("tk-1")),
		TechnicianID: tech, Title: "Visita técnica PDV", WorkedHours: core.MustDecimal("1"),
		StartedAt: ago(6), Status: core.OrderInProgress})
	s.order(core.ServiceOrder{ID: "os-dash-2", Number: 502, ClientID: "cl-escola",
		TechnicianID: tech, Title: "Manutenção preventiva", WorkedHours: core.MustDecimal("0"),
		StartedAt: ago(18), Status: core.OrderOpen})
	return s.err
}
