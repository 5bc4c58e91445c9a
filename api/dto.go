/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the core model from the external API contract: money is a string with two
  decimals, hours are exact decimal strings, timestamps are RFC 3339.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Contracts:  ContractDTO, HourTierDTO, PeriodDTO, TierHoursDTO, PeriodDetailResponse
  Lifecycle:  CloseResponse, ApproveResponse, InvoiceDTO
  Worklist:   WorklistResponse, WorklistItemDTO, StatsDTO
  Tickets:    CommentRequest, InteractionDTO
  Rollover:   RolloverResponse, RolloverStatusResponse, RolloverRunDTO
  Scenarios:  ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and services, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/servicedesk/contracts"
	"github.com/warp/servicedesk/core"
	"github.com/warp/servicedesk/sla"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONTRACTS & PERIODS
// =============================================================================

type ContractDTO struct {
	ID            string        `json:"id"`
	Number        string        `json:"number"`
	ClientID      string        `json:"client_id"`
	MonthlyFee    string        `json:"monthly_fee"`
	IncludedHours string        `json:"included_hours"`
	ValidFrom     string        `json:"valid_from"`
	ValidTo       *string       `json:"valid_to,omitempty"`
	Status        string        `json:"status"`
	Tiers         []HourTierDTO `json:"tiers,omitempty"`
}

type HourTierDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ExcessRate string `json:"excess_rate"`
}

type PeriodDTO struct {
	ID              string  `json:"id"`
	ContractID      string  `json:"contract_id"`
	Month           string  `json:"month"`
	IncludedHours   string  `json:"included_hours"`
	HoursUsed       string  `json:"hours_used"`
	ExcessHours     string  `json:"excess_hours"`
	OrderCount      int     `json:"order_count"`
	ExcessAmount    string  `json:"excess_amount"`
	MaterialsAmount string  `json:"materials_amount"`
	TotalAmount     string  `json:"total_amount"`
	Status          string  `json:"status"`
	ClosedAt        *string `json:"closed_at,omitempty"`
	ApprovedAt      *string `json:"approved_at,omitempty"`
	ApprovedBy      string  `json:"approved_by,omitempty"`
	InvoiceID       *string `json:"invoice_id,omitempty"`
}

type TierHoursDTO struct {
	TierID       string `json:"tier_id"`
	TierName     string `json:"tier_name"`
	Hours        string `json:"hours"`
	Rate         string `json:"rate"`
	ExcessAmount string `json:"excess_amount"`
}

// PeriodDetailResponse is a period with its breakdown and invoices.
type PeriodDetailResponse struct {
	Period   PeriodDTO      `json:"period"`
	Tiers    []TierHoursDTO `json:"tiers"`
	Invoices []InvoiceDTO   `json:"invoices"`
}

type CloseResponse struct {
	Period PeriodDTO      `json:"period"`
	Tiers  []TierHoursDTO `json:"tiers"`
	// UntieredHours were worked without a tier and not priced.
	UntieredHours string `json:"untiered_hours"`
}

type ApproveResponse struct {
	Period         PeriodDTO  `json:"period"`
	Invoice        InvoiceDTO `json:"invoice"`
	InvoicedOrders int        `json:"invoiced_orders"`
}

type InvoiceDTO struct {
	ID          string `json:"id"`
	ClientID    string `json:"client_id"`
	ContractID  string `json:"contract_id"`
	PeriodID    string `json:"period_id"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	DueDate     string `json:"due_date"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// =============================================================================
// WORKLIST
// =============================================================================

type WorklistItemDTO struct {
	ID                   string  `json:"id"`
	Kind                 string  `json:"kind"`
	Number               int     `json:"number"`
	Title                string  `json:"title"`
	ClientID             string  `json:"client_id"`
	ClientName           string  `json:"client_name"`
	Status               string  `json:"status"`
	Priority             string  `json:"priority,omitempty"`
	OpenedAt             string  `json:"opened_at"`
	LastInteractionAt    *string `json:"last_interaction_at,omitempty"`
	Level                string  `json:"sla_level"`
	DaysOpen             int     `json:"days_open"`
	DaysSinceInteraction int     `json:"days_since_interaction"`
}

type StatsDTO struct {
	Total    int            `json:"total"`
	ByLevel  map[string]int `json:"by_level"`
	ByStatus map[string]int `json:"by_status"`
}

type WorklistResponse struct {
	TechnicianID string            `json:"technician_id"`
	GeneratedAt  string            `json:"generated_at"`
	Sort         string            `json:"sort"`
	Items        []WorklistItemDTO `json:"items"`
	Stats        StatsDTO          `json:"stats"`
}

// =============================================================================
// TICKETS
// =============================================================================

type CommentRequest struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type InteractionDTO struct {
	ID        string `json:"id"`
	TicketID  string `json:"ticket_id"`
	AuthorID  string `json:"author_id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// =============================================================================
// ROLLOVER
// =============================================================================

type RolloverRunDTO struct {
	ID          string  `json:"id"`
	ContractID  string  `json:"contract_id"`
	Month       string  `json:"month"`
	Action      string  `json:"action,omitempty"`
	Status      string  `json:"status"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

type RolloverResponse struct {
	Month     string           `json:"month"`
	Contracts int              `json:"contracts"`
	Opened    int              `json:"opened"`
	Closed    int              `json:"closed"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Runs      []RolloverRunDTO `json:"runs"`
	Errors    []string         `json:"errors,omitempty"`
}

type RolloverStatusResponse struct {
	Enabled  bool              `json:"enabled"`
	Interval string            `json:"interval"`
	LastRun  *RolloverResponse `json:"last_run"`
	NextRun  *time.Time        `json:"next_run"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(core.MoneyPlaces) }

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func stampPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := stamp(*t)
	return &s
}

func toContractDTO(c core.Contract, tiers []core.HourTier) ContractDTO {
	dto := ContractDTO{
		ID:            string(c.ID),
		Number:        c.Number,
		ClientID:      string(c.ClientID),
		MonthlyFee:    money(c.MonthlyFee),
		IncludedHours: c.IncludedHours.String(),
		ValidFrom:     c.ValidFrom.Format("2006-01-02"),
		Status:        string(c.Status),
	}
	if c.ValidTo != nil {
		to := c.ValidTo.Format("2006-01-02")
		dto.ValidTo = &to
	}
	for _, t := range tiers {
		dto.Tiers = append(dto.Tiers, HourTierDTO{ID: string(t.ID), Name: t.Name, ExcessRate: money(t.ExcessRate)})
	}
	return dto
}

func toPeriodDTO(p core.ContractPeriod) PeriodDTO {
	dto := PeriodDTO{
		ID:              string(p.ID),
		ContractID:      string(p.ContractID),
		Month:           p.Month.Format("2006-01"),
		IncludedHours:   p.IncludedHours.String(),
		HoursUsed:       p.HoursUsed.String(),
		ExcessHours:     p.ExcessHours.String(),
		OrderCount:      p.OrderCount,
		ExcessAmount:    money(p.ExcessAmount),
		MaterialsAmount: money(p.MaterialsAmount),
		TotalAmount:     money(p.TotalAmount),
		Status:          string(p.Status),
		ClosedAt:        stampPtr(p.ClosedAt),
		ApprovedAt:      stampPtr(p.ApprovedAt),
		ApprovedBy:      string(p.ApprovedBy),
	}
	if p.InvoiceID != nil {
		id := string(*p.InvoiceID)
		dto.InvoiceID = &id
	}
	return dto
}

func toTierHoursDTOs(rows []core.PeriodTierHours) []TierHoursDTO {
	out := make([]TierHoursDTO, len(rows))
	for i, r := range rows {
		out[i] = TierHoursDTO{
			TierID:       string(r.TierID),
			TierName:     r.TierName,
			Hours:        r.Hours.String(),
			Rate:         money(r.Rate),
			ExcessAmount: money(r.ExcessAmount),
		}
	}
	return out
}

func toInvoiceDTO(inv core.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:          string(inv.ID),
		ClientID:    string(inv.ClientID),
		ContractID:  string(inv.ContractID),
		PeriodID:    string(inv.PeriodID),
		Description: inv.Description,
		Amount:      money(inv.Amount),
		DueDate:     inv.DueDate.Format("2006-01-02"),
		Status:      string(inv.Status),
		CreatedAt:   stamp(inv.CreatedAt),
	}
}

func toInvoiceDTOs(invoices []core.Invoice) []InvoiceDTO {
	out := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		out[i] = toInvoiceDTO(inv)
	}
	return out
}

func toCloseResponse(res *contracts.CloseResult) CloseResponse {
	return CloseResponse{
		Period:        toPeriodDTO(res.Period),
		Tiers:         toTierHoursDTOs(res.TierHours),
		UntieredHours: res.Reconciliation.HoursByTier[core.NoTier].String(),
	}
}

func toWorklistResponse(wl *sla.Worklist, items []sla.Item, mode sla.SortMode) WorklistResponse {
	resp := WorklistResponse{
		TechnicianID: string(wl.TechnicianID),
		GeneratedAt:  stamp(wl.GeneratedAt),
		Sort:         string(mode),
		Items:        make([]WorklistItemDTO, len(items)),
		Stats: StatsDTO{
			Total:    wl.Stats.Total,
			ByLevel:  make(map[string]int, len(wl.Stats.ByLevel)),
			ByStatus: wl.Stats.ByBucket,
		},
	}
	for level, n := range wl.Stats.ByLevel {
		resp.Stats.ByLevel[string(level)] = n
	}
	for i, it := range items {
		resp.Items[i] = WorklistItemDTO{
			ID:                   it.ID,
			Kind:                 string(it.Kind),
			Number:               it.Number,
			Title:                it.Title,
			ClientID:             string(it.ClientID),
			ClientName:           it.ClientName,
			Status:               it.Status,
			Priority:             string(it.Priority),
			OpenedAt:             stamp(it.OpenedAt),
			LastInteractionAt:    stampPtr(it.LastInteractionAt),
			Level:                string(it.Level),
			DaysOpen:             it.DaysOpen,
			DaysSinceInteraction: it.DaysSinceInteraction,
		}
	}
	return resp
}

func toInteractionDTO(i core.Interaction) InteractionDTO {
	return InteractionDTO{
		ID:        i.ID,
		TicketID:  string(i.TicketID),
		AuthorID:  string(i.AuthorID),
		Kind:      string(i.Kind),
		Message:   i.Message,
		CreatedAt: stamp(i.CreatedAt),
	}
}

func toRolloverRunDTOs(runs []core.RolloverRun) []RolloverRunDTO {
	out := make([]RolloverRunDTO, len(runs))
	for i, r := range runs {
		out[i] = RolloverRunDTO{
			ID:          r.ID,
			ContractID:  string(r.ContractID),
			Month:       r.Month.Format("2006-01"),
			Action:      string(r.Action),
			Status:      r.Status,
			Error:       r.Error,
			StartedAt:   stamp(r.StartedAt),
			CompletedAt: stampPtr(r.CompletedAt),
		}
	}
	return out
}

func toRolloverResponse(s *contracts.RolloverSummary, err error) RolloverResponse {
	resp := RolloverResponse{
		Month:     s.Month.Format("2006-01"),
		Contracts: s.Contracts,
		Opened:    s.Opened,
		Closed:    s.Closed,
		Skipped:   s.Skipped,
		Failed:    s.Failed,
		Runs:      toRolloverRunDTOs(s.Runs),
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			resp.Errors = append(resp.Errors, e.Error())
		}
	} else if err != nil {
		resp.Errors = []string{err.Error()}
	}
	return resp
}
