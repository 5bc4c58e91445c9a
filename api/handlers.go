/*
handlers.go - HTTP API handlers for the service desk

PURPOSE:
  Exposes the reconciliation engine and the SLA worklist via REST API.
  Handles HTTP request/response and JSON serialization, and delegates to
  the contracts, sla and tickets packages.

ENDPOINTS:
  Contracts:
    GET    /api/contracts                                  List contracts
    GET    /api/contracts/{contractID}                     Contract with tiers
    GET    /api/contracts/{contractID}/periods             Periods, newest first
    POST   /api/contracts/{contractID}/periods/{periodID}/close

  Periods & invoices:
    GET    /api/periods/{periodID}                         Period + tier breakdown
    POST   /api/periods/{periodID}/approve                 Approve and invoice
    GET    /api/invoices                                   List invoices

  Worklist & tickets:
    GET    /api/technicians/{technicianID}/worklist        SLA worklist
    POST   /api/tickets/{ticketID}/comments                Comment + notify

  Admin:
    POST   /api/admin/rollover                             Run the monthly rollover
    GET    /api/admin/rollover/status                      Scheduler state
    GET    /api/admin/rollover/runs                        Rollover audit records

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: No acting user
  - 404: Resource not found
  - 409: Out-of-order lifecycle call, duplicate
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/warp/servicedesk/contracts"
	"github.com/warp/servicedesk/core"
	"github.com/warp/servicedesk/notify"
	"github.com/warp/servicedesk/sla"
	"github.com/warp/servicedesk/tickets"
)

// Store is what the API needs from persistence: the transactional store
// plus Reset for the demo scenarios.
type Store interface {
	core.TxStore
	Reset(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Store
	Engine    *contracts.Engine
	Roller    *contracts.Roller
	Scheduler *RolloverScheduler
	Worklists *sla.Builder
	Comments  *tickets.Service
	Clock     core.Clock
	Log       zerolog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the services over store.
func NewHandler(store Store, notifier notify.Notifier, clock core.Clock, log zerolog.Logger) *Handler {
	engine := contracts.NewEngine(store, clock, log)
	roller := contracts.NewRoller(engine)
	return &Handler{
		Store:     store,
		Engine:    engine,
		Roller:    roller,
		Scheduler: NewRolloverScheduler(roller, log),
		Worklists: sla.NewBuilder(store, clock),
		Comments:  tickets.NewService(store, notifier, clock, log),
		Clock:     clock,
		Log:       log,
	}
}

// Health reports liveness, pinging the store when it supports it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CONTRACT HANDLERS
// =============================================================================

// ListContracts returns contracts, optionally by status and client.
// GET /api/contracts?status=&client_id=
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.Store.ListContracts(r.Context(), core.ContractFilter{
		Status:   core.ContractStatus(q.Get("status")),
		ClientID: core.ClientID(q.Get("client_id")),
	})
	if err != nil {
		h.fail(w, r, "Failed to list contracts", err)
		return
	}

	dtos := make([]ContractDTO, len(list))
	for i, c := range list {
		dtos[i] = toContractDTO(c, nil)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetContract returns one contract with its hour tiers.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	id := core.ContractID(chi.URLParam(r, "contractID"))

	c, err := h.Store.GetContract(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get contract", err)
		return
	}
	tiers, err := h.Store.ListHourTiers(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get hour tiers", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(*c, tiers))
}

// ListPeriods returns the contract's periods, newest first.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	id := core.ContractID(chi.URLParam(r, "contractID"))

	if _, err := h.Store.GetContract(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to get contract", err)
		return
	}
	periods, err := h.Store.ListPeriods(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to list periods", err)
		return
	}

	dtos := make([]PeriodDTO, len(periods))
	for i, p := range periods {
		dtos[i] = toPeriodDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ClosePeriod reconciles and closes an active period.
// POST /api/contracts/{contractID}/periods/{periodID}/close
func (h *Handler) ClosePeriod(w http.ResponseWriter, r *http.Request) {
	contractID := core.ContractID(chi.URLParam(r, "contractID"))
	periodID := core.PeriodID(chi.URLParam(r, "periodID"))

	res, err := h.Engine.ClosePeriod(r.Context(), contractID, periodID)
	if err != nil {
		h.fail(w, r, "Failed to close period", err)
		return
	}
	writeJSON(w, http.StatusOK, toCloseResponse(res))
}

// =============================================================================
// PERIOD & INVOICE HANDLERS
// =============================================================================

// GetPeriod returns a period with its tier breakdown and invoices.
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := core.PeriodID(chi.URLParam(r, "periodID"))

	p, err := h.Store.GetPeriod(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to get period", err)
		return
	}
	rows, err := h.Store.ListPeriodTierHours(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to get tier breakdown", err)
		return
	}
	invoices, err := h.Store.ListInvoices(ctx, core.InvoiceFilter{PeriodID: id})
	if err != nil {
		h.fail(w, r, "Failed to get invoices", err)
		return
	}

	writeJSON(w, http.StatusOK, PeriodDetailResponse{
		Period:   toPeriodDTO(*p),
		Tiers:    toTierHoursDTOs(rows),
		Invoices: toInvoiceDTOs(invoices),
	})
}

// ApprovePeriod invoices a closed period on behalf of the acting user.
// POST /api/periods/{periodID}/approve
func (h *Handler) ApprovePeriod(w http.ResponseWriter, r *http.Request) {
	id := core.PeriodID(chi.URLParam(r, "periodID"))

	res, err := h.Engine.ApprovePeriod(r.Context(), id, ActorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "Failed to approve period", err)
		return
	}
	writeJSON(w, http.StatusOK, ApproveResponse{
		Period:         toPeriodDTO(res.Period),
		Invoice:        toInvoiceDTO(res.Invoice),
		InvoicedOrders: res.InvoicedOrders,
	})
}

// ListInvoices returns invoices, optionally by client and period.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	invoices, err := h.Store.ListInvoices(r.Context(), core.InvoiceFilter{
		ClientID: core.ClientID(q.Get("client_id")),
		PeriodID: core.PeriodID(q.Get("period_id")),
	})
	if err != nil {
		h.fail(w, r, "Failed to list invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTOs(invoices))
}

// =============================================================================
// WORKLIST & TICKET HANDLERS
// =============================================================================

// GetWorklist builds the technician's worklist and applies the query.
// GET /api/technicians/{technicianID}/worklist?status=&client_id=&level=&kind=&q=&sort=
func (h *Handler) GetWorklist(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	query, err := parseWorklistQuery(params.Get("status"), params.Get("client_id"),
		params.Get("level"), params.Get("kind"), params.Get("q"), params.Get("sort"))
	if err != nil {
		h.fail(w, r, "Invalid worklist query", err)
		return
	}

	wl, err := h.Worklists.Build(r.Context(), core.UserID(chi.URLParam(r, "technicianID")))
	if err != nil {
		h.fail(w, r, "Failed to build worklist", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorklistResponse(wl, wl.View(query), query.Sort))
}

func parseWorklistQuery(status, clientID, level, kind, search, sort string) (sla.Query, error) {
	mode, err := sla.ParseSortMode(sort)
	if err != nil {
		return sla.Query{}, err
	}
	switch sla.Level(level) {
	case "", sla.LevelNormal, sla.LevelWarning, sla.LevelCritical:
	default:
		return sla.Query{}, &core.ValidationError{Field: "level", Message: "unknown SLA level " + strconv.Quote(level)}
	}
	switch sla.ItemKind(kind) {
	case "", sla.KindTicket, sla.KindServiceOrder:
	default:
		return sla.Query{}, &core.ValidationError{Field: "kind", Message: "unknown item kind " + strconv.Quote(kind)}
	}
	return sla.Query{
		Status:   status,
		ClientID: core.ClientID(clientID),
		Level:    sla.Level(level),
		Kind:     sla.ItemKind(kind),
		Search:   search,
		Sort:     mode,
	}, nil
}

// PostComment appends a comment to a ticket and notifies watchers.
// POST /api/tickets/{ticketID}/comments
func (h *Handler) PostComment(w http.ResponseWriter, r *http.Request) {
	var req CommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	interaction, err := h.Comments.PostComment(r.Context(), ActorFrom(r.Context()),
		core.TicketID(chi.URLParam(r, "ticketID")), core.InteractionKind(req.Kind), req.Message)
	if err != nil {
		h.fail(w, r, "Failed to post comment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInteractionDTO(*interaction))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerRollover runs the monthly rollover now. Per-contract failures are
// reported in the body; the sweep itself still succeeds.
// POST /api/admin/rollover
func (h *Handler) TriggerRollover(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Scheduler.RunNow(r.Context())
	if summary == nil {
		h.fail(w, r, "Failed to run rollover", err)
		return
	}
	writeJSON(w, http.StatusOK, toRolloverResponse(summary, err))
}

// RolloverStatus reports the scheduler configuration, the latest sweep and
// when the next scheduled one is due.
// GET /api/admin/rollover/status
func (h *Handler) RolloverStatus(w http.ResponseWriter, r *http.Request) {
	sched := h.Scheduler
	resp := RolloverStatusResponse{
		Enabled:  sched.Enabled,
		Interval: sched.CheckInterval.String(),
	}
	if last := sched.LastRun(); last != nil {
		lr := toRolloverResponse(last, nil)
		resp.LastRun = &lr
	}
	if next := sched.NextRunTime(); !next.IsZero() {
		resp.NextRun = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRolloverRuns returns rollover audit records, newest first.
// GET /api/admin/rollover/runs?limit=
func (h *Handler) ListRolloverRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}
	runs, err := h.Store.ListRolloverRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "Failed to list rollover runs", err)
		return
	}
	writeJSON(w, http.StatusOK, toRolloverRunDTOs(runs))
}

// =============================================================================
// HELPERS
// =============================================================================

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnauthenticated):
		return http.StatusUnauthorized
	case core.IsNotFound(err):
		return http.StatusNotFound
	case core.IsConflict(err):
		return http.StatusConflict
	case core.IsClientError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status; server errors are logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg(message)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
