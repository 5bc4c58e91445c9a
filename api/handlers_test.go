/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Close/approve lifecycle over HTTP, including out-of-order calls
- Actor requirement on mutating routes
- Worklist filtering, sorting and stats
- Ticket comments
- Error status mapping
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/servicedesk/core"
	"github.com/warp/servicedesk/core/store"
	"github.com/warp/servicedesk/notify"
)

var testNow = time.Date(2025, time.April, 2, 9, 30, 0, 0, time.UTC)

type recordingNotifier struct {
	sent []notify.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Notification) error {
	n.sent = append(n.sent, msg)
	return nil
}

type testServer struct {
	t        *testing.T
	handler  *Handler
	router   http.Handler
	store    *store.Memory
	notifier *recordingNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	n := &recordingNotifier{}
	h := NewHandler(mem, n, core.FixedClock{At: testNow}, zerolog.Nop())
	return &testServer{
		t:        t,
		handler:  h,
		router:   NewRouter(h, RouterOptions{Log: zerolog.Nop()}),
		store:    mem,
		notifier: n,
	}
}

// do sends a request; a non-empty actor sets X-User-ID.
func (s *testServer) do(method, path, actor string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(HeaderUserID, actor)
		req.Header.Set(HeaderUserRole, "gestor")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) loadScenario(id string) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: id})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const marchPeriod = "/api/contracts/ct-padaria/periods/per-ct-padaria-2025-03"

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestCloseAndApprove_ContractExcess(t *testing.T) {
	// GIVEN: 12 remote hours against 10 included at R$50/h
	s := newTestServer(t)
	s.loadScenario("contract-excess")

	// WHEN: the period is closed
	rec := s.do(http.MethodPost, marchPeriod+"/close", "mgr-1", nil)

	// THEN: 2 excess hours are billed
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decode[CloseResponse](t, rec)
	assert.Equal(t, "fechado", closed.Period.Status)
	assert.Equal(t, "12", closed.Period.HoursUsed)
	assert.Equal(t, "2", closed.Period.ExcessHours)
	assert.Equal(t, "100.00", closed.Period.ExcessAmount)
	assert.Equal(t, "1600.00", closed.Period.TotalAmount)
	assert.Equal(t, 3, closed.Period.OrderCount)
	require.Len(t, closed.Tiers, 1)
	assert.Equal(t, "Remoto", closed.Tiers[0].TierName)
	assert.Equal(t, "0", closed.UntieredHours)

	// WHEN: the closed period is approved
	rec = s.do(http.MethodPost, "/api/periods/per-ct-padaria-2025-03/approve", "mgr-1", nil)

	// THEN: an invoice for the total is created and the orders are invoiced
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[ApproveResponse](t, rec)
	assert.Equal(t, "faturado", approved.Period.Status)
	assert.Equal(t, "mgr-1", approved.Period.ApprovedBy)
	assert.Equal(t, "1600.00", approved.Invoice.Amount)
	assert.Equal(t, "Contrato CT-1001 - Março/2025", approved.Invoice.Description)
	assert.Equal(t, "2025-05-02", approved.Invoice.DueDate)
	assert.Equal(t, "pendente", approved.Invoice.Status)
	assert.Equal(t, 3, approved.InvoicedOrders)

	rec = s.do(http.MethodGet, "/api/periods/per-ct-padaria-2025-03", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[PeriodDetailResponse](t, rec)
	require.Len(t, detail.Invoices, 1)
	require.NotNil(t, detail.Period.InvoiceID)
	assert.Equal(t, detail.Invoices[0].ID, *detail.Period.InvoiceID)
	assert.Len(t, detail.Tiers, 1)
}

func TestApprove_OutOfOrder(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("contract-excess")

	// approve before close
	rec := s.do(http.MethodPost, "/api/periods/per-ct-padaria-2025-03/approve", "mgr-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, marchPeriod+"/close", "mgr-1", nil).Code)

	// close twice
	rec = s.do(http.MethodPost, marchPeriod+"/close", "mgr-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/periods/per-ct-padaria-2025-03/approve", "mgr-1", nil).Code)

	// approve twice
	rec = s.do(http.MethodPost, "/api/periods/per-ct-padaria-2025-03/approve", "mgr-2", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/api/invoices?period_id=per-ct-padaria-2025-03", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]InvoiceDTO](t, rec), 1)
}

func TestMutatingRoutes_RequireActor(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("contract-excess")

	for _, path := range []string{
		marchPeriod + "/close",
		"/api/periods/per-ct-padaria-2025-03/approve",
		"/api/tickets/tk-1/comments",
		"/api/admin/rollover",
	} {
		rec := s.do(http.MethodPost, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, "Missing X-User-ID header", decode[ErrorResponse](t, rec).Error)
	}

	p, err := s.store.GetPeriod(context.Background(), "per-ct-padaria-2025-03")
	require.NoError(t, err)
	assert.Equal(t, core.PeriodActive, p.Status)
}

func TestClosePeriod_WrongContract(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("contract-excess")

	rec := s.do(http.MethodPost, "/api/contracts/ct-other/periods/per-ct-padaria-2025-03/close", "mgr-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMultiTier_Close(t *testing.T) {
	// GIVEN: 10h remote, 5h on-site, 1.5h untiered against 10h included
	s := newTestServer(t)
	s.loadScenario("multi-tier")

	rec := s.do(http.MethodPost, "/api/contracts/ct-clinica/periods/per-ct-clinica-2025-03/close", "mgr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decode[CloseResponse](t, rec)

	// THEN: 6.5h excess split by tier share of all 16.5h; untiered hours are not priced
	assert.Equal(t, "16.5", closed.Period.HoursUsed)
	assert.Equal(t, "6.5", closed.Period.ExcessHours)
	assert.Equal(t, "354.55", closed.Period.ExcessAmount)
	assert.Equal(t, "320.50", closed.Period.MaterialsAmount)
	assert.Equal(t, "3475.05", closed.Period.TotalAmount)
	assert.Equal(t, "1.5", closed.UntieredHours)
	assert.Equal(t, 4, closed.Period.OrderCount)

	byName := map[string]TierHoursDTO{}
	for _, row := range closed.Tiers {
		byName[row.TierName] = row
	}
	assert.Equal(t, "196.97", byName["Remoto"].ExcessAmount)
	assert.Equal(t, "157.58", byName["Presencial"].ExcessAmount)
	assert.Equal(t, "80.00", byName["Presencial"].Rate)
}

// =============================================================================
// CONTRACTS
// =============================================================================

func TestContracts_ListAndGet(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("multi-tier")

	rec := s.do(http.MethodGet, "/api/contracts?status=ativo", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]ContractDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "CT-2040", list[0].Number)
	assert.Equal(t, "2800.00", list[0].MonthlyFee)

	rec = s.do(http.MethodGet, "/api/contracts/ct-clinica", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ContractDTO](t, rec).Tiers, 2)

	rec = s.do(http.MethodGet, "/api/contracts/ct-clinica/periods", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	periods := decode[[]PeriodDTO](t, rec)
	require.Len(t, periods, 1)
	assert.Equal(t, "2025-03", periods[0].Month)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/contracts/nope", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/contracts/nope/periods", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/periods/nope", "", nil).Code)
}

// =============================================================================
// WORKLIST
// =============================================================================

func TestWorklist_StatsAndFilters(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("technician-dashboard")

	rec := s.do(http.MethodGet, "/api/technicians/tech-1/worklist", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	all := decode[WorklistResponse](t, rec)
	assert.Equal(t, "oldest", all.Sort)
	assert.Len(t, all.Items, 6)
	assert.Equal(t, 6, all.Stats.Total)
	assert.Equal(t, map[string]int{"normal": 1, "warning": 2, "critical": 3}, all.Stats.ByLevel)
	assert.Equal(t, map[string]int{"open": 3, "in_progress": 2, "waiting": 1}, all.Stats.ByStatus)

	// GIVEN a level filter, WHEN listing, THEN stats still describe the whole list
	rec = s.do(http.MethodGet, "/api/technicians/tech-1/worklist?level=critical", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	critical := decode[WorklistResponse](t, rec)
	assert.Len(t, critical.Items, 3)
	assert.Equal(t, 6, critical.Stats.Total)

	rec = s.do(http.MethodGet, "/api/technicians/tech-1/worklist?kind=service-order", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	orders := decode[WorklistResponse](t, rec)
	require.Len(t, orders.Items, 2)
	for _, it := range orders.Items {
		assert.Equal(t, "service-order", it.Kind)
	}

	rec = s.do(http.MethodGet, "/api/technicians/tech-1/worklist?q=escola", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[WorklistResponse](t, rec).Items, 3)
}

func TestWorklist_LinkedOrderUsesTicketClock(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("technician-dashboard")

	rec := s.do(http.MethodGet, "/api/technicians/tech-1/worklist?sort=critical", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[WorklistResponse](t, rec).Items

	byID := map[string]WorklistItemDTO{}
	for _, it := range items {
		byID[it.ID] = it
	}
	// os-dash-1 started 6h ago but belongs to tk-1, opened 30h ago
	assert.Equal(t, "critical", byID["os-dash-1"].Level)
	assert.Equal(t, 1, byID["os-dash-1"].DaysOpen)
	assert.Equal(t, "warning", byID["os-dash-2"].Level)
	// unassigned ticket with a 4h budget
	assert.Equal(t, "critical", byID["tk-4"].Level)

	for _, it := range items[:3] {
		assert.Equal(t, "critical", it.Level)
	}
	assert.Equal(t, "normal", items[5].Level)
}

func TestWorklist_BadQuery(t *testing.T) {
	s := newTestServer(t)

	for _, q := range []string{"sort=newest", "level=red", "kind=invoice"} {
		rec := s.do(http.MethodGet, "/api/technicians/tech-1/worklist?"+q, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

// =============================================================================
// COMMENTS
// =============================================================================

func TestPostComment(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("technician-dashboard")

	rec := s.do(http.MethodPost, "/api/tickets/tk-3/comments", "tech-1", CommentRequest{Message: "Toner entregue"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	got := decode[InteractionDTO](t, rec)
	assert.Equal(t, "comentario", got.Kind)
	assert.Equal(t, "tech-1", got.AuthorID)

	require.Len(t, s.notifier.sent, 1)
	assert.Equal(t, core.TicketID("tk-3"), s.notifier.sent[0].TicketID)

	rec = s.do(http.MethodGet, "/api/technicians/tech-1/worklist", "", nil)
	for _, it := range decode[WorklistResponse](t, rec).Items {
		if it.ID == "tk-3" {
			require.NotNil(t, it.LastInteractionAt)
			assert.Equal(t, testNow.Format(time.RFC3339), *it.LastInteractionAt)
		}
	}

	assert.Equal(t, http.StatusBadRequest,
		s.do(http.MethodPost, "/api/tickets/tk-3/comments", "tech-1", CommentRequest{Message: "  "}).Code)
	assert.Equal(t, http.StatusNotFound,
		s.do(http.MethodPost, "/api/tickets/tk-404/comments", "tech-1", CommentRequest{Message: "oi"}).Code)
}

// =============================================================================
// ROLLOVER
// =============================================================================

func TestTriggerRollover(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("contract-excess")

	// WHEN: the rollover runs in April
	rec := s.do(http.MethodPost, "/api/admin/rollover", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[RolloverResponse](t, rec)

	// THEN: March is closed and April opened
	assert.Equal(t, "2025-04", first.Month)
	assert.Equal(t, 1, first.Closed)
	assert.Empty(t, first.Errors)

	p, err := s.store.GetPeriod(context.Background(), "per-ct-padaria-2025-03")
	require.NoError(t, err)
	assert.Equal(t, core.PeriodClosed, p.Status)
	_, err = s.store.FindPeriod(context.Background(), "ct-padaria", testNow)
	require.NoError(t, err)

	// AND: running again changes nothing
	rec = s.do(http.MethodPost, "/api/admin/rollover", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[RolloverResponse](t, rec)
	assert.Equal(t, 1, second.Skipped)
	assert.Zero(t, second.Opened+second.Closed)

	// AND: manual sweeps show up as the scheduler's latest run
	last := s.handler.Scheduler.LastRun()
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Skipped)

	rec = s.do(http.MethodGet, "/api/admin/rollover/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[RolloverStatusResponse](t, rec)
	assert.True(t, status.Enabled)
	assert.Equal(t, "1h0m0s", status.Interval)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, 1, status.LastRun.Skipped)
	assert.Nil(t, status.NextRun, "scheduler not started")

	rec = s.do(http.MethodGet, "/api/admin/rollover/runs?limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]RolloverRunDTO](t, rec), 2)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/admin/rollover/runs?limit=x", "", nil).Code)
}

// =============================================================================
// HELPERS
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.NewNotFound("period", "p-1"), http.StatusNotFound},
		{&core.InvalidStateTransitionError{PeriodID: "p-1"}, http.StatusConflict},
		{fmt.Errorf("saving: %w", core.ErrDuplicate), http.StatusConflict},
		{&core.ValidationError{Field: "sort"}, http.StatusBadRequest},
		{fmt.Errorf("approving: %w", core.ErrUnauthenticated), http.StatusUnauthorized},
		{core.ErrRowLimitExceeded, http.StatusInternalServerError},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}
