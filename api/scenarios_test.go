/*
scenarios_test.go - Tests for the demo scenarios

PURPOSE:
	Loads each scenario into a SQLite store and checks the state it sets up:
	- Contracts, tiers and last month's period exist
	- Closing the period gives the amounts the scenario advertises
	- The technician dashboard yields one item per SLA level

These tests double as integration tests of the handlers over SQLite.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/servicedesk/core"
	"github.com/warp/servicedesk/store/sqlite"
)

func setupSQLiteServer(t *testing.T) *testServer {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	n := &recordingNotifier{}
	h := NewHandler(st, n, core.FixedClock{At: testNow}, zerolog.Nop())
	return &testServer{
		t:        t,
		handler:  h,
		router:   NewRouter(h, RouterOptions{Log: zerolog.Nop()}),
		notifier: n,
	}
}

func TestScenarios_List(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/scenarios", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]ScenarioDTO](t, rec)
	require.Len(t, list, len(scenarioLoaders))
	for _, sc := range list {
		_, ok := scenarioLoaders[sc.ID]
		assert.True(t, ok, sc.ID)
	}
}

func TestScenarios_LoadTracksCurrent(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/scenarios/current", "", nil)
	assert.Equal(t, "null\n", rec.Body.String())

	s.loadScenario("multi-tier")
	rec = s.do(http.MethodGet, "/api/scenarios/current", "", nil)
	assert.Equal(t, "multi-tier", decode[ScenarioDTO](t, rec).ID)

	rec = s.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/scenarios/reset", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, "/api/contracts", "", nil)
	assert.Empty(t, decode[[]ContractDTO](t, rec))
}

func TestScenarios_ReloadReplacesData(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("contract-excess")
	s.loadScenario("multi-tier")

	rec := s.do(http.MethodGet, "/api/contracts", "", nil)
	list := decode[[]ContractDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "ct-clinica", list[0].ID)
}

// =============================================================================
// OVER SQLITE
// =============================================================================

func TestScenarioContractExcess_SQLite(t *testing.T) {
	// GIVEN
	s := setupSQLiteServer(t)
	s.loadScenario("contract-excess")

	// WHEN
	rec := s.do(http.MethodPost, marchPeriod+"/close", "mgr-1", nil)

	// THEN
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decode[CloseResponse](t, rec)
	assert.Equal(t, "100.00", closed.Period.ExcessAmount)
	assert.Equal(t, "1600.00", closed.Period.TotalAmount)

	rec = s.do(http.MethodPost, "/api/periods/per-ct-padaria-2025-03/approve", "mgr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, decode[ApproveResponse](t, rec).InvoicedOrders)

	orders, err := s.handler.Store.ListServiceOrders(context.Background(), core.OrderFilter{ClientID: "cl-padaria"})
	require.NoError(t, err)
	for _, o := range orders {
		assert.Equal(t, core.OrderInvoiced, o.Status, o.ID)
	}
}

func TestScenarioMultiTier_SQLite(t *testing.T) {
	s := setupSQLiteServer(t)
	s.loadScenario("multi-tier")

	rec := s.do(http.MethodPost, "/api/contracts/ct-clinica/periods/per-ct-clinica-2025-03/close", "mgr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decode[CloseResponse](t, rec)
	assert.Equal(t, "354.55", closed.Period.ExcessAmount)
	assert.Equal(t, "3475.05", closed.Period.TotalAmount)

	rec = s.do(http.MethodGet, "/api/periods/per-ct-clinica-2025-03", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[PeriodDetailResponse](t, rec).Tiers, 2)
}

func TestScenarioTechnicianDashboard_SQLite(t *testing.T) {
	s := setupSQLiteServer(t)
	s.loadScenario("technician-dashboard")

	rec := s.do(http.MethodGet, "/api/technicians/tech-1/worklist", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	wl := decode[WorklistResponse](t, rec)
	assert.Equal(t, 6, wl.Stats.Total)
	assert.Equal(t, 3, wl.Stats.ByLevel["critical"])
	assert.Equal(t, 2, wl.Stats.ByLevel["warning"])
	assert.Equal(t, 1, wl.Stats.ByLevel["normal"])

	for _, it := range wl.Items {
		assert.NotEqual(t, "tk-5", it.ID, "closed tickets are not on the worklist")
		assert.NotEmpty(t, it.ClientName, it.ID)
	}
}

func TestScenarioRollover_SQLite(t *testing.T) {
	s := setupSQLiteServer(t)
	s.loadScenario("contract-excess")

	rec := s.do(http.MethodPost, "/api/admin/rollover", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[RolloverResponse](t, rec).Closed)

	rec = s.do(http.MethodGet, "/api/contracts/ct-padaria/periods", "", nil)
	periods := decode[[]PeriodDTO](t, rec)
	require.Len(t, periods, 2)
	assert.Equal(t, "2025-04", periods[0].Month)
	assert.Equal(t, "ativo", periods[0].Status)
	assert.Equal(t, "fechado", periods[1].Status)
}
