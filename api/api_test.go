package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccmanuelf/kpi-operations-sub013/auth"
	"github.com/ccmanuelf/kpi-operations-sub013/config"
	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/ingest"
	"github.com/ccmanuelf/kpi-operations-sub013/kpi"
	"github.com/ccmanuelf/kpi-operations-sub013/service"
	"github.com/ccmanuelf/kpi-operations-sub013/workflow"
)

func testServer(t *testing.T) (*Server, *auth.TokenService) {
	t.Helper()
	hash, err := auth.HashPassword("front-door-99")
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	store.Seed(func(add func(row any)) {
		add(&domain.Client{ClientID: "acme", DisplayName: "Acme", Active: true})
		add(&domain.Client{ClientID: "brightline", DisplayName: "Brightline", Active: true})
		add(&domain.User{
			UserID: "U1", Username: "lead", PasswordHash: hash,
			Role: domain.RoleLeader, Active: true,
			AssignedClientIDs: []string{"acme"},
		})
		add(&domain.Product{ProductID: "P1", ClientID: "acme", Code: "SHIRT-01", Active: true})
		add(&domain.WorkOrder{
			WorkOrderID: "WO-1", ClientID: "acme", StyleCode: "SHIRT-01",
			PlannedQty: 50, Status: domain.StatusReceived, Version: 1,
		})
	})

	tokens := auth.NewTokenService("api-test-secret", time.Hour)
	svc := service.New(service.Deps{
		Store:          store,
		Auth:           auth.NewService(store, tokens),
		Workflow:       workflow.NewEngine(),
		KPI:            kpi.NewEngine(store, nil, nil, nil, nil),
		Pipeline:       ingest.NewPipeline(store, false),
		AuthRatePerMin: 100,
	})
	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, svc, tokens, nil)
	return srv, tokens
}

func do(t *testing.T, srv *Server, method, path, token, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func loginToken(t *testing.T, srv *Server) string {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/v1/login", "", "application/json",
		`{"username":"lead","password":"front-door-99"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res auth.LoginResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotEmpty(t, res.Token)
	return res.Token
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	rec := do(t, srv, http.MethodGet, "/healthz", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginAndReject(t *testing.T) {
	srv, _ := testServer(t)
	loginToken(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/v1/login", "", "application/json",
		`{"username":"lead","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var p service.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "ERR_UNAUTHENTICATED", p.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	srv, _ := testServer(t)
	rec := do(t, srv, http.MethodGet, "/api/v1/kpi/efficiency", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQueryKPIScopedByTenant(t *testing.T) {
	srv, _ := testServer(t)
	token := loginToken(t, srv)

	rec := do(t, srv, http.MethodGet, "/api/v1/kpi/efficiency?client_id=acme", token, "", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/v1/kpi/efficiency?client_id=brightline", token, "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	var p service.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "ERR_FORBIDDEN", p.Code)
}

func TestTransitionEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	token := loginToken(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/v1/workorders/transition?client_id=acme", token,
		"application/json", `{"work_order_id":"WO-1","to":"DISPATCHED"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var wo domain.WorkOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wo))
	assert.Equal(t, domain.StatusDispatched, wo.Status)

	// DISPATCHED -> SHIPPED is not an edge of the default graph.
	rec = do(t, srv, http.MethodPost, "/api/v1/workorders/transition?client_id=acme", token,
		"application/json", `{"work_order_id":"WO-1","to":"SHIPPED"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var p service.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "ERR_INVALID_TRANSITION", p.Code)
	assert.Equal(t, "DISPATCHED", p.Details["from"])
}

func TestIngestDryRunReportsSummary(t *testing.T) {
	srv, _ := testServer(t)
	token := loginToken(t, srv)

	csv := strings.Join([]string{
		"product_id,production_date,units_produced,run_time_hours",
		"P1,2026-08-01,120,8",
		"P1,2026-08-02,90,30",
	}, "\n")
	rec := do(t, srv, http.MethodPost, "/api/v1/ingest/production?client_id=acme&dry_run=true", token,
		"text/csv", csv)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Summary ingest.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Summary.Total)
	assert.Equal(t, 1, res.Summary.Valid)
	assert.Equal(t, 1, res.Summary.Invalid)
}

func TestUnknownWorkOrderMapsTo404(t *testing.T) {
	srv, _ := testServer(t)
	token := loginToken(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/v1/workorders/transition?client_id=acme", token,
		"application/json", `{"work_order_id":"WO-404","to":"DISPATCHED"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
