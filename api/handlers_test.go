/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Estimates (success and structured calculation errors)
- Tax record creation, recompute on read, payment freezing the penalty
- Penalty preview, bulk refresh and refresh history
- Tariffs, health and middleware headers
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/fiscal-engine/fiscal"
	"github.com/warp/fiscal-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	h      *Handler
	router *chi.Mux
	clock  time.Time
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ts := &testServer{clock: time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC)}
	ts.h = NewHandler(store, fiscal.DefaultTariffTable(), zap.NewNop())
	ts.h.Now = func() time.Time { return ts.clock }
	ts.router = NewRouter(ts.h, RouterOptions{})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// createTIB assesses a 100 m² property at 250 TND/m² with 3 services: tax 50.000.
func (ts *testServer) createTIB(t *testing.T, assetID string, taxYear int) TaxRecordDTO {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/taxes/tib", map[string]any{
		"asset_id":               assetID,
		"tax_year":               taxYear,
		"surface_couverte":       100,
		"reference_price_per_m2": 250,
		"service_count":          3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[TaxRecordDTO](t, rec)
}

// =============================================================================
// ESTIMATES
// =============================================================================

func TestEstimate_TIB(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/estimate", map[string]any{
		"tax_type":               "tib",
		"surface_couverte":       150,
		"reference_price_per_m2": 200,
		"service_count":          3,
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"tax_amount":60.000`)

	resp := decode[EstimateResponse](t, rec)
	assert.Equal(t, "TIB", resp.Estimate.TaxType)
	assert.Equal(t, "600.000", resp.Estimate.BaseAmount.String())
	assert.Equal(t, "60.000", resp.Estimate.TotalAmount.String())
	assert.Equal(t, json.Number("10"), resp.Estimate.RatePercent)
	assert.Equal(t, 2, resp.Estimate.Category)
	require.NotNil(t, resp.Estimate.ServicesCount)
	assert.Equal(t, 3, *resp.Estimate.ServicesCount)
	assert.Equal(t, estimateDisclaimer, resp.Disclaimer)
}

func TestEstimate_TIBCommuneServiceFallback(t *testing.T) {
	ts := setupTestServer(t)

	// GIVEN: no service count and a locality without services
	rec := ts.do(t, http.MethodPost, "/api/estimate", map[string]any{
		"tax_type":               "TIB",
		"surface_couverte":       150,
		"reference_price_per_m2": 200,
		"commune_service_count":  5,
	})

	// THEN: the commune-wide count applies (12%)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[EstimateResponse](t, rec)
	assert.Equal(t, json.Number("12"), resp.Estimate.RatePercent)
	assert.Equal(t, "72.000", resp.Estimate.TaxAmount.String())
}

func TestEstimate_TTNB(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/estimate", map[string]any{
		"tax_type":   "ttnb",
		"surface":    5000,
		"urban_zone": "faible_densite",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[EstimateResponse](t, rec)
	assert.Equal(t, "2000.000", resp.Estimate.TaxAmount.String())
	assert.Equal(t, "faible_densite", resp.Estimate.Zone)
	assert.Equal(t, json.Number("0.400"), resp.Estimate.TariffPerM2)
	assert.Equal(t, json.Number("0"), resp.Estimate.RatePercent)
}

func TestEstimate_CalculationErrors(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name string
		body map[string]any
		code string
	}{
		{
			name: "invalid zone",
			body: map[string]any{"tax_type": "ttnb", "surface": 500, "urban_zone": "unknown_zone"},
			code: fiscal.CodeInvalidZone,
		},
		{
			name: "missing zone",
			body: map[string]any{"tax_type": "ttnb", "surface": 500},
			code: fiscal.CodeMissingConfiguration,
		},
		{
			name: "missing reference price",
			body: map[string]any{"tax_type": "tib", "surface_couverte": 90, "service_count": 1},
			code: fiscal.CodeMissingConfiguration,
		},
		{
			name: "zero surface",
			body: map[string]any{"tax_type": "tib", "reference_price_per_m2": 150},
			code: fiscal.CodeInvalidSurface,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/estimate", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			body := decode[fiscal.CalculationError](t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}

	rec := ts.do(t, http.MethodPost, "/api/estimate", map[string]any{
		"tax_type": "ttnb", "surface": 500, "urban_zone": "unknown_zone",
	})
	assert.JSONEq(t, `{
		"error": "invalid_zone",
		"message": "Invalid urban zone: unknown_zone",
		"valid_zones": ["haute_densite", "densite_moyenne", "faible_densite", "peripherique"]
	}`, rec.Body.String())
}

func TestEstimate_BadRequests(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/estimate", map[string]any{"tax_type": "vat"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/estimate", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// TAX RECORDS
// =============================================================================

func TestAssess_PastYearCarriesPenalty(t *testing.T) {
	ts := setupTestServer(t)

	// GIVEN: tax year 2023 assessed on 2025-06-15
	dto := ts.createTIB(t, "prop-1", 2023)

	// THEN: 5 months late, 50 × 1.25% × 5 = 3.125
	assert.Equal(t, "50.000", dto.TaxAmount.String())
	assert.Equal(t, "3.125", dto.PenaltyAmount.String())
	assert.Equal(t, "53.125", dto.TotalAmount.String())
	assert.Equal(t, string(fiscal.StatusCalculated), dto.Status)
	assert.Equal(t, string(fiscal.PhaseAccruing), dto.Phase)
	assert.Equal(t, 5, dto.MonthsLate)
	assert.NotEmpty(t, dto.ID)
}

func TestAssess_DuplicateYearConflicts(t *testing.T) {
	ts := setupTestServer(t)
	ts.createTIB(t, "prop-1", 2024)

	rec := ts.do(t, http.MethodPost, "/api/taxes/tib", map[string]any{
		"asset_id": "prop-1", "tax_year": 2024, "surface_couverte": 100, "reference_price_per_m2": 250,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Same asset, other year: fine.
	ts.createTIB(t, "prop-1", 2025)
}

func TestAssess_Validation(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/taxes/ttnb", map[string]any{"tax_year": 2024, "surface": 10, "urban_zone": "peripherique"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "asset_id required")

	rec = ts.do(t, http.MethodPost, "/api/taxes/ttnb", map[string]any{"asset_id": "land-1", "surface": 10, "urban_zone": "peripherique"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "tax_year required")

	rec = ts.do(t, http.MethodPost, "/api/taxes/ttnb", map[string]any{"asset_id": "land-1", "tax_year": 2024, "surface": 10, "urban_zone": "centre"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, fiscal.CodeInvalidZone, decode[fiscal.CalculationError](t, rec).Code)
}

func TestGetTax_RecomputesOnRead(t *testing.T) {
	ts := setupTestServer(t)
	created := ts.createTIB(t, "prop-1", 2023)

	// WHEN: read three months later
	ts.clock = time.Date(2025, time.September, 15, 8, 0, 0, 0, time.UTC)
	rec := ts.do(t, http.MethodGet, "/api/taxes/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// THEN: 8 months, 50 × 1.25% × 8 = 5.000, and it is persisted
	dto := decode[TaxRecordDTO](t, rec)
	assert.Equal(t, "5.000", dto.PenaltyAmount.String())
	assert.Equal(t, "55.000", dto.TotalAmount.String())
	assert.Equal(t, 8, dto.MonthsLate)

	stored, err := ts.h.Store.Get(context.Background(), fiscal.RecordID(created.ID))
	require.NoError(t, err)
	assert.Equal(t, "55.000", stored.TotalAmount.String())
}

func TestGetTax_NotFound(t *testing.T) {
	ts := setupTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/taxes/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPayTax_FreezesPenalty(t *testing.T) {
	ts := setupTestServer(t)
	created := ts.createTIB(t, "prop-1", 2023)

	// GIVEN: paid on 2025-09-15 (8 months late)
	ts.clock = time.Date(2025, time.September, 15, 0, 0, 0, 0, time.UTC)
	rec := ts.do(t, http.MethodPost, "/api/taxes/"+created.ID+"/pay", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decode[TaxRecordDTO](t, rec)
	assert.Equal(t, string(fiscal.StatusPaid), paid.Status)
	assert.Equal(t, "5.000", paid.PenaltyAmount.String())

	// WHEN: read a year later
	ts.clock = time.Date(2026, time.September, 15, 0, 0, 0, 0, time.UTC)
	rec = ts.do(t, http.MethodGet, "/api/taxes/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// THEN: the penalty did not move
	dto := decode[TaxRecordDTO](t, rec)
	assert.Equal(t, "5.000", dto.PenaltyAmount.String())
	assert.Equal(t, "55.000", dto.TotalAmount.String())

	// AND: paying twice conflicts
	rec = ts.do(t, http.MethodPost, "/api/taxes/"+created.ID+"/pay", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListTaxes_FiltersAndRefreshes(t *testing.T) {
	ts := setupTestServer(t)
	ts.createTIB(t, "prop-1", 2024)
	rec := ts.do(t, http.MethodPost, "/api/taxes/ttnb", map[string]any{
		"asset_id": "land-1", "tax_year": 2022, "surface": 5000, "urban_zone": "faible_densite",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/taxes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TaxRecordDTO](t, rec), 2)

	// 2000 × 1.25% × 17 months = 425.000
	rec = ts.do(t, http.MethodGet, "/api/taxes?tax_type=ttnb", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]TaxRecordDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "land-1", list[0].AssetID)
	assert.Equal(t, "425.000", list[0].PenaltyAmount.String())
	assert.Equal(t, "2425.000", list[0].TotalAmount.String())

	rec = ts.do(t, http.MethodGet, "/api/taxes?tax_year=2024&asset_id=prop-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[[]TaxRecordDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, string(fiscal.PhaseGrace), list[0].Phase)
	assert.Equal(t, "0.000", list[0].PenaltyAmount.String())

	rec = ts.do(t, http.MethodGet, "/api/taxes?tax_year=last", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PENALTIES
// =============================================================================

func TestPreviewPenalty(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/penalties/preview?principal=100&tax_year=2023&as_of=2025-06-15", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	dto := decode[PenaltyPreviewDTO](t, rec)
	assert.Equal(t, "TIB", dto.TaxType)
	assert.Equal(t, "100.000", dto.Principal.String())
	assert.Equal(t, "6.250", dto.PenaltyAmount.String())
	assert.Equal(t, "106.250", dto.TotalAmount.String())
	assert.Equal(t, 5, dto.MonthsLate)
	assert.Equal(t, string(fiscal.PhaseAccruing), dto.Phase)
	assert.Equal(t, "2024-01-01", dto.PayableFrom)
	assert.Equal(t, "2025-01-01", dto.AccrualStart)
	require.Len(t, dto.Schedule, 5)
	assert.Equal(t, "2025-02-01", dto.Schedule[0].Date)
	assert.Equal(t, json.Number("1.25"), dto.Schedule[0].Amount)
}

func TestPreviewPenalty_DefaultsToToday(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/penalties/preview?principal=100&tax_year=2024&tax_type=ttnb", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	dto := decode[PenaltyPreviewDTO](t, rec)
	assert.Equal(t, "2025-06-15", dto.AsOf)
	assert.Equal(t, "TTNB", dto.TaxType)
	assert.Equal(t, string(fiscal.PhaseGrace), dto.Phase)
	assert.Equal(t, "0.000", dto.PenaltyAmount.String())
	assert.Empty(t, dto.Schedule)
}

func TestPreviewPenalty_BadInput(t *testing.T) {
	ts := setupTestServer(t)
	for _, q := range []string{
		"principal=abc&tax_year=2023",
		"principal=-5&tax_year=2023",
		"principal=100&tax_year=x",
		"principal=100&tax_year=2023&as_of=15/06/2025",
		"principal=100&tax_year=2023&tax_type=vat",
	} {
		rec := ts.do(t, http.MethodGet, "/api/penalties/preview?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestRefreshPenalties_RecordsRun(t *testing.T) {
	ts := setupTestServer(t)
	a := ts.createTIB(t, "prop-1", 2022)
	ts.createTIB(t, "prop-2", 2023)
	ts.createTIB(t, "prop-3", 2024)

	// GIVEN: nobody reads the records for six months
	ts.clock = time.Date(2025, time.December, 15, 0, 0, 0, 0, time.UTC)

	// WHEN: a bulk refresh runs
	rec := ts.do(t, http.MethodPost, "/api/penalties/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: the two accruing records are updated, the grace one is not
	run := decode[RefreshRunDTO](t, rec)
	assert.Equal(t, "api", run.Source)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, "2025-12-15", run.AsOf)
	assert.Equal(t, 3, run.Scanned)
	assert.Equal(t, 2, run.Updated)
	assert.Equal(t, 0, run.Failed)
	assert.NotEmpty(t, run.CompletedAt)

	// 50 × 1.25% × 23 months = 14.375
	stored, err := ts.h.Store.Get(context.Background(), fiscal.RecordID(a.ID))
	require.NoError(t, err)
	assert.Equal(t, "14.375", stored.PenaltyAmount.String())

	// AND: a second pass changes nothing
	rec = ts.do(t, http.MethodPost, "/api/penalties/refresh", map[string]any{"as_of": "2025-12-15"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[RefreshRunDTO](t, rec).Updated)

	rec = ts.do(t, http.MethodGet, "/api/penalties/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]RefreshRunDTO](t, rec), 2)

	rec = ts.do(t, http.MethodGet, "/api/penalties/runs?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]RefreshRunDTO](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/api/penalties/runs?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshPenalties_Filtered(t *testing.T) {
	ts := setupTestServer(t)
	ts.createTIB(t, "prop-1", 2022)
	ts.createTIB(t, "prop-2", 2023)

	rec := ts.do(t, http.MethodPost, "/api/penalties/refresh", map[string]any{
		"as_of": "2026-01-01", "tax_type": "tib", "tax_year": 2023,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[RefreshRunDTO](t, rec)
	assert.Equal(t, 1, run.Scanned)
	assert.Equal(t, 1, run.Updated)

	rec = ts.do(t, http.MethodPost, "/api/penalties/refresh", map[string]any{"as_of": "01-01-2026"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// CONFIGURATION AND MIDDLEWARE
// =============================================================================

func TestGetTariffs(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/tariffs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tariffs struct {
			TIB struct {
				ServiceRates []struct {
					MinServices int     `json:"min_services"`
					RatePercent float64 `json:"rate_percent"`
				} `json:"service_rates"`
			} `json:"TIB"`
		} `json:"tariffs"`
		ZoneTariffs     map[string]json.Number `json:"zone_tariffs"`
		MonthlyPenalty  json.Number            `json:"monthly_penalty"`
		GraceYears      int                    `json:"grace_years"`
		AccrualStartYrs int                    `json:"accrual_start_year"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Len(t, body.Tariffs.TIB.ServiceRates, 4)
	assert.Equal(t, json.Number("1.200"), body.ZoneTariffs["haute_densite"])
	assert.Equal(t, json.Number("0.200"), body.ZoneTariffs["peripherique"])
	assert.Equal(t, json.Number("0.0125"), body.MonthlyPenalty)
	assert.Equal(t, 1, body.GraceYears)
	assert.Equal(t, 2, body.AccrualStartYrs)
}

func TestHealth_SetsRequestHeaders(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.NotEmpty(t, rec.Header().Get(TraceIDHeader))
}

func TestLoggingMiddleware_OneEntryPerRequest(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := TracingMiddleware(LoggingMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/taxes", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, "/api/taxes", fields["path"])
}
