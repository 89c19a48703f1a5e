/*
handlers.go - HTTP API handlers for the municipal tax engine

PURPOSE:
  Exposes the TIB/TTNB calculators and the penalty engine via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  domain packages.

ENDPOINTS:
  Estimates:
    POST   /api/estimate                 Public, non-persisting estimate

  Tax records:
    POST   /api/taxes/tib                Assess a property for a tax year
    POST   /api/taxes/ttnb               Assess a plot of land for a tax year
    GET    /api/taxes                    List records (penalties recomputed)
    GET    /api/taxes/{id}               Get a record (penalty recomputed)
    POST   /api/taxes/{id}/pay           Mark paid, freezing the penalty

  Penalties:
    GET    /api/penalties/preview        Penalty for a principal and date
    POST   /api/penalties/refresh        Bulk reconciliation of unpaid records
    GET    /api/penalties/runs           Refresh history

  Configuration:
    GET    /api/tariffs                  Loaded tariff table

  Demo scenarios (scenarios.go):
    GET    /api/scenarios                List scenarios
    GET    /api/scenarios/current        Currently loaded scenario
    POST   /api/scenarios/load           Reset and load a scenario

RECOMPUTE ON READ:
  Reads of unpaid records run the PenaltyReconciler first. The penalty is
  recomputed from the tax amount and today's date, and written back only if
  it changed. Paid records are returned as stored.

ERROR HANDLING:
  - 400: Invalid input; calculation errors are returned as-is
         ({"error": code, "message": ..., "valid_zones": [...]})
  - 404: Record not found
  - 409: Duplicate (asset, year) or record already paid
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scheduler.go: Background penalty refresh
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/warp/fiscal-engine/factory"
	"github.com/warp/fiscal-engine/fiscal"
	"github.com/warp/fiscal-engine/store/sqlite"
	"github.com/warp/fiscal-engine/tib"
	"github.com/warp/fiscal-engine/ttnb"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         *sqlite.Store
	Tariffs       *fiscal.TariffTable
	TariffFactory *factory.TariffFactory

	TIB        *tib.Calculator
	TTNB       *ttnb.Calculator
	Penalties  *fiscal.PenaltyCalculator
	Reconciler *fiscal.PenaltyReconciler

	Logger *zap.Logger

	// Now is the clock for penalty reads. Defaults to time.Now in UTC.
	Now func() time.Time

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler wires the calculators and reconciler around one tariff table.
func NewHandler(store *sqlite.Store, tariffs *fiscal.TariffTable, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	penalties := fiscal.NewPenaltyCalculator(tariffs.Rounding())
	return &Handler{
		Store:         store,
		Tariffs:       tariffs,
		TariffFactory: factory.NewTariffFactory(),
		TIB:           tib.NewCalculator(tariffs),
		TTNB:          ttnb.NewCalculator(tariffs),
		Penalties:     penalties,
		Reconciler:    fiscal.NewPenaltyReconciler(store, penalties),
		Logger:        logger,
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now()
}

func (h *Handler) scenario() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.currentScenario
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}

// =============================================================================
// ESTIMATE ENDPOINT
// =============================================================================

// Estimate computes a tax without persisting anything.
func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	section, err := fiscal.ParseSection(req.TaxType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "tax_type must be tib or ttnb", err)
		return
	}

	dto, _, err := h.assess(r.Context(), section, req.AssetInput)
	if err != nil {
		h.writeCalculationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, EstimateResponse{
		Estimate:   dto,
		Disclaimer: estimateDisclaimer,
	})
}

// assess runs the calculator of a section inside a span.
func (h *Handler) assess(ctx context.Context, section fiscal.Section, in AssetInput) (AssessmentDTO, fiscal.Assessment, error) {
	_, span := tracer.Start(ctx, strings.ToLower(string(section))+".calculate")
	defer span.End()

	var (
		dto        AssessmentDTO
		assessment fiscal.Assessment
		err        error
	)
	switch section {
	case fiscal.SectionTIB:
		var res *tib.Result
		if res, err = h.TIB.CalculateAt(in.toProperty(), h.now()); err == nil {
			dto, assessment = toTIBDTO(res), res.Assessment
		}
	case fiscal.SectionTTNB:
		var res *ttnb.Result
		if res, err = h.TTNB.CalculateAt(in.toLand(), h.now()); err == nil {
			dto, assessment = toTTNBDTO(res), res.Assessment
		}
	default:
		err = fmt.Errorf("unknown tax section %q", section)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto, assessment, err
	}
	span.SetAttributes(
		attribute.String("tax.type", dto.TaxType),
		attribute.String("tax.amount", dto.TaxAmount.String()),
		attribute.Bool("tax.exempt", dto.Exempt),
	)
	return dto, assessment, nil
}

// =============================================================================
// TAX RECORD ENDPOINTS
// =============================================================================

// AssessTIB creates the TIB record of a property for a tax year.
func (h *Handler) AssessTIB(w http.ResponseWriter, r *http.Request) {
	h.createRecord(w, r, fiscal.SectionTIB)
}

// AssessTTNB creates the TTNB record of a plot for a tax year.
func (h *Handler) AssessTTNB(w http.ResponseWriter, r *http.Request) {
	h.createRecord(w, r, fiscal.SectionTTNB)
}

func (h *Handler) createRecord(w http.ResponseWriter, r *http.Request, section fiscal.Section) {
	ctx := r.Context()

	var req AssessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.AssetID == "" {
		writeError(w, http.StatusBadRequest, "asset_id is required", nil)
		return
	}
	if req.TaxYear <= 0 {
		writeError(w, http.StatusBadRequest, "tax_year is required", nil)
		return
	}

	_, assessment, err := h.assess(ctx, section, req.AssetInput)
	if err != nil {
		h.writeCalculationError(w, err)
		return
	}

	now := h.now()
	rec := fiscal.NewTaxRecord(fiscal.RecordID(uuid.New().String()), req.AssetID, req.TaxYear,
		assessment, h.Tariffs.Rounding(), now)

	if err := h.Store.Create(ctx, rec); err != nil {
		if errors.Is(err, fiscal.ErrDuplicateRecord) {
			writeError(w, http.StatusConflict, "tax record already exists", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to save tax record", err)
		return
	}

	// A record created for a past year may already carry a penalty.
	refreshed, _, err := h.Reconciler.Reconcile(ctx, rec.ID, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute penalty", err)
		return
	}

	h.Logger.Info("tax record created",
		zap.String("id", string(rec.ID)),
		zap.String("asset_id", rec.AssetID),
		zap.String("tax_type", string(section)),
		zap.Int("tax_year", rec.TaxYear),
		zap.String("tax_amount", rec.TaxAmount.String()),
	)
	writeJSON(w, http.StatusCreated, toTaxRecordDTO(*refreshed, now))
}

// ListTaxes lists records, refreshing penalties of unpaid ones.
func (h *Handler) ListTaxes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var filter fiscal.RecordFilter
	if v := q.Get("tax_type"); v != "" {
		section, err := fiscal.ParseSection(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tax_type", err)
			return
		}
		filter.Section = section
	}
	if v := q.Get("tax_year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tax_year", err)
			return
		}
		filter.TaxYear = year
	}
	filter.AssetID = q.Get("asset_id")
	filter.Status = fiscal.TaxStatus(q.Get("status"))

	records, err := h.Store.List(ctx, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tax records", err)
		return
	}

	now := h.now()
	records, summary := h.Reconciler.ReconcileRecords(ctx, records, now)
	if summary.Failed > 0 {
		h.Logger.Warn("penalty refresh failed for some records",
			zap.Int("failed", summary.Failed),
			zap.Error(summary.Err()),
		)
	}

	writeJSON(w, http.StatusOK, toTaxRecordDTOs(records, now))
}

// GetTax returns one record with its penalty current as of today.
func (h *Handler) GetTax(w http.ResponseWriter, r *http.Request) {
	id := fiscal.RecordID(chi.URLParam(r, "id"))
	now := h.now()

	rec, _, err := h.Reconciler.Reconcile(r.Context(), id, now)
	if err != nil {
		h.writeRecordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaxRecordDTO(*rec, now))
}

// PayTax records payment. The penalty is settled as of the payment date
// and no longer changes afterwards.
func (h *Handler) PayTax(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := fiscal.RecordID(chi.URLParam(r, "id"))
	now := h.now()

	rec, err := h.Store.Get(ctx, id)
	if err != nil {
		h.writeRecordError(w, err)
		return
	}
	if rec.IsPaid() {
		writeError(w, http.StatusConflict, "tax record already paid", fiscal.ErrRecordPaid)
		return
	}

	if _, _, err := h.Reconciler.Reconcile(ctx, id, now); err != nil {
		h.writeRecordError(w, err)
		return
	}
	if err := h.Store.SetStatus(ctx, id, fiscal.StatusPaid); err != nil {
		h.writeRecordError(w, err)
		return
	}

	paid, err := h.Store.Get(ctx, id)
	if err != nil {
		h.writeRecordError(w, err)
		return
	}
	h.Logger.Info("tax record paid",
		zap.String("id", string(id)),
		zap.String("penalty_amount", paid.PenaltyAmount.String()),
		zap.String("total_amount", paid.TotalAmount.String()),
	)
	writeJSON(w, http.StatusOK, toTaxRecordDTO(*paid, now))
}

// =============================================================================
// PENALTY ENDPOINTS
// =============================================================================

// PreviewPenalty computes the penalty for ?principal&tax_year&tax_type&as_of.
func (h *Handler) PreviewPenalty(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	principal, err := decimal.NewFromString(q.Get("principal"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid principal", err)
		return
	}
	if principal.IsNegative() {
		writeError(w, http.StatusBadRequest, "principal must not be negative", nil)
		return
	}
	taxYear, err := strconv.Atoi(q.Get("tax_year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tax_year", err)
		return
	}
	section := fiscal.SectionTIB
	if v := q.Get("tax_type"); v != "" {
		if section, err = fiscal.ParseSection(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid tax_type", err)
			return
		}
	}
	asOf, err := h.parseAsOf(q.Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "as_of must be YYYY-MM-DD", err)
		return
	}

	rounding := h.Tariffs.Rounding()
	principalMoney := rounding.Round(principal, section)
	penalty := h.Penalties.LatePayment(principalMoney.Decimal(), taxYear, section, asOf)

	writeJSON(w, http.StatusOK, PenaltyPreviewDTO{
		TaxType:       string(section),
		TaxYear:       taxYear,
		AsOf:          asOf.Format(dateLayout),
		Principal:     principalMoney,
		Phase:         string(fiscal.PenaltyPhase(taxYear, asOf)),
		PayableFrom:   fiscal.PayableFrom(taxYear).Format(dateLayout),
		AccrualStart:  fiscal.AccrualStart(taxYear).Format(dateLayout),
		MonthsLate:    fiscal.MonthsLate(taxYear, asOf),
		PenaltyAmount: penalty,
		TotalAmount:   principalMoney.Add(penalty),
		Schedule:      toAccrualDTOs(h.Penalties.Schedule(principalMoney.Decimal(), taxYear, asOf)),
	})
}

// RefreshPenalties reconciles every unpaid record and logs the run.
func (h *Handler) RefreshPenalties(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	asOf, err := h.parseAsOf(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "as_of must be YYYY-MM-DD", err)
		return
	}
	filter := fiscal.RecordFilter{TaxYear: req.TaxYear}
	if req.TaxType != "" {
		if filter.Section, err = fiscal.ParseSection(req.TaxType); err != nil {
			writeError(w, http.StatusBadRequest, "invalid tax_type", err)
			return
		}
	}

	run, err := h.RunPenaltyRefresh(r.Context(), "api", filter, asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "penalty refresh failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRefreshRunDTO(run))
}

// RunPenaltyRefresh is shared by the endpoint and the scheduler.
func (h *Handler) RunPenaltyRefresh(ctx context.Context, source string, filter fiscal.RecordFilter, asOf time.Time) (sqlite.RefreshRun, error) {
	run := sqlite.RefreshRun{
		ID:        uuid.New().String(),
		Source:    source,
		AsOf:      fiscal.CalendarDate(asOf),
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveRefreshRun(ctx, run); err != nil {
		return run, err
	}

	summary, err := h.Reconciler.ReconcileAll(ctx, filter, asOf)
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.Scanned = summary.Scanned
	run.Updated = summary.Updated
	run.Failed = summary.Failed

	switch {
	case err != nil:
		run.Status = "failed"
		run.Error = err.Error()
	case summary.Failed > 0:
		run.Status = "completed"
		run.Error = summary.Err().Error()
	default:
		run.Status = "completed"
	}

	if saveErr := h.Store.SaveRefreshRun(ctx, run); saveErr != nil {
		return run, saveErr
	}

	h.Logger.Info("penalty refresh finished",
		zap.String("run_id", run.ID),
		zap.String("source", source),
		zap.String("as_of", run.AsOf.Format(dateLayout)),
		zap.Int("scanned", run.Scanned),
		zap.Int("updated", run.Updated),
		zap.Int("failed", run.Failed),
	)
	return run, err
}

// ListRefreshRuns returns the refresh history, newest first.
func (h *Handler) ListRefreshRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListRefreshRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list refresh runs", err)
		return
	}
	dtos := make([]RefreshRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRefreshRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CONFIGURATION ENDPOINTS
// =============================================================================

// GetTariffs returns the loaded tariff table plus the fixed zone tariffs.
func (h *Handler) GetTariffs(w http.ResponseWriter, r *http.Request) {
	zones := make(map[string]json.Number, 4)
	for _, z := range fiscal.ValidZones() {
		t, _ := fiscal.ZoneTariff(z)
		zones[string(z)] = json.Number(t.StringFixed(3))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tariffs":            h.TariffFactory.ToDocument(h.Tariffs),
		"zone_tariffs":       zones,
		"monthly_penalty":    decimalNumber(fiscal.MonthlyPenaltyRate),
		"late_declaration":   decimalNumber(fiscal.LateDeclarationRate),
		"grace_years":        fiscal.GraceYears,
		"accrual_start_year": fiscal.AccrualStartYears,
	})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) parseAsOf(v string) (time.Time, error) {
	if v == "" {
		return fiscal.CalendarDate(h.now()), nil
	}
	return time.Parse(dateLayout, v)
}

// writeCalculationError renders calculator failures as their structured body.
func (h *Handler) writeCalculationError(w http.ResponseWriter, err error) {
	var calcErr *fiscal.CalculationError
	if errors.As(err, &calcErr) {
		writeJSON(w, http.StatusBadRequest, calcErr)
		return
	}
	h.Logger.Error("calculation failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "calculation failed", err)
}

func (h *Handler) writeRecordError(w http.ResponseWriter, err error) {
	switch {
	case fiscal.IsNotFound(err):
		writeError(w, http.StatusNotFound, "tax record not found", err)
	case fiscal.IsConflict(err):
		writeError(w, http.StatusConflict, "tax record conflict", err)
	default:
		h.Logger.Error("tax record operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
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
