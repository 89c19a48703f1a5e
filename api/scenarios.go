/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	tax records for demos of the citizen portal and the penalty engine. Tax
	years are relative to the handler clock so every scenario shows the
	assessment, grace and accruing phases whenever it is loaded.

AVAILABLE SCENARIOS:

	built-properties:  TIB records across the four surface categories
	vacant-land:       TTNB records in each urban zone
	overdue-portfolio: Several years per asset, some paid, some accruing
	exemptions:        Exempt assets alongside taxable ones

HOW SCENARIOS WORK:
 1. Reset database (clear all records and refresh runs)
 2. Assess every seed asset for each of its tax years
 3. Mark the listed years paid, settling their penalty first
 4. Reconcile the remaining records as of today

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "overdue-portfolio"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Add its seed assets to 'scenarioSeeds'

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: assess, the calculator entry point used for seeding
  - store/sqlite/sqlite.go: Reset
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fiscal-engine/fiscal"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "built-properties",
		Name:        "Built Properties",
		Description: "TIB for four homes, one per surface category, last year",
		Category:    "tib",
	},
	{
		ID:          "vacant-land",
		Name:        "Vacant Land",
		Description: "TTNB for one plot in each urban zone, last year",
		Category:    "ttnb",
	},
	{
		ID:          "overdue-portfolio",
		Name:        "Overdue Portfolio",
		Description: "Three to five tax years per asset, older years accruing penalties, one year paid",
		Category:    "penalties",
	},
	{
		ID:          "exemptions",
		Name:        "Exemptions",
		Description: "Exempt public building and agricultural plot next to taxable assets",
		Category:    "exemptions",
	},
}

// seedAsset is one asset assessed for several years. Years are offsets from
// the current year (-1 is last year).
type seedAsset struct {
	AssetID     string
	Section     fiscal.Section
	YearOffsets []int
	PaidOffsets []int
	Input       AssetInput
}

func intRef(v int) *int { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var scenarioSeeds = map[string][]seedAsset{
	"built-properties": {
		{AssetID: "prop-medina-12", Section: fiscal.SectionTIB, YearOffsets: []int{-1}, Input: AssetInput{
			SurfaceCouverte: dec("85"), ReferencePricePerM2: dec("139"), ServiceCount: intRef(2), Affectation: "residentiel",
		}},
		{AssetID: "prop-lafayette-4", Section: fiscal.SectionTIB, YearOffsets: []int{-1}, Input: AssetInput{
			SurfaceCouverte: dec("150"), ReferencePricePerM2: dec("200"), ServiceCount: intRef(3), Affectation: "residentiel",
		}},
		{AssetID: "prop-menzah-9", Section: fiscal.SectionTIB, YearOffsets: []int{-1}, Input: AssetInput{
			SurfaceCouverte: dec("320"), ReferencePricePerM2: dec("257"), CommuneServiceCount: 5,
			Affectation: "residentiel",
		}},
		{AssetID: "prop-lac-1", Section: fiscal.SectionTIB, YearOffsets: []int{-1}, Input: AssetInput{
			SurfaceCouverte: dec("640"), ReferencePricePerM2: dec("313.5"), ServiceCount: intRef(8), Affectation: "commercial",
		}},
	},
	"vacant-land": {
		{AssetID: "land-centre-3", Section: fiscal.SectionTTNB, YearOffsets: []int{-1}, Input: AssetInput{
			Surface: dec("600"), UrbanZone: string(fiscal.ZoneHauteDensite), LandType: "urbain",
		}},
		{AssetID: "land-ariana-7", Section: fiscal.SectionTTNB, YearOffsets: []int{-1}, Input: AssetInput{
			Surface: dec("1200"), UrbanZone: string(fiscal.ZoneDensiteMoyenne), LandType: "urbain",
		}},
		{AssetID: "land-soukra-2", Section: fiscal.SectionTTNB, YearOffsets: []int{-1}, Input: AssetInput{
			Surface: dec("5000"), UrbanZone: string(fiscal.ZoneFaibleDensite), LandType: "urbain",
		}},
		{AssetID: "land-mornag-5", Section: fiscal.SectionTTNB, YearOffsets: []int{-1}, Input: AssetInput{
			Surface: dec("12000"), UrbanZone: string(fiscal.ZonePeripherique), LandType: "urbain",
		}},
	},
	"overdue-portfolio": {
		{AssetID: "prop-bardo-21", Section: fiscal.SectionTIB, YearOffsets: []int{-5, -4, -3, -2, -1}, PaidOffsets: []int{-5},
			Input: AssetInput{SurfaceCouverte: dec("180"), ReferencePricePerM2: dec("200.5"), ServiceCount: intRef(4), Affectation: "residentiel"}},
		{AssetID: "land-manouba-8", Section: fiscal.SectionTTNB, YearOffsets: []int{-3, -2, -1},
			Input: AssetInput{Surface: dec("2500"), UrbanZone: string(fiscal.ZoneDensiteMoyenne), LandType: "urbain"}},
	},
	"exemptions": {
		{AssetID: "prop-mairie", Section: fiscal.SectionTIB, YearOffsets: []int{-2, -1}, Input: AssetInput{
			SurfaceCouverte: dec("900"), Affectation: "public", IsExempt: true, ExemptionReason: "Bâtiment public",
		}},
		{AssetID: "land-oliveraie-1", Section: fiscal.SectionTTNB, YearOffsets: []int{-2, -1}, Input: AssetInput{
			Surface: dec("40000"), LandType: "agricole", IsExempt: true, ExemptionReason: "Terrain agricole exploité",
		}},
		{AssetID: "prop-ennasr-6", Section: fiscal.SectionTIB, YearOffsets: []int{-2, -1}, Input: AssetInput{
			SurfaceCouverte: dec("120"), ReferencePricePerM2: dec("190"), ServiceCount: intRef(6), Affectation: "residentiel",
		}},
	},
}

// =============================================================================
// SCENARIO ENDPOINTS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenario()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	seeds, ok := scenarioSeeds[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset database", err)
		return
	}
	h.setScenario("")

	created, err := h.loadSeeds(ctx, seeds)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load scenario: %v", err), err)
		return
	}
	h.setScenario(req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"records":  created,
	})
}

// =============================================================================
// SCENARIO LOADER
// =============================================================================

func (h *Handler) loadSeeds(ctx context.Context, seeds []seedAsset) (int, error) {
	now := h.now()
	rounding := h.Tariffs.Rounding()
	created := 0

	for _, seed := range seeds {
		paid := make(map[int]bool, len(seed.PaidOffsets))
		for _, off := range seed.PaidOffsets {
			paid[off] = true
		}

		for _, off := range seed.YearOffsets {
			taxYear := now.Year() + off
			_, assessment, err := h.assess(ctx, seed.Section, seed.Input)
			if err != nil {
				return created, fmt.Errorf("%s %d: %w", seed.AssetID, taxYear, err)
			}

			assessedAt := fiscal.StartOfMonth(taxYear, time.March)
			id := fiscal.RecordID(fmt.Sprintf("%s-%s-%d", seed.AssetID, seed.Section, taxYear))
			rec := fiscal.NewTaxRecord(id, seed.AssetID, taxYear, assessment, rounding, assessedAt)
			if err := h.Store.Create(ctx, rec); err != nil {
				return created, fmt.Errorf("%s %d: %w", seed.AssetID, taxYear, err)
			}
			created++

			if paid[off] {
				// Settled in the second half of the grace year, before accrual.
				paidAt := fiscal.StartOfMonth(taxYear+fiscal.GraceYears, time.October)
				if _, _, err := h.Reconciler.Reconcile(ctx, id, paidAt); err != nil {
					return created, err
				}
				if err := h.Store.SetStatus(ctx, id, fiscal.StatusPaid); err != nil {
					return created, err
				}
			}
		}
	}

	summary, err := h.Reconciler.ReconcileAll(ctx, fiscal.RecordFilter{}, now)
	if err != nil {
		return created, err
	}
	return created, summary.Err()
}
