/*
dto.go - Data Transfer Objects for the HTTP API

PURPOSE:
  Defines the JSON shapes exchanged with clients. Domain types carry no JSON
  tags; conversion happens here so the wire format can evolve independently.

MONEY ON THE WIRE:
  Monetary fields are fiscal.Money and marshal as JSON numbers with the
  section's fixed precision (60.000). Rates and tariffs are json.Number so
  they never pass through float64.

SEE ALSO:
  - handlers.go: Uses these DTOs
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fiscal-engine/fiscal"
	"github.com/warp/fiscal-engine/store/sqlite"
	"github.com/warp/fiscal-engine/tib"
	"github.com/warp/fiscal-engine/ttnb"
)

// =============================================================================
// REQUEST DTOs
// =============================================================================

// AssetInput describes the asset being assessed. TIB reads the covered
// surface, reference price and services; TTNB reads surface and zone.
type AssetInput struct {
	// TIB
	SurfaceCouverte      decimal.Decimal `json:"surface_couverte"`
	ReferencePricePerM2  decimal.Decimal `json:"reference_price_per_m2"`
	ServiceCount         *int            `json:"service_count,omitempty"`
	LocalityServiceCount int             `json:"locality_service_count,omitempty"`
	CommuneServiceCount  int             `json:"commune_service_count,omitempty"`
	Affectation          string          `json:"affectation,omitempty"`
	ConstructionYear     int             `json:"construction_year,omitempty"`

	// TTNB
	Surface   decimal.Decimal `json:"surface"`
	UrbanZone string          `json:"urban_zone,omitempty"`
	LandType  string          `json:"land_type,omitempty"`

	IsExempt        bool   `json:"is_exempt,omitempty"`
	ExemptionReason string `json:"exemption_reason,omitempty"`
	CommuneID       string `json:"commune_id,omitempty"`
	Delegation      string `json:"delegation,omitempty"`
}

// EstimateRequest is the public, non-persisting calculation request.
type EstimateRequest struct {
	TaxType string `json:"tax_type"` // tib, ttnb
	AssetInput
}

// AssessmentRequest creates the tax record of an asset for a tax year.
type AssessmentRequest struct {
	AssetID string `json:"asset_id"`
	TaxYear int    `json:"tax_year"`
	AssetInput
}

// RefreshRequest triggers a bulk penalty refresh.
type RefreshRequest struct {
	AsOf    string `json:"as_of,omitempty"` // YYYY-MM-DD, defaults to today
	TaxType string `json:"tax_type,omitempty"`
	TaxYear int    `json:"tax_year,omitempty"`
}

func (in AssetInput) toProperty() tib.Property {
	services := tib.ResolveServiceCount(in.LocalityServiceCount, in.CommuneServiceCount)
	if in.ServiceCount != nil {
		services = *in.ServiceCount
	}
	return tib.Property{
		SurfaceCouverte:     in.SurfaceCouverte,
		ReferencePricePerM2: in.ReferencePricePerM2,
		ServiceCount:        services,
		Affectation:         in.Affectation,
		ConstructionYear:    in.ConstructionYear,
		IsExempt:            in.IsExempt,
		ExemptionReason:     in.ExemptionReason,
		CommuneID:           in.CommuneID,
		Delegation:          in.Delegation,
	}
}

func (in AssetInput) toLand() ttnb.Land {
	return ttnb.Land{
		Surface:         in.Surface,
		UrbanZone:       in.UrbanZone,
		LandType:        in.LandType,
		IsExempt:        in.IsExempt,
		ExemptionReason: in.ExemptionReason,
		CommuneID:       in.CommuneID,
	}
}

// =============================================================================
// RESPONSE DTOs
// =============================================================================

// AssessmentDTO is the calculator output of either section.
type AssessmentDTO struct {
	TaxType         string       `json:"tax_type"`
	BaseAmount      fiscal.Money `json:"base_amount"`
	RatePercent     json.Number  `json:"rate_percent"`
	TaxAmount       fiscal.Money `json:"tax_amount"`
	TotalAmount     fiscal.Money `json:"total_amount"`
	Exempt          bool         `json:"exempt"`
	ExemptionReason string       `json:"exemption_reason,omitempty"`
	ExemptionRule   string       `json:"exemption_rule,omitempty"`

	// TIB
	Category      int  `json:"category,omitempty"`
	ServicesCount *int `json:"services_count,omitempty"`

	// TTNB
	Zone        string      `json:"zone,omitempty"`
	TariffPerM2 json.Number `json:"tariff_per_m2,omitempty"`
	SurfaceM2   json.Number `json:"surface_m2,omitempty"`
}

// EstimateResponse wraps an estimate with the standard disclaimer.
type EstimateResponse struct {
	Estimate   AssessmentDTO `json:"estimate"`
	Disclaimer string        `json:"disclaimer"`
}

const estimateDisclaimer = "This is an estimate. Actual tax may vary based on verification."

// TaxRecordDTO is a stored record, with penalty fields current as of the read.
type TaxRecordDTO struct {
	ID              string       `json:"id"`
	AssetID         string       `json:"asset_id"`
	TaxType         string       `json:"tax_type"`
	TaxYear         int          `json:"tax_year"`
	BaseAmount      fiscal.Money `json:"base_amount"`
	RatePercent     json.Number  `json:"rate_percent"`
	TaxAmount       fiscal.Money `json:"tax_amount"`
	PenaltyAmount   fiscal.Money `json:"penalty_amount"`
	TotalAmount     fiscal.Money `json:"total_amount"`
	Status          string       `json:"status"`
	Phase           string       `json:"phase"`
	MonthsLate      int          `json:"months_late"`
	ExemptionReason string       `json:"exemption_reason,omitempty"`
	CreatedAt       string       `json:"created_at"`
	UpdatedAt       string       `json:"updated_at"`
}

// PenaltyPreviewDTO shows the penalty a principal would carry on a date.
type PenaltyPreviewDTO struct {
	TaxType       string       `json:"tax_type"`
	TaxYear       int          `json:"tax_year"`
	AsOf          string       `json:"as_of"`
	Principal     fiscal.Money `json:"principal"`
	Phase         string       `json:"phase"`
	PayableFrom   string       `json:"payable_from"`
	AccrualStart  string       `json:"accrual_start"`
	MonthsLate    int          `json:"months_late"`
	PenaltyAmount fiscal.Money `json:"penalty_amount"`
	TotalAmount   fiscal.Money `json:"total_amount"`
	Schedule      []AccrualDTO `json:"schedule"`
}

type AccrualDTO struct {
	Date   string      `json:"date"`
	Month  int         `json:"month"`
	Amount json.Number `json:"amount"`
}

// RefreshRunDTO is one bulk penalty refresh.
type RefreshRunDTO struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	AsOf        string `json:"as_of"`
	Status      string `json:"status"`
	Scanned     int    `json:"scanned"`
	Updated     int    `json:"updated"`
	Failed      int    `json:"failed"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

const dateLayout = "2006-01-02"

func decimalNumber(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func toAssessmentDTO(a fiscal.Assessment) AssessmentDTO {
	return AssessmentDTO{
		TaxType:         string(a.Section),
		BaseAmount:      a.BaseAmount,
		RatePercent:     decimalNumber(a.RatePercent),
		TaxAmount:       a.TaxAmount,
		TotalAmount:     a.TotalAmount,
		Exempt:          a.Exempt,
		ExemptionReason: a.ExemptionReason,
		ExemptionRule:   a.ExemptionRule,
	}
}

func toTIBDTO(res *tib.Result) AssessmentDTO {
	dto := toAssessmentDTO(res.Assessment)
	dto.Category = res.Category
	services := res.ServicesCount
	dto.ServicesCount = &services
	return dto
}

func toTTNBDTO(res *ttnb.Result) AssessmentDTO {
	dto := toAssessmentDTO(res.Assessment)
	dto.Zone = string(res.Zone)
	if !res.TariffPerM2.IsZero() {
		dto.TariffPerM2 = json.Number(res.TariffPerM2.StringFixed(3))
	}
	if !res.SurfaceM2.IsZero() {
		dto.SurfaceM2 = decimalNumber(res.SurfaceM2)
	}
	return dto
}

func toTaxRecordDTO(rec fiscal.TaxRecord, asOf time.Time) TaxRecordDTO {
	return TaxRecordDTO{
		ID:              string(rec.ID),
		AssetID:         rec.AssetID,
		TaxType:         string(rec.Section),
		TaxYear:         rec.TaxYear,
		BaseAmount:      rec.BaseAmount,
		RatePercent:     decimalNumber(rec.RatePercent),
		TaxAmount:       rec.TaxAmount,
		PenaltyAmount:   rec.PenaltyAmount,
		TotalAmount:     rec.TotalAmount,
		Status:          string(rec.Status),
		Phase:           string(fiscal.PenaltyPhase(rec.TaxYear, asOf)),
		MonthsLate:      fiscal.MonthsLate(rec.TaxYear, asOf),
		ExemptionReason: rec.ExemptionReason,
		CreatedAt:       rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       rec.UpdatedAt.Format(time.RFC3339),
	}
}

func toTaxRecordDTOs(recs []fiscal.TaxRecord, asOf time.Time) []TaxRecordDTO {
	dtos := make([]TaxRecordDTO, 0, len(recs))
	for _, rec := range recs {
		dtos = append(dtos, toTaxRecordDTO(rec, asOf))
	}
	return dtos
}

func toAccrualDTOs(events []fiscal.AccrualEvent) []AccrualDTO {
	dtos := make([]AccrualDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, AccrualDTO{
			Date:   e.At.Format(dateLayout),
			Month:  e.Month,
			Amount: decimalNumber(e.Amount),
		})
	}
	return dtos
}

func toRefreshRunDTO(r sqlite.RefreshRun) RefreshRunDTO {
	dto := RefreshRunDTO{
		ID:        r.ID,
		Source:    r.Source,
		AsOf:      r.AsOf.Format(dateLayout),
		Status:    r.Status,
		Scanned:   r.Scanned,
		Updated:   r.Updated,
		Failed:    r.Failed,
		Error:     r.Error,
		StartedAt: r.StartedAt.Format(time.RFC3339),
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = r.CompletedAt.Format(time.RFC3339)
	}
	return dto
}
