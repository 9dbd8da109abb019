/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract. Money crosses
  the boundary as decimal strings ("50.00") and never as floats.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Configuration:
    ConfigDTO, ConfigUpdateRequest, ConfigUpdateResponse, PropagationDTO

  Periods:
    PeriodDTO (wraps factory.PeriodJSON), PeriodRequest, BillingMonthDTO

  Dues:
    DueDTO, GenerateRequest, ReasonRequest

  Payments:
    PaymentDTO, SnapshotDTO, SettleRequest

  Sweeps / grading:
    SweepRunDTO, PlanRequest, PlanValidationDTO

VALIDATION:
  Request shapes are checked with validator/v10 struct tags (decodeAndValidate
  in handlers.go). Domain rules (cutoff range, legal transitions) stay in the
  dues services so they hold for every caller.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/config.go: ConfigJSON, UpdateJSON, PeriodJSON
*/
package api

import (
	"time"

	"github.com/warp/dues-engine/factory"
	"github.com/warp/dues-engine/generic"
)

// =============================================================================
// SHARED
// =============================================================================

// AmountsDTO is a USD/VES pair as decimal strings.
type AmountsDTO struct {
	USD string `json:"usd"`
	VES string `json:"ves"`
}

// AmountsRequest is a USD/VES pair supplied by a client.
type AmountsRequest struct {
	USD string `json:"usd" validate:"required,numeric"`
	VES string `json:"ves" validate:"required,numeric"`
}

func (a *AmountsRequest) toDomain() (generic.Amounts, error) {
	return generic.ParseAmounts(a.USD, a.VES)
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// FieldErrorDTO names one rejected request field.
type FieldErrorDTO struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// ConfigDTO is the live payment configuration.
type ConfigDTO struct {
	factory.ConfigJSON
	Version   int64  `json:"version"`
	UpdatedAt string `json:"updated_at,omitempty"`
	UpdatedBy string `json:"updated_by,omitempty"`
}

// ConfigUpdateRequest is a partial configuration; absent fields keep their value.
type ConfigUpdateRequest struct {
	BasePriceUSD   *string `json:"base_price_usd" validate:"omitempty,numeric"`
	BasePriceVES   *string `json:"base_price_ves" validate:"omitempty,numeric"`
	PenaltyPercent *string `json:"penalty_percent" validate:"omitempty,numeric"`
	CutoffDay      *int    `json:"cutoff_day"`
	PricingPolicy  *string `json:"pricing_policy" validate:"omitempty,oneof=retroactive frozen retroactivo congelado"`
	EffectiveFrom  *string `json:"effective_from"`
	Instructions   *string `json:"instructions" validate:"omitempty,max=2000"`
}

func (r ConfigUpdateRequest) toJSON() factory.UpdateJSON {
	return factory.UpdateJSON{
		BasePriceUSD:   r.BasePriceUSD,
		BasePriceVES:   r.BasePriceVES,
		PenaltyPercent: r.PenaltyPercent,
		CutoffDay:      r.CutoffDay,
		PricingPolicy:  r.PricingPolicy,
		EffectiveFrom:  r.EffectiveFrom,
		Instructions:   r.Instructions,
	}
}

// PropagationDTO reports how outstanding dues absorbed a configuration change.
type PropagationDTO struct {
	ConfigVersion   int64    `json:"config_version"`
	Policy          string   `json:"policy"`
	EffectivePeriod string   `json:"effective_period,omitempty"`
	Scanned         int      `json:"scanned"`
	Updated         int      `json:"updated"`
	Skipped         int      `json:"skipped"`
	StaleDues       []string `json:"stale_dues"`
}

// ConfigUpdateResponse is returned by PUT /api/configuracion-pagos. Partial
// propagation failures still answer 200 with Complete=false and StaleDues set.
type ConfigUpdateResponse struct {
	Config      ConfigDTO      `json:"config"`
	Propagation PropagationDTO `json:"propagation"`
	Complete    bool           `json:"complete"`
}

// =============================================================================
// PERIODS
// =============================================================================

// PeriodDTO represents an academic period in API responses.
type PeriodDTO struct {
	factory.PeriodJSON
	StartYear int `json:"start_year"`
}

// BillingMonthDTO is one billable month of a period at the live configuration.
type BillingMonthDTO struct {
	Month      int        `json:"month"`
	Year       int        `json:"year"`
	Label      string     `json:"label"`
	Price      AmountsDTO `json:"price"`
	Overridden bool       `json:"overridden"`
	DueDate    string     `json:"due_date"`
}

// PeriodRequest replaces a period's months. The ID comes from the URL.
type PeriodRequest struct {
	Name   string         `json:"name" validate:"required,max=200"`
	Months []MonthRequest `json:"months" validate:"required,min=1,max=12,dive"`
}

type MonthRequest struct {
	Month       int    `json:"month" validate:"min=1,max=12"`
	Year        int    `json:"year" validate:"min=2000,max=2200"`
	OverrideUSD string `json:"override_usd" validate:"omitempty,numeric"`
	OverrideVES string `json:"override_ves" validate:"omitempty,numeric"`
}

func (r PeriodRequest) toJSON(id string) factory.PeriodJSON {
	pj := factory.PeriodJSON{ID: id, Name: r.Name, Months: make([]factory.MonthJSON, 0, len(r.Months))}
	for _, m := range r.Months {
		pj.Months = append(pj.Months, factory.MonthJSON{
			Month:       m.Month,
			Year:        m.Year,
			OverrideUSD: m.OverrideUSD,
			OverrideVES: m.OverrideVES,
		})
	}
	return pj
}

// =============================================================================
// DUES
// =============================================================================

// DueDTO represents a monthly due. Mora is computed live as of MoraAsOf.
type DueDTO struct {
	ID            string     `json:"id"`
	StudentID     string     `json:"student_id"`
	PeriodID      string     `json:"period_id"`
	Month         int        `json:"month"`
	Year          int        `json:"year"`
	BaseApplied   AmountsDTO `json:"base_applied"`
	UpdatedBase   AmountsDTO `json:"updated_base"`
	DueDate       string     `json:"due_date"`
	PenaltyRate   string     `json:"penalty_percent"`
	PricingPolicy string     `json:"pricing_policy"`
	ConfigVersion int64      `json:"config_version"`
	Estado        string     `json:"estado"`
	Mora          AmountsDTO `json:"mora"`
	MoraAsOf      string     `json:"mora_as_of"`
	Total         AmountsDTO `json:"total"`
	Version       int64      `json:"version"`
}

// DueDetailDTO is a due with its payment history.
type DueDetailDTO struct {
	DueDTO
	Payments []PaymentDTO `json:"payments"`
}

// DuePaymentResponse is returned by every transition that touches a due
// and its payment.
type DuePaymentResponse struct {
	Due     DueDTO      `json:"due"`
	Payment *PaymentDTO `json:"payment,omitempty"`
}

// GenerateRequest materializes dues for one or more students of a period.
type GenerateRequest struct {
	StudentID  string   `json:"student_id" validate:"required_without=StudentIDs"`
	StudentIDs []string `json:"student_ids" validate:"omitempty,dive,required"`
	PeriodID   string   `json:"period_id" validate:"required"`
}

func (r GenerateRequest) students() []generic.StudentID {
	ids := make([]generic.StudentID, 0, len(r.StudentIDs)+1)
	if r.StudentID != "" {
		ids = append(ids, generic.StudentID(r.StudentID))
	}
	for _, id := range r.StudentIDs {
		ids = append(ids, generic.StudentID(id))
	}
	return ids
}

// GenerateResponse lists the dues of each student after generation.
type GenerateResponse struct {
	PeriodID string              `json:"period_id"`
	Dues     map[string][]DueDTO `json:"dues"`
}

// ReasonRequest carries the motive for a rejection or a void.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// SnapshotDTO is the pricing frozen on a payment.
type SnapshotDTO struct {
	Month          int        `json:"month"`
	Year           int        `json:"year"`
	PriceApplied   AmountsDTO `json:"price_applied"`
	PenaltyApplied AmountsDTO `json:"penalty_applied"`
	PenaltyRate    string     `json:"penalty_percent"`
	CutoffDay      int        `json:"cutoff_day"`
	ConfigVersion  int64      `json:"config_version"`
	EvaluatedOn    string     `json:"evaluated_on"`
	Total          AmountsDTO `json:"total"`
}

type PaymentDTO struct {
	ID              string      `json:"id"`
	DueID           string      `json:"due_id"`
	StudentID       string      `json:"student_id"`
	Monto           AmountsDTO  `json:"monto"`
	MontoMora       AmountsDTO  `json:"monto_mora"`
	Descuento       AmountsDTO  `json:"descuento"`
	Referencia      string      `json:"referencia,omitempty"`
	HasEvidence     bool        `json:"has_evidence"`
	Observaciones   string      `json:"observaciones,omitempty"`
	Method          string      `json:"method"`
	Estado          string      `json:"estado"`
	Snapshot        SnapshotDTO `json:"snapshot"`
	RecordedBy      string      `json:"recorded_by"`
	ReviewedBy      string      `json:"reviewed_by,omitempty"`
	RejectionReason string      `json:"rejection_reason,omitempty"`
	CreatedAt       string      `json:"created_at"`
	ReportedAt      string      `json:"reported_at,omitempty"`
	ResolvedAt      string      `json:"resolved_at,omitempty"`
}

// SettleRequest records a payment taken at the office. Cash settles
// immediately; a transfer recorded by staff is settled right after.
type SettleRequest struct {
	DueID         string          `json:"due_id" validate:"required"`
	Method        string          `json:"method" validate:"omitempty,oneof=cash transfer efectivo transferencia"`
	Referencia    string          `json:"referencia" validate:"max=100"`
	Observaciones string          `json:"observaciones" validate:"max=1000"`
	Monto         *AmountsRequest `json:"monto"`
	Descuento     *AmountsRequest `json:"descuento"`
}

func (r SettleRequest) method() generic.PaymentMethod {
	switch r.Method {
	case "cash", "efectivo":
		return generic.MethodCash
	default:
		return generic.MethodTransfer
	}
}

// =============================================================================
// SWEEPS
// =============================================================================

type SweepRunDTO struct {
	ID          string `json:"id"`
	AsOf        string `json:"as_of"`
	Status      string `json:"status"`
	Scanned     int    `json:"scanned"`
	Updated     int    `json:"updated"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// =============================================================================
// GRADING
// =============================================================================

// PlanRequest is an evaluation plan to check before saving it.
type PlanRequest struct {
	Subject     string              `json:"subject"`
	Evaluations []EvaluationRequest `json:"evaluations" validate:"dive"`
}

type EvaluationRequest struct {
	Name    string `json:"name"`
	Percent string `json:"percent" validate:"required,numeric"`
}

// PlanValidationDTO is the outcome of checking a plan.
type PlanValidationDTO struct {
	Valid     bool     `json:"valid"`
	Total     string   `json:"total"`
	Remaining string   `json:"remaining"`
	Problems  []string `json:"problems"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAmountsDTO(a generic.Amounts) AmountsDTO {
	return AmountsDTO{USD: a.USD.Major(), VES: a.VES.Major()}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func toConfigDTO(cfg generic.PaymentConfiguration) ConfigDTO {
	return ConfigDTO{
		ConfigJSON: factory.ToJSON(cfg),
		Version:    cfg.Version,
		UpdatedAt:  formatTime(cfg.UpdatedAt),
		UpdatedBy:  cfg.UpdatedBy,
	}
}

func toPropagationDTO(report *generic.PropagationReport) PropagationDTO {
	dto := PropagationDTO{StaleDues: []string{}}
	if report == nil {
		return dto
	}
	dto.ConfigVersion = report.ConfigVersion
	dto.Policy = string(report.Policy)
	dto.EffectivePeriod = string(report.EffectivePeriod)
	dto.Scanned = report.Scanned
	dto.Updated = report.Updated
	dto.Skipped = report.Skipped
	for _, id := range report.Stale {
		dto.StaleDues = append(dto.StaleDues, string(id))
	}
	return dto
}

func toBillingMonthDTOs(months []generic.BillingMonth, cutoffDay int) []BillingMonthDTO {
	dtos := make([]BillingMonthDTO, 0, len(months))
	for _, m := range months {
		dtos = append(dtos, BillingMonthDTO{
			Month:      int(m.Month),
			Year:       m.Year,
			Label:      monthLabel(m.Month, m.Year),
			Price:      toAmountsDTO(m.DefaultPrice),
			Overridden: m.Overridden,
			DueDate:    m.DueDate(cutoffDay).String(),
		})
	}
	return dtos
}

func toPeriodDTO(p generic.AcademicPeriod) PeriodDTO {
	return PeriodDTO{PeriodJSON: factory.PeriodToJSON(p), StartYear: p.StartYear}
}

// dueMora is the mora shown for a due on asOf. Settled and voided dues keep
// the mora cached when they were last swept.
func dueMora(d generic.MonthlyDue, asOf generic.TimePoint) (generic.Amounts, generic.TimePoint) {
	if d.Estado.IsFinal() {
		return d.LiveMora.Normalize(), d.MoraAsOf
	}
	return d.MoraAt(asOf), asOf
}

// toDueDTO renders a due with its mora evaluated on asOf.
func toDueDTO(d generic.MonthlyDue, asOf generic.TimePoint) DueDTO {
	mora, asOf := dueMora(d, asOf)
	return DueDTO{
		ID:            string(d.ID),
		StudentID:     string(d.StudentID),
		PeriodID:      string(d.PeriodID),
		Month:         int(d.Month),
		Year:          d.Year,
		BaseApplied:   toAmountsDTO(d.BaseApplied),
		UpdatedBase:   toAmountsDTO(d.UpdatedBase),
		DueDate:       d.DueDate.String(),
		PenaltyRate:   d.PenaltyRateApplied.Percent().StringFixed(2),
		PricingPolicy: string(d.PricingPolicy),
		ConfigVersion: d.ConfigVersion,
		Estado:        string(d.Estado),
		Mora:          toAmountsDTO(mora),
		MoraAsOf:      asOf.String(),
		Total:         toAmountsDTO(d.UpdatedBase.Add(mora)),
		Version:       d.Version,
	}
}

func toDueDTOs(dues []generic.MonthlyDue, asOf generic.TimePoint) []DueDTO {
	out := make([]DueDTO, 0, len(dues))
	for _, d := range dues {
		out = append(out, toDueDTO(d, asOf))
	}
	return out
}

func toSnapshotDTO(s generic.PaymentSnapshot) SnapshotDTO {
	return SnapshotDTO{
		Month:          int(s.Month),
		Year:           s.Year,
		PriceApplied:   toAmountsDTO(s.PriceApplied),
		PenaltyApplied: toAmountsDTO(s.PenaltyApplied),
		PenaltyRate:    s.PenaltyRateApplied.Percent().StringFixed(2),
		CutoffDay:      s.CutoffDayApplied,
		ConfigVersion:  s.ConfigVersion,
		EvaluatedOn:    s.EvaluatedOn.String(),
		Total:          toAmountsDTO(s.Total()),
	}
}

func toPaymentDTO(p generic.Payment) PaymentDTO {
	return PaymentDTO{
		ID:              string(p.ID),
		DueID:           string(p.DueID),
		StudentID:       string(p.StudentID),
		Monto:           toAmountsDTO(p.Monto),
		MontoMora:       toAmountsDTO(p.MontoMora),
		Descuento:       toAmountsDTO(p.Descuento),
		Referencia:      p.Referencia,
		HasEvidence:     p.EvidenceRef != "",
		Observaciones:   p.Observaciones,
		Method:          string(p.Method),
		Estado:          string(p.Estado),
		Snapshot:        toSnapshotDTO(p.Snapshot),
		RecordedBy:      p.RecordedBy,
		ReviewedBy:      p.ReviewedBy,
		RejectionReason: p.RejectionReason,
		CreatedAt:       formatTime(p.CreatedAt),
		ReportedAt:      formatTimePtr(p.ReportedAt),
		ResolvedAt:      formatTimePtr(p.ResolvedAt),
	}
}

func toPaymentDTOs(payments []generic.Payment) []PaymentDTO {
	out := make([]PaymentDTO, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentDTO(p))
	}
	return out
}

func toSweepRunDTO(r generic.SweepRun) SweepRunDTO {
	return SweepRunDTO{
		ID:          r.ID,
		AsOf:        r.AsOf.String(),
		Status:      string(r.Status),
		Scanned:     r.Scanned,
		Updated:     r.Updated,
		Error:       r.Error,
		StartedAt:   formatTime(r.StartedAt),
		CompletedAt: formatTimePtr(r.CompletedAt),
	}
}
