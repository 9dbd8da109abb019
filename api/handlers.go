/*
handlers.go - HTTP API handlers for the dues engine

PURPOSE:
  Exposes the dues engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the dues services.

ENDPOINTS:
  Periods:
    GET    /api/periodos                       List academic periods
    GET    /api/periodos/{id}                  Get one period
    GET    /api/periodos/{id}/meses            Billing months at the live price
    PUT    /api/periodos/{id}                  Sync a period (privileged)

  Configuration:
    GET    /api/configuracion-pagos            Live payment configuration
    PUT    /api/configuracion-pagos            Update + propagate (privileged)

  Dues:
    GET    /api/mensualidades                  List (?estudianteID=&annoEscolarID=&estado=)
    GET    /api/mensualidades/export.xlsx      Dues report (privileged)
    GET    /api/mensualidades/{id}             Due with payment history
    POST   /api/mensualidades/generar          Generate dues (privileged)
    PATCH  /api/mensualidades/{id}/reportar    Report a transfer (multipart)
    PATCH  /api/mensualidades/{id}/aprobar     Approve the payment in progress
    PATCH  /api/mensualidades/{id}/rechazar    Reject the payment in progress
    PATCH  /api/mensualidades/{id}/anular      Void an unpaid due

  Payments:
    POST   /api/pagos                          Direct settlement (privileged)
    GET    /api/pagos                          List (?mensualidadID=&estudianteID=&estado=)
    GET    /api/pagos/{id}/comprobante         Evidence download
    GET    /api/pagos/{id}/recibo.pdf          Receipt for a settled payment

  Sweeps / grading:
    GET    /api/sweeps                         Mora sweep history (?status=)
    POST   /api/sweeps/run                     Run the sweep now (privileged)
    POST   /api/evaluaciones/validar           Check an evaluation plan

REQUEST FLOW:
  1. Resolve the caller (auth middleware put an Actor on the context)
  2. Decode and validate input (validator/v10)
  3. Call the dues service
  4. Serialize response
  5. Map domain errors to status codes (writeDomainError)

ERROR HANDLING:
  - 400: Validation errors, invalid configuration or amounts
  - 403: Operation needs staff or admin
  - 404: Due, payment or period not found
  - 409: Illegal transition, payment in progress, concurrent modification
  - 413/415: Evidence too large or of an unsupported type
  - 500: Internal errors
  A configuration update whose propagation left stale dues is still a 200;
  the body lists them under propagation.stale_dues.

SEE ALSO:
  - dto.go: Request/response data structures
  - export.go: XLSX and PDF rendering
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/dues-engine/auth"
	"github.com/warp/dues-engine/blob"
	"github.com/warp/dues-engine/dues"
	"github.com/warp/dues-engine/factory"
	"github.com/warp/dues-engine/generic"
	"github.com/warp/dues-engine/grading"
	"github.com/warp/dues-engine/metrics"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *dues.Engine
	Blobs  blob.Store
	Logger *slog.Logger
}

// NewHandler creates a handler over engine. Evidence uploads go to blobs.
func NewHandler(engine *dues.Engine, blobs blob.Store) *Handler {
	return &Handler{Engine: engine, Blobs: blobs}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) store() generic.TxStore { return h.Engine.Deps.Store }

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

// ListPeriods returns all academic periods ordered by start year.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.store().ListPeriods(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]PeriodDTO, 0, len(periods))
	for _, p := range periods {
		dtos = append(dtos, toPeriodDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	p, err := h.store().GetPeriod(r.Context(), generic.PeriodID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(p))
}

// ListPeriodMonths returns the period's billable months priced with the live
// configuration, per-month overrides included.
func (h *Handler) ListPeriodMonths(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	months, err := h.Engine.Calendar.MonthsFor(ctx, generic.PeriodID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	cfg, err := h.Engine.Config.Get(ctx)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBillingMonthDTOs(months, cfg.CutoffDay))
}

// SyncPeriod replaces a period as published by the academic-structure service.
func (h *Handler) SyncPeriod(w http.ResponseWriter, r *http.Request) {
	var req PeriodRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	p, err := factory.PeriodFromJSON(req.toJSON(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	saved, err := h.Engine.Calendar.SyncPeriod(r.Context(), actorFrom(r), p)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(saved))
}

// =============================================================================
// CONFIGURATION HANDLERS
// =============================================================================

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Engine.Config.Get(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigDTO(cfg))
}

// UpdateConfig applies a partial configuration and propagates it to
// outstanding dues in the same transaction.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigUpdateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	upd, err := factory.UpdateFromJSON(req.toJSON())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	cfg, report, err := h.Engine.Config.Update(r.Context(), actorFrom(r), upd)
	complete := true
	if err != nil {
		var perr *generic.PropagationError
		if !errors.As(err, &perr) {
			h.writeDomainError(w, r, err)
			return
		}
		// committed; some dues stay on the previous version until the next sweep
		complete = false
		h.logger().Warn("configuration committed with stale dues",
			"version", perr.ConfigVersion, "stale", len(perr.StaleDues), "request_id", middleware.GetReqID(r.Context()))
	}

	writeJSON(w, http.StatusOK, ConfigUpdateResponse{
		Config:      toConfigDTO(cfg),
		Propagation: toPropagationDTO(report),
		Complete:    complete,
	})
}

// =============================================================================
// DUE HANDLERS
// =============================================================================

// ListDues returns dues matching the query, with mora evaluated as of today.
func (h *Handler) ListDues(w http.ResponseWriter, r *http.Request) {
	filter, err := dueFilterFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid estado", err)
		return
	}
	list, err := h.store().ListDues(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDueDTOs(list, h.Engine.Today()))
}

// GetDue returns a due and every payment recorded against it.
func (h *Handler) GetDue(w http.ResponseWriter, r *http.Request) {
	dueID := generic.DueID(chi.URLParam(r, "id"))
	due, err := h.store().GetDue(r.Context(), dueID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	payments, err := h.store().ListPayments(r.Context(), generic.PaymentFilter{DueID: dueID})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DueDetailDTO{
		DueDTO:   toDueDTO(due, h.Engine.Today()),
		Payments: toPaymentDTOs(payments),
	})
}

// GenerateDues materializes the dues of one or more students for a period.
// Repeating the call returns the same dues.
func (h *Handler) GenerateDues(w http.ResponseWriter, r *http.Request) {
	if !requirePrivileged(w, r) {
		return
	}
	var req GenerateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	byStudent, err := h.Engine.Generator.GenerateForStudents(r.Context(), req.students(), generic.PeriodID(req.PeriodID))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	today := h.Engine.Today()
	resp := GenerateResponse{PeriodID: req.PeriodID, Dues: make(map[string][]DueDTO, len(byStudent))}
	for id, list := range byStudent {
		resp.Dues[string(id)] = toDueDTOs(list, today)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReportDue records a transfer against a due and reports it for review.
//
// Form fields: referencia, observaciones, comprobante (file). The evidence
// is stored before the due is locked. The payment is recorded and reported in
// one transaction; a pendiente payment recorded by staff is reported instead
// of recording a second one.
func (h *Handler) ReportDue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(r)
	dueID := generic.DueID(chi.URLParam(r, "id"))

	due, err := h.store().GetDue(ctx, dueID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if due.Estado.IsFinal() {
		h.writeDomainError(w, r, &generic.DueStateError{DueID: due.ID, Estado: due.Estado})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, blob.MaxSize+1<<20)
	if err := r.ParseMultipartForm(blob.MaxSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.writeDomainError(w, r, fmt.Errorf("%w: %w", errBadUpload, err))
		return
	}
	referencia := strings.TrimSpace(r.FormValue("referencia"))
	observaciones := strings.TrimSpace(r.FormValue("observaciones"))

	evidence, err := h.storeEvidence(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if referencia == "" && evidence == "" {
		writeError(w, http.StatusBadRequest, "A referencia or a comprobante is required", nil)
		return
	}

	active, err := h.store().ActivePayment(ctx, dueID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var payment generic.Payment
	if active != nil && active.Estado == generic.EstadoPendiente {
		payment, err = h.Engine.Workflow.Report(ctx, actor, active.ID, string(evidence), referencia)
	} else {
		payment, err = h.Engine.Recorder.Record(ctx, actor, dues.RecordInput{
			DueID:         dueID,
			Referencia:    referencia,
			EvidenceRef:   string(evidence),
			Observaciones: observaciones,
			Method:        generic.MethodTransfer,
			Then:          generic.EventReport,
		})
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeDuePayment(w, r, http.StatusOK, dueID, &payment)
}

// storeEvidence saves the optional comprobante upload and returns its ref.
func (h *Handler) storeEvidence(r *http.Request) (blob.Ref, error) {
	file, header, err := r.FormFile("comprobante")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", errBadUpload, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, blob.MaxSize+1))
	if err != nil {
		return "", fmt.Errorf("read comprobante: %w", err)
	}
	return h.Blobs.Put(r.Context(), data, header.Header.Get("Content-Type"))
}

// ApproveDue approves the payment reported for a due.
func (h *Handler) ApproveDue(w http.ResponseWriter, r *http.Request) {
	dueID := generic.DueID(chi.URLParam(r, "id"))
	payment, err := h.Engine.Workflow.ApproveDue(r.Context(), actorFrom(r), dueID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeDuePayment(w, r, http.StatusOK, dueID, &payment)
}

// RejectDue rejects the payment reported for a due; the due becomes payable again.
func (h *Handler) RejectDue(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	dueID := generic.DueID(chi.URLParam(r, "id"))
	payment, err := h.Engine.Workflow.RejectDue(r.Context(), actorFrom(r), dueID, req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeDuePayment(w, r, http.StatusOK, dueID, &payment)
}

func (h *Handler) VoidDue(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	due, err := h.Engine.Workflow.VoidDue(r.Context(), actorFrom(r), generic.DueID(chi.URLParam(r, "id")), req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DuePaymentResponse{Due: toDueDTO(due, h.Engine.Today())})
}

// ExportDues renders the dues matching the query as an XLSX workbook.
func (h *Handler) ExportDues(w http.ResponseWriter, r *http.Request) {
	if !requirePrivileged(w, r) {
		return
	}
	filter, err := dueFilterFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid estado", err)
		return
	}
	list, err := h.store().ListDues(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	data, err := BuildDuesXLSX(list, h.Engine.Today())
	metrics.IncExport("xlsx", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeFile(w, data, xlsxContentType, "mensualidades-"+h.Engine.Today().String()+".xlsx", true)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// CreatePayment records a payment taken by staff and settles it.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	if !requirePrivileged(w, r) {
		return
	}
	var req SettleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	in := dues.RecordInput{
		DueID:         generic.DueID(req.DueID),
		Referencia:    strings.TrimSpace(req.Referencia),
		Observaciones: strings.TrimSpace(req.Observaciones),
		Method:        req.method(),
		Then:          generic.EventSettle,
	}
	if req.Monto != nil {
		monto, err := req.Monto.toDomain()
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		in.Monto = &monto
	}
	if req.Descuento != nil {
		descuento, err := req.Descuento.toDomain()
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		in.Descuento = descuento
	}

	ctx := r.Context()
	actor := actorFrom(r)
	payment, err := h.Engine.Recorder.Record(ctx, actor, in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeDuePayment(w, r, http.StatusCreated, payment.DueID, &payment)
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := generic.PaymentFilter{
		DueID:     generic.DueID(q.Get("mensualidadID")),
		StudentID: generic.StudentID(q.Get("estudianteID")),
	}
	if s := q.Get("estado"); s != "" {
		estado, err := generic.ParseEstado(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid estado", err)
			return
		}
		filter.Estado = estado
	}
	payments, err := h.store().ListPayments(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// GetEvidence streams the comprobante attached to a payment.
func (h *Handler) GetEvidence(w http.ResponseWriter, r *http.Request) {
	payment, err := h.store().GetPayment(r.Context(), generic.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if payment.EvidenceRef == "" {
		writeError(w, http.StatusNotFound, "Payment has no comprobante", nil)
		return
	}
	data, contentType, err := h.Blobs.Get(r.Context(), blob.Ref(payment.EvidenceRef))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeFile(w, data, contentType, "", false)
}

// GetReceipt renders the PDF receipt of a settled payment.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payment, err := h.store().GetPayment(ctx, generic.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if payment.Estado != generic.EstadoPagado {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: fmt.Sprintf("payment %s is %s; receipts are issued for pagado payments", payment.ID, payment.Estado),
			Code:  "not_settled",
		})
		return
	}
	due, err := h.store().GetDue(ctx, payment.DueID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	data, err := BuildReceiptPDF(payment, due)
	metrics.IncExport("pdf", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeFile(w, data, "application/pdf", "recibo-"+string(payment.ID)+".pdf", false)
}

// =============================================================================
// SWEEP HANDLERS
// =============================================================================

func (h *Handler) ListSweeps(w http.ResponseWriter, r *http.Request) {
	status := generic.SweepStatus(r.URL.Query().Get("status"))
	runs, err := h.Engine.Sweeper.History(r.Context(), status)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]SweepRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toSweepRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunSweep recomputes cached mora now instead of waiting for the schedule.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	if !requirePrivileged(w, r) {
		return
	}
	run, err := h.Engine.Sweeper.Run(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepRunDTO(run))
}

// =============================================================================
// GRADING HANDLERS
// =============================================================================

// ValidatePlan checks that an evaluation plan's percentages add up to 100.
// An invalid plan is still a 200; the body lists its problems.
func (h *Handler) ValidatePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	plan := grading.Plan{Subject: req.Subject}
	for _, ev := range req.Evaluations {
		pct, err := decimal.NewFromString(ev.Percent)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid percent", err)
			return
		}
		plan.Evaluations = append(plan.Evaluations, grading.Evaluation{Name: ev.Name, Percent: pct})
	}

	resp := PlanValidationDTO{
		Valid:     true,
		Total:     plan.Total().String(),
		Remaining: plan.Remaining().String(),
		Problems:  []string{},
	}
	if err := grading.ValidatePlan(plan); err != nil {
		var planErr *grading.PlanError
		if !errors.As(err, &planErr) {
			h.writeDomainError(w, r, err)
			return
		}
		resp.Valid = false
		resp.Problems = planErr.Problems
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var errBadUpload = errors.New("invalid comprobante upload")

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate decodes the JSON body into dst and validates it. On
// failure it writes a 400 and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return false
		}
		fields := make([]FieldErrorDTO, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldErrorDTO{Field: fieldPath(fe), Message: ruleMessage(fe)})
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "invalid_request", Details: fields})
		return false
	}
	return true
}

// fieldPath drops the struct name from the namespace: "monto.usd".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func ruleMessage(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

func dueFilterFrom(r *http.Request) (generic.DueFilter, error) {
	q := r.URL.Query()
	filter := generic.DueFilter{
		StudentID: generic.StudentID(q.Get("estudianteID")),
		PeriodID:  generic.PeriodID(q.Get("annoEscolarID")),
	}
	if raw := q.Get("estado"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			estado, err := generic.ParseEstado(strings.TrimSpace(part))
			if err != nil {
				return filter, err
			}
			filter.Estados = append(filter.Estados, estado)
		}
	}
	return filter, nil
}

func actorFrom(r *http.Request) generic.Actor {
	actor, _ := auth.ActorFromContext(r.Context())
	return actor
}

// requirePrivileged writes a 403 unless the caller is staff or admin.
func requirePrivileged(w http.ResponseWriter, r *http.Request) bool {
	if actorFrom(r).Privileged {
		return true
	}
	writeError(w, http.StatusForbidden, "Staff or admin role required", generic.ErrForbidden)
	return false
}

// writeDuePayment reloads the due so the response carries its new state.
func (h *Handler) writeDuePayment(w http.ResponseWriter, r *http.Request, status int, dueID generic.DueID, payment *generic.Payment) {
	due, err := h.store().GetDue(r.Context(), dueID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	resp := DuePaymentResponse{Due: toDueDTO(due, h.Engine.Today())}
	if payment != nil {
		dto := toPaymentDTO(*payment)
		resp.Payment = &dto
	}
	writeJSON(w, status, resp)
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

func writeFile(w http.ResponseWriter, data []byte, contentType, filename string, attachment bool) {
	w.Header().Set("Content-Type", contentType)
	if filename != "" {
		disposition := "inline"
		if attachment {
			disposition = "attachment"
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, filename))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// writeDomainError maps engine, blob and validation errors to a status code.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		cfgErr   *generic.ConfigError
		transErr *generic.TransitionError
		maxErr   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &cfgErr):
		fields := make([]FieldErrorDTO, 0, len(cfgErr.Fields))
		for _, f := range cfgErr.Fields {
			fields = append(fields, FieldErrorDTO{Field: f.Field, Message: f.Message})
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_configuration", Details: fields})
	case errors.Is(err, generic.ErrForbidden):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: err.Error(), Code: "forbidden"})
	case errors.Is(err, blob.ErrTooLarge), errors.As(err, &maxErr):
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: err.Error(), Code: "evidence_too_large"})
	case errors.Is(err, blob.ErrUnsupportedType):
		writeJSON(w, http.StatusUnsupportedMediaType, ErrorResponse{Error: err.Error(), Code: "evidence_type"})
	case errors.Is(err, blob.ErrEmpty), errors.Is(err, blob.ErrInvalidRef), errors.Is(err, errBadUpload):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_evidence"})
	case errors.Is(err, blob.ErrNotFound), generic.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case generic.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: errorCode(err)})
	case errors.As(err, &transErr):
		allowed := make([]string, 0, len(transErr.Allowed))
		for _, m := range transErr.Allowed {
			allowed = append(allowed, m.String())
		}
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "invalid_transition",
			Details: map[string]any{
				"current": string(transErr.Current),
				"event":   string(transErr.Event),
				"target":  string(transErr.Target),
				"allowed": allowed,
			},
		})
	case generic.IsConflict(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: errorCode(err)})
	default:
		h.logger().Error("request failed",
			"method", r.Method, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

// errorCode names the sentinel behind err for clients.
func errorCode(err error) string {
	switch {
	case errors.Is(err, generic.ErrInvalidConfiguration):
		return "invalid_configuration"
	case errors.Is(err, generic.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, generic.ErrReasonRequired):
		return "reason_required"
	case errors.Is(err, generic.ErrDueAlreadySettled):
		return "due_settled"
	case errors.Is(err, generic.ErrDueVoided):
		return "due_voided"
	case errors.Is(err, generic.ErrPaymentInProgress):
		return "payment_in_progress"
	case errors.Is(err, generic.ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, generic.ErrConfigurationMissing):
		return "configuration_missing"
	default:
		return ""
	}
}
