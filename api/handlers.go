/*
handlers.go - HTTP API handlers for the incentive ledger

PURPOSE:
  Exposes the incentive ledger via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Orders:
    POST   /api/orders                      Create order (optional redemption)
    GET    /api/orders/{id}                 Get order with timeline
    POST   /api/orders/{id}/transition      Move order to a new status

  Subjects:
    GET    /api/subjects/{id}/balance       Two-part balance
    GET    /api/subjects/{id}/statement     Balance plus entry history
    GET    /api/subjects/{id}/audit         Conservation check
    POST   /api/subjects/{id}/redeem        Spend available points

  Payouts:
    POST   /api/payouts                     Request agent payout (pending)
    POST   /api/payouts/{entryID}/complete  Mark payout completed

  Admin:
    GET    /api/admin/rates                 Commission rate bands
    PUT    /api/admin/rates                 Replace rate bands
    POST   /api/admin/sweep                 On-demand maturity sweep
    GET    /api/admin/sweeps/{subjectID}    Sweep audit history

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (driver, ledger, engines)
  4. Serialize response
  5. Handle errors

STALENESS:
  Reads of the points balance trigger a reconcile pass for the subject
  first, so a customer whose holding period lapsed between sweeps still
  sees the matured value. The pass is cheap when nothing is eligible.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (illegal transition, insufficient balance)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/incentive-ledger/commission"
	"github.com/warp/incentive-ledger/ledger"
	"github.com/warp/incentive-ledger/maturity"
	"github.com/warp/incentive-ledger/order"
	"github.com/warp/incentive-ledger/redemption"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Orders     order.Repository
	Driver     *order.Driver
	Ledger     *ledger.Ledger
	Commission *commission.Engine
	Redemption *redemption.Engine
	Reconciler *maturity.Reconciler
	Scheduler  *maturity.Scheduler
	Rates      *commission.StaticSchedule

	// Runs is optional; nil disables the sweep history endpoint.
	Runs ledger.RunStore
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// CreateOrder creates an order in the pending state. When redeem_points is
// set, available points are consumed immediately, clamped to the smallest
// of requested, available and subtotal.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required", nil)
		return
	}
	subtotal, err := decimal.NewFromString(req.Subtotal)
	if err != nil || subtotal.LessThanOrEqual(decimal.Zero) {
		writeError(w, http.StatusBadRequest, "subtotal must be a positive decimal string", err)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	ctx := r.Context()
	if existing, err := h.Orders.FindByID(ctx, ledger.OrderID(id)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check order", err)
		return
	} else if existing != nil {
		writeError(w, http.StatusConflict, "Order already exists", nil)
		return
	}

	o := &order.Order{
		ID:         ledger.OrderID(id),
		CustomerID: ledger.SubjectID(req.CustomerID),
		Subtotal:   subtotal,
		Status:     order.StatusPending,
		Commission: order.CommissionTerms{AgentID: ledger.SubjectID(req.AgentID)},
	}

	if req.RedeemPoints != "" {
		requested, err := decimal.NewFromString(req.RedeemPoints)
		if err != nil {
			writeError(w, http.StatusBadRequest, "redeem_points must be a decimal string", err)
			return
		}
		// Mature anything whose holding period has lapsed before checking
		// what is spendable.
		if _, err := h.Reconciler.Reconcile(ctx, o.CustomerID); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reconcile balance", err)
			return
		}
		used, err := h.Redemption.Redeem(ctx, o.CustomerID, o.ID, requested, subtotal)
		if err != nil {
			writeDomainError(w, "Failed to redeem points", err)
			return
		}
		o.RedeemedPoints = used
	}

	if err := h.Orders.Save(ctx, o); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save order", err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderDTO(o))
}

// GetOrder returns a single order with its timeline.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := ledger.OrderID(chi.URLParam(r, "id"))

	o, err := h.Orders.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get order", err)
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, "Order not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

// TransitionOrder moves an order to a new status, applying ledger effects.
func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	id := ledger.OrderID(chi.URLParam(r, "id"))

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	to := order.Status(req.Status)
	if !to.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown status: "+req.Status, nil)
		return
	}

	o, err := h.Driver.Transition(r.Context(), id, to)
	if err != nil {
		if errors.Is(err, order.ErrIllegalTransition) {
			writeError(w, http.StatusConflict, "Illegal status transition", err)
			return
		}
		writeDomainError(w, "Failed to transition order", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

// =============================================================================
// SUBJECT HANDLERS
// =============================================================================

// currencyParam reads ?currency=, defaulting to points.
func currencyParam(r *http.Request) (ledger.Currency, bool) {
	switch r.URL.Query().Get("currency") {
	case "", string(ledger.CurrencyPoints):
		return ledger.CurrencyPoints, true
	case string(ledger.CurrencyMoney):
		return ledger.CurrencyMoney, true
	}
	return "", false
}

// GetBalance returns the two-part balance for a subject.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	subject := ledger.SubjectID(chi.URLParam(r, "id"))
	currency, ok := currencyParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown currency", nil)
		return
	}

	ctx := r.Context()
	if currency == ledger.CurrencyPoints {
		if _, err := h.Reconciler.Reconcile(ctx, subject); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reconcile balance", err)
			return
		}
	}

	b, err := h.Ledger.Balance(ctx, subject, currency)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// GetStatement returns the balance plus the full entry history.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	subject := ledger.SubjectID(chi.URLParam(r, "id"))
	currency, ok := currencyParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown currency", nil)
		return
	}

	ctx := r.Context()
	if currency == ledger.CurrencyPoints {
		if _, err := h.Reconciler.Reconcile(ctx, subject); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reconcile balance", err)
			return
		}
	}

	b, err := h.Ledger.Balance(ctx, subject, currency)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get balance", err)
		return
	}
	entries, err := h.Ledger.Statement(ctx, subject, currency)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get statement", err)
		return
	}

	dto := StatementDTO{Balance: toBalanceDTO(b), Entries: []EntryDTO{}}
	for _, e := range entries {
		dto.Entries = append(dto.Entries, toEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetAudit replays the entry stream and compares it with the cached
// balance counters.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	subject := ledger.SubjectID(chi.URLParam(r, "id"))
	currency, ok := currencyParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown currency", nil)
		return
	}

	report, err := h.Ledger.Audit(r.Context(), subject, currency)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to audit subject", err)
		return
	}

	writeJSON(w, http.StatusOK, AuditDTO{
		SubjectID:       string(report.SubjectID),
		Currency:        string(report.Currency),
		CachedLocked:    report.Balance.Locked.Value.String(),
		CachedAvailable: report.Balance.Available.Value.String(),
		StreamLocked:    report.Locked.Value.String(),
		StreamAvailable: report.Available.Value.String(),
		Consistent:      report.Consistent,
	})
}

// RedeemPoints spends available points against a new order without going
// through order creation. Used when the storefront reserves points first.
func (h *Handler) RedeemPoints(w http.ResponseWriter, r *http.Request) {
	subject := ledger.SubjectID(chi.URLParam(r, "id"))

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id is required", nil)
		return
	}
	requested, err := decimal.NewFromString(req.Points)
	if err != nil {
		writeError(w, http.StatusBadRequest, "points must be a decimal string", err)
		return
	}
	subtotal, err := decimal.NewFromString(req.Subtotal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "subtotal must be a decimal string", err)
		return
	}

	ctx := r.Context()
	if _, err := h.Reconciler.Reconcile(ctx, subject); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reconcile balance", err)
		return
	}

	used, err := h.Redemption.Redeem(ctx, subject, ledger.OrderID(req.OrderID), requested, subtotal)
	if err != nil {
		writeDomainError(w, "Failed to redeem points", err)
		return
	}

	b, err := h.Ledger.Balance(ctx, subject, ledger.CurrencyPoints)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, RedeemResponse{
		Requested: requested.String(),
		Used:      used.String(),
		Balance:   toBalanceDTO(b),
	})
}

// =============================================================================
// PAYOUT HANDLERS
// =============================================================================

// RequestPayout withdraws available commission for an agent. Unlike
// redemption, payouts never clamp: insufficient balance is a hard 409.
func (h *Handler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	var req PayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required", nil)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal string", err)
		return
	}

	entryID, err := h.Commission.RequestPayout(r.Context(),
		ledger.SubjectID(req.AgentID),
		ledger.NewAmountFromDecimal(amount, ledger.CurrencyMoney))
	if err != nil {
		writeDomainError(w, "Failed to request payout", err)
		return
	}

	writeJSON(w, http.StatusCreated, PayoutResponse{
		EntryID: string(entryID),
		Status:  string(ledger.StatusPending),
	})
}

// CompletePayout marks a pending payout entry completed once the external
// transfer settles.
func (h *Handler) CompletePayout(w http.ResponseWriter, r *http.Request) {
	entryID := ledger.EntryID(chi.URLParam(r, "entryID"))

	if err := h.Commission.CompletePayout(r.Context(), entryID); err != nil {
		writeDomainError(w, "Failed to complete payout", err)
		return
	}

	writeJSON(w, http.StatusOK, PayoutResponse{
		EntryID: string(entryID),
		Status:  string(ledger.StatusCompleted),
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// GetRates returns the commission rate bands.
func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	bands := h.Rates.Bands()
	dtos := make([]RateBandDTO, len(bands))
	for i, b := range bands {
		dtos[i] = RateBandDTO{MinSubtotal: b.MinSubtotal.String(), Rate: b.Rate.String()}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SetRates replaces the commission rate bands.
func (h *Handler) SetRates(w http.ResponseWriter, r *http.Request) {
	var req []RateBandDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	bands := make([]commission.Band, len(req))
	for i, d := range req {
		min, err := decimal.NewFromString(d.MinSubtotal)
		if err != nil {
			writeError(w, http.StatusBadRequest, "min_subtotal must be a decimal string", err)
			return
		}
		rate, err := decimal.NewFromString(d.Rate)
		if err != nil || rate.IsNegative() {
			writeError(w, http.StatusBadRequest, "rate must be a non-negative decimal string", err)
			return
		}
		bands[i] = commission.Band{MinSubtotal: min, Rate: rate}
	}

	h.Rates.SetBands(bands)
	writeJSON(w, http.StatusOK, req)
}

// TriggerSweep runs a maturity sweep. With subject_id it reconciles one
// subject synchronously and returns the result; without it the full
// background sweep is kicked off.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubjectID string `json:"subject_id"`
	}
	// Empty body means "sweep everyone".
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req.SubjectID == "" {
		h.Scheduler.RunNow()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "sweep started"})
		return
	}

	result, err := h.Reconciler.Reconcile(r.Context(), ledger.SubjectID(req.SubjectID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reconcile subject", err)
		return
	}

	writeJSON(w, http.StatusOK, SweepResultDTO{
		SubjectID: string(result.SubjectID),
		Matured:   result.Matured.Value.String(),
		Entries:   result.Entries,
		Clamped:   result.Clamped,
	})
}

// ListSweepRuns returns the sweep audit history for a subject.
func (h *Handler) ListSweepRuns(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		writeError(w, http.StatusNotFound, "Sweep history not available", nil)
		return
	}
	subject := ledger.SubjectID(chi.URLParam(r, "subjectID"))

	runs, err := h.Runs.ListSweepRuns(r.Context(), subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sweep runs", err)
		return
	}

	dtos := make([]SweepRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = SweepRunDTO{
			ID:          run.ID,
			SubjectID:   string(run.SubjectID),
			Currency:    string(run.Currency),
			Matured:     run.Matured.Value.String(),
			EntryCount:  run.EntryCount,
			Status:      run.Status,
			Error:       run.Error,
			StartedAt:   run.StartedAt.Format(time.RFC3339),
			CompletedAt: run.CompletedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

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

// writeDomainError maps ledger error classes to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrAlreadyProcessed), errors.Is(err, ledger.ErrDuplicateEntry):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
