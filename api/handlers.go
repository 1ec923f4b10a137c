/*
handlers.go - HTTP API handlers for the invoice engine

PURPOSE:
  Exposes the invoice engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the invoicing package.

ENDPOINTS (all under /api/accounts/{accountID}):
  Setup:
    GET    /billing-profile              Pay-to details and numbering prefix
    PUT    /billing-profile              Create or replace the profile
    GET    /customers                    List active customers
    POST   /customers                    Create customer
    POST   /jobs                         Open a job for a customer
    POST   /transactions                 Record billable work
    POST   /retainers                    Open a retainer

  Invoicing:
    GET    /invoices/eligibility         Customers that need an invoice
    POST   /invoices                     Draft or finalize invoices
    GET    /invoices                     List chains (?customer_id=1,2)
    GET    /invoices/{invoiceID}         One chain, root first
    DELETE /invoices/{invoiceID}         Delete a bare root invoice

  Settlement:
    POST   /payments                     Record an unapplied payment
    POST   /payments/apply               Apply a payment to an invoice chain
    POST   /writeoffs                    Record a write-off

ACTING USER:
  The X-User-ID header names the user recorded as creator. It is
  optional; authentication happens in front of this service.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body, invalid selection, overpayment
  - 404: Unknown invoice, retainer, customer or profile
  - 409: Linked records, concurrent modification, run in progress
  - 422: A ledger row failed schema validation
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - invoicing/engine.go: The pipeline behind POST /invoices
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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/invoicing"
	"github.com/warp/invoice-engine/schema"
	"github.com/warp/invoice-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the master-data surface the handlers write through. The
// engine owns every invoice, payment and write-off write.
type Store interface {
	billing.LedgerReader
	SaveCustomer(ctx context.Context, c billing.Customer) (billing.Customer, error)
	SaveBillingProfile(ctx context.Context, p billing.BillingProfile) error
	SaveJob(ctx context.Context, j billing.Job) (billing.Job, error)
	SaveTransaction(ctx context.Context, t billing.Transaction) (billing.Transaction, error)
	AppendRetainer(ctx context.Context, r billing.Retainer) (billing.Retainer, error)
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *invoicing.Engine
	Store  Store
	Log    zerolog.Logger
	Now    func() time.Time
}

// NewHandler creates a new handler.
func NewHandler(engine *invoicing.Engine, store Store, log zerolog.Logger) *Handler {
	return &Handler{Engine: engine, Store: store, Log: log}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

// Health reports whether the database answers.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// BILLING PROFILE & CUSTOMERS
// =============================================================================

// GetBillingProfile returns the account's billing profile.
// GET /api/accounts/{accountID}/billing-profile
func (h *Handler) GetBillingProfile(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	p, err := h.Store.BillingProfile(r.Context(), accountID)
	if err != nil {
		h.respondError(w, r, "Failed to load billing profile", err)
		return
	}
	if p == nil {
		h.respondError(w, r, "Billing profile not found", billing.ErrProfileNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toBillingProfileDTO(*p))
}

// PutBillingProfile creates or replaces the account's billing profile.
// PUT /api/accounts/{accountID}/billing-profile
func (h *Handler) PutBillingProfile(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	var req BillingProfileRequest
	if !decodeValid(w, r, &req) {
		return
	}

	p := billing.BillingProfile{
		AccountID:         accountID,
		AccountName:       req.AccountName,
		Street:            req.Street,
		City:              req.City,
		State:             req.State,
		Zip:               req.Zip,
		Email:             req.Email,
		Phone:             req.Phone,
		InvoicePrefix:     req.InvoicePrefix,
		LastInvoiceNumber: req.LastInvoiceNumber,
		DueDays:           req.DueDays,
	}
	if err := h.Store.SaveBillingProfile(r.Context(), p); err != nil {
		h.respondError(w, r, "Failed to save billing profile", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillingProfileDTO(p))
}

// ListCustomers returns the account's active customers.
// GET /api/accounts/{accountID}/customers
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	customers, err := h.Store.Customers(r.Context(), accountID, nil)
	if err != nil {
		h.respondError(w, r, "Failed to list customers", err)
		return
	}
	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCustomer creates a customer.
// POST /api/accounts/{accountID}/customers
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	var req CreateCustomerRequest
	if !decodeValid(w, r, &req) {
		return
	}

	c, err := h.Store.SaveCustomer(r.Context(), billing.Customer{
		AccountID:    accountID,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		BusinessName: req.BusinessName,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Contact: billing.ContactInfo{
			Street: req.Street,
			City:   req.City,
			State:  req.State,
			Zip:    req.Zip,
			Email:  req.Email,
			Phone:  req.Phone,
		},
		IsActive:  true,
		CreatedAt: h.now(),
	})
	if err != nil {
		h.respondError(w, r, "Failed to create customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

// CreateJob opens a job for a customer.
// POST /api/accounts/{accountID}/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	var req CreateJobRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if !h.customerExists(w, r, accountID, req.CustomerID) {
		return
	}

	j, err := h.Store.SaveJob(r.Context(), billing.Job{
		AccountID:   accountID,
		CustomerID:  req.CustomerID,
		Description: req.Description,
		CreatedAt:   h.now(),
	})
	if err != nil {
		h.respondError(w, r, "Failed to create job", err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobDTO(j))
}

// =============================================================================
// LEDGER ROWS
// =============================================================================

// CreateTransaction records unbilled work. Total is quantity x unit cost.
// POST /api/accounts/{accountID}/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	var req CreateTransactionRequest
	if !decodeValid(w, r, &req) {
		return
	}
	date, err := parseDate(req.TransactionDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction_date", err)
		return
	}
	if !h.customerExists(w, r, accountID, req.CustomerID) {
		return
	}

	billable := true
	if req.IsBillable != nil {
		billable = *req.IsBillable
	}
	userID := userParam(r)
	tx, err := schema.CheckTransaction(billing.Transaction{
		AccountID:       accountID,
		CustomerID:      req.CustomerID,
		JobID:           req.JobID,
		RetainerID:      req.RetainerID,
		LoggedForUserID: req.LoggedForUserID,
		Description:     req.Description,
		TransactionDate: date,
		TransactionType: req.TransactionType,
		Quantity:        req.Quantity,
		UnitCost:        req.UnitCost,
		Total:           req.Quantity.Mul(req.UnitCost).Round(2),
		IsBillable:      billable,
		CreatedAt:       h.now(),
		CreatedByUserID: userID,
		Note:            req.Note,
	})
	if err != nil {
		h.respondError(w, r, "Invalid transaction", err)
		return
	}

	tx, err = h.Store.SaveTransaction(r.Context(), tx)
	if err != nil {
		h.respondError(w, r, "Failed to create transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// CreateRetainer opens a retainer chain. The request amount is the credit
// held; the ledger stores it negative.
// POST /api/accounts/{accountID}/retainers
func (h *Handler) CreateRetainer(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	var req CreateRetainerRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if req.Amount.IsZero() {
		writeError(w, http.StatusBadRequest, "Invalid retainer", errors.New("amount must not be zero"))
		return
	}
	if !h.customerExists(w, r, accountID, req.CustomerID) {
		return
	}

	held := req.Amount.Abs().Neg()
	ret, err := schema.CheckRetainer(billing.Retainer{
		AccountID:       accountID,
		CustomerID:      req.CustomerID,
		DisplayName:     req.DisplayName,
		TypeOfHold:      req.TypeOfHold,
		StartingAmount:  held,
		CurrentAmount:   held,
		FormOfPayment:   req.FormOfPayment,
		ReferenceNumber: req.ReferenceNumber,
		IsActive:        true,
		CreatedAt:       h.now(),
		CreatedByUserID: userParam(r),
		Note:            req.Note,
	})
	if err != nil {
		h.respondError(w, r, "Invalid retainer", err)
		return
	}

	ret, err = h.Store.AppendRetainer(r.Context(), ret)
	if err != nil {
		h.respondError(w, r, "Failed to create retainer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRetainerDTO(ret))
}

// =============================================================================
// INVOICING
// =============================================================================

// FindEligible lists customers that need an invoice.
// GET /api/accounts/{accountID}/invoices/eligibility
func (h *Handler) FindEligible(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	eligible, err := h.Engine.FindCustomersNeedingInvoices(r.Context(), accountID)
	if err != nil {
		h.respondError(w, r, "Failed to scan customers", err)
		return
	}
	dtos := make([]EligibleCustomerDTO, len(eligible))
	for i, e := range eligible {
		dtos[i] = toEligibleDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateInvoices drafts or finalizes invoices for the selected customers.
// POST /api/accounts/{accountID}/invoices
func (h *Handler) CreateInvoices(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	var req invoicing.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Engine.CreateInvoices(r.Context(), accountID, userParam(r), req)
	if err != nil {
		h.respondError(w, r, "Failed to create invoices", err)
		return
	}

	resp := CreateInvoicesResponse{Finalized: result.Finalized}
	if !result.Finalized {
		resp.Drafts = make([]DraftDTO, len(result.Invoices))
		for i, inv := range result.Invoices {
			name := ""
			if i < len(result.Documents) {
				name = result.Documents[i].Name
			}
			resp.Drafts[i] = toDraftDTO(inv, name)
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Outcomes = make([]OutcomeDTO, len(result.Outcomes))
	for i, o := range result.Outcomes {
		resp.Outcomes[i] = toOutcomeDTO(o)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListInvoices returns invoice chains, optionally for some customers.
// GET /api/accounts/{accountID}/invoices?customer_id=1,2
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	var ids []billing.CustomerID
	for _, raw := range r.URL.Query()["customer_id"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				writeError(w, http.StatusBadRequest, "Invalid customer_id", fmt.Errorf("%q is not a customer id", part))
				return
			}
			ids = append(ids, billing.CustomerID(id))
		}
	}

	chains, err := h.Engine.ListInvoices(r.Context(), accountID, ids)
	if err != nil {
		h.respondError(w, r, "Failed to list invoices", err)
		return
	}
	dtos := make([]ChainDTO, len(chains))
	for i, c := range chains {
		dtos[i] = toChainDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetInvoice returns the chain containing an invoice.
// GET /api/accounts/{accountID}/invoices/{invoiceID}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	invoiceID, ok := invoiceParam(w, r)
	if !ok {
		return
	}
	chain, err := h.Engine.Chain(r.Context(), accountID, invoiceID)
	if err != nil {
		h.respondError(w, r, "Failed to load invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toChainDTO(*chain))
}

// DeleteInvoice deletes a root invoice nothing depends on.
// DELETE /api/accounts/{accountID}/invoices/{invoiceID}
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	invoiceID, ok := invoiceParam(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeleteInvoice(r.Context(), accountID, invoiceID); err != nil {
		h.respondError(w, r, "Failed to delete invoice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// RecordPayment stores a payment without applying it to an invoice. The
// next invoice run picks it up.
// POST /api/accounts/{accountID}/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	h.payment(w, r, false)
}

// ApplyPayment settles an invoice chain with a payment.
// POST /api/accounts/{accountID}/payments/apply
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	h.payment(w, r, true)
}

func (h *Handler) payment(w http.ResponseWriter, r *http.Request, apply bool) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	var body PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req, err := body.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment", err)
		return
	}

	var s *invoicing.Settlement
	if apply {
		if req.InvoiceID == nil {
			writeError(w, http.StatusBadRequest, "Invalid payment", errors.New("invoice_id is required"))
			return
		}
		s, err = h.Engine.ApplyPayment(r.Context(), accountID, userParam(r), req)
	} else {
		req.InvoiceID = nil
		s, err = h.Engine.RecordPayment(r.Context(), accountID, userParam(r), req)
	}
	if err != nil {
		h.respondError(w, r, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSettlementDTO(s))
}

// CreateWriteOff records a write-off, settling the named invoice chain.
// POST /api/accounts/{accountID}/writeoffs
func (h *Handler) CreateWriteOff(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	var body WriteOffRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req, err := body.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid write-off", err)
		return
	}

	s, err := h.Engine.ApplyWriteOff(r.Context(), accountID, userParam(r), req)
	if err != nil {
		h.respondError(w, r, "Failed to record write-off", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSettlementDTO(s))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) customerExists(w http.ResponseWriter, r *http.Request, accountID billing.AccountID, id billing.CustomerID) bool {
	found, err := h.Store.Customers(r.Context(), accountID, []billing.CustomerID{id})
	if err != nil {
		h.respondError(w, r, "Failed to load customer", err)
		return false
	}
	if len(found) == 0 {
		h.respondError(w, r, "Customer not found", fmt.Errorf("%w: %d", billing.ErrCustomerNotFound, id))
		return false
	}
	return true
}

func accountParam(w http.ResponseWriter, r *http.Request) (billing.AccountID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid account id", nil)
		return 0, false
	}
	return billing.AccountID(id), true
}

func invoiceParam(w http.ResponseWriter, r *http.Request) (billing.InvoiceID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "invoiceID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid invoice id", nil)
		return 0, false
	}
	return billing.InvoiceID(id), true
}

// userParam reads X-User-ID; a missing or malformed header is user 0.
func userParam(r *http.Request) billing.UserID {
	id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return billing.UserID(id)
}

// decodeValid decodes the body into dst and runs its validator tags.
func decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "invalid_request", Details: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// statusFor maps an engine error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, schema.ErrSchemaValidation):
		return http.StatusUnprocessableEntity, "schema_validation"
	case errors.Is(err, billing.ErrInvalidSelection):
		return http.StatusBadRequest, "invalid_selection"
	case errors.Is(err, billing.ErrPaymentExceedsBalance):
		return http.StatusBadRequest, "payment_exceeds_balance"
	case errors.Is(err, billing.ErrRetainerExceeded):
		return http.StatusBadRequest, "retainer_exceeded"
	case billing.IsClientError(err):
		return http.StatusBadRequest, "invalid_request"
	case billing.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, billing.ErrRunInProgress):
		return http.StatusConflict, "run_in_progress"
	case errors.Is(err, billing.ErrLinkedRecords):
		return http.StatusConflict, "linked_records"
	case errors.Is(err, sqlite.ErrDuplicateDisplayName):
		return http.StatusConflict, "duplicate_customer"
	case billing.IsConflict(err):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// respondError writes err with the mapped status. Server errors are logged.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error().Err(err).Str("path", r.URL.Path).Msg(message)
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
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
