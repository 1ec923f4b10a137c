/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built ledgers for demos and manual testing of the billing
	UI. Each scenario creates one customer and drives the real engine
	(invoice runs, payments) so the resulting rows are exactly what
	production would write.

AVAILABLE SCENARIOS:

	first-invoice:     New customer, one unbilled transaction
	partial-payment:   Finalized invoice of 500 with 200 paid against it
	carried-balance:   Unpaid invoice of 500 plus 40 of new work
	retainer-rollover: Two retainers covering a month of work

HOW SCENARIOS WORK:
 1. Ensure the account has a billing profile
 2. Create the scenario's customer and job
 3. Record transactions, retainers and payments
 4. Finalize invoices through the engine where the story needs them

USAGE VIA API:

	POST /api/accounts/{accountID}/scenarios/load
	{"scenario_id": "partial-payment"}

NOTE:

	Scenarios add data; they never reset the database. Loading the same
	scenario twice fails on the duplicate customer name.

SEE ALSO:
  - handlers.go: The endpoints scenarios exercise
  - invoicing/engine.go: CreateInvoices, ApplyPayment
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/invoicing"
	"github.com/warp/invoice-engine/schema"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest names the scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// LoadScenarioResponse reports the customer the scenario created.
type LoadScenarioResponse struct {
	Scenario ScenarioDTO `json:"scenario"`
	Customer CustomerDTO `json:"customer"`
}

type scenarioLoader func(h *Handler, ctx context.Context, accountID billing.AccountID) (billing.Customer, error)

var scenarios = []ScenarioDTO{
	{
		ID:          "first-invoice",
		Name:        "First Invoice",
		Description: "New customer with one unbilled consultation of 150",
	},
	{
		ID:          "partial-payment",
		Name:        "Partial Payment",
		Description: "Invoice of 500 with a check for 200 applied; 300 still owed",
	},
	{
		ID:          "carried-balance",
		Name:        "Carried Balance",
		Description: "Unpaid invoice of 500 and 40 of new work since",
	},
	{
		ID:          "retainer-rollover",
		Name:        "Retainer Rollover",
		Description: "Retainers of 100 and 200 against 250 of work",
	},
}

var scenarioLoaders = map[string]scenarioLoader{
	"first-invoice":     (*Handler).loadFirstInvoiceScenario,
	"partial-payment":   (*Handler).loadPartialPaymentScenario,
	"carried-balance":   (*Handler).loadCarriedBalanceScenario,
	"retainer-rollover": (*Handler).loadRetainerRolloverScenario,
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a demo scenario into the account.
// POST /api/accounts/{accountID}/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	var req LoadScenarioRequest
	if !decodeValid(w, r, &req) {
		return
	}

	load, found := scenarioLoaders[req.ScenarioID]
	if !found {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q does not exist", req.ScenarioID))
		return
	}

	c, err := load(h, r.Context(), accountID)
	if err != nil {
		h.respondError(w, r, "Failed to load scenario", err)
		return
	}

	var def ScenarioDTO
	for _, s := range scenarios {
		if s.ID == req.ScenarioID {
			def = s
		}
	}
	h.Log.Info().Int64("account_id", int64(accountID)).Str("scenario", def.ID).Msg("scenario loaded")
	writeJSON(w, http.StatusCreated, LoadScenarioResponse{Scenario: def, Customer: toCustomerDTO(c)})
}

// =============================================================================
// SCENARIO: FIRST INVOICE
// =============================================================================

func (h *Handler) loadFirstInvoiceScenario(ctx context.Context, accountID billing.AccountID) (billing.Customer, error) {
	c, job, err := h.scenarioCustomer(ctx, accountID, "Dunder Paper")
	if err != nil {
		return c, err
	}
	_, err = h.scenarioWork(ctx, c, job, "Initial consultation", "1.5", "100", h.now())
	return c, err
}

// =============================================================================
// SCENARIO: PARTIAL PAYMENT
// =============================================================================

func (h *Handler) loadPartialPaymentScenario(ctx context.Context, accountID billing.AccountID) (billing.Customer, error) {
	c, job, err := h.scenarioCustomer(ctx, accountID, "Acme Holdings")
	if err != nil {
		return c, err
	}
	if _, err := h.scenarioWork(ctx, c, job, "Merger due diligence", "2", "250", h.now().AddDate(0, 0, -20)); err != nil {
		return c, err
	}
	root, err := h.scenarioFinalize(ctx, c)
	if err != nil {
		return c, err
	}

	_, err = h.Engine.ApplyPayment(ctx, accountID, 0, invoicing.PaymentRequest{
		CustomerID:      c.ID,
		InvoiceID:       &root.ID,
		PaymentDate:     h.now(),
		Amount:          decimal.NewFromInt(200),
		FormOfPayment:   "Check",
		ReferenceNumber: "1042",
	})
	return c, err
}

// =============================================================================
// SCENARIO: CARRIED BALANCE
// =============================================================================

func (h *Handler) loadCarriedBalanceScenario(ctx context.Context, accountID billing.AccountID) (billing.Customer, error) {
	c, job, err := h.scenarioCustomer(ctx, accountID, "Globex Corporation")
	if err != nil {
		return c, err
	}
	if _, err := h.scenarioWork(ctx, c, job, "Lease negotiation", "5", "100", h.now().AddDate(0, -1, 0)); err != nil {
		return c, err
	}
	if _, err := h.scenarioFinalize(ctx, c); err != nil {
		return c, err
	}
	_, err = h.scenarioWork(ctx, c, job, "Follow-up call", "0.4", "100", h.now())
	return c, err
}

// =============================================================================
// SCENARIO: RETAINER ROLLOVER
// =============================================================================

func (h *Handler) loadRetainerRolloverScenario(ctx context.Context, accountID billing.AccountID) (billing.Customer, error) {
	c, job, err := h.scenarioCustomer(ctx, accountID, "Initech")
	if err != nil {
		return c, err
	}
	for i, credit := range []int64{100, 200} {
		held := decimal.NewFromInt(credit).Neg()
		ret, err := schema.CheckRetainer(billing.Retainer{
			AccountID:       accountID,
			CustomerID:      c.ID,
			DisplayName:     fmt.Sprintf("Retainer %d", i+1),
			TypeOfHold:      "Advance fee",
			StartingAmount:  held,
			CurrentAmount:   held,
			FormOfPayment:   "Wire",
			IsActive:        true,
			CreatedAt:       h.now().AddDate(0, 0, -30+i),
			CreatedByUserID: 0,
		})
		if err != nil {
			return c, err
		}
		if _, err := h.Store.AppendRetainer(ctx, ret); err != nil {
			return c, err
		}
	}
	_, err = h.scenarioWork(ctx, c, job, "Employment agreements", "2.5", "100", h.now())
	return c, err
}

// =============================================================================
// HELPERS
// =============================================================================

// scenarioCustomer creates the customer and a job, and a billing profile
// when the account has none.
func (h *Handler) scenarioCustomer(ctx context.Context, accountID billing.AccountID, name string) (billing.Customer, billing.Job, error) {
	p, err := h.Store.BillingProfile(ctx, accountID)
	if err != nil {
		return billing.Customer{}, billing.Job{}, err
	}
	if p == nil {
		if err := h.Store.SaveBillingProfile(ctx, billing.BillingProfile{
			AccountID:     accountID,
			AccountName:   "Demo Law Firm",
			Email:         "billing@demo.test",
			InvoicePrefix: billing.DefaultInvoicePrefix,
		}); err != nil {
			return billing.Customer{}, billing.Job{}, err
		}
	}

	c, err := h.Store.SaveCustomer(ctx, billing.Customer{
		AccountID:   accountID,
		DisplayName: name,
		IsActive:    true,
		CreatedAt:   h.now().AddDate(0, -2, 0),
	})
	if err != nil {
		return c, billing.Job{}, err
	}
	job, err := h.Store.SaveJob(ctx, billing.Job{
		AccountID:   accountID,
		CustomerID:  c.ID,
		Description: "General matters",
		CreatedAt:   c.CreatedAt,
	})
	return c, job, err
}

func (h *Handler) scenarioWork(ctx context.Context, c billing.Customer, job billing.Job, what, hours, rate string, at time.Time) (billing.Transaction, error) {
	qty := decimal.RequireFromString(hours)
	cost := decimal.RequireFromString(rate)
	tx, err := schema.CheckTransaction(billing.Transaction{
		AccountID:       c.AccountID,
		CustomerID:      c.ID,
		JobID:           job.ID,
		Description:     what,
		TransactionDate: billing.Day(at),
		TransactionType: "Time",
		Quantity:        qty,
		UnitCost:        cost,
		Total:           qty.Mul(cost).Round(2),
		IsBillable:      true,
		CreatedAt:       at,
	})
	if err != nil {
		return tx, err
	}
	return h.Store.SaveTransaction(ctx, tx)
}

// scenarioFinalize runs a finalized invoice for c and returns the root.
func (h *Handler) scenarioFinalize(ctx context.Context, c billing.Customer) (billing.Invoice, error) {
	req := invoicing.CreateRequest{
		Selections: []invoicing.Selection{{CustomerID: c.ID}},
		Settings:   invoicing.Settings{IsFinalized: true},
	}
	res, err := h.Engine.CreateInvoices(ctx, c.AccountID, 0, req)
	if err != nil {
		return billing.Invoice{}, err
	}
	out := res.Outcomes[0]
	if !out.Succeeded() {
		return billing.Invoice{}, out.Err
	}
	return *out.Invoice, nil
}
