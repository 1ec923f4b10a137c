package api_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/invoice-engine/api"
)

func (s *testServer) loadScenario(id string) api.LoadScenarioResponse {
	s.t.Helper()
	var out api.LoadScenarioResponse
	code := s.do(http.MethodPost, "/api/accounts/1/scenarios/load", api.LoadScenarioRequest{ScenarioID: id}, &out)
	require.Equal(s.t, http.StatusCreated, code)
	return out
}

func TestScenarios_List(t *testing.T) {
	s := newTestServer(t)

	var list []api.ScenarioDTO
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/scenarios", nil, &list))

	ids := make([]string, len(list))
	for i, sc := range list {
		ids[i] = sc.ID
	}
	assert.Equal(t, []string{"first-invoice", "partial-payment", "carried-balance", "retainer-rollover"}, ids)
}

func TestScenarios_FirstInvoice(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: The first-invoice scenario on an empty account
	out := s.loadScenario("first-invoice")
	assert.Equal(t, "Dunder Paper", out.Customer.DisplayName)

	// WHEN: Scanning
	var eligible []api.EligibleCustomerDTO
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/accounts/1/invoices/eligibility", nil, &eligible))

	// THEN: The customer needs an invoice for 150 and owes nothing yet
	require.Len(t, eligible, 1)
	assertAmount(t, "150", eligible[0].TransactionTotal)
	assertAmount(t, "0", eligible[0].OutstandingTotal)
}

func TestScenarios_PartialPayment(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: The partial-payment scenario
	out := s.loadScenario("partial-payment")

	// WHEN: Listing the customer's invoices
	var chains []api.ChainDTO
	path := fmt.Sprintf("/api/accounts/1/invoices?customer_id=%d", out.Customer.ID)
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, path, nil, &chains))

	// THEN: One chain of root plus payment row, with 300 still owed
	require.Len(t, chains, 1)
	assertAmount(t, "300", chains[0].Outstanding)
	require.Len(t, chains[0].Rows, 2)
	assertAmount(t, "500", chains[0].Rows[0].RemainingBalance)
	assertAmount(t, "-200", chains[0].Rows[1].TotalPayments)
}

func TestScenarios_CarriedBalance(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: The carried-balance scenario
	out := s.loadScenario("carried-balance")

	// WHEN: Drafting the next invoice
	var draft api.CreateInvoicesResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/accounts/1/invoices", selection(false, out.Customer.ID), &draft))

	// THEN: The unpaid 500 is carried in and only the new 40 is charged
	require.Len(t, draft.Drafts, 1)
	inv := draft.Drafts[0].Invoice
	assert.Equal(t, "INV-2026-00002", inv.InvoiceNumber)
	assertAmount(t, "500", inv.BeginningBalance)
	assertAmount(t, "40", inv.TotalCharges)
	assertAmount(t, "540", inv.TotalAmountDue)
}

func TestScenarios_RetainerRollover(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: The retainer-rollover scenario
	out := s.loadScenario("retainer-rollover")

	// WHEN: Drafting an invoice
	var draft api.CreateInvoicesResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/accounts/1/invoices", selection(false, out.Customer.ID), &draft))

	// THEN: Both retainers are drawn and nothing is due
	require.Len(t, draft.Drafts, 1)
	d := draft.Drafts[0]
	assert.Len(t, d.Allocations, 2)
	assertAmount(t, "-250", d.Invoice.TotalRetainers)
	assertAmount(t, "0", d.Invoice.TotalAmountDue)
}

func TestScenarios_Errors(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: An unknown scenario
	var resp api.ErrorResponse
	code := s.do(http.MethodPost, "/api/accounts/1/scenarios/load", api.LoadScenarioRequest{ScenarioID: "nope"}, &resp)

	// THEN: It is rejected
	assert.Equal(t, http.StatusBadRequest, code)

	// WHEN: Loading the same scenario twice
	s.loadScenario("first-invoice")
	resp = api.ErrorResponse{}
	code = s.do(http.MethodPost, "/api/accounts/1/scenarios/load", api.LoadScenarioRequest{ScenarioID: "first-invoice"}, &resp)

	// THEN: The duplicate customer name conflicts
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "duplicate_customer", resp.Code)
}
