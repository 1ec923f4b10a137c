package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/invoice-engine/api"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/documents"
	"github.com/warp/invoice-engine/invoicing"
	"github.com/warp/invoice-engine/store/sqlite"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testServer struct {
	t      *testing.T
	router http.Handler
	store  *sqlite.Store
	docs   *documents.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := func() time.Time { return t0 }
	docs := documents.NewMemory()
	engine := &invoicing.Engine{
		Store:       store,
		Numbers:     store,
		Locker:      invoicing.NewLocalLocker(),
		Documents:   docs,
		Archiver:    docs,
		DueDays:     billing.DefaultDueDays,
		Concurrency: 2,
		Log:         zerolog.Nop(),
		Now:         clock,
	}
	h := api.NewHandler(engine, store, zerolog.Nop())
	h.Now = clock

	return &testServer{
		t:      t,
		router: api.NewRouter(h, api.RouterOptions{CORSOrigins: []string{"http://localhost:5173"}}),
		store:  store,
		docs:   docs,
	}
}

// do sends body as JSON and decodes the response into out when non-nil.
func (s *testServer) do(method, path string, body any, out any) int {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "7")
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

// seed creates a profile, a customer with a job, and one transaction of
// quantity x rate.
func (s *testServer) seed(name, quantity, rate string) api.CustomerDTO {
	s.t.Helper()
	code := s.do(http.MethodPut, "/api/accounts/1/billing-profile", api.BillingProfileRequest{
		AccountName:   "Warp Legal",
		Email:         "billing@warp.test",
		InvoicePrefix: "INV",
	}, nil)
	require.Equal(s.t, http.StatusOK, code)

	var c api.CustomerDTO
	code = s.do(http.MethodPost, "/api/accounts/1/customers", api.CreateCustomerRequest{DisplayName: name}, &c)
	require.Equal(s.t, http.StatusCreated, code)

	var job api.JobDTO
	code = s.do(http.MethodPost, "/api/accounts/1/jobs", api.CreateJobRequest{CustomerID: c.ID, Description: "General counsel"}, &job)
	require.Equal(s.t, http.StatusCreated, code)

	var tx api.TransactionDTO
	code = s.do(http.MethodPost, "/api/accounts/1/transactions", api.CreateTransactionRequest{
		CustomerID:      c.ID,
		JobID:           job.ID,
		Description:     "Contract review",
		TransactionDate: "2026-03-01",
		TransactionType: "Time",
		Quantity:        decimal.RequireFromString(quantity),
		UnitCost:        decimal.RequireFromString(rate),
	}, &tx)
	require.Equal(s.t, http.StatusCreated, code)
	return c
}

func selection(finalize bool, ids ...billing.CustomerID) map[string]any {
	sel := make([]map[string]any, len(ids))
	for i, id := range ids {
		sel[i] = map[string]any{"customer_id": id}
	}
	return map[string]any{
		"invoicesToCreate":        sel,
		"invoiceCreationSettings": map[string]any{"isFinalized": finalize},
	}
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}

// =============================================================================
// INVOICE LIFECYCLE
// =============================================================================

func TestAPI_InvoiceLifecycle(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: A customer with 1.5 hours at 100
	c := s.seed("Acme", "1.5", "100")

	// WHEN: Scanning for eligibility
	var eligible []api.EligibleCustomerDTO
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/accounts/1/invoices/eligibility", nil, &eligible))

	// THEN: The customer is listed with its 150 of work
	require.Len(t, eligible, 1)
	assert.Equal(t, c.ID, eligible[0].Customer.ID)
	assertAmount(t, "150", eligible[0].TransactionTotal)

	// WHEN: Drafting an invoice
	var draft api.CreateInvoicesResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/accounts/1/invoices", selection(false, c.ID), &draft))

	// THEN: The draft shows the next number and nothing is stored
	assert.False(t, draft.Finalized)
	require.Len(t, draft.Drafts, 1)
	assert.Equal(t, "INV-2026-00001", draft.Drafts[0].Invoice.InvoiceNumber)
	assertAmount(t, "150", draft.Drafts[0].Invoice.TotalAmountDue)
	var chains []api.ChainDTO
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/accounts/1/invoices", nil, &chains))
	assert.Empty(t, chains)

	// WHEN: Finalizing
	var final api.CreateInvoicesResponse
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/accounts/1/invoices", selection(true, c.ID), &final))

	// THEN: The invoice is stored with its document
	require.Len(t, final.Outcomes, 1)
	out := final.Outcomes[0]
	require.True(t, out.Succeeded, out.Error)
	require.NotNil(t, out.Invoice)
	assert.Equal(t, "INV-2026-00001", out.Invoice.InvoiceNumber)
	assert.Equal(t, "2026-03-18", out.Invoice.DueDate)
	assert.Equal(t, 1, out.Linked.Transactions)
	assert.Equal(t, 1, s.docs.Len())

	// WHEN: A payment of 50 is applied
	invoicePath := fmt.Sprintf("/api/accounts/1/invoices/%d", out.Invoice.ID)
	invoiceID := out.Invoice.ID
	var settled api.SettlementDTO
	code := s.do(http.MethodPost, "/api/accounts/1/payments/apply", api.PaymentRequest{
		CustomerID:    c.ID,
		InvoiceID:     &invoiceID,
		PaymentDate:   "2026-03-02",
		Amount:        decimal.NewFromInt(50),
		FormOfPayment: "Check",
	}, &settled)

	// THEN: The chain grows a child owing 100
	require.Equal(t, http.StatusCreated, code)
	require.NotNil(t, settled.Invoice)
	assertAmount(t, "100", settled.Invoice.RemainingBalance)
	var chain api.ChainDTO
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, invoicePath, nil, &chain))
	assert.Len(t, chain.Rows, 2)
	assertAmount(t, "100", chain.Outstanding)

	// AND: The invoice can no longer be deleted
	var errResp api.ErrorResponse
	assert.Equal(t, http.StatusConflict, s.do(http.MethodDelete, invoicePath, nil, &errResp))
	assert.Equal(t, "linked_records", errResp.Code)
}

func TestAPI_DeleteBareInvoice(t *testing.T) {
	s := newTestServer(t)
	c := s.seed("Acme", "1", "80")
	ctx := context.Background()

	// GIVEN: A root invoice nothing points at
	root, err := s.store.AppendInvoice(ctx, billing.Invoice{
		AccountID:        1,
		CustomerID:       c.ID,
		InvoiceNumber:    "LEGACY1",
		InvoiceDate:      billing.Day(t0),
		DueDate:          billing.Day(t0),
		TotalAmountDue:   decimal.NewFromInt(80),
		RemainingBalance: decimal.NewFromInt(80),
		StartDate:        billing.Day(t0),
		EndDate:          billing.Day(t0),
		CreatedAt:        t0,
	})
	require.NoError(t, err)
	path := fmt.Sprintf("/api/accounts/1/invoices/%d", root.ID)

	// WHEN/THEN: It is deleted, and then gone
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, path, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, path, nil, nil))
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	c := s.seed("Acme", "1", "100")

	missing := billing.InvoiceID(404)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{
			name:   "empty selection",
			method: http.MethodPost,
			path:   "/api/accounts/1/invoices",
			body:   map[string]any{"invoicesToCreate": []any{}},
			status: http.StatusBadRequest,
			code:   "invalid_selection",
		},
		{
			name:   "duplicate selection",
			method: http.MethodPost,
			path:   "/api/accounts/1/invoices",
			body:   selection(false, c.ID, c.ID),
			status: http.StatusBadRequest,
			code:   "invalid_selection",
		},
		{
			name:   "unknown invoice",
			method: http.MethodGet,
			path:   "/api/accounts/1/invoices/404",
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "payment against unknown invoice",
			method: http.MethodPost,
			path:   "/api/accounts/1/payments/apply",
			body: api.PaymentRequest{
				CustomerID: c.ID, InvoiceID: &missing, PaymentDate: "2026-03-02",
				Amount: decimal.NewFromInt(10), FormOfPayment: "Check",
			},
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "duplicate customer",
			method: http.MethodPost,
			path:   "/api/accounts/1/customers",
			body:   api.CreateCustomerRequest{DisplayName: "Acme"},
			status: http.StatusConflict,
			code:   "duplicate_customer",
		},
		{
			name:   "job for unknown customer",
			method: http.MethodPost,
			path:   "/api/accounts/1/jobs",
			body:   api.CreateJobRequest{CustomerID: 999, Description: "Audit"},
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "missing display name",
			method: http.MethodPost,
			path:   "/api/accounts/1/customers",
			body:   api.CreateCustomerRequest{Email: "x@example.test"},
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
		{
			name:   "bad account id",
			method: http.MethodGet,
			path:   "/api/accounts/abc/invoices",
			status: http.StatusBadRequest,
		},
		{
			name:   "bad customer filter",
			method: http.MethodGet,
			path:   "/api/accounts/1/invoices?customer_id=x",
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp api.ErrorResponse

			status := s.do(tt.method, tt.path, tt.body, &resp)

			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, resp.Error)
			if tt.code != "" {
				assert.Equal(t, tt.code, resp.Code)
			}
		})
	}
}

func TestAPI_OverpaymentNamesTheMaximum(t *testing.T) {
	s := newTestServer(t)
	c := s.seed("Acme", "2", "100")

	var final api.CreateInvoicesResponse
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/accounts/1/invoices", selection(true, c.ID), &final))
	invoiceID := final.Outcomes[0].Invoice.ID

	var resp api.ErrorResponse
	status := s.do(http.MethodPost, "/api/accounts/1/payments/apply", api.PaymentRequest{
		CustomerID: c.ID, InvoiceID: &invoiceID, PaymentDate: "2026-03-02",
		Amount: decimal.NewFromInt(250), FormOfPayment: "Check",
	}, &resp)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "payment_exceeds_balance", resp.Code)
	assert.Contains(t, resp.Details, "max amount $200.00")
}

func TestAPI_UnappliedPaymentIsBilledNextRun(t *testing.T) {
	s := newTestServer(t)
	c := s.seed("Acme", "1", "100")

	// GIVEN: A prepayment of 40 recorded without an invoice
	var settled api.SettlementDTO
	code := s.do(http.MethodPost, "/api/accounts/1/payments", api.PaymentRequest{
		CustomerID: c.ID, PaymentDate: "2026-03-01", Amount: decimal.NewFromInt(40), FormOfPayment: "Prepayment",
	}, &settled)
	require.Equal(t, http.StatusCreated, code)
	require.NotNil(t, settled.Payment)
	assert.Nil(t, settled.Payment.InvoiceID)

	// WHEN: Finalizing
	var final api.CreateInvoicesResponse
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/accounts/1/invoices", selection(true, c.ID), &final))

	// THEN: The payment is netted against the work
	out := final.Outcomes[0]
	require.True(t, out.Succeeded, out.Error)
	assert.Equal(t, 1, out.Linked.Payments)
	assertAmount(t, "60", out.Invoice.TotalAmountDue)
}

func TestAPI_Health(t *testing.T) {
	s := newTestServer(t)

	var body map[string]string
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

// =============================================================================
// SCHEDULER
// =============================================================================

type fakeScanner struct {
	calls int
	fail  billing.AccountID
}

func (f *fakeScanner) FindCustomersNeedingInvoices(_ context.Context, accountID billing.AccountID) ([]invoicing.EligibleCustomer, error) {
	f.calls++
	if accountID == f.fail {
		return nil, errors.New("database is locked")
	}
	return []invoicing.EligibleCustomer{{Customer: billing.Customer{ID: 3, AccountID: accountID}}}, nil
}

func TestEligibilityScheduler_RunNowRecordsEachAccount(t *testing.T) {
	scanner := &fakeScanner{fail: 2}
	s := api.NewEligibilityScheduler(scanner, []billing.AccountID{1, 2}, time.Hour, zerolog.Nop())

	s.RunNow(context.Background())

	assert.Equal(t, 2, scanner.calls)
	ok1, found := s.Last(1)
	require.True(t, found)
	require.NoError(t, ok1.Err)
	assert.Len(t, ok1.Eligible, 1)
	failed, found := s.Last(2)
	require.True(t, found)
	assert.Error(t, failed.Err)
	_, found = s.Last(3)
	assert.False(t, found)
}

func TestEligibilityScheduler_DisabledWithoutInterval(t *testing.T) {
	scanner := &fakeScanner{}
	s := api.NewEligibilityScheduler(scanner, []billing.AccountID{1}, 0, zerolog.Nop())

	s.Start()
	s.Stop()

	assert.Equal(t, 0, scanner.calls)
}
