package invoicing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/documents"
)

// =============================================================================
// SELECTION PAYLOAD
// =============================================================================

// Selection names one customer to invoice.
type Selection struct {
	CustomerID billing.CustomerID `json:"customer_id" validate:"required,gt=0"`
	Note       string             `json:"note,omitempty" validate:"max=4000"`
}

// Settings apply to every invoice in a run.
type Settings struct {
	IsFinalized       bool       `json:"isFinalized"`
	IsRoughDraft      bool       `json:"isRoughDraft"`
	IsCsvOnly         bool       `json:"isCsvOnly"`
	GlobalInvoiceNote string     `json:"globalInvoiceNote,omitempty" validate:"max=4000"`
	InvoiceDate       *time.Time `json:"invoiceDate,omitempty"`
	SingleTransaction bool       `json:"singleTransaction,omitempty"`
}

// CreateRequest is the invoice creation payload.
type CreateRequest struct {
	Selections []Selection `json:"invoicesToCreate" validate:"required,min=1,unique=CustomerID,dive"`
	Settings   Settings    `json:"invoiceCreationSettings"`
}

// Finalize reports whether the run persists anything. Rough drafts and
// CSV-only runs never write, whatever IsFinalized says.
func (r CreateRequest) Finalize() bool {
	return r.Settings.IsFinalized && !r.Settings.IsRoughDraft && !r.Settings.IsCsvOnly
}

// CustomerIDs returns the selected customers in payload order.
func (r CreateRequest) CustomerIDs() []billing.CustomerID {
	ids := make([]billing.CustomerID, len(r.Selections))
	for i, s := range r.Selections {
		ids[i] = s.CustomerID
	}
	return ids
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the payload shape. It runs before any ledger read.
func (r CreateRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &billing.SelectionError{Field: fe.Namespace(), Message: selectionMessage(fe)}
	}
	return fmt.Errorf("%w: %v", billing.ErrInvalidSelection, err)
}

func selectionMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must select at least one customer"
	case "unique":
		return "must not repeat a customer"
	case "gt":
		return "must be a positive id"
	case "max":
		return "is too long"
	default:
		return "failed " + fe.Tag()
	}
}

// =============================================================================
// RUN LOCK
// =============================================================================

// Locker serializes finalized runs per account. Lock fails fast with
// billing.ErrRunInProgress when another run holds the account.
type Locker interface {
	Lock(ctx context.Context, accountID billing.AccountID) (release func(context.Context) error, err error)
}

// LocalLocker is a Locker for a single process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[billing.AccountID]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[billing.AccountID]bool)}
}

func (l *LocalLocker) Lock(_ context.Context, accountID billing.AccountID) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[accountID] {
		return nil, billing.ErrRunInProgress
	}
	l.held[accountID] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, accountID)
		return nil
	}, nil
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine wires the pipeline stages to a store. It is the entry point for
// the API and the CLI.
type Engine struct {
	Store       billing.TxStore
	Numbers     NumberSource
	Locker      Locker
	Documents   documents.Store
	Archiver    documents.Archiver
	Renderer    Renderer
	DueDays     int
	Concurrency int
	Log         zerolog.Logger
	Now         func() time.Time
}

// CreateResult is what an invoice run produced.
type CreateResult struct {
	Finalized bool                 `json:"finalized"`
	Invoices  []InvoiceWithDetail  `json:"-"`
	Documents []documents.Rendered `json:"-"`
	Outcomes  []Outcome            `json:"outcomes,omitempty"`
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) renderer() Renderer {
	if e.Renderer != nil {
		return e.Renderer
	}
	return JSONRenderer{}
}

// FindCustomersNeedingInvoices lists the account's invoice candidates.
func (e *Engine) FindCustomersNeedingInvoices(ctx context.Context, accountID billing.AccountID) ([]EligibleCustomer, error) {
	ledger, err := loadAccountLedger(ctx, e.Store, accountID)
	if err != nil {
		return nil, err
	}
	eligible := ledger.FindEligible()
	e.Log.Debug().Int64("account_id", int64(accountID)).Int("eligible", len(eligible)).Msg("eligibility scan")
	return eligible, nil
}

// CreateInvoices runs the pipeline for the selected customers. Drafts stop
// after rendering; finalized runs insert under the account's run lock.
func (e *Engine) CreateInvoices(ctx context.Context, accountID billing.AccountID, userID billing.UserID, req CreateRequest) (*CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	finalize := req.Finalize()

	if finalize && e.Locker != nil {
		release, err := e.Locker.Lock(ctx, accountID)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				e.Log.Warn().Err(err).Int64("account_id", int64(accountID)).Msg("failed to release run lock")
			}
		}()
	}

	ids := req.CustomerIDs()
	data, err := LoadLedger(ctx, e.Store, accountID, ids, e.Concurrency)
	if err != nil {
		return nil, err
	}

	calc := Calculator{Concurrency: e.Concurrency}
	calculated, err := calc.Calculate(ctx, ids, data)
	if err != nil {
		return nil, err
	}

	profile, err := e.profile(ctx, accountID, finalize)
	if err != nil {
		return nil, err
	}

	notes := make(map[billing.CustomerID]string)
	for _, s := range req.Selections {
		if s.Note != "" {
			notes[s.CustomerID] = s.Note
		}
	}
	invoiceDate := e.now()
	if req.Settings.InvoiceDate != nil {
		invoiceDate = *req.Settings.InvoiceDate
	}

	assembler := Assembler{Numbers: e.Numbers, DueDays: e.DueDays, Now: e.Now}
	invoices, err := assembler.Assemble(ctx, calculated, data, AssembleInput{
		AccountID:   accountID,
		UserID:      userID,
		Profile:     profile,
		Notes:       notes,
		GlobalNote:  req.Settings.GlobalInvoiceNote,
		InvoiceDate: invoiceDate,
		Finalized:   finalize,
	})
	if err != nil {
		return nil, err
	}

	result := &CreateResult{Finalized: finalize, Invoices: invoices}
	docs := make(map[billing.CustomerID]documents.Rendered, len(invoices))
	for _, inv := range invoices {
		doc, err := e.renderer().Render(inv)
		if err != nil {
			return nil, err
		}
		docs[inv.Customer.ID] = doc
		result.Documents = append(result.Documents, doc)
	}

	if !finalize {
		e.Log.Info().Int64("account_id", int64(accountID)).Int("invoices", len(invoices)).
			Bool("csv_only", req.Settings.IsCsvOnly).Msg("draft invoices assembled")
		return result, nil
	}

	orch := Orchestrator{Store: e.Store, Documents: e.Documents, Archiver: e.Archiver, Log: e.Log}
	outcomes, err := orch.Insert(ctx, invoices, docs, Options{SingleTransaction: req.Settings.SingleTransaction})
	result.Outcomes = outcomes
	if err != nil {
		return result, err
	}

	failed := 0
	for _, o := range outcomes {
		if !o.Succeeded() {
			failed++
		}
	}
	e.Log.Info().Int64("account_id", int64(accountID)).Int("invoices", len(outcomes)-failed).
		Int("failed", failed).Msg("invoice run finished")
	return result, nil
}

// profile loads the billing profile. Finalized invoices need one; drafts
// fall back to defaults.
func (e *Engine) profile(ctx context.Context, accountID billing.AccountID, required bool) (billing.BillingProfile, error) {
	p, err := e.Store.BillingProfile(ctx, accountID)
	if err != nil {
		return billing.BillingProfile{}, fmt.Errorf("load billing profile: %w", err)
	}
	if p == nil {
		if required {
			return billing.BillingProfile{}, fmt.Errorf("account %d: %w", accountID, billing.ErrProfileNotFound)
		}
		return billing.BillingProfile{AccountID: accountID}, nil
	}
	return *p, nil
}

// Chain returns the chain containing invoiceID.
func (e *Engine) Chain(ctx context.Context, accountID billing.AccountID, invoiceID billing.InvoiceID) (*billing.Chain, error) {
	c, err := e.Store.Chain(ctx, accountID, invoiceID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, billing.ErrInvoiceNotFound
	}
	return c, nil
}

// ListInvoices returns the chains of the account, optionally narrowed to
// customers. Each chain's head carries its current balance.
func (e *Engine) ListInvoices(ctx context.Context, accountID billing.AccountID, customerIDs []billing.CustomerID) ([]billing.Chain, error) {
	rows, err := e.Store.Invoices(ctx, billing.LedgerQuery{AccountID: accountID, CustomerIDs: customerIDs})
	if err != nil {
		return nil, err
	}
	return billing.GroupChains(rows)
}
