package invoicing_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/documents"
	"github.com/warp/invoice-engine/invoicing"
	"github.com/warp/invoice-engine/store/sqlite"
)

const (
	account = billing.AccountID(1)
	user    = billing.UserID(7)
)

// t0 is the clock every fixture starts at.
var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *sqlite.Store
	docs   *documents.Memory
	engine *invoicing.Engine
	now    time.Time
	legacy int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveBillingProfile(ctx, billing.BillingProfile{
		AccountID:     account,
		AccountName:   "Warp Legal",
		Email:         "billing@warp.test",
		InvoicePrefix: "INV",
	}))

	f := &fixture{t: t, ctx: ctx, store: store, docs: documents.NewMemory(), now: t0}
	f.engine = &invoicing.Engine{
		Store:       store,
		Numbers:     store,
		Locker:      invoicing.NewLocalLocker(),
		Documents:   f.docs,
		Archiver:    f.docs,
		DueDays:     billing.DefaultDueDays,
		Concurrency: 2,
		Log:         zerolog.Nop(),
		Now:         f.clock,
	}
	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) customer(name string) billing.Customer {
	f.t.Helper()
	c, err := f.store.SaveCustomer(f.ctx, billing.Customer{
		AccountID:   account,
		DisplayName: name,
		IsActive:    true,
		Contact:     billing.ContactInfo{Email: name + "@example.test"},
		CreatedAt:   f.now,
	})
	require.NoError(f.t, err)
	return c
}

func (f *fixture) transaction(c billing.Customer, amount string, at time.Time) billing.Transaction {
	f.t.Helper()
	tx, err := f.store.SaveTransaction(f.ctx, billing.Transaction{
		AccountID:       account,
		CustomerID:      c.ID,
		LoggedForUserID: user,
		Description:     "Consultation",
		TransactionDate: billing.Day(at),
		TransactionType: "Time",
		Quantity:        decimal.NewFromInt(1),
		UnitCost:        dec(amount),
		Total:           dec(amount),
		IsBillable:      true,
		CreatedAt:       at,
		CreatedByUserID: user,
	})
	require.NoError(f.t, err)
	return tx
}

// payment records an unapplied payment of -amount.
func (f *fixture) payment(c billing.Customer, amount string, at time.Time) billing.Payment {
	f.t.Helper()
	p, err := f.store.SavePayment(f.ctx, billing.Payment{
		AccountID:       account,
		CustomerID:      c.ID,
		PaymentDate:     billing.Day(at),
		Amount:          dec(amount).Neg(),
		FormOfPayment:   "Check",
		IsBillable:      true,
		CreatedAt:       at,
		CreatedByUserID: user,
	})
	require.NoError(f.t, err)
	return p
}

// root appends a root invoice whose number does not parse, so it never
// seeds the invoice sequence.
func (f *fixture) root(c billing.Customer, remaining string, at time.Time) billing.Invoice {
	f.t.Helper()
	f.legacy++
	amount := dec(remaining)
	inv, err := f.store.AppendInvoice(f.ctx, billing.Invoice{
		AccountID:        account,
		CustomerID:       c.ID,
		CustomerInfoID:   c.Contact.CustomerInfoID,
		InvoiceNumber:    fmt.Sprintf("LEGACY%d", f.legacy),
		InvoiceDate:      billing.Day(at),
		DueDate:          billing.DueDate(at, billing.DefaultDueDays),
		BeginningBalance: decimal.Zero,
		TotalCharges:     amount,
		TotalAmountDue:   amount,
		StartDate:        billing.Day(at),
		EndDate:          billing.Day(at),
		CreatedByUserID:  user,
		CreatedAt:        at,
	}.WithRemaining(amount, at))
	require.NoError(f.t, err)
	return inv
}

// retainer opens a retainer holding credit.
func (f *fixture) retainer(c billing.Customer, credit string, at time.Time) billing.Retainer {
	f.t.Helper()
	held := dec(credit).Neg()
	r, err := f.store.AppendRetainer(f.ctx, billing.Retainer{
		AccountID:       account,
		CustomerID:      c.ID,
		DisplayName:     "Retainer " + credit,
		TypeOfHold:      "Retainer",
		StartingAmount:  held,
		CurrentAmount:   held,
		FormOfPayment:   "Check",
		IsActive:        true,
		CreatedAt:       at,
		CreatedByUserID: user,
	})
	require.NoError(f.t, err)
	return r
}

func (f *fixture) unbilledTransactions(c billing.Customer) []billing.Transaction {
	f.t.Helper()
	rows, err := f.store.Transactions(f.ctx, billing.LedgerQuery{
		AccountID:   account,
		CustomerIDs: []billing.CustomerID{c.ID},
		Unbilled:    true,
	})
	require.NoError(f.t, err)
	return rows
}

func (f *fixture) invoices(c billing.Customer) []billing.Invoice {
	f.t.Helper()
	rows, err := f.store.Invoices(f.ctx, billing.LedgerQuery{
		AccountID:   account,
		CustomerIDs: []billing.CustomerID{c.ID},
	})
	require.NoError(f.t, err)
	return rows
}

func (f *fixture) chain(id billing.InvoiceID) *billing.Chain {
	f.t.Helper()
	c, err := f.store.Chain(f.ctx, account, id)
	require.NoError(f.t, err)
	require.NotNil(f.t, c)
	return c
}

// prepare runs every stage up to insertion for a finalized batch.
func (f *fixture) prepare(ids ...billing.CustomerID) ([]invoicing.InvoiceWithDetail, map[billing.CustomerID]documents.Rendered) {
	f.t.Helper()
	data, err := invoicing.LoadLedger(f.ctx, f.store, account, ids, 2)
	require.NoError(f.t, err)

	calc := invoicing.Calculator{}
	calculated, err := calc.Calculate(f.ctx, ids, data)
	require.NoError(f.t, err)

	asm := invoicing.Assembler{Numbers: f.store, Now: f.clock}
	invoices, err := asm.Assemble(f.ctx, calculated, data, invoicing.AssembleInput{
		AccountID: account,
		UserID:    user,
		Profile:   billing.BillingProfile{AccountID: account},
		Finalized: true,
	})
	require.NoError(f.t, err)

	docs := make(map[billing.CustomerID]documents.Rendered, len(invoices))
	for _, inv := range invoices {
		doc, err := invoicing.JSONRenderer{}.Render(inv)
		require.NoError(f.t, err)
		docs[inv.Customer.ID] = doc
	}
	return invoices, docs
}

func finalize(ids ...billing.CustomerID) invoicing.CreateRequest {
	req := invoicing.CreateRequest{Settings: invoicing.Settings{IsFinalized: true}}
	for _, id := range ids {
		req.Selections = append(req.Selections, invoicing.Selection{CustomerID: id})
	}
	return req
}

func draft(ids ...billing.CustomerID) invoicing.CreateRequest {
	req := finalize(ids...)
	req.Settings.IsFinalized = false
	return req
}
