package invoicing_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/invoicing"
)

func newOrchestrator(f *fixture) *invoicing.Orchestrator {
	return &invoicing.Orchestrator{Store: f.store, Documents: f.docs, Archiver: f.docs, Log: zerolog.Nop()}
}

func TestInsert_FailingCustomerRollsBackAlone(t *testing.T) {
	f := newFixture(t)
	a := f.customer("Acme")
	b := f.customer("Globex")
	f.transaction(a, "100", f.now)
	tb := f.transaction(b, "200", f.now)

	// GIVEN: Both invoices are calculated
	invoices, docs := f.prepare(a.ID, b.ID)

	// AND: Another run bills b's transaction before this one inserts
	other := f.root(b, "200", f.now)
	tb.InvoiceID = &other.ID
	_, err := f.store.SaveTransaction(f.ctx, tb)
	require.NoError(t, err)

	// WHEN: Inserting the batch
	outcomes, err := newOrchestrator(f).Insert(f.ctx, invoices, docs, invoicing.Options{})

	// THEN: a commits and b rolls back with a concurrency error
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Succeeded())
	assert.False(t, outcomes[1].Succeeded())
	assert.ErrorIs(t, outcomes[1].Err, billing.ErrConcurrentModification)

	// AND: b keeps only the other run's invoice and its document is gone
	assert.Len(t, f.invoices(a), 1)
	bRows := f.invoices(b)
	require.Len(t, bRows, 1)
	assert.Equal(t, other.ID, bRows[0].ID)
	assert.Empty(t, outcomes[1].FileLocation)
	assert.Equal(t, 1, f.docs.Len())
	_, ok := f.docs.Get(outcomes[0].FileLocation)
	assert.True(t, ok)
}

func TestInsert_SingleTransactionIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	a := f.customer("Acme")
	b := f.customer("Globex")
	f.transaction(a, "100", f.now)
	tb := f.transaction(b, "200", f.now)

	invoices, docs := f.prepare(a.ID, b.ID)

	other := f.root(b, "200", f.now)
	tb.InvoiceID = &other.ID
	_, err := f.store.SaveTransaction(f.ctx, tb)
	require.NoError(t, err)

	// WHEN: Inserting with one transaction for the whole batch
	outcomes, err := newOrchestrator(f).Insert(f.ctx, invoices, docs, invoicing.Options{SingleTransaction: true})

	// THEN: Nothing commits, not even the healthy customer
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrConcurrentModification)
	for _, out := range outcomes {
		assert.False(t, out.Succeeded())
		assert.Empty(t, out.FileLocation)
	}
	assert.Empty(t, f.invoices(a))
	assert.Len(t, f.unbilledTransactions(a), 1)
	assert.Equal(t, 0, f.docs.Len())
}

func TestInsert_LateTransactionIsNeitherLinkedNorLost(t *testing.T) {
	f := newFixture(t)
	c := f.customer("Acme")
	f.transaction(c, "100", f.now)

	// GIVEN: An invoice was calculated
	invoices, docs := f.prepare(c.ID)

	// AND: New work arrives before insertion
	late := f.transaction(c, "75", f.now.Add(time.Minute))

	// WHEN: Inserting
	outcomes, err := newOrchestrator(f).Insert(f.ctx, invoices, docs, invoicing.Options{})
	require.NoError(t, err)
	require.True(t, outcomes[0].Succeeded())

	// THEN: The late transaction is still unbilled
	unbilled := f.unbilledTransactions(c)
	require.Len(t, unbilled, 1)
	assert.Equal(t, late.ID, unbilled[0].ID)
	assertAmount(t, "100", outcomes[0].Invoice.TotalCharges)

	// AND: The next invoice bills it exactly once
	f.advance(24 * time.Hour)
	res, err := f.engine.CreateInvoices(f.ctx, account, user, finalize(c.ID))
	require.NoError(t, err)
	require.True(t, res.Outcomes[0].Succeeded())
	assertAmount(t, "75", res.Outcomes[0].Invoice.TotalCharges)
	assert.Empty(t, f.unbilledTransactions(c))
}

func TestInsert_LinksUnbilledPaymentsToNewInvoice(t *testing.T) {
	f := newFixture(t)
	c := f.customer("Acme")
	f.transaction(c, "100", f.now)
	p := f.payment(c, "40", f.now)

	invoices, docs := f.prepare(c.ID)
	outcomes, err := newOrchestrator(f).Insert(f.ctx, invoices, docs, invoicing.Options{})

	require.NoError(t, err)
	out := outcomes[0]
	require.True(t, out.Succeeded())
	assert.Equal(t, 1, out.Linked.Payments)
	assertAmount(t, "-40", out.Invoice.TotalPayments)
	assertAmount(t, "60", out.Invoice.TotalAmountDue)

	links, err := f.store.InvoiceLinks(f.ctx, out.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, links.Payments)
	assert.Equal(t, 1, links.Transactions)

	// Linking the same payment again is refused.
	p.InvoiceID = &out.Invoice.ID
	_, err = f.store.SavePayment(f.ctx, p)
	assert.ErrorIs(t, err, billing.ErrConcurrentModification)
}
