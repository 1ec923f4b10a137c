package invoicing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/invoicing"
)

func paymentFor(c billing.Customer, invoiceID billing.InvoiceID, amount string, at time.Time) invoicing.PaymentRequest {
	return invoicing.PaymentRequest{
		CustomerID:    c.ID,
		InvoiceID:     &invoiceID,
		PaymentDate:   at,
		Amount:        dec(amount),
		FormOfPayment: "Check",
	}
}

func TestApplyPayment_PartialPaymentAppendsChild(t *testing.T) {
	f := newFixture(t)
	c := f.customer("Acme")

	// GIVEN: A root invoice of 500 with no children
	root := f.root(c, "500", f.now.Add(-24*time.Hour))

	// WHEN: A payment of 200 arrives
	s, err := f.engine.ApplyPayment(f.ctx, account, user, paymentFor(c, root.ID, "200", f.now))

	// THEN: A child row carries the remaining 300
	require.NoError(t, err)
	child := s.Invoice
	assert.Equal(t, root.ID, child.ChainID)
	assert.Equal(t, 1, child.Sequence)
	require.NotNil(t, child.ParentInvoiceID)
	assert.Equal(t, root.ID, *child.ParentInvoiceID)
	assertAmount(t, "300", child.RemainingBalance)
	assert.False(t, child.IsPaidInFull)
	assert.Nil(t, child.FullyPaidDate)
	assertAmount(t, "-200", child.TotalPayments)

	// AND: The root is untouched and the payment is linked to the child
	chain := f.chain(root.ID)
	assert.Equal(t, 2, chain.Len())
	assertAmount(t, "500", chain.Root().RemainingBalance)
	assert.False(t, chain.Root().IsPaidInFull)
	require.NotNil(t, s.Payment.InvoiceID)
	assert.Equal(t, child.ID, *s.Payment.InvoiceID)
	assertAmount(t, "-200", s.Payment.Amount)
}

func TestApplyPayment_FullPaymentMarksPaid(t *testing.T) {
	f := newFixture(t)
	c := f.customer("Acme")
	root := f.root(c, "500", f.now.Add(-24*time.Hour))

	// WHEN: A payment of exactly 500 arrives
	s, err := f.engine.ApplyPayment(f.ctx, account, user, paymentFor(c, root.ID, "500", f.now))

	// THEN: The child is paid in full with a paid date
	require.NoError(t, err)
	assertAmount(t, "0", s.Invoice.RemainingBalance)
	assert.True(t, s.Invoice.IsPaidInFull)
	require.NotNil(t, s.Invoice.FullyPaidDate)

	stored := f.chain(root.ID).Head()
	assert.True(t, stored.IsPaidInFull)
	assert.NotNil(t, stored.FullyPaidDate)
	assertAmount(t, "500", f.chain(root.ID).Root().RemainingBalance)
}

func TestApplyPayment_RejectsMoreThanRemaining(t *testing.T) {
	f := newFixture(t)
	c := f.customer("Acme")
	root := f.root(c, "500", f.now.Add(-24*time.Hour))

	_, err := f.engine.ApplyPayment(f.ctx, account, user, paymentFor(c, root.ID, "500.01", f.now))

	var pe *billing.PaymentExceedsBalanceError
	require.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, billing.ErrPaymentExceedsBalance)
	assertAmount(t, "500", pe.Remaining)
	assert.Contains(t, err.Error(), "max amount $500.00")
	assert.Equal(t, 1, f.chain(root.ID).Len())
}

func TestApplyPayment_UnknownInvoice(t *testing.T) {
	f := newFixture(t)
	c := f.customer("Acme")

	_, err := f.engine.ApplyPayment(f.ctx, account, user, paymentFor(c, 404, "10", f.now))

	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)
}

func TestApplyPayment_DrawsFromRetainer(t *testing.T) {
	f := newFixture(t)
	c := f.customer("Acme")
	root := f.root(c, "500", f.now.Add(-24*time.Hour))
	r := f.retainer(c, "100", f.now.Add(-48*time.Hour))

	// WHEN: 80 of the payment comes from the retainer
	req := paymentFor(c, root.ID, "80", f.now)
	req.RetainerID = &r.ID
	req.FormOfPayment = billing.FormOfPaymentRetainer
	s, err := f.engine.ApplyPayment(f.ctx, account, user, req)

	// THEN: The retainer drops to 20 and the draw is recorded
	require.NoError(t, err)
	assertAmount(t, "-20", s.Retainer.CurrentAmount)
	require.NotNil(t, s.Allocation)
	assertAmount(t, "80", s.Allocation.Amount)
	assertAmount(t, "-100", s.Allocation.BalanceBefore)
	assertAmount(t, "-20", s.Allocation.BalanceAfter)
	assert.Equal(t, s.Invoice.ID, s.Allocation.InvoiceID)
	assertAmount(t, "420", s.Invoice.RemainingBalance)

	// WHEN: A second draw asks for more than is left
	req = paymentFor(c, root.ID, "50", f.now)
	req.RetainerID = &r.ID
	_, err = f.engine.ApplyPayment(f.ctx, account, user, req)

	// THEN: It is refused and nothing is appended
	var re *billing.RetainerExceededError
	require.True(t, errors.As(err, &re))
	assertAmount(t, "20", re.Available)
	assert.Equal(t, 2, f.chain(root.ID).Len())
	rc, err := f.store.RetainerChain(f.ctx, account, r.ID)
	require.NoError(t, err)
	assertAmount(t, "-20", rc.Head().CurrentAmount)
}

func TestApplyPayment_WithoutInvoiceIsRecordedUnapplied(t *testing.T) {
	f := newFixture(t)
	c := f.customer("Acme")

	s, err := f.engine.ApplyPayment(f.ctx, account, user, invoicing.PaymentRequest{
		CustomerID:    c.ID,
		PaymentDate:   f.now,
		Amount:        dec("-75"),
		FormOfPayment: billing.FormOfPaymentPrepayment,
	})

	require.NoError(t, err)
	assert.Nil(t, s.Invoice)
	assert.Nil(t, s.Payment.InvoiceID)
	assertAmount(t, "-75", s.Payment.Amount)
}

func TestApplyPayment_RejectsZeroAmount(t *testing.T) {
	f := newFixture(t)
	c := f.customer("Acme")
	root := f.root(c, "500", f.now)

	_, err := f.engine.ApplyPayment(f.ctx, account, user, paymentFor(c, root.ID, "0", f.now))

	assert.ErrorIs(t, err, billing.ErrInvalidSelection)
}

func TestSettlement_ChainBalanceIsConserved(t *testing.T) {
	f := newFixture(t)
	c := f.customer("Acme")
	root := f.root(c, "500", f.now.Add(-72*time.Hour))

	// GIVEN: A payment of 200 and a write-off of 100 against the chain
	_, err := f.engine.ApplyPayment(f.ctx, account, user, paymentFor(c, root.ID, "200", f.now.Add(-48*time.Hour)))
	require.NoError(t, err)
	f.advance(time.Minute)
	w, err := f.engine.ApplyWriteOff(f.ctx, account, user, invoicing.WriteOffRequest{
		CustomerID: c.ID,
		InvoiceID:  &root.ID,
		Date:       f.now,
		Amount:     dec("100"),
		Reason:     "Disputed hours",
	})
	require.NoError(t, err)

	// THEN: head remaining == root amount due - everything applied
	chain := f.chain(root.ID)
	assert.Equal(t, 3, chain.Len())
	assertAmount(t, "200", chain.Outstanding())
	assertAmount(t, "500", chain.Root().TotalAmountDue)
	assertAmount(t, "-200", chain.Head().TotalPayments)
	assertAmount(t, "-100", chain.Head().TotalWriteOffs)

	// AND: The write-off is linked to the row it produced
	require.NotNil(t, w.WriteOff.InvoiceID)
	assert.Equal(t, chain.Head().ID, *w.WriteOff.InvoiceID)
}

func TestDeleteInvoice_Guard(t *testing.T) {
	f := newFixture(t)
	c := f.customer("Acme")

	// GIVEN: A chain with a payment child, and a bare root
	settled := f.root(c, "500", f.now.Add(-24*time.Hour))
	_, err := f.engine.ApplyPayment(f.ctx, account, user, paymentFor(c, settled.ID, "100", f.now))
	require.NoError(t, err)
	bare := f.root(c, "50", f.now)

	// WHEN: Deleting the settled root
	err = f.engine.DeleteInvoice(f.ctx, account, settled.ID)

	// THEN: It is refused because rows depend on it
	var le *billing.LinkedRecordsError
	require.True(t, errors.As(err, &le))
	assert.ErrorIs(t, err, billing.ErrLinkedRecords)
	assert.Equal(t, 1, le.Links.Children)
	assert.True(t, billing.IsConflict(err))

	// WHEN: Deleting the child row directly
	head := f.chain(settled.ID).Head()
	err = f.engine.DeleteInvoice(f.ctx, account, head.ID)

	// THEN: Children can never be deleted
	assert.ErrorIs(t, err, billing.ErrLinkedRecords)

	// WHEN: Deleting the bare root
	require.NoError(t, f.engine.DeleteInvoice(f.ctx, account, bare.ID))

	// THEN: It is gone
	_, err = f.engine.Chain(f.ctx, account, bare.ID)
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)
	assert.ErrorIs(t, f.engine.DeleteInvoice(f.ctx, account, bare.ID), billing.ErrInvoiceNotFound)
}
