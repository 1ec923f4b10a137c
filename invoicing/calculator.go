/*
calculator.go - Invoice totals

PURPOSE:
  Computes the money on a prospective invoice from a customer's ledger
  snapshot. Nothing is persisted and nothing is rounded here.

FORMULA (signed amounts):
  BeginningBalance  = Σ balance each resolved chain carried at the last invoice date
  TransactionsTotal = Σ billable unbilled transactions            (positive)
  PaymentsTotal     = Σ window payments                           (negative)
  WriteOffsTotal    = Σ window write-offs                         (negative)
  RetainersTotal    = -(credit drawn from retainers)              (negative)

  TotalAmountDue    = BeginningBalance + TransactionsTotal + PaymentsTotal
                      + WriteOffsTotal + RetainersTotal

  RemainingBalance is what the new chain itself carries. Older chains keep
  their own balances, so only unbilled rows count:
  RemainingBalance  = TransactionsTotal + unbilled payments
                      + unbilled write-offs + RetainersTotal
  It goes negative when unbilled credits exceed the charges; the resolver
  carries that credit into the next invoice.

WINDOW ROWS:
  A payment or write-off counts when it is unbilled, or when it is linked
  to a row of a resolved chain (it settled part of a balance that is being
  carried in). Rows linked to any other invoice are never read again.

EXAMPLE:
  No previous invoice, one transaction of 150:
    BeginningBalance 0, TransactionsTotal 150, TotalAmountDue 150
*/
package invoicing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/invoice-engine/billing"
	"golang.org/x/sync/errgroup"
)

// CalculatedInvoice holds the totals for one customer plus the rows that
// produced them.
type CalculatedInvoice struct {
	CustomerID billing.CustomerID

	BeginningBalance  decimal.Decimal
	TransactionsTotal decimal.Decimal
	PaymentsTotal     decimal.Decimal
	WriteOffsTotal    decimal.Decimal
	RetainersTotal    decimal.Decimal
	TotalAmountDue    decimal.Decimal
	RemainingBalance  decimal.Decimal

	// Chains are the resolved outstanding chains carried into this invoice.
	Chains []billing.Chain

	// Rows to itemize. Unbilled ones are linked to the new invoice.
	Transactions []billing.Transaction
	Payments     []billing.Payment
	WriteOffs    []billing.WriteOff

	Retainers AllocationPlan

	StartDate time.Time
}

// UnbilledPayments returns the payments the new invoice will link.
func (c CalculatedInvoice) UnbilledPayments() []billing.Payment {
	var out []billing.Payment
	for _, p := range c.Payments {
		if !p.Billed() {
			out = append(out, p)
		}
	}
	return out
}

// UnbilledWriteOffs returns the write-offs the new invoice will link.
func (c CalculatedInvoice) UnbilledWriteOffs() []billing.WriteOff {
	var out []billing.WriteOff
	for _, w := range c.WriteOffs {
		if !w.Billed() {
			out = append(out, w)
		}
	}
	return out
}

// IsEmpty reports whether the invoice has nothing on it.
func (c CalculatedInvoice) IsEmpty() bool {
	return len(c.Chains) == 0 && len(c.Transactions) == 0 && len(c.Payments) == 0 &&
		len(c.WriteOffs) == 0 && len(c.Retainers.Steps) == 0
}

// Calculator computes invoice totals.
type Calculator struct {
	Allocator   RetainerAllocator
	Concurrency int
}

// Calculate computes one invoice per selected customer, in the order of
// customerIDs. Customers are independent, so they run concurrently.
func (c *Calculator) Calculate(ctx context.Context, customerIDs []billing.CustomerID, data map[billing.CustomerID]*LedgerData) ([]CalculatedInvoice, error) {
	for _, id := range customerIDs {
		if _, ok := data[id]; !ok {
			return nil, fmt.Errorf("customer %d: %w", id, billing.ErrCustomerNotFound)
		}
	}

	out := make([]CalculatedInvoice, len(customerIDs))
	g, gctx := errgroup.WithContext(ctx)
	if c.Concurrency > 0 {
		g.SetLimit(c.Concurrency)
	}
	for i, id := range customerIDs {
		i := i
		d := data[id]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = c.calculateOne(d)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Calculator) calculateOne(d *LedgerData) CalculatedInvoice {
	chains := Resolve(d.Chains, d.LastInvoiceDate)
	linked := chainRows(chains)

	inv := CalculatedInvoice{
		CustomerID:        d.Customer.ID,
		BeginningBalance:  decimal.Zero,
		TransactionsTotal: decimal.Zero,
		PaymentsTotal:     decimal.Zero,
		WriteOffsTotal:    decimal.Zero,
		Chains:            chains,
	}

	for _, ch := range chains {
		inv.BeginningBalance = inv.BeginningBalance.Add(CarriedBalance(ch, d.LastInvoiceDate))
	}

	for _, t := range d.Transactions {
		if t.Billed() {
			continue
		}
		inv.Transactions = append(inv.Transactions, t)
		if t.IsBillable {
			inv.TransactionsTotal = inv.TransactionsTotal.Add(t.Total)
		}
	}

	unbilledCredits := decimal.Zero
	for _, p := range d.Payments {
		if !countsInWindow(p.InvoiceID, linked) {
			continue
		}
		inv.Payments = append(inv.Payments, p)
		inv.PaymentsTotal = inv.PaymentsTotal.Add(p.Amount)
		if !p.Billed() {
			unbilledCredits = unbilledCredits.Add(p.Amount)
		}
	}
	for _, w := range d.WriteOffs {
		if !countsInWindow(w.InvoiceID, linked) {
			continue
		}
		inv.WriteOffs = append(inv.WriteOffs, w)
		inv.WriteOffsTotal = inv.WriteOffsTotal.Add(w.Amount)
		if !w.Billed() {
			unbilledCredits = unbilledCredits.Add(w.Amount)
		}
	}

	bill := inv.TransactionsTotal.Add(unbilledCredits)
	inv.Retainers = c.Allocator.Allocate(d.Retainers, decimal.Max(decimal.Zero, bill))
	inv.RetainersTotal = inv.Retainers.Total()

	inv.TotalAmountDue = billing.Sum(inv.BeginningBalance, inv.TransactionsTotal,
		inv.PaymentsTotal, inv.WriteOffsTotal, inv.RetainersTotal)
	inv.RemainingBalance = bill.Add(inv.RetainersTotal)
	inv.StartDate = windowStart(d, inv)
	return inv
}

// countsInWindow reports whether a payment or write-off belongs on the
// new invoice.
func countsInWindow(invoiceID *billing.InvoiceID, linked map[billing.InvoiceID]billing.InvoiceID) bool {
	if invoiceID == nil {
		return true
	}
	_, ok := linked[*invoiceID]
	return ok
}

// windowStart is the last invoice date, or the oldest row on the invoice
// for a first invoice.
func windowStart(d *LedgerData, inv CalculatedInvoice) time.Time {
	if d.LastInvoiceDate != nil {
		return billing.Day(*d.LastInvoiceDate)
	}
	var dates []time.Time
	for _, t := range inv.Transactions {
		dates = append(dates, t.TransactionDate)
	}
	for _, p := range inv.Payments {
		dates = append(dates, p.PaymentDate)
	}
	for _, w := range inv.WriteOffs {
		dates = append(dates, w.Date)
	}
	if start := billing.Earliest(dates...); !start.IsZero() {
		return billing.Day(start)
	}
	return time.Time{}
}
