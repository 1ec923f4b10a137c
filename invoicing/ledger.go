/*
Package invoicing implements the invoice lifecycle: eligibility scanning,
invoice calculation, detail assembly, insertion, and settlement.

PURPOSE:
  Turns a customer's unbilled ledger activity into a new root invoice and
  keeps every invoice chain's current balance correct as payments and
  write-offs arrive.

PIPELINE:
  FindCustomersNeedingInvoices   which customers have something to bill
        ↓ (operator selects customers)
  LoadLedger                     per-customer snapshot of the ledger
        ↓
  Resolve                        which older chains still matter
        ↓
  Calculate                      totals for the new invoice
        ↓
  Assemble                       invoice number, due date, line items
        ↓
  Orchestrator.Insert            one transaction per customer

  Customers are independent: every stage fans out across customers, and
  within one customer the stages run in order.

KEY FILES:
  ledger.go        LedgerData snapshots (this file)
  resolver.go      Outstanding balance resolution
  eligibility.go   Invoice candidates
  calculator.go    Invoice totals
  retainers.go     Retainer allocation plan
  numbering.go     Invoice numbers
  assembler.go     InvoiceWithDetail
  orchestrator.go  Persistence
  settlement.go    Payments, write-offs and deletes against a chain
  engine.go        Entry points used by the API and CLI
*/
package invoicing

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/invoice-engine/billing"
	"golang.org/x/sync/errgroup"
)

// LedgerData is everything the calculator needs for one customer.
type LedgerData struct {
	Customer billing.Customer

	// LastInvoiceDate is the created_at of the newest root invoice, or nil
	// for a customer that was never invoiced.
	LastInvoiceDate *time.Time

	// Chains holds every invoice chain of the customer. Resolve picks the
	// ones that still matter.
	Chains []billing.Chain

	// Transactions are all unbilled transactions, whatever their date.
	Transactions []billing.Transaction

	// Payments and WriteOffs are rows created since the last invoice plus
	// every row that is still unbilled.
	Payments  []billing.Payment
	WriteOffs []billing.WriteOff

	Retainers []billing.RetainerChain
	Jobs      map[billing.JobID]billing.Job
}

// HasInvoices reports whether the customer was invoiced before.
func (d *LedgerData) HasInvoices() bool { return d.LastInvoiceDate != nil }

// lastInvoiceAt returns the last invoice date or the zero time.
func (d *LedgerData) lastInvoiceAt() time.Time {
	if d.LastInvoiceDate == nil {
		return time.Time{}
	}
	return *d.LastInvoiceDate
}

// LoadLedger reads a snapshot for each customer. An id that is not an
// active customer of the account fails the whole load.
func LoadLedger(ctx context.Context, reader billing.LedgerReader, accountID billing.AccountID, customerIDs []billing.CustomerID, concurrency int) (map[billing.CustomerID]*LedgerData, error) {
	customers, err := reader.Customers(ctx, accountID, customerIDs)
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}
	found := make(map[billing.CustomerID]billing.Customer, len(customers))
	for _, c := range customers {
		found[c.ID] = c
	}
	for _, id := range customerIDs {
		if _, ok := found[id]; !ok {
			return nil, fmt.Errorf("customer %d: %w", id, billing.ErrCustomerNotFound)
		}
	}

	lastDates, err := reader.LastInvoiceDates(ctx, accountID, customerIDs)
	if err != nil {
		return nil, fmt.Errorf("load last invoice dates: %w", err)
	}

	out := make(map[billing.CustomerID]*LedgerData, len(customers))
	for _, c := range customers {
		data := &LedgerData{Customer: c}
		if last, ok := lastDates[c.ID]; ok {
			data.LastInvoiceDate = &last
		}
		out[c.ID] = data
	}

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for _, data := range out {
		data := data
		q := billing.LedgerQuery{AccountID: accountID}.ForCustomer(data.Customer.ID)
		g.Go(func() error {
			if err := loadCustomer(gctx, reader, q, data); err != nil {
				return fmt.Errorf("customer %d: %w", data.Customer.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func loadCustomer(ctx context.Context, reader billing.LedgerReader, q billing.LedgerQuery, data *LedgerData) error {
	invoices, err := reader.Invoices(ctx, q)
	if err != nil {
		return fmt.Errorf("load invoices: %w", err)
	}
	if data.Chains, err = billing.GroupChains(invoices); err != nil {
		return err
	}

	unbilled := q
	unbilled.Unbilled = true
	if data.Transactions, err = reader.Transactions(ctx, unbilled); err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}

	window := q
	window.Since = data.LastInvoiceDate

	recentPayments, err := reader.Payments(ctx, window)
	if err != nil {
		return fmt.Errorf("load payments: %w", err)
	}
	openPayments, err := reader.Payments(ctx, unbilled)
	if err != nil {
		return fmt.Errorf("load payments: %w", err)
	}
	data.Payments = mergeByID(recentPayments, openPayments, func(p billing.Payment) int64 { return int64(p.ID) })

	recentWriteOffs, err := reader.WriteOffs(ctx, window)
	if err != nil {
		return fmt.Errorf("load write-offs: %w", err)
	}
	openWriteOffs, err := reader.WriteOffs(ctx, unbilled)
	if err != nil {
		return fmt.Errorf("load write-offs: %w", err)
	}
	data.WriteOffs = mergeByID(recentWriteOffs, openWriteOffs, func(w billing.WriteOff) int64 { return int64(w.ID) })

	retainers, err := reader.Retainers(ctx, q)
	if err != nil {
		return fmt.Errorf("load retainers: %w", err)
	}
	if data.Retainers, err = billing.GroupRetainerChains(retainers); err != nil {
		return err
	}

	jobs, err := reader.Jobs(ctx, q)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	data.Jobs = make(map[billing.JobID]billing.Job, len(jobs))
	for _, j := range jobs {
		data.Jobs[j.ID] = j
	}
	return nil
}

// mergeByID appends the rows of b that are not already in a, ordered by id.
func mergeByID[T any](a, b []T, id func(T) int64) []T {
	seen := make(map[int64]bool, len(a))
	out := make([]T, 0, len(a)+len(b))
	for _, row := range a {
		seen[id(row)] = true
		out = append(out, row)
	}
	for _, row := range b {
		if !seen[id(row)] {
			seen[id(row)] = true
			out = append(out, row)
		}
	}
	return billing.SortBy(out, func(x, y T) bool { return id(x) < id(y) }).Items()
}
