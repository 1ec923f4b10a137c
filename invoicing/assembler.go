/*
assembler.go - Invoice detail assembly

PURPOSE:
  Turns calculated totals into a complete, still in-memory invoice: the
  root row to insert, the customer and pay-to blocks, the invoice number,
  due date, note, and itemized lines for the document renderer.

INVOICE NUMBERS:
  Finalized runs reserve one block of numbers for the whole batch before
  anything is written. Drafts only peek, so previewing never burns a
  number. Numbers are assigned in selection order.

DUE DATE:
  invoice date + billing profile DueDays, else the engine default.

NOTE:
  A per-customer selection note wins over the global note.
*/
package invoicing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/invoice-engine/billing"
)

// JobLine groups a job's transactions on the invoice.
type JobLine struct {
	Job          billing.Job
	Transactions []billing.Transaction
	Total        decimal.Decimal // billable only
}

// CarriedChain is an older invoice whose balance is carried into this one.
type CarriedChain struct {
	ChainID       billing.InvoiceID
	InvoiceNumber string
	InvoiceDate   time.Time
	Carried       decimal.Decimal // balance at the last invoice date
	Current       decimal.Decimal // balance now
}

// InvoiceWithDetail is an assembled invoice ready to render and insert.
type InvoiceWithDetail struct {
	Invoice    billing.Invoice // root row; ID is zero until inserted
	Customer   billing.Customer
	Profile    billing.BillingProfile
	Calculated CalculatedInvoice

	Jobs      []JobLine
	Carried   []CarriedChain
	Payments  []billing.Payment
	WriteOffs []billing.WriteOff

	// Allocations and RetainerVersions are written with the invoice. Their
	// invoice and version ids are filled in at insert time.
	Allocations      []billing.RetainerAllocation
	RetainerVersions []billing.Retainer

	Note    string
	IsDraft bool
}

// AssembleInput carries everything Assemble needs besides the totals.
type AssembleInput struct {
	AccountID   billing.AccountID
	UserID      billing.UserID
	Profile     billing.BillingProfile
	Notes       map[billing.CustomerID]string
	GlobalNote  string
	InvoiceDate time.Time
	Finalized   bool
}

// Assembler builds InvoiceWithDetail values.
type Assembler struct {
	Numbers NumberSource
	DueDays int // engine default when the profile has none
	Now     func() time.Time
}

// Assemble attaches details to each calculated invoice, keeping order.
func (a *Assembler) Assemble(ctx context.Context, calculated []CalculatedInvoice, data map[billing.CustomerID]*LedgerData, in AssembleInput) ([]InvoiceWithDetail, error) {
	if len(calculated) == 0 {
		return nil, nil
	}
	now := a.now()
	invoiceDate := billing.Day(in.InvoiceDate)
	if in.InvoiceDate.IsZero() {
		invoiceDate = billing.Day(now)
	}

	first, err := a.numbers(ctx, in, invoiceDate.Year(), len(calculated), data)
	if err != nil {
		return nil, err
	}
	dueDate := billing.DueDate(invoiceDate, billing.DueDays(in.Profile, a.DueDays))

	out := make([]InvoiceWithDetail, 0, len(calculated))
	for i, calc := range calculated {
		d, ok := data[calc.CustomerID]
		if !ok {
			return nil, fmt.Errorf("customer %d: %w", calc.CustomerID, billing.ErrCustomerNotFound)
		}

		note := in.GlobalNote
		if n := in.Notes[calc.CustomerID]; n != "" {
			note = n
		}

		start := calc.StartDate
		if start.IsZero() {
			start = invoiceDate
		}

		inv := billing.Invoice{
			AccountID:        in.AccountID,
			CustomerID:       calc.CustomerID,
			CustomerInfoID:   d.Customer.Contact.CustomerInfoID,
			InvoiceNumber:    FormatInvoiceNumber(in.Profile.Prefix(), invoiceDate.Year(), first+int64(i)),
			InvoiceDate:      invoiceDate,
			DueDate:          dueDate,
			BeginningBalance: calc.BeginningBalance,
			TotalPayments:    calc.PaymentsTotal,
			TotalCharges:     calc.TransactionsTotal,
			TotalWriteOffs:   calc.WriteOffsTotal,
			TotalRetainers:   calc.RetainersTotal,
			TotalAmountDue:   calc.TotalAmountDue,
			StartDate:        start,
			EndDate:          invoiceDate,
			CreatedByUserID:  in.UserID,
			CreatedAt:        now,
		}.WithRemaining(calc.RemainingBalance, now)
		if note != "" {
			n := note
			inv.Notes = &n
		}

		out = append(out, InvoiceWithDetail{
			Invoice:          inv,
			Customer:         d.Customer,
			Profile:          in.Profile,
			Calculated:       calc,
			Jobs:             jobLines(calc.Transactions, d.Jobs),
			Carried:          carriedChains(calc.Chains, d.LastInvoiceDate),
			Payments:         calc.Payments,
			WriteOffs:        calc.WriteOffs,
			Allocations:      allocations(in.AccountID, calc),
			RetainerVersions: retainerVersions(calc.Retainers, in.UserID, now),
			Note:             note,
			IsDraft:          !in.Finalized,
		})
	}
	return out, nil
}

func (a *Assembler) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

// numbers returns the first sequence value of the batch.
func (a *Assembler) numbers(ctx context.Context, in AssembleInput, year, n int, data map[billing.CustomerID]*LedgerData) (int64, error) {
	known := []string{in.Profile.LastInvoiceNumber}
	for _, d := range data {
		for _, c := range d.Chains {
			known = append(known, c.Root().InvoiceNumber)
		}
	}
	seed := numberSeed(year, known...)

	if a.Numbers == nil {
		return seed + 1, nil
	}
	if !in.Finalized {
		first, err := a.Numbers.PeekInvoiceNumber(ctx, in.AccountID, year, seed)
		if err != nil {
			return 0, fmt.Errorf("peek invoice number: %w", err)
		}
		return first, nil
	}
	first, err := a.Numbers.ReserveInvoiceNumbers(ctx, in.AccountID, year, n, seed)
	if err != nil {
		return 0, fmt.Errorf("reserve invoice numbers: %w", err)
	}
	return first, nil
}

// jobLines groups transactions by job in job id order.
func jobLines(transactions []billing.Transaction, jobs map[billing.JobID]billing.Job) []JobLine {
	byJob := groupBy(transactions, func(t billing.Transaction) billing.JobID { return t.JobID })
	ids := make([]billing.JobID, 0, len(byJob))
	for id := range byJob {
		ids = append(ids, id)
	}
	ids = billing.SortBy(ids, func(a, b billing.JobID) bool { return a < b }).Items()

	lines := make([]JobLine, 0, len(ids))
	for _, id := range ids {
		job, ok := jobs[id]
		if !ok {
			job = billing.Job{ID: id}
		}
		line := JobLine{Job: job, Transactions: byJob[id], Total: decimal.Zero}
		for _, t := range line.Transactions {
			if t.IsBillable {
				line.Total = line.Total.Add(t.Total)
			}
		}
		lines = append(lines, line)
	}
	return lines
}

func carriedChains(chains []billing.Chain, lastInvoiceDate *time.Time) []CarriedChain {
	out := make([]CarriedChain, 0, len(chains))
	for _, c := range chains {
		root := c.Root()
		out = append(out, CarriedChain{
			ChainID:       c.ID(),
			InvoiceNumber: root.InvoiceNumber,
			InvoiceDate:   root.InvoiceDate,
			Carried:       CarriedBalance(c, lastInvoiceDate),
			Current:       c.Outstanding(),
		})
	}
	return out
}

func allocations(accountID billing.AccountID, calc CalculatedInvoice) []billing.RetainerAllocation {
	out := make([]billing.RetainerAllocation, 0, len(calc.Retainers.Steps))
	for _, s := range calc.Retainers.Steps {
		out = append(out, billing.RetainerAllocation{
			AccountID:       accountID,
			CustomerID:      calc.CustomerID,
			RetainerChainID: s.Chain.ID(),
			Amount:          s.Amount,
			BalanceBefore:   s.BalanceBefore,
			BalanceAfter:    s.BalanceAfter,
		})
	}
	return out
}

func retainerVersions(plan AllocationPlan, userID billing.UserID, now time.Time) []billing.Retainer {
	versions := plan.Versions(now)
	for i := range versions {
		versions[i].CreatedByUserID = userID
	}
	return versions
}
