package invoicing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/invoice-engine/billing"
)

// =============================================================================
// ELIGIBILITY SCANNER
// =============================================================================

// EligibleCustomer is a customer with something to invoice, annotated for
// operator review.
type EligibleCustomer struct {
	Customer         billing.Customer `json:"customer"`
	RetainerCount    int              `json:"retainer_count"`
	TransactionCount int              `json:"transaction_count"`
	InvoiceCount     int              `json:"invoice_count"`
	WriteOffCount    int              `json:"write_off_count"`
	OutstandingTotal decimal.Decimal  `json:"outstanding_total"`
	TransactionTotal decimal.Decimal  `json:"transaction_total"`
	LastInvoiceDate  *time.Time       `json:"last_invoice_date,omitempty"`
}

// accountLedger is the whole account's ledger grouped by customer.
type accountLedger struct {
	customers    []billing.Customer
	chains       map[billing.CustomerID][]billing.Chain
	transactions map[billing.CustomerID][]billing.Transaction
	payments     map[billing.CustomerID][]billing.Payment
	writeOffs    map[billing.CustomerID][]billing.WriteOff
	retainers    map[billing.CustomerID][]billing.RetainerChain
}

func loadAccountLedger(ctx context.Context, reader billing.LedgerReader, accountID billing.AccountID) (*accountLedger, error) {
	q := billing.LedgerQuery{AccountID: accountID}
	customers, err := reader.Customers(ctx, accountID, nil)
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}
	invoices, err := reader.Invoices(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load invoices: %w", err)
	}
	transactions, err := reader.Transactions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	payments, err := reader.Payments(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	writeOffs, err := reader.WriteOffs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load write-offs: %w", err)
	}
	retainers, err := reader.Retainers(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load retainers: %w", err)
	}

	l := &accountLedger{
		customers:    customers,
		chains:       make(map[billing.CustomerID][]billing.Chain),
		transactions: groupBy(transactions, func(t billing.Transaction) billing.CustomerID { return t.CustomerID }),
		payments:     groupBy(payments, func(p billing.Payment) billing.CustomerID { return p.CustomerID }),
		writeOffs:    groupBy(writeOffs, func(w billing.WriteOff) billing.CustomerID { return w.CustomerID }),
		retainers:    make(map[billing.CustomerID][]billing.RetainerChain),
	}

	for id, rows := range groupBy(invoices, func(i billing.Invoice) billing.CustomerID { return i.CustomerID }) {
		if l.chains[id], err = billing.GroupChains(rows); err != nil {
			return nil, err
		}
	}
	for id, rows := range groupBy(retainers, func(r billing.Retainer) billing.CustomerID { return r.CustomerID }) {
		if l.retainers[id], err = billing.GroupRetainerChains(rows); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// FindEligible applies the eligibility rules to a loaded account ledger.
// The result is ordered by customer id.
func (l *accountLedger) FindEligible() []EligibleCustomer {
	var out []EligibleCustomer
	for _, c := range l.customers {
		if e, ok := evaluateCustomer(c, l); ok {
			out = append(out, e)
		}
	}
	return billing.SortBy(out, func(a, b EligibleCustomer) bool { return a.Customer.ID < b.Customer.ID }).Items()
}

func evaluateCustomer(c billing.Customer, l *accountLedger) (EligibleCustomer, bool) {
	chains := l.chains[c.ID]
	outstanding := OutstandingHeads(chains)

	var latestRoot *billing.Invoice
	for _, ch := range chains {
		root := ch.Root()
		if latestRoot == nil || root.InvoiceDate.After(latestRoot.InvoiceDate) ||
			(root.InvoiceDate.Equal(latestRoot.InvoiceDate) && root.CreatedAt.After(latestRoot.CreatedAt)) {
			latestRoot = &root
		}
	}

	// Recent work is unbilled and dated after the latest root's invoice
	// date. Rows entered late with an older date do not make a customer
	// eligible on their own; the next invoice still sweeps them in.
	var recent []billing.Transaction
	for _, t := range l.transactions[c.ID] {
		if t.Billed() {
			continue
		}
		if latestRoot != nil && !t.TransactionDate.After(latestRoot.InvoiceDate) {
			continue
		}
		recent = append(recent, t)
	}

	active := billing.ActiveRetainers(l.retainers[c.ID])

	var activeWriteOffs int
	for _, w := range l.writeOffs[c.ID] {
		if w.IsActive() && !w.Billed() {
			activeWriteOffs++
		}
	}

	if active.IsEmpty() && len(recent) == 0 {
		if len(outstanding) == 0 {
			return EligibleCustomer{}, false
		}
		if fullyOffset(outstanding, l.payments[c.ID], latestRoot) {
			return EligibleCustomer{}, false
		}
	}

	e := EligibleCustomer{
		Customer:         c,
		RetainerCount:    active.Len(),
		TransactionCount: len(recent),
		InvoiceCount:     len(outstanding),
		WriteOffCount:    activeWriteOffs,
		OutstandingTotal: billing.Sum(remainingOf(outstanding)...),
		TransactionTotal: decimal.Zero,
	}
	for _, t := range recent {
		if t.IsBillable {
			e.TransactionTotal = e.TransactionTotal.Add(t.Total)
		}
	}
	if latestRoot != nil {
		at := latestRoot.CreatedAt
		e.LastInvoiceDate = &at
	}
	return e, true
}

// fullyOffset reports whether the outstanding balance is exactly matched
// by payments received after the latest root invoice. Exact decimal
// equality: a one-cent difference keeps the customer eligible.
func fullyOffset(outstanding []billing.Invoice, payments []billing.Payment, latestRoot *billing.Invoice) bool {
	total := billing.Sum(remainingOf(outstanding)...)
	paid := decimal.Zero
	for _, p := range payments {
		if latestRoot == nil || p.CreatedAt.After(latestRoot.CreatedAt) {
			paid = paid.Add(p.Amount)
		}
	}
	if paid.IsZero() {
		return false
	}
	return total.Abs().Equal(paid.Abs())
}

func remainingOf(invoices []billing.Invoice) []decimal.Decimal {
	out := make([]decimal.Decimal, len(invoices))
	for i, inv := range invoices {
		out[i] = inv.RemainingBalance
	}
	return out
}

func groupBy[T any, K comparable](rows []T, key func(T) K) map[K][]T {
	out := make(map[K][]T)
	for _, r := range rows {
		out[key(r)] = append(out[key(r)], r)
	}
	return out
}
