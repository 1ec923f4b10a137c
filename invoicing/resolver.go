package invoicing

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/invoice-engine/billing"
)

// =============================================================================
// OUTSTANDING BALANCE RESOLVER
// =============================================================================

// Resolve returns the chains that still matter for a new invoice.
//
// For each chain, with children considered newest first:
//  1. a root without children and with a non-zero balance is included
//  2. a chain whose newest child has a non-zero balance is included
//  3. a chain whose newest child settled it after lastInvoiceDate is
//     included, so the settlement shows on the next invoice
//  4. anything else is fully resolved and dropped
//
// A negative balance is a credit: unapplied payments or write-offs that
// exceeded the charges of the invoice that billed them. It is carried like
// a debt until something settles it.
//
// Only the newest child is inspected because it alone carries the chain's
// current balance; older children were superseded by it. A nil
// lastInvoiceDate keeps every chain settled by a child.
func Resolve(chains []billing.Chain, lastInvoiceDate *time.Time) []billing.Chain {
	var out []billing.Chain
	for _, c := range chains {
		if resolveChain(c, lastInvoiceDate) {
			out = append(out, c)
		}
	}
	return out
}

// ResolveAll runs Resolve for every customer. Customers without invoices
// map to an empty slice.
func ResolveAll(data map[billing.CustomerID]*LedgerData) map[billing.CustomerID][]billing.Chain {
	out := make(map[billing.CustomerID][]billing.Chain, len(data))
	for id, d := range data {
		out[id] = Resolve(d.Chains, d.LastInvoiceDate)
	}
	return out
}

func resolveChain(c billing.Chain, lastInvoiceDate *time.Time) bool {
	children := c.Children()
	if len(children) == 0 {
		return !c.Root().RemainingBalance.IsZero()
	}

	newest := children[0]
	if !newest.RemainingBalance.IsZero() {
		return true
	}
	return lastInvoiceDate == nil || newest.CreatedAt.After(*lastInvoiceDate)
}

// OutstandingHeads returns the current row of every chain with a non-zero
// balance, credits included. This is the exploratory view used by the
// eligibility scan.
func OutstandingHeads(chains []billing.Chain) []billing.Invoice {
	var heads []billing.Invoice
	for _, c := range chains {
		if h := c.Head(); !h.RemainingBalance.IsZero() {
			heads = append(heads, h)
		}
	}
	return billing.NewestFirst(heads).Items()
}

// CarriedBalance is the balance a chain brings into a new invoice.
func CarriedBalance(c billing.Chain, lastInvoiceDate *time.Time) decimal.Decimal {
	if lastInvoiceDate == nil {
		return c.Outstanding()
	}
	return c.BalanceAsOf(*lastInvoiceDate)
}

// chainRows indexes the row ids of chains so ledger rows linked to any of
// them can be recognized.
func chainRows(chains []billing.Chain) map[billing.InvoiceID]billing.InvoiceID {
	rows := make(map[billing.InvoiceID]billing.InvoiceID)
	for _, c := range chains {
		for _, r := range c.Rows() {
			rows[r.ID] = c.ID()
		}
	}
	return rows
}
