/*
store.go - Persistence interfaces for the invoice ledger

PURPOSE:
  Defines the boundary between the invoice engine and the database. The
  engine only sees these interfaces; store/sqlite implements them.

KEY INTERFACES:
  LedgerReader: Read-only queries scoped by account, customers and a
                since-date lower bound (the ledger query layer)
  LedgerWriter: Chain appends and ledger row linking
  TxStore:      Runs a function against a transaction-scoped Store

APPEND-ONLY CONTRACT:
  Invoice and retainer rows are appended, never updated. The one update
  path is linking a ledger row (transaction, payment, write-off) to the
  invoice that billed it, and it only succeeds while the row is unbilled.

SEE ALSO:
  - store/sqlite/sqlite.go: Concrete implementation
  - invoicing/ledger.go: Builds per-customer snapshots from LedgerReader
*/
package billing

import (
	"context"
	"time"
)

// LedgerQuery scopes a ledger read.
type LedgerQuery struct {
	AccountID   AccountID
	CustomerIDs []CustomerID // empty = every customer on the account
	Since       *time.Time   // created_at >= Since
	Unbilled    bool         // customer_invoice_id IS NULL
}

// ForCustomer narrows a query to one customer.
func (q LedgerQuery) ForCustomer(id CustomerID) LedgerQuery {
	q.CustomerIDs = []CustomerID{id}
	return q
}

// LedgerReader is the read side of the ledger.
type LedgerReader interface {
	// Customers returns active customers; all of them when ids is empty.
	Customers(ctx context.Context, accountID AccountID, ids []CustomerID) ([]Customer, error)

	BillingProfile(ctx context.Context, accountID AccountID) (*BillingProfile, error)

	// LastInvoiceDates returns max(created_at) over root invoices per customer.
	// Customers without invoices are absent from the map.
	LastInvoiceDates(ctx context.Context, accountID AccountID, ids []CustomerID) (map[CustomerID]time.Time, error)

	Invoices(ctx context.Context, q LedgerQuery) ([]Invoice, error)
	Transactions(ctx context.Context, q LedgerQuery) ([]Transaction, error)
	Payments(ctx context.Context, q LedgerQuery) ([]Payment, error)
	WriteOffs(ctx context.Context, q LedgerQuery) ([]WriteOff, error)
	Retainers(ctx context.Context, q LedgerQuery) ([]Retainer, error)
	Jobs(ctx context.Context, q LedgerQuery) ([]Job, error)

	// Chain returns the chain containing invoiceID, or nil.
	Chain(ctx context.Context, accountID AccountID, invoiceID InvoiceID) (*Chain, error)

	// RetainerChain returns the chain containing retainerID, or nil.
	RetainerChain(ctx context.Context, accountID AccountID, retainerID RetainerID) (*RetainerChain, error)

	InvoiceLinks(ctx context.Context, invoiceID InvoiceID) (InvoiceLinks, error)
}

// LedgerWriter is the write side of the ledger.
type LedgerWriter interface {
	// AppendInvoice inserts a chain row. A row without a parent starts a new
	// chain whose ChainID is its own ID. Returns the row with IDs assigned.
	AppendInvoice(ctx context.Context, inv Invoice) (Invoice, error)

	// AppendRetainer inserts a retainer version, starting a chain when the
	// row has no parent.
	AppendRetainer(ctx context.Context, r Retainer) (Retainer, error)

	// SavePayment inserts a payment (ID == 0) or links an existing unbilled
	// one to p.InvoiceID. Linking a billed row returns ErrConcurrentModification.
	SavePayment(ctx context.Context, p Payment) (Payment, error)
	SaveTransaction(ctx context.Context, t Transaction) (Transaction, error)
	SaveWriteOff(ctx context.Context, w WriteOff) (WriteOff, error)

	InsertAllocation(ctx context.Context, a RetainerAllocation) (RetainerAllocation, error)

	DeleteInvoice(ctx context.Context, accountID AccountID, invoiceID InvoiceID) error
}

// Store is the full ledger.
type Store interface {
	LedgerReader
	LedgerWriter
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
