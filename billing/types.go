/*
Package billing provides the domain records of the invoice engine.

PURPOSE:
  This package holds the typed rows that every other package passes
  around: customers, invoices, ledger entries (transactions, payments,
  write-offs), retainers, and the allocation records that tie retainer
  credit to the invoice that consumed it. It has no storage or HTTP
  knowledge.

KEY CONCEPTS IN THIS FILE (types.go):
  - Typed identifiers: AccountID, CustomerID, InvoiceID, ... cannot be mixed
  - Money: decimal.Decimal everywhere, never float64
  - Sign convention:
      transactions        positive (work billed)
      payments            negative (reduce what is owed)
      write-offs          negative (reduce what is owed)
      retainer credit     negative (credit held; consumption moves it to zero)

DESIGN PRINCIPLES:
  1. Append-only: invoice and retainer rows are never edited. A settlement
     appends a new row to the chain (see chain.go).
  2. Precision: decimal math only; rounding happens at display boundaries.
  3. Linkage: a ledger row with a non-nil InvoiceID is billed and is never
     selected for another invoice.

SEE ALSO:
  - chain.go: Invoice and retainer version chains
  - store.go: Ledger reader/writer interfaces
  - errors.go: Domain errors
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID int64
type CustomerID int64
type InvoiceID int64
type JobID int64
type TransactionID int64
type PaymentID int64
type RetainerID int64
type WriteOffID int64
type AllocationID int64
type UserID int64

// =============================================================================
// MONEY HELPERS
// =============================================================================

// Sum adds a list of amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// MustParseDecimal parses s, returning zero for malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// CUSTOMERS & ACCOUNT
// =============================================================================

// ContactInfo is the address block printed on an invoice.
type ContactInfo struct {
	CustomerInfoID int64
	Street         string
	City           string
	State          string
	Zip            string
	Email          string
	Phone          string
}

type Customer struct {
	ID           CustomerID
	AccountID    AccountID
	DisplayName  string
	BusinessName string
	FirstName    string
	LastName     string
	Contact      ContactInfo
	IsActive     bool
	CreatedAt    time.Time
}

// BillingProfile is the account's pay-to information and invoicing policy.
type BillingProfile struct {
	AccountID         AccountID
	AccountName       string
	Street            string
	City              string
	State             string
	Zip               string
	Email             string
	Phone             string
	InvoicePrefix     string
	LastInvoiceNumber string
	DueDays           int // 0 = engine default
}

// Prefix returns the invoice number prefix, defaulting to "INV".
func (p BillingProfile) Prefix() string {
	if p.InvoicePrefix == "" {
		return DefaultInvoicePrefix
	}
	return p.InvoicePrefix
}

const DefaultInvoicePrefix = "INV"

type Job struct {
	ID          JobID
	AccountID   AccountID
	CustomerID  CustomerID
	Description string
	CreatedAt   time.Time
}

// =============================================================================
// LEDGER ROWS
// =============================================================================

// Transaction is one billable unit of work.
type Transaction struct {
	ID                       TransactionID
	AccountID                AccountID
	CustomerID               CustomerID
	JobID                    JobID
	RetainerID               *RetainerID
	InvoiceID                *InvoiceID
	LoggedForUserID          UserID
	GeneralWorkDescriptionID int64
	Description              string
	TransactionDate          time.Time
	TransactionType          string
	Quantity                 decimal.Decimal
	UnitCost                 decimal.Decimal
	Total                    decimal.Decimal
	IsBillable               bool
	IsExcessToSubscription   bool
	CreatedAt                time.Time
	CreatedByUserID          UserID
	Note                     *string
}

func (t Transaction) Billed() bool { return t.InvoiceID != nil }

// Payment is money received. Amount is negative.
type Payment struct {
	ID              PaymentID
	AccountID       AccountID
	CustomerID      CustomerID
	JobID           *JobID
	RetainerID      *RetainerID
	InvoiceID       *InvoiceID
	PaymentDate     time.Time
	Amount          decimal.Decimal
	FormOfPayment   string
	ReferenceNumber string
	IsBillable      bool
	CreatedAt       time.Time
	CreatedByUserID UserID
	Note            *string
}

func (p Payment) Billed() bool { return p.InvoiceID != nil }

const (
	FormOfPaymentRetainer   = "Retainer"
	FormOfPaymentPrepayment = "Prepayment"
	FormOfPaymentWriteOff   = "Write Off"
)

// WriteOff is a non-collectible adjustment. Amount is negative.
type WriteOff struct {
	ID              WriteOffID
	AccountID       AccountID
	CustomerID      CustomerID
	InvoiceID       *InvoiceID
	JobID           *JobID
	Date            time.Time
	Amount          decimal.Decimal
	TransactionType string
	Reason          string
	CreatedAt       time.Time
	CreatedByUserID UserID
	Note            *string
}

func (w WriteOff) Billed() bool { return w.InvoiceID != nil }

// IsActive reports whether the write-off still reduces a balance.
func (w WriteOff) IsActive() bool { return w.Amount.IsNegative() }

// =============================================================================
// INVOICE
// =============================================================================

// Invoice is one row of an invoice chain. Rows are immutable; see chain.go.
type Invoice struct {
	ID              InvoiceID
	ChainID         InvoiceID
	Sequence        int
	ParentInvoiceID *InvoiceID
	AccountID       AccountID
	CustomerID      CustomerID
	CustomerInfoID  int64
	InvoiceNumber   string
	InvoiceDate     time.Time
	DueDate         time.Time

	BeginningBalance decimal.Decimal
	TotalPayments    decimal.Decimal
	TotalCharges     decimal.Decimal
	TotalWriteOffs   decimal.Decimal
	TotalRetainers   decimal.Decimal
	TotalAmountDue   decimal.Decimal
	RemainingBalance decimal.Decimal

	IsPaidInFull  bool
	FullyPaidDate *time.Time

	StartDate       time.Time
	EndDate         time.Time
	FileLocation    *string
	Notes           *string
	CreatedByUserID UserID
	CreatedAt       time.Time
}

// IsRoot reports whether the row starts a chain.
func (i Invoice) IsRoot() bool { return i.ParentInvoiceID == nil }

// WithRemaining sets the remaining balance and keeps the paid-in-full
// flags consistent with it.
func (i Invoice) WithRemaining(remaining decimal.Decimal, at time.Time) Invoice {
	i.RemainingBalance = remaining
	if remaining.IsZero() {
		i.IsPaidInFull = true
		paid := at
		i.FullyPaidDate = &paid
	} else {
		i.IsPaidInFull = false
		i.FullyPaidDate = nil
	}
	return i
}

// =============================================================================
// RETAINERS
// =============================================================================

// Retainer is one version of a retainer chain. CurrentAmount < 0 means
// credit is still held for the customer.
type Retainer struct {
	ID               RetainerID
	ChainID          RetainerID
	Sequence         int
	ParentRetainerID *RetainerID
	AccountID        AccountID
	CustomerID       CustomerID
	DisplayName      string
	TypeOfHold       string
	StartingAmount   decimal.Decimal
	CurrentAmount    decimal.Decimal
	FormOfPayment    string
	ReferenceNumber  string
	IsActive         bool
	CreatedAt        time.Time
	CreatedByUserID  UserID
	Note             *string
}

// HasCredit reports whether the retainer can still absorb charges.
func (r Retainer) HasCredit() bool { return r.CurrentAmount.IsNegative() }

// Credit returns the available credit as a positive amount.
func (r Retainer) Credit() decimal.Decimal {
	if !r.HasCredit() {
		return decimal.Zero
	}
	return r.CurrentAmount.Abs()
}

// RetainerAllocation records one retainer-to-invoice application.
// Amount is the positive credit consumed.
type RetainerAllocation struct {
	ID                AllocationID
	AccountID         AccountID
	CustomerID        CustomerID
	RetainerChainID   RetainerID
	RetainerVersionID RetainerID
	InvoiceID         InvoiceID
	Amount            decimal.Decimal
	BalanceBefore     decimal.Decimal
	BalanceAfter      decimal.Decimal
	CreatedAt         time.Time
}
