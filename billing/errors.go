/*
errors.go - Centralized error types for the invoice engine

PURPOSE:
  All domain errors in one place. The HTTP layer maps them to status codes
  through the helpers at the bottom of this file.

ERROR CATEGORIES:
  1. Input-shape errors    - malformed selection payloads (rejected before any read)
  2. Consistency errors    - missing invoice/retainer, payment over balance,
                             linked records blocking a delete
  3. Concurrency errors    - a ledger row was linked by someone else mid-run
  4. Schema errors         - see schema.ValidationError

USAGE:
  if errors.Is(err, billing.ErrPaymentExceedsBalance) {
      var pe *billing.PaymentExceedsBalanceError
      errors.As(err, &pe)
      ...
  }

SEE ALSO:
  - schema/schema.go: Validation errors raised before inserts
  - api/handlers.go: Status code mapping
*/
package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvoiceNotFound is returned when a payment or write-off names an
	// invoice that does not exist for the account.
	ErrInvoiceNotFound = errors.New("no matching invoice record found for this payment")

	// ErrRetainerNotFound is returned when a payment names a missing retainer.
	ErrRetainerNotFound = errors.New("no matching retainer record found for this payment")

	ErrCustomerNotFound = errors.New("customer not found")

	ErrProfileNotFound = errors.New("billing profile not found")

	// ErrPaymentExceedsBalance is returned when a payment is larger than the
	// remaining balance on the invoice chain it settles.
	ErrPaymentExceedsBalance = errors.New("payment amount exceeds remaining balance on invoice")

	// ErrRetainerExceeded is returned when a payment drawn from a retainer is
	// larger than the credit held.
	ErrRetainerExceeded = errors.New("payment amount exceeds remaining retainer credit")

	// ErrLinkedRecords is returned when deleting an invoice that ledger rows
	// still point at.
	ErrLinkedRecords = errors.New("cannot delete invoice with transactions, retainers, payments, or writeoffs")

	// ErrInvalidSelection is returned for a malformed invoice selection payload.
	ErrInvalidSelection = errors.New("invalid invoice selection")

	// ErrConcurrentModification is returned when a ledger row was linked to a
	// different invoice between calculation and insertion.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrRunInProgress is returned when another invoice run holds the account lock.
	ErrRunInProgress = errors.New("an invoice run is already in progress for this account")

	ErrDuplicateAllocation = errors.New("retainer already applied to this invoice")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PaymentExceedsBalanceError reports the maximum amount a payment may be.
type PaymentExceedsBalanceError struct {
	InvoiceID InvoiceID
	Remaining decimal.Decimal
	Requested decimal.Decimal
}

func (e *PaymentExceedsBalanceError) Error() string {
	return fmt.Sprintf("payment amount exceeds remaining balance on invoice %d: max amount $%s, requested $%s",
		e.InvoiceID, e.Remaining.Abs().StringFixed(2), e.Requested.Abs().StringFixed(2))
}

func (e *PaymentExceedsBalanceError) Unwrap() error { return ErrPaymentExceedsBalance }

// RetainerExceededError reports the credit left on a retainer.
type RetainerExceededError struct {
	RetainerID RetainerID
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *RetainerExceededError) Error() string {
	return fmt.Sprintf("payment amount exceeds retainer %d: max amount $%s, requested $%s",
		e.RetainerID, e.Available.StringFixed(2), e.Requested.Abs().StringFixed(2))
}

func (e *RetainerExceededError) Unwrap() error { return ErrRetainerExceeded }

// InvoiceLinks counts the rows that reference an invoice.
type InvoiceLinks struct {
	Transactions int
	Payments     int
	WriteOffs    int
	Allocations  int
	Children     int
}

func (l InvoiceLinks) Any() bool {
	return l.Transactions+l.Payments+l.WriteOffs+l.Allocations+l.Children > 0
}

// LinkedRecordsError blocks deleting an invoice that other rows depend on.
type LinkedRecordsError struct {
	InvoiceID InvoiceID
	Links     InvoiceLinks
}

func (e *LinkedRecordsError) Error() string {
	var parts []string
	add := func(n int, what string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, what))
		}
	}
	add(e.Links.Transactions, "transactions")
	add(e.Links.Payments, "payments")
	add(e.Links.WriteOffs, "write-offs")
	add(e.Links.Allocations, "retainer allocations")
	add(e.Links.Children, "child invoices")
	return fmt.Sprintf("%s (invoice %d has %s)", ErrLinkedRecords, e.InvoiceID, strings.Join(parts, ", "))
}

func (e *LinkedRecordsError) Unwrap() error { return ErrLinkedRecords }

// SelectionError describes one problem with an invoice selection payload.
type SelectionError struct {
	Field   string
	Message string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("invalid selection: %s %s", e.Field, e.Message)
}

func (e *SelectionError) Unwrap() error { return ErrInvalidSelection }

// ConcurrentLinkError names the ledger row that changed under a run.
type ConcurrentLinkError struct {
	Kind string
	ID   int64
}

func (e *ConcurrentLinkError) Error() string {
	return fmt.Sprintf("%s %d was linked to another invoice during this run", e.Kind, e.ID)
}

func (e *ConcurrentLinkError) Unwrap() error { return ErrConcurrentModification }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidSelection) ||
		errors.Is(err, ErrPaymentExceedsBalance) ||
		errors.Is(err, ErrRetainerExceeded)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrRetainerNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrProfileNotFound)
}

// IsConflict returns true if the request clashed with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrLinkedRecords) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrRunInProgress) ||
		errors.Is(err, ErrDuplicateAllocation)
}
