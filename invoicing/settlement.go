/*
settlement.go - Payments, write-offs and deletes against an invoice chain

PURPOSE:
  Moves a chain's balance after it was invoiced. Invoice rows are never
  updated: each settlement appends a child row to the chain with the new
  remaining balance, so the chain reads as its own history.

KEY CONCEPTS:
  - Settlement amounts are negative (money in, balance down)
  - A payment may not exceed the head's remaining balance
  - A payment drawn from a retainer also appends a retainer version and
    records an allocation
  - A write-off tied to an invoice settles the chain like a payment with
    form of payment "Write Off"; an unlinked write-off waits for the next
    invoice

CONSERVATION:
  root.remaining + Σ settled amounts == head.remaining

SEE ALSO:
  - billing/chain.go: NextChild, NextVersion
*/
package invoicing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/schema"
)

// PaymentRequest applies money to an invoice chain, or records it
// unapplied when InvoiceID is nil.
type PaymentRequest struct {
	CustomerID      billing.CustomerID  `json:"customer_id" validate:"required,gt=0"`
	InvoiceID       *billing.InvoiceID  `json:"invoice_id,omitempty"`
	RetainerID      *billing.RetainerID `json:"retainer_id,omitempty"`
	JobID           *billing.JobID      `json:"job_id,omitempty"`
	PaymentDate     time.Time           `json:"payment_date" validate:"required"`
	Amount          decimal.Decimal     `json:"amount"`
	FormOfPayment   string              `json:"form_of_payment" validate:"required,max=64"`
	ReferenceNumber string              `json:"reference_number,omitempty" validate:"max=128"`
	Note            *string             `json:"note,omitempty"`
}

// WriteOffRequest records a write-off, settling InvoiceID when set.
type WriteOffRequest struct {
	CustomerID billing.CustomerID `json:"customer_id" validate:"required,gt=0"`
	InvoiceID  *billing.InvoiceID `json:"invoice_id,omitempty"`
	JobID      *billing.JobID     `json:"job_id,omitempty"`
	Date       time.Time          `json:"date" validate:"required"`
	Amount     decimal.Decimal    `json:"amount"`
	Reason     string             `json:"reason" validate:"required,max=500"`
	Note       *string            `json:"note,omitempty"`
}

// Settlement is what a payment or write-off appended.
type Settlement struct {
	Invoice    *billing.Invoice            `json:"invoice,omitempty"`
	Payment    *billing.Payment            `json:"payment,omitempty"`
	WriteOff   *billing.WriteOff           `json:"write_off,omitempty"`
	Retainer   *billing.Retainer           `json:"retainer,omitempty"`
	Allocation *billing.RetainerAllocation `json:"allocation,omitempty"`
}

// settledAmount normalizes a request amount to a negative value.
func settledAmount(field string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsZero() {
		return decimal.Zero, &billing.SelectionError{Field: field, Message: "must not be zero"}
	}
	return amount.Abs().Neg(), nil
}

// ApplyPayment settles an invoice chain with a payment. Without an invoice
// id it falls through to RecordPayment.
func (e *Engine) ApplyPayment(ctx context.Context, accountID billing.AccountID, userID billing.UserID, req PaymentRequest) (*Settlement, error) {
	if req.InvoiceID == nil {
		return e.RecordPayment(ctx, accountID, userID, req)
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidSelection, err)
	}
	amount, err := settledAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	now := e.now()

	var out Settlement
	err = e.Store.WithTx(ctx, func(tx billing.Store) error {
		child, err := settleChain(ctx, tx, accountID, *req.InvoiceID, amount, now, func(inv *billing.Invoice) {
			inv.TotalPayments = inv.TotalPayments.Add(amount)
		})
		if err != nil {
			return err
		}
		out.Invoice = &child

		if req.RetainerID != nil {
			version, alloc, err := drawRetainer(ctx, tx, accountID, *req.RetainerID, child, amount, userID, now)
			if err != nil {
				return err
			}
			out.Retainer, out.Allocation = &version, &alloc
		}

		childID := child.ID
		p, err := schema.CheckPayment(billing.Payment{
			AccountID:       accountID,
			CustomerID:      child.CustomerID,
			JobID:           req.JobID,
			RetainerID:      req.RetainerID,
			InvoiceID:       &childID,
			PaymentDate:     billing.Day(req.PaymentDate),
			Amount:          amount,
			FormOfPayment:   req.FormOfPayment,
			ReferenceNumber: req.ReferenceNumber,
			IsBillable:      true,
			CreatedAt:       now,
			CreatedByUserID: userID,
			Note:            req.Note,
		})
		if err != nil {
			return err
		}
		if p, err = tx.SavePayment(ctx, p); err != nil {
			return err
		}
		out.Payment = &p
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info().Int64("invoice_id", int64(out.Invoice.ID)).Int64("chain_id", int64(out.Invoice.ChainID)).
		Str("amount", amount.String()).Str("remaining", out.Invoice.RemainingBalance.String()).
		Bool("paid_in_full", out.Invoice.IsPaidInFull).Msg("payment applied")
	return &out, nil
}

// RecordPayment stores an unapplied payment. The next invoice for the
// customer picks it up as a credit.
func (e *Engine) RecordPayment(ctx context.Context, accountID billing.AccountID, userID billing.UserID, req PaymentRequest) (*Settlement, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidSelection, err)
	}
	amount, err := settledAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	p, err := schema.CheckPayment(billing.Payment{
		AccountID:       accountID,
		CustomerID:      req.CustomerID,
		JobID:           req.JobID,
		RetainerID:      req.RetainerID,
		PaymentDate:     billing.Day(req.PaymentDate),
		Amount:          amount,
		FormOfPayment:   req.FormOfPayment,
		ReferenceNumber: req.ReferenceNumber,
		IsBillable:      true,
		CreatedAt:       e.now(),
		CreatedByUserID: userID,
		Note:            req.Note,
	})
	if err != nil {
		return nil, err
	}
	if p, err = e.Store.SavePayment(ctx, p); err != nil {
		return nil, err
	}
	return &Settlement{Payment: &p}, nil
}

// ApplyWriteOff records a write-off. One tied to an invoice appends a
// child row to the chain and is linked to it; otherwise the row stays
// unbilled for the next invoice.
func (e *Engine) ApplyWriteOff(ctx context.Context, accountID billing.AccountID, userID billing.UserID, req WriteOffRequest) (*Settlement, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidSelection, err)
	}
	amount, err := settledAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	now := e.now()
	w := billing.WriteOff{
		AccountID:       accountID,
		CustomerID:      req.CustomerID,
		JobID:           req.JobID,
		Date:            billing.Day(req.Date),
		Amount:          amount,
		TransactionType: billing.FormOfPaymentWriteOff,
		Reason:          req.Reason,
		CreatedAt:       now,
		CreatedByUserID: userID,
		Note:            req.Note,
	}

	var out Settlement
	err = e.Store.WithTx(ctx, func(tx billing.Store) error {
		if req.InvoiceID != nil {
			child, err := settleChain(ctx, tx, accountID, *req.InvoiceID, amount, now, func(inv *billing.Invoice) {
				inv.TotalWriteOffs = inv.TotalWriteOffs.Add(amount)
			})
			if err != nil {
				return err
			}
			out.Invoice = &child
			childID := child.ID
			w.InvoiceID = &childID
			w.CustomerID = child.CustomerID
		}
		checked, err := schema.CheckWriteOff(w)
		if err != nil {
			return err
		}
		saved, err := tx.SaveWriteOff(ctx, checked)
		if err != nil {
			return err
		}
		out.WriteOff = &saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteInvoice removes an invoice that nothing depends on: a root with no
// children and no linked ledger rows.
func (e *Engine) DeleteInvoice(ctx context.Context, accountID billing.AccountID, invoiceID billing.InvoiceID) error {
	return e.Store.WithTx(ctx, func(tx billing.Store) error {
		c, err := tx.Chain(ctx, accountID, invoiceID)
		if err != nil {
			return err
		}
		if c == nil {
			return billing.ErrInvoiceNotFound
		}
		links, err := tx.InvoiceLinks(ctx, invoiceID)
		if err != nil {
			return err
		}
		if c.Root().ID != invoiceID || c.Len() > 1 {
			links.Children = max(links.Children, c.Len()-1, 1)
		}
		if links.Any() {
			return &billing.LinkedRecordsError{InvoiceID: invoiceID, Links: links}
		}
		return tx.DeleteInvoice(ctx, accountID, invoiceID)
	})
}

// settleChain appends a child carrying head.remaining + amount. amount is
// negative and may not exceed the head's remaining balance.
func settleChain(ctx context.Context, tx billing.Store, accountID billing.AccountID, invoiceID billing.InvoiceID, amount decimal.Decimal, now time.Time, adjust func(*billing.Invoice)) (billing.Invoice, error) {
	c, err := tx.Chain(ctx, accountID, invoiceID)
	if err != nil {
		return billing.Invoice{}, err
	}
	if c == nil {
		return billing.Invoice{}, billing.ErrInvoiceNotFound
	}
	head := c.Head()
	if amount.Abs().GreaterThan(head.RemainingBalance) {
		return billing.Invoice{}, &billing.PaymentExceedsBalanceError{
			InvoiceID: head.ID,
			Remaining: head.RemainingBalance,
			Requested: amount,
		}
	}

	child := c.NextChild(now)
	adjust(&child)
	child = child.WithRemaining(head.RemainingBalance.Add(amount), now)
	child, err = schema.CheckInvoice(child)
	if err != nil {
		return billing.Invoice{}, err
	}
	return tx.AppendInvoice(ctx, child)
}

// drawRetainer takes |amount| of credit from a retainer for the settled
// child row.
func drawRetainer(ctx context.Context, tx billing.Store, accountID billing.AccountID, retainerID billing.RetainerID, child billing.Invoice, amount decimal.Decimal, userID billing.UserID, now time.Time) (billing.Retainer, billing.RetainerAllocation, error) {
	rc, err := tx.RetainerChain(ctx, accountID, retainerID)
	if err != nil {
		return billing.Retainer{}, billing.RetainerAllocation{}, err
	}
	if rc == nil {
		return billing.Retainer{}, billing.RetainerAllocation{}, billing.ErrRetainerNotFound
	}
	head := rc.Head()
	credit := head.Credit()
	draw := amount.Abs()
	if draw.GreaterThan(credit) {
		return billing.Retainer{}, billing.RetainerAllocation{}, &billing.RetainerExceededError{
			RetainerID: rc.ID(),
			Available:  credit,
			Requested:  amount,
		}
	}

	version := rc.NextVersion(head.CurrentAmount.Add(draw), now)
	version.CreatedByUserID = userID
	version, err = schema.CheckRetainer(version)
	if err != nil {
		return billing.Retainer{}, billing.RetainerAllocation{}, err
	}
	version, err = tx.AppendRetainer(ctx, version)
	if err != nil {
		return billing.Retainer{}, billing.RetainerAllocation{}, err
	}

	alloc, err := tx.InsertAllocation(ctx, billing.RetainerAllocation{
		AccountID:         accountID,
		CustomerID:        child.CustomerID,
		RetainerChainID:   rc.ID(),
		RetainerVersionID: version.ID,
		InvoiceID:         child.ID,
		Amount:            draw,
		BalanceBefore:     head.CurrentAmount,
		BalanceAfter:      version.CurrentAmount,
		CreatedAt:         now,
	})
	if err != nil {
		return billing.Retainer{}, billing.RetainerAllocation{}, err
	}
	return version, alloc, nil
}
