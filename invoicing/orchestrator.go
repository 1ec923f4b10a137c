/*
orchestrator.go - Invoice insertion

PURPOSE:
  Persists assembled invoices. For each customer, in this order:
    1. save the rendered document and get its location
    2. in one transaction:
       - insert the root invoice (validated by schema.CheckInvoice)
       - link every unbilled payment, write-off and transaction that fed
         the calculation to the new invoice, each validated by its schema
       - append the new retainer versions and allocation records
    3. after commit, archive the document

FAILURE RULES:
  - Any error inside the transaction rolls back that customer's rows and
    deletes the document saved in step 1, so no document points at a
    missing invoice.
  - A ledger row that another run linked in the meantime fails the link
    with billing.ErrConcurrentModification, which rolls back the customer.
  - An archive failure happens after commit. It is logged and reported on
    the Outcome; the invoice stays.
  - Customers are independent unless Options.SingleTransaction is set,
    in which case the first failure rolls back every customer.

SEE ALSO:
  - schema/records.go: Check* helpers
  - store/sqlite/ledger.go: Link-once UPDATEs
*/
package invoicing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/documents"
	"github.com/warp/invoice-engine/schema"
)

// Options controls how a batch is committed.
type Options struct {
	// SingleTransaction commits all customers together or none of them.
	SingleTransaction bool
}

// LinkCounts reports what an inserted invoice settled.
type LinkCounts struct {
	Transactions int `json:"transactions"`
	Payments     int `json:"payments"`
	WriteOffs    int `json:"write_offs"`
	Allocations  int `json:"allocations"`
}

// Outcome is the result for one customer.
type Outcome struct {
	CustomerID   billing.CustomerID `json:"customer_id"`
	Invoice      *billing.Invoice   `json:"invoice,omitempty"`
	FileLocation string             `json:"file_location,omitempty"`
	Linked       LinkCounts         `json:"linked"`
	Err          error              `json:"-"`
	ArchiveErr   error              `json:"-"`
}

// Succeeded reports whether the invoice committed.
func (o Outcome) Succeeded() bool { return o.Err == nil && o.Invoice != nil }

// Orchestrator writes invoices to the ledger.
type Orchestrator struct {
	Store     billing.TxStore
	Documents documents.Store
	Archiver  documents.Archiver // optional
	Log       zerolog.Logger
}

// Insert persists each invoice with its document. docs is keyed by
// customer; a customer without a document is inserted without a location.
// The returned error is set only when a SingleTransaction batch fails.
func (o *Orchestrator) Insert(ctx context.Context, invoices []InvoiceWithDetail, docs map[billing.CustomerID]documents.Rendered, opts Options) ([]Outcome, error) {
	outcomes := make([]Outcome, len(invoices))
	for i, inv := range invoices {
		outcomes[i] = Outcome{CustomerID: inv.Customer.ID}
	}

	// 1. Documents first.
	for i, inv := range invoices {
		doc, ok := docs[inv.Customer.ID]
		if !ok || o.Documents == nil {
			continue
		}
		loc, err := o.Documents.Save(ctx, inv.Invoice.AccountID, doc)
		if err != nil {
			outcomes[i].Err = fmt.Errorf("save document: %w", err)
			continue
		}
		outcomes[i].FileLocation = loc
	}

	// 2. Ledger rows.
	if opts.SingleTransaction {
		if err := o.insertAll(ctx, invoices, outcomes); err != nil {
			for i := range outcomes {
				o.discardDocument(ctx, &outcomes[i])
				outcomes[i].Invoice = nil
				outcomes[i].Linked = LinkCounts{}
				if outcomes[i].Err == nil {
					outcomes[i].Err = err
				}
			}
			return outcomes, err
		}
	} else {
		for i, inv := range invoices {
			if outcomes[i].Err != nil {
				continue
			}
			err := o.Store.WithTx(ctx, func(tx billing.Store) error {
				return o.insertOne(ctx, tx, inv, &outcomes[i])
			})
			if err != nil {
				o.Log.Error().Err(err).Int64("customer_id", int64(inv.Customer.ID)).
					Msg("invoice insert rolled back")
				o.discardDocument(ctx, &outcomes[i])
				outcomes[i].Invoice = nil
				outcomes[i].Linked = LinkCounts{}
				outcomes[i].Err = err
			}
		}
	}

	// 3. Archive committed documents.
	for i := range outcomes {
		out := &outcomes[i]
		if !out.Succeeded() || out.FileLocation == "" || o.Archiver == nil {
			continue
		}
		if err := o.Archiver.Archive(ctx, out.FileLocation); err != nil {
			o.Log.Warn().Err(err).Int64("customer_id", int64(out.CustomerID)).
				Str("location", out.FileLocation).Msg("failed to archive invoice document")
			out.ArchiveErr = err
		}
	}
	return outcomes, nil
}

func (o *Orchestrator) insertAll(ctx context.Context, invoices []InvoiceWithDetail, outcomes []Outcome) error {
	for _, out := range outcomes {
		if out.Err != nil {
			return fmt.Errorf("customer %d: %w", out.CustomerID, out.Err)
		}
	}
	return o.Store.WithTx(ctx, func(tx billing.Store) error {
		for i, inv := range invoices {
			if err := o.insertOne(ctx, tx, inv, &outcomes[i]); err != nil {
				return fmt.Errorf("customer %d: %w", inv.Customer.ID, err)
			}
		}
		return nil
	})
}

// insertOne writes one customer's rows through tx.
func (o *Orchestrator) insertOne(ctx context.Context, tx billing.Store, inv InvoiceWithDetail, out *Outcome) error {
	row := inv.Invoice
	if out.FileLocation != "" {
		loc := out.FileLocation
		row.FileLocation = &loc
	}

	row, err := schema.CheckInvoice(row)
	if err != nil {
		return err
	}
	row, err = tx.AppendInvoice(ctx, row)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	invoiceID := row.ID

	var linked LinkCounts
	for _, p := range inv.Calculated.UnbilledPayments() {
		p.InvoiceID = &invoiceID
		if p, err = schema.CheckPayment(p); err != nil {
			return err
		}
		if _, err := tx.SavePayment(ctx, p); err != nil {
			return err
		}
		linked.Payments++
	}
	for _, w := range inv.Calculated.UnbilledWriteOffs() {
		w.InvoiceID = &invoiceID
		if w, err = schema.CheckWriteOff(w); err != nil {
			return err
		}
		if _, err := tx.SaveWriteOff(ctx, w); err != nil {
			return err
		}
		linked.WriteOffs++
	}
	for _, t := range inv.Calculated.Transactions {
		t.InvoiceID = &invoiceID
		if t, err = schema.CheckTransaction(t); err != nil {
			return err
		}
		if _, err := tx.SaveTransaction(ctx, t); err != nil {
			return err
		}
		linked.Transactions++
	}

	for i, version := range inv.RetainerVersions {
		version, err := schema.CheckRetainer(version)
		if err != nil {
			return err
		}
		version, err = tx.AppendRetainer(ctx, version)
		if err != nil {
			return fmt.Errorf("append retainer version: %w", err)
		}
		if i >= len(inv.Allocations) {
			continue
		}
		alloc := inv.Allocations[i]
		alloc.InvoiceID = invoiceID
		alloc.RetainerVersionID = version.ID
		alloc.CreatedAt = row.CreatedAt
		if _, err := tx.InsertAllocation(ctx, alloc); err != nil {
			return fmt.Errorf("insert retainer allocation: %w", err)
		}
		linked.Allocations++
	}

	out.Invoice = &row
	out.Linked = linked
	o.Log.Info().
		Int64("customer_id", int64(row.CustomerID)).
		Int64("invoice_id", int64(row.ID)).
		Str("invoice_number", row.InvoiceNumber).
		Str("total_amount_due", row.TotalAmountDue.String()).
		Int("transactions", linked.Transactions).
		Int("payments", linked.Payments).
		Msg("invoice inserted")
	return nil
}

// discardDocument deletes a document whose invoice did not commit.
func (o *Orchestrator) discardDocument(ctx context.Context, out *Outcome) {
	if out.FileLocation == "" || o.Documents == nil {
		return
	}
	// The request context may already be done; the cleanup must still run.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := o.Documents.Delete(cleanupCtx, out.FileLocation); err != nil && !errors.Is(err, documents.ErrNotFound) {
		o.Log.Warn().Err(err).Str("location", out.FileLocation).Msg("failed to delete orphaned invoice document")
		return
	}
	out.FileLocation = ""
}
