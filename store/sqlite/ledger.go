package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/invoice-engine/billing"
)

// =============================================================================
// INVOICES
// =============================================================================

const invoiceColumns = `customer_invoice_id, chain_id, sequence_number, parent_invoice_id, account_id,
	customer_id, customer_info_id, invoice_number, invoice_date, due_date,
	beginning_balance, total_payments, total_charges, total_write_offs, total_retainers,
	total_amount_due, remaining_balance_on_invoice, is_invoice_paid_in_full, fully_paid_date,
	created_by_user_id, start_date, end_date, invoice_file_location, notes, created_at`

// AppendInvoice inserts a chain row. Roots get chain_id = their own id in
// the same statement sequence; children must extend the current head.
func (s *Store) AppendInvoice(ctx context.Context, inv billing.Invoice) (billing.Invoice, error) {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	var chainID sql.NullInt64
	if !inv.IsRoot() {
		if inv.ChainID == 0 {
			inv.ChainID = *inv.ParentInvoiceID
		}
		var head sql.NullInt64
		err := s.q.QueryRowContext(ctx,
			"SELECT MAX(sequence_number) FROM customer_invoices WHERE chain_id = ? AND account_id = ?",
			int64(inv.ChainID), int64(inv.AccountID)).Scan(&head)
		if err != nil {
			return inv, fmt.Errorf("failed to read chain head: %w", err)
		}
		if !head.Valid {
			return inv, billing.ErrInvoiceNotFound
		}
		if int(head.Int64) != inv.Sequence-1 {
			return inv, &billing.ConcurrentLinkError{Kind: "invoice chain", ID: int64(inv.ChainID)}
		}
		chainID = sql.NullInt64{Int64: int64(inv.ChainID), Valid: true}
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO customer_invoices (`+invoiceColumns[len("customer_invoice_id, "):]+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chainID, inv.Sequence, nullID(inv.ParentInvoiceID), int64(inv.AccountID),
		int64(inv.CustomerID), inv.CustomerInfoID, inv.InvoiceNumber,
		formatDate(inv.InvoiceDate), formatDate(inv.DueDate),
		inv.BeginningBalance.String(), inv.TotalPayments.String(), inv.TotalCharges.String(),
		inv.TotalWriteOffs.String(), inv.TotalRetainers.String(), inv.TotalAmountDue.String(),
		inv.RemainingBalance.String(), inv.IsPaidInFull, nullDate(inv.FullyPaidDate),
		int64(inv.CreatedByUserID), formatDate(inv.StartDate), formatDate(inv.EndDate),
		nullString(inv.FileLocation), nullString(inv.Notes), formatTS(inv.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return inv, &billing.ConcurrentLinkError{Kind: "invoice chain", ID: int64(inv.ChainID)}
		}
		return inv, fmt.Errorf("failed to insert invoice: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return inv, err
	}
	inv.ID = billing.InvoiceID(id)

	if inv.IsRoot() {
		inv.ChainID = inv.ID
		if _, err := s.q.ExecContext(ctx,
			"UPDATE customer_invoices SET chain_id = ? WHERE customer_invoice_id = ?", id, id); err != nil {
			return inv, fmt.Errorf("failed to start invoice chain: %w", err)
		}
	}
	return inv, nil
}

// Invoices returns chain rows matching the query, grouped by chain.
func (s *Store) Invoices(ctx context.Context, q billing.LedgerQuery) ([]billing.Invoice, error) {
	where, args := ledgerWhere(q, "")
	return s.queryInvoices(ctx,
		"SELECT "+invoiceColumns+" FROM customer_invoices"+where+" ORDER BY chain_id, sequence_number", args...)
}

// LastInvoiceDates returns the newest root invoice timestamp per customer.
func (s *Store) LastInvoiceDates(ctx context.Context, accountID billing.AccountID, ids []billing.CustomerID) (map[billing.CustomerID]time.Time, error) {
	query := `SELECT customer_id, MAX(created_at) FROM customer_invoices
		WHERE account_id = ? AND parent_invoice_id IS NULL`
	args := []any{int64(accountID)}
	if len(ids) > 0 {
		in, inArgs := inClause("customer_id", ids)
		query += " AND " + in
		args = append(args, inArgs...)
	}
	query += " GROUP BY customer_id"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[billing.CustomerID]time.Time)
	for rows.Next() {
		var id int64
		var last string
		if err := rows.Scan(&id, &last); err != nil {
			return nil, err
		}
		out[billing.CustomerID(id)] = parseTS(last)
	}
	return out, rows.Err()
}

// Chain loads the whole chain containing invoiceID, or nil.
func (s *Store) Chain(ctx context.Context, accountID billing.AccountID, invoiceID billing.InvoiceID) (*billing.Chain, error) {
	var chainID int64
	err := s.q.QueryRowContext(ctx,
		"SELECT chain_id FROM customer_invoices WHERE customer_invoice_id = ? AND account_id = ?",
		int64(invoiceID), int64(accountID)).Scan(&chainID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.queryInvoices(ctx,
		"SELECT "+invoiceColumns+" FROM customer_invoices WHERE chain_id = ? ORDER BY sequence_number", chainID)
	if err != nil {
		return nil, err
	}
	chain, err := billing.NewChain(rows)
	if err != nil {
		return nil, err
	}
	return &chain, nil
}

// InvoiceLinks counts the rows that reference invoiceID.
func (s *Store) InvoiceLinks(ctx context.Context, invoiceID billing.InvoiceID) (billing.InvoiceLinks, error) {
	var links billing.InvoiceLinks
	err := s.q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM customer_transactions WHERE customer_invoice_id = ?1),
			(SELECT COUNT(*) FROM customer_payments WHERE customer_invoice_id = ?1),
			(SELECT COUNT(*) FROM customer_writeoffs WHERE customer_invoice_id = ?1),
			(SELECT COUNT(*) FROM retainer_allocations WHERE customer_invoice_id = ?1),
			(SELECT COUNT(*) FROM customer_invoices WHERE parent_invoice_id = ?1)`,
		int64(invoiceID),
	).Scan(&links.Transactions, &links.Payments, &links.WriteOffs, &links.Allocations, &links.Children)
	return links, err
}

// DeleteInvoice removes one invoice row. Link checks happen in the engine.
func (s *Store) DeleteInvoice(ctx context.Context, accountID billing.AccountID, invoiceID billing.InvoiceID) error {
	res, err := s.q.ExecContext(ctx,
		"DELETE FROM customer_invoices WHERE customer_invoice_id = ? AND account_id = ?",
		int64(invoiceID), int64(accountID))
	if err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrInvoiceNotFound
	}
	return nil
}

func (s *Store) queryInvoices(ctx context.Context, query string, args ...any) ([]billing.Invoice, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Invoice
	for rows.Next() {
		var inv billing.Invoice
		var parent sql.NullInt64
		var invoiceDate, dueDate, startDate, endDate, createdAt string
		var begin, payments, charges, writeOffs, retainers, due, remaining string
		var paidDate, location, notes sql.NullString

		if err := rows.Scan(&inv.ID, &inv.ChainID, &inv.Sequence, &parent, &inv.AccountID,
			&inv.CustomerID, &inv.CustomerInfoID, &inv.InvoiceNumber, &invoiceDate, &dueDate,
			&begin, &payments, &charges, &writeOffs, &retainers,
			&due, &remaining, &inv.IsPaidInFull, &paidDate,
			&inv.CreatedByUserID, &startDate, &endDate, &location, &notes, &createdAt); err != nil {
			return nil, err
		}

		inv.ParentInvoiceID = idPtr[billing.InvoiceID](parent)
		inv.InvoiceDate = parseDate(invoiceDate)
		inv.DueDate = parseDate(dueDate)
		inv.StartDate = parseDate(startDate)
		inv.EndDate = parseDate(endDate)
		inv.CreatedAt = parseTS(createdAt)
		inv.BeginningBalance = parseAmount(begin)
		inv.TotalPayments = parseAmount(payments)
		inv.TotalCharges = parseAmount(charges)
		inv.TotalWriteOffs = parseAmount(writeOffs)
		inv.TotalRetainers = parseAmount(retainers)
		inv.TotalAmountDue = parseAmount(due)
		inv.RemainingBalance = parseAmount(remaining)
		inv.FullyPaidDate = datePtr(paidDate)
		inv.FileLocation = stringPtr(location)
		inv.Notes = stringPtr(notes)
		out = append(out, inv)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const transactionColumns = `transaction_id, account_id, customer_id, customer_job_id, retainer_id,
	customer_invoice_id, logged_for_user_id, general_work_description_id, detailed_work_description,
	transaction_date, transaction_type, quantity, unit_cost, total_transaction,
	is_transaction_billable, is_excess_to_subscription, created_at, created_by_user_id, note`

// SaveTransaction inserts a transaction or links an unbilled one.
func (s *Store) SaveTransaction(ctx context.Context, t billing.Transaction) (billing.Transaction, error) {
	if t.ID != 0 {
		err := s.link(ctx, "transaction", "customer_transactions", "transaction_id", int64(t.ID), t.InvoiceID)
		return t, err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO customer_transactions (`+transactionColumns[len("transaction_id, "):]+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(t.AccountID), int64(t.CustomerID), int64(t.JobID), nullID(t.RetainerID),
		nullID(t.InvoiceID), int64(t.LoggedForUserID), t.GeneralWorkDescriptionID, t.Description,
		formatDate(t.TransactionDate), t.TransactionType, t.Quantity.String(), t.UnitCost.String(),
		t.Total.String(), t.IsBillable, t.IsExcessToSubscription, formatTS(t.CreatedAt),
		int64(t.CreatedByUserID), nullString(t.Note),
	)
	if err != nil {
		return t, fmt.Errorf("failed to insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return t, err
	}
	t.ID = billing.TransactionID(id)
	return t, nil
}

// Transactions returns transactions matching the query.
func (s *Store) Transactions(ctx context.Context, q billing.LedgerQuery) ([]billing.Transaction, error) {
	where, args := ledgerWhere(q, "customer_invoice_id")
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM customer_transactions"+where+" ORDER BY transaction_id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Transaction
	for rows.Next() {
		var t billing.Transaction
		var retainer, invoice sql.NullInt64
		var txDate, qty, unit, total, createdAt string
		var note sql.NullString
		if err := rows.Scan(&t.ID, &t.AccountID, &t.CustomerID, &t.JobID, &retainer,
			&invoice, &t.LoggedForUserID, &t.GeneralWorkDescriptionID, &t.Description,
			&txDate, &t.TransactionType, &qty, &unit, &total,
			&t.IsBillable, &t.IsExcessToSubscription, &createdAt, &t.CreatedByUserID, &note); err != nil {
			return nil, err
		}
		t.RetainerID = idPtr[billing.RetainerID](retainer)
		t.InvoiceID = idPtr[billing.InvoiceID](invoice)
		t.TransactionDate = parseDate(txDate)
		t.Quantity = parseAmount(qty)
		t.UnitCost = parseAmount(unit)
		t.Total = parseAmount(total)
		t.CreatedAt = parseTS(createdAt)
		t.Note = stringPtr(note)
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `payment_id, customer_id, account_id, customer_job_id, retainer_id,
	customer_invoice_id, payment_date, payment_amount, form_of_payment, payment_reference_number,
	is_transaction_billable, created_at, created_by_user_id, note`

// SavePayment inserts a payment or links an unbilled one.
func (s *Store) SavePayment(ctx context.Context, p billing.Payment) (billing.Payment, error) {
	if p.ID != 0 {
		err := s.link(ctx, "payment", "customer_payments", "payment_id", int64(p.ID), p.InvoiceID)
		return p, err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO customer_payments (`+paymentColumns[len("payment_id, "):]+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(p.CustomerID), int64(p.AccountID), nullID(p.JobID), nullID(p.RetainerID),
		nullID(p.InvoiceID), formatDate(p.PaymentDate), p.Amount.String(), p.FormOfPayment,
		p.ReferenceNumber, p.IsBillable, formatTS(p.CreatedAt), int64(p.CreatedByUserID),
		nullString(p.Note),
	)
	if err != nil {
		return p, fmt.Errorf("failed to insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return p, err
	}
	p.ID = billing.PaymentID(id)
	return p, nil
}

// Payments returns payments matching the query.
func (s *Store) Payments(ctx context.Context, q billing.LedgerQuery) ([]billing.Payment, error) {
	where, args := ledgerWhere(q, "customer_invoice_id")
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+paymentColumns+" FROM customer_payments"+where+" ORDER BY payment_id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Payment
	for rows.Next() {
		var p billing.Payment
		var job, retainer, invoice sql.NullInt64
		var payDate, amount, createdAt string
		var note sql.NullString
		if err := rows.Scan(&p.ID, &p.CustomerID, &p.AccountID, &job, &retainer,
			&invoice, &payDate, &amount, &p.FormOfPayment, &p.ReferenceNumber,
			&p.IsBillable, &createdAt, &p.CreatedByUserID, &note); err != nil {
			return nil, err
		}
		p.JobID = idPtr[billing.JobID](job)
		p.RetainerID = idPtr[billing.RetainerID](retainer)
		p.InvoiceID = idPtr[billing.InvoiceID](invoice)
		p.PaymentDate = parseDate(payDate)
		p.Amount = parseAmount(amount)
		p.CreatedAt = parseTS(createdAt)
		p.Note = stringPtr(note)
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// WRITE-OFFS
// =============================================================================

const writeOffColumns = `writeoff_id, customer_id, account_id, customer_invoice_id, customer_job_id,
	writeoff_date, writeoff_amount, transaction_type, writeoff_reason, created_at,
	created_by_user_id, note`

// SaveWriteOff inserts a write-off or links an unbilled one.
func (s *Store) SaveWriteOff(ctx context.Context, w billing.WriteOff) (billing.WriteOff, error) {
	if w.ID != 0 {
		err := s.link(ctx, "write-off", "customer_writeoffs", "writeoff_id", int64(w.ID), w.InvoiceID)
		return w, err
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO customer_writeoffs (`+writeOffColumns[len("writeoff_id, "):]+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(w.CustomerID), int64(w.AccountID), nullID(w.InvoiceID), nullID(w.JobID),
		formatDate(w.Date), w.Amount.String(), w.TransactionType, w.Reason,
		formatTS(w.CreatedAt), int64(w.CreatedByUserID), nullString(w.Note),
	)
	if err != nil {
		return w, fmt.Errorf("failed to insert write-off: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return w, err
	}
	w.ID = billing.WriteOffID(id)
	return w, nil
}

// WriteOffs returns write-offs matching the query.
func (s *Store) WriteOffs(ctx context.Context, q billing.LedgerQuery) ([]billing.WriteOff, error) {
	where, args := ledgerWhere(q, "customer_invoice_id")
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+writeOffColumns+" FROM customer_writeoffs"+where+" ORDER BY writeoff_id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.WriteOff
	for rows.Next() {
		var w billing.WriteOff
		var invoice, job sql.NullInt64
		var date, amount, createdAt string
		var note sql.NullString
		if err := rows.Scan(&w.ID, &w.CustomerID, &w.AccountID, &invoice, &job,
			&date, &amount, &w.TransactionType, &w.Reason, &createdAt,
			&w.CreatedByUserID, &note); err != nil {
			return nil, err
		}
		w.InvoiceID = idPtr[billing.InvoiceID](invoice)
		w.JobID = idPtr[billing.JobID](job)
		w.Date = parseDate(date)
		w.Amount = parseAmount(amount)
		w.CreatedAt = parseTS(createdAt)
		w.Note = stringPtr(note)
		out = append(out, w)
	}
	return out, rows.Err()
}

// link points an unbilled ledger row at an invoice. A row that is already
// billed, or missing, is reported as a concurrent modification.
func (s *Store) link(ctx context.Context, kind, table, idCol string, id int64, invoiceID *billing.InvoiceID) error {
	if invoiceID == nil {
		return fmt.Errorf("link %s %d: no invoice id", kind, id)
	}
	res, err := s.q.ExecContext(ctx,
		"UPDATE "+table+" SET customer_invoice_id = ? WHERE "+idCol+" = ? AND customer_invoice_id IS NULL",
		int64(*invoiceID), id)
	if err != nil {
		return fmt.Errorf("failed to link %s %d: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &billing.ConcurrentLinkError{Kind: kind, ID: id}
	}
	return nil
}

// =============================================================================
// RETAINERS
// =============================================================================

const retainerColumns = `retainer_id, chain_id, sequence_number, parent_retainer_id, customer_id,
	account_id, display_name, type_of_hold, starting_amount, current_amount, form_of_payment,
	payment_reference_number, is_retainer_active, created_at, created_by_user_id, note`

// AppendRetainer inserts a retainer version.
func (s *Store) AppendRetainer(ctx context.Context, r billing.Retainer) (billing.Retainer, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	var chainID sql.NullInt64
	if r.ParentRetainerID != nil {
		if r.ChainID == 0 {
			r.ChainID = *r.ParentRetainerID
		}
		chainID = sql.NullInt64{Int64: int64(r.ChainID), Valid: true}
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO customer_retainers (`+retainerColumns[len("retainer_id, "):]+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chainID, r.Sequence, nullID(r.ParentRetainerID), int64(r.CustomerID), int64(r.AccountID),
		r.DisplayName, r.TypeOfHold, r.StartingAmount.String(), r.CurrentAmount.String(),
		r.FormOfPayment, r.ReferenceNumber, r.IsActive, formatTS(r.CreatedAt),
		int64(r.CreatedByUserID), nullString(r.Note),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return r, &billing.ConcurrentLinkError{Kind: "retainer chain", ID: int64(r.ChainID)}
		}
		return r, fmt.Errorf("failed to insert retainer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return r, err
	}
	r.ID = billing.RetainerID(id)

	if r.ParentRetainerID == nil {
		r.ChainID = r.ID
		if _, err := s.q.ExecContext(ctx,
			"UPDATE customer_retainers SET chain_id = ? WHERE retainer_id = ?", id, id); err != nil {
			return r, fmt.Errorf("failed to start retainer chain: %w", err)
		}
	}
	return r, nil
}

// Retainers returns every retainer version matching the query.
func (s *Store) Retainers(ctx context.Context, q billing.LedgerQuery) ([]billing.Retainer, error) {
	where, args := ledgerWhere(q, "")
	return s.queryRetainers(ctx,
		"SELECT "+retainerColumns+" FROM customer_retainers"+where+" ORDER BY chain_id, sequence_number", args...)
}

// RetainerChain loads the chain containing retainerID, or nil.
func (s *Store) RetainerChain(ctx context.Context, accountID billing.AccountID, retainerID billing.RetainerID) (*billing.RetainerChain, error) {
	var chainID int64
	err := s.q.QueryRowContext(ctx,
		"SELECT chain_id FROM customer_retainers WHERE retainer_id = ? AND account_id = ?",
		int64(retainerID), int64(accountID)).Scan(&chainID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.queryRetainers(ctx,
		"SELECT "+retainerColumns+" FROM customer_retainers WHERE chain_id = ? ORDER BY sequence_number", chainID)
	if err != nil {
		return nil, err
	}
	chain, err := billing.NewRetainerChain(rows)
	if err != nil {
		return nil, err
	}
	return &chain, nil
}

func (s *Store) queryRetainers(ctx context.Context, query string, args ...any) ([]billing.Retainer, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Retainer
	for rows.Next() {
		var r billing.Retainer
		var parent sql.NullInt64
		var starting, current, createdAt string
		var note sql.NullString
		if err := rows.Scan(&r.ID, &r.ChainID, &r.Sequence, &parent, &r.CustomerID,
			&r.AccountID, &r.DisplayName, &r.TypeOfHold, &starting, &current, &r.FormOfPayment,
			&r.ReferenceNumber, &r.IsActive, &createdAt, &r.CreatedByUserID, &note); err != nil {
			return nil, err
		}
		r.ParentRetainerID = idPtr[billing.RetainerID](parent)
		r.StartingAmount = parseAmount(starting)
		r.CurrentAmount = parseAmount(current)
		r.CreatedAt = parseTS(createdAt)
		r.Note = stringPtr(note)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

// InsertAllocation records retainer credit applied to an invoice.
func (s *Store) InsertAllocation(ctx context.Context, a billing.RetainerAllocation) (billing.RetainerAllocation, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO retainer_allocations
		(account_id, customer_id, retainer_chain_id, retainer_version_id, customer_invoice_id,
		 amount, balance_before, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(a.AccountID), int64(a.CustomerID), int64(a.RetainerChainID), int64(a.RetainerVersionID),
		int64(a.InvoiceID), a.Amount.String(), a.BalanceBefore.String(), a.BalanceAfter.String(),
		formatTS(a.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return a, billing.ErrDuplicateAllocation
		}
		return a, fmt.Errorf("failed to insert allocation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return a, err
	}
	a.ID = billing.AllocationID(id)
	return a, nil
}

// Allocations returns the allocations applied to an invoice.
func (s *Store) Allocations(ctx context.Context, invoiceID billing.InvoiceID) ([]billing.RetainerAllocation, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT allocation_id, account_id, customer_id, retainer_chain_id, retainer_version_id,
		       customer_invoice_id, amount, balance_before, balance_after, created_at
		FROM retainer_allocations WHERE customer_invoice_id = ? ORDER BY allocation_id`, int64(invoiceID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.RetainerAllocation
	for rows.Next() {
		var a billing.RetainerAllocation
		var amount, before, after, createdAt string
		if err := rows.Scan(&a.ID, &a.AccountID, &a.CustomerID, &a.RetainerChainID, &a.RetainerVersionID,
			&a.InvoiceID, &amount, &before, &after, &createdAt); err != nil {
			return nil, err
		}
		a.Amount = parseAmount(amount)
		a.BalanceBefore = parseAmount(before)
		a.BalanceAfter = parseAmount(after)
		a.CreatedAt = parseTS(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
