/*
Package sqlite provides a SQLite-backed implementation of the ledger interfaces.

PURPOSE:
  Implements billing.TxStore (the ledger query layer plus chain appends)
  and the invoice number sequence using SQLite through database/sql. The
  same SQL runs on PostgreSQL with minor dialect changes.

APPEND-ONLY ENFORCEMENT:
  - customer_invoices and customer_retainers are only ever INSERTed
  - (chain_id, sequence_number) is unique, so two writers cannot both
    append sequence N to the same chain
  - ledger rows (transactions, payments, write-offs) may be linked to an
    invoice exactly once: the link UPDATE only matches unbilled rows

KEY TABLES:
  customers, billing_profiles, customer_jobs
  customer_invoices           invoice chains
  customer_transactions       billable work
  customer_payments           money received
  customer_writeoffs          non-collectible adjustments
  customer_retainers          retainer version chains
  retainer_allocations        retainer credit applied to an invoice
  invoice_number_sequences    per account/year invoice counters
  invoice_chain_heads (view)  current row of every chain

TIME STORAGE:
  Timestamps are stored as fixed-width UTC text (microseconds) so string
  comparison in SQL matches time order. Dates are stored as YYYY-MM-DD.

CONCURRENCY:
  The pool is capped at one connection: SQLite has a single writer and
  ":memory:" databases are per-connection. Inside WithTx every call must go
  through the Store handed to fn.

USAGE:
  store, err := sqlite.New("./data/invoices.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - billing/store.go: Interface definitions
  - sequence.go: Invoice number reservations
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/invoice-engine/billing"
)

const (
	timestampLayout = "2006-01-02T15:04:05.000000Z"
	dateLayout      = "2006-01-02"
)

// ErrDuplicateDisplayName is returned when a customer display name is
// already used on the account.
var ErrDuplicateDisplayName = errors.New("customer display name already exists")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements billing.TxStore using SQLite.
type Store struct {
	db   *sql.DB
	q    querier
	inTx bool
}

var _ billing.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		customer_id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		display_name TEXT NOT NULL,
		business_name TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		customer_info_id INTEGER NOT NULL DEFAULT 0,
		street TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		zip TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		is_customer_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_display_name
		ON customers(account_id, display_name);

	CREATE TABLE IF NOT EXISTS billing_profiles (
		account_id INTEGER PRIMARY KEY,
		account_name TEXT NOT NULL,
		street TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		zip TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		invoice_prefix TEXT NOT NULL DEFAULT 'INV',
		last_invoice_number TEXT NOT NULL DEFAULT '',
		due_days INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS customer_jobs (
		customer_job_id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		customer_id INTEGER NOT NULL REFERENCES customers(customer_id),
		job_description TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Invoice chains (append-only)
	CREATE TABLE IF NOT EXISTS customer_invoices (
		customer_invoice_id INTEGER PRIMARY KEY AUTOINCREMENT,
		chain_id INTEGER,
		sequence_number INTEGER NOT NULL,
		parent_invoice_id INTEGER REFERENCES customer_invoices(customer_invoice_id),
		account_id INTEGER NOT NULL,
		customer_id INTEGER NOT NULL REFERENCES customers(customer_id),
		customer_info_id INTEGER NOT NULL,
		invoice_number TEXT NOT NULL,
		invoice_date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		beginning_balance TEXT NOT NULL,
		total_payments TEXT NOT NULL,
		total_charges TEXT NOT NULL,
		total_write_offs TEXT NOT NULL,
		total_retainers TEXT NOT NULL,
		total_amount_due TEXT NOT NULL,
		remaining_balance_on_invoice TEXT NOT NULL,
		is_invoice_paid_in_full BOOLEAN NOT NULL,
		fully_paid_date TEXT,
		created_by_user_id INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		invoice_file_location TEXT,
		notes TEXT,
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_chain_sequence
		ON customer_invoices(chain_id, sequence_number);
	CREATE INDEX IF NOT EXISTS idx_invoices_account_customer
		ON customer_invoices(account_id, customer_id);
	CREATE INDEX IF NOT EXISTS idx_invoices_roots
		ON customer_invoices(account_id, customer_id, created_at) WHERE parent_invoice_id IS NULL;

	CREATE VIEW IF NOT EXISTS invoice_chain_heads AS
		SELECT i.* FROM customer_invoices i
		JOIN (SELECT chain_id, MAX(sequence_number) AS head_sequence
		      FROM customer_invoices GROUP BY chain_id) h
		  ON i.chain_id = h.chain_id AND i.sequence_number = h.head_sequence;

	CREATE TABLE IF NOT EXISTS customer_transactions (
		transaction_id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		customer_id INTEGER NOT NULL REFERENCES customers(customer_id),
		customer_job_id INTEGER NOT NULL,
		retainer_id INTEGER,
		customer_invoice_id INTEGER REFERENCES customer_invoices(customer_invoice_id),
		logged_for_user_id INTEGER NOT NULL,
		general_work_description_id INTEGER NOT NULL DEFAULT 0,
		detailed_work_description TEXT NOT NULL DEFAULT '',
		transaction_date TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		total_transaction TEXT NOT NULL,
		is_transaction_billable BOOLEAN NOT NULL,
		is_excess_to_subscription BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		created_by_user_id INTEGER NOT NULL,
		note TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_customer
		ON customer_transactions(account_id, customer_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_unbilled
		ON customer_transactions(account_id, customer_id) WHERE customer_invoice_id IS NULL;

	CREATE TABLE IF NOT EXISTS customer_payments (
		payment_id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL REFERENCES customers(customer_id),
		account_id INTEGER NOT NULL,
		customer_job_id INTEGER,
		retainer_id INTEGER,
		customer_invoice_id INTEGER REFERENCES customer_invoices(customer_invoice_id),
		payment_date TEXT NOT NULL,
		payment_amount TEXT NOT NULL,
		form_of_payment TEXT NOT NULL,
		payment_reference_number TEXT NOT NULL DEFAULT '',
		is_transaction_billable BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		created_by_user_id INTEGER NOT NULL,
		note TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_payments_customer
		ON customer_payments(account_id, customer_id, created_at);

	CREATE TABLE IF NOT EXISTS customer_writeoffs (
		writeoff_id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL REFERENCES customers(customer_id),
		account_id INTEGER NOT NULL,
		customer_invoice_id INTEGER REFERENCES customer_invoices(customer_invoice_id),
		customer_job_id INTEGER,
		writeoff_date TEXT NOT NULL,
		writeoff_amount TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		writeoff_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		created_by_user_id INTEGER NOT NULL,
		note TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_writeoffs_customer
		ON customer_writeoffs(account_id, customer_id, created_at);

	-- Retainer version chains (append-only)
	CREATE TABLE IF NOT EXISTS customer_retainers (
		retainer_id INTEGER PRIMARY KEY AUTOINCREMENT,
		chain_id INTEGER,
		sequence_number INTEGER NOT NULL,
		parent_retainer_id INTEGER REFERENCES customer_retainers(retainer_id),
		customer_id INTEGER NOT NULL REFERENCES customers(customer_id),
		account_id INTEGER NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		type_of_hold TEXT NOT NULL,
		starting_amount TEXT NOT NULL,
		current_amount TEXT NOT NULL,
		form_of_payment TEXT NOT NULL DEFAULT '',
		payment_reference_number TEXT NOT NULL DEFAULT '',
		is_retainer_active BOOLEAN NOT NULL,
		created_at TEXT NOT NULL,
		created_by_user_id INTEGER NOT NULL,
		note TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_retainers_chain_sequence
		ON customer_retainers(chain_id, sequence_number);

	CREATE TABLE IF NOT EXISTS retainer_allocations (
		allocation_id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		customer_id INTEGER NOT NULL,
		retainer_chain_id INTEGER NOT NULL,
		retainer_version_id INTEGER NOT NULL REFERENCES customer_retainers(retainer_id),
		customer_invoice_id INTEGER NOT NULL REFERENCES customer_invoices(customer_invoice_id),
		amount TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(retainer_chain_id, customer_invoice_id)
	);

	CREATE TABLE IF NOT EXISTS invoice_number_sequences (
		account_id INTEGER NOT NULL,
		year INTEGER NOT NULL,
		last_value INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (account_id, year)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction. Calls nested
// inside an open transaction reuse it.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Store{db: s.db, q: sqlTx, inTx: true}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// CUSTOMERS, PROFILES, JOBS
// =============================================================================

// SaveCustomer inserts a customer (ID == 0) or updates its details.
func (s *Store) SaveCustomer(ctx context.Context, c billing.Customer) (billing.Customer, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	args := []any{
		int64(c.AccountID), c.DisplayName, c.BusinessName, c.FirstName, c.LastName,
		c.Contact.CustomerInfoID, c.Contact.Street, c.Contact.City, c.Contact.State,
		c.Contact.Zip, c.Contact.Email, c.Contact.Phone, c.IsActive,
	}

	var err error
	if c.ID == 0 {
		var res sql.Result
		res, err = s.q.ExecContext(ctx, `
			INSERT INTO customers
			(account_id, display_name, business_name, first_name, last_name, customer_info_id,
			 street, city, state, zip, email, phone, is_customer_active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			append(args, formatTS(c.CreatedAt))...)
		if err == nil {
			var id int64
			if id, err = res.LastInsertId(); err != nil {
				return c, err
			}
			c.ID = billing.CustomerID(id)
			if c.Contact.CustomerInfoID == 0 {
				c.Contact.CustomerInfoID = id
				_, err = s.q.ExecContext(ctx, "UPDATE customers SET customer_info_id = ? WHERE customer_id = ?", id, id)
			}
		}
	} else {
		_, err = s.q.ExecContext(ctx, `
			UPDATE customers SET
				account_id = ?, display_name = ?, business_name = ?, first_name = ?, last_name = ?,
				customer_info_id = ?, street = ?, city = ?, state = ?, zip = ?, email = ?, phone = ?,
				is_customer_active = ?
			WHERE customer_id = ?`,
			append(args, int64(c.ID))...)
	}
	if err != nil {
		if isUniqueConstraintError(err) {
			return c, ErrDuplicateDisplayName
		}
		return c, fmt.Errorf("failed to save customer: %w", err)
	}
	return c, nil
}

const customerColumns = `customer_id, account_id, display_name, business_name, first_name, last_name,
	customer_info_id, street, city, state, zip, email, phone, is_customer_active, created_at`

// Customers returns active customers for the account.
func (s *Store) Customers(ctx context.Context, accountID billing.AccountID, ids []billing.CustomerID) ([]billing.Customer, error) {
	query := "SELECT " + customerColumns + " FROM customers WHERE account_id = ? AND is_customer_active"
	args := []any{int64(accountID)}
	if len(ids) > 0 {
		in, inArgs := inClause("customer_id", ids)
		query += " AND " + in
		args = append(args, inArgs...)
	}
	query += " ORDER BY customer_id"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Customer
	for rows.Next() {
		var c billing.Customer
		var createdAt string
		if err := rows.Scan(&c.ID, &c.AccountID, &c.DisplayName, &c.BusinessName, &c.FirstName, &c.LastName,
			&c.Contact.CustomerInfoID, &c.Contact.Street, &c.Contact.City, &c.Contact.State, &c.Contact.Zip,
			&c.Contact.Email, &c.Contact.Phone, &c.IsActive, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTS(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveBillingProfile inserts or replaces the account's billing profile.
func (s *Store) SaveBillingProfile(ctx context.Context, p billing.BillingProfile) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO billing_profiles
		(account_id, account_name, street, city, state, zip, email, phone, invoice_prefix, last_invoice_number, due_days)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			account_name = excluded.account_name,
			street = excluded.street,
			city = excluded.city,
			state = excluded.state,
			zip = excluded.zip,
			email = excluded.email,
			phone = excluded.phone,
			invoice_prefix = excluded.invoice_prefix,
			last_invoice_number = excluded.last_invoice_number,
			due_days = excluded.due_days`,
		int64(p.AccountID), p.AccountName, p.Street, p.City, p.State, p.Zip, p.Email, p.Phone,
		p.Prefix(), p.LastInvoiceNumber, p.DueDays,
	)
	return err
}

// BillingProfile returns the account's billing profile, or nil.
func (s *Store) BillingProfile(ctx context.Context, accountID billing.AccountID) (*billing.BillingProfile, error) {
	var p billing.BillingProfile
	err := s.q.QueryRowContext(ctx, `
		SELECT account_id, account_name, street, city, state, zip, email, phone,
		       invoice_prefix, last_invoice_number, due_days
		FROM billing_profiles WHERE account_id = ?`, int64(accountID),
	).Scan(&p.AccountID, &p.AccountName, &p.Street, &p.City, &p.State, &p.Zip, &p.Email, &p.Phone,
		&p.InvoicePrefix, &p.LastInvoiceNumber, &p.DueDays)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveJob inserts a job.
func (s *Store) SaveJob(ctx context.Context, j billing.Job) (billing.Job, error) {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO customer_jobs (account_id, customer_id, job_description, created_at)
		VALUES (?, ?, ?, ?)`,
		int64(j.AccountID), int64(j.CustomerID), j.Description, formatTS(j.CreatedAt))
	if err != nil {
		return j, fmt.Errorf("failed to save job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return j, err
	}
	j.ID = billing.JobID(id)
	return j, nil
}

// Jobs returns jobs matching the query.
func (s *Store) Jobs(ctx context.Context, q billing.LedgerQuery) ([]billing.Job, error) {
	where, args := ledgerWhere(q, "")
	rows, err := s.q.QueryContext(ctx,
		"SELECT customer_job_id, account_id, customer_id, job_description, created_at FROM customer_jobs"+where+
			" ORDER BY customer_job_id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Job
	for rows.Next() {
		var j billing.Job
		var createdAt string
		if err := rows.Scan(&j.ID, &j.AccountID, &j.CustomerID, &j.Description, &createdAt); err != nil {
			return nil, err
		}
		j.CreatedAt = parseTS(createdAt)
		out = append(out, j)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// ledgerWhere renders a LedgerQuery as a WHERE clause. unbilledCol is the
// invoice link column, or "" when the table has none.
func ledgerWhere(q billing.LedgerQuery, unbilledCol string) (string, []any) {
	clauses := []string{"account_id = ?"}
	args := []any{int64(q.AccountID)}

	if len(q.CustomerIDs) > 0 {
		in, inArgs := inClause("customer_id", q.CustomerIDs)
		clauses = append(clauses, in)
		args = append(args, inArgs...)
	}
	if q.Since != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTS(*q.Since))
	}
	if q.Unbilled && unbilledCol != "" {
		clauses = append(clauses, unbilledCol+" IS NULL")
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func inClause[T ~int64](col string, ids []T) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = int64(id)
	}
	return col + " IN (" + strings.Join(marks, ", ") + ")", args
}

func formatTS(t time.Time) string { return t.UTC().Format(timestampLayout) }

func formatDate(t time.Time) string { return t.UTC().Format(dateLayout) }

func parseTS(s string) time.Time {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullID[T ~int64](p *T) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullDate(p *time.Time) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*p), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func idPtr[T ~int64](n sql.NullInt64) *T {
	if !n.Valid {
		return nil
	}
	id := T(n.Int64)
	return &id
}

func datePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseDate(ns.String)
	return &t
}

func parseAmount(s string) decimal.Decimal {
	return billing.MustParseDecimal(s)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
