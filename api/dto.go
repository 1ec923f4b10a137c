/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types in
  billing/ carry no JSON tags; everything crossing HTTP goes through
  these types so the ledger schema can change without breaking clients.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

FORMATS:
  Dates are YYYY-MM-DD, timestamps RFC 3339. Money is a decimal string
  ("150.00"), never a float. Payments, write-offs and held retainer
  credit are negative on the ledger and are reported that way.

VALIDATION:
  Request types carry validator tags and are checked in handlers before
  any store call. Invoice selection payloads are validated by the
  invoicing package itself.

SEE ALSO:
  - handlers.go: Uses these types
  - invoicing/engine.go: CreateRequest (decoded directly)
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/invoicing"
)

const (
	dateLayout = "2006-01-02"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateCustomerRequest is the request to create a customer.
type CreateCustomerRequest struct {
	DisplayName  string `json:"display_name" validate:"required,max=200"`
	BusinessName string `json:"business_name" validate:"max=200"`
	FirstName    string `json:"first_name" validate:"max=100"`
	LastName     string `json:"last_name" validate:"max=100"`
	Street       string `json:"street"`
	City         string `json:"city"`
	State        string `json:"state"`
	Zip          string `json:"zip"`
	Email        string `json:"email" validate:"omitempty,email"`
	Phone        string `json:"phone"`
}

// BillingProfileRequest sets the account's pay-to details.
type BillingProfileRequest struct {
	AccountName       string `json:"account_name" validate:"required,max=200"`
	Street            string `json:"street"`
	City              string `json:"city"`
	State             string `json:"state"`
	Zip               string `json:"zip"`
	Email             string `json:"email" validate:"omitempty,email"`
	Phone             string `json:"phone"`
	InvoicePrefix     string `json:"invoice_prefix" validate:"omitempty,max=20,printascii"`
	LastInvoiceNumber string `json:"last_invoice_number"`
	DueDays           int    `json:"due_days" validate:"gte=0,lte=365"`
}

// CreateJobRequest opens a matter for a customer.
type CreateJobRequest struct {
	CustomerID  billing.CustomerID `json:"customer_id" validate:"required,gt=0"`
	Description string             `json:"description" validate:"required,max=500"`
}

// CreateTransactionRequest records billable work.
type CreateTransactionRequest struct {
	CustomerID      billing.CustomerID  `json:"customer_id" validate:"required,gt=0"`
	JobID           billing.JobID       `json:"job_id" validate:"required,gt=0"`
	RetainerID      *billing.RetainerID `json:"retainer_id,omitempty"`
	LoggedForUserID billing.UserID      `json:"logged_for_user_id"`
	Description     string              `json:"description" validate:"required"`
	TransactionDate string              `json:"transaction_date" validate:"required"`
	TransactionType string              `json:"transaction_type" validate:"required,max=64"`
	Quantity        decimal.Decimal     `json:"quantity"`
	UnitCost        decimal.Decimal     `json:"unit_cost"`
	IsBillable      *bool               `json:"is_billable,omitempty"`
	Note            *string             `json:"note,omitempty"`
}

// CreateRetainerRequest opens a retainer holding Amount of credit.
type CreateRetainerRequest struct {
	CustomerID      billing.CustomerID `json:"customer_id" validate:"required,gt=0"`
	DisplayName     string             `json:"display_name" validate:"required,max=200"`
	TypeOfHold      string             `json:"type_of_hold" validate:"max=64"`
	Amount          decimal.Decimal    `json:"amount"`
	FormOfPayment   string             `json:"form_of_payment" validate:"required,max=64"`
	ReferenceNumber string             `json:"reference_number" validate:"max=128"`
	Note            *string            `json:"note,omitempty"`
}

// PaymentRequest records money received, optionally against an invoice.
type PaymentRequest struct {
	CustomerID      billing.CustomerID  `json:"customer_id"`
	InvoiceID       *billing.InvoiceID  `json:"invoice_id,omitempty"`
	RetainerID      *billing.RetainerID `json:"retainer_id,omitempty"`
	JobID           *billing.JobID      `json:"job_id,omitempty"`
	PaymentDate     string              `json:"payment_date"`
	Amount          decimal.Decimal     `json:"amount"`
	FormOfPayment   string              `json:"form_of_payment"`
	ReferenceNumber string              `json:"reference_number,omitempty"`
	Note            *string             `json:"note,omitempty"`
}

func (r PaymentRequest) toDomain() (invoicing.PaymentRequest, error) {
	date, err := parseDate(r.PaymentDate)
	if err != nil {
		return invoicing.PaymentRequest{}, fmt.Errorf("payment_date: %w", err)
	}
	return invoicing.PaymentRequest{
		CustomerID:      r.CustomerID,
		InvoiceID:       r.InvoiceID,
		RetainerID:      r.RetainerID,
		JobID:           r.JobID,
		PaymentDate:     date,
		Amount:          r.Amount,
		FormOfPayment:   r.FormOfPayment,
		ReferenceNumber: r.ReferenceNumber,
		Note:            r.Note,
	}, nil
}

// WriteOffRequest records a write-off, optionally against an invoice.
type WriteOffRequest struct {
	CustomerID billing.CustomerID `json:"customer_id"`
	InvoiceID  *billing.InvoiceID `json:"invoice_id,omitempty"`
	JobID      *billing.JobID     `json:"job_id,omitempty"`
	Date       string             `json:"date"`
	Amount     decimal.Decimal    `json:"amount"`
	Reason     string             `json:"reason"`
	Note       *string            `json:"note,omitempty"`
}

func (r WriteOffRequest) toDomain() (invoicing.WriteOffRequest, error) {
	date, err := parseDate(r.Date)
	if err != nil {
		return invoicing.WriteOffRequest{}, fmt.Errorf("date: %w", err)
	}
	return invoicing.WriteOffRequest{
		CustomerID: r.CustomerID,
		InvoiceID:  r.InvoiceID,
		JobID:      r.JobID,
		Date:       date,
		Amount:     r.Amount,
		Reason:     r.Reason,
		Note:       r.Note,
	}, nil
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type CustomerDTO struct {
	ID           billing.CustomerID `json:"id"`
	DisplayName  string             `json:"display_name"`
	BusinessName string             `json:"business_name,omitempty"`
	FirstName    string             `json:"first_name,omitempty"`
	LastName     string             `json:"last_name,omitempty"`
	Email        string             `json:"email,omitempty"`
	Phone        string             `json:"phone,omitempty"`
	IsActive     bool               `json:"is_active"`
	CreatedAt    string             `json:"created_at"`
}

type BillingProfileDTO struct {
	AccountID         billing.AccountID `json:"account_id"`
	AccountName       string            `json:"account_name"`
	Street            string            `json:"street,omitempty"`
	City              string            `json:"city,omitempty"`
	State             string            `json:"state,omitempty"`
	Zip               string            `json:"zip,omitempty"`
	Email             string            `json:"email,omitempty"`
	Phone             string            `json:"phone,omitempty"`
	InvoicePrefix     string            `json:"invoice_prefix"`
	LastInvoiceNumber string            `json:"last_invoice_number,omitempty"`
	DueDays           int               `json:"due_days"`
}

type JobDTO struct {
	ID          billing.JobID      `json:"id"`
	CustomerID  billing.CustomerID `json:"customer_id"`
	Description string             `json:"description"`
	CreatedAt   string             `json:"created_at"`
}

type TransactionDTO struct {
	ID              billing.TransactionID `json:"id"`
	CustomerID      billing.CustomerID    `json:"customer_id"`
	JobID           billing.JobID         `json:"job_id"`
	RetainerID      *billing.RetainerID   `json:"retainer_id,omitempty"`
	InvoiceID       *billing.InvoiceID    `json:"invoice_id,omitempty"`
	Description     string                `json:"description"`
	TransactionDate string                `json:"transaction_date"`
	TransactionType string                `json:"transaction_type"`
	Quantity        decimal.Decimal       `json:"quantity"`
	UnitCost        decimal.Decimal       `json:"unit_cost"`
	Total           decimal.Decimal       `json:"total"`
	IsBillable      bool                  `json:"is_billable"`
	CreatedAt       string                `json:"created_at"`
}

type RetainerDTO struct {
	ID             billing.RetainerID `json:"id"`
	ChainID        billing.RetainerID `json:"chain_id"`
	Sequence       int                `json:"sequence"`
	CustomerID     billing.CustomerID `json:"customer_id"`
	DisplayName    string             `json:"display_name"`
	StartingAmount decimal.Decimal    `json:"starting_amount"`
	CurrentAmount  decimal.Decimal    `json:"current_amount"`
	IsActive       bool               `json:"is_active"`
	CreatedAt      string             `json:"created_at"`
}

type PaymentDTO struct {
	ID            billing.PaymentID  `json:"id"`
	CustomerID    billing.CustomerID `json:"customer_id"`
	InvoiceID     *billing.InvoiceID `json:"invoice_id,omitempty"`
	PaymentDate   string             `json:"payment_date"`
	Amount        decimal.Decimal    `json:"amount"`
	FormOfPayment string             `json:"form_of_payment"`
	CreatedAt     string             `json:"created_at"`
}

type WriteOffDTO struct {
	ID         billing.WriteOffID `json:"id"`
	CustomerID billing.CustomerID `json:"customer_id"`
	InvoiceID  *billing.InvoiceID `json:"invoice_id,omitempty"`
	Date       string             `json:"date"`
	Amount     decimal.Decimal    `json:"amount"`
	Reason     string             `json:"reason"`
	CreatedAt  string             `json:"created_at"`
}

type AllocationDTO struct {
	RetainerChainID   billing.RetainerID `json:"retainer_chain_id"`
	RetainerVersionID billing.RetainerID `json:"retainer_version_id"`
	InvoiceID         billing.InvoiceID  `json:"invoice_id"`
	Amount            decimal.Decimal    `json:"amount"`
	BalanceBefore     decimal.Decimal    `json:"balance_before"`
	BalanceAfter      decimal.Decimal    `json:"balance_after"`
}

// InvoiceDTO is one row of an invoice chain.
type InvoiceDTO struct {
	ID               billing.InvoiceID  `json:"id,omitempty"`
	ChainID          billing.InvoiceID  `json:"chain_id,omitempty"`
	Sequence         int                `json:"sequence"`
	ParentInvoiceID  *billing.InvoiceID `json:"parent_invoice_id,omitempty"`
	CustomerID       billing.CustomerID `json:"customer_id"`
	InvoiceNumber    string             `json:"invoice_number"`
	InvoiceDate      string             `json:"invoice_date"`
	DueDate          string             `json:"due_date"`
	BeginningBalance decimal.Decimal    `json:"beginning_balance"`
	TotalCharges     decimal.Decimal    `json:"total_charges"`
	TotalPayments    decimal.Decimal    `json:"total_payments"`
	TotalWriteOffs   decimal.Decimal    `json:"total_write_offs"`
	TotalRetainers   decimal.Decimal    `json:"total_retainers"`
	TotalAmountDue   decimal.Decimal    `json:"total_amount_due"`
	RemainingBalance decimal.Decimal    `json:"remaining_balance"`
	IsPaidInFull     bool               `json:"is_paid_in_full"`
	FullyPaidDate    string             `json:"fully_paid_date,omitempty"`
	StartDate        string             `json:"start_date"`
	EndDate          string             `json:"end_date"`
	FileLocation     string             `json:"file_location,omitempty"`
	Notes            string             `json:"notes,omitempty"`
	CreatedAt        string             `json:"created_at,omitempty"`
}

// ChainDTO is an invoice chain, root first.
type ChainDTO struct {
	ChainID     billing.InvoiceID `json:"chain_id"`
	CustomerID  billing.CustomerID `json:"customer_id"`
	Outstanding decimal.Decimal   `json:"outstanding"`
	Rows        []InvoiceDTO      `json:"rows"`
}

// EligibleCustomerDTO is one candidate from an eligibility scan.
type EligibleCustomerDTO struct {
	Customer         CustomerDTO     `json:"customer"`
	RetainerCount    int             `json:"retainer_count"`
	TransactionCount int             `json:"transaction_count"`
	InvoiceCount     int             `json:"invoice_count"`
	WriteOffCount    int             `json:"write_off_count"`
	OutstandingTotal decimal.Decimal `json:"outstanding_total"`
	TransactionTotal decimal.Decimal `json:"transaction_total"`
	LastInvoiceDate  string          `json:"last_invoice_date,omitempty"`
}

// OutcomeDTO reports one customer's result in a finalized run.
type OutcomeDTO struct {
	CustomerID   billing.CustomerID `json:"customer_id"`
	Succeeded    bool               `json:"succeeded"`
	Invoice      *InvoiceDTO        `json:"invoice,omitempty"`
	FileLocation string             `json:"file_location,omitempty"`
	Linked       LinkedDTO          `json:"linked"`
	Error        string             `json:"error,omitempty"`
	ArchiveError string             `json:"archive_error,omitempty"`
}

type LinkedDTO struct {
	Transactions int `json:"transactions"`
	Payments     int `json:"payments"`
	WriteOffs    int `json:"write_offs"`
	Allocations  int `json:"allocations"`
}

// DraftDTO is a calculated invoice that was not persisted.
type DraftDTO struct {
	CustomerID   billing.CustomerID `json:"customer_id"`
	CustomerName string             `json:"customer_name"`
	Invoice      InvoiceDTO         `json:"invoice"`
	Allocations  []AllocationDTO    `json:"allocations"`
	DocumentName string             `json:"document_name,omitempty"`
}

// CreateInvoicesResponse is the result of POST /invoices.
type CreateInvoicesResponse struct {
	Finalized bool         `json:"finalized"`
	Drafts    []DraftDTO   `json:"drafts,omitempty"`
	Outcomes  []OutcomeDTO `json:"outcomes,omitempty"`
}

// SettlementDTO reports what a payment or write-off appended.
type SettlementDTO struct {
	Invoice    *InvoiceDTO    `json:"invoice,omitempty"`
	Payment    *PaymentDTO    `json:"payment,omitempty"`
	WriteOff   *WriteOffDTO   `json:"write_off,omitempty"`
	Retainer   *RetainerDTO   `json:"retainer,omitempty"`
	Allocation *AllocationDTO `json:"allocation,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

// parseDate accepts YYYY-MM-DD or a full RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a date (use YYYY-MM-DD)", s)
	}
	return t.UTC(), nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func formatTS(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toCustomerDTO(c billing.Customer) CustomerDTO {
	return CustomerDTO{
		ID:           c.ID,
		DisplayName:  c.DisplayName,
		BusinessName: c.BusinessName,
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		Email:        c.Contact.Email,
		Phone:        c.Contact.Phone,
		IsActive:     c.IsActive,
		CreatedAt:    formatTS(c.CreatedAt),
	}
}

func toBillingProfileDTO(p billing.BillingProfile) BillingProfileDTO {
	return BillingProfileDTO{
		AccountID:         p.AccountID,
		AccountName:       p.AccountName,
		Street:            p.Street,
		City:              p.City,
		State:             p.State,
		Zip:               p.Zip,
		Email:             p.Email,
		Phone:             p.Phone,
		InvoicePrefix:     p.Prefix(),
		LastInvoiceNumber: p.LastInvoiceNumber,
		DueDays:           p.DueDays,
	}
}

func toJobDTO(j billing.Job) JobDTO {
	return JobDTO{ID: j.ID, CustomerID: j.CustomerID, Description: j.Description, CreatedAt: formatTS(j.CreatedAt)}
}

func toTransactionDTO(t billing.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:              t.ID,
		CustomerID:      t.CustomerID,
		JobID:           t.JobID,
		RetainerID:      t.RetainerID,
		InvoiceID:       t.InvoiceID,
		Description:     t.Description,
		TransactionDate: formatDate(t.TransactionDate),
		TransactionType: t.TransactionType,
		Quantity:        t.Quantity,
		UnitCost:        t.UnitCost,
		Total:           t.Total,
		IsBillable:      t.IsBillable,
		CreatedAt:       formatTS(t.CreatedAt),
	}
}

func toRetainerDTO(r billing.Retainer) *RetainerDTO {
	return &RetainerDTO{
		ID:             r.ID,
		ChainID:        r.ChainID,
		Sequence:       r.Sequence,
		CustomerID:     r.CustomerID,
		DisplayName:    r.DisplayName,
		StartingAmount: r.StartingAmount,
		CurrentAmount:  r.CurrentAmount,
		IsActive:       r.IsActive,
		CreatedAt:      formatTS(r.CreatedAt),
	}
}

func toPaymentDTO(p billing.Payment) *PaymentDTO {
	return &PaymentDTO{
		ID:            p.ID,
		CustomerID:    p.CustomerID,
		InvoiceID:     p.InvoiceID,
		PaymentDate:   formatDate(p.PaymentDate),
		Amount:        p.Amount,
		FormOfPayment: p.FormOfPayment,
		CreatedAt:     formatTS(p.CreatedAt),
	}
}

func toWriteOffDTO(w billing.WriteOff) *WriteOffDTO {
	return &WriteOffDTO{
		ID:         w.ID,
		CustomerID: w.CustomerID,
		InvoiceID:  w.InvoiceID,
		Date:       formatDate(w.Date),
		Amount:     w.Amount,
		Reason:     w.Reason,
		CreatedAt:  formatTS(w.CreatedAt),
	}
}

func toAllocationDTO(a billing.RetainerAllocation) AllocationDTO {
	return AllocationDTO{
		RetainerChainID:   a.RetainerChainID,
		RetainerVersionID: a.RetainerVersionID,
		InvoiceID:         a.InvoiceID,
		Amount:            a.Amount,
		BalanceBefore:     a.BalanceBefore,
		BalanceAfter:      a.BalanceAfter,
	}
}

func toInvoiceDTO(inv billing.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:               inv.ID,
		ChainID:          inv.ChainID,
		Sequence:         inv.Sequence,
		ParentInvoiceID:  inv.ParentInvoiceID,
		CustomerID:       inv.CustomerID,
		InvoiceNumber:    inv.InvoiceNumber,
		InvoiceDate:      formatDate(inv.InvoiceDate),
		DueDate:          formatDate(inv.DueDate),
		BeginningBalance: inv.BeginningBalance,
		TotalCharges:     inv.TotalCharges,
		TotalPayments:    inv.TotalPayments,
		TotalWriteOffs:   inv.TotalWriteOffs,
		TotalRetainers:   inv.TotalRetainers,
		TotalAmountDue:   inv.TotalAmountDue,
		RemainingBalance: inv.RemainingBalance,
		IsPaidInFull:     inv.IsPaidInFull,
		StartDate:        formatDate(inv.StartDate),
		EndDate:          formatDate(inv.EndDate),
		CreatedAt:        formatTS(inv.CreatedAt),
	}
	if inv.FullyPaidDate != nil {
		dto.FullyPaidDate = formatDate(*inv.FullyPaidDate)
	}
	if inv.FileLocation != nil {
		dto.FileLocation = *inv.FileLocation
	}
	if inv.Notes != nil {
		dto.Notes = *inv.Notes
	}
	return dto
}

func toChainDTO(c billing.Chain) ChainDTO {
	rows := c.Rows()
	dto := ChainDTO{
		ChainID:     c.ID(),
		CustomerID:  c.Root().CustomerID,
		Outstanding: c.Outstanding(),
		Rows:        make([]InvoiceDTO, len(rows)),
	}
	for i, row := range rows {
		dto.Rows[i] = toInvoiceDTO(row)
	}
	return dto
}

func toEligibleDTO(e invoicing.EligibleCustomer) EligibleCustomerDTO {
	dto := EligibleCustomerDTO{
		Customer:         toCustomerDTO(e.Customer),
		RetainerCount:    e.RetainerCount,
		TransactionCount: e.TransactionCount,
		InvoiceCount:     e.InvoiceCount,
		WriteOffCount:    e.WriteOffCount,
		OutstandingTotal: e.OutstandingTotal,
		TransactionTotal: e.TransactionTotal,
	}
	if e.LastInvoiceDate != nil {
		dto.LastInvoiceDate = formatDate(*e.LastInvoiceDate)
	}
	return dto
}

func toOutcomeDTO(o invoicing.Outcome) OutcomeDTO {
	dto := OutcomeDTO{
		CustomerID:   o.CustomerID,
		Succeeded:    o.Succeeded(),
		FileLocation: o.FileLocation,
		Linked: LinkedDTO{
			Transactions: o.Linked.Transactions,
			Payments:     o.Linked.Payments,
			WriteOffs:    o.Linked.WriteOffs,
			Allocations:  o.Linked.Allocations,
		},
	}
	if o.Invoice != nil {
		inv := toInvoiceDTO(*o.Invoice)
		dto.Invoice = &inv
	}
	if o.Err != nil {
		dto.Error = o.Err.Error()
	}
	if o.ArchiveErr != nil {
		dto.ArchiveError = o.ArchiveErr.Error()
	}
	return dto
}

func toDraftDTO(d invoicing.InvoiceWithDetail, documentName string) DraftDTO {
	dto := DraftDTO{
		CustomerID:   d.Customer.ID,
		CustomerName: d.Customer.DisplayName,
		Invoice:      toInvoiceDTO(d.Invoice),
		Allocations:  make([]AllocationDTO, len(d.Allocations)),
		DocumentName: documentName,
	}
	for i, a := range d.Allocations {
		dto.Allocations[i] = toAllocationDTO(a)
	}
	return dto
}

func toSettlementDTO(s *invoicing.Settlement) SettlementDTO {
	var dto SettlementDTO
	if s.Invoice != nil {
		inv := toInvoiceDTO(*s.Invoice)
		dto.Invoice = &inv
	}
	if s.Payment != nil {
		dto.Payment = toPaymentDTO(*s.Payment)
	}
	if s.WriteOff != nil {
		dto.WriteOff = toWriteOffDTO(*s.WriteOff)
	}
	if s.Retainer != nil {
		dto.Retainer = toRetainerDTO(*s.Retainer)
	}
	if s.Allocation != nil {
		a := toAllocationDTO(*s.Allocation)
		dto.Allocation = &a
	}
	return dto
}
