package schema

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/invoice-engine/billing"
)

// SetLogger routes coercion notices of every entity schema to l.
// Call once at startup.
func SetLogger(l zerolog.Logger) {
	Invoice.Log = l
	Transaction.Log = l
	Payment.Log = l
	WriteOff.Log = l
	Retainer.Log = l
}

// =============================================================================
// INVOICE
// =============================================================================

// InvoiceRow encodes an invoice as a candidate row.
func InvoiceRow(inv billing.Invoice) Row {
	return Row{
		"customer_invoice_id":          optID(int64(inv.ID)),
		"chain_id":                     optID(int64(inv.ChainID)),
		"sequence_number":              int64(inv.Sequence),
		"parent_invoice_id":            ptrID(inv.ParentInvoiceID),
		"account_id":                   int64(inv.AccountID),
		"customer_id":                  int64(inv.CustomerID),
		"customer_info_id":             inv.CustomerInfoID,
		"invoice_number":               inv.InvoiceNumber,
		"invoice_date":                 inv.InvoiceDate,
		"due_date":                     inv.DueDate,
		"beginning_balance":            inv.BeginningBalance,
		"total_payments":               inv.TotalPayments,
		"total_charges":                inv.TotalCharges,
		"total_write_offs":             inv.TotalWriteOffs,
		"total_retainers":              inv.TotalRetainers,
		"total_amount_due":             inv.TotalAmountDue,
		"remaining_balance_on_invoice": inv.RemainingBalance,
		"is_invoice_paid_in_full":      inv.IsPaidInFull,
		"fully_paid_date":              ptrTime(inv.FullyPaidDate),
		"created_by_user_id":           int64(inv.CreatedByUserID),
		"start_date":                   inv.StartDate,
		"end_date":                     inv.EndDate,
		"invoice_file_location":        ptrString(inv.FileLocation),
		"notes":                        ptrString(inv.Notes),
		"created_at":                   inv.CreatedAt,
	}
}

// ParseInvoice validates a row and decodes it. It also enforces that a
// zero remaining balance is marked paid in full with a paid date.
func ParseInvoice(row Row) (billing.Invoice, error) {
	v, err := Invoice.Validate(row)
	if err != nil {
		return billing.Invoice{}, err
	}
	inv := billing.Invoice{
		ID:               billing.InvoiceID(intOr0(v["customer_invoice_id"])),
		ChainID:          billing.InvoiceID(intOr0(v["chain_id"])),
		Sequence:         int(v["sequence_number"].(int64)),
		ParentInvoiceID:  idPtr[billing.InvoiceID](v["parent_invoice_id"]),
		AccountID:        billing.AccountID(v["account_id"].(int64)),
		CustomerID:       billing.CustomerID(v["customer_id"].(int64)),
		CustomerInfoID:   v["customer_info_id"].(int64),
		InvoiceNumber:    v["invoice_number"].(string),
		InvoiceDate:      v["invoice_date"].(time.Time),
		DueDate:          v["due_date"].(time.Time),
		BeginningBalance: v["beginning_balance"].(decimal.Decimal),
		TotalPayments:    v["total_payments"].(decimal.Decimal),
		TotalCharges:     v["total_charges"].(decimal.Decimal),
		TotalWriteOffs:   v["total_write_offs"].(decimal.Decimal),
		TotalRetainers:   v["total_retainers"].(decimal.Decimal),
		TotalAmountDue:   v["total_amount_due"].(decimal.Decimal),
		RemainingBalance: v["remaining_balance_on_invoice"].(decimal.Decimal),
		IsPaidInFull:     v["is_invoice_paid_in_full"].(bool),
		FullyPaidDate:    timePtr(v["fully_paid_date"]),
		CreatedByUserID:  billing.UserID(v["created_by_user_id"].(int64)),
		StartDate:        v["start_date"].(time.Time),
		EndDate:          v["end_date"].(time.Time),
		FileLocation:     stringPtr(v["invoice_file_location"]),
		Notes:            stringPtr(v["notes"]),
		CreatedAt:        v["created_at"].(time.Time),
	}
	if inv.RemainingBalance.IsZero() && (!inv.IsPaidInFull || inv.FullyPaidDate == nil) {
		return billing.Invoice{}, &ValidationError{
			Entity: Invoice.Entity, Field: "is_invoice_paid_in_full", Expected: Boolean,
			CustomerID: int64(inv.CustomerID), Value: inv.IsPaidInFull,
		}
	}
	return inv, nil
}

// CheckInvoice runs a typed invoice through the invoice schema.
func CheckInvoice(inv billing.Invoice) (billing.Invoice, error) {
	return ParseInvoice(InvoiceRow(inv))
}

// =============================================================================
// TRANSACTION
// =============================================================================

func TransactionRow(t billing.Transaction) Row {
	return Row{
		"transaction_id":              optID(int64(t.ID)),
		"account_id":                  int64(t.AccountID),
		"customer_id":                 int64(t.CustomerID),
		"customer_job_id":             int64(t.JobID),
		"retainer_id":                 ptrID(t.RetainerID),
		"customer_invoice_id":         ptrID(t.InvoiceID),
		"logged_for_user_id":          int64(t.LoggedForUserID),
		"general_work_description_id": t.GeneralWorkDescriptionID,
		"detailed_work_description":   t.Description,
		"transaction_date":            t.TransactionDate,
		"transaction_type":            t.TransactionType,
		"quantity":                    t.Quantity,
		"unit_cost":                   t.UnitCost,
		"total_transaction":           t.Total,
		"is_transaction_billable":     t.IsBillable,
		"is_excess_to_subscription":   t.IsExcessToSubscription,
		"created_at":                  t.CreatedAt,
		"created_by_user_id":          int64(t.CreatedByUserID),
		"note":                        ptrString(t.Note),
	}
}

func ParseTransaction(row Row) (billing.Transaction, error) {
	v, err := Transaction.Validate(row)
	if err != nil {
		return billing.Transaction{}, err
	}
	return billing.Transaction{
		ID:                       billing.TransactionID(intOr0(v["transaction_id"])),
		AccountID:                billing.AccountID(v["account_id"].(int64)),
		CustomerID:               billing.CustomerID(v["customer_id"].(int64)),
		JobID:                    billing.JobID(v["customer_job_id"].(int64)),
		RetainerID:               idPtr[billing.RetainerID](v["retainer_id"]),
		InvoiceID:                idPtr[billing.InvoiceID](v["customer_invoice_id"]),
		LoggedForUserID:          billing.UserID(v["logged_for_user_id"].(int64)),
		GeneralWorkDescriptionID: v["general_work_description_id"].(int64),
		Description:              v["detailed_work_description"].(string),
		TransactionDate:          v["transaction_date"].(time.Time),
		TransactionType:          v["transaction_type"].(string),
		Quantity:                 v["quantity"].(decimal.Decimal),
		UnitCost:                 v["unit_cost"].(decimal.Decimal),
		Total:                    v["total_transaction"].(decimal.Decimal),
		IsBillable:               v["is_transaction_billable"].(bool),
		IsExcessToSubscription:   v["is_excess_to_subscription"].(bool),
		CreatedAt:                v["created_at"].(time.Time),
		CreatedByUserID:          billing.UserID(v["created_by_user_id"].(int64)),
		Note:                     stringPtr(v["note"]),
	}, nil
}

func CheckTransaction(t billing.Transaction) (billing.Transaction, error) {
	return ParseTransaction(TransactionRow(t))
}

// =============================================================================
// PAYMENT
// =============================================================================

func PaymentRow(p billing.Payment) Row {
	return Row{
		"payment_id":               optID(int64(p.ID)),
		"customer_id":              int64(p.CustomerID),
		"account_id":               int64(p.AccountID),
		"customer_job_id":          ptrID(p.JobID),
		"retainer_id":              ptrID(p.RetainerID),
		"customer_invoice_id":      ptrID(p.InvoiceID),
		"payment_date":             p.PaymentDate,
		"payment_amount":           p.Amount,
		"form_of_payment":          p.FormOfPayment,
		"payment_reference_number": p.ReferenceNumber,
		"is_transaction_billable":  p.IsBillable,
		"created_at":               p.CreatedAt,
		"created_by_user_id":       int64(p.CreatedByUserID),
		"note":                     ptrString(p.Note),
	}
}

func ParsePayment(row Row) (billing.Payment, error) {
	v, err := Payment.Validate(row)
	if err != nil {
		return billing.Payment{}, err
	}
	return billing.Payment{
		ID:              billing.PaymentID(intOr0(v["payment_id"])),
		CustomerID:      billing.CustomerID(v["customer_id"].(int64)),
		AccountID:       billing.AccountID(v["account_id"].(int64)),
		JobID:           idPtr[billing.JobID](v["customer_job_id"]),
		RetainerID:      idPtr[billing.RetainerID](v["retainer_id"]),
		InvoiceID:       idPtr[billing.InvoiceID](v["customer_invoice_id"]),
		PaymentDate:     v["payment_date"].(time.Time),
		Amount:          v["payment_amount"].(decimal.Decimal),
		FormOfPayment:   v["form_of_payment"].(string),
		ReferenceNumber: v["payment_reference_number"].(string),
		IsBillable:      v["is_transaction_billable"].(bool),
		CreatedAt:       v["created_at"].(time.Time),
		CreatedByUserID: billing.UserID(v["created_by_user_id"].(int64)),
		Note:            stringPtr(v["note"]),
	}, nil
}

func CheckPayment(p billing.Payment) (billing.Payment, error) {
	return ParsePayment(PaymentRow(p))
}

// =============================================================================
// WRITE-OFF
// =============================================================================

func WriteOffRow(w billing.WriteOff) Row {
	return Row{
		"writeoff_id":         optID(int64(w.ID)),
		"customer_id":         int64(w.CustomerID),
		"account_id":          int64(w.AccountID),
		"customer_invoice_id": ptrID(w.InvoiceID),
		"customer_job_id":     ptrID(w.JobID),
		"writeoff_date":       w.Date,
		"writeoff_amount":     w.Amount,
		"transaction_type":    w.TransactionType,
		"writeoff_reason":     w.Reason,
		"created_at":          w.CreatedAt,
		"created_by_user_id":  int64(w.CreatedByUserID),
		"note":                ptrString(w.Note),
	}
}

func ParseWriteOff(row Row) (billing.WriteOff, error) {
	v, err := WriteOff.Validate(row)
	if err != nil {
		return billing.WriteOff{}, err
	}
	return billing.WriteOff{
		ID:              billing.WriteOffID(intOr0(v["writeoff_id"])),
		CustomerID:      billing.CustomerID(v["customer_id"].(int64)),
		AccountID:       billing.AccountID(v["account_id"].(int64)),
		InvoiceID:       idPtr[billing.InvoiceID](v["customer_invoice_id"]),
		JobID:           idPtr[billing.JobID](v["customer_job_id"]),
		Date:            v["writeoff_date"].(time.Time),
		Amount:          v["writeoff_amount"].(decimal.Decimal),
		TransactionType: v["transaction_type"].(string),
		Reason:          v["writeoff_reason"].(string),
		CreatedAt:       v["created_at"].(time.Time),
		CreatedByUserID: billing.UserID(v["created_by_user_id"].(int64)),
		Note:            stringPtr(v["note"]),
	}, nil
}

func CheckWriteOff(w billing.WriteOff) (billing.WriteOff, error) {
	return ParseWriteOff(WriteOffRow(w))
}

// =============================================================================
// RETAINER
// =============================================================================

func RetainerRow(r billing.Retainer) Row {
	return Row{
		"retainer_id":              optID(int64(r.ID)),
		"chain_id":                 optID(int64(r.ChainID)),
		"sequence_number":          int64(r.Sequence),
		"parent_retainer_id":       ptrID(r.ParentRetainerID),
		"customer_id":              int64(r.CustomerID),
		"account_id":               int64(r.AccountID),
		"display_name":             r.DisplayName,
		"type_of_hold":             r.TypeOfHold,
		"starting_amount":          r.StartingAmount,
		"current_amount":           r.CurrentAmount,
		"form_of_payment":          r.FormOfPayment,
		"payment_reference_number": r.ReferenceNumber,
		"is_retainer_active":       r.IsActive,
		"created_at":               r.CreatedAt,
		"created_by_user_id":       int64(r.CreatedByUserID),
		"note":                     ptrString(r.Note),
	}
}

func ParseRetainer(row Row) (billing.Retainer, error) {
	v, err := Retainer.Validate(row)
	if err != nil {
		return billing.Retainer{}, err
	}
	return billing.Retainer{
		ID:               billing.RetainerID(intOr0(v["retainer_id"])),
		ChainID:          billing.RetainerID(intOr0(v["chain_id"])),
		Sequence:         int(v["sequence_number"].(int64)),
		ParentRetainerID: idPtr[billing.RetainerID](v["parent_retainer_id"]),
		CustomerID:       billing.CustomerID(v["customer_id"].(int64)),
		AccountID:        billing.AccountID(v["account_id"].(int64)),
		DisplayName:      v["display_name"].(string),
		TypeOfHold:       v["type_of_hold"].(string),
		StartingAmount:   v["starting_amount"].(decimal.Decimal),
		CurrentAmount:    v["current_amount"].(decimal.Decimal),
		FormOfPayment:    v["form_of_payment"].(string),
		ReferenceNumber:  v["payment_reference_number"].(string),
		IsActive:         v["is_retainer_active"].(bool),
		CreatedAt:        v["created_at"].(time.Time),
		CreatedByUserID:  billing.UserID(v["created_by_user_id"].(int64)),
		Note:             stringPtr(v["note"]),
	}, nil
}

func CheckRetainer(r billing.Retainer) (billing.Retainer, error) {
	return ParseRetainer(RetainerRow(r))
}

// =============================================================================
// HELPERS
// =============================================================================

// optID encodes an unassigned (zero) id as null.
func optID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func ptrID[T ~int64](p *T) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func ptrTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return *p
}

func ptrString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func intOr0(v any) int64 {
	if n, ok := v.(int64); ok {
		return n
	}
	return 0
}

func idPtr[T ~int64](v any) *T {
	n, ok := v.(int64)
	if !ok {
		return nil
	}
	id := T(n)
	return &id
}

func timePtr(v any) *time.Time {
	t, ok := v.(time.Time)
	if !ok {
		return nil
	}
	return &t
}

func stringPtr(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}
