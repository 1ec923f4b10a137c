package schema_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/schema"
)

func paymentRow() schema.Row {
	return schema.Row{
		"customer_id":              int64(7),
		"account_id":               int64(1),
		"payment_date":             time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		"payment_amount":           decimal.NewFromInt(-200),
		"form_of_payment":          "Check",
		"payment_reference_number": "1042",
		"is_transaction_billable":  true,
		"created_at":               time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		"created_by_user_id":       int64(3),
	}
}

func TestValidate_NumericStringCustomerIDIsCoerced(t *testing.T) {
	// GIVEN: A payment whose customer_id arrived as "42"
	row := paymentRow()
	row["customer_id"] = "42"

	// WHEN: Validating
	out, err := schema.Payment.Validate(row)

	// THEN: The field comes back as an int64
	require.NoError(t, err)
	assert.Equal(t, int64(42), out["customer_id"])
}

func TestValidate_UnconvertibleValueNamesField(t *testing.T) {
	row := paymentRow()
	row["created_by_user_id"] = "not-a-number"

	_, err := schema.Payment.Validate(row)

	require.Error(t, err)
	var ve *schema.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "created_by_user_id", ve.Field)
	assert.Equal(t, "payment", ve.Entity)
	assert.Equal(t, int64(7), ve.CustomerID)
	assert.True(t, errors.Is(err, schema.ErrSchemaValidation))
	assert.Contains(t, err.Error(), "created_by_user_id")
}

func TestValidate_StripsUnknownFields(t *testing.T) {
	row := paymentRow()
	row["grid_row_index"] = 4
	row["display_name"] = "Acme"

	out, err := schema.Payment.Validate(row)

	require.NoError(t, err)
	assert.NotContains(t, out, "grid_row_index")
	assert.NotContains(t, out, "display_name")
}

func TestValidate_MissingNullableBecomesNil(t *testing.T) {
	out, err := schema.Payment.Validate(paymentRow())

	require.NoError(t, err)
	v, ok := out["customer_invoice_id"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestValidate_MissingRequiredFieldFails(t *testing.T) {
	row := paymentRow()
	delete(row, "payment_amount")

	_, err := schema.Payment.Validate(row)

	var ve *schema.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "payment_amount", ve.Field)
}

func TestValidate_Coercions(t *testing.T) {
	tests := []struct {
		name  string
		field string
		in    any
		want  any
	}{
		{"json float to int", "created_by_user_id", float64(9), int64(9)},
		{"json number to int", "created_by_user_id", json.Number("11"), int64(11)},
		{"int to string", "payment_reference_number", 1042, "1042"},
		{"string to decimal", "payment_amount", "-12.50", decimal.RequireFromString("-12.50")},
		{"string to bool", "is_transaction_billable", "false", false},
		{"string to date", "payment_date", "2026-03-02", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := paymentRow()
			row[tt.field] = tt.in

			out, err := schema.Payment.Validate(row)

			require.NoError(t, err)
			if d, ok := tt.want.(decimal.Decimal); ok {
				assert.True(t, d.Equal(out[tt.field].(decimal.Decimal)))
				return
			}
			assert.Equal(t, tt.want, out[tt.field])
		})
	}
}

func TestValidate_FractionalFloatIsNotAnInt(t *testing.T) {
	row := paymentRow()
	row["customer_id"] = 4.5

	_, err := schema.Payment.Validate(row)

	var ve *schema.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "customer_id", ve.Field)
}

func TestCheckInvoice_ZeroRemainingMustBePaidInFull(t *testing.T) {
	// GIVEN: An invoice with nothing left to pay but not marked paid
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	inv := billing.Invoice{
		Sequence:        1,
		AccountID:       1,
		CustomerID:      5,
		CustomerInfoID:  5,
		InvoiceNumber:   "INV-2026-00001",
		InvoiceDate:     now,
		DueDate:         now.AddDate(0, 0, 16),
		StartDate:       now.AddDate(0, -1, 0),
		EndDate:         now,
		CreatedByUserID: 2,
		CreatedAt:       now,
	}

	// WHEN/THEN: The schema rejects it
	_, err := schema.CheckInvoice(inv)
	var ve *schema.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "is_invoice_paid_in_full", ve.Field)

	// and accepts it once the flags follow the balance
	fixed, err := schema.CheckInvoice(inv.WithRemaining(decimal.Zero, now))
	require.NoError(t, err)
	assert.True(t, fixed.IsPaidInFull)
	require.NotNil(t, fixed.FullyPaidDate)
}

func TestCheckTransaction_RoundTripsTypedRecord(t *testing.T) {
	invoiceID := billing.InvoiceID(12)
	tx := billing.Transaction{
		ID:              33,
		AccountID:       1,
		CustomerID:      5,
		JobID:           8,
		InvoiceID:       &invoiceID,
		LoggedForUserID: 2,
		Description:     "Quarterly filing",
		TransactionDate: time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		TransactionType: "Time",
		Quantity:        decimal.NewFromInt(2),
		UnitCost:        decimal.NewFromInt(75),
		Total:           decimal.NewFromInt(150),
		IsBillable:      true,
		CreatedAt:       time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
		CreatedByUserID: 2,
	}

	out, err := schema.CheckTransaction(tx)

	require.NoError(t, err)
	assert.Equal(t, tx.ID, out.ID)
	require.NotNil(t, out.InvoiceID)
	assert.Equal(t, invoiceID, *out.InvoiceID)
	assert.True(t, tx.Total.Equal(out.Total))
	assert.Nil(t, out.RetainerID)
	assert.Nil(t, out.Note)
}
