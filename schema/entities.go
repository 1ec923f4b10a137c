package schema

// Invoice is the customer_invoices row.
var Invoice = Schema{
	Entity: "invoice",
	Fields: []Field{
		{Name: "customer_invoice_id", Type: Int, Nullable: true},
		{Name: "chain_id", Type: Int, Nullable: true},
		{Name: "sequence_number", Type: Int},
		{Name: "parent_invoice_id", Type: Int, Nullable: true},
		{Name: "account_id", Type: Int},
		{Name: "customer_id", Type: Int},
		{Name: "customer_info_id", Type: Int},
		{Name: "invoice_number", Type: String},
		{Name: "invoice_date", Type: Date},
		{Name: "due_date", Type: Date},
		{Name: "beginning_balance", Type: Decimal},
		{Name: "total_payments", Type: Decimal},
		{Name: "total_charges", Type: Decimal},
		{Name: "total_write_offs", Type: Decimal},
		{Name: "total_retainers", Type: Decimal},
		{Name: "total_amount_due", Type: Decimal},
		{Name: "remaining_balance_on_invoice", Type: Decimal},
		{Name: "is_invoice_paid_in_full", Type: Boolean},
		{Name: "fully_paid_date", Type: Date, Nullable: true},
		{Name: "created_by_user_id", Type: Int},
		{Name: "start_date", Type: Date},
		{Name: "end_date", Type: Date},
		{Name: "invoice_file_location", Type: String, Nullable: true},
		{Name: "notes", Type: String, Nullable: true},
		{Name: "created_at", Type: Timestamp},
	},
}

// Transaction is the customer_transactions row.
var Transaction = Schema{
	Entity: "transaction",
	Fields: []Field{
		{Name: "transaction_id", Type: Int, Nullable: true},
		{Name: "account_id", Type: Int},
		{Name: "customer_id", Type: Int},
		{Name: "customer_job_id", Type: Int},
		{Name: "retainer_id", Type: Int, Nullable: true},
		{Name: "customer_invoice_id", Type: Int, Nullable: true},
		{Name: "logged_for_user_id", Type: Int},
		{Name: "general_work_description_id", Type: Int},
		{Name: "detailed_work_description", Type: String},
		{Name: "transaction_date", Type: Date},
		{Name: "transaction_type", Type: String},
		{Name: "quantity", Type: Decimal},
		{Name: "unit_cost", Type: Decimal},
		{Name: "total_transaction", Type: Decimal},
		{Name: "is_transaction_billable", Type: Boolean},
		{Name: "is_excess_to_subscription", Type: Boolean},
		{Name: "created_at", Type: Timestamp},
		{Name: "created_by_user_id", Type: Int},
		{Name: "note", Type: Text, Nullable: true},
	},
}

// Payment is the customer_payments row.
var Payment = Schema{
	Entity: "payment",
	Fields: []Field{
		{Name: "payment_id", Type: Int, Nullable: true},
		{Name: "customer_id", Type: Int},
		{Name: "account_id", Type: Int},
		{Name: "customer_job_id", Type: Int, Nullable: true},
		{Name: "retainer_id", Type: Int, Nullable: true},
		{Name: "customer_invoice_id", Type: Int, Nullable: true},
		{Name: "payment_date", Type: Date},
		{Name: "payment_amount", Type: Decimal},
		{Name: "form_of_payment", Type: String},
		{Name: "payment_reference_number", Type: String},
		{Name: "is_transaction_billable", Type: Boolean},
		{Name: "created_at", Type: Timestamp},
		{Name: "created_by_user_id", Type: Int},
		{Name: "note", Type: Text, Nullable: true},
	},
}

// WriteOff is the customer_writeoffs row.
var WriteOff = Schema{
	Entity: "write-off",
	Fields: []Field{
		{Name: "writeoff_id", Type: Int, Nullable: true},
		{Name: "customer_id", Type: Int},
		{Name: "account_id", Type: Int},
		{Name: "customer_invoice_id", Type: Int, Nullable: true},
		{Name: "customer_job_id", Type: Int, Nullable: true},
		{Name: "writeoff_date", Type: Date},
		{Name: "writeoff_amount", Type: Decimal},
		{Name: "transaction_type", Type: String},
		{Name: "writeoff_reason", Type: String},
		{Name: "created_at", Type: Timestamp},
		{Name: "created_by_user_id", Type: Int},
		{Name: "note", Type: Text, Nullable: true},
	},
}

// Retainer is the customer_retainers_and_prepayments row.
var Retainer = Schema{
	Entity: "retainer",
	Fields: []Field{
		{Name: "retainer_id", Type: Int, Nullable: true},
		{Name: "chain_id", Type: Int, Nullable: true},
		{Name: "sequence_number", Type: Int},
		{Name: "parent_retainer_id", Type: Int, Nullable: true},
		{Name: "customer_id", Type: Int},
		{Name: "account_id", Type: Int},
		{Name: "display_name", Type: String},
		{Name: "type_of_hold", Type: String},
		{Name: "starting_amount", Type: Decimal},
		{Name: "current_amount", Type: Decimal},
		{Name: "form_of_payment", Type: String},
		{Name: "payment_reference_number", Type: String},
		{Name: "is_retainer_active", Type: Boolean},
		{Name: "created_at", Type: Timestamp},
		{Name: "created_by_user_id", Type: Int},
		{Name: "note", Type: Text, Nullable: true},
	},
}
