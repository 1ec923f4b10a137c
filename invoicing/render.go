package invoicing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/documents"
)

// Renderer produces the stored document for an assembled invoice.
type Renderer interface {
	Render(inv InvoiceWithDetail) (documents.Rendered, error)
}

// JSONRenderer writes the invoice as JSON for a downstream PDF/CSV service.
// Amounts are rounded to cents here and nowhere earlier.
type JSONRenderer struct{}

type invoiceDocument struct {
	InvoiceNumber string          `json:"invoice_number"`
	InvoiceDate   string          `json:"invoice_date"`
	DueDate       string          `json:"due_date"`
	PeriodStart   string          `json:"period_start"`
	PeriodEnd     string          `json:"period_end"`
	Draft         bool            `json:"draft"`
	Note          string          `json:"note,omitempty"`
	PayTo         payToBlock      `json:"pay_to"`
	BillTo        billToBlock     `json:"bill_to"`
	Totals        totalsBlock     `json:"totals"`
	Jobs          []jobBlock      `json:"jobs"`
	Outstanding   []carriedBlock  `json:"outstanding_invoices"`
	Payments      []ledgerLine    `json:"payments"`
	WriteOffs     []ledgerLine    `json:"write_offs"`
	Retainers     []retainerBlock `json:"retainers"`
}

type payToBlock struct {
	Name   string `json:"name"`
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}

type billToBlock struct {
	CustomerID   billing.CustomerID `json:"customer_id"`
	DisplayName  string             `json:"display_name"`
	BusinessName string             `json:"business_name,omitempty"`
	Street       string             `json:"street"`
	City         string             `json:"city"`
	State        string             `json:"state"`
	Zip          string             `json:"zip"`
	Email        string             `json:"email"`
	Phone        string             `json:"phone"`
}

type totalsBlock struct {
	BeginningBalance string `json:"beginning_balance"`
	Charges          string `json:"charges"`
	Payments         string `json:"payments"`
	WriteOffs        string `json:"write_offs"`
	Retainers        string `json:"retainers"`
	AmountDue        string `json:"amount_due"`
	Remaining        string `json:"remaining"`
}

type jobBlock struct {
	Description string       `json:"description"`
	Total       string       `json:"total"`
	Lines       []ledgerLine `json:"lines"`
}

type ledgerLine struct {
	Date        string `json:"date"`
	Description string `json:"description"`
	Quantity    string `json:"quantity,omitempty"`
	Rate        string `json:"rate,omitempty"`
	Amount      string `json:"amount"`
	Billable    bool   `json:"billable"`
}

type carriedBlock struct {
	InvoiceNumber string `json:"invoice_number"`
	InvoiceDate   string `json:"invoice_date"`
	Carried       string `json:"carried"`
	Current       string `json:"current"`
}

type retainerBlock struct {
	RetainerID    billing.RetainerID `json:"retainer_id"`
	Applied       string             `json:"applied"`
	BalanceBefore string             `json:"balance_before"`
	BalanceAfter  string             `json:"balance_after"`
}

func (JSONRenderer) Render(inv InvoiceWithDetail) (documents.Rendered, error) {
	row := inv.Invoice
	doc := invoiceDocument{
		InvoiceNumber: row.InvoiceNumber,
		InvoiceDate:   day(row.InvoiceDate),
		DueDate:       day(row.DueDate),
		PeriodStart:   day(row.StartDate),
		PeriodEnd:     day(row.EndDate),
		Draft:         inv.IsDraft,
		Note:          inv.Note,
		PayTo: payToBlock{
			Name:   inv.Profile.AccountName,
			Street: inv.Profile.Street,
			City:   inv.Profile.City,
			State:  inv.Profile.State,
			Zip:    inv.Profile.Zip,
			Email:  inv.Profile.Email,
			Phone:  inv.Profile.Phone,
		},
		BillTo: billToBlock{
			CustomerID:   inv.Customer.ID,
			DisplayName:  inv.Customer.DisplayName,
			BusinessName: inv.Customer.BusinessName,
			Street:       inv.Customer.Contact.Street,
			City:         inv.Customer.Contact.City,
			State:        inv.Customer.Contact.State,
			Zip:          inv.Customer.Contact.Zip,
			Email:        inv.Customer.Contact.Email,
			Phone:        inv.Customer.Contact.Phone,
		},
		Totals: totalsBlock{
			BeginningBalance: row.BeginningBalance.StringFixed(2),
			Charges:          row.TotalCharges.StringFixed(2),
			Payments:         row.TotalPayments.StringFixed(2),
			WriteOffs:        row.TotalWriteOffs.StringFixed(2),
			Retainers:        row.TotalRetainers.StringFixed(2),
			AmountDue:        row.TotalAmountDue.StringFixed(2),
			Remaining:        row.RemainingBalance.StringFixed(2),
		},
		Jobs:        []jobBlock{},
		Outstanding: []carriedBlock{},
		Payments:    []ledgerLine{},
		WriteOffs:   []ledgerLine{},
		Retainers:   []retainerBlock{},
	}

	for _, j := range inv.Jobs {
		block := jobBlock{Description: j.Job.Description, Total: j.Total.StringFixed(2)}
		for _, t := range j.Transactions {
			block.Lines = append(block.Lines, ledgerLine{
				Date:        day(t.TransactionDate),
				Description: t.Description,
				Quantity:    t.Quantity.String(),
				Rate:        t.UnitCost.StringFixed(2),
				Amount:      t.Total.StringFixed(2),
				Billable:    t.IsBillable,
			})
		}
		doc.Jobs = append(doc.Jobs, block)
	}
	for _, c := range inv.Carried {
		doc.Outstanding = append(doc.Outstanding, carriedBlock{
			InvoiceNumber: c.InvoiceNumber,
			InvoiceDate:   day(c.InvoiceDate),
			Carried:       c.Carried.StringFixed(2),
			Current:       c.Current.StringFixed(2),
		})
	}
	for _, p := range inv.Payments {
		doc.Payments = append(doc.Payments, ledgerLine{
			Date:        day(p.PaymentDate),
			Description: p.FormOfPayment + " " + p.ReferenceNumber,
			Amount:      p.Amount.StringFixed(2),
			Billable:    p.IsBillable,
		})
	}
	for _, w := range inv.WriteOffs {
		doc.WriteOffs = append(doc.WriteOffs, ledgerLine{
			Date:        day(w.Date),
			Description: w.Reason,
			Amount:      w.Amount.StringFixed(2),
			Billable:    true,
		})
	}
	for _, a := range inv.Allocations {
		doc.Retainers = append(doc.Retainers, retainerBlock{
			RetainerID:    a.RetainerChainID,
			Applied:       a.Amount.StringFixed(2),
			BalanceBefore: a.BalanceBefore.StringFixed(2),
			BalanceAfter:  a.BalanceAfter.StringFixed(2),
		})
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return documents.Rendered{}, fmt.Errorf("render invoice %s: %w", row.InvoiceNumber, err)
	}
	return documents.Rendered{
		CustomerID:  inv.Customer.ID,
		Name:        row.InvoiceNumber + ".json",
		ContentType: "application/json",
		Body:        body,
	}, nil
}

func day(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
