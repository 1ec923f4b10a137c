package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/invoicing"
	"github.com/warp/invoice-engine/logger"
)

var invoiceCmd = &cobra.Command{
	Use:   "invoice",
	Short: "Create invoices for selected customers",
	Long: `Runs one invoice creation for the given customers. Without --finalize
the run is a draft: numbers and totals are previewed and nothing is
written.`,
	Example: `  # Preview invoices for two customers
  billingd invoice --account 1 --customers 4,7

  # Finalize with a note printed on every invoice
  billingd invoice --account 1 --customers 4,7 --finalize --note "Thank you"`,
	RunE: runInvoice,
}

func init() {
	rootCmd.AddCommand(invoiceCmd)

	invoiceCmd.Flags().Int64("account", 0, "Account id")
	invoiceCmd.Flags().Int64("user", 0, "User id recorded on retainer draws")
	invoiceCmd.Flags().Int64Slice("customers", nil, "Customer ids to invoice")
	invoiceCmd.Flags().Bool("finalize", false, "Persist the invoices")
	invoiceCmd.Flags().String("note", "", "Note added to every invoice")
	invoiceCmd.Flags().Bool("single-transaction", false, "Roll back every invoice if any customer fails")
	_ = invoiceCmd.MarkFlagRequired("account")
	_ = invoiceCmd.MarkFlagRequired("customers")
}

func runInvoice(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("invoice")

	accountID, _ := cmd.Flags().GetInt64("account")
	userID, _ := cmd.Flags().GetInt64("user")
	customers, _ := cmd.Flags().GetInt64Slice("customers")
	finalize, _ := cmd.Flags().GetBool("finalize")
	note, _ := cmd.Flags().GetString("note")
	single, _ := cmd.Flags().GetBool("single-transaction")

	req := invoicing.CreateRequest{
		Settings: invoicing.Settings{
			IsFinalized:       finalize,
			GlobalInvoiceNote: note,
			SingleTransaction: single,
		},
	}
	for _, id := range customers {
		req.Selections = append(req.Selections, invoicing.Selection{CustomerID: billing.CustomerID(id)})
	}

	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.CreateInvoices(cmd.Context(), billing.AccountID(accountID), billing.UserID(userID), req)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if !res.Finalized {
		fmt.Fprintln(w, "CUSTOMER\tNUMBER\tBEGINNING\tCHARGES\tDUE\tREMAINING")
		for _, inv := range res.Invoices {
			i := inv.Invoice
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				i.CustomerID, i.InvoiceNumber, i.BeginningBalance.StringFixed(2),
				i.TotalCharges.StringFixed(2), i.TotalAmountDue.StringFixed(2),
				i.RemainingBalance.StringFixed(2))
		}
		return w.Flush()
	}

	var failed int
	fmt.Fprintln(w, "CUSTOMER\tNUMBER\tDUE\tDOCUMENT\tERROR")
	for _, out := range res.Outcomes {
		if !out.Succeeded() {
			failed++
			fmt.Fprintf(w, "%d\t-\t-\t-\t%v\n", out.CustomerID, out.Err)
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t\n",
			out.CustomerID, out.Invoice.InvoiceNumber,
			out.Invoice.TotalAmountDue.StringFixed(2), out.FileLocation)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d invoices failed", failed, len(res.Outcomes))
	}
	return nil
}
