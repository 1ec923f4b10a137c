package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/logger"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List customers that need an invoice",
	Long: `Runs the eligibility scanner once for an account and prints every
customer with unbilled work, active retainers or an outstanding balance
that payments have not fully offset.`,
	Example: `  billingd scan --account 1`,
	RunE:    runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().Int64("account", 0, "Account id to scan")
	_ = scanCmd.MarkFlagRequired("account")
}

func runScan(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("scan")
	accountID, _ := cmd.Flags().GetInt64("account")

	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	eligible, err := a.engine.FindCustomersNeedingInvoices(cmd.Context(), billing.AccountID(accountID))
	if err != nil {
		return fmt.Errorf("scan account %d: %w", accountID, err)
	}
	log.Info().Int64("account_id", accountID).Int("eligible", len(eligible)).Msg("scan complete")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CUSTOMER\tNAME\tTRANSACTIONS\tUNBILLED\tOUTSTANDING\tRETAINERS\tLAST INVOICE")
	for _, e := range eligible {
		last := "-"
		if e.LastInvoiceDate != nil {
			last = e.LastInvoiceDate.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%d\t%s\n",
			e.Customer.ID, e.Customer.DisplayName, e.TransactionCount,
			e.TransactionTotal.StringFixed(2), e.OutstandingTotal.StringFixed(2),
			e.RetainerCount, last)
	}
	return w.Flush()
}
