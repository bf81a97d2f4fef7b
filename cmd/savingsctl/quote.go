package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/transfa/savings-service/internal/app"
	"github.com/transfa/savings-service/internal/money"
)

func newQuoteCmd() *cobra.Command {
	var (
		weeks  int
		output string
		start  string
	)

	cmd := &cobra.Command{
		Use:   "quote [amount]",
		Short: "Preview the fee, net plan amount, maturity date and investment return of a deposit",
		Example: `  savingsctl quote 1000 --weeks 10
  savingsctl quote 250.50 --weeks 20 --start 2026-01-15 --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := money.Parse(args[0])
			if err != nil {
				return err
			}

			startAt := time.Now().UTC()
			if start != "" {
				startAt, err = time.Parse("2006-01-02", start)
				if err != nil {
					return fmt.Errorf("invalid --start date %q: expected YYYY-MM-DD", start)
				}
			}

			quote, err := app.QuoteDeposit(amount, weeks, startAt)
			if err != nil {
				return err
			}
			return renderQuote(cmd.OutOrStdout(), quote, output)
		},
	}

	cmd.Flags().IntVar(&weeks, "weeks", 10, "Plan duration in weeks (10-20)")
	cmd.Flags().StringVar(&output, "output", "table", "Output format (table, json)")
	cmd.Flags().StringVar(&start, "start", "", "Plan start date (YYYY-MM-DD), defaults to today")
	return cmd
}

func renderQuote(w io.Writer, q *app.DepositQuote, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(q)
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Deposit\t%s\n", q.Amount.StringFixed(2))
		fmt.Fprintf(tw, "Fee (%s%%)\t%s\n", q.FeeRate.Shift(2).String(), q.Fee.StringFixed(2))
		fmt.Fprintf(tw, "Plan amount\t%s\n", q.NetAmount.StringFixed(2))
		fmt.Fprintf(tw, "Duration\t%d weeks\n", q.DurationWeeks)
		fmt.Fprintf(tw, "Matures\t%s\n", q.MaturityDate.Format("2006-01-02"))
		fmt.Fprintf(tw, "If fully invested\t+%s profit, %s back after %d months\n",
			q.InvestmentProfit.StringFixed(2), q.InvestmentExpectedReturn.StringFixed(2), money.InvestmentTermMonths)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
