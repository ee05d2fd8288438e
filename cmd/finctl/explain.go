package main

import (
	"github.com/spf13/cobra"

	"github.com/finmetrics/grounding/internal/api/request"
	"github.com/finmetrics/grounding/internal/validation"
)

func explainCmd() *cobra.Command {
	var req request.ExplainRequest

	cmd := &cobra.Command{
		Use:   "explain ISSUER EXPR",
		Short: "Evaluate an expression and print its breakdown and citations",
		Example: `  finctl explain AAPL "grossProfit / revenue" --period 2024-Q4
  finctl explain AAPL freeCashFlow --freq A --currency EUR`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Issuer, req.Expr = args[0], args[1]
			if err := validation.ValidateExplainRequest(req); err != nil {
				return invalidRequest(err)
			}

			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			res, err := engine.Calc.Explain(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&req.Period, "period", "latest", "period: latest, YYYY-MM-DD, YYYY-Qn or FYYYYY")
	cmd.Flags().StringVar(&req.Freq, "freq", "", "frequency Q or A (default from the period)")
	cmd.Flags().StringVar(&req.Currency, "currency", "", "convert monetary leaves to this currency")
	cmd.Flags().BoolVar(&req.AsReported, "as-reported", false, "ignore amended filings")
	cmd.Flags().StringVar(&req.Accession, "accession", "", "pin every leaf to one filing")
	cmd.Flags().BoolVar(&req.TTM, "ttm", false, "evaluate on a trailing-twelve-month basis")

	return cmd
}
