package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/finmetrics/grounding/internal/model"
)

func ingestCmd() *cobra.Command {
	var (
		cik      string
		name     string
		taxonomy string
		currency string
	)

	cmd := &cobra.Command{
		Use:   "ingest ISSUER...",
		Short: "Fetch and store filing facts for issuers",
		Long: `Fetch every fact the filing source holds for each issuer and store
the ones the concept registry maps. Ingestion is idempotent.

With --cik the issuer is registered first, which is how a new ticker
is added to the store.`,
		Example: `  finctl ingest AAPL MSFT
  finctl ingest AAPL --cik 320193 --name "Apple Inc."`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cik != "" && len(args) != 1 {
				return errors.New("--cik registers exactly one issuer")
			}

			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx := cmd.Context()
			if cik != "" {
				issuer := model.Issuer{
					ID:                strings.ToUpper(args[0]),
					Name:              name,
					CIK:               cik,
					Taxonomy:          model.Taxonomy(taxonomy),
					ReportingCurrency: currency,
				}
				if issuer.Name == "" {
					issuer.Name = issuer.ID
				}
				if err := engine.Ingest.RegisterIssuer(ctx, issuer); err != nil {
					return err
				}
				logger.Info("registered issuer", "issuer", issuer.ID, "cik", cik)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ISSUER\tEXTRACTED\tINSERTED\tSKIPPED TAGS\tSKIPPED UNITS\tSKIPPED SPANS")
			var failed []error
			for _, id := range args {
				report, err := engine.Ingest.IngestIssuer(ctx, strings.ToUpper(id))
				if err != nil {
					logger.Error("ingest failed", "issuer", id, "error", err)
					failed = append(failed, fmt.Errorf("%s: %w", id, err))
					continue
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", report.IssuerID, report.Extracted, report.Inserted,
					report.SkippedTags, report.SkippedUnits, report.SkippedSpans)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return errors.Join(failed...)
		},
	}

	cmd.Flags().StringVar(&cik, "cik", "", "register the issuer with this CIK before ingesting")
	cmd.Flags().StringVar(&name, "name", "", "issuer name used with --cik")
	cmd.Flags().StringVar(&taxonomy, "taxonomy", string(model.TaxonomyGAAP), "issuer taxonomy used with --cik (gaap, ifrs)")
	cmd.Flags().StringVar(&currency, "currency", "USD", "reporting currency used with --cik")

	return cmd
}
