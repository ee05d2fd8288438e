package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func conceptsCmd() *cobra.Command {
	var (
		issuer  string
		metrics bool
	)

	cmd := &cobra.Command{
		Use:   "concepts",
		Short: "List canonical concepts or derived metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			if metrics {
				fmt.Fprintln(w, "METRIC\tOUTPUT\tTTM\tFORMULA")
				for _, m := range engine.Catalog.Metrics() {
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", m.Name, m.Output, m.TTM, m.Formula)
				}
				return w.Flush()
			}

			entries, err := engine.Catalog.Concepts(cmd.Context(), issuer)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "CONCEPT\tKIND\tPERIOD\tSTORED\tTAGS")
			for _, e := range entries {
				stored := "-"
				if e.Stored != nil {
					stored = fmt.Sprint(*e.Stored)
				}
				tags := append(append([]string{}, e.GAAPTags...), e.IFRSTags...)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Name, e.Kind, e.PeriodType, stored, strings.Join(tags, ","))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&issuer, "issuer", "", "only concepts mapped for this issuer's taxonomy")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "list derived metrics instead of concepts")

	return cmd
}
