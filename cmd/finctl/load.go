package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load FILE",
		Short: "Load issuers and facts from a YAML fixture",
		Long: `Load a YAML fact file into the store. Use "-" to read from stdin.

Reloading the same file is a no-op. A fact that contradicts a stored
value for the same filing is rejected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeFn, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeFn()

			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			report, err := engine.Ingest.LoadFacts(cmd.Context(), r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d facts (%d new)\n", report.Extracted, report.Inserted)
			return nil
		},
	}
}

// openInput opens path, or stdin for "-".
func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}
