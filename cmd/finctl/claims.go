package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/finmetrics/grounding/internal/api/request"
	"github.com/finmetrics/grounding/internal/validation"
)

func claimsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claims FILE",
		Short: "Verify a batch of claims against stored facts",
		Long: `Read a claims verification request (the JSON body accepted by
POST /claims/verify) from FILE, or stdin for "-", and print the report.

The command fails when any claim is not grounded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeFn, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeFn()

			var req request.VerifyClaimsRequest
			dec := json.NewDecoder(r)
			dec.DisallowUnknownFields()
			if err := dec.Decode(&req); err != nil {
				return fmt.Errorf("invalid claims request: %w", err)
			}
			if err := validation.ValidateVerifyClaimsRequest(req); err != nil {
				return invalidRequest(err)
			}

			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			report, err := engine.Claims.Verify(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}
