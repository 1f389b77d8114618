// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-wss/pkg/wss"
)

func newVerifyCommand(a *app) *cobra.Command {
	var profile, actions, output string
	cmd := &cobra.Command{
		Use:   "verify [message]",
		Short: "Validate the security header of a SOAP message",
		Long: `Verify processes the security header of a SOAP envelope, checks the
results against the actions of the selected profile and prints one line
per validated token. Encrypted parts are decrypted in place; use --output
to keep the processed envelope.`,
		Example: `  wssec verify -c wssec.yaml secured.xml
  wssec verify -c wssec.yaml --action "Timestamp Signature" -o plain.xml secured.xml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.newHandler(profile, actions)
			if err != nil {
				return err
			}
			doc, err := readDocument(cmd.InOrStdin(), firstArg(args))
			if err != nil {
				return err
			}
			results, err := h.Inbound(doc)
			if err != nil {
				return err
			}
			if err := printResults(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if output != "" {
				return writeDocument(cmd.OutOrStdout(), output, doc)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&profile, "profile", "p", "inbound", "Security profile in the configuration")
	cmd.Flags().StringVarP(&actions, "action", "a", "", "Space separated expected actions, overrides the profile")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the processed message to this file")
	return cmd
}

func printResults(w io.Writer, results []*wss.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Action(), r.ID(), resultSubject(r))
	}
	return tw.Flush()
}

func resultSubject(r *wss.Result) string {
	if p := r.Principal(); p != nil {
		return p.Name()
	}
	if c := r.Certificate(); c != nil {
		return c.Subject.String()
	}
	if ts := r.Timestamp(); ts != nil {
		return ts.Created.Format("2006-01-02T15:04:05Z07:00")
	}
	if refs := r.DataRefs(); len(refs) > 0 {
		return fmt.Sprintf("%d references", len(refs))
	}
	return "-"
}
