// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package cli

import (
	"github.com/spf13/cobra"
)

func newSecureCommand(a *app) *cobra.Command {
	var profile, actions, output string
	cmd := &cobra.Command{
		Use:   "secure [message]",
		Short: "Apply security actions to a SOAP message",
		Long: `Secure reads a SOAP envelope from a file, or from stdin when the file
is "-" or omitted, applies the actions of the selected profile and writes
the secured envelope.`,
		Example: `  # Sign and timestamp a request with the outbound profile
  wssec secure -c wssec.yaml request.xml > secured.xml

  # Override the profile's actions
  wssec secure -c wssec.yaml --action "Timestamp Signature Encrypt" - < request.xml`,
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
			doc, err = h.Outbound(doc)
			if err != nil {
				return err
			}
			return writeDocument(cmd.OutOrStdout(), output, doc)
		},
	}
	cmd.Flags().StringVarP(&profile, "profile", "p", "outbound", "Security profile in the configuration")
	cmd.Flags().StringVarP(&actions, "action", "a", "", "Space separated actions, overrides the profile")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
