// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-wss/pkg/wss"
)

func newActionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "actions [action list]",
		Short: "List the registered security actions",
		Long: `Without arguments, actions lists every registered action with its id.
With an argument, it parses the action list and prints it in canonical
form, which is useful to check a profile's action setting.`,
		Example: `  wssec actions
  wssec actions "usernametoken timestamp signature"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				actions, err := wss.ParseActions(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, wss.FormatActions(actions))
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tACTION")
			for _, a := range wss.DefaultConfig().Actions() {
				fmt.Fprintf(tw, "%#x\t%s\n", int(a), a)
			}
			return tw.Flush()
		},
	}
}
