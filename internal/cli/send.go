// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package cli

import (
	"crypto/x509"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-wss/pkg/handler"
	"github.com/sirosfoundation/go-wss/pkg/transport"
)

func newSendCommand(a *app) *cobra.Command {
	var profile, responseProfile, soapAction, output string
	cmd := &cobra.Command{
		Use:   "send <endpoint> [message]",
		Short: "Secure a SOAP message and post it to an endpoint",
		Long: `Send secures a SOAP envelope with the selected profile, posts it to the
endpoint and validates the response with the response profile. SOAP faults
returned by the endpoint are reported as errors.`,
		Example: `  wssec send -c wssec.yaml https://service.example.com/ws request.xml
  wssec send -c wssec.yaml --response-profile "" --soap-action urn:ping http://localhost:8080/ - < request.xml`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outbound, err := a.newHandler(profile, "")
			if err != nil {
				return err
			}
			var inbound *handler.Handler
			if responseProfile != "" {
				if inbound, err = a.newHandler(responseProfile, ""); err != nil {
					return err
				}
			}
			config, err := a.httpsConfig()
			if err != nil {
				return err
			}
			doc, err := readDocument(cmd.InOrStdin(), firstArg(args[1:]))
			if err != nil {
				return err
			}

			client := transport.NewClient(config, outbound, inbound)
			client.SetSOAPAction(soapAction)
			resp, results, err := client.Call(cmd.Context(), args[0], doc)
			if err != nil {
				return err
			}
			if err := printResults(cmd.ErrOrStderr(), results); err != nil {
				return err
			}
			return writeDocument(cmd.OutOrStdout(), output, resp)
		},
	}
	cmd.Flags().StringVarP(&profile, "profile", "p", "outbound", "Security profile for the request")
	cmd.Flags().StringVarP(&responseProfile, "response-profile", "r", "inbound", "Security profile for the response, empty to skip validation")
	cmd.Flags().StringVar(&soapAction, "soap-action", "", "SOAP action of the request")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file for the response (default stdout)")
	return cmd
}

// httpsConfig builds the transport settings from the transport section.
func (a *app) httpsConfig() (*transport.HTTPSConfig, error) {
	tc := a.cfg.Transport
	config := transport.DefaultHTTPSConfig()
	config.Timeout = tc.Timeout
	config.MaxMessageSize = tc.MaxMessageSize
	if tc.RootCAs != "" {
		pemData, err := os.ReadFile(tc.RootCAs)
		if err != nil {
			return nil, fmt.Errorf("reading transport roots: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates in %s", tc.RootCAs)
		}
		config.RootCAs = pool
	}
	return config, nil
}
