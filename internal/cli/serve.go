// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package cli

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/beevik/etree"
	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-wss/pkg/transport"
	"github.com/sirosfoundation/go-wss/pkg/wss"
)

func newServeCommand(a *app) *cobra.Command {
	var inboundProfile, outboundProfile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a SOAP echo endpoint that validates and secures messages",
		Long: `Serve listens on transport.listen and answers every request whose
security header passes the inbound profile with its own body, secured
with the outbound profile. Rejected requests receive a SOAP fault. The
server uses HTTPS when transport.cert_file and transport.key_file are set.`,
		Example: `  wssec serve -c wssec.yaml --inbound inbound --outbound response`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []transport.ServiceOption{
				transport.WithLogger(a.logger),
				transport.WithMaxMessageSize(a.cfg.Transport.MaxMessageSize),
			}
			h, err := a.newHandler(inboundProfile, "")
			if err != nil {
				return err
			}
			opts = append(opts, transport.WithInbound(h))
			if outboundProfile != "" {
				if h, err = a.newHandler(outboundProfile, ""); err != nil {
					return err
				}
				opts = append(opts, transport.WithOutbound(h))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, transport.NewServiceHandler(transport.ServiceFunc(echo), opts...))
		},
	}
	cmd.Flags().StringVar(&inboundProfile, "inbound", "inbound", "Security profile for requests")
	cmd.Flags().StringVar(&outboundProfile, "outbound", "", "Security profile for responses, empty to leave them unsecured")
	return cmd
}

func (a *app) serve(ctx context.Context, h http.Handler) error {
	tc := a.cfg.Transport
	config, err := a.httpsConfig()
	if err != nil {
		return err
	}

	var start func() error
	var shutdown func(context.Context) error
	if tc.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(tc.CertFile, tc.KeyFile)
		if err != nil {
			return fmt.Errorf("loading server certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
		s := transport.NewHTTPSServer(tc.Listen, config, h)
		start, shutdown = s.Start, s.Shutdown
	} else {
		s := &http.Server{
			Addr:         tc.Listen,
			Handler:      h,
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
		}
		start, shutdown = s.ListenAndServe, s.Shutdown
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", slog.String("addr", tc.Listen), slog.Bool("tls", tc.CertFile != ""))
		errCh <- start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	a.logger.Info("server stopped")
	return nil
}

// echo answers with a copy of the request body in a fresh envelope.
func echo(_ context.Context, req *etree.Document, _ []*wss.Result) (*etree.Document, error) {
	root := req.Root()
	resp := etree.NewDocument()
	env := resp.CreateElement(root.Tag)
	env.Space = root.Space
	for _, attr := range root.Attr {
		if attr.Space == "xmlns" || attr.Key == "xmlns" {
			env.CreateAttr(attr.FullKey(), attr.Value)
		}
	}
	body := req.FindElement("/Envelope/Body")
	if body == nil {
		return nil, wss.NewSecurityError(wss.Failure, "request has no body")
	}
	env.AddChild(body.Copy())
	return resp, nil
}
