// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package cli implements the wssec command line tool.
package cli

import (
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/beevik/etree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-wss/internal/config"
	"github.com/sirosfoundation/go-wss/pkg/handler"
	"github.com/sirosfoundation/go-wss/pkg/keystore"
	"github.com/sirosfoundation/go-wss/pkg/replay"
	"github.com/sirosfoundation/go-wss/pkg/wss"
)

// app is the state shared by the wssec commands.
type app struct {
	configPath string
	keyDir     string
	logLevel   string
	logFormat  string

	cfg      *config.Config
	logger   *slog.Logger
	keystore *keystore.Keystore
	replay   *replay.Cache
	registry *prometheus.Registry
	metrics  *handler.Metrics
}

// NewRootCommand builds the wssec command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:               "wssec",
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		Short:             "Apply and verify WS-Security on SOAP messages",
		Long: `wssec secures SOAP envelopes with WS-Security tokens and validates
received security headers, using the handler profiles of a YAML
configuration file. Secured messages can also be exchanged with a SOAP
endpoint over HTTP(S).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Configuration file (YAML)")
	root.PersistentFlags().StringVar(&a.keyDir, "keys", "", "Key directory, overrides keystore.dir")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format (text, json)")

	root.AddCommand(
		newSecureCommand(a),
		newVerifyCommand(a),
		newSendCommand(a),
		newServeCommand(a),
		newActionsCommand(),
	)
	return root
}

// Execute runs the wssec command line.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) init(cmd *cobra.Command) error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.Load(a.configPath)
		if err != nil {
			return err
		}
	} else {
		a.cfg = config.Default()
	}
	if a.logLevel != "" {
		a.cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		a.cfg.Log.Format = a.logFormat
	}
	a.logger = newLogger(cmd.ErrOrStderr(), a.cfg.Log.Level, a.cfg.Log.Format)

	if a.keyDir != "" {
		a.cfg.Keystore.Dir = a.keyDir
	}
	if a.keystore, err = a.loadKeystore(); err != nil {
		return err
	}

	if a.cfg.Replay.Enabled {
		a.replay = replay.NewCache(a.cfg.Replay.Window)
	}
	if a.cfg.Metrics.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.metrics = handler.NewMetrics(a.registry)
	}
	return nil
}

func (a *app) loadKeystore() (*keystore.Keystore, error) {
	kc := a.cfg.Keystore
	var opts []keystore.Option
	switch {
	case kc.Roots != "":
		pemData, err := os.ReadFile(kc.Roots)
		if err != nil {
			return nil, fmt.Errorf("reading trust roots: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates in %s", kc.Roots)
		}
		opts = append(opts, keystore.WithRoots(roots))
	case kc.AuthZEN.URL != "":
		v := keystore.NewAuthZENTrustValidator(kc.AuthZEN.URL).
			WithTimeout(kc.AuthZEN.Timeout).
			WithDecisionCache(kc.AuthZEN.Cache)
		if kc.AuthZEN.Action != "" {
			v = v.WithDefaultAction(kc.AuthZEN.Action)
		}
		opts = append(opts, keystore.WithValidator(v))
	}

	ks := keystore.New(opts...)
	if kc.Dir != "" {
		if err := ks.LoadDir(kc.Dir); err != nil {
			return nil, err
		}
		a.logger.Debug("loaded keystore", slog.String("dir", kc.Dir), slog.Int("aliases", len(ks.Aliases())))
	}
	return ks, nil
}

func (a *app) close() error {
	if a.replay != nil {
		a.replay.Close()
	}
	if a.registry != nil {
		if err := prometheus.WriteToTextfile(a.cfg.Metrics.Metrics.Textfile, a.registry); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}

// newHandler builds a Handler from the named profile of the security section.
// A non-empty actions string replaces the profile's action list.
func (a *app) newHandler(profile, actions string) (*handler.Handler, error) {
	opts, err := handler.LoadOptions(a.cfg.Properties().Sub(profile))
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", profile, err)
	}
	if actions != "" {
		if opts.Actions, err = wss.ParseActions(actions); err != nil {
			return nil, err
		}
	}

	hopts := []handler.Option{
		handler.WithCallback(wss.PasswordMap(a.cfg.Passwords)),
		handler.WithSignatureCrypto(a.keystore),
		handler.WithEncryptionCrypto(a.keystore),
		handler.WithDecryptionCrypto(a.keystore),
		handler.WithLogger(a.logger.With(slog.String("profile", profile))),
	}
	if a.replay != nil {
		hopts = append(hopts, handler.WithReplayCache(a.replay))
	}
	if a.metrics != nil {
		hopts = append(hopts, handler.WithMetrics(a.metrics))
	}
	return handler.New(opts, hopts...), nil
}

// readDocument reads an XML document from path, or from in when path is
// "-" or empty.
func readDocument(in io.Reader, path string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if path == "" || path == "-" {
		if _, err := doc.ReadFrom(in); err != nil {
			return nil, fmt.Errorf("reading message: %w", err)
		}
		return doc, nil
	}
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("reading message: %w", err)
	}
	return doc, nil
}

// writeDocument writes doc to path, or to out when path is empty.
func writeDocument(out io.Writer, path string, doc *etree.Document) error {
	if path == "" {
		_, err := doc.WriteTo(out)
		return err
	}
	if err := doc.WriteToFile(path); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}
