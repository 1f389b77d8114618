// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package handler

import (
	"crypto/x509"
	"log/slog"
	"time"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-wss/pkg/wss"
)

// Handler applies and verifies WS-Security for one endpoint. A Handler is
// safe for concurrent use once constructed, provided its collaborators are.
type Handler struct {
	opts     Options
	config   *wss.Config
	engine   *wss.Engine
	callback wss.CallbackHandler

	sigCrypto wss.Crypto
	encCrypto wss.Crypto
	decCrypto wss.Crypto
	replay    wss.ReplayCache

	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithConfig replaces the wss.Config derived from Options.
func WithConfig(cfg *wss.Config) Option {
	return func(h *Handler) {
		h.config = cfg
	}
}

// WithCallback sets the password and secret callback.
func WithCallback(cb wss.CallbackHandler) Option {
	return func(h *Handler) {
		h.callback = cb
	}
}

// WithSignatureCrypto sets the key store used to create and verify
// signatures and to validate certificate trust.
func WithSignatureCrypto(c wss.Crypto) Option {
	return func(h *Handler) {
		h.sigCrypto = c
	}
}

// WithEncryptionCrypto sets the key store holding recipient certificates.
func WithEncryptionCrypto(c wss.Crypto) Option {
	return func(h *Handler) {
		h.encCrypto = c
	}
}

// WithDecryptionCrypto sets the key store holding decryption keys.
func WithDecryptionCrypto(c wss.Crypto) Option {
	return func(h *Handler) {
		h.decCrypto = c
	}
}

// WithReplayCache enables nonce and signature replay detection.
func WithReplayCache(r wss.ReplayCache) Option {
	return func(h *Handler) {
		h.replay = r
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

func WithMetrics(m *Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// New creates a Handler.
func New(opts Options, options ...Option) *Handler {
	h := &Handler{
		opts:   opts,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range options {
		o(h)
	}
	if h.config == nil {
		h.config = opts.Config()
	}
	h.engine = wss.NewEngine(h.config)
	h.logger = h.logger.With(slog.String("component", "wss"))
	return h
}

// Options returns the handler's options.
func (h *Handler) Options() Options {
	return h.opts
}

func (h *Handler) requestData() *wss.RequestData {
	return &wss.RequestData{
		Config:               h.config,
		Actor:                h.opts.Actor,
		MustUnderstand:       h.opts.MustUnderstand,
		Username:             h.opts.User,
		PasswordType:         h.opts.PasswordType,
		SignatureUser:        h.opts.SignatureUser,
		EncryptionUser:       h.opts.EncryptionUser,
		SigKeyIdentifier:     h.opts.SigKeyIdentifier,
		EncKeyIdentifier:     h.opts.EncKeyIdentifier,
		SignatureParts:       h.opts.SignatureParts,
		EncryptionParts:      h.opts.EncryptionParts,
		TimeToLive:           h.opts.TimeToLive,
		DerivedKeyIterations: h.opts.DerivedKeyIterations,
		Callback:             h.callback,
		SigCrypto:            h.sigCrypto,
		EncCrypto:            h.encCrypto,
		DecCrypto:            h.decCrypto,
		ReplayCache:          h.replay,
		Now:                  h.now,
		Logger:               h.logger,
	}
}

// Outbound secures doc with the configured actions.
func (h *Handler) Outbound(doc *etree.Document) (*etree.Document, error) {
	return h.OutboundWith(doc, nil)
}

// OutboundWith secures doc like Outbound. prepare, when not nil, may adjust
// the request data first, for example to attach a SAML assertion.
func (h *Handler) OutboundWith(doc *etree.Document, prepare func(*wss.RequestData)) (*etree.Document, error) {
	start := time.Now()
	rd := h.requestData()
	if prepare != nil {
		prepare(rd)
	}
	out, err := wss.ApplyActions(h.opts.Actions, doc, rd)
	h.metrics.observe(directionOutbound, start, err)
	if err != nil {
		h.logger.Warn("securing message failed", slog.String("error", err.Error()))
		return nil, err
	}
	h.logger.Debug("secured message", slog.String("actions", wss.FormatActions(h.opts.Actions)))
	return out, nil
}

// Inbound validates the security header of doc and returns its results.
// Beyond header processing it requires the results to match the configured
// actions, enforces timestamp freshness when TimestampStrict is set and
// validates signing certificates when VerifyTrust is set.
func (h *Handler) Inbound(doc *etree.Document) ([]*wss.Result, error) {
	start := time.Now()
	results, err := h.inbound(doc)
	h.metrics.observe(directionInbound, start, err)
	if err != nil {
		h.logger.Warn("security validation failed", slog.String("error", err.Error()))
		return nil, err
	}
	h.metrics.recordResults(results)
	h.logger.Debug("validated message", slog.Int("results", len(results)))
	return results, nil
}

func (h *Handler) inbound(doc *etree.Document) ([]*wss.Result, error) {
	results, err := h.engine.ProcessSecurityHeader(doc, h.requestData())
	if err != nil {
		return nil, err
	}
	if results == nil && len(h.opts.Actions) > 0 {
		return nil, wss.NewSecurityError(wss.InvalidSecurity, "request does not contain required security header")
	}
	if !h.checkResults(results) {
		h.logger.Debug("security actions mismatch",
			slog.String("expected", wss.FormatActions(h.opts.Actions)),
			slog.String("received", wss.FormatActions(actionsOf(results))))
		return nil, wss.NewSecurityError(wss.InvalidSecurity, "security processing failed (actions mismatch)")
	}
	for _, r := range results {
		switch r.Action() {
		case wss.Timestamp:
			if h.opts.TimestampStrict {
				if err := h.checkTimestamp(r.Timestamp()); err != nil {
					return nil, err
				}
			}
		case wss.Signature, wss.SAMLTokenSigned:
			if h.opts.VerifyTrust {
				if err := h.checkTrust(r); err != nil {
					return nil, err
				}
			}
		}
	}
	return results, nil
}

func (h *Handler) checkResults(results []*wss.Result) bool {
	if h.opts.OrderInsensitive {
		return wss.CheckReceiverResultsAnyOrder(h.opts.Actions, results)
	}
	return wss.CheckReceiverResults(h.opts.Actions, results)
}

// checkTimestamp rejects timestamps created more than TimeToLive ago or
// more than FutureTimeToLive ahead.
func (h *Handler) checkTimestamp(ts *wss.TimestampInfo) error {
	if ts == nil {
		return wss.NewSecurityError(wss.InvalidSecurity, "timestamp result without timestamp")
	}
	now := h.now()
	if h.opts.TimeToLive > 0 && ts.Created.Add(h.opts.TimeToLive).Before(now) {
		return wss.NewSecurityError(wss.MessageExpired, "timestamp is too old")
	}
	if ts.Created.After(now.Add(h.opts.FutureTimeToLive)) {
		return wss.NewSecurityError(wss.MessageExpired, "timestamp is in the future")
	}
	return nil
}

// checkTrust validates the certificate that verified a signature. Results
// of symmetric signatures carry no certificate and pass.
func (h *Handler) checkTrust(r *wss.Result) error {
	cert := r.Certificate()
	if cert == nil {
		return nil
	}
	if h.sigCrypto == nil {
		return wss.NewSecurityError(wss.FailedCheck, "no crypto to verify certificate trust")
	}
	chain := r.Certificates()
	if len(chain) == 0 {
		chain = []*x509.Certificate{cert}
	}
	if err := h.sigCrypto.VerifyTrust(chain); err != nil {
		return wss.WrapSecurityError(wss.FailedCheck, "certificate is not trusted", err)
	}
	return nil
}

func actionsOf(results []*wss.Result) []wss.Action {
	actions := make([]wss.Action, len(results))
	for i, r := range results {
		actions[i] = r.Action()
	}
	return actions
}
