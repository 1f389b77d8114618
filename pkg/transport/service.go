// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-wss/pkg/handler"
	"github.com/sirosfoundation/go-wss/pkg/wss"
)

// Service answers validated SOAP requests.
type Service interface {
	// Serve returns the response envelope for req. results are the
	// validated security tokens of the request.
	Serve(ctx context.Context, req *etree.Document, results []*wss.Result) (*etree.Document, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, req *etree.Document, results []*wss.Result) (*etree.Document, error)

func (f ServiceFunc) Serve(ctx context.Context, req *etree.Document, results []*wss.Result) (*etree.Document, error) {
	return f(ctx, req, results)
}

// ServiceOption configures a service handler.
type ServiceOption func(*serviceHandler)

// WithInbound validates requests with h.
func WithInbound(h *handler.Handler) ServiceOption {
	return func(s *serviceHandler) {
		s.inbound = h
	}
}

// WithOutbound secures responses with h.
func WithOutbound(h *handler.Handler) ServiceOption {
	return func(s *serviceHandler) {
		s.outbound = h
	}
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *serviceHandler) {
		s.logger = l
	}
}

// WithMaxMessageSize bounds request bodies.
func WithMaxMessageSize(n int64) ServiceOption {
	return func(s *serviceHandler) {
		s.maxSize = n
	}
}

type serviceHandler struct {
	service  Service
	inbound  *handler.Handler
	outbound *handler.Handler
	logger   *slog.Logger
	maxSize  int64
}

// NewServiceHandler returns an http.Handler that validates each request,
// passes it to svc and secures the response.
func NewServiceHandler(svc Service, opts ...ServiceOption) http.Handler {
	s := &serviceHandler{
		service: svc,
		logger:  slog.Default(),
		maxSize: DefaultMaxMessageSize,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *serviceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxSize))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusRequestEntityTooLarge)
		return
	}
	req := etree.NewDocument()
	if err := req.ReadFromBytes(data); err != nil || req.Root() == nil {
		http.Error(w, "Malformed SOAP message", http.StatusBadRequest)
		return
	}
	soapNS := soapNamespace(req)
	if soapNS != wss.NSSOAP11 && soapNS != wss.NSSOAP12 {
		http.Error(w, "Not a SOAP envelope", http.StatusBadRequest)
		return
	}
	log := s.logger.With(slog.String("remote", r.RemoteAddr))

	var results []*wss.Result
	if s.inbound != nil {
		if results, err = s.inbound.Inbound(req); err != nil {
			log.Info("rejected request", slog.String("error", err.Error()))
			s.writeFault(w, soapNS, err)
			return
		}
	}

	resp, err := s.service.Serve(r.Context(), req, results)
	if err == nil && (resp == nil || resp.Root() == nil) {
		err = wss.NewSecurityError(wss.Failure, "service returned no response")
	}
	if err != nil {
		log.Warn("service failed", slog.String("error", err.Error()))
		s.writeFault(w, soapNS, err)
		return
	}

	if s.outbound != nil {
		if resp, err = s.outbound.Outbound(resp); err != nil {
			log.Error("securing response failed", slog.String("error", err.Error()))
			s.writeFault(w, soapNS, err)
			return
		}
	}
	s.write(w, http.StatusOK, soapNamespace(resp), resp)
}

// writeFault answers with a SOAP fault. Errors that are not security
// errors become wsse:Failure.
func (s *serviceHandler) writeFault(w http.ResponseWriter, soapNS string, err error) {
	s.write(w, http.StatusInternalServerError, soapNS, NewFault(soapNS, err))
}

func (s *serviceHandler) write(w http.ResponseWriter, status int, soapNS string, doc *etree.Document) {
	ct := contentTypeSOAP11
	if soapNS == wss.NSSOAP12 {
		ct = contentTypeSOAP12
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(status)
	if _, err := doc.WriteTo(w); err != nil {
		s.logger.Debug("writing response failed", slog.String("error", err.Error()))
	}
}
