// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-wss/pkg/handler"
	"github.com/sirosfoundation/go-wss/pkg/wss"
)

const (
	contentTypeSOAP11 = "text/xml; charset=utf-8"
	contentTypeSOAP12 = "application/soap+xml; charset=utf-8"
	userAgent         = "go-wss/1.0"
)

// ErrResponseTooLarge is returned by Call when the response body exceeds
// the configured MaxMessageSize.
var ErrResponseTooLarge = errors.New("response too large")

// Client sends secured SOAP requests.
type Client struct {
	client   *http.Client
	config   *HTTPSConfig
	outbound *handler.Handler
	inbound  *handler.Handler
	action   string
}

// NewClient creates a client. outbound secures requests and inbound
// validates responses; either may be nil to skip that step.
func NewClient(config *HTTPSConfig, outbound, inbound *handler.Handler) *Client {
	if config == nil {
		config = DefaultHTTPSConfig()
	}

	transport := &http.Transport{
		TLSClientConfig:     config.clientTLS(),
		IdleConnTimeout:     config.IdleConnTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		config:   config,
		outbound: outbound,
		inbound:  inbound,
	}
}

// SetSOAPAction sets the SOAPAction sent with SOAP 1.1 requests and the
// action parameter of SOAP 1.2 requests.
func (c *Client) SetSOAPAction(action string) {
	c.action = action
}

// Call secures doc, posts it to endpoint and validates the response. A SOAP
// fault response is returned as a *wss.SecurityError.
func (c *Client) Call(ctx context.Context, endpoint string, doc *etree.Document) (*etree.Document, []*wss.Result, error) {
	if c.outbound != nil {
		var err error
		if doc, err = c.outbound.Outbound(doc); err != nil {
			return nil, nil, err
		}
	}
	body, err := doc.WriteToBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if soapNamespace(doc) == wss.NSSOAP12 {
		ct := contentTypeSOAP12
		if c.action != "" {
			ct += fmt.Sprintf("; action=%q", c.action)
		}
		req.Header.Set("Content-Type", ct)
	} else {
		req.Header.Set("Content-Type", contentTypeSOAP11)
		req.Header.Set("SOAPAction", fmt.Sprintf("%q", c.action))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	limit := c.config.maxMessageSize()
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, limit)
	}

	out := etree.NewDocument()
	if err := out.ReadFromBytes(data); err != nil || out.Root() == nil {
		if resp.StatusCode != http.StatusOK {
			return nil, nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(data))
		}
		return nil, nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if fault, ok := ParseFault(out); ok {
		return nil, nil, fault
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	if c.inbound == nil {
		return out, nil, nil
	}
	results, err := c.inbound.Inbound(out)
	if err != nil {
		return nil, nil, err
	}
	return out, results, nil
}

func soapNamespace(doc *etree.Document) string {
	if root := doc.Root(); root != nil {
		return root.NamespaceURI()
	}
	return ""
}
