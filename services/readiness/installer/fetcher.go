// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package installer

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Response is the subset of an HTTP response the installer consumes.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Fetcher issues GET requests for artifact downloads.
//
// Implementations must honour ctx for both the request and the body stream.
// A non-nil error means no response was received.
type Fetcher interface {
	Fetch(ctx context.Context, url string, header http.Header) (*Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string, header http.Header) (*Response, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, url string, header http.Header) (*Response, error) {
	return f(ctx, url, header)
}

// HTTPFetcherOptions configures NewHTTPFetcher.
type HTTPFetcherOptions struct {
	// Timeout bounds a whole request including the body. Zero means no limit,
	// which is the right choice for multi-gigabyte models.
	Timeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers.
	// Default: 30 seconds.
	ResponseHeaderTimeout time.Duration

	// UserAgent is sent with every request when non-empty.
	UserAgent string

	// Transport overrides the base round tripper. Tests use this.
	Transport http.RoundTripper
}

// HTTPFetcher is the default Fetcher on net/http with OpenTelemetry
// client instrumentation.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates a fetcher that follows redirects (model hosts
// redirect to CDNs) and traces every request.
func NewHTTPFetcher(opts HTTPFetcherOptions) *HTTPFetcher {
	base := opts.Transport
	if base == nil {
		headerTimeout := opts.ResponseHeaderTimeout
		if headerTimeout == 0 {
			headerTimeout = 30 * time.Second
		}
		base = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: headerTimeout,
		}
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
		userAgent: opts.UserAgent,
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}
