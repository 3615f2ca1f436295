// Package httpsource issues the HTTP requests a session resumes from.
package httpsource

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// NewClient returns a client with HTTP/2 enabled on its transport.
// Compression is disabled so that content lengths and ranges refer to the raw bytes.
func NewClient(timeout time.Duration) (*http.Client, error) {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   4,
		DisableCompression:    true,
	}
	err := http2.ConfigureTransport(tr)
	if err != nil {
		return nil, fmt.Errorf("configure http2 transport: %w", err)
	}
	return &http.Client{Transport: tr}, nil
}

// Source requests one URL, resuming with a Range header.
type Source struct {
	client *http.Client
	url    string
	header http.Header
	log    *zap.Logger
}

func New(client *http.Client, url string, header http.Header, log *zap.Logger) *Source {
	return &Source{
		client: client,
		url:    url,
		header: header,
		log:    log.Named("httpsource").With(zap.String("url", url)),
	}
}

func (s *Source) URL() string { return s.url }

// Response implements types.ResponseFactory.
func (s *Source) Response(ctx context.Context, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range s.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	s.log.Debug(
		"got response",
		zap.Int64("offset", offset),
		zap.Int("status", resp.StatusCode),
		zap.Int64("content_length", resp.ContentLength),
		zap.String("content_range", resp.Header.Get("Content-Range")),
	)
	return resp, nil
}
