// Package forwarder relays raw queries to the configured DNS-over-HTTPS
// endpoint. One endpoint, one attempt per query: a failed forward is
// logged and the client hears nothing, retrying is the client's call.
package forwarder

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gali1/dohrelay/config"
	"github.com/gali1/dohrelay/middleware"
	"github.com/gali1/dohrelay/wire"
	"github.com/quic-go/quic-go/http3"
	"github.com/semihalev/zlog/v2"
)

const (
	contentType = "application/dns-message"

	// maxResponseSize caps how much of an upstream body is read.
	maxResponseSize = 65535
)

// UpstreamError reports a non-200 status from the DoH endpoint.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// TransportError reports a network or TLS failure reaching the endpoint.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream unreachable: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Forwarder type.
type Forwarder struct {
	endpoint string
	client   *http.Client
}

// New return forwarder.
func New(cfg *config.Config) *Forwarder {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    rootCAs(cfg.RootCAFile),
	}

	var transport http.RoundTripper

	if cfg.UpstreamHTTP3 {
		transport = &http3.Transport{
			TLSClientConfig: tlsConfig,
		}
	} else {
		transport = &http.Transport{
			TLSClientConfig:     tlsConfig,
			ForceAttemptHTTP2:   true,
			MaxIdleConnsPerHost: 64,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	timeout := cfg.Timeout.Duration
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Forwarder{
		endpoint: cfg.Upstream,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// rootCAs loads the configured trust bundle, falling back to the system
// pool when no bundle is configured or it cannot be read.
func rootCAs(path string) *x509.CertPool {
	if path == "" {
		return nil
	}

	pem, err := os.ReadFile(path)
	if err != nil {
		zlog.Error("CA bundle read failed, using system pool", "path", path, "error", err.Error())
		return nil
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		zlog.Error("CA bundle contains no certificates, using system pool", "path", path)
		return nil
	}

	return pool
}

// (*Forwarder).Name return middleware name.
func (f *Forwarder) Name() string { return name }

// (*Forwarder).Exchange POSTs the raw query to the endpoint and returns
// the raw response body. A non-200 status is an *UpstreamError, a failure
// to complete the request at all is a *TransportError.
func (f *Forwarder) Exchange(ctx context.Context, query []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(query))
	if err != nil {
		return nil, &TransportError{Cause: err}
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, &UpstreamError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Cause: err}
	}

	return body, nil
}

// (*Forwarder).ServeDNS implements the Handler interface.
func (f *Forwarder) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	body, err := f.Exchange(ctx, ch.Query)
	if err != nil {
		var ue *UpstreamError

		if errors.As(err, &ue) {
			zlog.Error("Upstream error", "endpoint", f.endpoint, "status", ue.Status)
		} else {
			zlog.Error("Upstream unreachable", "endpoint", f.endpoint, "error", err.Error())
		}

		// no SERVFAIL is synthesized, the client times out and retries
		ch.Cancel()
		return
	}

	reply, err := wire.Correlate(ch.Query, body)
	if err != nil {
		zlog.Error("Upstream response too short", "endpoint", f.endpoint, "size", len(body))
		ch.Cancel()
		return
	}

	zlog.Debug("Forwarded query", "endpoint", f.endpoint, "size", len(reply))

	_ = ch.CancelWithReply(reply)
}

const name = "forwarder"
