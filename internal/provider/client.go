// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/picommcapp/kiosk-supervisor/internal/config"
)

// statusResponse is the provider's stream-status payload. Only the
// playback URL field matters downstream; the rest is preserved for
// forward compatibility with richer provider responses without widening
// what this package depends on.
type statusResponse struct {
	PlaybackURL string `json:"playback_url"`
	Live        bool   `json:"live"`
}

// Client issues one authenticated GET per Fetch call to the provider's
// stream-status endpoint. It holds no mutable state between calls and
// performs no retries.
type Client struct {
	baseURL    string
	streamID   string
	token      string
	key        string
	secret     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client (tests inject one
// pointed at an httptest.Server or wrapped with a fault-injecting
// RoundTripper to exercise each Outcome Kind).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a Client from the provider credentials and the
// configured per-request timeout.
func NewClient(cfg config.ProviderConfig, requestTimeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:  cfg.BaseURL,
		streamID: cfg.StreamID,
		token:    cfg.Token,
		key:      cfg.Key,
		secret:   cfg.Secret,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Fetch issues a single authenticated GET to the provider's stream-status
// endpoint for the configured stream and classifies the result. It never
// returns an error: every failure mode is represented as an Outcome Kind
// so the health tracker receives strictly typed input rather than a
// catch-all error.
func (c *Client) Fetch(ctx context.Context) Outcome {
	start := time.Now()

	endpoint := fmt.Sprintf("%s/v1/streams/%s/status", c.baseURL, c.streamID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		// Malformed request construction (e.g. an invalid configured
		// base_url) is a transport-layer condition: the request never
		// left the process.
		return Outcome{Kind: KindTransport, TransportKind: TransportUnknown, Latency: time.Since(start)}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-API-Key", c.key)
	req.Header.Set("X-API-Secret", c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyRequestError(err, start)
	}
	defer func() { _ = resp.Body.Close() }()

	latency := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{Kind: KindHTTP, StatusCode: resp.StatusCode, Latency: latency}
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Outcome{Kind: KindMalformed, Latency: latency}
	}

	payload := Payload{}
	if body.PlaybackURL != "" {
		u := body.PlaybackURL
		payload.PlaybackURL = &u
	}

	return Outcome{Kind: KindOk, Payload: payload, Latency: latency}
}

// classifyRequestError maps the error returned by (*http.Client).Do into
// a Timeout or Transport{kind} outcome.
func classifyRequestError(err error, start time.Time) Outcome {
	latency := time.Since(start)

	if errors.Is(err, context.DeadlineExceeded) {
		return Outcome{Kind: KindTimeout, Latency: latency}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return Outcome{Kind: KindTimeout, Latency: latency}
		}

		var tlsErr *tls.CertificateVerificationError
		var dnsErr *net.DNSError
		switch {
		case errors.As(urlErr.Err, &tlsErr):
			return Outcome{Kind: KindTransport, TransportKind: TransportTLS, Latency: latency}
		case errors.As(urlErr.Err, &dnsErr):
			return Outcome{Kind: KindTransport, TransportKind: TransportDNS, Latency: latency}
		default:
			return Outcome{Kind: KindTransport, TransportKind: TransportConnection, Latency: latency}
		}
	}

	return Outcome{Kind: KindTransport, TransportKind: TransportUnknown, Latency: latency}
}
