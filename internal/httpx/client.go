// Package httpx wraps net/http with the retry/backoff behavior the miner
// needs on top of every outbound request: transient network and 5xx
// failures are retried with exponential backoff, while an
// invalidateAfter deadline or a cancelled context abort the retry loop
// immediately.
package httpx

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"twitchdropsfarmer/internal/backoff"
	"twitchdropsfarmer/internal/model"

	"github.com/sirupsen/logrus"
)

// Client is a retrying HTTP client shared by the GraphQL layer and the
// auth sequence.
type Client struct {
	HTTP *http.Client
}

// New returns a Client with the timeout the teacher's GraphQL client uses
// and no proxy.
func New() *Client {
	return &Client{HTTP: &http.Client{Timeout: 30 * time.Second}}
}

// NewWithProxy returns a Client that routes every outbound request through
// proxyURL (any scheme net/http's ProxyURL understands: http, https,
// socks5). An empty proxyURL behaves exactly like New().
func NewWithProxy(proxyURL string) (*Client, error) {
	if proxyURL == "" {
		return New(), nil
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("httpx: invalid proxy url: %w", err)
	}
	return &Client{HTTP: &http.Client{
		Timeout:   30 * time.Second,
		Transport: &http.Transport{Proxy: http.ProxyURL(parsed)},
	}}, nil
}

// isFatalTLSError reports whether err is a certificate verification
// failure. Twitch's GQL/pub/sub endpoints never rotate to an untrusted
// certificate in normal operation, so one of these is a local trust-store
// or MITM problem that a retry loop cannot fix — it should surface
// immediately instead of being retried like a transient network error.
func isFatalTLSError(err error) bool {
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var certErr x509.CertificateInvalidError
	return errors.As(err, &unknownAuth) || errors.As(err, &hostErr) || errors.As(err, &certErr)
}

// Do issues method/url with the given body and headers, retrying on
// network errors and 5xx responses until it succeeds, the context is
// cancelled, or invalidateAfter elapses. A zero invalidateAfter means no
// deadline beyond the context.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, headers map[string]string, invalidateAfter time.Time) (*http.Response, error) {
	b := backoff.New(model.BackoffInitial, model.BackoffMax)

	for {
		if !invalidateAfter.IsZero() && time.Now().After(invalidateAfter) {
			return nil, model.ErrRequestInvalid
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.HTTP.Do(req)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if err == nil {
			resp.Body.Close()
		}
		if err != nil && isFatalTLSError(err) {
			logrus.WithError(err).WithField("url", url).Warn("request failed TLS certificate verification, not retrying")
			return nil, err
		}
		if ctx.Err() != nil {
			if err != nil {
				return nil, err
			}
			return nil, ctx.Err()
		}

		delay := b.Next()
		logrus.WithError(err).WithField("url", url).Debugf("request failed, retrying in %s", delay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// RawDo issues a caller-built request as-is, with no retry or backoff —
// used for the playlist/segment fetches the watch beacon makes, where a
// stale signed URL should fail fast rather than retry against it.
func (c *Client) RawDo(req *http.Request) (*http.Response, error) {
	return c.HTTP.Do(req)
}

// DecodeJSON reads resp's body into v, transparently un-gzipping when the
// server compressed it. The response body is always closed.
func DecodeJSON(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return err
		}
		defer gz.Close()
		reader = gz
	}
	return json.NewDecoder(reader).Decode(v)
}
