package protect

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Transport constants.
const (
	// apiKeyHeader carries the static API token on every request and
	// stream upgrade.
	apiKeyHeader = "X-API-KEY"

	// streamHandshakeTimeout bounds the WebSocket upgrade handshake.
	streamHandshakeTimeout = 10 * time.Second

	// maxErrorBodyBytes limits how much of an error response body is
	// echoed into error messages.
	maxErrorBodyBytes = 256
)

// Credential identifies one controller and the API token used to reach
// it. Immutable after construction; owned exclusively by the Transport.
type Credential struct {
	// Host is the controller base URL including scheme,
	// e.g. "https://192.168.1.1".
	Host string

	// APIToken is the static integration API key.
	APIToken string

	// VerifyTLS controls certificate verification. Controllers commonly
	// serve self-signed certificates, so false is a supported mode.
	VerifyTLS bool
}

// Transport wraps outbound HTTP requests and WebSocket upgrades with the
// controller credential and TLS policy. It carries no retry logic;
// retries are the caller's concern.
type Transport struct {
	cred   Credential
	http   *http.Client
	dialer *websocket.Dialer
}

// NewTransport builds a transport for the credential. The host must
// include an http or https scheme and the token must be non-empty;
// violations fail with ErrValidation before any network use.
func NewTransport(cred Credential, requestTimeout time.Duration) (*Transport, error) {
	u, err := url.Parse(cred.Host)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: host must be a URL like https://192.168.1.1", ErrValidation)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: host scheme must be http or https, got %q", ErrValidation, u.Scheme)
	}
	if cred.APIToken == "" {
		return nil, fmt.Errorf("%w: api token is required", ErrValidation)
	}

	tlsCfg := &tls.Config{InsecureSkipVerify: !cred.VerifyTLS} //nolint:gosec // self-signed controllers are the norm

	return &Transport{
		cred: cred,
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: tlsCfg,
			},
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: streamHandshakeTimeout,
			TLSClientConfig:  tlsCfg,
		},
	}, nil
}

// Host returns the configured controller base URL.
func (t *Transport) Host() string {
	return t.cred.Host
}

// Request performs one authenticated HTTP call against the controller
// and returns the response body. A 204 response is success with an empty
// body. Failures map onto the package error taxonomy: 401/403 to
// ErrAuth, transit and 5xx failures to ErrNetwork, other non-2xx
// statuses to ErrProtocol.
func (t *Transport) Request(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.cred.Host+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: build request for %s: %v", ErrValidation, path, err)
	}
	req.Header.Set(apiKeyHeader, t.cred.APIToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response for %s: %v", ErrNetwork, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, data)
	}

	return data, nil
}

// OpenStream upgrades an authenticated WebSocket connection to the given
// path, converting the host scheme to ws or wss. The caller owns the
// returned connection. Handshake rejections map like Request failures:
// 401/403 to ErrAuth, everything else to ErrNetwork.
func (t *Transport) OpenStream(ctx context.Context, path string) (*websocket.Conn, error) {
	streamURL, err := t.streamURL(path)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set(apiKeyHeader, t.cred.APIToken)

	conn, resp, err := t.dialer.DialContext(ctx, streamURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, statusError(resp.StatusCode, nil)
			}
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNetwork, path, err)
	}

	return conn, nil
}

// streamURL rewrites the configured host URL onto the ws scheme family
// for the given path.
func (t *Transport) streamURL(path string) (string, error) {
	u, err := url.Parse(t.cred.Host)
	if err != nil {
		return "", fmt.Errorf("%w: parse host: %v", ErrValidation, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = path
	return u.String(), nil
}

// statusError maps a non-2xx controller status onto the error taxonomy.
func statusError(status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: invalid API token", ErrAuth)
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: insufficient permissions", ErrAuth)
	case status >= 500:
		return fmt.Errorf("%w: controller returned status %d", ErrNetwork, status)
	default:
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}
		return fmt.Errorf("%w: unexpected status %d: %s", ErrProtocol, status, bytes.TrimSpace(body))
	}
}
