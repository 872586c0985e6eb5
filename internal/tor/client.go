package tor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"github.com/nao1215/torcrawl/internal/config"
)

// checkProxyTimeout is the timeout for checking if a SOCKS proxy is available.
// We use a short timeout here because this is just a connectivity check,
// not an actual request through Tor.
const checkProxyTimeout = 2 * time.Second

// SiteSettings returns the request settings for a destination host.
// config.File.GetSiteConfig satisfies it.
type SiteSettings func(host string) config.SiteConfig

// Client fetches URLs through one SOCKS5 proxy. Each transfer slot owns one
// Client, so every request a slot makes leaves through the same backend.
//
// Design decision: We speak SOCKS5 to the backend through x/net/proxy instead
// of tornago's client. tornago's client wraps requests in its own retry
// policy, and transfers here must fail exactly once with a classified error.
type Client struct {
	// proxyAddress is the SOCKS5 proxy address in "host:port" format.
	proxyAddress string

	// dialer is the SOCKS5 dialer for this proxy.
	dialer proxy.ContextDialer

	// connectTimeout bounds the TCP connect to the proxy plus the SOCKS
	// handshake for one connection.
	connectTimeout time.Duration

	// timeout bounds a whole request including reading the body.
	timeout time.Duration

	// maxRedirects is the number of redirects followed before failing.
	maxRedirects int

	// userAgent is sent unless a site setting overrides it.
	userAgent string

	// insecureTLS disables certificate verification.
	insecureTLS bool

	// sites supplies per-host cookie, headers and user agent.
	sites SiteSettings

	// httpClient is built once and reused for every transfer of the slot.
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithConnectTimeout sets the proxy connect plus handshake timeout.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithTimeout sets the total per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRedirects sets how many redirects are followed.
func WithMaxRedirects(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRedirects = n
		}
	}
}

// WithUserAgent sets the default User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithInsecureTLS disables TLS certificate verification.
func WithInsecureTLS(insecure bool) ClientOption {
	return func(c *Client) {
		c.insecureTLS = insecure
	}
}

// WithSiteSettings sets the per-host request settings lookup.
func WithSiteSettings(fn SiteSettings) ClientOption {
	return func(c *Client) {
		c.sites = fn
	}
}

// NewClient creates a client that routes through the SOCKS5 proxy at
// proxyAddress ("host:port", e.g. "127.0.0.1:8000").
//
// This function validates the proxy address format but does not verify
// that the proxy is actually running. Call CheckConnection() to verify.
func NewClient(proxyAddress string, opts ...ClientOption) (*Client, error) {
	if !isValidProxyAddress(proxyAddress) {
		return nil, ErrInvalidProxyAddress
	}

	// Tor's SOCKS port does not require authentication.
	d, err := proxy.SOCKS5("tcp", proxyAddress, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	ctxDialer, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("SOCKS5 dialer does not support contexts")
	}

	c := &Client{
		proxyAddress:   proxyAddress,
		dialer:         ctxDialer,
		connectTimeout: config.DefaultConnectTimeout,
		timeout:        config.DefaultTransferTimeout,
		maxRedirects:   config.DefaultMaxRedirects,
		userAgent:      config.DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient = c.newHTTPClient()

	return c, nil
}

// isValidProxyAddress checks if the address is in valid "host:port" format.
func isValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// DialError is returned when a connection through the proxy could not be
// established (proxy unreachable, handshake failure or CONNECT refused).
type DialError struct {
	Proxy string
	Addr  string
	Err   error
}

// Error implements error.
func (e *DialError) Error() string {
	return fmt.Sprintf("dial %s via %s: %v", e.Addr, e.Proxy, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DialError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the dial failed on the connect timeout.
func (e *DialError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// DialContext connects to address through the proxy. The connect timeout
// covers the TCP connection to the proxy and the SOCKS5 handshake.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(dialCtx, network, address)
	if err != nil {
		return nil, &DialError{Proxy: c.proxyAddress, Addr: address, Err: err}
	}
	return conn, nil
}

// newHTTPClient builds the slot's HTTP client.
//
// Design decisions:
//   - No cookie jar: tasks sharing a slot must not share sessions. Cookies
//     come only from site settings.
//   - The redirect limit is an error, not http.ErrUseLastResponse, so a
//     redirect loop is recorded as a failed transfer.
//   - Idle connections are kept per slot because consecutive tasks on the
//     same slot often hit the same host through the same circuit.
func (c *Client) newHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: c.DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.insecureTLS, //nolint:gosec // Opt-in via --insecure
		},
		TLSHandshakeTimeout: c.connectTimeout,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
		// Disable compression to mitigate CRIME/BREACH-style side channels and
		// to store bodies byte-for-byte as served.
		DisableCompression: true,
	}

	return &http.Client{
		Transport: &headerInjectingTransport{
			base:      transport,
			userAgent: c.userAgent,
			sites:     c.sites,
		},
		Timeout: c.timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) > c.maxRedirects {
				return fmt.Errorf("%w: more than %d redirects", ErrRedirectLimitExceeded, c.maxRedirects)
			}
			return nil
		},
	}
}

// Get issues a GET request for rawURL through the proxy. The caller must
// close the response body.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.httpClient.Do(req)
}

// HTTPClient returns the slot's HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// ProxyAddress returns the configured proxy address.
func (c *Client) ProxyAddress() string {
	return c.proxyAddress
}

// CloseIdleConnections closes pooled connections held by the client.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// headerInjectingTransport wraps an http.RoundTripper to inject the default
// User-Agent and per-host cookies and headers into every request, including
// each hop of a redirect chain.
type headerInjectingTransport struct {
	base      http.RoundTripper
	userAgent string
	sites     SiteSettings
}

// RoundTrip implements http.RoundTripper.
func (t *headerInjectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original
	clone := req.Clone(req.Context())

	var site config.SiteConfig
	if t.sites != nil {
		site = t.sites(clone.URL.Hostname())
	}

	if ua := site.UserAgent; ua != "" {
		clone.Header.Set("User-Agent", ua)
	} else if t.userAgent != "" && clone.Header.Get("User-Agent") == "" {
		clone.Header.Set("User-Agent", t.userAgent)
	}

	if site.Cookie != "" {
		if existing := clone.Header.Get("Cookie"); existing != "" {
			clone.Header.Set("Cookie", existing+"; "+site.Cookie)
		} else {
			clone.Header.Set("Cookie", site.Cookie)
		}
	}

	for key, value := range site.Headers {
		clone.Header.Set(key, value)
	}

	return t.base.RoundTrip(clone)
}

// SOCKS5 protocol constants
const (
	socks5Version       = 0x05
	socks5AuthNone      = 0x00
	socks5AuthNoAccept  = 0xFF
	socks5CmdConnect    = 0x01
	socks5AddrTypeDomID = 0x03

	// socks5ProbeHost is a synthetic .onion address used for SOCKS5 verification.
	// We only need the proxy to answer the CONNECT request, not to succeed.
	socks5ProbeHost = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.onion"
)

// CheckConnection verifies that the proxy is running and speaks SOCKS5.
//
// The check performs a SOCKS5 handshake without authentication followed by a
// CONNECT request for a synthetic .onion name. Any well-formed CONNECT reply,
// success or failure, means the proxy processed the request.
func (c *Client) CheckConnection(ctx context.Context) ProxyStatus {
	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.proxyAddress)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(checkProxyTimeout)); err != nil {
		return ProxyStatusCannotConnect
	}

	// Version negotiation: offer "no authentication" only.
	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5AuthNone}); err != nil {
		return ProxyStatusCannotConnect
	}

	authResp := make([]byte, 2)
	if _, err := io.ReadFull(conn, authResp); err != nil {
		if isTimeout(err) {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}
	if authResp[0] != socks5Version || authResp[1] == socks5AuthNoAccept || authResp[1] != socks5AuthNone {
		return ProxyStatusWrongType
	}

	// CONNECT: version + cmd + reserved + addr type + len + addr + port
	connectReq := []byte{
		socks5Version,
		socks5CmdConnect,
		0x00,
		socks5AddrTypeDomID,
		byte(len(socks5ProbeHost)),
	}
	connectReq = append(connectReq, socks5ProbeHost...)
	connectReq = append(connectReq, 0x00, 80)

	if _, err := conn.Write(connectReq); err != nil {
		return ProxyStatusCannotConnect
	}

	connectResp := make([]byte, 4)
	if _, err := io.ReadFull(conn, connectResp); err != nil {
		if isTimeout(err) {
			return ProxyStatusTimeout
		}
		return ProxyStatusWrongType
	}
	if connectResp[0] != socks5Version {
		return ProxyStatusWrongType
	}

	return ProxyStatusOK
}

// isTimeout reports whether err is a deadline expiry.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
