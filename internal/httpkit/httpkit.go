// Package httpkit builds the HTTP clients used to talk to model backends
// and decides when a failed call means the backend could not be reached.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nugget/datalookup/internal/buildinfo"
)

// ResponseHeaderTimeout bounds the wait for the first response byte. A
// local model reading a long prompt can take minutes to start answering.
const ResponseHeaderTimeout = 5 * time.Minute

const (
	dialTimeout         = 10 * time.Second
	tcpKeepAlive        = 30 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	idleConnTimeout     = 90 * time.Second
	maxIdleConnsPerHost = 4
)

// Option configures NewClient.
type Option func(*options)

type options struct {
	timeout   time.Duration
	userAgent string
	base      http.RoundTripper
}

// WithTimeout sets an overall deadline on every request. Zero, the
// default, leaves deadlines to the request context.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithUserAgent replaces the datalookup/<version> User-Agent.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithTransport replaces the pooled transport from NewTransport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.base = rt }
}

// NewTransport returns a pooled transport with conservative dial and
// handshake limits.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: tcpKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: ResponseHeaderTimeout,
		IdleConnTimeout:       idleConnTimeout,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient returns a client that stamps a User-Agent on every request
// and records a client span for it. Trace context is propagated to the
// backend.
func NewClient(opts ...Option) *http.Client {
	o := &options{userAgent: buildinfo.UserAgent()}
	for _, opt := range opts {
		opt(o)
	}
	base := o.base
	if base == nil {
		base = NewTransport()
	}

	rt := otelhttp.NewTransport(
		userAgent{next: base, ua: o.userAgent},
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return &http.Client{Timeout: o.timeout, Transport: rt}
}

// userAgent sets the User-Agent header unless the caller already did.
type userAgent struct {
	next http.RoundTripper
	ua   string
}

func (t userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.ua)
	return t.next.RoundTrip(r)
}

// refusedErrnos mean the connection attempt was answered with "no".
var refusedErrnos = []error{
	syscall.ECONNREFUSED,
	syscall.EHOSTUNREACH,
	syscall.ENETUNREACH,
}

// IsUnreachable reports whether err means no connection was ever
// established: refused, no route, failed name lookup or a failed dial.
// Timeouts and cancellation are not unreachable; the caller classifies
// those separately.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}
	for _, errno := range refusedErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial" && !opErr.Timeout()
}

// DrainAndClose discards up to limit bytes of rc and closes it so the
// connection can return to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody returns up to limit bytes of an error response, trimmed,
// and drains the rest.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	defer DrainAndClose(rc, 1024)
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return strings.TrimSpace(string(body))
}
