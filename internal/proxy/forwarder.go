// Package proxy relays inbound HTTP requests to the configured upstream target
// and publishes a log event describing each one.
package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"logging_proxy/internal/logger"
	"logging_proxy/internal/models"
	"logging_proxy/internal/service"

	"github.com/gin-gonic/gin"
)

// Publisher receives the log events produced by the forwarder.
type Publisher interface {
	Publish(ev models.LogEvent)
}

// UpstreamMetrics counts failed round trips. *metrics.Metrics implements it.
type UpstreamMetrics interface {
	UpstreamError()
}

// Config describes the single upstream target.
type Config struct {
	Target            *url.URL
	TargetDescription string
	PreserveHost      bool
	MaxBodyCapture    int64

	InsecureSkipVerify    bool
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration

	// Transport overrides the transport built from the fields above.
	Transport http.RoundTripper
}

// Forwarder is an http.Handler that relays every request to the target and,
// off the response path, decodes, formats and publishes a log event for it.
type Forwarder struct {
	cfg     Config
	events  Publisher
	log     *logger.Logger
	metrics UpstreamMetrics
	proxy   *httputil.ReverseProxy
}

type requestInfoKey struct{}

// DefaultMaxBodyCapture bounds the bytes kept for decoding when Config leaves it unset.
const DefaultMaxBodyCapture = 1 << 20

// NewForwarder builds a forwarder. log and metrics may be nil.
func NewForwarder(cfg Config, events Publisher, log *logger.Logger, metrics UpstreamMetrics) *Forwarder {
	if cfg.TargetDescription == "" {
		cfg.TargetDescription = cfg.Target.String()
	}
	if cfg.MaxBodyCapture <= 0 {
		cfg.MaxBodyCapture = DefaultMaxBodyCapture
	}
	if log == nil {
		log = logger.Nop()
	}
	f := &Forwarder{cfg: cfg, events: events, log: log, metrics: metrics}

	transport := cfg.Transport
	if transport == nil {
		transport = newTransport(cfg)
	}
	f.proxy = &httputil.ReverseProxy{
		Rewrite:      f.rewrite,
		Transport:    transport,
		ErrorHandler: f.handleError,
		ErrorLog:     log.StdLog(),
	}
	return f
}

func newTransport(cfg Config) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.DialTimeout > 0 {
		t.DialContext = (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
	}
	t.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
	if cfg.InsecureSkipVerify {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed targets
	}
	return t
}

// Handle adapts the forwarder to gin. gin buffers WriteHeader, and a NoRoute
// handler that leaves a 404 unwritten gets gin's own 404 page, so the relayed
// header is flushed here.
func (f *Forwarder) Handle(c *gin.Context) {
	f.ServeHTTP(c.Writer, c.Request)
	if !c.Writer.Written() {
		c.Writer.WriteHeaderNow()
	}
}

// ServeHTTP relays r to the target. Exactly one info event is published per
// request; an upstream failure additionally publishes one error event.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	info := service.RequestInfo{
		Method:      r.Method,
		Host:        r.Host,
		Path:        r.URL.RequestURI(),
		ContentType: r.Header.Get("Content-Type"),
	}
	r = r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info))

	done := func(raw []byte, complete bool) {
		go f.publishInfo(info, raw, complete)
	}

	if !hasBody(r) {
		done(nil, false)
		f.proxy.ServeHTTP(w, r)
		return
	}

	body := newCaptureBody(r.Body, f.cfg.MaxBodyCapture, done)
	r.Body = body
	// The body is decoded even when the upstream never read it.
	defer body.finish()

	f.proxy.ServeHTTP(w, r)
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}

// publishInfo runs on its own goroutine.
func (f *Forwarder) publishInfo(info service.RequestInfo, raw []byte, complete bool) {
	var body any
	if complete {
		if v, ok := service.DecodeBody(info.ContentType, raw); ok {
			body = v
		}
	}
	f.events.Publish(service.FormatEvent(info, f.cfg.TargetDescription, body))
}

func (f *Forwarder) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(f.cfg.Target)
	if f.cfg.PreserveHost {
		pr.Out.Host = pr.In.Host
	}
	// Rewrite strips inbound forwarding headers; keep the chain so
	// SetXForwarded appends the client address to it.
	if prior, ok := pr.In.Header["X-Forwarded-For"]; ok {
		pr.Out.Header["X-Forwarded-For"] = prior
	}
	pr.SetXForwarded()
}

func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	info, _ := r.Context().Value(requestInfoKey{}).(service.RequestInfo)

	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// the client went away; nothing reached a failing upstream
		f.log.Debugw("proxy_client_canceled", "method", info.Method, "path", info.Path)
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	status := http.StatusBadGateway
	if isTimeout(err) {
		status = http.StatusGatewayTimeout
	}

	f.log.Warnw("proxy_upstream_failed",
		"method", info.Method,
		"host", info.Host,
		"path", info.Path,
		"target", f.cfg.TargetDescription,
		"status", status,
		"err", err,
	)
	if f.metrics != nil {
		f.metrics.UpstreamError()
	}
	f.events.Publish(service.FormatError(info, f.cfg.TargetDescription, err))

	WriteError(w, status)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
