package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
	"go.uber.org/multierr"
)

// Server wraps an *http.Server to provide start/shutdown lifecycle.
type Server struct {
	httpServer *http.Server
	listener   net.Listener

	// ProxyProtocol accepts a PROXY protocol v1/v2 header on each connection
	// so RemoteAddr reflects the client behind an L4 balancer.
	ProxyProtocol bool
	// ErrorLog receives connection level errors; nil uses the log package default.
	ErrorLog *log.Logger
	// WriteTimeout overrides the default; zero disables it. Proxied responses
	// and websocket streams can outlive any fixed write timeout.
	WriteTimeout *time.Duration
}

// Extracted constants to avoid magic numbers and centralize tuning knobs.
const (
	maxHeaderBytes    = 1 << 20 // 1 MB
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// newHTTPServer builds a configured *http.Server for the given address and handler.
func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		MaxHeaderBytes:    maxHeaderBytes,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}

// normalizeAddr ensures the provided port is a valid address (accepts "8080",
// ":8080" or "host:8080").
func normalizeAddr(port string) string {
	if port == "" {
		return ""
	}
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

// Listen binds the port so startup failures surface before serving begins.
func (s *Server) Listen(port string, handler http.Handler) error {
	addr := normalizeAddr(port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if s.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln, ReadHeaderTimeout: readHeaderTimeout}
	}

	s.listener = ln
	s.httpServer = newHTTPServer(addr, handler)
	s.httpServer.ErrorLog = s.ErrorLog
	if s.WriteTimeout != nil {
		s.httpServer.WriteTimeout = *s.WriteTimeout
	}
	return nil
}

// Addr reports the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve blocks until the server is shut down. A graceful shutdown returns nil.
func (s *Server) Serve() error {
	if s.httpServer == nil {
		return errors.New("server: Serve called before Listen")
	}
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, allowing in-flight requests to complete.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return multierr.Append(s.httpServer.Shutdown(ctx), s.closeListener())
}

// Close stops the server immediately. It also releases a port bound by
// Listen when Serve never ran.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	return multierr.Append(s.httpServer.Close(), s.closeListener())
}

// closeListener is a no-op once http.Server has closed the listener itself.
func (s *Server) closeListener() error {
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
