package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"
)

// Options configures the HTTP server.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	TLSCertFile  string
	TLSKeyFile   string
	// TLS, when set, is used instead of loading TLSCertFile/TLSKeyFile once.
	TLS *tls.Config
}

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	opts       Options
}

// New creates a new HTTP server.
func New(opts Options, handler http.Handler) *Server {
	idle := opts.IdleTimeout
	if idle == 0 {
		idle = 2 * time.Minute
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       opts.ReadTimeout,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       idle,
			TLSConfig:         opts.TLS,
		},
		opts: opts,
	}
}

// TLSEnabled reports whether the server serves HTTPS.
func (s *Server) TLSEnabled() bool {
	return s.opts.TLS != nil || (s.opts.TLSCertFile != "" && s.opts.TLSKeyFile != "")
}

// ListenAndServe starts the server on its configured address, with TLS when
// a certificate is configured. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. It returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	var err error
	switch {
	case s.opts.TLS != nil:
		err = s.httpServer.ServeTLS(ln, "", "")
	case s.TLSEnabled():
		err = s.httpServer.ServeTLS(ln, s.opts.TLSCertFile, s.opts.TLSKeyFile)
	default:
		err = s.httpServer.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
