// Package server runs bedsync's HTTP listener.
package server

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Server represents an HTTP server
type Server struct {
	srv     *http.Server
	tlsCert string
	tlsKey  string
	addr    string
	errCh   chan error
}

// New creates a new server instance. port may be "0" for an ephemeral port.
func New(handler http.Handler, port, tlsCert, tlsKey string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			// The callback exchanges a code and subscribes twice upstream.
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		tlsCert: tlsCert,
		tlsKey:  tlsKey,
		errCh:   make(chan error, 1),
	}
}

// Start binds the listener, so address errors are returned here, then
// serves in the background. Later serve errors arrive on Errors.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	s.addr = listener.Addr().String()

	if s.tlsCert != "" && s.tlsKey != "" {
		s.srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		go s.serve(func() error { return s.srv.ServeTLS(listener, s.tlsCert, s.tlsKey) })
		return nil
	}

	go s.serve(func() error { return s.srv.Serve(listener) })
	return nil
}

func (s *Server) serve(fn func() error) {
	if err := fn(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		s.errCh <- err
	}
	close(s.errCh)
}

// Errors delivers a fatal serve error, and is closed when serving stops.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
