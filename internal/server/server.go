// Package server owns the listening socket and TLS setup for the daemon.
package server

import (
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"
)

type Server struct {
	handler http.Handler
	cert    *tls.Certificate

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
}

func New(handler http.Handler) *Server {
	return &Server{handler: handler}
}

// SetCertificate enables TLS with the given certificate.
func (s *Server) SetCertificate(cert tls.Certificate) {
	s.cert = &cert
}

// Listen serves HTTP (or HTTPS when a certificate is set) on the given port
// until Stop is called. Port "0" picks a free port, which Addr reports.
func (s *Server) Listen(port string) error {
	var listener net.Listener
	var err error

	if s.cert != nil {
		config := &tls.Config{Certificates: []tls.Certificate{*s.cert}}
		listener, err = tls.Listen("tcp", ":"+port, config)
	} else {
		listener, err = net.Listen("tcp", ":"+port)
	}
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.srv = srv
	s.mu.Unlock()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr reports the bound address, or empty before Listen has bound one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and releases in-flight connections.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}
