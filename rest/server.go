package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server serves a handler until its context is cancelled.
type Server struct {
	log             *zap.SugaredLogger
	addr            string
	server          *http.Server
	shutdownTimeout time.Duration
}

func NewServer(log *zap.SugaredLogger, addr string, handler http.Handler) *Server {
	return &Server{
		log:  log,
		addr: addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: 10 * time.Second,
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("unable to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	shutdownDone := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.log.Infow("shutting down health check server", "address", ln.Addr().String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		shutdownDone <- s.server.Shutdown(shutdownCtx)
	}()

	s.log.Infow("health check server listening", "address", ln.Addr().String())
	err := s.server.Serve(ln)
	if !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health check server: %w", err)
	}
	return <-shutdownDone
}
