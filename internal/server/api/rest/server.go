package rest

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"
)

// Options configure the HTTP listener.
type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server owns the HTTP listener for the REST surface.
type Server struct {
	opts       Options
	httpServer *http.Server
}

func NewServer(opts Options, handler *Handler) *Server {
	return &Server{
		opts: opts,
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      handler.Routes(),
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
	}
}

// Start blocks serving requests until Stop is called or the listener fails.
func (s *Server) Start() error {
	log.Printf("HTTP server listening on %s", s.opts.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests up to the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}
