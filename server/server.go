// Package server is the qavault backend: it verifies Google sign-ins, issues
// access tokens and serves the shared vault of questions and answers over a
// JSON HTTP API.
//
// Usage:
//
//	store, _ := sqlstore.New(ctx, "postgres", dsn)
//	s, err := server.New(server.WithVault(store))
//	if err != nil {
//		return err
//	}
//	s.Start()
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dpup/qavault/errors"
	"github.com/dpup/qavault/eventbus"
	"github.com/dpup/qavault/logging"
	"github.com/dpup/qavault/vault"
)

// Server serves the vault API.
type Server struct {
	host string
	port int

	// Context that is propagated to handlers. Carries the base logger.
	baseContext context.Context

	vault          vault.Store
	verifier       IdentityVerifier
	googleClientID string
	tokens         *tokenIssuer
	blocklist      Blocklist
	bus            eventbus.EventBus

	handler http.Handler

	mu         sync.Mutex
	httpServer *http.Server
}

// Handler returns the fully wrapped HTTP handler, for use in tests or when
// embedding the API in another server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serving requests. Blocks until Shutdown is called or the process
// receives SIGINT or SIGTERM.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapPrefix(err, "failed to listen", 0)
	}
	return s.Serve(ln)
}

// Serve requests arriving on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return s.baseContext
		},
	}
	srv := s.httpServer
	s.mu.Unlock()

	done := make(chan struct{})
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(stop)
	go func() {
		select {
		case sig := <-stop:
			logging.Infow(s.baseContext, "server: graceful shutdown triggered", "signal", sig.String())
			_ = s.Shutdown(context.Background())
		case <-done:
		}
	}()
	defer close(done)

	logging.Infow(s.baseContext, "server: listening", "addr", "http://"+ln.Addr().String())
	err := srv.Serve(ln)
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains connections with a 2s timeout and waits for pending events
// to be handled.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	if werr := s.bus.Wait(ctx); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		logging.Errorw(s.baseContext, "server: shutdown error", "error", err)
	} else {
		logging.Info(s.baseContext, "server: connections drained")
	}
	return err
}
