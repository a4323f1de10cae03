package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/paddles/pkg/config"
	"github.com/ethpandaops/paddles/pkg/runname"
	"github.com/ethpandaops/paddles/pkg/runstore"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	store      runstore.Store
	parser     *runname.Parser
	auth       *basicAuth
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return &server{
		log:    log.WithField("component", "api"),
		cfg:    cfg,
		parser: runname.NewParser(cfg.Parser.ExtraSuites...),
		done:   make(chan struct{}),
	}
}

// Start opens the store and starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	s.store = runstore.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	if s.cfg.API.Auth.Basic.Enabled {
		auth, err := newBasicAuth(s.cfg.API.Auth.Basic.Users, bcrypt.DefaultCost)
		if err != nil {
			return s.closeStore(fmt.Errorf("preparing basic auth: %w", err))
		}

		s.auth = auth

		s.log.WithField("users", len(s.cfg.API.Auth.Basic.Users)).
			Info("Basic auth enabled for write endpoints")
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.API.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.API.Server.Listen)
	if err != nil {
		return s.closeStore(
			fmt.Errorf("listening on %s: %w", s.cfg.API.Server.Listen, err),
		)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.API.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// closeStore releases the store after a failed Start and returns cause.
func (s *server) closeStore(cause error) error {
	if err := s.store.Stop(); err != nil {
		s.log.WithError(err).Warn("Failed to close store")
	}

	return cause
}

// Stop gracefully shuts down the HTTP server and closes the store. Calls
// after the first are no-ops.
func (s *server) Stop() error {
	var err error

	s.stopOnce.Do(func() {
		err = s.stop()
	})

	return err
}

func (s *server) stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
