// Package server implements the staticpack development server.
//
// Every request for a page renders the page bundle on demand. Browsers
// asking for text/html get the document with the payload injected; any
// other client gets the text/x-component payload. The chosen output is
// buffered in full before the response headers are written so a failed
// render never leaves a partial body.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/conneroisu/staticpack/internal/config"
	"github.com/conneroisu/staticpack/internal/logging"
	"github.com/conneroisu/staticpack/internal/middleware"
	"github.com/conneroisu/staticpack/internal/packager"
	"github.com/conneroisu/staticpack/internal/websocket"
)

// Options configures a Server. Config and Packager are required.
type Options struct {
	Config   *config.Config
	Packager *packager.Packager
	// Fs holds the bundle graph and the dist dir; nil uses the OS.
	Fs     afero.Fs
	Logger logging.Logger
	// Watch receives the files module resolution depended on after each
	// render, so they can be watched for changes.
	Watch func(files []string)
}

// Server serves page bundles with live reload.
type Server struct {
	config   *config.Config
	fs       afero.Fs
	packager *packager.Packager
	hub      *websocket.Hub
	static   http.Handler
	watch    func(files []string)
	logger   logging.Logger

	httpServer   *http.Server
	serverMutex  sync.RWMutex
	shutdownOnce sync.Once
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Config == nil || opts.Packager == nil {
		return nil, errors.New("server requires a config and a packager")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	dist := afero.NewHttpFs(afero.NewBasePathFs(opts.Fs, opts.Config.DistPath()))
	return &Server{
		config:   opts.Config,
		fs:       opts.Fs,
		packager: opts.Packager,
		hub:      websocket.NewHub(opts.Config.Server.AllowedOrigins, opts.Logger),
		static:   http.FileServer(dist.Dir("/")),
		watch:    opts.Watch,
		logger:   opts.Logger.WithComponent("server"),
	}, nil
}

// Handler returns the server's routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", s.hub)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handlePage)

	return middleware.NewMiddlewareChain(s.config, s.logger).Apply(mux)
}

// Hub returns the live reload hub.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}

// Start listens on the configured address until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.serverMutex.Unlock()

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	s.logger.Info(ctx, "dev server listening", "addr", "http://"+s.config.Addr())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Reload rereads the bundle graph, starts a new build and tells connected
// browsers to reload. A graph that fails to load is reported to the
// browsers and the previous build keeps serving.
func (s *Server) Reload(ctx context.Context) error {
	perf := logging.StartOperation(s.logger, "reload")

	if err := s.packager.Reload(s.fs, s.config.GraphPath()); err != nil {
		perf.EndWithError(ctx, err)
		s.hub.BroadcastMessage(websocket.UpdateMessage{Type: websocket.MessageError, Content: err.Error()})
		return err
	}

	perf.End(ctx)
	s.hub.Reload()
	return nil
}

// Shutdown closes every websocket client and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		_ = s.hub.Shutdown(ctx)

		s.serverMutex.RLock()
		srv := s.httpServer
		s.serverMutex.RUnlock()
		if srv != nil {
			shutdownErr = srv.Shutdown(ctx)
		}
		s.logger.Info(ctx, "dev server stopped")
	})
	return shutdownErr
}
