// Package server exposes the compiler and the machine over Connect
// (HTTP/JSON), with a gRPC health endpoint and an LSP for editors.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/rbvm/vm"
)

var log = commonlog.GetLogger("rbvm.server")

// RbvmServer serves the compile, run and session procedures on one mux.
type RbvmServer struct {
	cache    *Cache
	sessions *SessionStore
	mux      *http.ServeMux
	http     *http.Server

	stopSweeper func()
}

// ServerOption configures an RbvmServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	cachePath  string
	sessionTTL time.Duration
	runTimeout time.Duration
	vmOpts     []vm.Option
}

// WithCache sets the SQLite artifact cache path. The default is in-memory.
func WithCache(path string) ServerOption {
	return func(c *serverConfig) { c.cachePath = path }
}

// WithSessionTTL sets how long an idle session survives.
func WithSessionTTL(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.sessionTTL = d }
}

// WithRunTimeout bounds the wall-clock time of one Run and the wait for
// one line of session output.
func WithRunTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.runTimeout = d }
}

// WithVMOptions sets the options every machine is built with.
func WithVMOptions(opts ...vm.Option) ServerOption {
	return func(c *serverConfig) { c.vmOpts = append(c.vmOpts, opts...) }
}

// New creates an RbvmServer.
func New(opts ...ServerOption) (*RbvmServer, error) {
	cfg := &serverConfig{
		sessionTTL: 10 * time.Minute,
		runTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	cache, err := OpenCache(cfg.cachePath)
	if err != nil {
		return nil, err
	}
	sessions := NewSessionStore(cfg.vmOpts...)

	s := &RbvmServer{
		cache:    cache,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}

	compileSvc := NewCompileService(cache)
	runSvc := NewRunService(cfg.runTimeout, cfg.vmOpts...)
	sessionSvc := NewSessionService(sessions, cfg.runTimeout)

	codec := connect.WithCodec(jsonCodec{})
	s.mux.Handle(CompileProcedure, connect.NewUnaryHandler(CompileProcedure, compileSvc.Compile, codec))
	s.mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, runSvc.Run, codec))
	s.mux.Handle(StartProcedure, connect.NewUnaryHandler(StartProcedure, sessionSvc.Start, codec))
	s.mux.Handle(CommunicateProcedure, connect.NewUnaryHandler(CommunicateProcedure, sessionSvc.Communicate, codec))
	s.mux.Handle(StopProcedure, connect.NewUnaryHandler(StopProcedure, sessionSvc.Stop, codec))

	if cfg.sessionTTL > 0 {
		interval := max(cfg.sessionTTL/2, time.Second)
		s.stopSweeper = sessions.StartSweeper(interval, cfg.sessionTTL)
	}

	return s, nil
}

// Handler returns the HTTP handler serving every procedure.
func (s *RbvmServer) Handler() http.Handler { return s.mux }

// Sessions returns the live session store.
func (s *RbvmServer) Sessions() *SessionStore { return s.sessions }

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *RbvmServer) ListenAndServe(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.mux}
	log.Noticef("listening on %s", addr)
	log.Infof("Connect (HTTP/JSON): http://%s%s", addr, CompileProcedure)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts down the server, its sessions and its cache.
func (s *RbvmServer) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			log.Warningf("shutdown: %s", err)
		}
	}
	s.sessions.Close()
	if err := s.cache.Close(); err != nil {
		log.Warningf("cache: %s", err)
	}
}
