/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/friendsincode/gclsync/internal/config"
	"github.com/friendsincode/gclsync/internal/db"
	"github.com/friendsincode/gclsync/internal/eventbus"
	"github.com/friendsincode/gclsync/internal/leadership"
	"github.com/friendsincode/gclsync/internal/recordlog"
	"github.com/friendsincode/gclsync/internal/refresh"
	"github.com/friendsincode/gclsync/internal/telemetry"
)

// Server bundles the refresh loop, its record stores and the inspection API.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db          *gorm.DB
	toolkit     *Toolkit
	bus         eventbus.Bus
	loop        *refresh.Loop
	leaderAware *refresh.LeaderAware

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. The refresh loop does
// not run until Start is called.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.MetricsMiddleware)

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	if err := s.initDependencies(); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.configureRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           otelhttp.NewHandler(router, "gclsync-api"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) initDependencies() error {
	toolkit, err := NewToolkit(s.cfg, nil, s.logger)
	if err != nil {
		return err
	}
	s.toolkit = toolkit

	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := db.Migrate(database); err != nil {
		return err
	}

	sinks := recordlog.Multi{recordlog.NewDB(database)}
	if s.cfg.CSVLogPath != "" {
		sinks = append(sinks, recordlog.NewCSV(s.cfg.CSVLogPath))
	}

	nodeID := s.cfg.InstanceID
	if nodeID == "" {
		nodeID = "gclsync"
	}
	s.bus = eventbus.New(s.cfg, nodeID, s.logger)
	s.DeferClose(s.bus.Close)

	s.loop, err = refresh.New(refresh.Deps{
		Strategy:  toolkit.Strategy,
		Deployer:  toolkit.Engine,
		Measurer:  toolkit.Prober,
		Topology:  toolkit.Topology,
		Sink:      sinks,
		Publisher: s.bus,
	}, LoopConfig(s.cfg, toolkit.Topology), s.logger)
	if err != nil {
		return err
	}

	if s.cfg.LeaderElectionEnabled {
		ec := leadership.DefaultConfig()
		ec.RedisAddr = s.cfg.RedisAddr
		ec.RedisPassword = s.cfg.RedisPassword
		ec.RedisDB = s.cfg.RedisDB
		if s.cfg.InstanceID != "" {
			ec.InstanceID = s.cfg.InstanceID
		}
		election, err := leadership.NewElection(ec, s.logger)
		if err != nil {
			return err
		}
		s.leaderAware = refresh.NewLeaderAware(s.loop, election, s.logger)
	}

	return nil
}

func (s *Server) configureRoutes() {
	api := NewAPI(s.loop, recordlog.NewDB(s.db), s.toolkit.Topology, s.logger)
	if s.leaderAware != nil {
		api.WithLeader(s.leaderAware.IsLeader)
	}
	api.Routes(s.router)
	s.router.Handle("/metrics", telemetry.Handler())
}

// HTTPServer exposes the configured HTTP server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Loop exposes the refresh loop.
func (s *Server) Loop() *refresh.Loop {
	return s.loop
}

// Start launches the refresh loop and DB connection sampling in the background.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.bgCancel = cancel

	if s.leaderAware != nil {
		if err := s.leaderAware.Start(ctx); err != nil {
			cancel()
			return err
		}
	} else {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("refresh loop exited")
			}
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()
	return nil
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	if s.leaderAware != nil {
		if err := s.leaderAware.Stop(); err != nil {
			s.logger.Error().Err(err).Msg("failed to stop leader election")
		}
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

// Close stops background work and releases resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeferClose registers fn to run on Close.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
