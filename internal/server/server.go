// Package server assembles the catwatch daemon.
//
// The server owns every long-lived component: storage, the sample source,
// the ingestion loop, the broadcaster, the optional Kafka sink and the HTTP
// surface. Run starts them in dependency order and tears them down in
// reverse when the context ends.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	defaults "github.com/xtxerr/catwatch/config"
	"github.com/xtxerr/catwatch/internal/api"
	"github.com/xtxerr/catwatch/internal/broadcast"
	"github.com/xtxerr/catwatch/internal/config"
	"github.com/xtxerr/catwatch/internal/derive"
	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/ingest"
	"github.com/xtxerr/catwatch/internal/logging"
	"github.com/xtxerr/catwatch/internal/metrics"
	"github.com/xtxerr/catwatch/internal/sink"
	"github.com/xtxerr/catwatch/internal/source"
	"github.com/xtxerr/catwatch/internal/stats"
	"github.com/xtxerr/catwatch/internal/storage"
)

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Config is the daemon configuration (required).
	Config *config.Config

	// Source replaces the configured source when set.
	Source source.Source

	// Clock stamps readings. Defaults to time.Now.
	Clock func() time.Time
}

// =============================================================================
// Server
// =============================================================================

// Server is the catwatch daemon.
type Server struct {
	cfg *config.Config
	log *slog.Logger

	storage  *storage.Service
	src      source.Source
	bcast    *broadcast.Broadcaster
	loop     *ingest.Loop
	api      *api.API
	kafka    *sink.Kafka
	metrics  *metrics.Registry
	http     *http.Server
	listener net.Listener
	ready    chan struct{}
}

// New builds all components. Nothing runs until Run.
func New(c *Config) (*Server, error) {
	cfg := c.Config
	if cfg == nil {
		return nil, fmt.Errorf("server config: %w", errors.ErrInvalidConfig)
	}
	log := logging.Component("server")

	profile, err := derive.Lookup(cfg, cfg.Profile)
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("%w: timezone: %v", errors.ErrInvalidConfig, err)
	}

	store, err := storage.NewService(cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	src := c.Source
	if src == nil {
		if src, err = source.New(cfg.Source, cfg.Profile); err != nil {
			store.Close()
			return nil, fmt.Errorf("open source: %w", err)
		}
	}

	bcast := broadcast.New(cfg.Broadcast.QueueSize)

	health := ingest.NewHealth(cfg.Health)
	health.SetOnLevelChange(func(old, new ingest.Level) {
		if new > old {
			log.Warn("store health degraded", "from", old.String(), "to", new.String())
		} else {
			log.Info("store health recovered", "from", old.String(), "to", new.String())
		}
	})

	loop := ingest.New(src, derive.NewEngine(profile), store.Store(), bcast, ingest.Options{
		Health: health,
		Clock:  c.Clock,
	})

	s := &Server{
		cfg:     cfg,
		log:     log,
		storage: store,
		src:     src,
		bcast:   bcast,
		loop:    loop,
		ready:   make(chan struct{}),
	}

	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
		if err := s.registerMetrics(); err != nil {
			s.closeComponents()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	if cfg.Kafka.Enabled {
		s.kafka = sink.NewKafka(cfg.Kafka, bcast)
		if s.metrics != nil {
			if err := s.metrics.RegisterKafka(s.kafka); err != nil {
				s.closeComponents()
				return nil, fmt.Errorf("register metrics: %w", err)
			}
		}
	}

	deps := api.Deps{
		Store:       store.Store(),
		Stats:       stats.NewEngine(store.Store(), loc),
		Broadcaster: bcast,
		Loop:        loop,
		Metrics:     s.metrics,
		Profile:     cfg.Profile,
		Config:      cfg.HTTP,
		Clock:       c.Clock,
	}
	if cfg.Archive.Enabled {
		deps.Archive = store
	}
	s.api = api.New(deps)

	s.http = &http.Server{
		Handler:      s.api.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return s, nil
}

func (s *Server) registerMetrics() error {
	if err := s.metrics.RegisterIngest(s.loop); err != nil {
		return err
	}
	if err := s.metrics.RegisterStore(s.storage.Store()); err != nil {
		return err
	}
	if err := s.metrics.RegisterBroadcast(s.bcast); err != nil {
		return err
	}
	return s.metrics.RegisterArchive(s.storage)
}

// Run starts the daemon and blocks until ctx ends or the source fails.
//
// End of stream stops ingestion but keeps the HTTP surface up, so the
// collected readings stay queryable. A transport failure ends Run with an
// error wrapping errors.ErrSource.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.HTTP.Listen)
	if err != nil {
		s.closeComponents()
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	close(s.ready)

	if err := s.storage.Start(ctx); err != nil {
		ln.Close()
		s.closeComponents()
		return fmt.Errorf("start storage: %w", err)
	}
	if s.kafka != nil {
		if err := s.kafka.Start(ctx); err != nil {
			ln.Close()
			s.closeComponents()
			return fmt.Errorf("start kafka sink: %w", err)
		}
	}

	s.log.Info("catwatch running",
		"listen", ln.Addr().String(),
		"profile", s.cfg.Profile,
		"source", s.cfg.Source.Kind,
		"readings", s.storage.Store().Len())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.loop.Run(gctx)
	})

	g.Go(func() error {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaults.DefaultShutdownTimeout)
		defer cancel()

		// WebSocket sessions are hijacked and not covered by Shutdown.
		s.api.Close()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http shutdown", "error", err)
		}
		return nil
	})

	err = g.Wait()
	s.closeComponents()

	if err != nil {
		return err
	}
	s.log.Info("shutdown complete")
	return nil
}

// closeComponents stops everything in reverse dependency order.
func (s *Server) closeComponents() {
	if err := s.src.Close(); err != nil {
		s.log.Warn("close source", "error", err)
	}
	if s.kafka != nil {
		if err := s.kafka.Stop(); err != nil {
			s.log.Warn("stop kafka sink", "error", err)
		}
	}
	s.bcast.Close()
	if err := s.storage.Close(); err != nil {
		s.log.Warn("close storage", "error", err)
	}
}

// Addr returns the HTTP listen address once Run has bound it.
func (s *Server) Addr() string {
	<-s.ready
	return s.listener.Addr().String()
}

// Ready is closed once the HTTP listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Loop returns the ingestion loop.
func (s *Server) Loop() *ingest.Loop {
	return s.loop
}

// Storage returns the storage service.
func (s *Server) Storage() *storage.Service {
	return s.storage
}
