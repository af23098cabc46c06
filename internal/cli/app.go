package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/jeanpaul/tutor/internal/config"
	"github.com/jeanpaul/tutor/internal/embedding"
	"github.com/jeanpaul/tutor/internal/health"
	"github.com/jeanpaul/tutor/internal/logging"
	"github.com/jeanpaul/tutor/internal/memory"
	"github.com/jeanpaul/tutor/internal/methodology"
	"github.com/jeanpaul/tutor/internal/metrics"
	"github.com/jeanpaul/tutor/internal/orchestrator"
	"github.com/jeanpaul/tutor/internal/provider"
	"github.com/jeanpaul/tutor/internal/retrieval"
	"github.com/jeanpaul/tutor/internal/store"
)

// app holds every long-lived component. It is built once per command and
// owns the resources released by close.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	store     *store.SQLiteStore
	engine    *retrieval.Engine
	templates *methodology.Cache
	sessions  *memory.Sessions
	service   *orchestrator.Service
	health    *health.Checker

	closers []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if err := a.build(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg

	st, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = st
	a.closers = append(a.closers, st)

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return err
	}

	var index retrieval.Index
	switch cfg.Retrieval.Backend {
	case "sqlite":
		idx, err := retrieval.NewSQLiteIndex(st.DB())
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		index = idx
	default:
		index = retrieval.NewMemoryIndex()
	}
	a.engine = retrieval.NewEngine(index, embedder, cfg.Retrieval, a.logger, a.metrics)

	defaults, err := methodology.EmbeddedSource{}.LoadTemplates(ctx)
	if err != nil {
		return err
	}
	seeded, err := st.SeedTemplates(ctx, defaults)
	if err != nil {
		return fmt.Errorf("seed templates: %w", err)
	}
	if seeded > 0 {
		a.logger.Info().Int("templates", seeded).Msg("seeded default templates")
	}
	source := methodology.LayeredSource{methodology.EmbeddedSource{}, st, methodology.DirSource{Dir: cfg.TemplatesDirPath()}}
	a.templates, err = methodology.NewCache(ctx, source)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	var sessionStore memory.Store
	switch cfg.Memory.Backend {
	case "redis":
		rs, err := memory.NewRedisStore(cfg.Redis, cfg.Memory.SessionTTL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rs)
		sessionStore = rs
	default:
		sessionStore = memory.NewMemoryStore(cfg.Memory.SessionTTL)
	}
	consolidator := memory.NewConsolidator(memory.LimitsFromConfig(cfg.Memory))
	a.sessions = memory.NewSessions(sessionStore, consolidator, a.logger, a.metrics)

	registry, err := provider.NewRegistry(cfg)
	if err != nil {
		return err
	}
	a.service = orchestrator.New(orchestrator.Deps{
		Resolver:  provider.NewResolver(cfg),
		Registry:  registry,
		Composer:  methodology.NewComposer(a.templates, a.logger),
		Retriever: a.engine,
		Sessions:  a.sessions,
		Turns:     st,
		Logger:    a.logger,
		Metrics:   a.metrics,
	}, orchestrator.OptionsFromConfig(cfg))

	a.health = health.NewChecker(cfg.Providers)
	a.health.AddComponent("store", st)
	a.health.AddComponent("index", a.engine)
	a.health.AddComponent("memory", a.sessions)
	return nil
}

func (a *app) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("shutdown")
	}
}

// mustApp loads config and builds the app, exiting on failure.
func mustApp(ctx context.Context) *app {
	cfg, err := loadConfig()
	if err != nil {
		fatal("%v", err)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		fatal("%v", err)
	}
	return a
}
