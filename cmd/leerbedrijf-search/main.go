package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/leerbedrijf-search/internal/config"
	"github.com/Sternrassler/leerbedrijf-search/pkg/cache"
	"github.com/Sternrassler/leerbedrijf-search/pkg/logging"
	"github.com/Sternrassler/leerbedrijf-search/pkg/ratelimit"
	"github.com/Sternrassler/leerbedrijf-search/pkg/search"
	"github.com/Sternrassler/leerbedrijf-search/pkg/source/httpsource"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("leerbedrijf-search failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "leerbedrijf-search",
		Usage: "Search training companies per education track and location",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				EnvVars: []string{"LEERBEDRIJF_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "source-url",
				Usage:   "Base URL of the company source",
				EnvVars: []string{"SOURCE_URL"},
			},
			&cli.StringFlag{
				Name:    "cache-backend",
				Usage:   "Result cache backend (memory, redis)",
				EnvVars: []string{"CACHE_BACKEND"},
			},
			&cli.StringFlag{
				Name:    "redis",
				Usage:   "Redis address",
				EnvVars: []string{"REDIS_URL"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "log-pretty",
				Usage:   "Human-readable console logs",
				EnvVars: []string{"LOG_PRETTY"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP search API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "addr",
						Usage:   "Listen address",
						EnvVars: []string{"ADDR"},
					},
				},
			},
			{
				Name:   "warm",
				Usage:  "Refresh the result cache for a list of queries",
				Action: warmCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "YAML file with the queries to warm",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Queries refreshed in parallel",
						Value: search.DefaultWarmConcurrency,
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Refresh queries that are still fresh",
					},
				},
			},
		},
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}

	if c.IsSet("source-url") {
		cfg.Source.BaseURL = c.String("source-url")
	}
	if c.IsSet("cache-backend") {
		cfg.Cache.Backend = c.String("cache-backend")
	}
	if c.IsSet("redis") {
		cfg.Redis.Addr = c.String("redis")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-pretty") {
		cfg.Log.Pretty = c.Bool("log-pretty")
	}
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// service holds the wired components of one process.
type service struct {
	orch    *search.Orchestrator
	limiter *ratelimit.Limiter
	redis   *redis.Client
	stats   *ratelimit.AsyncRecorder
	closers []func()
}

func (s *service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newService connects the backends selected by cfg.
func newService(ctx context.Context, cfg config.Config) (*service, error) {
	svc := &service{}

	if cfg.Cache.Backend == config.BackendRedis || cfg.RateLimit.Stats {
		svc.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		svc.closers = append(svc.closers, func() { svc.redis.Close() })

		if err := svc.redis.Ping(ctx).Err(); err != nil {
			svc.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	cacheLogger := logging.NewLogger(logging.ComponentCache)
	var store cache.Store
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		store = cache.NewRedisStore(svc.redis,
			cache.WithKeyPrefix(cfg.Cache.KeyPrefix),
			cache.WithStaleRetention(cfg.Cache.StaleRetention))
		cacheLogger.Info().
			Str("prefix", cfg.Cache.KeyPrefix).
			Dur("stale_retention", cfg.Cache.StaleRetention).
			Msg("Using Redis result cache")
	default:
		mem, err := cache.NewMemoryStore(cfg.Cache.MaxEntries)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("create memory cache: %w", err)
		}
		svc.closers = append(svc.closers, mem.Close)
		store = mem
		cacheLogger.Info().Int("max_entries", cfg.Cache.MaxEntries).Msg("Using in-memory result cache")
	}

	var limiterOpts []ratelimit.Option
	if cfg.RateLimit.Stats {
		svc.stats = ratelimit.NewAsyncRecorder(
			ratelimit.NewRedisStats(svc.redis, ratelimit.WithStatsPrefix(cfg.Cache.KeyPrefix+":ratelimit")),
			1024, logging.NewLogger(logging.ComponentRateLimit))
		limiterOpts = append(limiterOpts, ratelimit.WithRecorder(svc.stats))
	}

	limiter, err := ratelimit.New(cfg.RateLimitConfig(), logging.NewLogger(logging.ComponentRateLimit), limiterOpts...)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.limiter = limiter

	src, err := httpsource.New(cfg.SourceConfig(), logging.NewLogger(logging.ComponentSource))
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("create source: %w", err)
	}

	orch, err := search.New(cfg.SearchConfig(), src, store, limiter, logging.NewLogger(logging.ComponentSearch))
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	svc.orch = orch

	return svc, nil
}

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LoggingConfig()).With().Str("component", logging.ComponentServer).Logger()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newHandler(svc.orch, svc.redis, cfg.Server.TrustForwardedFor, logger),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	svc.limiter.StartJanitor(ctx, cfg.RateLimit.JanitorInterval)

	g, gctx := errgroup.WithContext(ctx)
	if svc.stats != nil {
		g.Go(func() error {
			svc.stats.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("cache_backend", cfg.Cache.Backend).
			Str("source", cfg.Source.BaseURL).
			Msg("Starting search API")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down search API")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})

	return g.Wait()
}

func warmCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	// A memory cache dies with this process, so warming it has no effect.
	if cfg.Cache.Backend != config.BackendRedis {
		return fmt.Errorf("warm requires the %q cache backend (got %q): set --cache-backend %s and --redis",
			config.BackendRedis, cfg.Cache.Backend, config.BackendRedis)
	}
	logging.Setup(cfg.LoggingConfig())
	logger := logging.NewLogger(logging.ComponentWarm)

	queries, err := config.LoadQueries(c.String("file"))
	if err != nil {
		return err
	}
	logger.Info().Int("queries", len(queries)).Str("file", c.String("file")).Msg("Warming result cache")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	report, err := svc.orch.Warm(ctx, queries, search.WarmOptions{
		Concurrency: c.Int("concurrency"),
		Force:       c.Bool("force"),
	})
	if err != nil {
		return err
	}

	logger.Info().
		Int("fetched", report.Fetched).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("Warm-up finished")

	printReport(c.App.Writer, report)
	if report.Failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d queries failed", report.Failed, len(queries)), 1)
	}
	return nil
}
