// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"longform-pipeline/internal/config"
	"longform-pipeline/internal/domain/ports/repository"
	aiAdapters "longform-pipeline/internal/infra/adapters/ai"
	"longform-pipeline/internal/infra/api"
	"longform-pipeline/internal/infra/api/apiv1"
	"longform-pipeline/internal/infra/cache"
	fs "longform-pipeline/internal/infra/db/firestore"
	"longform-pipeline/internal/infra/db/memory"
	pg "longform-pipeline/internal/infra/db/postgres"
	"longform-pipeline/internal/infra/logging"
	"longform-pipeline/internal/infra/metrics"
	red "longform-pipeline/internal/infra/redis"
	"longform-pipeline/internal/infra/security"
	"longform-pipeline/internal/infra/worker"
	"longform-pipeline/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted keys)")
	mintOrg := flag.String("mint-token", "", "print a bearer token for this org id and exit")
	sealValue := flag.String("seal", "", "print the sealed form of a secret (uses SECRETS_KEY) and exit")
	flag.Parse()

	if *sealValue != "" {
		s, err := security.NewSealer(os.Getenv("SECRETS_KEY"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "seal: %v\n", err)
			os.Exit(1)
		}
		out, err := s.Seal(*sealValue)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seal: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(out)
		return
	}

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	if *mintOrg != "" {
		tok, err := api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Mint(*mintOrg)
		if err != nil {
			logger.Fatal().Err(err).Msg("mint token")
		}
		fmt.Println(tok)
		return
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("app stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	logger.Info().Str("version", version).Str("commit", commit).Str("db", cfg.Database.Driver).Msg("starting")

	// ---- Redis (optional) ----
	var redisClient red.RedisClient
	if cfg.Redis.URL != "" {
		c, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer c.Close()
		redisClient = c
	}

	// ---- Job store ----
	jobs, closeJobs, err := newJobRepo(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeJobs()
	if redisClient != nil {
		jobs = red.NewJobRepoCacheDecorator(jobs, redisClient, cfg.Redis.TTL, logger)
	}

	// ---- Result cache ----
	var (
		backend repository.CacheBackend
		limiter repository.RateLimiter
	)
	if redisClient != nil {
		backend = red.NewCacheBackend(redisClient)
		limiter = red.NewRateLimiter(redisClient)
	} else {
		mem := cache.NewMemory()
		if cfg.Pipeline.CacheSweep > 0 {
			mem.StartSweeper(ctx, cfg.Pipeline.CacheSweep, logger)
		}
		backend = mem
		limiter = cache.NewLimiter()
	}
	results := usecase.NewResultCache(backend, logger).WithFlightTimeout(cfg.Pipeline.MaxRunDeadline)
	if redisClient != nil {
		results.WithLocker(red.NewLocker(redisClient), cfg.Pipeline.LockTTL)
	}

	// ---- Providers ----
	registry, err := aiAdapters.NewFromConfig(ctx, cfg.AI.Providers, logger, logging.NewUsageLogger(logger), cfg.Runtime.Dev)
	if err != nil {
		return fmt.Errorf("providers: %w", err)
	}

	// ---- Use cases ----
	plans := usecase.NewPlanBuilder(cfg.Pipeline.Stages, textProviders(cfg.AI.Providers), cfg.Pipeline.EvidenceTTL, cfg.Pipeline.GenerationTTL)
	executor := usecase.NewStageExecutor(registry, results, usecase.ExecutorConfig{
		MaxAttempts:         cfg.Pipeline.MaxAttempts,
		Backoff:             cfg.Pipeline.RetryBackoff,
		CallTimeout:         cfg.Pipeline.CallTimeout,
		AllowSharedEvidence: cfg.Pipeline.AllowSharedEvidence,
	}, logger)
	pipeline := usecase.NewPipeline(executor, cfg.Pipeline.RunDeadline, cfg.Pipeline.MaxRunDeadline, logger)

	// ---- Workers ----
	pool := worker.NewPool(cfg.Worker.Count, cfg.Worker.QueueSize, logger)
	orchestrator := usecase.NewJobOrchestrator(jobs, plans, pipeline, worker.NewDispatcher(pool), cfg.Pipeline.StageEstimate, logger)
	if cfg.Server.SubmitLimit > 0 {
		orchestrator.WithSubmitLimit(usecase.SubmitLimit{Limiter: limiter, Limit: cfg.Server.SubmitLimit, Window: cfg.Server.SubmitWindow})
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	pool.Start(workerCtx)
	go worker.NewJobPoller(orchestrator, cfg.Worker.PollInterval, logger).Start(ctx, pool)

	// ---- HTTP ----
	handler := api.NewRouter(api.Dependencies{
		API:            apiv1.NewServer(orchestrator, logger),
		Auth:           api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Log:            logger,
		RequestTimeout: cfg.Server.RequestTimeout,
		SyncTimeout:    cfg.Server.SyncTimeout,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	// running jobs get the rest of the grace period; queued ones stay queued
	done := make(chan struct{})
	go func() { pool.Stop(); close(done) }()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		stopWorkers()
		<-done
	}
	logger.Info().Msg("bye")
	return nil
}

func newJobRepo(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (repository.JobRepository, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.Migrate {
			if err := pg.RunMigrations(cfg.Database.URL); err != nil {
				return nil, nil, fmt.Errorf("migrations: %w", err)
			}
		}
		pool, err := pg.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		go pg.ReportPoolStats(ctx, pool, 15*time.Second, logger)
		return pg.NewJobRepo(pool, pg.NewTxManager(pool)), pool.Close, nil
	case "firestore":
		client, err := fs.NewClient(ctx, cfg.Database.ProjectID)
		if err != nil {
			return nil, nil, err
		}
		return fs.NewJobRepo(client, cfg.Database.Collection), func() { _ = client.Close() }, nil
	default:
		logger.Warn().Msg("memory job store: jobs do not survive a restart")
		return memory.NewJobRepo(), func() {}, nil
	}
}

// textProviders is the default preference for stages without an explicit
// provider list. Structured-data providers cannot write prose.
func textProviders(ps []config.ProviderConfig) []string {
	var out []string
	for _, p := range ps {
		if p.Kind != "data" {
			out = append(out, p.Name)
		}
	}
	return out
}
