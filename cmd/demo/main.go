// Command demo runs the pipeline end to end against in-process providers.
// No network, database or Redis is needed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"longform-pipeline/internal/config"
	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
	aiAdapters "longform-pipeline/internal/infra/adapters/ai"
	"longform-pipeline/internal/infra/cache"
	"longform-pipeline/internal/infra/db/memory"
	"longform-pipeline/internal/infra/logging"
	"longform-pipeline/internal/infra/worker"
	"longform-pipeline/internal/usecase"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topic := flag.String("topic", "Home composting for apartment dwellers", "article topic")
	plan := flag.String("plan", "premium", "plan tier: fast|standard|premium")
	delay := flag.Duration("delay", 50*time.Millisecond, "simulated provider latency")
	flag.Parse()

	logger := logging.New(config.LogConfig{Level: "info", Format: "console"}, true)
	if err := run(ctx, logger, *topic, model.PlanTier(*plan), *delay); err != nil {
		logger.Fatal().Err(err).Msg("demo failed")
	}
}

func run(ctx context.Context, logger *zerolog.Logger, topic string, tier model.PlanTier, delay time.Duration) error {
	registry := aiAdapters.NewRegistry(logger, logging.NewUsageLogger(logger))
	specs := []aiAdapters.ProviderSpec{
		// first call is throttled so the fallback to writer-b shows up in the logs
		{Provider: aiAdapters.NewStaticAdapter("writer-a", delay, string(domain.KindRateLimited)), Model: "static-a", Timeout: 5 * time.Second},
		{Provider: aiAdapters.NewStaticAdapter("writer-b", delay), Model: "static-b", Timeout: 5 * time.Second},
		{Provider: aiAdapters.NewStaticAdapter("serp", delay), Model: "static-serp", Timeout: 5 * time.Second},
	}
	for _, s := range specs {
		if err := registry.Register(s); err != nil {
			return err
		}
	}

	results := usecase.NewResultCache(cache.NewMemory(), logger)
	plans := usecase.NewPlanBuilder(map[string][]string{
		string(model.StageResearch):  {"serp"},
		string(model.StageCitations): {"serp"},
	}, []string{"writer-a", "writer-b"}, time.Hour, 10*time.Minute)
	executor := usecase.NewStageExecutor(registry, results, usecase.ExecutorConfig{
		MaxAttempts: 2,
		Backoff:     10 * time.Millisecond,
		CallTimeout: 5 * time.Second,
	}, logger)
	pipeline := usecase.NewPipeline(executor, 2*time.Minute, 10*time.Minute, logger)

	pool := worker.NewPool(2, 8, logger)
	pool.Start(ctx)
	defer pool.Stop()
	orchestrator := usecase.NewJobOrchestrator(memory.NewJobRepo(), plans, pipeline, worker.NewDispatcher(pool), time.Second, logger)

	req := model.GenerationRequest{
		OrgID:        "demo",
		Topic:        topic,
		Keywords:     []string{"compost", "small spaces"},
		TargetLength: 1200,
		Plan:         tier,
		Features:     model.FeatureFlags{FactCheck: true, Citations: true},
	}

	job, err := orchestrator.Submit(ctx, req, model.ModeSync)
	var jerr *domain.JobError
	if err != nil && !errors.As(err, &jerr) {
		return err
	}
	report("sync", job)

	// the identical request again: every stage is served from the result cache
	job, err = orchestrator.Submit(ctx, req, model.ModeAsync)
	if err != nil {
		return err
	}
	logger.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("async job accepted")

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		job, err = orchestrator.Status(ctx, job.ID)
		if err != nil {
			return err
		}
		logger.Info().Str("status", string(job.Status)).Int("progress", job.Progress).Str("stage", job.CurrentStage).Msg("poll")
		if job.Status.IsTerminal() {
			report("async", job)
			return nil
		}
	}
}

func report(label string, j *model.Job) {
	if j == nil {
		return
	}
	fmt.Printf("\n=== %s job %s: %s ===\n", label, j.ID, j.Status)
	if j.Failure != nil {
		fmt.Printf("failure: %s (%s)\n", j.Failure.Message, j.Failure.Class)
		return
	}
	if j.Result == nil {
		return
	}
	r := j.Result
	fmt.Printf("stages: %d  skipped: %v  warnings: %d  tokens: %d  took: %s\n",
		len(r.Stages), r.Skipped, len(r.Warnings), r.Usage.TotalTokens, r.GenerationTime)
	for _, s := range r.Stages {
		fmt.Printf("  %-10s provider=%-8s cached=%v\n", s.Stage, s.Provider, s.CacheHit)
	}
	fmt.Printf("citations: %d\n\n%s\n", len(r.Citations), r.Content)
}
