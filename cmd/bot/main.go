package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kubetools-bot/config"
	"kubetools-bot/github"
	"kubetools-bot/monitor"
	"kubetools-bot/ops"
	"kubetools-bot/queue"
	"kubetools-bot/schedule"
	"kubetools-bot/storage"
	"kubetools-bot/tweet"
	"kubetools-bot/twitter"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to the YAML config file")
	mode := flag.String("mode", "continuous", "run mode: once or continuous")
	flag.Parse()

	// Structured JSON logging to stdout
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setLogLevel(cfg.LogLevel)
	slog.Info("config loaded",
		"repo", cfg.GitHubRepo,
		"tweets_per_day", cfg.TweetsPerDay,
		"min_interval", cfg.MinInterval().String(),
		"timezone", cfg.Timezone)

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("storage initialized", "db_path", cfg.DBPath)

	q, err := queue.NewManager(store, cfg.MaxAttempts)
	if err != nil {
		slog.Error("failed to load queue", "error", err)
		os.Exit(1)
	}

	planner, err := schedule.NewPlanner(cfg.Timezone, cfg.TweetsPerDay, cfg.MinInterval(), cfg.PostingHours)
	if err != nil {
		slog.Error("failed to create planner", "error", err)
		os.Exit(1)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	source := github.NewClient(httpClient, cfg.GitHubRepo, cfg.GitHubBranch, cfg.ReadmePath, cfg.GitHubToken)
	publisher := twitter.NewClient(httpClient, twitter.Credentials{
		APIKey:            cfg.Twitter.APIKey,
		APISecret:         cfg.Twitter.APISecret,
		AccessToken:       cfg.Twitter.AccessToken,
		AccessTokenSecret: cfg.Twitter.AccessTokenSecret,
	})
	renderer := tweet.NewRenderer(cfg.HashtagCount)

	runner := monitor.NewRunner(source, publisher, q, store, planner, renderer.Render, github.OwnerRepo,
		monitor.Config{
			ShrinkThreshold: cfg.ShrinkThreshold,
			EnrichStars:     cfg.EnrichStars,
		}).WithSummarizer(tweet.WeeklySummary)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	switch *mode {
	case "once":
		runOnce(ctx, runner)
	case "continuous":
		runContinuous(ctx, cfg, runner, q)
	default:
		slog.Error("unknown mode", "mode", *mode)
		os.Exit(1)
	}

	slog.Info("shutdown complete")
}

// runOnce performs a single monitoring cycle followed by a single publish
// tick, the mode used under an external scheduler.
func runOnce(ctx context.Context, runner *monitor.Runner) {
	if err := runner.CheckCycle(ctx); err != nil {
		slog.Error("check cycle failed", "error", err)
	}
	if err := runner.PublishTick(ctx); err != nil {
		slog.Error("publish tick failed", "error", err)
	}
}

// runContinuous runs the cron loop and the ops HTTP server until the context
// is cancelled.
func runContinuous(ctx context.Context, cfg config.Config, runner *monitor.Runner, q *queue.Manager) {
	loop, err := schedule.NewLoop(cfg.Timezone)
	if err != nil {
		slog.Error("failed to create loop", "error", err)
		os.Exit(1)
	}

	checkJob := func() {
		jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if err := runner.CheckCycle(jobCtx); err != nil {
			slog.Error("check cycle failed", "error", err)
		}
	}
	publishJob := func() {
		jobCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := runner.PublishTick(jobCtx); err != nil {
			slog.Error("publish tick failed", "error", err)
		}
	}
	summaryJob := func() {
		jobCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := runner.SummaryCycle(jobCtx); err != nil {
			slog.Error("summary cycle failed", "error", err)
		}
	}

	if err := loop.Every("check", time.Duration(cfg.CheckIntervalHours)*time.Hour, checkJob); err != nil {
		slog.Error("failed to schedule check job", "error", err)
		os.Exit(1)
	}
	if err := loop.Every("publish", time.Duration(cfg.PublishTickMinutes)*time.Minute, publishJob); err != nil {
		slog.Error("failed to schedule publish job", "error", err)
		os.Exit(1)
	}
	if err := loop.Every("summary", 24*time.Hour, summaryJob); err != nil {
		slog.Error("failed to schedule summary job", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: ops.Handler(q, runner),
	}
	go func() {
		slog.Info("ops server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server stopped", "error", err)
		}
	}()

	// Run an initial cycle at startup rather than waiting a full interval.
	checkJob()

	loop.Start()
	<-ctx.Done()
	loop.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("ops server shutdown", "error", err)
	}
}

func setLogLevel(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l})))
}
