package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"docmark/config"
	clicmd "docmark/internal/adapters/cli"
	"docmark/internal/core/orchestrator"
	"docmark/internal/platform/collaborators"
	"docmark/internal/platform/statestore"
	"docmark/internal/platform/workqueue"
	"docmark/pkg/cache"
	"docmark/pkg/logger"
	"docmark/pkg/metrics"
)

func main() {
	cfg := config.Load()

	loggerConfig := &logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		Filename:   cfg.Logging.Filename,
		TimeFormat: cfg.Logging.TimeFormat,
	}
	if err := logger.Init(loggerConfig); err != nil {
		fmt.Printf("failed to initialize structured logger: %v, using default\n", err)
	}
	log := logger.Get()
	metrics.Init(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "redis not available: %v\n", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	resultCache, err := cache.NewCache(&cache.CacheConfig{
		RedisURL:   fmt.Sprintf("redis://%s:%s/%d", cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.DB),
		DefaultTTL: cfg.Orchestration.ResultTTL,
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
		PoolSize:   5,
	}, *log.Logger, metrics.Get())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize result cache: %v\n", err)
		os.Exit(1)
	}

	store := statestore.New(redisClient, cfg.Orchestration.StatusTTL, resultCache)
	queue := workqueue.New(redisClient)

	fetcher := collaborators.NewLocalFetcher(cfg.Orchestration.SplitWorkDirectory, cfg.Orchestration.FetchTimeout)
	splitter := collaborators.NewPDFSplitter(cfg.Orchestration.SplitWorkDirectory)
	converter := collaborators.NewDocumentConverter()
	normalizer := collaborators.NewGoldmarkNormalizer()

	orchCfg := orchestrator.Config{
		MinSplitPages:  cfg.Orchestration.MinSplitPages,
		ResultTTL:      cfg.Orchestration.ResultTTL,
		PageResultTTL:  cfg.Orchestration.PageResultTTL,
		MergeDelimiter: cfg.Orchestration.MergeDelimiter,
	}
	orch := orchestrator.New(store, queue, fetcher, splitter, converter, normalizer, orchCfg, log, metrics.Get())

	rootCmd := clicmd.NewCLI(orch).GetRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
