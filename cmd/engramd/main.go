package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/engramhq/engram/internal/ai"
	"github.com/engramhq/engram/internal/analysis"
	"github.com/engramhq/engram/internal/api"
	"github.com/engramhq/engram/internal/capture"
	"github.com/engramhq/engram/internal/chat"
	"github.com/engramhq/engram/internal/config"
	"github.com/engramhq/engram/internal/retention"
	"github.com/engramhq/engram/internal/search"
	"github.com/engramhq/engram/internal/sessions"
	"github.com/engramhq/engram/internal/store"
	"github.com/engramhq/engram/internal/summarize"
)

func main() {
	// Logger
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// SQLite
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Stores
	traceStore := store.NewTraceStore(db)
	sessionStore := store.NewSessionStore(db)
	summaryStore := store.NewSummaryStore(db)
	entityStore := store.NewEntityStore(db)
	chatStore := store.NewChatStore(db)
	keywordIndex := store.NewKeywordIndex(db)
	blockRuleStore := store.NewBlockRuleStore(db)
	settingStore := store.NewSettingStore(db)
	statsCollector := store.NewStatsCollector(db, traceStore, sessionStore,
		summaryStore, entityStore, cfg.ImageDir, cfg.AnalysisMaxAttempts)

	// Block rules: seed defaults, then load persisted plus optional file.
	if err := blockRuleStore.Seed(); err != nil {
		logger.Error("failed to seed block rules", "error", err)
		os.Exit(1)
	}
	blocklist := capture.NewBlocklist()
	if rules, err := blockRuleStore.List(); err == nil {
		blocklist.LoadRules(rules)
	}
	if cfg.BlockFile != "" {
		if err := blocklist.LoadFile(cfg.BlockFile); err != nil {
			logger.Warn("failed to load blocklist file", "path", cfg.BlockFile, "error", err)
		}
	}

	// External services
	visionClient := ai.NewVisionClient(cfg.VisionEndpoint, cfg.VisionModel, cfg.VisionAPIKey)
	chatClient := ai.NewChatClient(cfg.ChatEndpoint, cfg.ChatModel, cfg.ChatAPIKey)
	embedder := ai.NewFallbackEmbedder(
		ai.NewRemoteEmbedder(cfg.EmbedEndpoint, cfg.EmbedModel, cfg.EmbedAPIKey, cfg.EmbeddingDim),
		ai.NewLocalEmbedder(cfg.EmbeddingDim),
	)

	// Capture
	ingest := capture.NewIngestSource()
	loop := capture.NewLoop(ingest, ingest, traceStore, blocklist, capture.Options{
		Interval:       time.Duration(cfg.CaptureIntervalMs) * time.Millisecond,
		IdleThreshold:  time.Duration(cfg.IdleThresholdMs) * time.Millisecond,
		DedupThreshold: cfg.DedupThreshold,
		ImageDir:       cfg.ImageDir,
		StartPaused:    !cfg.CaptureEnabled,
	}, logger)
	if v, err := settingStore.Get("capture_paused", ""); err == nil && v != "" {
		loop.SetPaused(v == "true")
	}

	// Clustering and analysis
	clusterer := sessions.NewClusterer(sessionStore, traceStore, sessions.Options{
		SimThreshold:    cfg.SessionSimThreshold,
		GapMs:           cfg.SessionGapMs,
		MaxActive:       cfg.SessionMaxActive,
		ContextMaxBytes: cfg.SessionContextMaxBytes,
	}, logger)
	scheduler := analysis.NewScheduler(traceStore, entityStore, visionClient,
		embedder, clusterer, analysis.Options{
			Interval:    time.Duration(cfg.AnalysisIntervalSec) * time.Second,
			BatchSize:   cfg.AnalysisBatchSize,
			Concurrency: cfg.AnalysisConcurrency,
			MaxAttempts: cfg.AnalysisMaxAttempts,
		}, logger)

	// Summaries
	summarizer := summarize.NewScheduler(traceStore, summaryStore, entityStore,
		chatClient, embedder, summarize.Options{
			Interval:   time.Duration(cfg.SummaryIntervalMin) * time.Minute,
			MinTraces:  cfg.SummaryMinTraces,
			RollupHour: cfg.DailyRollupHour,
		}, logger)

	// Retention
	sweeper := retention.NewSweeper(traceStore, retention.Options{
		HotWindow:  time.Duration(cfg.HotDataDays) * 24 * time.Hour,
		WarmWindow: time.Duration(cfg.WarmDataDays) * 24 * time.Hour,
		Interval:   time.Duration(cfg.RetentionIntervalMin) * time.Minute,
	}, logger)

	// Search and chat
	searchEngine := search.NewEngine(traceStore, keywordIndex, embedder,
		cfg.SearchCandidates, cfg.DefaultMaxResults, logger)
	chatEngine := chat.NewEngine(chatStore, summaryStore, searchEngine,
		chatClient, cfg.ChatContextTokens, cfg.ChatHistoryLimit, logger)

	// Router
	router := api.NewRouter(api.Deps{
		Traces:   api.NewTraceHandler(traceStore),
		Sessions: api.NewSessionHandler(sessionStore, traceStore),
		Search:   api.NewSearchHandler(searchEngine),
		Chat:     api.NewChatHandler(chatEngine, chatStore),
		System: api.NewSystemHandler(db, statsCollector, summaryStore,
			entityStore, blockRuleStore, blocklist, settingStore, loop, scheduler),
		Frames: api.NewFrameHandler(ingest),
	}, cfg.APIKey, logger)

	// Background tasks share one context; cancelling it drains them all.
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, task := range []func(context.Context){
		loop.Run,
		scheduler.Run,
		summarizer.Run,
		sweeper.Run,
	} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(task)
	}

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("engramd starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("engramd stopped")
}
