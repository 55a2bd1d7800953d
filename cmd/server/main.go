package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"perf-ingest/internal/config"
	"perf-ingest/internal/enrich"
	"perf-ingest/internal/logger"
	"perf-ingest/internal/metrics"
	"perf-ingest/internal/server"
	"perf-ingest/internal/store"
	"perf-ingest/internal/worker"

	"github.com/rs/zerolog"
)

// SIGTERM 이후 ECS 가 SIGKILL 을 보내기까지 30초. 그 안에 끝낸다.
const (
	httpShutdownTimeout   = 10 * time.Second
	workerShutdownTimeout = 15 * time.Second
)

func main() {

	// ====================================================================
	// CPU 설정 (Fargate vCPU 대응)
	// ====================================================================
	//
	// Go 는 호스트의 모든 코어를 GOMAXPROCS 로 잡는다.
	// 0.25/0.5 vCPU task 에서는 스케줄링만 늘어나므로 기본 1,
	// Task Definition 의 GOMAXPROCS 로 재정의한다.
	if v := os.Getenv("GOMAXPROCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			runtime.GOMAXPROCS(n)
		}
	} else {
		runtime.GOMAXPROCS(1)
	}

	// ====================================================================
	// Config / Logger / Metrics
	// ====================================================================
	cfg := config.Load()
	log := logger.Init(cfg)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// ====================================================================
	// Enrich 규칙 (선택: ENRICH_RULES_FILE)
	// ====================================================================
	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.RulesFile).Msg("load enrich rules")
	}
	enrichLog := log.With().Str("component", "enrich").Logger()
	enricher := enrich.New(rules.Options(), enrichLog)

	// ====================================================================
	// Sink + Manager
	// ====================================================================
	//
	//  - s3: Encoder(JSONL+gzip) → S3Uploader(app retry) → 실패 시 로컬 DLQ
	//  - sqlite: 로컬 파일 DB, 배치당 트랜잭션 1개
	sink, err := newSink(ctx, cfg, m, log)
	if err != nil {
		log.Fatal().Err(err).Str("sink", cfg.Sink).Msg("init sink")
	}

	mgr := worker.NewManager(cfg, sink, enricher, m, log)
	mgr.Start()

	if cfg.RulesFile != "" {
		go func() {
			err := config.WatchRules(ctx, cfg.RulesFile, log, func(r config.Rules) {
				mgr.SetEnricher(enrich.New(r.Options(), enrichLog))
			})
			if err != nil {
				log.Error().Err(err).Msg("rules watcher stopped")
			}
		}()
	}

	// ====================================================================
	// HTTP
	// ====================================================================
	//
	//  - /capture, /e : 이벤트 수집
	//  - /metrics     : Prometheus text
	//  - /health      : ALB Target Group health check
	h := server.NewHandler(cfg, m, mgr, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/capture", h.HandleCapture)
	mux.HandleFunc("/e", h.HandleCapture)
	mux.HandleFunc("/metrics", h.HandleMetrics)
	mux.HandleFunc("/health", h.HandleHealth)

	// 짧은 JSON payload 만 받으므로 timeout 을 짧게 잡는다.
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  8 * time.Second,
		WriteTimeout: 8 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.HTTPAddr).
			Str("sink", cfg.Sink).
			Str("event_name", rules.EventName).
			Msg("perf ingest server listening")
		serveErr <- srv.ListenAndServe()
	}()

	// ====================================================================
	// Graceful Shutdown
	// ====================================================================
	//
	//  1) HTTP 먼저 멈춘다 (ALB 가 새 task 로 라우팅)
	//  2) Manager 가 큐에 남은 이벤트를 enrich → sink 까지 흘려보낸다
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server terminated")
		}
	}

	httpCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := srv.Shutdown(httpCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	cancel()

	log.Info().Msg("stopping worker manager")
	workerCtx, cancel := context.WithTimeout(context.Background(), workerShutdownTimeout)
	if err := mgr.Shutdown(workerCtx); err != nil {
		log.Error().Err(err).Msg("worker shutdown")
	}
	cancel()

	log.Info().Str("metrics", m.String()).Msg("shutdown complete")
}

func newSink(ctx context.Context, cfg config.Config, m *metrics.Metrics, log zerolog.Logger) (worker.Sink, error) {
	switch cfg.Sink {
	case config.SinkSQLite:
		s, err := store.Open(cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		client, err := worker.NewS3Client(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		s, err := worker.NewS3Sink(cfg, client, m, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
