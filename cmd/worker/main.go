package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/fuua/internal/app"
	"github.com/noah-isme/fuua/internal/config"
	"github.com/noah-isme/fuua/internal/health"
	"github.com/noah-isme/fuua/internal/kitchen"
	"github.com/noah-isme/fuua/internal/lock"
	"github.com/noah-isme/fuua/internal/obs"
	"github.com/noah-isme/fuua/internal/queue"
	"github.com/noah-isme/fuua/internal/submit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "worker").Logger()
	app.RegisterMetrics(cfg.Obs.MetricsNamespace, nil)

	if cfg.Obs.EnableTracing {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:    "fuua-worker",
			ServiceVersion: cfg.Version,
			Endpoint:       cfg.Obs.OTLPEndpoint,
			Exporter:       cfg.Obs.TracingExporter,
			SamplingRatio:  cfg.Obs.SamplingRatio,
			Environment:    cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := app.NewRedis(ctx, cfg.RedisURL, logger, cfg.Obs.EnablePrometheus)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}

	k := &kitchen.Kitchen{
		R:       redisClient,
		Locker:  lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		LockTTL: cfg.LockTTL,
		SeenTTL: cfg.IdempotencyTTL,
		Out:     os.Stdout,
		Logger:  &logger,
	}

	var wg sync.WaitGroup
	consumers := 0

	if cfg.UsesSubmitter(config.SubmitterQueue) {
		consumers++
		ticketWorker := queue.Worker{
			R:                 redisClient,
			Prefix:            cfg.QueuePrefix,
			Kind:              submit.QueueKind,
			Concurrency:       cfg.QueueConcurrency,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			RetryBase:         cfg.QueueBackoffBase,
			RetryJitter:       cfg.QueueBackoffJitter,
			Store:             queue.NewRedisStore(redisClient, cfg.QueuePrefix),
			Logger:            &logger,
			Handler:           k.QueueHandler(),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ticketWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("queue worker stopped with error")
			}
		}()
	}

	if cfg.UsesSubmitter(config.SubmitterAsynq) {
		consumers++
		opt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse asynq redis uri")
		}
		srv := asynq.NewServer(opt, asynq.Config{
			Concurrency:     cfg.QueueConcurrency,
			Queues:          map[string]int{submit.AsynqQueueName: 1},
			Logger:          asynqLogger{logger: logger.With().Str("consumer", "asynq").Logger()},
			ShutdownTimeout: cfg.ShutdownGracePeriod,
		})
		if err := srv.Start(k.NewAsynqMux()); err != nil {
			logger.Fatal().Err(err).Msg("start asynq server")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			srv.Shutdown()
		}()
	}

	if cfg.UsesSubmitter(config.SubmitterKafka) {
		consumers++
		reader := kitchen.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaOrderTopic, cfg.KafkaConsumerGroup)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if err := reader.Close(); err != nil {
					logger.Error().Err(err).Msg("close kafka reader")
				}
			}()
			if err := k.ConsumeKafka(ctx, reader); err != nil {
				logger.Error().Err(err).Msg("kafka consumer stopped with error")
			}
		}()
	}

	if consumers == 0 {
		logger.Warn().Strs("submitters", cfg.OrderSubmitters).Msg("no ticket consumers configured")
		return
	}

	adminSrv := &http.Server{
		Addr:              envOrDefault("WORKER_ADMIN_ADDR", ":9090"),
		Handler:           adminRouter(cfg, redisClient, kitchenProbes(cfg, redisClient)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("admin server exited unexpectedly")
		}
	}()

	logger.Info().Int("consumers", consumers).Str("admin_addr", adminSrv.Addr).Msg("worker starting")
	<-ctx.Done()

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("admin server shutdown")
	}
	wg.Wait()
	logger.Info().Msg("worker shutdown complete")
}

func adminRouter(cfg *config.Config, redisClient *redis.Client, probes []health.Probe) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if cfg.Obs.EnablePrometheus {
		r.Handle("/metrics", promhttp.Handler())
	}
	h := health.Handler{Probes: probes}
	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)
	if redisClient != nil && cfg.UsesSubmitter(config.SubmitterQueue) {
		admin := &queue.AdminHandler{
			Store:             queue.NewRedisStore(redisClient, cfg.QueuePrefix),
			Queue:             queue.Enqueuer{R: redisClient, Prefix: cfg.QueuePrefix, DedupTTL: cfg.IdempotencyTTL, MaxAttempts: cfg.QueueMaxAttempts},
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			DefaultKind:       submit.QueueKind,
		}
		r.Route("/admin/queue", admin.Routes)
	}
	return r
}

func kitchenProbes(cfg *config.Config, redisClient *redis.Client) []health.Probe {
	var probes []health.Probe
	if redisClient != nil {
		probes = append(probes, health.RedisProbe(redisClient, 300*time.Millisecond))
	}
	if cfg.UsesSubmitter(config.SubmitterKafka) {
		probes = append(probes, health.KafkaProbe(cfg.KafkaBrokers, 500*time.Millisecond))
	}
	return probes
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
