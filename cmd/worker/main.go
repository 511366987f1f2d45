package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/config"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/blobstore"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/contextstore"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/definitionstore"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/health"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/infrastructure/postgres"
	ctxlog "github.com/ErlanBelekov/dist-job-scheduler/internal/log"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/queue"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/retry"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/runner"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/runner/dbrunner"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/runner/filerunner"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/runner/httprunner"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/runner/sftprunner"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/secrets"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/worker"
	"github.com/lmittmann/tint"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()
	logger.Info("db connected")

	minioClient, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		stop()
		log.Fatalf("minio: %v", err)
	}
	blobs := blobstore.New(minioClient, cfg.MinioBucket)
	if err := blobs.EnsureBucket(ctx); err != nil {
		stop()
		log.Fatalf("ensure bucket: %v", err)
	}

	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		stop()
		log.Fatalf("nats: %v", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		stop()
		log.Fatalf("jetstream: %v", err)
	}

	publisher := queue.NewPublisher(nc, js, cfg.NatsStreamName)
	if err := publisher.EnsureStream(ctx); err != nil {
		stop()
		log.Fatalf("ensure dispatch stream: %v", err)
	}
	consumer := queue.NewConsumer(js, cfg.NatsStreamName, cfg.NatsMaxDeliver)
	logger.Info("nats connected", "stream", cfg.NatsStreamName)

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	variableCipher, err := secrets.NewCipher(cfg.VariableEncryptionKey)
	if err != nil {
		stop()
		log.Fatalf("variable encryption key: %v", err)
	}

	jobRepo := postgres.NewJobRepository(pool)
	execRepo := postgres.NewExecutionRepository(pool)
	variableRepo := postgres.NewVariableRepository(pool, variableCipher)

	definitions := definitionstore.New(blobs)
	contexts := contextstore.New(blobs)

	runners := runner.NewTable()
	runners.Register(domain.StepHTTP, httprunner.New(logger))
	runners.Register(domain.StepDatabase, dbrunner.New(logger))
	runners.Register(domain.StepFile, filerunner.New(blobs, logger))
	runners.Register(domain.StepSftp, sftprunner.New(blobs, logger))

	breakers := retry.NewRegistry(retry.DefaultBreakerConfig())
	backoff := retry.DefaultBackoffConfig()

	w := worker.New(jobRepo, execRepo, variableRepo, variableCipher, definitions, contexts, runners, breakers, backoff, publisher, logger)

	metrics.WorkerStartTime.Set(float64(time.Now().Unix()))

	workerCtx, cancelWorker := context.WithCancel(ctx)
	consumeErrCh := make(chan error, 1)
	go func() {
		logger.Info("worker consuming dispatch stream")
		consumeErrCh <- consumer.Run(workerCtx, w.Handle)
	}()

	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	healthSrv := newHealthServer(":"+cfg.Port, checker)
	go func() {
		logger.Info("health server started", "port", cfg.Port)
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server", "error", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-consumeErrCh:
		if err != nil {
			logger.Error("consumer stopped", "error", err)
		}
	}
	stop()
	cancelWorker()
	metrics.WorkerShutdownsTotal.Inc()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown", "error", err)
	}

	logger.Info("worker shut down")
}

func newHealthServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Readiness(r.Context())
		if result.Status != "up" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeHealth(w, result)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
