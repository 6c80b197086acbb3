// cmd/pipeline-manager/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tpr-pipeline/internal/api"
	"tpr-pipeline/internal/audit"
	awsclients "tpr-pipeline/internal/common/aws"
	"tpr-pipeline/internal/common/config"
	"tpr-pipeline/internal/common/database"
	"tpr-pipeline/internal/common/logger"
	"tpr-pipeline/internal/common/observability"
	"tpr-pipeline/internal/notify"
	"tpr-pipeline/internal/service"
	"tpr-pipeline/internal/session"
	"tpr-pipeline/internal/stages/zone"
	"tpr-pipeline/pkg/registry"

	"tpr-pipeline/internal/boundaries"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting pipeline manager...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("pipeline-manager")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Ward Boundary Source ---
	var boundaryRepo boundaries.Repository
	switch cfg.Boundaries.Source {
	case "postgres":
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()
		zapLog.Info("PostgreSQL connected successfully")
		boundaryRepo = boundaries.NewPostgresRepository(pg, cfg.Boundaries.Table, log)
	default:
		boundaryRepo = boundaries.NewFileRepository(cfg.Boundaries.GeoJSONDir, log)
		zapLog.Info("Using GeoJSON file boundary source", zap.String("dir", cfg.Boundaries.GeoJSONDir))
	}

	// --- Audit (optional) ---
	var auditIndexer *audit.Indexer
	if cfg.Audit.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")
		auditIndexer = audit.NewIndexer(esClient, cfg.Audit, log)
	}

	// --- Notifications (optional) ---
	var notifier *notify.Notifier
	if cfg.Notifications.Email.Enabled || cfg.Notifications.SMS.Enabled {
		var sesClient *awsclients.SESClient
		var snsClient *awsclients.SNSClient
		if cfg.Notifications.Email.Enabled {
			sesClient, err = awsclients.NewSESClient(ctx, cfg.Notifications.AWS.Region)
			if err != nil {
				zapLog.Fatal("ses client failed", zap.Error(err))
			}
		}
		if cfg.Notifications.SMS.Enabled {
			snsClient, err = awsclients.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
			if err != nil {
				zapLog.Fatal("sns client failed", zap.Error(err))
			}
		}
		notifier = notify.NewNotifier(sesClient, snsClient, cfg.Notifications, log)
	}

	// --- Covariate Registry ---
	reg := registry.Default()
	if cfg.Pipeline.RegistryPath != "" {
		reg, err = registry.Load(cfg.Pipeline.RegistryPath)
		if err != nil {
			zapLog.Fatal("covariate registry load failed", zap.Error(err))
		}
	}
	zapLog.Info("Covariate registry loaded", zap.String("version", reg.Version), zap.Int("zones", len(reg.Zones)))
	for _, z := range zone.Zones() {
		if _, ok := reg.Profile(z); !ok {
			// Sessions selecting a state in this zone will fail region resolution.
			zapLog.Warn("Covariate registry has no profile for zone", zap.String("zone", z))
		}
	}

	store := session.NewStore(redis, time.Duration(cfg.Pipeline.SessionTTL)*time.Second)

	svc := service.New(cfg, service.Dependencies{
		Store:      store,
		Boundaries: boundaryRepo,
		Registry:   reg,
		Audit:      auditIndexer,
		Notifier:   notifier,
		Obs:        obs,
	}, log)

	server := &http.Server{
		Addr:    ":8080",
		Handler: api.NewServer(svc, log).Handler(),
	}

	go func() {
		zapLog.Info("API server listening on :8080")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("API server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down API server", zap.Error(err))
	}

	zapLog.Info("Pipeline manager stopped gracefully")
}
