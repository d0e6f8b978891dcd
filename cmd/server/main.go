package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"bnpl/internal/bnpl"
	bnplhandler "bnpl/internal/bnpl/handler"
	"bnpl/internal/bnpl/storage"
	planmetrics "bnpl/internal/plan/metrics"
	planservice "bnpl/internal/plan/service"
	"bnpl/internal/plan/workers/overdue"
	"bnpl/internal/platform/config"
	"bnpl/internal/platform/database"
	"bnpl/internal/platform/health"
	"bnpl/internal/platform/kafka"
	"bnpl/internal/platform/kafka/consumer"
	"bnpl/internal/platform/kafka/producer"
	"bnpl/internal/platform/logger"
	platformredis "bnpl/internal/platform/redis"
	"bnpl/internal/platform/tracer"
	"bnpl/internal/trust/cache"
	trustmetrics "bnpl/internal/trust/metrics"
	trustservice "bnpl/internal/trust/service"
	"bnpl/migrations"
	"bnpl/pkg/platform/middleware/admin"
	"bnpl/pkg/platform/middleware/request"
	"bnpl/pkg/platform/outbox"
	outboxmetrics "bnpl/pkg/platform/outbox/metrics"
	outboxworker "bnpl/pkg/platform/outbox/worker"
	"bnpl/pkg/validation"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.NewWithOptions(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	log.Info("initializing bnpl engine", "addr", cfg.Server.Addr, "environment", cfg.Server.Environment)
	healthHandler := health.New(cfg.Server.Environment)

	pool, err := database.New(ctx, database.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	var stores *storage.Backend
	if pool != nil {
		defer pool.Close() //nolint:errcheck // shutdown path
		if cfg.Database.AutoMigrate {
			applied, err := database.Migrate(ctx, pool.DB(), migrations.FS)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("migrations applied", "count", len(applied), "files", applied)
		}
		healthHandler.RegisterCheck("postgres", pool.Health)
		stores = storage.NewPostgres(pool.DB())
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		stores = storage.NewMemory()
	}
	log.Info("storage selected", "backend", stores.Name)

	var profileCache trustservice.ProfileCache = cache.NewMemoryCache(cfg.Redis.ProfileTTL)
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck // shutdown path
		healthHandler.RegisterCheck("redis", redisClient.Health)
		profileCache = cache.NewRedisCache(redisClient.Client, cfg.Redis.ProfileTTL)
	}

	otel := tracer.NewOTel()
	trust := trustservice.New(stores.Profiles, stores.TrustTx, log,
		trustservice.WithCache(profileCache),
		trustservice.WithMetrics(trustmetrics.New()),
		trustservice.WithTracer(otel),
		trustservice.WithCoinsPerPayment(cfg.Trust.CoinsPerPayment))

	followUps := []outbox.Handler{bnpl.PaymentFollowUp(trust, log)}
	var (
		kafkaProducer *producer.Producer
		kafkaAdmin    *kafka.Admin
	)
	if cfg.Kafka.Enabled() {
		kafkaAdmin, err = kafka.NewAdmin(cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		defer kafkaAdmin.Close()
		if err := kafkaAdmin.EnsureTopics(ctx, 3, cfg.Kafka.PaymentsTopic, cfg.Kafka.RewardsTopic, cfg.Kafka.EventsTopic); err != nil {
			log.Warn("kafka topic provisioning failed", "error", err)
		}
		healthHandler.RegisterCheck("kafka", kafkaAdmin.Check)

		kafkaProducer, err = producer.New(producer.Config{
			Brokers:         cfg.Kafka.Brokers,
			Acks:            cfg.Kafka.ProducerAcks,
			Retries:         cfg.Kafka.ProducerRetry,
			DeliveryTimeout: cfg.Kafka.DeliverTimeout,
		}, log)
		if err != nil {
			return err
		}
		defer kafkaProducer.Close()
		followUps = append(followUps, bnpl.EventPublisher(kafkaProducer, cfg.Kafka.EventsTopic))
	}
	followUp := outbox.Chain(followUps...)

	ledger := planservice.New(stores.Plans, stores.LedgerTx, log,
		planservice.WithEligibilityPreCheck(trust),
		planservice.WithFollowUp(followUp, stores.Outbox),
		planservice.WithMetrics(planmetrics.New()),
		planservice.WithTracer(otel))
	engine := bnpl.New(trust, ledger, log)

	relay := outboxworker.New(stores.Outbox, followUp,
		outboxworker.WithBatchSize(cfg.Workers.OutboxBatchSize),
		outboxworker.WithPollInterval(cfg.Workers.OutboxPollInterval),
		outboxworker.WithRetention(cfg.Workers.OutboxRetention),
		outboxworker.WithMetrics(outboxmetrics.New()),
		outboxworker.WithLogger(log))

	sweeper, err := overdue.New(ledger,
		overdue.WithSchedule(cfg.Workers.OverdueSchedule),
		overdue.WithGracePeriod(cfg.Workers.OverdueGracePeriod),
		overdue.WithBatchSize(cfg.Workers.OverdueBatchSize),
		overdue.WithLogger(log))
	if err != nil {
		return err
	}

	var eventConsumer *consumer.Consumer
	if cfg.Kafka.Enabled() {
		eventConsumer, err = consumer.New(consumer.Config{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topics:  []string{cfg.Kafka.PaymentsTopic, cfg.Kafka.RewardsTopic},
		}, engine.EventConsumer(bnpl.Topics{
			Payments: cfg.Kafka.PaymentsTopic,
			Rewards:  cfg.Kafka.RewardsTopic,
		}), log)
		if err != nil {
			return err
		}
	}

	router := newRouter(cfg, log, engine, healthHandler)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	relay.Start()
	if eventConsumer != nil {
		eventConsumer.Start(gctx)
	}
	g.Go(func() error {
		if err := sweeper.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if pool != nil || redisClient != nil {
		g.Go(func() error {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if pool != nil {
						pool.RecordPoolStats()
					}
					if redisClient != nil {
						redisClient.RecordPoolStats()
					}
				}
			}
		})
	}
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if eventConsumer != nil {
			if err := eventConsumer.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("kafka consumer: %w", err))
			}
		}
		if err := relay.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("outbox worker: %w", err))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func newRouter(cfg config.Config, log *slog.Logger, engine *bnpl.Engine, healthHandler *health.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(log))
	r.Use(request.Logger(log, request.NewMetrics()))
	r.Use(request.BodyLimit(validation.MaxBodySize))
	r.Use(request.ContentTypeJSON)

	healthHandler.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	h := bnplhandler.New(engine, log, bnplhandler.SweepDefaults{
		GracePeriod: cfg.Workers.OverdueGracePeriod,
		BatchSize:   cfg.Workers.OverdueBatchSize,
	})
	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(cfg.Server.WriteTimeout))
		h.Register(r)
	})
	if cfg.Server.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(admin.RequireToken(cfg.Server.AdminToken, log))
			h.RegisterAdmin(r)
		})
	} else {
		log.Warn("ADMIN_API_TOKEN not set, admin routes disabled")
	}
	return r
}
