package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	httptransport "github.com/helpdesk-sla/ticket-sla/internal/api/http"
	"github.com/helpdesk-sla/ticket-sla/internal/api/http/handlers"
	"github.com/helpdesk-sla/ticket-sla/internal/app"
	"github.com/helpdesk-sla/ticket-sla/internal/config"
	"github.com/helpdesk-sla/ticket-sla/internal/events"
	"github.com/helpdesk-sla/ticket-sla/internal/observability"
	"github.com/helpdesk-sla/ticket-sla/internal/service"
	"github.com/helpdesk-sla/ticket-sla/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build runtime", zap.Error(err))
	}
	defer rt.Close()

	if _, err := rt.ImportCatalog(ctx); err != nil {
		logger.Fatal("failed to import sla catalog", zap.Error(err))
	}

	var hookOpts []worker.HookOption
	if rt.Memory != nil {
		hookOpts = append(hookOpts, worker.WithTicketMirror(rt.Memory))
	}
	worker.NewSLAHooks(rt.SLA, logger.Named("hooks"), hookOpts...).Register(rt.Dispatcher)

	var sink *events.KafkaSink
	if cfg.Kafka.Enabled() {
		sink = events.NewKafkaSink(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.NotificationsTopic), logger.Named("kafka"))
		defer sink.Close() //nolint:errcheck
	}
	notifications := service.NewNotificationService(rt.Dispatcher, logger.Named("notifications"))
	worker.StartNotificationWorker(rt.Dispatcher, notifications, sink)

	loc, err := cfg.SLA.Location()
	if err != nil {
		logger.Fatal("invalid timezone", zap.Error(err))
	}
	scheduler, err := worker.NewTickScheduler(rt.SLA, cfg.SLA.TickSchedule, cfg.SLA.TickTimeout, loc, logger.Named("tick"))
	if err != nil {
		logger.Fatal("invalid tick schedule", zap.Error(err))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Run(ctx); err != nil {
			logger.Error("tick scheduler stopped", zap.Error(err))
		}
	}()

	if cfg.Kafka.Enabled() {
		reader := events.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.TicketEventsTopic, cfg.Kafka.GroupID)
		consumer := events.NewKafkaConsumer(reader, rt.Dispatcher, logger.Named("kafka"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer reader.Close() //nolint:errcheck
			if err := consumer.Run(ctx); err != nil {
				logger.Error("ticket event consumer stopped", zap.Error(err))
			}
		}()
	}

	fiberApp := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(fiberApp, logger, rt.Metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(fiberApp, httptransport.RouteConfig{
		Health:  handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, rt.HealthChecks()),
		SLA:     handlers.NewSLAHandler(rt.SLA, rt.Audit, nil),
		Metrics: promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}),
	})

	go func() {
		if err := fiberApp.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = fiberApp.Shutdown()
	cancel()
	wg.Wait()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
