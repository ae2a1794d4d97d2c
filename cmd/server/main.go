package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"giftledger/internal/config"
	"giftledger/internal/handler"
	"giftledger/internal/infrastructure/cache"
	"giftledger/internal/infrastructure/database"
	"giftledger/internal/infrastructure/lock"
	"giftledger/internal/infrastructure/mq"
	"giftledger/internal/job"
	"giftledger/internal/service"
	"giftledger/pkg/idgen"
	"giftledger/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zlog, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server exited", zap.Error(err))
	}
	zlog.Info("server stopped")
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := idgen.Init(cfg.App.NodeID); err != nil {
		return fmt.Errorf("init id generator: %w", err)
	}

	db, err := database.Open(cfg, zlog)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	// Per-card lock: Redis when configured, in-process otherwise.
	var locker lock.Locker = lock.NewLocalLocker()
	redisClient, err := cache.NewRedis(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient, cfg.Business.LockTTL)
		zlog.Info("using redis lock", zap.String("host", cfg.Redis.Host))
	} else {
		zlog.Warn("redis not configured, using in-process lock; run a single instance only")
	}

	giftCards := service.NewGiftCardService(db, locker, cfg, zlog)
	commissions := service.NewCommissionService(db, cfg, zlog)

	var publisher mq.Publisher = mq.NewLogPublisher(zlog)
	var consumer *mq.Consumer
	if cfg.Kafka.Enabled {
		kafkaPublisher, err := mq.NewKafkaPublisher(&cfg.Kafka)
		if err != nil {
			return err
		}
		publisher = kafkaPublisher

		consumer, err = mq.NewConsumer(&cfg.Kafka, []string{cfg.Kafka.Topic.OrderCompleted},
			job.NewOrderMessageHandler(commissions, zlog), zlog)
		if err != nil {
			_ = publisher.Close()
			return err
		}
	} else {
		zlog.Warn("kafka disabled, outbox events are only logged")
	}
	defer func() { _ = publisher.Close() }()

	g, ctx := errgroup.WithContext(ctx)

	outboxSender := job.NewOutboxSender(db, publisher, cfg, zlog)
	expiryJob := job.NewGiftCardExpiryJob(giftCards, cfg, zlog)
	compensateJob := job.NewCommissionCompensateJob(commissions, cfg, zlog)
	g.Go(func() error { outboxSender.Start(ctx); return nil })
	g.Go(func() error { expiryJob.Start(ctx); return nil })
	g.Go(func() error { compensateJob.Start(ctx); return nil })

	if consumer != nil {
		g.Go(func() error {
			defer consumer.Close()
			return consumer.Run(ctx)
		})
	}

	router := handler.SetupRouter(handler.NewHandler(giftCards, commissions, zlog), cfg, zlog)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		zlog.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		zlog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
