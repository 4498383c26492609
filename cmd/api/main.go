package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"product-order-api/internal/config"
	"product-order-api/internal/handler"
	"product-order-api/internal/infra/cache"
	"product-order-api/internal/infra/db"
	"product-order-api/internal/infra/event"
	infraRepo "product-order-api/internal/infra/repository"
	"product-order-api/internal/logger"
	repo "product-order-api/internal/repository"
	"product-order-api/internal/server"
	"product-order-api/internal/usecase"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	//.envは無くてもよい（環境変数が優先）
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("load config")
	}

	log := logger.New(cfg.LogLevel, cfg.IsDev())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	//DB接続
	gormDB, err := db.Connect(cfg.DB, log)
	if err != nil {
		return err
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := db.Migrate(gormDB); err != nil {
		return err
	}

	//二重送信防止キー（REDIS_ADDRがあれば）
	var idem repo.IdempotencyStore
	if cfg.Redis.Addr != "" {
		rdb := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, continuing")
		}
		idem = cache.NewIdempotencyRedis(rdb, cfg.Redis.IdempotencyTTL)
	}

	//注文イベント（KAFKA_BROKERSがあれば）
	var events repo.OrderEventPublisher = event.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		pub := event.NewKafkaOrderPublisher(event.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer pub.Close()
		events = pub
	}

	//Repository（GORM実装）生成
	txm := infraRepo.NewTxManagerGorm(gormDB)
	productRepo := infraRepo.NewProductGormRepository(gormDB)

	//Usecase生成
	productUC := usecase.NewProductUsecase(txm, productRepo, log)
	orderUC := usecase.NewOrderUsecase(txm, events, idem, log)

	//Handler生成
	e := server.New(log, server.Handlers{
		Health: handler.NewHealthHandler(func(ctx context.Context) error {
			return db.Ping(ctx, gormDB)
		}, log),
		Product: handler.NewProductHandler(productUC),
		Order:   handler.NewOrderHandler(orderUC),
	})

	//Server起動
	return server.Start(ctx, e, cfg.Addr(), log)
}
