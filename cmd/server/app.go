package main

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rl1809/retail-pos/internal/adapter/handler"
	"github.com/rl1809/retail-pos/internal/adapter/storage"
	"github.com/rl1809/retail-pos/internal/auth"
	"github.com/rl1809/retail-pos/internal/config"
	"github.com/rl1809/retail-pos/internal/core/service"
	"github.com/rl1809/retail-pos/internal/port"
)

// app holds everything the commands share. close releases the store
// connection.
type app struct {
	cfg    config.Config
	log    *logrus.Logger
	store  port.DocumentStore
	tokens *auth.TokenManager
	svc    handler.Services
	close  func()
}

func newApp(ctx context.Context, cfg config.Config, log *logrus.Logger) (*app, error) {
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	var images port.ObjectStorage
	if cfg.S3Bucket != "" {
		s3, err := storage.NewS3Adapter(ctx, storage.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Key:      cfg.S3Key,
			Secret:   cfg.S3Secret,
			Endpoint: cfg.S3Endpoint,
			BaseURL:  cfg.S3BaseURL,
		})
		if err != nil {
			closeStore()
			return nil, err
		}
		images = s3
		log.WithField("bucket", cfg.S3Bucket).Info("image uploads enabled")
	}

	inventory := service.NewInventoryService(store, service.InventoryConfig{
		Mode:       service.StockWriteMode(cfg.StockWriteMode),
		MaxRetries: cfg.StockMaxRetries,
	}, log)
	sales := service.NewSaleService(store, inventory, service.SaleWorkflow(cfg.SaleWorkflow), log)
	sales.SetPendingTTL(cfg.IdempotencyPendingTTL)
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	users := service.NewUserService(store, log)

	return &app{
		cfg:    cfg,
		log:    log,
		store:  store,
		tokens: tokens,
		svc: handler.Services{
			Sales:    sales,
			Products: service.NewProductService(store, inventory, images, cfg.LowStockThreshold, log),
			Users:    users,
			Auth:     service.NewAuthService(users, tokens),
		},
		close: closeStore,
	}, nil
}

func openStore(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (port.DocumentStore, func(), error) {
	log := logger.WithField("driver", cfg.StoreDriver)

	switch cfg.StoreDriver {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			DB:       cfg.RedisDB,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, errors.Wrap(err, "connect redis")
		}
		log.Info("connected to redis")
		return storage.NewRedisAdapter(rdb, storage.DefaultIndexes()), func() { rdb.Close() }, nil

	case "mysql":
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open mysql")
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, errors.Wrap(err, "ping mysql")
		}
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("connected to mysql")
		return adapter, func() { db.Close() }, nil

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect mongo")
		}
		disconnect := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Disconnect(ctx)
		}
		if err := client.Ping(ctx, nil); err != nil {
			disconnect()
			return nil, nil, errors.Wrap(err, "ping mongo")
		}
		adapter := storage.NewMongoAdapter(client.Database(cfg.MongoDB), storage.DefaultIndexes())
		if err := adapter.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, nil, err
		}
		log.Info("connected to mongo")
		return adapter, disconnect, nil

	case "memory":
		log.Warn("using in-memory store, data is lost on exit")
		return storage.NewMemoryAdapter(), func() {}, nil
	}

	return nil, nil, errors.Errorf("unknown store driver %q", cfg.StoreDriver)
}
