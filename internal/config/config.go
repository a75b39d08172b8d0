// Package config loads process settings from the environment.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

type Config struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	GRPCAddr        string        `envconfig:"GRPC_ADDR" default:":50051"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"redis"`
	RedisAddr   string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB     int    `envconfig:"REDIS_DB" default:"0"`
	MySQLDSN    string `envconfig:"MYSQL_DSN" default:"root:root@tcp(localhost:3306)/pos?parseTime=true"`
	MongoURI    string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDB     string `envconfig:"MONGO_DB" default:"pos"`

	SaleWorkflow      string `envconfig:"SALE_WORKFLOW" default:"compensating"`
	StockWriteMode    string `envconfig:"STOCK_WRITE_MODE" default:"cas"`
	StockMaxRetries   int    `envconfig:"STOCK_MAX_RETRIES" default:"8"`
	LowStockThreshold int    `envconfig:"LOW_STOCK_THRESHOLD" default:"5"`

	IdempotencyPendingTTL time.Duration `envconfig:"IDEMPOTENCY_PENDING_TTL" default:"2m"`

	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	JWTTTL    time.Duration `envconfig:"JWT_TTL" default:"24h"`

	S3Bucket   string `envconfig:"S3_BUCKET"`
	S3Region   string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Key      string `envconfig:"S3_KEY"`
	S3Secret   string `envconfig:"S3_SECRET"`
	S3Endpoint string `envconfig:"S3_ENDPOINT"`
	S3BaseURL  string `envconfig:"S3_BASE_URL"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"retail-pos"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case "redis", "mysql", "mongo", "memory":
	default:
		return errors.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.SaleWorkflow {
	case "compensating", "legacy":
	default:
		return errors.Errorf("config: unknown SALE_WORKFLOW %q", c.SaleWorkflow)
	}
	switch c.StockWriteMode {
	case "cas", "legacy":
	default:
		return errors.Errorf("config: unknown STOCK_WRITE_MODE %q", c.StockWriteMode)
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("config: JWT_SECRET must be at least 16 characters")
	}
	return nil
}
