package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "redis", cfg.StoreDriver)
	assert.Equal(t, "compensating", cfg.SaleWorkflow)
	assert.Equal(t, "cas", cfg.StockWriteMode)
	assert.Equal(t, 5, cfg.LowStockThreshold)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, 2*time.Minute, cfg.IdempotencyPendingTTL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SALE_WORKFLOW", "legacy")
	t.Setenv("STOCK_MAX_RETRIES", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, "legacy", cfg.SaleWorkflow)
	assert.Equal(t, 3, cfg.StockMaxRetries)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret": {},
		"short secret":   {"JWT_SECRET": "short"},
		"driver":         {"JWT_SECRET": "0123456789abcdef", "STORE_DRIVER": "sqlite"},
		"workflow":       {"JWT_SECRET": "0123456789abcdef", "SALE_WORKFLOW": "yolo"},
		"stock mode":     {"JWT_SECRET": "0123456789abcdef", "STOCK_WRITE_MODE": "lock"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
