package tests

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/retail-pos/internal/adapter/storage"
	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/core/service"
	"github.com/rl1809/retail-pos/internal/port"
)

var seller = domain.Identity{ID: "integration-seller", Email: "seller@pos.local", Role: domain.RoleSeller}

type testEnv struct {
	name    string
	store   port.DocumentStore
	cleanup func()
}

// setupRedis uses a dedicated logical database and flushes it, so it never
// touches data in the default one.
func setupRedis(t *testing.T) testEnv {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	db := 15
	if v := os.Getenv("REDIS_TEST_DB"); v != "" {
		db, _ = strconv.Atoi(v)
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	rdb.FlushDB(context.Background())

	return testEnv{
		name:  "redis",
		store: storage.NewRedisAdapter(rdb, storage.DefaultIndexes()),
		cleanup: func() {
			rdb.FlushDB(context.Background())
			rdb.Close()
		},
	}
}

func setupMySQL(t *testing.T) testEnv {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/pos_test?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	adapter := storage.NewMySQLAdapter(db)
	require.NoError(t, adapter.EnsureSchema(context.Background()))

	wipe := func() {
		db.Exec(`DELETE FROM documents WHERE collection IN ('products', 'sales', 'idempotency')`)
	}
	wipe()

	return testEnv{
		name:  "mysql",
		store: adapter,
		cleanup: func() {
			wipe()
			db.Close()
		},
	}
}

// forEachStore runs fn against every backend that is reachable.
func forEachStore(t *testing.T, fn func(t *testing.T, env testEnv)) {
	for name, setup := range map[string]func(*testing.T) testEnv{
		"redis": setupRedis,
		"mysql": setupMySQL,
	} {
		t.Run(name, func(t *testing.T) {
			env := setup(t)
			defer env.cleanup()
			fn(t, env)
		})
	}
}

func newServices(store port.DocumentStore) (*service.SaleService, *service.InventoryService) {
	log, _ := test.NewNullLogger()
	inventory := service.NewInventoryService(store, service.InventoryConfig{
		Mode:       service.StockWriteCAS,
		MaxRetries: 64,
	}, log)
	return service.NewSaleService(store, inventory, service.SaleWorkflowCompensating, log), inventory
}

func seed(t *testing.T, store port.DocumentStore, id, price string, stock int) {
	t.Helper()
	created, err := store.CreateAt(context.Background(), port.Path("products", id), domain.Product{
		Name:  "item " + id,
		Brand: "integration",
		Size:  1,
		Price: decimal.RequireFromString(price),
		Stock: stock,
		SKU:   "INT-" + id,
	})
	require.NoError(t, err)
	require.True(t, created)
}

func TestIntegration_ConcurrentSalesNeverOversell(t *testing.T) {
	forEachStore(t, func(t *testing.T, env testEnv) {
		ctx := context.Background()
		sales, inventory := newServices(env.store)

		productID := "oversell-" + uuid.NewString()
		initialStock := 10
		seed(t, env.store, productID, "1500", initialStock)

		var successCount atomic.Int32
		var wg sync.WaitGroup
		totalRequests := 20

		for i := 0; i < totalRequests; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := sales.Create(ctx, service.CreateSaleInput{
					Total:  decimal.RequireFromString("1500"),
					Items:  []domain.SaleItemRequest{{ProductID: productID, Quantity: 1}},
					Seller: seller,
				})
				if err == nil {
					successCount.Add(1)
					return
				}
				assert.True(t, errors.Is(err, domain.ErrInsufficientStock), "unexpected error: %v", err)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(initialStock), successCount.Load())

		p, err := inventory.GetProduct(ctx, productID)
		require.NoError(t, err)
		assert.Equal(t, 0, p.Stock)

		page, err := sales.List(ctx, domain.PageRequest{PageSize: 100})
		require.NoError(t, err)
		assert.Len(t, page.Data, initialStock)
	})
}

func TestIntegration_RollbackOnInsufficientStock(t *testing.T) {
	forEachStore(t, func(t *testing.T, env testEnv) {
		ctx := context.Background()
		sales, inventory := newServices(env.store)

		plenty := "plenty-" + uuid.NewString()
		scarce := "scarce-" + uuid.NewString()
		seed(t, env.store, plenty, "100", 5)
		seed(t, env.store, scarce, "200", 1)

		_, err := sales.Create(ctx, service.CreateSaleInput{
			Total: decimal.RequireFromString("600"),
			Items: []domain.SaleItemRequest{
				{ProductID: plenty, Quantity: 2},
				{ProductID: scarce, Quantity: 2},
			},
			Seller: seller,
		})
		require.True(t, errors.Is(err, domain.ErrInsufficientStock), "got %v", err)

		for id, want := range map[string]int{plenty: 5, scarce: 1} {
			p, err := inventory.GetProduct(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, want, p.Stock, "stock of %s", id)
		}
	})
}

func TestIntegration_IdempotencyPreventsDoubleSale(t *testing.T) {
	forEachStore(t, func(t *testing.T, env testEnv) {
		ctx := context.Background()
		sales, inventory := newServices(env.store)

		productID := "idempotent-" + uuid.NewString()
		seed(t, env.store, productID, "250", 10)

		in := service.CreateSaleInput{
			Total:          decimal.RequireFromString("500"),
			Items:          []domain.SaleItemRequest{{ProductID: productID, Quantity: 2}},
			Seller:         seller,
			IdempotencyKey: fmt.Sprintf("same-request-%s", uuid.NewString()),
		}

		first, err := sales.Create(ctx, in)
		require.NoError(t, err)

		second, err := sales.Create(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, first.OrderID, second.OrderID)

		p, err := inventory.GetProduct(ctx, productID)
		require.NoError(t, err)
		assert.Equal(t, 8, p.Stock)
	})
}
