package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/retail-pos/internal/adapter/storage"
	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/core/service"
	"github.com/rl1809/retail-pos/internal/port"
)

const (
	productID = "stress-test-product"
	unitPrice = "990"
)

var (
	redisAddr     = flag.String("redis", "", "run against this Redis address instead of memory")
	initialStock  = flag.Int("stock", 20, "starting stock")
	totalRequests = flag.Int("requests", 50, "concurrent single-unit sales")
)

type result struct {
	mode       service.StockWriteMode
	success    int32
	fail       int32
	finalStock int
	elapsed    time.Duration
}

func main() {
	flag.Parse()
	ctx := context.Background()

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	var results []result
	for _, mode := range []service.StockWriteMode{service.StockWriteCAS, service.StockWriteLegacy} {
		store, cleanup := openStore(ctx)
		results = append(results, run(ctx, store, mode, quiet))
		cleanup()
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	for _, r := range results {
		fmt.Println("------------------------------------------")
		fmt.Printf("Stock Mode:       %s\n", r.mode)
		fmt.Printf("Successful:       %d\n", r.success)
		fmt.Printf("Failed:           %d\n", r.fail)
		fmt.Printf("Final Stock:      %d\n", r.finalStock)
		fmt.Printf("Duration:         %v\n", r.elapsed)

		// every unit sold must be gone from stock
		if sold := int(r.success); sold+r.finalStock == *initialStock {
			fmt.Println("PASS: stock matches sales")
		} else {
			fmt.Printf("FAIL: %d sold but stock went %d -> %d (oversold by %d)\n",
				sold, *initialStock, r.finalStock, sold+r.finalStock-*initialStock)
		}
	}
	fmt.Println("==========================================")
}

func run(ctx context.Context, store port.DocumentStore, mode service.StockWriteMode, logger logrus.FieldLogger) result {
	_, err := store.CreateAt(ctx, port.Path("products", productID), domain.Product{
		Name:  "stress item",
		Brand: "stress",
		Size:  1,
		Price: decimal.RequireFromString(unitPrice),
		Stock: *initialStock,
		SKU:   "STRESS-1",
	})
	if err != nil {
		log.Fatalf("failed to seed product: %v", err)
	}

	inventory := service.NewInventoryService(store, service.InventoryConfig{Mode: mode, MaxRetries: 32}, logger)
	sales := service.NewSaleService(store, inventory, service.SaleWorkflowCompensating, logger)
	seller := domain.Identity{ID: "stress-seller", Email: "stress@pos.local", Role: domain.RoleSeller}

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := sales.Create(ctx, service.CreateSaleInput{
				Total:  decimal.RequireFromString(unitPrice),
				Items:  []domain.SaleItemRequest{{ProductID: productID, Quantity: 1}},
				Seller: seller,
			})
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	p, err := inventory.GetProduct(ctx, productID)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}

	return result{
		mode:       mode,
		success:    successCount.Load(),
		fail:       failCount.Load(),
		finalStock: p.Stock,
		elapsed:    elapsed,
	}
}

func openStore(ctx context.Context) (port.DocumentStore, func()) {
	if *redisAddr == "" {
		return storage.NewMemoryAdapter(), func() {}
	}

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr, PoolSize: 100})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}

	reset := func() {
		keys, _ := rdb.Keys(ctx, "*products*").Result()
		more, _ := rdb.Keys(ctx, "*sales*").Result()
		if keys = append(keys, more...); len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
	}
	reset()

	return storage.NewRedisAdapter(rdb, storage.DefaultIndexes()), func() {
		reset()
		rdb.Close()
	}
}
