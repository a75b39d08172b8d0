package service

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/metrics"
	"github.com/rl1809/retail-pos/internal/port"
)

type StockWriteMode string

const (
	// StockWriteCAS writes stock with a compare-and-swap on the value read.
	StockWriteCAS StockWriteMode = "cas"
	// StockWriteLegacy reads then overwrites. Two concurrent writers can both
	// read the same value and one update is lost.
	StockWriteLegacy StockWriteMode = "legacy"
)

const (
	defaultStockRetries = 8
	backoffBase         = 5 * time.Millisecond
	backoffCap          = 100 * time.Millisecond
)

// Ledger is the only writer of product stock.
type Ledger interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	IncreaseStock(ctx context.Context, id string, amount int) (domain.Product, error)
	DecreaseStock(ctx context.Context, id string, amount int) (domain.Product, error)
}

type InventoryConfig struct {
	Mode       StockWriteMode
	MaxRetries int
}

type InventoryService struct {
	store      port.DocumentStore
	mode       StockWriteMode
	maxRetries int
	log        logrus.FieldLogger
}

func NewInventoryService(store port.DocumentStore, cfg InventoryConfig, log logrus.FieldLogger) *InventoryService {
	if cfg.Mode == "" {
		cfg.Mode = StockWriteCAS
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultStockRetries
	}
	return &InventoryService{
		store:      store,
		mode:       cfg.Mode,
		maxRetries: cfg.MaxRetries,
		log:        log,
	}
}

func (s *InventoryService) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if !validKey(id) {
		return domain.Product{}, domain.NotFound("product %q not found", id)
	}

	rec, err := s.store.Get(ctx, port.Path(productsCollection, id))
	if err != nil {
		return domain.Product{}, errors.Wrapf(err, "get product %s", id)
	}
	if rec == nil {
		return domain.Product{}, domain.NotFound("product %q not found", id)
	}
	return decodeProduct(*rec)
}

func (s *InventoryService) IncreaseStock(ctx context.Context, id string, amount int) (domain.Product, error) {
	return s.change(ctx, "InventoryService.IncreaseStock", id, amount, 1)
}

func (s *InventoryService) DecreaseStock(ctx context.Context, id string, amount int) (domain.Product, error) {
	return s.change(ctx, "InventoryService.DecreaseStock", id, amount, -1)
}

func (s *InventoryService) change(ctx context.Context, op, id string, amount, sign int) (domain.Product, error) {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("product.id", id),
		attribute.Int("stock.amount", amount),
		attribute.String("stock.mode", string(s.mode)),
	))
	defer span.End()

	if amount <= 0 {
		return domain.Product{}, domain.Validation("quantity must be a positive integer")
	}

	var (
		product domain.Product
		err     error
	)
	if s.mode == StockWriteLegacy {
		product, err = s.overwrite(ctx, id, sign*amount)
	} else {
		product, err = s.swap(ctx, id, sign*amount)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return product, err
}

// overwrite is the read-then-write path.
func (s *InventoryService) overwrite(ctx context.Context, id string, delta int) (domain.Product, error) {
	product, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	next := product.Stock + delta
	if next < 0 {
		return domain.Product{}, insufficientStock(product, -delta)
	}

	err = s.store.UpdateFields(ctx, port.Path(productsCollection, id), map[string]any{"stock": next})
	if errors.Is(err, port.ErrDocumentNotFound) {
		return domain.Product{}, domain.NotFound("product %q not found", id)
	}
	if err != nil {
		return domain.Product{}, errors.Wrapf(err, "update stock of %s", id)
	}

	product.Stock = next
	return product, nil
}

// swap retries a compare-and-swap on the stock field until it lands, the
// floor check fails, or the retry budget runs out.
func (s *InventoryService) swap(ctx context.Context, id string, delta int) (domain.Product, error) {
	path := port.Path(productsCollection, id)

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		product, err := s.GetProduct(ctx, id)
		if err != nil {
			return domain.Product{}, err
		}
		next := product.Stock + delta
		if next < 0 {
			return domain.Product{}, insufficientStock(product, -delta)
		}

		swapped, err := s.store.CompareAndSwap(ctx, path, "stock", product.Stock, next)
		if errors.Is(err, port.ErrDocumentNotFound) {
			return domain.Product{}, domain.NotFound("product %q not found", id)
		}
		if err != nil {
			return domain.Product{}, errors.Wrapf(err, "swap stock of %s", id)
		}
		if swapped {
			product.Stock = next
			return product, nil
		}

		metrics.StockConflicts.Inc()
		s.log.WithFields(logrus.Fields{
			"product_id": id,
			"attempt":    attempt + 1,
		}).Debug("stock changed concurrently, retrying")

		if err := sleep(ctx, backoff(attempt)); err != nil {
			return domain.Product{}, err
		}
	}

	return domain.Product{}, domain.Conflict("stock of product %q is changing too fast, try again", id)
}

func insufficientStock(p domain.Product, requested int) error {
	return domain.InsufficientStock("insufficient stock for product %q: %d available, %d requested",
		p.ID, p.Stock, requested)
}

// backoff grows exponentially up to backoffCap with full jitter.
func backoff(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	d := backoffBase << attempt
	if d > backoffCap {
		d = backoffCap
	}
	return time.Duration(rand.Int63n(int64(d)) + 1)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
