package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/metrics"
	"github.com/rl1809/retail-pos/internal/port"
)

type SaleWorkflow string

const (
	// SaleWorkflowCompensating prices every line before touching stock and
	// rolls back applied decrements when a later step fails.
	SaleWorkflowCompensating SaleWorkflow = "compensating"
	// SaleWorkflowLegacy decrements each line as it is priced and never
	// rolls back.
	SaleWorkflowLegacy SaleWorkflow = "legacy"
)

const (
	defaultSalePageSize  = 10
	maxIdempotencyKeyLen = 128
	defaultPendingTTL    = 2 * time.Minute
)

var (
	errDuplicateRequest = domain.Conflict("duplicate request")
	errKeyReused        = domain.Conflict("idempotency key was already used for a different sale")
)

type CreateSaleInput struct {
	Total          decimal.Decimal
	Items          []domain.SaleItemRequest
	Seller         domain.Identity
	Voucher        string
	IdempotencyKey string
}

type SaleService struct {
	store    port.DocumentStore
	ledger   Ledger
	workflow SaleWorkflow
	log      logrus.FieldLogger

	// pendingTTL is how long a pending idempotency claim blocks retries
	// before it is treated as abandoned.
	pendingTTL time.Duration

	now     func() time.Time
	orderID func(time.Time) string
}

func NewSaleService(store port.DocumentStore, ledger Ledger, workflow SaleWorkflow, log logrus.FieldLogger) *SaleService {
	if workflow == "" {
		workflow = SaleWorkflowCompensating
	}
	return &SaleService{
		store:      store,
		ledger:     ledger,
		workflow:   workflow,
		log:        log,
		pendingTTL: defaultPendingTTL,
		now:        time.Now,
		orderID:    newOrderID,
	}
}

// SetPendingTTL changes how long a pending idempotency claim is honoured.
// Non-positive values keep the default.
func (s *SaleService) SetPendingTTL(ttl time.Duration) {
	if ttl > 0 {
		s.pendingTTL = ttl
	}
}

func (s *SaleService) Create(ctx context.Context, in CreateSaleInput) (domain.Sale, error) {
	ctx, span := tracer.Start(ctx, "SaleService.Create", trace.WithAttributes(
		attribute.String("sale.workflow", string(s.workflow)),
		attribute.Int("sale.lines", len(in.Items)),
	))
	defer span.End()

	sale, err := s.create(ctx, in)
	if err != nil {
		metrics.SaleFailures.WithLabelValues(failureReason(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Sale{}, err
	}

	span.SetAttributes(attribute.String("sale.id", sale.ID), attribute.String("sale.order_id", sale.OrderID))
	return sale, nil
}

func (s *SaleService) create(ctx context.Context, in CreateSaleInput) (domain.Sale, error) {
	if err := validateSale(in); err != nil {
		return domain.Sale{}, err
	}

	var claimPath string
	if in.IdempotencyKey != "" {
		claimPath = idempotencyPath(in.Seller.ID, in.IdempotencyKey)
		replay, err := s.claim(ctx, claimPath, fingerprint(in))
		if err != nil {
			return domain.Sale{}, err
		}
		if replay != nil {
			return *replay, nil
		}
	}

	var (
		sale domain.Sale
		err  error
	)
	if s.workflow == SaleWorkflowLegacy {
		sale, err = s.createLegacy(ctx, in)
	} else {
		sale, err = s.createCompensating(ctx, in)
	}

	if claimPath != "" {
		s.settle(ctx, claimPath, sale, err)
	}
	if err != nil {
		return domain.Sale{}, err
	}

	metrics.SalesCreated.Inc()
	s.log.WithFields(logrus.Fields{
		"sale_id":  sale.ID,
		"order_id": sale.OrderID,
		"seller":   sale.Seller.ID,
		"total":    sale.Total.String(),
	}).Info("sale created")
	return sale, nil
}

// createLegacy decrements each line right after pricing it. Stock stays
// decremented when a later line or the total check fails.
func (s *SaleService) createLegacy(ctx context.Context, in CreateSaleInput) (domain.Sale, error) {
	orderID := s.orderID(s.now())

	computed := decimal.Zero
	lines := make([]domain.SaleLine, 0, len(in.Items))
	for _, item := range in.Items {
		product, err := s.saleableProduct(ctx, item.ProductID)
		if err != nil {
			return domain.Sale{}, err
		}
		lineTotal := product.LineTotal(item.Quantity)
		computed = computed.Add(lineTotal)

		if _, err := s.ledger.DecreaseStock(ctx, item.ProductID, item.Quantity); err != nil {
			return domain.Sale{}, err
		}
		lines = append(lines, domain.SaleLine{Product: product, Quantity: item.Quantity, Total: lineTotal})
	}

	if !computed.Equal(in.Total) {
		return domain.Sale{}, totalMismatch(computed, in.Total)
	}
	return s.persist(ctx, orderID, in, lines, computed)
}

func (s *SaleService) createCompensating(ctx context.Context, in CreateSaleInput) (domain.Sale, error) {
	orderID := s.orderID(s.now())

	computed := decimal.Zero
	lines := make([]domain.SaleLine, 0, len(in.Items))
	for _, item := range in.Items {
		product, err := s.saleableProduct(ctx, item.ProductID)
		if err != nil {
			return domain.Sale{}, err
		}
		lineTotal := product.LineTotal(item.Quantity)
		computed = computed.Add(lineTotal)
		lines = append(lines, domain.SaleLine{Product: product, Quantity: item.Quantity, Total: lineTotal})
	}
	if !computed.Equal(in.Total) {
		return domain.Sale{}, totalMismatch(computed, in.Total)
	}

	applied := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		if _, err := s.ledger.DecreaseStock(ctx, line.Product.ID, line.Quantity); err != nil {
			s.compensate(ctx, orderID, applied)
			return domain.Sale{}, err
		}
		applied = append(applied, line)
	}

	sale, err := s.persist(ctx, orderID, in, lines, computed)
	if err != nil {
		s.compensate(ctx, orderID, applied)
		return domain.Sale{}, err
	}
	return sale, nil
}

// compensate gives back applied decrements in reverse order. It keeps going
// when one of them fails; the caller still reports the original error.
func (s *SaleService) compensate(ctx context.Context, orderID string, applied []domain.SaleLine) {
	ctx = context.WithoutCancel(ctx)

	for i := len(applied) - 1; i >= 0; i-- {
		line := applied[i]
		if _, err := s.ledger.IncreaseStock(ctx, line.Product.ID, line.Quantity); err != nil {
			metrics.StockCompensations.WithLabelValues("failed").Inc()
			s.log.WithError(err).WithFields(logrus.Fields{
				"order_id":   orderID,
				"product_id": line.Product.ID,
				"quantity":   line.Quantity,
			}).Error("CRITICAL: failed to restore stock after aborted sale")
			continue
		}
		metrics.StockCompensations.WithLabelValues("restored").Inc()
	}
}

func (s *SaleService) persist(ctx context.Context, orderID string, in CreateSaleInput, lines []domain.SaleLine, total decimal.Decimal) (domain.Sale, error) {
	sale := domain.Sale{
		OrderID:  orderID,
		Seller:   in.Seller,
		Products: lines,
		Total:    total,
		Date:     domain.FormatDate(s.now()),
		Voucher:  in.Voucher,
	}

	key, err := s.store.Insert(ctx, salesCollection, sale)
	if err != nil {
		return domain.Sale{}, errors.Wrap(err, "insert sale")
	}
	sale.ID = key
	return sale, nil
}

// claim reserves the idempotency key at path. A non-nil sale means the
// request was already served and must be replayed.
func (s *SaleService) claim(ctx context.Context, path, fp string) (*domain.Sale, error) {
	now := domain.FormatDate(s.now())

	created, err := s.store.CreateAt(ctx, path, domain.IdempotencyRecord{
		Status:      domain.IdempotencyPending,
		Fingerprint: fp,
		CreatedAt:   now,
	})
	if err != nil {
		return nil, errors.Wrap(err, "claim idempotency key")
	}
	if created {
		return nil, nil
	}

	rec, err := s.store.Get(ctx, path)
	if err != nil {
		return nil, errors.Wrap(err, "read idempotency key")
	}
	if rec == nil {
		return nil, errDuplicateRequest
	}
	var record domain.IdempotencyRecord
	if err := json.Unmarshal(rec.Body, &record); err != nil {
		return nil, errors.Wrap(err, "decode idempotency key")
	}

	// a failed attempt created nothing, so it may be retried with any body
	if record.Status != domain.IdempotencyFailed && record.Fingerprint != "" && record.Fingerprint != fp {
		return nil, errKeyReused
	}

	switch record.Status {
	case domain.IdempotencyCompleted:
		sale, err := s.Get(ctx, record.SaleID)
		if err != nil {
			return nil, err
		}
		return &sale, nil

	case domain.IdempotencyFailed:
		swapped, err := s.store.CompareAndSwap(ctx, path, "status", domain.IdempotencyFailed, domain.IdempotencyPending)
		if err != nil {
			return nil, errors.Wrap(err, "reclaim idempotency key")
		}
		if swapped {
			err = s.store.UpdateFields(ctx, path, map[string]any{"fingerprint": fp, "createdAt": now})
			return nil, errors.Wrap(err, "reclaim idempotency key")
		}

	case domain.IdempotencyPending:
		if !s.abandoned(record) {
			break
		}
		swapped, err := s.store.CompareAndSwap(ctx, path, "createdAt", record.CreatedAt, now)
		if err != nil {
			return nil, errors.Wrap(err, "reclaim idempotency key")
		}
		if swapped {
			s.log.WithField("idempotency_key", path).Warn("reclaimed abandoned idempotency key")
			return nil, nil
		}
	}
	return nil, errDuplicateRequest
}

// abandoned reports whether a pending claim outlived pendingTTL. Claims
// without a readable timestamp are never considered abandoned.
func (s *SaleService) abandoned(record domain.IdempotencyRecord) bool {
	claimed, err := time.Parse(domain.DateLayout, record.CreatedAt)
	if err != nil {
		return false
	}
	return s.now().Sub(claimed) > s.pendingTTL
}

func (s *SaleService) settle(ctx context.Context, path string, sale domain.Sale, saleErr error) {
	fields := map[string]any{"status": domain.IdempotencyCompleted, "saleId": sale.ID}
	if saleErr != nil {
		fields = map[string]any{"status": domain.IdempotencyFailed}
	}

	err := s.store.UpdateFields(context.WithoutCancel(ctx), path, fields)
	if err != nil {
		s.log.WithError(err).WithField("idempotency_key", path).Error("failed to settle idempotency key")
	}
}

// saleableProduct loads a product for a sale line. Soft-deleted products
// can no longer be sold.
func (s *SaleService) saleableProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.ledger.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if product.IsDeleted {
		return domain.Product{}, domain.NotFound("product %q not found", id)
	}
	return product, nil
}

func (s *SaleService) Get(ctx context.Context, id string) (domain.Sale, error) {
	if !validKey(id) {
		return domain.Sale{}, domain.NotFound("sale %q not found", id)
	}
	rec, err := s.store.Get(ctx, port.Path(salesCollection, id))
	if err != nil {
		return domain.Sale{}, errors.Wrapf(err, "get sale %s", id)
	}
	if rec == nil {
		return domain.Sale{}, domain.NotFound("sale %q not found", id)
	}
	return decodeSale(*rec)
}

// List pages through sales newest first. Soft-deleted sales are skipped.
func (s *SaleService) List(ctx context.Context, req domain.PageRequest) (domain.Page[domain.Sale], error) {
	size := pageSize(req.PageSize, defaultSalePageSize)

	r := port.ChildRange{Field: "date", Limit: size + 1, Descending: true}
	if c := req.Cursor; c != nil {
		if c.Direction != domain.Descending {
			return domain.Page[domain.Sale]{}, domain.Validation("cursor does not belong to this listing")
		}
		r.StartAt = &port.Bound{Value: c.Value, Key: c.Key}
	}

	records, err := s.store.RangeByChild(ctx, salesCollection, r)
	if err != nil {
		return domain.Page[domain.Sale]{}, errors.Wrap(err, "list sales")
	}

	return page(records, size, decodeSale,
		func(sale domain.Sale) bool { return !sale.Deleted },
		func(rec port.Record, sale domain.Sale) domain.Cursor {
			return domain.Cursor{Value: sale.Date, Key: rec.Key, Direction: domain.Descending}
		},
	)
}

// Delete marks the sale deleted. Stock is not given back.
func (s *SaleService) Delete(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.Get(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}

	sale.Deleted = true
	sale.DeletedAt = domain.EpochMillis(s.now())
	err = s.store.UpdateFields(ctx, port.Path(salesCollection, id), map[string]any{
		"deleted":   sale.Deleted,
		"deletedAt": sale.DeletedAt,
	})
	if errors.Is(err, port.ErrDocumentNotFound) {
		return domain.Sale{}, domain.NotFound("sale %q not found", id)
	}
	if err != nil {
		return domain.Sale{}, errors.Wrapf(err, "delete sale %s", id)
	}
	return sale, nil
}

func validateSale(in CreateSaleInput) error {
	if len(in.Items) == 0 {
		return domain.Validation("a sale needs at least one product")
	}
	for i, item := range in.Items {
		if item.ProductID == "" {
			return domain.Validation("products[%d]: id is required", i)
		}
		if item.Quantity <= 0 {
			return domain.Validation("products[%d]: quantity must be a positive integer", i)
		}
	}
	if in.Total.IsNegative() {
		return domain.Validation("total must not be negative")
	}
	if in.Seller.ID == "" {
		return domain.Unauthorized("missing seller")
	}
	if len(in.IdempotencyKey) > maxIdempotencyKeyLen || (in.IdempotencyKey != "" && !validKey(in.Seller.ID+":"+in.IdempotencyKey)) {
		return domain.Validation("invalid idempotency key")
	}
	return nil
}

// idempotencyPath scopes a client key to the seller that sent it.
func idempotencyPath(sellerID, key string) string {
	return port.Path(idempotencyCollection, sellerID+":"+key)
}

// fingerprint hashes the parts of a sale request a replay must repeat.
func fingerprint(in CreateSaleInput) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n", in.Total.String(), in.Voucher)
	for _, item := range in.Items {
		fmt.Fprintf(h, "%s\x00%d\n", item.ProductID, item.Quantity)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func totalMismatch(computed, sent decimal.Decimal) error {
	return domain.TotalMismatch("total mismatch: computed %s, received %s", computed.String(), sent.String())
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrTotalMismatch):
		return "total_mismatch"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	}
	return "internal"
}
