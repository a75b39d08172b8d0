package service

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/port"
)

const (
	defaultProductLimit      = 10
	defaultProductPageSize   = 5
	defaultLowStockLimit     = 8
	defaultLowStockThreshold = 5
)

// ProductInput carries the writable product fields. Nil pointers and empty
// strings mean "not provided".
type ProductInput struct {
	Name        string
	Brand       string
	Size        *float64
	Price       *decimal.Decimal
	Stock       *int
	SKU         string
	Description string
	ImageURL    string
}

type Image struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

type ProductService struct {
	store     port.DocumentStore
	ledger    Ledger
	images    port.ObjectStorage
	threshold int
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewProductService builds the catalogue service. images may be nil, in
// which case uploads are refused.
func NewProductService(store port.DocumentStore, ledger Ledger, images port.ObjectStorage, lowStockThreshold int, log logrus.FieldLogger) *ProductService {
	if lowStockThreshold <= 0 {
		lowStockThreshold = defaultLowStockThreshold
	}
	return &ProductService{
		store:     store,
		ledger:    ledger,
		images:    images,
		threshold: lowStockThreshold,
		log:       log,
		now:       time.Now,
	}
}

func (s *ProductService) Get(ctx context.Context, id string) (domain.Product, error) {
	return s.ledger.GetProduct(ctx, id)
}

// List returns up to limit products in key order starting at from.
func (s *ProductService) List(ctx context.Context, from string, limit int) (domain.Page[domain.Product], error) {
	limit = pageSize(limit, defaultProductLimit)
	records, err := s.store.RangeByKey(ctx, productsCollection, port.KeyRange{StartAt: from, Limit: limit + 1})
	if err != nil {
		return domain.Page[domain.Product]{}, errors.Wrap(err, "list products")
	}
	return page(records, limit, decodeProduct, productVisible, productCursor)
}

// Paginated pages through products in key order.
func (s *ProductService) Paginated(ctx context.Context, req domain.PageRequest) (domain.Page[domain.Product], error) {
	size := pageSize(req.PageSize, defaultProductPageSize)

	r := port.KeyRange{Limit: size + 1}
	if c := req.Cursor; c != nil {
		if c.Direction != domain.Ascending {
			return domain.Page[domain.Product]{}, domain.Validation("cursor does not belong to this listing")
		}
		r.StartAt = c.Key
	}

	records, err := s.store.RangeByKey(ctx, productsCollection, r)
	if err != nil {
		return domain.Page[domain.Product]{}, errors.Wrap(err, "list products")
	}
	return page(records, size, decodeProduct, productVisible, productCursor)
}

// Search matches term against name and sku, ignoring case. Total counts
// every match; Data holds at most limit of them.
func (s *ProductService) Search(ctx context.Context, term string, limit int) (domain.Page[domain.Product], error) {
	limit = pageSize(limit, defaultProductLimit)
	term = strings.ToLower(strings.TrimSpace(term))

	records, err := s.store.RangeByKey(ctx, productsCollection, port.KeyRange{})
	if err != nil {
		return domain.Page[domain.Product]{}, errors.Wrap(err, "search products")
	}

	out := domain.Page[domain.Product]{Data: []domain.Product{}}
	for _, rec := range records {
		p, err := decodeProduct(rec)
		if err != nil {
			return domain.Page[domain.Product]{}, err
		}
		if p.IsDeleted {
			continue
		}
		if !strings.Contains(strings.ToLower(p.Name), term) && !strings.Contains(strings.ToLower(p.SKU), term) {
			continue
		}
		out.Total++
		if len(out.Data) < limit {
			out.Data = append(out.Data, p)
		}
	}
	out.HasMore = out.Total > len(out.Data)
	return out, nil
}

// LowStock lists the products with the least stock, lowest first, keeping
// only live ones under the threshold. It pages through the stock index
// until limit rows are found or stock reaches the threshold.
func (s *ProductService) LowStock(ctx context.Context, limit int) (domain.Page[domain.Product], error) {
	limit = pageSize(limit, defaultLowStockLimit)
	out := domain.Page[domain.Product]{Data: []domain.Product{}}

	var from *port.Bound
	for {
		records, err := s.store.RangeByChild(ctx, productsCollection, port.ChildRange{
			Field:   "stock",
			StartAt: from,
			Limit:   limit + 1,
		})
		if err != nil {
			return domain.Page[domain.Product]{}, errors.Wrap(err, "list low stock products")
		}

		var last domain.Product
		for _, rec := range records {
			if from != nil && rec.Key == from.Key {
				continue
			}
			p, err := decodeProduct(rec)
			if err != nil {
				return domain.Page[domain.Product]{}, err
			}
			if p.Stock >= s.threshold {
				out.Total = len(out.Data)
				return out, nil
			}
			last = p
			if p.IsDeleted {
				continue
			}
			out.Data = append(out.Data, p)
			if len(out.Data) == limit {
				out.Total = limit
				return out, nil
			}
		}

		if len(records) <= limit || last.ID == "" {
			out.Total = len(out.Data)
			return out, nil
		}
		from = &port.Bound{Value: last.Stock, Key: last.ID}
	}
}

func (s *ProductService) Create(ctx context.Context, in ProductInput, image *Image) (domain.Product, error) {
	if err := validateNewProduct(in); err != nil {
		return domain.Product{}, err
	}

	p := domain.Product{
		Name:        strings.TrimSpace(in.Name),
		Brand:       strings.TrimSpace(in.Brand),
		Size:        *in.Size,
		Price:       *in.Price,
		Stock:       *in.Stock,
		SKU:         strings.TrimSpace(in.SKU),
		Description: in.Description,
		ImageURL:    in.ImageURL,
	}

	if image != nil {
		url, err := s.upload(ctx, image)
		if err != nil {
			return domain.Product{}, err
		}
		p.ImageURL = url
	}

	key, err := s.store.Insert(ctx, productsCollection, p)
	if err != nil {
		return domain.Product{}, errors.Wrap(err, "insert product")
	}
	p.ID = key

	s.log.WithFields(logrus.Fields{"product_id": key, "stock": p.Stock}).Info("product created")
	return p, nil
}

// Update merges the provided fields over the stored product and revives it
// when it was deleted. Stock is left to the ledger.
func (s *ProductService) Update(ctx context.Context, id string, in ProductInput, image *Image) (domain.Product, error) {
	p, err := s.ledger.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if err := validateProductValues(in); err != nil {
		return domain.Product{}, err
	}

	if v := strings.TrimSpace(in.Name); v != "" {
		p.Name = v
	}
	if v := strings.TrimSpace(in.Brand); v != "" {
		p.Brand = v
	}
	if in.Size != nil {
		p.Size = *in.Size
	}
	if in.Price != nil {
		p.Price = *in.Price
	}
	if v := strings.TrimSpace(in.SKU); v != "" {
		p.SKU = v
	}
	if in.Description != "" {
		p.Description = in.Description
	}
	if in.ImageURL != "" {
		p.ImageURL = in.ImageURL
	}
	if image != nil {
		url, err := s.upload(ctx, image)
		if err != nil {
			return domain.Product{}, err
		}
		p.ImageURL = url
	}
	p.IsDeleted = false
	p.DeletedAt = nil

	err = s.store.UpdateFields(ctx, port.Path(productsCollection, id), map[string]any{
		"name":        p.Name,
		"brand":       p.Brand,
		"size":        p.Size,
		"price":       p.Price,
		"sku":         p.SKU,
		"description": p.Description,
		"imageUrl":    p.ImageURL,
		"isDeleted":   false,
		"deletedAt":   nil,
	})
	if errors.Is(err, port.ErrDocumentNotFound) {
		return domain.Product{}, domain.NotFound("product %q not found", id)
	}
	if err != nil {
		return domain.Product{}, errors.Wrapf(err, "update product %s", id)
	}
	return p, nil
}

func (s *ProductService) Delete(ctx context.Context, id string) (domain.Product, error) {
	p, err := s.ledger.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	p.IsDeleted = true
	p.DeletedAt = domain.EpochMillis(s.now())
	err = s.store.UpdateFields(ctx, port.Path(productsCollection, id), map[string]any{
		"isDeleted": p.IsDeleted,
		"deletedAt": p.DeletedAt,
	})
	if errors.Is(err, port.ErrDocumentNotFound) {
		return domain.Product{}, domain.NotFound("product %q not found", id)
	}
	if err != nil {
		return domain.Product{}, errors.Wrapf(err, "delete product %s", id)
	}
	return p, nil
}

func (s *ProductService) AdjustStock(ctx context.Context, id string, quantity int, action domain.StockAction) (domain.Product, error) {
	switch action {
	case domain.StockActionAdd:
		return s.ledger.IncreaseStock(ctx, id, quantity)
	case domain.StockActionRemove:
		return s.ledger.DecreaseStock(ctx, id, quantity)
	}
	return domain.Product{}, domain.Validation("action must be %q or %q", domain.StockActionAdd, domain.StockActionRemove)
}

func (s *ProductService) upload(ctx context.Context, image *Image) (string, error) {
	if s.images == nil {
		return "", domain.Validation("image uploads are not configured")
	}
	key := "products/" + uuid.NewString() + strings.ToLower(path.Ext(image.Filename))
	url, err := s.images.Upload(ctx, key, image.Body, image.ContentType)
	if err != nil {
		return "", errors.Wrap(err, "upload product image")
	}
	return url, nil
}

func productVisible(p domain.Product) bool {
	return !p.IsDeleted
}

func productCursor(rec port.Record, _ domain.Product) domain.Cursor {
	return keyCursor(rec)
}

func validateNewProduct(in ProductInput) error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return domain.Validation("name is required")
	case strings.TrimSpace(in.Brand) == "":
		return domain.Validation("brand is required")
	case in.Size == nil:
		return domain.Validation("size is required")
	case in.Price == nil:
		return domain.Validation("price is required")
	case in.Stock == nil:
		return domain.Validation("stock is required")
	}
	if in.Stock != nil && *in.Stock < 0 {
		return domain.Validation("stock must not be negative")
	}
	return validateProductValues(in)
}

func validateProductValues(in ProductInput) error {
	if in.Size != nil && *in.Size < 0 {
		return domain.Validation("size must not be negative")
	}
	if in.Price != nil && in.Price.IsNegative() {
		return domain.Validation("price must not be negative")
	}
	return nil
}
