package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/port"
)

type mockObjectStorage struct {
	mu      sync.Mutex
	uploads map[string][]byte
	types   map[string]string
}

func newMockObjectStorage() *mockObjectStorage {
	return &mockObjectStorage{uploads: make(map[string][]byte), types: make(map[string]string)}
}

func (m *mockObjectStorage) Upload(_ context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[key] = data
	m.types[key] = contentType
	return "https://cdn.example.com/" + key, nil
}

func newProductService(store port.DocumentStore, images port.ObjectStorage) *ProductService {
	log, _ := newLogger()
	return NewProductService(store, NewInventoryService(store, InventoryConfig{}, log), images, 5, log)
}

func ptr[T any](v T) *T {
	return &v
}

func productInput(name string, stock int) ProductInput {
	return ProductInput{
		Name:  name,
		Brand: "acme",
		Size:  ptr(500.0),
		Price: ptr(decimal.RequireFromString("2.50")),
		Stock: ptr(stock),
		SKU:   "SKU-" + strings.ToUpper(name),
	}
}

func TestProductService_Create(t *testing.T) {
	store := newMemoryStore()
	images := newMockObjectStorage()
	svc := newProductService(store, images)
	ctx := context.Background()

	p, err := svc.Create(ctx, productInput("Cola", 12), &Image{
		Filename:    "cola.PNG",
		ContentType: "image/png",
		Body:        bytes.NewReader([]byte("png")),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.False(t, p.IsDeleted)
	assert.True(t, strings.HasPrefix(p.ImageURL, "https://cdn.example.com/products/"))
	assert.True(t, strings.HasSuffix(p.ImageURL, ".png"))
	require.Len(t, images.uploads, 1)

	stored, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, stored.Name)
	assert.Equal(t, p.ImageURL, stored.ImageURL)
	assert.Equal(t, 12, stored.Stock)
	assert.True(t, stored.Price.Equal(decimal.RequireFromString("2.5")))
}

func TestProductService_CreateValidation(t *testing.T) {
	svc := newProductService(newMemoryStore(), nil)
	ctx := context.Background()

	without := func(mutate func(*ProductInput)) ProductInput {
		in := productInput("Cola", 1)
		mutate(&in)
		return in
	}
	cases := map[string]ProductInput{
		"name":           without(func(in *ProductInput) { in.Name = " " }),
		"brand":          without(func(in *ProductInput) { in.Brand = "" }),
		"size":           without(func(in *ProductInput) { in.Size = nil }),
		"price":          without(func(in *ProductInput) { in.Price = nil }),
		"stock":          without(func(in *ProductInput) { in.Stock = nil }),
		"negative stock": without(func(in *ProductInput) { in.Stock = ptr(-1) }),
		"negative price": without(func(in *ProductInput) { in.Price = ptr(decimal.NewFromInt(-1)) }),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(ctx, in, nil)
			assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
		})
	}

	_, err := svc.Create(ctx, productInput("Cola", 1), &Image{Filename: "a.png", Body: strings.NewReader("x")})
	assert.True(t, errors.Is(err, domain.ErrValidation), "uploads need object storage")
}

func TestProductService_UpdateMergesAndKeepsStock(t *testing.T) {
	store := newMemoryStore()
	svc := newProductService(store, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, productInput("Cola", 12), nil)
	require.NoError(t, err)
	_, err = svc.Delete(ctx, p.ID)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, p.ID, ProductInput{
		Price: ptr(decimal.RequireFromString("3")),
		Stock: ptr(999),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Cola", updated.Name)
	assert.Equal(t, "acme", updated.Brand)
	assert.True(t, updated.Price.Equal(decimal.NewFromInt(3)))
	assert.False(t, updated.IsDeleted)
	assert.Nil(t, updated.DeletedAt)

	stored, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, stored.Stock, "stock only moves through the ledger")
	assert.False(t, stored.IsDeleted)
	assert.Nil(t, stored.DeletedAt)

	_, err = svc.Update(ctx, "ghost", ProductInput{Name: "x"}, nil)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestProductService_DeleteHidesFromListings(t *testing.T) {
	store := newMemoryStore()
	svc := newProductService(store, nil)
	ctx := context.Background()

	keep, err := svc.Create(ctx, productInput("Cola", 1), nil)
	require.NoError(t, err)
	gone, err := svc.Create(ctx, productInput("Colada", 1), nil)
	require.NoError(t, err)

	deleted, err := svc.Delete(ctx, gone.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.NotNil(t, deleted.DeletedAt)

	list, err := svc.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, list.Data, 1)
	assert.Equal(t, keep.ID, list.Data[0].ID)

	found, err := svc.Search(ctx, "cola", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, found.Total)

	stored, err := svc.Get(ctx, gone.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted)
}

func TestProductService_Paginated(t *testing.T) {
	store := newMemoryStore()
	svc := newProductService(store, nil)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		p, err := svc.Create(ctx, productInput(name, 1), nil)
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	_, err := svc.Delete(ctx, ids[1])
	require.NoError(t, err)

	first, err := svc.Paginated(ctx, domain.PageRequest{PageSize: 2})
	require.NoError(t, err)
	assert.True(t, first.HasMore)
	require.Len(t, first.Data, 1, "deleted rows are filtered after the fetch")
	assert.Equal(t, ids[0], first.Data[0].ID)

	cursor, err := DecodeCursor(first.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, ids[2], cursor.Key)

	second, err := svc.Paginated(ctx, domain.PageRequest{PageSize: 2, Cursor: cursor})
	require.NoError(t, err)
	assert.True(t, second.HasMore)
	assert.Equal(t, []string{ids[2], ids[3]}, []string{second.Data[0].ID, second.Data[1].ID})

	legacy, err := svc.Paginated(ctx, domain.PageRequest{PageSize: 2, Cursor: &domain.Cursor{Key: ids[4], Direction: domain.Ascending}})
	require.NoError(t, err)
	assert.False(t, legacy.HasMore)
	assert.Len(t, legacy.Data, 1)
}

func TestProductService_Search(t *testing.T) {
	store := newMemoryStore()
	svc := newProductService(store, nil)
	ctx := context.Background()

	for _, name := range []string{"Coca Cola", "Pepsi", "cola zero", "Water"} {
		_, err := svc.Create(ctx, productInput(name, 1), nil)
		require.NoError(t, err)
	}
	in := productInput("Juice", 1)
	in.SKU = "COLA-JUICE"
	_, err := svc.Create(ctx, in, nil)
	require.NoError(t, err)

	found, err := svc.Search(ctx, "COLA", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, found.Total)
	assert.Len(t, found.Data, 2)
	assert.True(t, found.HasMore)
}

func TestProductService_LowStock(t *testing.T) {
	store := newMemoryStore()
	svc := newProductService(store, nil)
	ctx := context.Background()

	for name, stock := range map[string]int{"a": 0, "b": 4, "c": 5, "d": 20, "e": 2} {
		_, err := svc.Create(ctx, productInput(name, stock), nil)
		require.NoError(t, err)
	}

	low, err := svc.LowStock(ctx, 10)
	require.NoError(t, err)

	var stocks []int
	for _, p := range low.Data {
		stocks = append(stocks, p.Stock)
	}
	assert.Equal(t, []int{0, 2, 4}, stocks)
	assert.Equal(t, 3, low.Total)
}

func TestProductService_LowStockSkipsDeletedProducts(t *testing.T) {
	store := newMemoryStore()
	svc := newProductService(store, nil)
	ctx := context.Background()

	for i, stock := range []int{0, 1, 2} {
		p, err := svc.Create(ctx, productInput(fmt.Sprintf("gone-%d", i), stock), nil)
		require.NoError(t, err)
		_, err = svc.Delete(ctx, p.ID)
		require.NoError(t, err)
	}
	live, err := svc.Create(ctx, productInput("live", 3), nil)
	require.NoError(t, err)
	_, err = svc.Create(ctx, productInput("plenty", 9), nil)
	require.NoError(t, err)

	low, err := svc.LowStock(ctx, 3)
	require.NoError(t, err)
	require.Len(t, low.Data, 1)
	assert.Equal(t, live.ID, low.Data[0].ID)
	assert.Equal(t, 1, low.Total)
}

func TestProductService_AdjustStock(t *testing.T) {
	store := newMemoryStore()
	svc := newProductService(store, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, productInput("Cola", 3), nil)
	require.NoError(t, err)

	p, err = svc.AdjustStock(ctx, p.ID, 4, domain.StockActionAdd)
	require.NoError(t, err)
	assert.Equal(t, 7, p.Stock)

	p, err = svc.AdjustStock(ctx, p.ID, 7, domain.StockActionRemove)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)

	_, err = svc.AdjustStock(ctx, p.ID, 1, domain.StockActionRemove)
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock))

	_, err = svc.AdjustStock(ctx, p.ID, 1, "steal")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}
