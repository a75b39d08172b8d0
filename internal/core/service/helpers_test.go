package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/retail-pos/internal/adapter/storage"
	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/port"
)

var errStoreDown = errors.New("store unavailable")

func newLogger() (*logrus.Logger, *logtest.Hook) {
	return logtest.NewNullLogger()
}

func seedProduct(t *testing.T, store port.DocumentStore, id, price string, stock int) {
	t.Helper()
	created, err := store.CreateAt(context.Background(), port.Path(productsCollection, id), domain.Product{
		Name:  "product " + id,
		Brand: "acme",
		Size:  1,
		Price: decimal.RequireFromString(price),
		Stock: stock,
		SKU:   "SKU-" + id,
	})
	require.NoError(t, err)
	require.True(t, created)
}

func stockOf(t *testing.T, store port.DocumentStore, id string) int {
	t.Helper()
	log, _ := newLogger()
	p, err := NewInventoryService(store, InventoryConfig{}, log).GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

// steppingClock advances by step on every call.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

// barrierStore holds the first parties product reads until all of them have
// read, so every one of them sees the same stock.
type barrierStore struct {
	port.DocumentStore

	mu      sync.Mutex
	parties int
	release chan struct{}
}

func newBarrierStore(inner port.DocumentStore, parties int) *barrierStore {
	return &barrierStore{DocumentStore: inner, parties: parties, release: make(chan struct{})}
}

func (b *barrierStore) Get(ctx context.Context, path string) (*port.Record, error) {
	rec, err := b.DocumentStore.Get(ctx, path)

	b.mu.Lock()
	if b.parties == 0 {
		b.mu.Unlock()
		return rec, err
	}
	b.parties--
	if b.parties == 0 {
		close(b.release)
	}
	b.mu.Unlock()

	<-b.release
	return rec, err
}

// failingStore fails the selected operations and delegates the rest.
type failingStore struct {
	port.DocumentStore

	mu         sync.Mutex
	failInsert bool
	failCAS    bool
	inserts    int
}

func (f *failingStore) Insert(ctx context.Context, collection string, value any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.failInsert {
		return "", errStoreDown
	}
	return f.DocumentStore.Insert(ctx, collection, value)
}

func (f *failingStore) CompareAndSwap(ctx context.Context, path, field string, expected, next any) (bool, error) {
	f.mu.Lock()
	fail := f.failCAS
	f.mu.Unlock()
	if fail {
		return false, errStoreDown
	}
	return f.DocumentStore.CompareAndSwap(ctx, path, field, expected, next)
}

func (f *failingStore) setFailCAS(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCAS = v
}

func newMemoryStore() *storage.MemoryAdapter {
	return storage.NewMemoryAdapter()
}

// alwaysLosingStore reports every compare-and-swap as lost to another writer.
type alwaysLosingStore struct {
	port.DocumentStore
}

func (alwaysLosingStore) CompareAndSwap(context.Context, string, string, any, any) (bool, error) {
	return false, nil
}
