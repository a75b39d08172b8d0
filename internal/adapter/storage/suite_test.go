package storage

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/retail-pos/internal/port"
)

// testCollection returns a collection name unique to this run, with the
// child fields the suite orders on declared as indexes.
func testCollection() (string, Indexes) {
	name := "test_" + uuid.NewString()[:8]
	return name, Indexes{name: {"n", "s"}}
}

type doc struct {
	N int    `json:"n"`
	S string `json:"s"`
}

func keys(records []port.Record) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Key)
	}
	return out
}

func decode(t *testing.T, rec *port.Record) doc {
	t.Helper()
	require.NotNil(t, rec)
	var d doc
	require.NoError(t, json.Unmarshal(rec.Body, &d))
	return d
}

// runDocumentStoreSuite checks the behaviour every backend must share.
func runDocumentStoreSuite(t *testing.T, store port.DocumentStore, collection string) {
	ctx := context.Background()
	path := func(key string) string { return port.Path(collection, key) }

	seed := map[string]doc{
		"a": {N: 3, S: "2024-01-03"},
		"b": {N: 1, S: "2024-01-01"},
		"c": {N: 2, S: "2024-01-02"},
		"d": {N: 1, S: "2024-01-04"},
	}
	for key, d := range seed {
		created, err := store.CreateAt(ctx, path(key), d)
		require.NoError(t, err)
		require.True(t, created)
	}

	t.Run("get", func(t *testing.T) {
		rec, err := store.Get(ctx, path("a"))
		require.NoError(t, err)
		assert.Equal(t, "a", rec.Key)
		assert.Equal(t, seed["a"], decode(t, rec))

		rec, err = store.Get(ctx, path("missing"))
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("create at existing path", func(t *testing.T) {
		created, err := store.CreateAt(ctx, path("a"), doc{N: 99})
		require.NoError(t, err)
		assert.False(t, created)

		rec, err := store.Get(ctx, path("a"))
		require.NoError(t, err)
		assert.Equal(t, 3, decode(t, rec).N)
	})

	t.Run("range by key", func(t *testing.T) {
		all, err := store.RangeByKey(ctx, collection, port.KeyRange{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, keys(all))

		page, err := store.RangeByKey(ctx, collection, port.KeyRange{StartAt: "b", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, keys(page))
	})

	t.Run("range by child", func(t *testing.T) {
		asc, err := store.RangeByChild(ctx, collection, port.ChildRange{Field: "n"})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "d", "c", "a"}, keys(asc))

		desc, err := store.RangeByChild(ctx, collection, port.ChildRange{Field: "n", Descending: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c", "d", "b"}, keys(desc))

		from, err := store.RangeByChild(ctx, collection, port.ChildRange{Field: "n", StartAt: &port.Bound{Value: 1, Key: "d"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "c", "a"}, keys(from))

		below, err := store.RangeByChild(ctx, collection, port.ChildRange{
			Field:      "n",
			StartAt:    &port.Bound{Value: 2, Key: "c"},
			Descending: true,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "d", "b"}, keys(below))

		valueOnly, err := store.RangeByChild(ctx, collection, port.ChildRange{Field: "n", StartAt: &port.Bound{Value: 2}})
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "a"}, keys(valueOnly))

		equal, err := store.RangeByChild(ctx, collection, port.ChildRange{Field: "n", EqualTo: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "d"}, keys(equal))

		newest, err := store.RangeByChild(ctx, collection, port.ChildRange{Field: "s", Descending: true, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "a"}, keys(newest))
	})

	t.Run("insert", func(t *testing.T) {
		other := collection + "_ins"
		var inserted []string
		for i := 0; i < 5; i++ {
			key, err := store.Insert(ctx, other, doc{N: i})
			require.NoError(t, err)
			inserted = append(inserted, key)
		}

		all, err := store.RangeByKey(ctx, other, port.KeyRange{})
		require.NoError(t, err)
		assert.Equal(t, inserted, keys(all), "generated keys sort in creation order")
	})

	t.Run("update fields", func(t *testing.T) {
		require.NoError(t, store.UpdateFields(ctx, path("b"), map[string]any{"n": 5}))

		rec, err := store.Get(ctx, path("b"))
		require.NoError(t, err)
		assert.Equal(t, doc{N: 5, S: "2024-01-01"}, decode(t, rec), "other fields survive")

		asc, err := store.RangeByChild(ctx, collection, port.ChildRange{Field: "n"})
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "c", "a", "b"}, keys(asc), "ordering follows the new value")

		err = store.UpdateFields(ctx, path("missing"), map[string]any{"n": 1})
		assert.ErrorIs(t, err, port.ErrDocumentNotFound)
	})

	t.Run("compare and swap", func(t *testing.T) {
		swapped, err := store.CompareAndSwap(ctx, path("c"), "n", 2, 7)
		require.NoError(t, err)
		assert.True(t, swapped)

		swapped, err = store.CompareAndSwap(ctx, path("c"), "n", 2, 8)
		require.NoError(t, err)
		assert.False(t, swapped)

		rec, err := store.Get(ctx, path("c"))
		require.NoError(t, err)
		assert.Equal(t, 7, decode(t, rec).N)

		_, err = store.CompareAndSwap(ctx, path("missing"), "n", 1, 2)
		assert.ErrorIs(t, err, port.ErrDocumentNotFound)
	})

	t.Run("concurrent compare and swap", func(t *testing.T) {
		created, err := store.CreateAt(ctx, path("counter"), doc{N: 0})
		require.NoError(t, err)
		require.True(t, created)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					rec, err := store.Get(ctx, path("counter"))
					if !assert.NoError(t, err) {
						return
					}
					var d doc
					json.Unmarshal(rec.Body, &d)
					swapped, err := store.CompareAndSwap(ctx, path("counter"), "n", d.N, d.N+1)
					if !assert.NoError(t, err) || swapped {
						return
					}
				}
			}()
		}
		wg.Wait()

		rec, err := store.Get(ctx, path("counter"))
		require.NoError(t, err)
		assert.Equal(t, 8, decode(t, rec).N)
	})

	t.Run("writes leave other numbers untouched", func(t *testing.T) {
		// 2^53 + 1 does not survive a float64 round trip
		created, err := store.CreateAt(ctx, path("money"), map[string]any{
			"n":     json.Number("1"),
			"big":   json.Number("9007199254740993"),
			"price": json.Number("19.99"),
		})
		require.NoError(t, err)
		require.True(t, created)

		require.NoError(t, store.UpdateFields(ctx, path("money"), map[string]any{"s": "x"}))
		swapped, err := store.CompareAndSwap(ctx, path("money"), "n", 1, 2)
		require.NoError(t, err)
		require.True(t, swapped)

		rec, err := store.Get(ctx, path("money"))
		require.NoError(t, err)
		require.NotNil(t, rec)
		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(rec.Body, &raw))
		assert.Equal(t, "9007199254740993", string(raw["big"]))
		assert.Equal(t, "19.99", string(raw["price"]))
		assert.Equal(t, "2", string(raw["n"]))
	})

	t.Run("invalid path", func(t *testing.T) {
		_, err := store.Get(ctx, "no-key")
		assert.ErrorIs(t, err, ErrInvalidPath)
	})
}
