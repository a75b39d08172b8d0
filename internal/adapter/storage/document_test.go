package storage

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/retail-pos/internal/port"
)

func TestCompareValues_TypeOrder(t *testing.T) {
	ordered := []any{nil, false, true, float64(-3), float64(0), float64(2.5), "", "a", "b", map[string]any{"x": 1.0}}

	for i := range ordered {
		for j := range ordered {
			got := compareValues(ordered[i], ordered[j])
			switch {
			case i < j:
				assert.Equal(t, -1, got, "%v < %v", ordered[i], ordered[j])
			case i > j:
				assert.Equal(t, 1, got, "%v > %v", ordered[i], ordered[j])
			default:
				assert.Equal(t, 0, got)
			}
		}
	}
}

func TestCompareValues_Numbers(t *testing.T) {
	assert.Equal(t, 0, compareValues(json.Number("5"), json.Number("5.0")))
	assert.Equal(t, 0, compareValues(json.Number("4"), float64(4)))
	assert.Equal(t, -1, compareValues(json.Number("0.12345678901234567890"), json.Number("0.12345678901234567891")))
	assert.Equal(t, 1, compareValues(json.Number("10"), json.Number("9.5")))
	assert.Equal(t, encodeIndexValue(float64(4)), encodeIndexValue(json.Number("4")))
}

func TestDecodeDocument_KeepsNumbersExact(t *testing.T) {
	doc, err := decodeDocument([]byte(`{"price":0.12345678901234567891,"stock":10}`))
	require.NoError(t, err)
	require.NoError(t, mergeFields(doc, map[string]any{"stock": 9}))

	body, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":0.12345678901234567891,"stock":9}`, string(body))
	assert.Contains(t, string(body), `"price":0.12345678901234567891`)
}

func TestEncodeIndexValue_PreservesOrder(t *testing.T) {
	values := []any{nil, false, true, float64(-1e9), float64(-2.5), float64(-1), float64(0), float64(0.5), float64(1), float64(10), float64(1e12), "", "2024-01-01T00:00:00.000Z", "2024-01-02T00:00:00.000Z", "z"}

	encoded := make([]string, len(values))
	for i, v := range values {
		encoded[i] = encodeIndexValue(v)
	}
	assert.True(t, sort.StringsAreSorted(encoded), "%q", encoded)
}

func TestNormalize(t *testing.T) {
	v, err := normalize(7)
	require.NoError(t, err)
	assert.Equal(t, json.Number("7"), v)

	v, err = normalize(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestWithinBound(t *testing.T) {
	b := &port.Bound{Value: 2.0, Key: "m"}

	assert.True(t, withinBound(2.0, "m", b, 2.0, false))
	assert.True(t, withinBound(2.0, "z", b, 2.0, false))
	assert.False(t, withinBound(2.0, "a", b, 2.0, false))
	assert.True(t, withinBound(3.0, "a", b, 2.0, false))

	assert.True(t, withinBound(2.0, "a", b, 2.0, true))
	assert.False(t, withinBound(2.0, "z", b, 2.0, true))
	assert.True(t, withinBound(nil, "z", nil, nil, true))
}

func TestSplitPath(t *testing.T) {
	for path, want := range map[string][2]string{
		"products/abc":   {"products", "abc"},
		"/sales/k1/":     {"sales", "k1"},
		"idempotency/x1": {"idempotency", "x1"},
	} {
		collection, key, err := splitPath(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, [2]string{collection, key})
	}

	for _, path := range []string{"", "products", "products/", "/k"} {
		_, _, err := splitPath(path)
		assert.ErrorIs(t, err, ErrInvalidPath, path)
	}
}

func TestNewKey_SortsByCreation(t *testing.T) {
	keys := make([]string, 100)
	for i := range keys {
		keys[i] = newKey()
	}
	assert.True(t, sort.StringsAreSorted(keys))
}
