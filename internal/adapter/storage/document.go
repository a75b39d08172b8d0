package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/rl1809/retail-pos/internal/port"
)

var (
	ErrInvalidPath       = errors.New("invalid document path")
	ErrNotAnObject       = errors.New("document body must be a JSON object")
	ErrIndexNotDefined   = errors.New("index not defined")
	ErrOptimisticLock    = errors.New("optimistic lock conflict")
	ErrTooMuchContention = errors.New("document is under heavy contention")
)

// maxTxAttempts bounds the optimistic retry loops of the remote adapters.
const maxTxAttempts = 16

// Indexes declares, per collection, the child fields RangeByChild may order
// or filter on. Backends that need explicit indexes refuse undeclared fields.
type Indexes map[string][]string

func (ix Indexes) has(collection, field string) bool {
	for _, f := range ix[collection] {
		if f == field {
			return true
		}
	}
	return false
}

// DefaultIndexes covers every child query the services issue.
func DefaultIndexes() Indexes {
	return Indexes{
		"products":    {"stock"},
		"sales":       {"date", "orderId"},
		"users":       {"email", "rut"},
		"idempotency": {"status"},
	}
}

func newKey() string {
	return uuid.Must(uuid.NewV7()).String()
}

func splitPath(path string) (string, string, error) {
	collection, key, ok := port.SplitPath(path)
	if !ok {
		return "", "", errors.Wrapf(ErrInvalidPath, "%q", path)
	}
	return collection, key, nil
}

// encodeDocument marshals value and checks that it is a JSON object.
func encodeDocument(value any) ([]byte, map[string]any, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshal document")
	}
	doc, err := decodeDocument(body)
	if err != nil {
		return nil, nil, err
	}
	return body, doc, nil
}

// decodeDocument keeps numbers as json.Number so fields a write does not
// touch are re-encoded exactly as they were stored.
func decodeDocument(body []byte) (map[string]any, error) {
	var doc map[string]any
	if err := unmarshalNumbers(body, &doc); err != nil {
		return nil, errors.Wrap(ErrNotAnObject, err.Error())
	}
	if doc == nil {
		return nil, ErrNotAnObject
	}
	return doc, nil
}

// normalize gives v the shape it takes after a JSON round trip, so values
// coming from Go code compare equal to values decoded from stored bodies.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal value")
	}
	var out any
	if err := unmarshalNumbers(raw, &out); err != nil {
		return nil, errors.Wrap(err, "unmarshal value")
	}
	return out, nil
}

func unmarshalNumbers(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// number reads a JSON number without going through float64.
func number(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(t), true
	}
	return decimal.Decimal{}, false
}

// mergeFields applies fields to doc in place.
func mergeFields(doc map[string]any, fields map[string]any) error {
	for name, value := range fields {
		v, err := normalize(value)
		if err != nil {
			return err
		}
		doc[name] = v
	}
	return nil
}

// typeRank orders JSON types: null, false, true, numbers, strings, objects.
func typeRank(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case bool:
		if t {
			return 2
		}
		return 1
	case json.Number, float64:
		return 3
	case string:
		return 4
	default:
		return 5
	}
}

// compareValues orders two normalized JSON values.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case json.Number, float64:
		x, _ := number(av)
		y, _ := number(b)
		return x.Cmp(y)
	case string:
		return strings.Compare(av, b.(string))
	case nil, bool:
		return 0
	default:
		ja, _ := json.Marshal(a)
		jb, _ := json.Marshal(b)
		return bytes.Compare(ja, jb)
	}
}

func compareEntries(av any, ak string, bv any, bk string) int {
	if c := compareValues(av, bv); c != 0 {
		return c
	}
	return strings.Compare(ak, bk)
}

// withinBound reports whether (value, key) lies on the requested side of b.
func withinBound(value any, key string, b *port.Bound, bv any, descending bool) bool {
	if b == nil {
		return true
	}
	c := compareValues(value, bv)
	if c == 0 && b.Key != "" {
		c = strings.Compare(key, b.Key)
	}
	if descending {
		return c <= 0
	}
	return c >= 0
}

// encodeIndexValue renders a normalized value so that byte order of the
// encoding matches compareValues. Numbers are indexed at float64 precision;
// values that differ only beyond it tie and fall back to key order.
func encodeIndexValue(v any) string {
	if n, ok := v.(json.Number); ok {
		f, _ := n.Float64()
		v = f
	}
	switch t := v.(type) {
	case nil:
		return "0"
	case bool:
		if t {
			return "2"
		}
		return "1"
	case float64:
		bits := math.Float64bits(t)
		if t >= 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		return fmt.Sprintf("3%016x", bits)
	case string:
		return "4" + t
	default:
		raw, _ := json.Marshal(t)
		return "5" + string(raw)
	}
}

type entry struct {
	key   string
	value any
	body  []byte
}

func sortEntries(entries []entry, descending bool) {
	sort.Slice(entries, func(i, j int) bool {
		c := compareEntries(entries[i].value, entries[i].key, entries[j].value, entries[j].key)
		if descending {
			return c > 0
		}
		return c < 0
	})
}
