package port

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var ErrDocumentNotFound = errors.New("document not found")

// Record is one document of a collection. Body is a JSON object.
type Record struct {
	Key  string
	Body json.RawMessage
}

// Bound is an inclusive (child value, key) position. An empty Key covers
// every key that carries Value.
type Bound struct {
	Value any
	Key   string
}

type KeyRange struct {
	StartAt string
	Limit   int
}

type ChildRange struct {
	Field string
	// EqualTo restricts results to documents whose field equals it. Nil means
	// no equality filter.
	EqualTo    any
	StartAt    *Bound
	Limit      int
	Descending bool
}

type DocumentStore interface {
	// Get returns nil when nothing is stored at path
	Get(ctx context.Context, path string) (*Record, error)

	// RangeByKey lists a collection in key order starting at r.StartAt
	RangeByKey(ctx context.Context, collection string, r KeyRange) ([]Record, error)

	// RangeByChild lists a collection ordered by (child value, key)
	RangeByChild(ctx context.Context, collection string, r ChildRange) ([]Record, error)

	// Insert stores value under a generated, time-ordered key
	Insert(ctx context.Context, collection string, value any) (string, error)

	// CreateAt stores value at path only if nothing is there yet
	CreateAt(ctx context.Context, path string, value any) (bool, error)

	// UpdateFields merges the named top-level fields into the document at path
	UpdateFields(ctx context.Context, path string, fields map[string]any) error

	// CompareAndSwap sets field to next only while it still equals expected
	CompareAndSwap(ctx context.Context, path, field string, expected, next any) (bool, error)

	Ping(ctx context.Context) error
}

func Path(collection, key string) string {
	return collection + "/" + key
}

// SplitPath breaks "collection/key" apart. ok is false for anything else.
func SplitPath(path string) (collection, key string, ok bool) {
	path = strings.Trim(path, "/")
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 || idx == len(path)-1 {
		return "", "", false
	}
	return path[:idx], path[idx+1:], true
}
