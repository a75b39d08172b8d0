package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/rl1809/retail-pos/internal/port"
)

// MemoryAdapter keeps the document tree in process memory. It backs the
// tests and the stress tool, and orders on any child field without indexes.
type MemoryAdapter struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{docs: make(map[string]map[string][]byte)}
}

func (m *MemoryAdapter) Get(_ context.Context, path string) (*port.Record, error) {
	collection, key, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	body, ok := m.docs[collection][key]
	if !ok {
		return nil, nil
	}
	return &port.Record{Key: key, Body: clone(body)}, nil
}

func (m *MemoryAdapter) RangeByKey(_ context.Context, collection string, r port.KeyRange) ([]port.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := m.docs[collection]
	keys := make([]string, 0, len(docs))
	for key := range docs {
		if key >= r.StartAt {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if r.Limit > 0 && len(keys) > r.Limit {
		keys = keys[:r.Limit]
	}

	records := make([]port.Record, 0, len(keys))
	for _, key := range keys {
		records = append(records, port.Record{Key: key, Body: clone(docs[key])})
	}
	return records, nil
}

func (m *MemoryAdapter) RangeByChild(_ context.Context, collection string, r port.ChildRange) ([]port.Record, error) {
	equalTo, err := normalize(r.EqualTo)
	if err != nil {
		return nil, err
	}
	var boundValue any
	if r.StartAt != nil {
		if boundValue, err = normalize(r.StartAt.Value); err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []entry
	for key, body := range m.docs[collection] {
		doc, err := decodeDocument(body)
		if err != nil {
			return nil, err
		}
		value := doc[r.Field]
		if r.EqualTo != nil && compareValues(value, equalTo) != 0 {
			continue
		}
		if !withinBound(value, key, r.StartAt, boundValue, r.Descending) {
			continue
		}
		entries = append(entries, entry{key: key, value: value, body: body})
	}
	sortEntries(entries, r.Descending)
	if r.Limit > 0 && len(entries) > r.Limit {
		entries = entries[:r.Limit]
	}

	records := make([]port.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, port.Record{Key: e.key, Body: clone(e.body)})
	}
	return records, nil
}

func (m *MemoryAdapter) Insert(_ context.Context, collection string, value any) (string, error) {
	body, _, err := encodeDocument(value)
	if err != nil {
		return "", err
	}
	key := newKey()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.collection(collection)[key] = body
	return key, nil
}

func (m *MemoryAdapter) CreateAt(_ context.Context, path string, value any) (bool, error) {
	collection, key, err := splitPath(path)
	if err != nil {
		return false, err
	}
	body, _, err := encodeDocument(value)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	docs := m.collection(collection)
	if _, exists := docs[key]; exists {
		return false, nil
	}
	docs[key] = body
	return true, nil
}

func (m *MemoryAdapter) UpdateFields(_ context.Context, path string, fields map[string]any) error {
	_, err := m.mutate(path, func(doc map[string]any) (bool, error) {
		return true, mergeFields(doc, fields)
	})
	return err
}

func (m *MemoryAdapter) CompareAndSwap(_ context.Context, path, field string, expected, next any) (bool, error) {
	want, err := normalize(expected)
	if err != nil {
		return false, err
	}
	return m.mutate(path, func(doc map[string]any) (bool, error) {
		if compareValues(doc[field], want) != 0 {
			return false, nil
		}
		return true, mergeFields(doc, map[string]any{field: next})
	})
}

func (m *MemoryAdapter) Ping(context.Context) error {
	return nil
}

func (m *MemoryAdapter) mutate(path string, apply func(doc map[string]any) (bool, error)) (bool, error) {
	collection, key, err := splitPath(path)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	body, ok := m.docs[collection][key]
	if !ok {
		return false, port.ErrDocumentNotFound
	}
	doc, err := decodeDocument(body)
	if err != nil {
		return false, err
	}
	applied, err := apply(doc)
	if err != nil || !applied {
		return false, err
	}
	updated, _, err := encodeDocument(doc)
	if err != nil {
		return false, err
	}
	m.docs[collection][key] = updated
	return true, nil
}

func (m *MemoryAdapter) collection(name string) map[string][]byte {
	docs, ok := m.docs[name]
	if !ok {
		docs = make(map[string][]byte)
		m.docs[name] = docs
	}
	return docs
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
