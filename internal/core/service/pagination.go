package service

import (
	"encoding/base64"
	"encoding/json"

	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/port"
)

const maxPageSize = 100

// EncodeCursor renders c as the opaque nextCursor string.
func EncodeCursor(c domain.Cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a nextCursor string. An empty string is no cursor.
func DecodeCursor(s string) (*domain.Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, domain.Validation("malformed cursor")
	}
	var c domain.Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, domain.Validation("malformed cursor")
	}
	if c.Direction != domain.Ascending && c.Direction != domain.Descending {
		return nil, domain.Validation("malformed cursor")
	}
	return &c, nil
}

func pageSize(requested, fallback int) int {
	switch {
	case requested <= 0:
		return fallback
	case requested > maxPageSize:
		return maxPageSize
	}
	return requested
}

// page turns an over-fetched result (size+1 rows) into a page. Invisible rows
// are dropped after the fetch, so a page may hold fewer than size rows while
// hasMore is still true.
func page[T any](
	records []port.Record,
	size int,
	decode func(port.Record) (T, error),
	visible func(T) bool,
	cursor func(port.Record, T) domain.Cursor,
) (domain.Page[T], error) {
	var more *port.Record
	if len(records) > size {
		more = &records[size]
		records = records[:size]
	}

	out := domain.Page[T]{Data: make([]T, 0, len(records))}
	for _, rec := range records {
		item, err := decode(rec)
		if err != nil {
			return domain.Page[T]{}, err
		}
		if visible(item) {
			out.Data = append(out.Data, item)
		}
	}
	out.Total = len(out.Data)

	if more != nil {
		item, err := decode(*more)
		if err != nil {
			return domain.Page[T]{}, err
		}
		out.HasMore = true
		out.NextCursor = EncodeCursor(cursor(*more, item))
	}
	return out, nil
}

func keyCursor(rec port.Record) domain.Cursor {
	return domain.Cursor{Key: rec.Key, Direction: domain.Ascending}
}
