package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/rl1809/retail-pos/internal/port"
)

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection VARCHAR(191) COLLATE utf8mb4_bin NOT NULL,
	doc_key    VARCHAR(191) COLLATE utf8mb4_bin NOT NULL,
	body       JSON NOT NULL,
	version    INT NOT NULL DEFAULT 0,
	created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3) ON UPDATE CURRENT_TIMESTAMP(3),
	PRIMARY KEY (collection, doc_key)
)`

// MySQLAdapter keeps one row per document with the body in a JSON column.
// Every write goes through the version column, so concurrent writers of the
// same document see ErrOptimisticLock and retry instead of losing updates.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, mysqlSchema); err != nil {
		return errors.Wrap(err, "create documents table")
	}
	return nil
}

func (m *MySQLAdapter) Get(ctx context.Context, path string) (*port.Record, error) {
	collection, key, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	var body []byte
	err = m.db.QueryRowContext(ctx, `
		SELECT body FROM documents WHERE collection = ? AND doc_key = ?`,
		collection, key,
	).Scan(&body)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "query document %s", path)
	}
	return &port.Record{Key: key, Body: body}, nil
}

func (m *MySQLAdapter) RangeByKey(ctx context.Context, collection string, r port.KeyRange) ([]port.Record, error) {
	query := `SELECT doc_key, body FROM documents WHERE collection = ? AND doc_key >= ? ORDER BY doc_key`
	args := []any{collection, r.StartAt}
	if r.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, r.Limit)
	}
	return m.query(ctx, query, args...)
}

func (m *MySQLAdapter) RangeByChild(ctx context.Context, collection string, r port.ChildRange) ([]port.Record, error) {
	path := jsonPath(r.Field)
	value := `JSON_EXTRACT(body, ?)`

	where := []string{`collection = ?`}
	args := []any{collection}

	if r.EqualTo != nil {
		literal, err := jsonLiteral(r.EqualTo)
		if err != nil {
			return nil, err
		}
		where = append(where, value+` = CAST(? AS JSON)`)
		args = append(args, path, literal)
	}

	if r.StartAt != nil {
		literal, err := jsonLiteral(r.StartAt.Value)
		if err != nil {
			return nil, err
		}
		op := ">"
		if r.Descending {
			op = "<"
		}
		if r.StartAt.Key == "" {
			where = append(where, value+` `+op+`= CAST(? AS JSON)`)
			args = append(args, path, literal)
		} else {
			where = append(where, `(`+value+` `+op+` CAST(? AS JSON) OR (`+value+` = CAST(? AS JSON) AND doc_key `+op+`= ?))`)
			args = append(args, path, literal, path, literal, r.StartAt.Key)
		}
	}

	direction := "ASC"
	if r.Descending {
		direction = "DESC"
	}
	query := `SELECT doc_key, body FROM documents WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY ` + value + ` ` + direction + `, doc_key ` + direction
	args = append(args, path)

	if r.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, r.Limit)
	}
	return m.query(ctx, query, args...)
}

func (m *MySQLAdapter) Insert(ctx context.Context, collection string, value any) (string, error) {
	body, _, err := encodeDocument(value)
	if err != nil {
		return "", err
	}
	key := newKey()

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO documents (collection, doc_key, body) VALUES (?, ?, ?)`,
		collection, key, body,
	)
	if err != nil {
		return "", errors.Wrapf(err, "insert document into %s", collection)
	}
	return key, nil
}

func (m *MySQLAdapter) CreateAt(ctx context.Context, path string, value any) (bool, error) {
	collection, key, err := splitPath(path)
	if err != nil {
		return false, err
	}
	body, _, err := encodeDocument(value)
	if err != nil {
		return false, err
	}

	result, err := m.db.ExecContext(ctx, `
		INSERT IGNORE INTO documents (collection, doc_key, body) VALUES (?, ?, ?)`,
		collection, key, body,
	)
	if err != nil {
		return false, errors.Wrapf(err, "create document %s", path)
	}

	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (m *MySQLAdapter) UpdateFields(ctx context.Context, path string, fields map[string]any) error {
	_, err := m.mutate(ctx, path, func(doc map[string]any) (bool, error) {
		return true, mergeFields(doc, fields)
	})
	return err
}

func (m *MySQLAdapter) CompareAndSwap(ctx context.Context, path, field string, expected, next any) (bool, error) {
	want, err := normalize(expected)
	if err != nil {
		return false, err
	}
	return m.mutate(ctx, path, func(doc map[string]any) (bool, error) {
		if compareValues(doc[field], want) != 0 {
			return false, nil
		}
		return true, mergeFields(doc, map[string]any{field: next})
	})
}

func (m *MySQLAdapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *MySQLAdapter) mutate(ctx context.Context, path string, apply func(doc map[string]any) (bool, error)) (bool, error) {
	collection, key, err := splitPath(path)
	if err != nil {
		return false, err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		var (
			body    []byte
			version int
		)
		err := m.db.QueryRowContext(ctx, `
			SELECT body, version FROM documents WHERE collection = ? AND doc_key = ?`,
			collection, key,
		).Scan(&body, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return false, port.ErrDocumentNotFound
		}
		if err != nil {
			return false, errors.Wrapf(err, "query document %s", path)
		}

		doc, err := decodeDocument(body)
		if err != nil {
			return false, err
		}
		applied, err := apply(doc)
		if err != nil || !applied {
			return false, err
		}

		err = m.updateDocument(ctx, collection, key, doc, version)
		if errors.Is(err, ErrOptimisticLock) {
			continue
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}

	return false, errors.Wrapf(ErrTooMuchContention, "update document %s", path)
}

func (m *MySQLAdapter) updateDocument(ctx context.Context, collection, key string, doc map[string]any, version int) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "marshal document")
	}

	result, err := m.db.ExecContext(ctx, `
		UPDATE documents
		SET body = ?, version = version + 1
		WHERE collection = ? AND doc_key = ? AND version = ?`,
		body, collection, key, version,
	)
	if err != nil {
		return errors.Wrapf(err, "update document %s/%s", collection, key)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOptimisticLock
	}
	return nil
}

func (m *MySQLAdapter) query(ctx context.Context, query string, args ...any) ([]port.Record, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query documents")
	}
	defer rows.Close()

	records := []port.Record{}
	for rows.Next() {
		var rec port.Record
		var body []byte
		if err := rows.Scan(&rec.Key, &body); err != nil {
			return nil, errors.Wrap(err, "scan document")
		}
		rec.Body = body
		records = append(records, rec)
	}
	return records, errors.Wrap(rows.Err(), "iterate documents")
}

func jsonPath(field string) string {
	return `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
}

func jsonLiteral(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "marshal query value")
	}
	return string(raw), nil
}
