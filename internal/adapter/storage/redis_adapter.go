package storage

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/retail-pos/internal/port"
)

const (
	documentKeyPrefix = "doc:"
	keyIndexPrefix    = "keys:"
	childIndexPrefix  = "idx:"
	memberSeparator   = "\x00"
)

// insertScript writes a new document together with its index members, or
// does nothing when the document already exists.
// KEYS[1] document, KEYS[2] key index, KEYS[3..] child indexes.
// ARGV[1] body, ARGV[2] key, ARGV[3..] child index members.
var insertScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
	return 0
end

redis.call('ZADD', KEYS[2], 0, ARGV[2])
for i = 3, #KEYS do
	redis.call('ZADD', KEYS[i], 0, ARGV[i])
end

return 1
`)

// RedisAdapter stores every document as a JSON string. Key order comes from
// a lexicographic sorted set per collection, child order from one sorted set
// per declared index whose members are encodeIndexValue(value) + NUL + key.
type RedisAdapter struct {
	client  *redis.Client
	indexes Indexes
}

func NewRedisAdapter(client *redis.Client, indexes Indexes) *RedisAdapter {
	return &RedisAdapter{client: client, indexes: indexes}
}

func (r *RedisAdapter) Get(ctx context.Context, path string) (*port.Record, error) {
	collection, key, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	body, err := r.client.Get(ctx, documentKey(collection, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis get %s", path)
	}
	return &port.Record{Key: key, Body: body}, nil
}

func (r *RedisAdapter) RangeByKey(ctx context.Context, collection string, kr port.KeyRange) ([]port.Record, error) {
	lo := "-"
	if kr.StartAt != "" {
		lo = "[" + kr.StartAt
	}

	keys, err := r.client.ZRangeByLex(ctx, keyIndexPrefix+collection, &redis.ZRangeBy{
		Min:   lo,
		Max:   "+",
		Count: int64(kr.Limit),
	}).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "redis range %s", collection)
	}
	return r.load(ctx, collection, keys)
}

func (r *RedisAdapter) RangeByChild(ctx context.Context, collection string, cr port.ChildRange) ([]port.Record, error) {
	if !r.indexes.has(collection, cr.Field) {
		return nil, errors.Wrapf(ErrIndexNotDefined, "%s.%s", collection, cr.Field)
	}

	var (
		lo = "-"
		hi = "+"
	)
	if cr.EqualTo != nil {
		v, err := normalize(cr.EqualTo)
		if err != nil {
			return nil, err
		}
		prefix := encodeIndexValue(v) + memberSeparator
		lo, hi = "["+prefix, "["+prefix+"\xff"
	}
	if cr.StartAt != nil {
		v, err := normalize(cr.StartAt.Value)
		if err != nil {
			return nil, err
		}
		prefix := encodeIndexValue(v) + memberSeparator
		switch {
		case cr.Descending && cr.StartAt.Key == "":
			hi = tighterMax(hi, "["+prefix+"\xff")
		case cr.Descending:
			hi = tighterMax(hi, "["+prefix+cr.StartAt.Key)
		default:
			lo = tighterMin(lo, "["+prefix+cr.StartAt.Key)
		}
	}

	by := &redis.ZRangeBy{Min: lo, Max: hi, Count: int64(cr.Limit)}
	indexKey := childIndexKey(collection, cr.Field)

	var members []string
	var err error
	if cr.Descending {
		members, err = r.client.ZRevRangeByLex(ctx, indexKey, by).Result()
	} else {
		members, err = r.client.ZRangeByLex(ctx, indexKey, by).Result()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis range %s by %s", collection, cr.Field)
	}

	keys := make([]string, 0, len(members))
	for _, member := range members {
		keys = append(keys, member[strings.LastIndex(member, memberSeparator)+1:])
	}
	return r.load(ctx, collection, keys)
}

func (r *RedisAdapter) Insert(ctx context.Context, collection string, value any) (string, error) {
	key := newKey()
	created, err := r.create(ctx, collection, key, value)
	if err != nil {
		return "", err
	}
	if !created {
		return "", errors.Errorf("redis insert %s: generated key %s already taken", collection, key)
	}
	return key, nil
}

func (r *RedisAdapter) CreateAt(ctx context.Context, path string, value any) (bool, error) {
	collection, key, err := splitPath(path)
	if err != nil {
		return false, err
	}
	return r.create(ctx, collection, key, value)
}

func (r *RedisAdapter) UpdateFields(ctx context.Context, path string, fields map[string]any) error {
	_, err := r.mutate(ctx, path, func(doc map[string]any) (bool, error) {
		return true, mergeFields(doc, fields)
	})
	return err
}

func (r *RedisAdapter) CompareAndSwap(ctx context.Context, path, field string, expected, next any) (bool, error) {
	want, err := normalize(expected)
	if err != nil {
		return false, err
	}
	return r.mutate(ctx, path, func(doc map[string]any) (bool, error) {
		if compareValues(doc[field], want) != 0 {
			return false, nil
		}
		return true, mergeFields(doc, map[string]any{field: next})
	})
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisAdapter) create(ctx context.Context, collection, key string, value any) (bool, error) {
	body, doc, err := encodeDocument(value)
	if err != nil {
		return false, err
	}

	keys := []string{documentKey(collection, key), keyIndexPrefix + collection}
	args := []any{body, key}
	for indexKey, member := range r.members(collection, key, doc) {
		keys = append(keys, indexKey)
		args = append(args, member)
	}

	result, err := insertScript.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return false, errors.Wrapf(err, "redis create %s/%s", collection, key)
	}
	return result == 1, nil
}

// mutate runs apply against the current document inside WATCH/MULTI and
// rewrites the document and its index members when apply reports a change.
func (r *RedisAdapter) mutate(ctx context.Context, path string, apply func(doc map[string]any) (bool, error)) (bool, error) {
	collection, key, err := splitPath(path)
	if err != nil {
		return false, err
	}
	docKey := documentKey(collection, key)

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		var applied bool
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, docKey).Bytes()
			if errors.Is(err, redis.Nil) {
				return port.ErrDocumentNotFound
			}
			if err != nil {
				return err
			}
			doc, err := decodeDocument(raw)
			if err != nil {
				return err
			}

			before := r.members(collection, key, doc)
			if applied, err = apply(doc); err != nil || !applied {
				return err
			}
			after := r.members(collection, key, doc)

			body, err := json.Marshal(doc)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, docKey, body, 0)
				for indexKey, member := range before {
					if after[indexKey] != member {
						pipe.ZRem(ctx, indexKey, member)
					}
				}
				for indexKey, member := range after {
					if before[indexKey] != member {
						pipe.ZAdd(ctx, indexKey, redis.Z{Member: member})
					}
				}
				return nil
			})
			return err
		}, docKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, port.ErrDocumentNotFound) {
			return false, err
		}
		if err != nil {
			return false, errors.Wrapf(err, "redis update %s", path)
		}
		return applied, nil
	}

	return false, errors.Wrapf(ErrTooMuchContention, "redis update %s", path)
}

func (r *RedisAdapter) load(ctx context.Context, collection string, keys []string) ([]port.Record, error) {
	if len(keys) == 0 {
		return []port.Record{}, nil
	}

	docKeys := make([]string, len(keys))
	for i, key := range keys {
		docKeys[i] = documentKey(collection, key)
	}

	values, err := r.client.MGet(ctx, docKeys...).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "redis load %s", collection)
	}

	records := make([]port.Record, 0, len(keys))
	for i, v := range values {
		body, ok := v.(string)
		if !ok {
			// index entry outlived its document
			continue
		}
		records = append(records, port.Record{Key: keys[i], Body: []byte(body)})
	}
	return records, nil
}

func (r *RedisAdapter) members(collection, key string, doc map[string]any) map[string]string {
	fields := r.indexes[collection]
	members := make(map[string]string, len(fields))
	for _, field := range fields {
		members[childIndexKey(collection, field)] = encodeIndexValue(doc[field]) + memberSeparator + key
	}
	return members
}

func documentKey(collection, key string) string {
	return documentKeyPrefix + port.Path(collection, key)
}

func childIndexKey(collection, field string) string {
	return childIndexPrefix + collection + ":" + field
}

// tighterMin and tighterMax pick the narrower of two inclusive lex bounds.
func tighterMin(a, b string) string {
	if a == "-" || (b != "-" && b[1:] > a[1:]) {
		return b
	}
	return a
}

func tighterMax(a, b string) string {
	if a == "+" || (b != "+" && b[1:] < a[1:]) {
		return b
	}
	return a
}
