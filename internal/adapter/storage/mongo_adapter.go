package storage

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rl1809/retail-pos/internal/port"
)

// MongoAdapter maps each document collection onto a Mongo collection. The
// document key is the _id; the remaining top-level fields are the body.
type MongoAdapter struct {
	db      *mongo.Database
	indexes Indexes
}

func NewMongoAdapter(db *mongo.Database, indexes Indexes) *MongoAdapter {
	return &MongoAdapter{db: db, indexes: indexes}
}

// EnsureIndexes creates a (field, _id) index for every declared child field.
func (m *MongoAdapter) EnsureIndexes(ctx context.Context) error {
	for collection, fields := range m.indexes {
		for _, field := range fields {
			_, err := m.db.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{
				Keys: bson.D{{Key: field, Value: 1}, {Key: "_id", Value: 1}},
			})
			if err != nil {
				return errors.Wrapf(err, "create index %s.%s", collection, field)
			}
		}
	}
	return nil
}

func (m *MongoAdapter) Get(ctx context.Context, path string) (*port.Record, error) {
	collection, key, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	raw, err := m.db.Collection(collection).FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "mongo find %s", path)
	}
	return toRecord(raw)
}

func (m *MongoAdapter) RangeByKey(ctx context.Context, collection string, r port.KeyRange) ([]port.Record, error) {
	filter := bson.D{}
	if r.StartAt != "" {
		filter = bson.D{{Key: "_id", Value: bson.D{{Key: "$gte", Value: r.StartAt}}}}
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if r.Limit > 0 {
		opts.SetLimit(int64(r.Limit))
	}
	return m.find(ctx, collection, filter, opts)
}

func (m *MongoAdapter) RangeByChild(ctx context.Context, collection string, r port.ChildRange) ([]port.Record, error) {
	conditions := bson.A{}

	if r.EqualTo != nil {
		v, err := toBSONValue(r.EqualTo)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, bson.D{{Key: r.Field, Value: v}})
	}

	if r.StartAt != nil {
		v, err := toBSONValue(r.StartAt.Value)
		if err != nil {
			return nil, err
		}
		strict, inclusive := "$gt", "$gte"
		if r.Descending {
			strict, inclusive = "$lt", "$lte"
		}
		if r.StartAt.Key == "" {
			conditions = append(conditions, bson.D{{Key: r.Field, Value: bson.D{{Key: inclusive, Value: v}}}})
		} else {
			conditions = append(conditions, bson.D{{Key: "$or", Value: bson.A{
				bson.D{{Key: r.Field, Value: bson.D{{Key: strict, Value: v}}}},
				bson.D{{Key: r.Field, Value: v}, {Key: "_id", Value: bson.D{{Key: inclusive, Value: r.StartAt.Key}}}},
			}}})
		}
	}

	filter := bson.D{}
	if len(conditions) > 0 {
		filter = bson.D{{Key: "$and", Value: conditions}}
	}

	order := 1
	if r.Descending {
		order = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: r.Field, Value: order}, {Key: "_id", Value: order}})
	if r.Limit > 0 {
		opts.SetLimit(int64(r.Limit))
	}
	return m.find(ctx, collection, filter, opts)
}

func (m *MongoAdapter) Insert(ctx context.Context, collection string, value any) (string, error) {
	key := newKey()
	doc, err := toBSONDocument(key, value)
	if err != nil {
		return "", err
	}
	if _, err := m.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return "", errors.Wrapf(err, "mongo insert into %s", collection)
	}
	return key, nil
}

func (m *MongoAdapter) CreateAt(ctx context.Context, path string, value any) (bool, error) {
	collection, key, err := splitPath(path)
	if err != nil {
		return false, err
	}
	doc, err := toBSONDocument(key, value)
	if err != nil {
		return false, err
	}

	_, err = m.db.Collection(collection).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "mongo create %s", path)
	}
	return true, nil
}

func (m *MongoAdapter) UpdateFields(ctx context.Context, path string, fields map[string]any) error {
	collection, key, err := splitPath(path)
	if err != nil {
		return err
	}
	set, err := toBSON(fields)
	if err != nil {
		return err
	}

	result, err := m.db.Collection(collection).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: key}},
		bson.D{{Key: "$set", Value: set}},
	)
	if err != nil {
		return errors.Wrapf(err, "mongo update %s", path)
	}
	if result.MatchedCount == 0 {
		return port.ErrDocumentNotFound
	}
	return nil
}

func (m *MongoAdapter) CompareAndSwap(ctx context.Context, path, field string, expected, next any) (bool, error) {
	collection, key, err := splitPath(path)
	if err != nil {
		return false, err
	}
	want, err := toBSONValue(expected)
	if err != nil {
		return false, err
	}
	set, err := toBSON(map[string]any{field: next})
	if err != nil {
		return false, err
	}

	coll := m.db.Collection(collection)
	result, err := coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: key}, {Key: field, Value: want}},
		bson.D{{Key: "$set", Value: set}},
	)
	if err != nil {
		return false, errors.Wrapf(err, "mongo compare-and-swap %s", path)
	}
	if result.MatchedCount == 1 {
		return true, nil
	}

	count, err := coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: key}})
	if err != nil {
		return false, errors.Wrapf(err, "mongo count %s", path)
	}
	if count == 0 {
		return false, port.ErrDocumentNotFound
	}
	return false, nil
}

func (m *MongoAdapter) Ping(ctx context.Context) error {
	return m.db.Client().Ping(ctx, nil)
}

func (m *MongoAdapter) find(ctx context.Context, collection string, filter bson.D, opts *options.FindOptions) ([]port.Record, error) {
	cur, err := m.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "mongo find %s", collection)
	}
	defer cur.Close(ctx)

	records := []port.Record{}
	for cur.Next(ctx) {
		rec, err := toRecord(cur.Current)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, errors.Wrapf(cur.Err(), "mongo iterate %s", collection)
}

// toRecord turns a stored document back into a key and a plain JSON body.
func toRecord(raw bson.Raw) (*port.Record, error) {
	key, ok := raw.Lookup("_id").StringValueOK()
	if !ok {
		return nil, errors.New("mongo document without string _id")
	}

	ext, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, errors.Wrap(err, "mongo encode document")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(ext, &fields); err != nil {
		return nil, errors.Wrap(err, "mongo decode document")
	}
	delete(fields, "_id")

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Wrap(err, "mongo encode body")
	}
	return &port.Record{Key: key, Body: body}, nil
}

// toBSON converts a JSON-marshalable value into a BSON document. Plain JSON
// is valid relaxed extended JSON.
func toBSON(value any) (bson.D, error) {
	body, _, err := encodeDocument(value)
	if err != nil {
		return nil, err
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(body, false, &doc); err != nil {
		return nil, errors.Wrap(err, "mongo convert document")
	}
	return doc, nil
}

func toBSONDocument(key string, value any) (bson.D, error) {
	doc, err := toBSON(value)
	if err != nil {
		return nil, err
	}
	return append(bson.D{{Key: "_id", Value: key}}, doc...), nil
}

// toBSONValue converts a single value the same way toBSON converts fields.
func toBSONValue(v any) (any, error) {
	doc, err := toBSON(map[string]any{"v": v})
	if err != nil {
		return nil, err
	}
	return doc[0].Value, nil
}
