package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/types"
)

// MongoConfig configures the MongoDB document store.
type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
}

// DefaultMongoConfig returns a local single-node setup.
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "agentrun",
		ConnectTimeout: 10 * time.Second,
		MaxPoolSize:    32,
	}
}

// Mongo implements DocumentStore on mongo-driver/v2.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

var _ DocumentStore = (*Mongo)(nil)

// NewMongo connects and pings the deployment before returning.
func NewMongo(ctx context.Context, cfg MongoConfig, logger *zap.Logger) (*Mongo, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultMongoConfig()
	if cfg.URI == "" {
		cfg.URI = def.URI
	}
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = def.MaxPoolSize
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize))
	if err != nil {
		return nil, types.Errorf(types.ErrStore, "connecting to mongodb failed").WithCause(err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, types.Errorf(types.ErrStore, "mongodb ping failed").WithCause(err)
	}

	logger.Info("mongodb connected", zap.String("database", cfg.Database))
	return &Mongo{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger.With(zap.String("component", "mongo_store")),
	}, nil
}

func (m *Mongo) EnsureCollection(ctx context.Context, name string, schema map[string]any) (bool, error) {
	names, err := m.db.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return false, types.Errorf(types.ErrStore, "listing collections failed").WithCause(err)
	}
	if len(names) > 0 {
		if schema == nil {
			return false, nil
		}
		res := m.db.RunCommand(ctx, bson.D{
			{Key: "collMod", Value: name},
			{Key: "validator", Value: bson.M{"$jsonSchema": schema}},
		})
		if err := res.Err(); err != nil {
			return false, types.Errorf(types.ErrStore, "updating validator for %s failed", name).WithCause(err)
		}
		m.logger.Info("collection validator updated", zap.String("collection", name))
		return false, nil
	}

	if schema != nil {
		err = m.db.CreateCollection(ctx, name,
			options.CreateCollection().SetValidator(bson.M{"$jsonSchema": schema}))
	} else {
		err = m.db.CreateCollection(ctx, name)
	}
	if err != nil {
		return false, types.Errorf(types.ErrStore, "creating collection %s failed", name).WithCause(err)
	}

	m.logger.Info("collection created", zap.String("collection", name))
	return true, nil
}

func (m *Mongo) EnsureIndex(ctx context.Context, collection, field string) error {
	_, err := m.db.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: field, Value: 1}},
	})
	if err != nil {
		return types.Errorf(types.ErrStore, "creating index on %s.%s failed", collection, field).WithCause(err)
	}
	return nil
}

func (m *Mongo) Insert(ctx context.Context, collection string, doc map[string]any) (string, error) {
	res, err := m.db.Collection(collection).InsertOne(ctx, doc)
	if err != nil {
		return "", types.Errorf(types.ErrStore, "insert into %s failed", collection).WithCause(err)
	}
	return idString(res.InsertedID), nil
}

func (m *Mongo) Find(ctx context.Context, collection string, filter map[string]any, sortBy []SortField, limit int64) ([]map[string]any, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}
	if len(sortBy) > 0 {
		opts.SetSort(sortDoc(sortBy))
	}

	cur, err := m.db.Collection(collection).Find(ctx, prepareFilter(filter), opts)
	if err != nil {
		return nil, types.Errorf(types.ErrStore, "find in %s failed", collection).WithCause(err)
	}
	return decodeAll(ctx, cur, collection)
}

func (m *Mongo) Update(ctx context.Context, collection string, filter, update map[string]any) (int64, int64, error) {
	res, err := m.db.Collection(collection).UpdateOne(ctx, prepareFilter(filter), update)
	if err != nil {
		return 0, 0, types.Errorf(types.ErrStore, "update in %s failed", collection).WithCause(err)
	}
	return res.MatchedCount, res.ModifiedCount, nil
}

func (m *Mongo) Delete(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	res, err := m.db.Collection(collection).DeleteOne(ctx, prepareFilter(filter))
	if err != nil {
		return 0, types.Errorf(types.ErrStore, "delete in %s failed", collection).WithCause(err)
	}
	return res.DeletedCount, nil
}

func (m *Mongo) Aggregate(ctx context.Context, collection string, pipeline []map[string]any) ([]map[string]any, error) {
	cur, err := m.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, types.Errorf(types.ErrStore, "aggregation on %s failed", collection).WithCause(err)
	}
	return decodeAll(ctx, cur, collection)
}

func (m *Mongo) Count(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	n, err := m.db.Collection(collection).CountDocuments(ctx, prepareFilter(filter))
	if err != nil {
		return 0, types.Errorf(types.ErrStore, "count in %s failed", collection).WithCause(err)
	}
	return n, nil
}

func (m *Mongo) Stats(ctx context.Context, collection string) (*CollectionStats, error) {
	res := m.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: collection}})
	var raw map[string]any
	if err := res.Decode(&raw); err != nil {
		return nil, types.Errorf(types.ErrStore, "stats for %s failed", collection).WithCause(err)
	}
	return &CollectionStats{
		SizeBytes:  statInt(raw["size"]),
		AvgObjSize: statInt(raw["avgObjSize"]),
	}, nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return types.Errorf(types.ErrStore, "mongodb ping failed").WithCause(err)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func decodeAll(ctx context.Context, cur *mongo.Cursor, collection string) ([]map[string]any, error) {
	var raw []map[string]any
	if err := cur.All(ctx, &raw); err != nil {
		return nil, types.Errorf(types.ErrStore, "decoding documents from %s failed", collection).WithCause(err)
	}
	out := make([]map[string]any, 0, len(raw))
	for _, doc := range raw {
		out = append(out, normalizeValue(doc).(map[string]any))
	}
	return out, nil
}

// prepareFilter converts a hex string _id into an ObjectID so lookups
// by a previously returned id work.
func prepareFilter(filter map[string]any) map[string]any {
	if filter == nil {
		return map[string]any{}
	}
	s, ok := filter["_id"].(string)
	if !ok {
		return filter
	}
	oid, err := bson.ObjectIDFromHex(s)
	if err != nil {
		return filter
	}
	out := make(map[string]any, len(filter))
	for k, v := range filter {
		out[k] = v
	}
	out["_id"] = oid
	return out
}

func sortDoc(fields []SortField) bson.D {
	doc := make(bson.D, 0, len(fields))
	for _, f := range fields {
		dir := 1
		if f.Desc {
			dir = -1
		}
		doc = append(doc, bson.E{Key: f.Field, Value: dir})
	}
	return doc
}

// normalizeValue rewrites decoded BSON into plain JSON-shaped values:
// ObjectIDs become hex strings, datetimes become time.Time, and
// bson.D/bson.A containers become maps and slices.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeValue(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeValue(item)
		}
		return val
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC()
	default:
		return v
	}
}

func idString(id any) string {
	switch val := id.(type) {
	case bson.ObjectID:
		return val.Hex()
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func statInt(v any) int64 {
	n, _ := toFloat(v)
	return int64(n)
}
