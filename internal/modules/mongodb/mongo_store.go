package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/FreePeak/db-dispatch-server/pkg/logger"
)

// Config holds the MongoDB connection settings
type Config struct {
	URL         string
	Database    string
	MinPoolSize uint64
	MaxPoolSize uint64
}

// MongoStore is the Store backed by the official driver
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database
}

// NewMongoStore connects and pings the server
func NewMongoStore(ctx context.Context, cfg Config) (*MongoStore, error) {
	if cfg.MinPoolSize == 0 {
		cfg.MinPoolSize = 10
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 50
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.URL).
		SetMinPoolSize(cfg.MinPoolSize).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMaxConnIdleTime(30 * time.Second).
		SetTimeout(10 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	logger.Info("MongoDB connection initialized, database: %s", cfg.Database)
	return &MongoStore{
		client:   client,
		database: client.Database(cfg.Database),
	}, nil
}

func (m *MongoStore) coll(name string) *mongo.Collection {
	return m.database.Collection(name)
}

func (m *MongoStore) InsertOne(ctx context.Context, coll string, doc bson.M) (interface{}, error) {
	res, err := m.coll(coll).InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (m *MongoStore) InsertMany(ctx context.Context, coll string, docs []bson.M) ([]interface{}, error) {
	items := make([]interface{}, len(docs))
	for i, d := range docs {
		items[i] = d
	}
	res, err := m.coll(coll).InsertMany(ctx, items)
	if err != nil {
		return nil, err
	}
	return res.InsertedIDs, nil
}

func (m *MongoStore) FindOne(ctx context.Context, coll string, filter bson.M, projection bson.M) (bson.M, error) {
	opts := options.FindOne()
	if len(projection) > 0 {
		opts.SetProjection(projection)
	}
	var doc bson.M
	err := m.coll(coll).FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	return doc, err
}

func (m *MongoStore) Find(ctx context.Context, coll string, filter bson.M, fo FindOptions) ([]bson.M, error) {
	opts := options.Find().SetSkip(fo.Skip)
	if fo.Limit > 0 {
		opts.SetLimit(fo.Limit)
	}
	if len(fo.Sort) > 0 {
		opts.SetSort(fo.Sort)
	}
	if len(fo.Projection) > 0 {
		opts.SetProjection(fo.Projection)
	}

	cursor, err := m.coll(coll).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	docs := []bson.M{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (m *MongoStore) UpdateOne(ctx context.Context, coll string, filter, update bson.M, upsert bool) (UpdateResult, error) {
	res, err := m.coll(coll).UpdateOne(ctx, filter, update, options.Update().SetUpsert(upsert))
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount, UpsertedID: res.UpsertedID}, nil
}

func (m *MongoStore) UpdateMany(ctx context.Context, coll string, filter, update bson.M) (UpdateResult, error) {
	res, err := m.coll(coll).UpdateMany(ctx, filter, update)
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount, UpsertedID: res.UpsertedID}, nil
}

// BulkUpdate sends every op in one unordered bulk write
func (m *MongoStore) BulkUpdate(ctx context.Context, coll string, ops []UpdateOp) (UpdateResult, error) {
	if len(ops) == 0 {
		return UpdateResult{}, nil
	}
	models := make([]mongo.WriteModel, len(ops))
	for i, op := range ops {
		models[i] = mongo.NewUpdateOneModel().SetFilter(op.Filter).SetUpdate(op.Update)
	}
	res, err := m.coll(coll).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (m *MongoStore) FindOneAndUpdate(ctx context.Context, coll string, filter, update bson.M, after bool) (bson.M, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)
	if after {
		opts.SetReturnDocument(options.After)
	}
	var doc bson.M
	err := m.coll(coll).FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	return doc, err
}

func (m *MongoStore) FindOneAndDelete(ctx context.Context, coll string, filter bson.M) (bson.M, error) {
	var doc bson.M
	err := m.coll(coll).FindOneAndDelete(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	return doc, err
}

func (m *MongoStore) DeleteOne(ctx context.Context, coll string, filter bson.M) (int64, error) {
	res, err := m.coll(coll).DeleteOne(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// DeleteMany removes every document matching filter; an empty filter removes all.
func (m *MongoStore) DeleteMany(ctx context.Context, coll string, filter bson.M) (int64, error) {
	res, err := m.coll(coll).DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (m *MongoStore) CountDocuments(ctx context.Context, coll string, filter bson.M) (int64, error) {
	return m.coll(coll).CountDocuments(ctx, filter)
}

func (m *MongoStore) Aggregate(ctx context.Context, coll string, pipeline []bson.M) ([]bson.M, error) {
	cursor, err := m.coll(coll).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	docs := []bson.M{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (m *MongoStore) CreateIndex(ctx context.Context, coll string, keys bson.D, unique bool) (string, error) {
	return m.coll(coll).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetUnique(unique),
	})
}

func (m *MongoStore) ListCollections(ctx context.Context) ([]string, error) {
	return m.database.ListCollectionNames(ctx, bson.D{})
}

func (m *MongoStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *MongoStore) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	logger.Info("MongoDB connection closed")
	return m.client.Disconnect(ctx)
}
