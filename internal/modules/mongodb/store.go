package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// FindOptions shapes a multi-document read
type FindOptions struct {
	Sort       bson.D
	Skip       int64
	Limit      int64
	Projection bson.M
}

// UpdateResult reports the outcome of an update
type UpdateResult struct {
	Matched    int64
	Modified   int64
	UpsertedID interface{}
}

// UpdateOp is one update of a bulk write
type UpdateOp struct {
	Filter bson.M
	Update bson.M
}

// Store is the document store the namespace forwards to. Filters and
// documents are passed through unchanged; a read that matches nothing
// returns a nil document and no error.
type Store interface {
	InsertOne(ctx context.Context, coll string, doc bson.M) (interface{}, error)
	InsertMany(ctx context.Context, coll string, docs []bson.M) ([]interface{}, error)
	FindOne(ctx context.Context, coll string, filter bson.M, projection bson.M) (bson.M, error)
	Find(ctx context.Context, coll string, filter bson.M, opts FindOptions) ([]bson.M, error)
	UpdateOne(ctx context.Context, coll string, filter, update bson.M, upsert bool) (UpdateResult, error)
	UpdateMany(ctx context.Context, coll string, filter, update bson.M) (UpdateResult, error)
	BulkUpdate(ctx context.Context, coll string, ops []UpdateOp) (UpdateResult, error)
	FindOneAndUpdate(ctx context.Context, coll string, filter, update bson.M, after bool) (bson.M, error)
	FindOneAndDelete(ctx context.Context, coll string, filter bson.M) (bson.M, error)
	DeleteOne(ctx context.Context, coll string, filter bson.M) (int64, error)
	DeleteMany(ctx context.Context, coll string, filter bson.M) (int64, error)
	CountDocuments(ctx context.Context, coll string, filter bson.M) (int64, error)
	Aggregate(ctx context.Context, coll string, pipeline []bson.M) ([]bson.M, error)
	CreateIndex(ctx context.Context, coll string, keys bson.D, unique bool) (string, error)
	ListCollections(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
