// Package mongodb exposes a MongoDB database as the
// modules.database.mongoClient namespace.
package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/FreePeak/db-dispatch-server/pkg/dispatch"
	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
	"github.com/FreePeak/db-dispatch-server/pkg/logger"
)

const (
	// Path is the canonical module path
	Path = "modules.database.mongoClient"
	// AliasPath is the legacy module path
	AliasPath = "modules.database.mongoDB"
)

// Module binds namespace methods to a Store
type Module struct {
	store Store
	now   func() time.Time
}

// New creates the module over store
func New(store Store) *Module {
	return &Module{store: store, now: time.Now}
}

// storeError maps a driver error to a kind. Network failures are
// connection_lost; anything else the store reported is backing_store.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *apperrors.E
	if errors.As(err, &e) {
		return err
	}
	logger.Error("mongodb %s failed: %v", op, err)
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return apperrors.Wrap(apperrors.ConnectionLost, "document store is unreachable", err)
	}
	if mongo.IsDuplicateKeyError(err) {
		return apperrors.Wrap(apperrors.BackingStore, op+" failed: duplicate key", err)
	}
	return apperrors.Wrap(apperrors.BackingStore, op+" failed", err)
}

func cnameParam() dispatch.Param {
	return dispatch.Param{Name: "cname", Type: dispatch.TypeString, Required: true, Description: "Collection name"}
}

func queryParam() dispatch.Param {
	return dispatch.Param{Name: "query", Type: dispatch.TypeObject, Required: true, Description: "Filter forwarded to the store; {} matches every document"}
}

// Namespace declares every exposed operation
func (m *Module) Namespace() *dispatch.Namespace {
	return &dispatch.Namespace{
		Path:        Path,
		Aliases:     []string{AliasPath},
		Description: "MongoDB document store",
		Methods: []*dispatch.Method{
			{
				Name:        "insert_one",
				Description: "Insert a document and return its id",
				Params: []dispatch.Param{
					cnameParam(),
					{Name: "document", Type: dispatch.TypeObject, Required: true},
				},
				Handler: m.insertOne,
			},
			{
				Name:        "insert_many",
				Description: "Insert documents and return their ids",
				Params: []dispatch.Param{
					cnameParam(),
					{Name: "documents", Type: dispatch.TypeObjectArray, Required: true},
				},
				Handler: m.insertMany,
			},
			{
				Name:        "find_one",
				Description: "Return the first matching document or null",
				Params: []dispatch.Param{
					cnameParam(),
					queryParam(),
					{Name: "projection", Type: dispatch.TypeObject},
				},
				Handler: m.findOne,
			},
			{
				Name:        "find_many",
				Description: "Return matching documents",
				Params: []dispatch.Param{
					{Name: "collection_name", Type: dispatch.TypeString, Required: true},
					{Name: "filter_query", Type: dispatch.TypeObject, Required: true},
					{Name: "sort_criteria", Type: dispatch.TypeArray, Required: true, Description: "[[field, 1|-1], ...]"},
					{Name: "skip", Type: dispatch.TypeInteger, Default: int64(0)},
					{Name: "limit", Type: dispatch.TypeInteger, Default: int64(100)},
					{Name: "projection", Type: dispatch.TypeObject},
				},
				Handler: m.findMany,
			},
			{
				Name:        "update_one",
				Description: "Set fields on the first matching document",
				Params: []dispatch.Param{
					cnameParam(),
					queryParam(),
					{Name: "update", Type: dispatch.TypeObject, Required: true},
				},
				Handler: m.updateOne,
			},
			{
				Name:        "update_many",
				Description: "Set fields on every matching document",
				Params: []dispatch.Param{
					cnameParam(),
					queryParam(),
					{Name: "update", Type: dispatch.TypeObject, Required: true},
				},
				Handler: m.updateMany,
			},
			{
				Name:        "find_one_and_update",
				Description: "Set fields on the first match and return it before or after the update",
				Params: []dispatch.Param{
					cnameParam(),
					queryParam(),
					{Name: "update", Type: dispatch.TypeObject, Required: true},
					{Name: "return_document", Type: dispatch.TypeBoolean, Default: false, Description: "true returns the updated document"},
				},
				Handler: m.findOneAndUpdate,
			},
			{
				Name:        "find_one_and_delete",
				Description: "Delete the first match and return it",
				Params:      []dispatch.Param{cnameParam(), queryParam()},
				Handler:     m.findOneAndDelete,
			},
			{
				Name:        "delete_one",
				Description: "Delete the first matching document",
				Params:      []dispatch.Param{cnameParam(), queryParam()},
				Handler:     m.deleteOne,
			},
			{
				Name:        "delete_many",
				Description: "Delete every matching document; {} deletes the whole collection",
				Params:      []dispatch.Param{cnameParam(), queryParam()},
				Handler:     m.deleteMany,
			},
			{
				Name:        "count_documents",
				Description: "Count matching documents",
				Params:      []dispatch.Param{cnameParam(), queryParam()},
				Handler:     m.countDocuments,
			},
			{
				Name:        "upsert",
				Description: "Update the document matched by query_fields or insert it",
				Params: []dispatch.Param{
					cnameParam(),
					{Name: "document", Type: dispatch.TypeObject, Required: true},
					{Name: "query_fields", Type: dispatch.TypeStringArray, Default: []string{"name"}},
				},
				Handler: m.upsert,
			},
			{
				Name:        "upsert_many",
				Description: "Upsert each document by its query_fields",
				Params: []dispatch.Param{
					cnameParam(),
					{Name: "documents", Type: dispatch.TypeObjectArray, Required: true},
					{Name: "query_fields", Type: dispatch.TypeStringArray, Default: []string{"name"}},
				},
				Handler: m.upsertMany,
			},
			{
				Name:        "aggregate",
				Description: "Run an aggregation pipeline",
				Params: []dispatch.Param{
					cnameParam(),
					{Name: "pipeline", Type: dispatch.TypeObjectArray, Required: true},
				},
				Handler: m.aggregate,
			},
			{
				Name:        "create_index",
				Description: "Create an index and return its name",
				Params: []dispatch.Param{
					cnameParam(),
					{Name: "keys", Type: dispatch.TypeArray, Required: true, Description: "[[field, 1|-1], ...]"},
					{Name: "unique", Type: dispatch.TypeBoolean, Default: false},
				},
				Handler: m.createIndex,
			},
			{
				Name:        "list_collections",
				Description: "List collection names",
				Handler:     m.listCollections,
			},
		},
	}
}

func (m *Module) insertOne(ctx context.Context, args dispatch.Args) (interface{}, error) {
	doc := toDocument(args.Object("document"))
	stampCreated(doc, m.now())

	id, err := m.store.InsertOne(ctx, args.String("cname"), doc)
	if err != nil {
		return nil, storeError("insert_one", err)
	}
	return idString(id), nil
}

func (m *Module) insertMany(ctx context.Context, args dispatch.Args) (interface{}, error) {
	input := args.Objects("documents")
	if len(input) == 0 {
		return nil, apperrors.New(apperrors.InvalidParameter, "documents must not be empty")
	}
	now := m.now()
	docs := make([]bson.M, len(input))
	for i, d := range input {
		docs[i] = toDocument(d)
		stampCreated(docs[i], now)
	}

	ids, err := m.store.InsertMany(ctx, args.String("cname"), docs)
	if err != nil {
		return nil, storeError("insert_many", err)
	}
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = idString(id)
	}
	return out, nil
}

func (m *Module) findOne(ctx context.Context, args dispatch.Args) (interface{}, error) {
	doc, err := m.store.FindOne(ctx, args.String("cname"), toFilter(args.Object("query")), toDocument(args.Object("projection")))
	if err != nil {
		return nil, storeError("find_one", err)
	}
	if doc == nil {
		logger.Debug("find_one: no document in %s matches the query", args.String("cname"))
	}
	return plainDoc(doc), nil
}

func (m *Module) findMany(ctx context.Context, args dispatch.Args) (interface{}, error) {
	sort, err := toSort("sort_criteria", args.Array("sort_criteria"))
	if err != nil {
		return nil, err
	}
	skip, limit := args.Int("skip"), args.Int("limit")
	if skip < 0 || limit < 0 {
		return nil, apperrors.New(apperrors.InvalidParameter, "skip and limit must not be negative")
	}

	docs, err := m.store.Find(ctx, args.String("collection_name"), toFilter(args.Object("filter_query")), FindOptions{
		Sort:       sort,
		Skip:       skip,
		Limit:      limit,
		Projection: toDocument(args.Object("projection")),
	})
	if err != nil {
		return nil, storeError("find_many", err)
	}
	return plainDocs(docs), nil
}

func setUpdate(update map[string]interface{}) bson.M {
	return bson.M{"$set": toDocument(update)}
}

func (m *Module) updateOne(ctx context.Context, args dispatch.Args) (interface{}, error) {
	res, err := m.store.UpdateOne(ctx, args.String("cname"), toFilter(args.Object("query")), setUpdate(args.Object("update")), false)
	if err != nil {
		return nil, storeError("update_one", err)
	}
	return res.Modified, nil
}

func (m *Module) updateMany(ctx context.Context, args dispatch.Args) (interface{}, error) {
	res, err := m.store.UpdateMany(ctx, args.String("cname"), toFilter(args.Object("query")), setUpdate(args.Object("update")))
	if err != nil {
		return nil, storeError("update_many", err)
	}
	return res.Modified, nil
}

func (m *Module) findOneAndUpdate(ctx context.Context, args dispatch.Args) (interface{}, error) {
	doc, err := m.store.FindOneAndUpdate(ctx, args.String("cname"), toFilter(args.Object("query")),
		setUpdate(args.Object("update")), args.Bool("return_document"))
	if err != nil {
		return nil, storeError("find_one_and_update", err)
	}
	return plainDoc(doc), nil
}

func (m *Module) findOneAndDelete(ctx context.Context, args dispatch.Args) (interface{}, error) {
	doc, err := m.store.FindOneAndDelete(ctx, args.String("cname"), toFilter(args.Object("query")))
	if err != nil {
		return nil, storeError("find_one_and_delete", err)
	}
	return plainDoc(doc), nil
}

func (m *Module) deleteOne(ctx context.Context, args dispatch.Args) (interface{}, error) {
	n, err := m.store.DeleteOne(ctx, args.String("cname"), toFilter(args.Object("query")))
	if err != nil {
		return nil, storeError("delete_one", err)
	}
	return n, nil
}

func (m *Module) deleteMany(ctx context.Context, args dispatch.Args) (interface{}, error) {
	query := args.Object("query")
	if len(query) == 0 {
		logger.Warn("delete_many on %s with an empty filter removes every document", args.String("cname"))
	}
	n, err := m.store.DeleteMany(ctx, args.String("cname"), toFilter(query))
	if err != nil {
		return nil, storeError("delete_many", err)
	}
	return n, nil
}

func (m *Module) countDocuments(ctx context.Context, args dispatch.Args) (interface{}, error) {
	n, err := m.store.CountDocuments(ctx, args.String("cname"), toFilter(args.Object("query")))
	if err != nil {
		return nil, storeError("count_documents", err)
	}
	return n, nil
}

// UpsertResult is the outcome of a single upsert
type UpsertResult struct {
	MatchedCount  int64       `json:"matched_count"`
	ModifiedCount int64       `json:"modified_count"`
	UpsertedID    interface{} `json:"upserted_id"`
	IsNew         bool        `json:"is_new"`
}

// UpsertManyResult aggregates the outcome of upsert_many
type UpsertManyResult struct {
	MatchedCount  int64         `json:"matched_count"`
	ModifiedCount int64         `json:"modified_count"`
	UpsertedIDs   []interface{} `json:"upserted_ids"`
	NewCount      int64         `json:"new_count"`
}

func (m *Module) upsertOne(ctx context.Context, cname string, input map[string]interface{}, fields []string) (UpdateResult, error) {
	doc := toDocument(input)
	filter, err := matchFilter(doc, fields)
	if err != nil {
		return UpdateResult{}, err
	}
	res, err := m.store.UpdateOne(ctx, cname, filter, bson.M{"$set": doc}, true)
	if err != nil {
		return UpdateResult{}, storeError("upsert", err)
	}
	return res, nil
}

func (m *Module) upsert(ctx context.Context, args dispatch.Args) (interface{}, error) {
	res, err := m.upsertOne(ctx, args.String("cname"), args.Object("document"), args.Strings("query_fields"))
	if err != nil {
		return nil, err
	}
	return UpsertResult{
		MatchedCount:  res.Matched,
		ModifiedCount: res.Modified,
		UpsertedID:    idString(res.UpsertedID),
		IsNew:         res.UpsertedID != nil,
	}, nil
}

func (m *Module) upsertMany(ctx context.Context, args dispatch.Args) (interface{}, error) {
	docs := args.Objects("documents")
	fields := args.Strings("query_fields")

	// every document is checked before anything is written
	for _, d := range docs {
		if _, err := matchFilter(toDocument(d), fields); err != nil {
			return nil, err
		}
	}

	out := UpsertManyResult{UpsertedIDs: []interface{}{}}
	for _, d := range docs {
		res, err := m.upsertOne(ctx, args.String("cname"), d, fields)
		if err != nil {
			return nil, err
		}
		out.MatchedCount += res.Matched
		out.ModifiedCount += res.Modified
		if res.UpsertedID != nil {
			out.UpsertedIDs = append(out.UpsertedIDs, idString(res.UpsertedID))
			out.NewCount++
		}
	}
	return out, nil
}

func (m *Module) aggregate(ctx context.Context, args dispatch.Args) (interface{}, error) {
	stages := args.Objects("pipeline")
	pipeline := make([]bson.M, len(stages))
	for i, s := range stages {
		pipeline[i] = toDocument(s)
	}
	docs, err := m.store.Aggregate(ctx, args.String("cname"), pipeline)
	if err != nil {
		return nil, storeError("aggregate", err)
	}
	return plainDocs(docs), nil
}

func (m *Module) createIndex(ctx context.Context, args dispatch.Args) (interface{}, error) {
	keys, err := toSort("keys", args.Array("keys"))
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, apperrors.New(apperrors.InvalidParameter, "keys must not be empty")
	}
	name, err := m.store.CreateIndex(ctx, args.String("cname"), keys, args.Bool("unique"))
	if err != nil {
		return nil, storeError("create_index", err)
	}
	return name, nil
}

func (m *Module) listCollections(ctx context.Context, args dispatch.Args) (interface{}, error) {
	names, err := m.store.ListCollections(ctx)
	if err != nil {
		return nil, storeError("list_collections", err)
	}
	return names, nil
}

// Ping reports whether the store is reachable
func (m *Module) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}
