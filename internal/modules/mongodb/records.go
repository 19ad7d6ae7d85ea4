package mongodb

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
	"github.com/FreePeak/db-dispatch-server/pkg/logger"
)

const (
	// DefaultPageSize is used when a list request names no pageSize
	DefaultPageSize = 999999999
	openRangeEnd    = 9223372036854775806
	dateLayout      = "2006-01-02"
)

// Records is the key-addressed record API over a Store. Every record
// carries a generated "key", createdTime, updatedTime and an "order" rank.
type Records struct {
	store Store
	now   func() time.Time
	newID func() string
}

// NewRecords creates the record API over store
func NewRecords(store Store) *Records {
	return &Records{store: store, now: time.Now, newID: func() string { return uuid.New().String() }}
}

// ListQuery selects one page of a collection
type ListQuery struct {
	Collection string
	PageNum    int64
	PageSize   int64
	OrderBy    string
	OrderType  string
	// Filters maps a field to its request values. One value is a
	// case-insensitive substring match (comma-separated terms match any);
	// two values are a date or numeric range; more values are a set.
	Filters map[string][]string
}

// Page is one page of records
type Page struct {
	List       []interface{} `json:"list"`
	Total      int64         `json:"total"`
	PageNum    int64         `json:"pageNum"`
	PageSize   int64         `json:"pageSize"`
	TotalPages int64         `json:"totalPages"`
}

// OrderItem assigns an order rank to the record with Key
type OrderItem struct {
	Key   string      `json:"key"`
	Order interface{} `json:"order"`
}

func requireCollection(cname string) error {
	if cname == "" {
		return apperrors.New(apperrors.MissingParameter, "missing required parameter: cname")
	}
	return nil
}

func isDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

func substring(term string) primitive.Regex {
	return primitive.Regex{Pattern: regexp.QuoteMeta(term), Options: "i"}
}

// buildFilter turns request filters into a store filter. Empty values are
// skipped.
func buildFilter(filters map[string][]string) bson.M {
	filter := bson.M{}
	var ors []bson.M

	for field, values := range filters {
		nonEmpty := values[:0:0]
		for _, v := range values {
			if v != "" {
				nonEmpty = append(nonEmpty, v)
			}
		}

		switch {
		case len(nonEmpty) == 0:
		case len(values) == 2:
			start, end := values[0], values[1]
			if isDate(start) && isDate(end) {
				filter[field] = bson.M{"$gte": start, "$lt": end}
				continue
			}
			lo, loOK := parseNumber(start)
			hi, hiOK := parseNumber(end)
			if !loOK && !hiOK {
				filter[field] = bson.M{"$in": toInterfaces(nonEmpty)}
				continue
			}
			if !loOK {
				lo = 0
			}
			if !hiOK {
				hi = openRangeEnd
			}
			filter[field] = bson.M{"$gte": lo, "$lt": hi}
		case len(nonEmpty) > 1:
			filter[field] = bson.M{"$in": toInterfaces(nonEmpty)}
		case strings.Contains(nonEmpty[0], ","):
			var terms bson.A
			for _, term := range strings.Split(nonEmpty[0], ",") {
				if term = strings.TrimSpace(term); term != "" {
					terms = append(terms, bson.M{field: substring(term)})
				}
			}
			if len(terms) > 0 {
				ors = append(ors, bson.M{"$or": terms})
			}
		default:
			filter[field] = substring(nonEmpty[0])
		}
	}

	switch len(ors) {
	case 0:
	case 1:
		filter["$or"] = ors[0]["$or"]
	default:
		and := make(bson.A, len(ors))
		for i, o := range ors {
			and[i] = o
		}
		filter["$and"] = and
	}
	return filter
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// listSort orders by the requested field first, then newest updated and
// created records. Without orderBy the order rank ascends.
func listSort(orderBy, orderType string) bson.D {
	if orderBy == "" {
		orderBy = "order"
	}
	dir := int32(1)
	if orderBy != "order" && strings.EqualFold(orderType, "desc") {
		dir = -1
	}
	sort := bson.D{{Key: orderBy, Value: dir}}
	if orderBy != "updatedTime" {
		sort = append(sort, bson.E{Key: "updatedTime", Value: int32(-1)})
	}
	if orderBy != "createdTime" {
		sort = append(sort, bson.E{Key: "createdTime", Value: int32(-1)})
	}
	return sort
}

// List returns one page of q.Collection
func (r *Records) List(ctx context.Context, q ListQuery) (Page, error) {
	if err := requireCollection(q.Collection); err != nil {
		return Page{}, err
	}
	if q.PageNum < 1 {
		q.PageNum = 1
	}
	if q.PageSize < 1 || q.PageSize > DefaultPageSize {
		q.PageSize = DefaultPageSize
	}

	filter := buildFilter(q.Filters)
	docs, err := r.store.Find(ctx, q.Collection, filter, FindOptions{
		Sort:       listSort(q.OrderBy, q.OrderType),
		Skip:       (q.PageNum - 1) * q.PageSize,
		Limit:      q.PageSize,
		Projection: bson.M{"_id": 0},
	})
	if err != nil {
		return Page{}, storeError("list", err)
	}
	total, err := r.store.CountDocuments(ctx, q.Collection, filter)
	if err != nil {
		return Page{}, storeError("list", err)
	}

	list := plainDocs(docs)
	if list == nil {
		list = []interface{}{}
	}
	return Page{
		List:       list,
		Total:      total,
		PageNum:    q.PageNum,
		PageSize:   q.PageSize,
		TotalPages: (total + q.PageSize - 1) / q.PageSize,
	}, nil
}

// Detail returns the record with key
func (r *Records) Detail(ctx context.Context, cname, key string) (interface{}, error) {
	if err := requireCollection(cname); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, apperrors.New(apperrors.MissingParameter, "missing required parameter: key")
	}
	docs, err := r.store.Find(ctx, cname, bson.M{"key": key}, FindOptions{Limit: 1, Projection: bson.M{"_id": 0}})
	if err != nil {
		return nil, storeError("detail", err)
	}
	if len(docs) == 0 {
		return nil, apperrors.Newf(apperrors.NotFound, "no record with key %s", key)
	}
	return plainDoc(docs[0]), nil
}

func (r *Records) nextOrder(ctx context.Context, cname string) int64 {
	docs, err := r.store.Find(ctx, cname, bson.M{}, FindOptions{
		Sort:       bson.D{{Key: "order", Value: int32(-1)}},
		Limit:      1,
		Projection: bson.M{"order": 1},
	})
	if err != nil {
		logger.Warn("mongodb: failed to read max order of %s: %v", cname, err)
		return 1
	}
	if len(docs) == 0 {
		return 1
	}
	switch n := docs[0]["order"].(type) {
	case int32:
		return int64(n) + 1
	case int64:
		return n + 1
	case float64:
		return int64(n) + 1
	}
	return 1
}

// Create stores data as a new record and returns its key
func (r *Records) Create(ctx context.Context, cname string, data map[string]interface{}) (map[string]interface{}, error) {
	if err := requireCollection(cname); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.InvalidParameter, "record must not be empty")
	}

	doc := toDocument(data)
	delete(doc, "_id")
	stamp := r.now().UTC().Format(createdTimeLayout)
	doc["key"] = r.newID()
	doc["createdTime"] = stamp
	doc["updatedTime"] = stamp
	doc["order"] = r.nextOrder(ctx, cname)

	if _, err := r.store.InsertOne(ctx, cname, doc); err != nil {
		return nil, storeError("create", err)
	}
	logger.Info("mongodb: created record %s in %s", doc["key"], cname)
	return map[string]interface{}{"key": doc["key"]}, nil
}

// Update sets the fields of data on the record named by data["key"]
func (r *Records) Update(ctx context.Context, cname string, data map[string]interface{}) (map[string]interface{}, error) {
	if err := requireCollection(cname); err != nil {
		return nil, err
	}
	key, _ := data["key"].(string)
	if key == "" {
		return nil, apperrors.New(apperrors.MissingParameter, "missing required parameter: key")
	}
	if len(data) <= 1 {
		return nil, apperrors.New(apperrors.InvalidParameter, "update must change at least one field")
	}

	set := toDocument(data)
	delete(set, "_id")
	set["updatedTime"] = r.now().UTC().Format(createdTimeLayout)
	doc, err := r.store.FindOneAndUpdate(ctx, cname, bson.M{"key": key}, bson.M{"$set": set}, true)
	if err != nil {
		return nil, storeError("update", err)
	}
	if doc == nil {
		return nil, apperrors.Newf(apperrors.NotFound, "no record with key %s", key)
	}
	return map[string]interface{}{"key": key, "updated": true}, nil
}

// Delete removes the record with key, or every record in keys
func (r *Records) Delete(ctx context.Context, cname, key string, keys []string) (map[string]interface{}, error) {
	if err := requireCollection(cname); err != nil {
		return nil, err
	}
	if len(keys) > 0 {
		n, err := r.store.DeleteMany(ctx, cname, bson.M{"key": bson.M{"$in": toInterfaces(keys)}})
		if err != nil {
			return nil, storeError("delete", err)
		}
		return map[string]interface{}{"deleted_count": n}, nil
	}
	if key == "" {
		return nil, apperrors.New(apperrors.MissingParameter, "missing required parameter: key or keys")
	}
	n, err := r.store.DeleteOne(ctx, cname, bson.M{"key": key})
	if err != nil {
		return nil, storeError("delete", err)
	}
	if n == 0 {
		return nil, apperrors.Newf(apperrors.NotFound, "no record with key %s", key)
	}
	return map[string]interface{}{"deleted_count": n}, nil
}

// Reorder assigns new order ranks in one bulk write
func (r *Records) Reorder(ctx context.Context, cname string, items []OrderItem) (map[string]interface{}, error) {
	if err := requireCollection(cname); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperrors.New(apperrors.MissingParameter, "missing required parameter: orders")
	}

	stamp := r.now().UTC().Format(createdTimeLayout)
	ops := make([]UpdateOp, len(items))
	for i, item := range items {
		if item.Key == "" {
			return nil, apperrors.Newf(apperrors.InvalidParameter, "orders[%d] has no key", i)
		}
		if item.Order == nil {
			return nil, apperrors.Newf(apperrors.InvalidParameter, "orders[%d] has no order", i)
		}
		ops[i] = UpdateOp{
			Filter: bson.M{"key": item.Key},
			Update: bson.M{"$set": bson.M{"order": item.Order, "updatedTime": stamp}},
		}
	}

	res, err := r.store.BulkUpdate(ctx, cname, ops)
	if err != nil {
		return nil, storeError("batch order", err)
	}
	return map[string]interface{}{"updated_count": res.Modified, "total_count": len(ops)}, nil
}
