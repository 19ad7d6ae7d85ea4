package mongodb

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
)

const createdTimeLayout = "2006-01-02 15:04:05"

// toFilter copies a JSON filter into bson.M. A 24-hex "_id" string becomes
// an ObjectID so callers can address documents by the ids they were given.
func toFilter(m map[string]interface{}) bson.M {
	out := make(bson.M, len(m))
	for k, v := range m {
		out[k] = v
	}
	if s, ok := out["_id"].(string); ok {
		if oid, err := primitive.ObjectIDFromHex(s); err == nil {
			out["_id"] = oid
		}
	}
	return out
}

func toDocument(m map[string]interface{}) bson.M {
	out := make(bson.M, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// stampCreated sets createdTime on documents that do not carry one
func stampCreated(doc bson.M, now time.Time) {
	if _, ok := doc["createdTime"]; !ok {
		doc["createdTime"] = now.UTC().Format(createdTimeLayout)
	}
}

// toSort turns [[field, direction], ...] into an ordered bson.D.
func toSort(param string, items []interface{}) (bson.D, error) {
	sort := make(bson.D, 0, len(items))
	for _, item := range items {
		pair, ok := item.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, apperrors.Newf(apperrors.InvalidParameter, "%s must be a list of [field, direction] pairs", param)
		}
		field, ok := pair[0].(string)
		if !ok || field == "" {
			return nil, apperrors.Newf(apperrors.InvalidParameter, "%s must be a list of [field, direction] pairs", param)
		}
		dir, ok := direction(pair[1])
		if !ok {
			return nil, apperrors.Newf(apperrors.InvalidParameter, "%s direction for %s must be 1 or -1", param, field)
		}
		sort = append(sort, bson.E{Key: field, Value: dir})
	}
	return sort, nil
}

func direction(v interface{}) (int32, bool) {
	switch n := v.(type) {
	case int64:
		if n == 1 || n == -1 {
			return int32(n), true
		}
	case float64:
		if n == 1 || n == -1 {
			return int32(n), true
		}
	case int:
		if n == 1 || n == -1 {
			return int32(n), true
		}
	}
	return 0, false
}

// matchFilter builds the upsert filter from the document's own fields.
// With no query fields the whole document is the filter.
func matchFilter(doc bson.M, fields []string) (bson.M, error) {
	if len(fields) == 0 {
		return toDocument(doc), nil
	}
	filter := make(bson.M, len(fields))
	for _, f := range fields {
		v, ok := doc[f]
		if !ok {
			return nil, apperrors.Newf(apperrors.InvalidParameter, "query field %s is missing from the document", f)
		}
		filter[f] = v
	}
	return filter, nil
}

// idString renders an inserted or upserted id
func idString(id interface{}) interface{} {
	switch v := id.(type) {
	case nil:
		return nil
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// plain converts driver values into JSON-friendly ones: ObjectIDs become hex
// strings and nested BSON containers become maps and slices.
func plain(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		return plainMap(t)
	case map[string]interface{}:
		return plainMap(t)
	case bson.D:
		m := make(map[string]interface{}, len(t))
		for _, e := range t {
			m[e.Key] = plain(e.Value)
		}
		return m
	case bson.A:
		return plainSlice(t)
	case []interface{}:
		return plainSlice(t)
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339)
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0).UTC().Format(time.RFC3339)
	case primitive.Decimal128:
		return t.String()
	case primitive.Binary:
		return t.Data
	case primitive.Regex:
		return t.Pattern
	default:
		return v
	}
}

func plainMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}

func plainSlice(s []interface{}) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = plain(v)
	}
	return out
}

func plainDoc(doc bson.M) interface{} {
	if doc == nil {
		return nil
	}
	return plainMap(doc)
}

func plainDocs(docs []bson.M) []interface{} {
	out := make([]interface{}, len(docs))
	for i, d := range docs {
		out[i] = plainMap(d)
	}
	return out
}
