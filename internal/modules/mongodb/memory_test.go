package mongodb

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// memoryStore is an in-process Store that understands equality filters,
// the $gt/$gte/$lt/$lte/$ne/$in operators, $or/$and, regexes and $set
// updates.
type memoryStore struct {
	mu        sync.Mutex
	colls     map[string][]bson.M
	mutations int
	filters   []bson.M
	err       error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{colls: make(map[string][]bson.M)}
}

func copyDoc(d bson.M) bson.M {
	out := make(bson.M, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func compare(a, b interface{}) int {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func equal(a, b interface{}) bool {
	if _, ok := number(a); ok {
		if _, ok := number(b); ok {
			return compare(a, b) == 0
		}
	}
	return reflect.DeepEqual(a, b)
}

func anyMatches(doc bson.M, clauses interface{}, all bool) bool {
	var list []bson.M
	switch c := clauses.(type) {
	case []bson.M:
		list = c
	case bson.A:
		for _, v := range c {
			m, _ := v.(bson.M)
			list = append(list, m)
		}
	}
	for _, f := range list {
		if matches(doc, f) != all {
			return !all
		}
	}
	return all
}

func matches(doc, filter bson.M) bool {
	for k, want := range filter {
		switch k {
		case "$or":
			if !anyMatches(doc, want, false) {
				return false
			}
			continue
		case "$and":
			if !anyMatches(doc, want, true) {
				return false
			}
			continue
		}
		got, present := doc[k]
		if re, ok := want.(primitive.Regex); ok {
			s, isString := got.(string)
			pattern := re.Pattern
			if re.Options != "" {
				pattern = "(?" + re.Options + ")" + pattern
			}
			if !present || !isString || !regexp.MustCompile(pattern).MatchString(s) {
				return false
			}
			continue
		}
		ops, isOps := want.(map[string]interface{})
		if !isOps {
			if m, ok := want.(bson.M); ok {
				ops, isOps = m, true
			}
		}
		if isOps && len(ops) > 0 && strings.HasPrefix(firstKey(ops), "$") {
			for op, v := range ops {
				var ok bool
				switch op {
				case "$gt":
					ok = present && compare(got, v) > 0
				case "$gte":
					ok = present && compare(got, v) >= 0
				case "$lt":
					ok = present && compare(got, v) < 0
				case "$lte":
					ok = present && compare(got, v) <= 0
				case "$ne":
					ok = !present || !equal(got, v)
				case "$in":
					for _, item := range v.([]interface{}) {
						if present && equal(got, item) {
							ok = true
						}
					}
				}
				if !ok {
					return false
				}
			}
			continue
		}
		if !present || !equal(got, want) {
			return false
		}
	}
	return true
}

func firstKey(m map[string]interface{}) string {
	for k := range m {
		return k
	}
	return ""
}

// apply runs a $set update and reports whether anything changed
func apply(doc, update bson.M) bool {
	set, _ := update["$set"].(bson.M)
	changed := false
	for k, v := range set {
		if old, ok := doc[k]; !ok || !equal(old, v) {
			changed = true
		}
		doc[k] = v
	}
	return changed
}

func (s *memoryStore) seen(filter bson.M) {
	s.filters = append(s.filters, copyDoc(filter))
}

func (s *memoryStore) InsertOne(ctx context.Context, coll string, doc bson.M) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	d := copyDoc(doc)
	if _, ok := d["_id"]; !ok {
		d["_id"] = primitive.NewObjectID()
	}
	s.colls[coll] = append(s.colls[coll], d)
	s.mutations++
	return d["_id"], nil
}

func (s *memoryStore) InsertMany(ctx context.Context, coll string, docs []bson.M) ([]interface{}, error) {
	var ids []interface{}
	for _, d := range docs {
		id, err := s.InsertOne(ctx, coll, d)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memoryStore) FindOne(ctx context.Context, coll string, filter bson.M, projection bson.M) (bson.M, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.seen(filter)
	for _, d := range s.colls[coll] {
		if matches(d, filter) {
			return project(d, projection), nil
		}
	}
	return nil, nil
}

func project(d bson.M, projection bson.M) bson.M {
	if len(projection) == 0 {
		return copyDoc(d)
	}
	if excluded, ok := projection["_id"]; ok && excluded == 0 && len(projection) == 1 {
		out := copyDoc(d)
		delete(out, "_id")
		return out
	}
	out := bson.M{"_id": d["_id"]}
	for k := range projection {
		if v, ok := d[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (s *memoryStore) Find(ctx context.Context, coll string, filter bson.M, opts FindOptions) ([]bson.M, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.seen(filter)
	var out []bson.M
	for _, d := range s.colls[coll] {
		if matches(d, filter) {
			out = append(out, project(d, opts.Projection))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, e := range opts.Sort {
			c := compare(out[i][e.Key], out[j][e.Key])
			if c != 0 {
				if e.Value.(int32) < 0 {
					return c > 0
				}
				return c < 0
			}
		}
		return false
	})
	if opts.Skip > 0 {
		if int(opts.Skip) >= len(out) {
			return []bson.M{}, nil
		}
		out = out[opts.Skip:]
	}
	if opts.Limit > 0 && int(opts.Limit) < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *memoryStore) UpdateOne(ctx context.Context, coll string, filter, update bson.M, upsert bool) (UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return UpdateResult{}, s.err
	}
	s.seen(filter)
	for _, d := range s.colls[coll] {
		if matches(d, filter) {
			res := UpdateResult{Matched: 1}
			if apply(d, update) {
				res.Modified = 1
				s.mutations++
			}
			return res, nil
		}
	}
	if !upsert {
		return UpdateResult{}, nil
	}
	d := bson.M{}
	for k, v := range filter {
		if _, isOps := v.(map[string]interface{}); !isOps {
			d[k] = v
		}
	}
	apply(d, update)
	id := primitive.NewObjectID()
	d["_id"] = id
	s.colls[coll] = append(s.colls[coll], d)
	s.mutations++
	return UpdateResult{UpsertedID: id}, nil
}

func (s *memoryStore) UpdateMany(ctx context.Context, coll string, filter, update bson.M) (UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return UpdateResult{}, s.err
	}
	s.seen(filter)
	var res UpdateResult
	for _, d := range s.colls[coll] {
		if matches(d, filter) {
			res.Matched++
			if apply(d, update) {
				res.Modified++
				s.mutations++
			}
		}
	}
	return res, nil
}

func (s *memoryStore) BulkUpdate(ctx context.Context, coll string, ops []UpdateOp) (UpdateResult, error) {
	var res UpdateResult
	for _, op := range ops {
		r, err := s.UpdateOne(ctx, coll, op.Filter, op.Update, false)
		if err != nil {
			return res, err
		}
		res.Matched += r.Matched
		res.Modified += r.Modified
	}
	return res, nil
}

func (s *memoryStore) FindOneAndUpdate(ctx context.Context, coll string, filter, update bson.M, after bool) (bson.M, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.seen(filter)
	for _, d := range s.colls[coll] {
		if matches(d, filter) {
			before := copyDoc(d)
			if apply(d, update) {
				s.mutations++
			}
			if after {
				return copyDoc(d), nil
			}
			return before, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) remove(coll string, filter bson.M, limit int) []bson.M {
	var kept, removed []bson.M
	for _, d := range s.colls[coll] {
		if (limit <= 0 || len(removed) < limit) && matches(d, filter) {
			removed = append(removed, d)
			continue
		}
		kept = append(kept, d)
	}
	s.colls[coll] = kept
	s.mutations += len(removed)
	return removed
}

func (s *memoryStore) FindOneAndDelete(ctx context.Context, coll string, filter bson.M) (bson.M, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.seen(filter)
	removed := s.remove(coll, filter, 1)
	if len(removed) == 0 {
		return nil, nil
	}
	return removed[0], nil
}

func (s *memoryStore) DeleteOne(ctx context.Context, coll string, filter bson.M) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.seen(filter)
	return int64(len(s.remove(coll, filter, 1))), nil
}

func (s *memoryStore) DeleteMany(ctx context.Context, coll string, filter bson.M) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.seen(filter)
	return int64(len(s.remove(coll, filter, 0))), nil
}

func (s *memoryStore) CountDocuments(ctx context.Context, coll string, filter bson.M) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.seen(filter)
	var n int64
	for _, d := range s.colls[coll] {
		if matches(d, filter) {
			n++
		}
	}
	return n, nil
}

// Aggregate understands a leading $match stage only
func (s *memoryStore) Aggregate(ctx context.Context, coll string, pipeline []bson.M) ([]bson.M, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	filter := bson.M{}
	if len(pipeline) > 0 {
		if m, ok := pipeline[0]["$match"].(map[string]interface{}); ok {
			filter = m
		}
	}
	out := []bson.M{}
	for _, d := range s.colls[coll] {
		if matches(d, filter) {
			out = append(out, copyDoc(d))
		}
	}
	return out, nil
}

func (s *memoryStore) CreateIndex(ctx context.Context, coll string, keys bson.D, unique bool) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s_%d", k.Key, k.Value))
	}
	return strings.Join(parts, "_"), nil
}

func (s *memoryStore) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	names := make([]string, 0, len(s.colls))
	for name := range s.colls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memoryStore) Ping(ctx context.Context) error  { return s.err }
func (s *memoryStore) Close(ctx context.Context) error { return nil }

func (s *memoryStore) docs(coll string) []bson.M {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bson.M(nil), s.colls[coll]...)
}

func (s *memoryStore) mutationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}
