package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FreePeak/db-dispatch-server/internal/modules/mongodb"
	"github.com/FreePeak/db-dispatch-server/pkg/dispatch"
	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
)

// fakeRecords records the arguments of the last call
type fakeRecords struct {
	query  mongodb.ListQuery
	cname  string
	key    string
	keys   []string
	data   map[string]interface{}
	items  []mongodb.OrderItem
	called string
	err    error
}

func (f *fakeRecords) List(ctx context.Context, q mongodb.ListQuery) (mongodb.Page, error) {
	f.called, f.query = "list", q
	return mongodb.Page{List: []interface{}{map[string]interface{}{"key": "k1"}}, Total: 1, PageNum: 1, PageSize: 10, TotalPages: 1}, f.err
}

func (f *fakeRecords) Detail(ctx context.Context, cname, key string) (interface{}, error) {
	f.called, f.cname, f.key = "detail", cname, key
	if f.err != nil {
		return nil, f.err
	}
	return map[string]interface{}{"key": key}, nil
}

func (f *fakeRecords) Create(ctx context.Context, cname string, data map[string]interface{}) (map[string]interface{}, error) {
	f.called, f.cname, f.data = "create", cname, data
	return map[string]interface{}{"key": "k9"}, f.err
}

func (f *fakeRecords) Update(ctx context.Context, cname string, data map[string]interface{}) (map[string]interface{}, error) {
	f.called, f.cname, f.data = "update", cname, data
	return map[string]interface{}{"key": data["key"], "updated": true}, f.err
}

func (f *fakeRecords) Delete(ctx context.Context, cname, key string, keys []string) (map[string]interface{}, error) {
	f.called, f.cname, f.key, f.keys = "delete", cname, key, keys
	return map[string]interface{}{"deleted_count": int64(len(keys))}, f.err
}

func (f *fakeRecords) Reorder(ctx context.Context, cname string, items []mongodb.OrderItem) (map[string]interface{}, error) {
	f.called, f.cname, f.items = "reorder", cname, items
	return map[string]interface{}{"updated_count": int64(len(items)), "total_count": len(items)}, f.err
}

func newRecordsEnv(t *testing.T, token string) (http.Handler, *fakeRecords) {
	t.Helper()
	reg, err := dispatch.NewRegistry()
	require.NoError(t, err)
	records := &fakeRecords{}
	return NewRouter(dispatch.New(reg), RouterConfig{Token: token, Records: records}), records
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRecordsList(t *testing.T) {
	h, records := newRecordsEnv(t, "")

	rec := serve(h, http.MethodGet, "/mongodb/?cname=articles&pageNum=2&pageSize=10&orderBy=views&orderType=desc&title=go&createdTime=2024-01-01&createdTime=2024-02-01", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "list", records.called)
	assert.Equal(t, mongodb.ListQuery{
		Collection: "articles",
		PageNum:    2,
		PageSize:   10,
		OrderBy:    "views",
		OrderType:  "desc",
		Filters: map[string][]string{
			"title":       {"go"},
			"createdTime": {"2024-01-01", "2024-02-01"},
		},
	}, records.query)

	env := decode(t, rec)
	assert.True(t, env.Success)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, float64(1), data["total"])
	assert.Len(t, data["list"], 1)

	rec = serve(h, http.MethodGet, "/mongodb?cname=articles", "")
	assert.Equal(t, http.StatusOK, rec.Code, "prefix without slash")
	assert.Empty(t, records.query.Filters)
}

func TestRecordsListRejectsBadPaging(t *testing.T) {
	h, records := newRecordsEnv(t, "")

	rec := serve(h, http.MethodGet, "/mongodb/?cname=articles&pageNum=two", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, apperrors.InvalidParameter, env.Error.Kind)
	assert.Equal(t, "parameter pageNum must be an integer", env.Message)
	assert.Empty(t, records.called)
}

func TestRecordsDetail(t *testing.T) {
	h, records := newRecordsEnv(t, "")

	rec := serve(h, http.MethodGet, "/mongodb/detail?cname=articles&key=k1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "k1", records.key)

	serve(h, http.MethodGet, "/mongodb/detail?cname=articles&id=k2", "")
	assert.Equal(t, "k2", records.key, "id is accepted for key")

	records.err = apperrors.New(apperrors.NotFound, "record k3 not found")
	rec = serve(h, http.MethodGet, "/mongodb/detail?cname=articles&key=k3", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.NotFound, decode(t, rec).Error.Kind)
}

func TestRecordsCreateAndUpdate(t *testing.T) {
	h, records := newRecordsEnv(t, "")

	rec := serve(h, http.MethodPost, "/mongodb/", `{"cname":"articles","title":"Go","views":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "create", records.called)
	assert.Equal(t, "articles", records.cname)
	assert.Equal(t, map[string]interface{}{"title": "Go", "views": int64(3)}, records.data, "cname is not stored")
	assert.Equal(t, map[string]interface{}{"key": "k9"}, decode(t, rec).Data)

	rec = serve(h, http.MethodPut, "/mongodb/?cname=drafts", `{"cname":"articles","key":"k1","title":"Go 2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "update", records.called)
	assert.Equal(t, "drafts", records.cname, "query string wins over body")
	assert.Equal(t, map[string]interface{}{"key": "k1", "title": "Go 2"}, records.data)

	rec = serve(h, http.MethodPost, "/mongodb/", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordsDelete(t *testing.T) {
	h, records := newRecordsEnv(t, "")

	rec := serve(h, http.MethodDelete, "/mongodb/?cname=articles&keys=k1,%20k2,,k3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "articles", records.cname)
	assert.Equal(t, []string{"k1", "k2", "k3"}, records.keys)
	assert.Empty(t, records.key)

	serve(h, http.MethodDelete, "/mongodb/?cname=articles&key=k7", "")
	assert.Equal(t, "k7", records.key)
	assert.Nil(t, records.keys)
}

func TestRecordsBatchOrder(t *testing.T) {
	h, records := newRecordsEnv(t, "")

	rec := serve(h, http.MethodPut, "/mongodb/batch-order", `{"cname":"articles","orders":[{"key":"k2","order":1},{"key":"k1","order":2}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "articles", records.cname)
	assert.Equal(t, []mongodb.OrderItem{{Key: "k2", Order: int64(1)}, {Key: "k1", Order: int64(2)}}, records.items)

	records.called = ""
	rec = serve(h, http.MethodPut, "/mongodb/batch-order", `{"cname":"articles","orders":{"k1":1}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.InvalidParameter, decode(t, rec).Error.Kind)
	assert.Empty(t, records.called)
}

func TestRecordsRouting(t *testing.T) {
	h, records := newRecordsEnv(t, "")

	rec := serve(h, http.MethodPatch, "/mongodb/", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST, PUT, DELETE, OPTIONS", rec.Header().Get("Allow"))

	rec = serve(h, http.MethodPost, "/mongodb/batch-order", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(h, http.MethodGet, "/mongodb/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, records.called)
}

func TestRecordsRequireToken(t *testing.T) {
	h, records := newRecordsEnv(t, "s3cret")

	rec := serve(h, http.MethodGet, "/mongodb/?cname=articles", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, records.called)

	req := httptest.NewRequest(http.MethodGet, "/mongodb/?cname=articles", nil)
	req.Header.Set(TokenHeader, "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecordRoutesAbsentWithoutService(t *testing.T) {
	env := newTestEnv(t, "")
	rec := serve(env.handler, http.MethodGet, "/mongodb/?cname=articles", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
