package api

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/FreePeak/db-dispatch-server/internal/logger"
	"github.com/FreePeak/db-dispatch-server/internal/modules/mongodb"
	"github.com/FreePeak/db-dispatch-server/pkg/dispatch"
	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
)

// RecordsPrefix is where the record routes are mounted
const RecordsPrefix = "/mongodb"

// RecordService is the key-addressed record API. *mongodb.Records
// implements it.
type RecordService interface {
	List(ctx context.Context, q mongodb.ListQuery) (mongodb.Page, error)
	Detail(ctx context.Context, cname, key string) (interface{}, error)
	Create(ctx context.Context, cname string, data map[string]interface{}) (map[string]interface{}, error)
	Update(ctx context.Context, cname string, data map[string]interface{}) (map[string]interface{}, error)
	Delete(ctx context.Context, cname, key string, keys []string) (map[string]interface{}, error)
	Reorder(ctx context.Context, cname string, items []mongodb.OrderItem) (map[string]interface{}, error)
}

// RecordsHandler serves the REST record routes:
//
//	GET    /mongodb/             paginated, filtered list
//	GET    /mongodb/detail       one record by key
//	POST   /mongodb/             create
//	PUT    /mongodb/             update by key
//	DELETE /mongodb/             delete by key or keys
//	PUT    /mongodb/batch-order  reassign order ranks
type RecordsHandler struct {
	records RecordService
}

// NewRecordsHandler creates the handler over records
func NewRecordsHandler(records RecordService) *RecordsHandler {
	return &RecordsHandler{records: records}
}

// query parameters that shape a list rather than filter it
var listControls = map[string]bool{
	"cname": true, "pageNum": true, "pageSize": true, "orderBy": true, "orderType": true,
}

func (h *RecordsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)
	route := strings.Trim(strings.TrimPrefix(r.URL.Path, RecordsPrefix), "/")

	var (
		result interface{}
		err    error
	)
	switch {
	case route == "" && r.Method == http.MethodGet:
		result, err = h.list(r)
	case route == "" && r.Method == http.MethodPost:
		result, err = h.create(r)
	case route == "" && r.Method == http.MethodPut:
		result, err = h.update(r)
	case route == "" && r.Method == http.MethodDelete:
		result, err = h.delete(r)
	case route == "":
		methodNotAllowed(w, r, requestID, "GET, POST, PUT, DELETE, OPTIONS")
		return
	case route == "detail" && r.Method == http.MethodGet:
		result, err = h.detail(r)
	case route == "batch-order" && r.Method == http.MethodPut:
		result, err = h.batchOrder(r)
	case route == "detail":
		methodNotAllowed(w, r, requestID, "GET, OPTIONS")
		return
	case route == "batch-order":
		methodNotAllowed(w, r, requestID, "PUT, OPTIONS")
		return
	default:
		err = apperrors.Newf(apperrors.NotFound, "no route %s", r.URL.Path)
	}

	status, env := dispatch.Render(result, err)
	writeJSON(w, status, requestID, env)
}

func positiveInt(q url.Values, name string) (int64, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, apperrors.Newf(apperrors.InvalidParameter, "parameter %s must be an integer", name)
	}
	return n, nil
}

func (h *RecordsHandler) list(r *http.Request) (interface{}, error) {
	q := r.URL.Query()
	pageNum, err := positiveInt(q, "pageNum")
	if err != nil {
		return nil, err
	}
	pageSize, err := positiveInt(q, "pageSize")
	if err != nil {
		return nil, err
	}

	filters := make(map[string][]string)
	for field, values := range q {
		if !listControls[field] {
			filters[field] = values
		}
	}
	return h.records.List(r.Context(), mongodb.ListQuery{
		Collection: q.Get("cname"),
		PageNum:    pageNum,
		PageSize:   pageSize,
		OrderBy:    q.Get("orderBy"),
		OrderType:  q.Get("orderType"),
		Filters:    filters,
	})
}

func (h *RecordsHandler) detail(r *http.Request) (interface{}, error) {
	q := r.URL.Query()
	key := q.Get("key")
	if key == "" {
		key = q.Get("id")
	}
	return h.records.Detail(r.Context(), q.Get("cname"), key)
}

// readBody decodes a JSON object body. The collection name may come from
// the query string or a "cname" body field.
func readBody(r *http.Request) (string, map[string]interface{}, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return "", nil, apperrors.Wrap(apperrors.InvalidRequest, "failed to read request body", err)
	}
	logger.RequestLog(r.Method, r.URL.String(), "", string(body))

	data, err := dispatch.DecodeParams(body)
	if err != nil {
		return "", nil, err
	}
	cname := r.URL.Query().Get("cname")
	if v, ok := data["cname"].(string); ok {
		if cname == "" {
			cname = v
		}
		delete(data, "cname")
	}
	return cname, data, nil
}

func (h *RecordsHandler) create(r *http.Request) (interface{}, error) {
	cname, data, err := readBody(r)
	if err != nil {
		return nil, err
	}
	return h.records.Create(r.Context(), cname, data)
}

func (h *RecordsHandler) update(r *http.Request) (interface{}, error) {
	cname, data, err := readBody(r)
	if err != nil {
		return nil, err
	}
	return h.records.Update(r.Context(), cname, data)
}

func (h *RecordsHandler) delete(r *http.Request) (interface{}, error) {
	q := r.URL.Query()
	var keys []string
	for _, k := range strings.Split(q.Get("keys"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return h.records.Delete(r.Context(), q.Get("cname"), q.Get("key"), keys)
}

func (h *RecordsHandler) batchOrder(r *http.Request) (interface{}, error) {
	cname, data, err := readBody(r)
	if err != nil {
		return nil, err
	}
	raw, ok := data["orders"].([]interface{})
	if !ok {
		return nil, apperrors.New(apperrors.InvalidParameter, "orders must be a list of {key, order} objects")
	}
	items := make([]mongodb.OrderItem, len(raw))
	for i, v := range raw {
		obj, ok := v.(map[string]interface{})
		if !ok {
			return nil, apperrors.New(apperrors.InvalidParameter, "orders must be a list of {key, order} objects")
		}
		key, _ := obj["key"].(string)
		items[i] = mongodb.OrderItem{Key: key, Order: obj["order"]}
	}
	return h.records.Reorder(r.Context(), cname, items)
}
