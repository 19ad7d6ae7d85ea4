package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/google/uuid"

	"github.com/FreePeak/db-dispatch-server/internal/logger"
	"github.com/FreePeak/db-dispatch-server/pkg/dispatch"
	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
)

const maxBodyBytes = 10 << 20

// RequestIDHeader carries the invocation id in both directions
const RequestIDHeader = "X-Request-ID"

// ExecuteHandler serves /module/: it reads module_name, method_name and
// params and hands them to the dispatcher.
type ExecuteHandler struct {
	dispatcher *dispatch.Dispatcher
}

// NewExecuteHandler creates a new execute handler
func NewExecuteHandler(dispatcher *dispatch.Dispatcher) *ExecuteHandler {
	return &ExecuteHandler{dispatcher: dispatcher}
}

// ServeHTTP handles GET and POST invocations
func (h *ExecuteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, r, requestID, "GET, POST, OPTIONS")
		return
	}

	req, err := readRequest(r)
	if err != nil {
		status, env := dispatch.Failure(err)
		writeJSON(w, status, requestID, env)
		return
	}
	req.RequestID = requestID

	result, err := h.dispatcher.Invoke(r.Context(), req)
	status, env := dispatch.Render(result, err)
	writeJSON(w, status, requestID, env)
}

// ensureRequestID echoes the caller's request id or assigns a new one
func ensureRequestID(w http.ResponseWriter, r *http.Request) string {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set(RequestIDHeader, requestID)
	return requestID
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, requestID, allow string) {
	w.Header().Set("Allow", allow)
	_, env := dispatch.Failure(apperrors.Newf(apperrors.InvalidRequest, "method %s is not allowed", r.Method))
	writeJSON(w, http.StatusMethodNotAllowed, requestID, env)
}

// readRequest accepts query or form fields, or a JSON body on POST
func readRequest(r *http.Request) (dispatch.Request, error) {
	if r.Method == http.MethodPost && isJSON(r.Header.Get("Content-Type")) {
		return readJSONBody(r)
	}

	if err := r.ParseForm(); err != nil {
		return dispatch.Request{}, apperrors.Wrap(apperrors.InvalidRequest, "malformed form body", err)
	}
	logger.RequestLog(r.Method, r.URL.String(), "", "")

	params, err := dispatch.DecodeParams([]byte(r.Form.Get("params")))
	if err != nil {
		return dispatch.Request{}, err
	}
	return dispatch.Request{
		Module: r.Form.Get("module_name"),
		Method: r.Form.Get("method_name"),
		Params: params,
	}, nil
}

func readJSONBody(r *http.Request) (dispatch.Request, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return dispatch.Request{}, apperrors.Wrap(apperrors.InvalidRequest, "failed to read request body", err)
	}
	logger.RequestLog(r.Method, r.URL.String(), "", string(body))

	var raw struct {
		Module string          `json:"module_name"`
		Method string          `json:"method_name"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return dispatch.Request{}, apperrors.Wrap(apperrors.InvalidRequest, "request body is not valid JSON", err)
	}

	// params may be an object or a JSON-encoded string holding one
	data := bytes.TrimSpace(raw.Params)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return dispatch.Request{}, apperrors.Wrap(apperrors.InvalidRequest, "params must be a JSON object", err)
		}
		data = []byte(s)
	}
	params, err := dispatch.DecodeParams(data)
	if err != nil {
		return dispatch.Request{}, err
	}

	module, method := raw.Module, raw.Method
	q := r.URL.Query()
	if module == "" {
		module = q.Get("module_name")
	}
	if method == "" {
		method = q.Get("method_name")
	}
	return dispatch.Request{Module: module, Method: method, Params: params}, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

func writeJSON(w http.ResponseWriter, status int, requestID string, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		logger.Error("Failed to encode response: %v", err)
		_, env := dispatch.Failure(apperrors.Wrap(apperrors.Internal, "failed to encode result", err))
		status = http.StatusInternalServerError
		body, _ = json.Marshal(env)
	}
	logger.ResponseLog(status, requestID, string(body))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logger.Warn("Failed to write response: %v", err)
	}
}
