package dispatch

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
)

// Envelope is the JSON shape of every response
type Envelope struct {
	Success bool
	Message string
	Data    interface{}
	Error   *ErrorBody
}

// ErrorBody describes a failure
type ErrorBody struct {
	Kind      apperrors.Kind `json:"kind"`
	Code      int            `json:"code"`
	Retryable bool           `json:"retryable"`
}

// MarshalJSON keeps "data" on success, even when null, and drops it on failure.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Success {
		return json.Marshal(struct {
			Success bool        `json:"success"`
			Message string      `json:"message"`
			Data    interface{} `json:"data"`
		}{e.Success, e.Message, e.Data})
	}
	return json.Marshal(struct {
		Success bool       `json:"success"`
		Message string     `json:"message"`
		Error   *ErrorBody `json:"error"`
	}{e.Success, e.Message, e.Error})
}

// UnmarshalJSON reads either shape
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw struct {
		Success bool        `json:"success"`
		Message string      `json:"message"`
		Data    interface{} `json:"data"`
		Error   *ErrorBody  `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Envelope{Success: raw.Success, Message: raw.Message, Data: raw.Data, Error: raw.Error}
	return nil
}

// Success wraps a result
func Success(data interface{}) Envelope {
	return Envelope{Success: true, Message: "success", Data: data}
}

// Failure renders err and returns the HTTP status that goes with it
func Failure(err error) (int, Envelope) {
	kind := apperrors.KindOf(err)
	info := apperrors.Describe(kind)
	return info.Status, Envelope{
		Success: false,
		Message: apperrors.MessageOf(err),
		Error: &ErrorBody{
			Kind:      kind,
			Code:      info.Code,
			Retryable: info.Retryable,
		},
	}
}

// Render converts an invocation outcome into status and envelope
func Render(result interface{}, err error) (int, Envelope) {
	if err != nil {
		return Failure(err)
	}
	return http.StatusOK, Success(result)
}
