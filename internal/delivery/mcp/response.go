package mcp

import (
	"encoding/json"

	"github.com/FreePeak/db-dispatch-server/pkg/dispatch"
)

// TextContent represents a text content item in a response
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Response is a standardized response format for MCP tools
type Response struct {
	Content  []TextContent          `json:"content"`
	IsError  bool                   `json:"isError,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewResponse creates a new empty Response
func NewResponse() *Response {
	return &Response{
		Content: make([]TextContent, 0),
	}
}

// WithText adds a text content item to the response
func (r *Response) WithText(text string) *Response {
	r.Content = append(r.Content, TextContent{
		Type: "text",
		Text: text,
	})
	return r
}

// WithMetadata adds metadata to the response
func (r *Response) WithMetadata(key string, value interface{}) *Response {
	if r.Metadata == nil {
		r.Metadata = make(map[string]interface{})
	}
	r.Metadata[key] = value
	return r
}

// FromString creates a response from a string
func FromString(text string) *Response {
	return NewResponse().WithText(text)
}

// FromEnvelope renders an envelope as the tool's text content. Failures are
// flagged with isError and carry the same safe message the HTTP gateway
// would return.
func FromEnvelope(env dispatch.Envelope) *Response {
	body, err := json.Marshal(env)
	if err != nil {
		_, env = dispatch.Failure(err)
		body, _ = json.Marshal(env)
	}
	resp := FromString(string(body))
	if !env.Success {
		resp.IsError = true
		if env.Error != nil {
			resp.WithMetadata("kind", env.Error.Kind)
			resp.WithMetadata("retryable", env.Error.Retryable)
		}
	}
	return resp
}
