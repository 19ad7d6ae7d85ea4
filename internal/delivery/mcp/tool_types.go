package mcp

import (
	"context"
	"encoding/json"

	"github.com/FreePeak/cortex/pkg/server"
	"github.com/FreePeak/cortex/pkg/tools"

	"github.com/FreePeak/db-dispatch-server/pkg/dispatch"
	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
)

// ToolType interface defines the structure of a dispatcher-backed tool
type ToolType interface {
	// GetName returns the base name of the tool type (e.g., "invoke_module")
	GetName() string

	// GetDescription returns a description for this tool type
	GetDescription() string

	// CreateTool creates a tool with the specified name
	// The returned tool must be compatible with server.MCPServer.AddTool's first parameter
	CreateTool(name string) interface{}

	// HandleRequest handles tool requests for this tool type
	HandleRequest(ctx context.Context, request server.ToolCallRequest) (interface{}, error)
}

// BaseToolType provides common functionality for tool types
type BaseToolType struct {
	name        string
	description string
}

// GetName returns the name of the tool type
func (b *BaseToolType) GetName() string {
	return b.name
}

// GetDescription returns a description for the tool type
func (b *BaseToolType) GetDescription() string {
	return b.description
}

//------------------------------------------------------------------------------
// InvokeTool implementation
//------------------------------------------------------------------------------

// InvokeTool runs one registered module method
type InvokeTool struct {
	BaseToolType
	dispatcher *dispatch.Dispatcher
}

// NewInvokeTool creates a new invoke tool type
func NewInvokeTool(d *dispatch.Dispatcher) *InvokeTool {
	return &InvokeTool{
		BaseToolType: BaseToolType{
			name:        "invoke_module",
			description: "Invoke a registered module method. Call list_modules for the available modules, methods and parameters",
		},
		dispatcher: d,
	}
}

// CreateTool creates an invoke tool
func (t *InvokeTool) CreateTool(name string) interface{} {
	return tools.NewTool(
		name,
		tools.WithDescription(t.GetDescription()),
		tools.WithString("module_name",
			tools.Description("Module path, e.g. modules.database.mongoClient"),
			tools.Required(),
		),
		tools.WithString("method_name",
			tools.Description("Method to call, e.g. find_one"),
			tools.Required(),
		),
		tools.WithString("params",
			tools.Description("JSON object of named parameters"),
		),
	)
}

// toolParams accepts params as a JSON string or as an already decoded object
func toolParams(raw interface{}) (map[string]interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case string:
		return dispatch.DecodeParams([]byte(v))
	case map[string]interface{}:
		// round-trip so numbers are normalized the same way as over HTTP
		b, err := json.Marshal(v)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.InvalidRequest, "params must be a JSON object", err)
		}
		return dispatch.DecodeParams(b)
	default:
		return nil, apperrors.New(apperrors.InvalidRequest, "params must be a JSON object")
	}
}

// HandleRequest handles an invoke tool request
func (t *InvokeTool) HandleRequest(ctx context.Context, request server.ToolCallRequest) (interface{}, error) {
	module, _ := request.Parameters["module_name"].(string)
	method, _ := request.Parameters["method_name"].(string)

	params, err := toolParams(request.Parameters["params"])
	if err != nil {
		_, env := dispatch.Failure(err)
		return FromEnvelope(env), nil
	}

	result, err := t.dispatcher.Invoke(ctx, dispatch.Request{Module: module, Method: method, Params: params})
	_, env := dispatch.Render(result, err)
	return FromEnvelope(env), nil
}

//------------------------------------------------------------------------------
// ListModulesTool implementation
//------------------------------------------------------------------------------

// ListModulesTool describes the registry
type ListModulesTool struct {
	BaseToolType
	dispatcher *dispatch.Dispatcher
}

// NewListModulesTool creates a new list tool type
func NewListModulesTool(d *dispatch.Dispatcher) *ListModulesTool {
	return &ListModulesTool{
		BaseToolType: BaseToolType{
			name:        "list_modules",
			description: "List registered modules with their methods and parameters",
		},
		dispatcher: d,
	}
}

// CreateTool creates a list tool
func (t *ListModulesTool) CreateTool(name string) interface{} {
	return tools.NewTool(
		name,
		tools.WithDescription(t.GetDescription()),
		tools.WithString("module_name",
			tools.Description("Only describe this module"),
		),
	)
}

// HandleRequest handles a list tool request
func (t *ListModulesTool) HandleRequest(ctx context.Context, request server.ToolCallRequest) (interface{}, error) {
	list := t.dispatcher.Registry().List()
	if name, _ := request.Parameters["module_name"].(string); name != "" {
		var filtered []dispatch.NamespaceInfo
		for _, ns := range list {
			if ns.Path == name || contains(ns.Aliases, name) {
				filtered = append(filtered, ns)
			}
		}
		if filtered == nil {
			_, env := dispatch.Failure(apperrors.Newf(apperrors.UnknownModule, "unknown module: %s", name))
			return FromEnvelope(env), nil
		}
		list = filtered
	}
	return FromEnvelope(dispatch.Success(list)), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
