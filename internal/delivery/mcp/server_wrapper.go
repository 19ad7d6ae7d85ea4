package mcp

import (
	"context"
	"fmt"

	"github.com/FreePeak/cortex/pkg/server"
	"github.com/FreePeak/cortex/pkg/types"

	"github.com/FreePeak/db-dispatch-server/pkg/logger"
)

// ToolHandler answers one tool call
type ToolHandler func(ctx context.Context, request server.ToolCallRequest) (interface{}, error)

// ToolAdder registers tools; ServerWrapper adapts *server.MCPServer to it
type ToolAdder interface {
	AddTool(ctx context.Context, tool interface{}, handler ToolHandler) error
}

// ServerWrapper provides a wrapper around server.MCPServer to handle type assertions
type ServerWrapper struct {
	mcpServer *server.MCPServer
}

// NewServerWrapper creates a new ServerWrapper
func NewServerWrapper(mcpServer *server.MCPServer) *ServerWrapper {
	return &ServerWrapper{
		mcpServer: mcpServer,
	}
}

// AddTool adds a tool to the server
func (sw *ServerWrapper) AddTool(ctx context.Context, tool interface{}, handler ToolHandler) error {
	logger.Debug("Adding tool: %T", tool)

	typedTool, ok := tool.(*types.Tool)
	if !ok {
		return fmt.Errorf("tool is not of type *types.Tool: %T", tool)
	}
	return sw.mcpServer.AddTool(ctx, typedTool, func(ctx context.Context, request server.ToolCallRequest) (interface{}, error) {
		return handler(ctx, request)
	})
}
