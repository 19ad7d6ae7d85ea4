package mcp

import (
	"context"
	"fmt"
	"os"

	"github.com/FreePeak/cortex/pkg/server"

	"github.com/FreePeak/db-dispatch-server/pkg/dispatch"
	"github.com/FreePeak/db-dispatch-server/pkg/logger"
)

// ToolRegistry structure to handle tool registration
type ToolRegistry struct {
	server    ToolAdder
	toolTypes []ToolType
}

// NewToolRegistry creates a tool registry serving d through srv
func NewToolRegistry(srv ToolAdder, d *dispatch.Dispatcher) *ToolRegistry {
	return &ToolRegistry{
		server: srv,
		toolTypes: []ToolType{
			NewInvokeTool(d),
			NewListModulesTool(d),
		},
	}
}

// NewServerToolRegistry is NewToolRegistry over a cortex server
func NewServerToolRegistry(mcpServer *server.MCPServer, d *dispatch.Dispatcher) *ToolRegistry {
	return NewToolRegistry(NewServerWrapper(mcpServer), d)
}

// getToolNamePrefix returns the prefix prepended to every tool name
func getToolNamePrefix() string {
	return os.Getenv("MCP_TOOL_PREFIX")
}

// RegisterAllTools registers all tools with the server
func (tr *ToolRegistry) RegisterAllTools(ctx context.Context) error {
	prefix := getToolNamePrefix()
	registrationErrors := 0
	for _, tt := range tr.toolTypes {
		name := prefix + tt.GetName()
		if err := tr.registerTool(ctx, tt, name); err != nil {
			logger.Error("Error registering tool %s: %v", name, err)
			registrationErrors++
			continue
		}
		logger.Info("Registered tool %s", name)
	}

	if registrationErrors > 0 {
		return fmt.Errorf("errors occurred while registering %d tools", registrationErrors)
	}
	return nil
}

func (tr *ToolRegistry) registerTool(ctx context.Context, tt ToolType, name string) error {
	tool := tt.CreateTool(name)
	return tr.server.AddTool(ctx, tool, func(ctx context.Context, request server.ToolCallRequest) (interface{}, error) {
		return tt.HandleRequest(ctx, request)
	})
}
