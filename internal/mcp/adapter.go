package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openfork/openfork/internal/tools"
)

// toolAdapter presents one remote tool through the registry's Tool
// interface. The registered name is namespaced so servers cannot
// shadow built-ins or each other.
type toolAdapter struct {
	client *Client
	remote *RemoteTool
	server string
}

// AdapterName builds the registry name for a server tool.
func AdapterName(server, tool string) string {
	return fmt.Sprintf("mcp__%s__%s", server, tool)
}

func (a *toolAdapter) Name() string { return AdapterName(a.server, a.remote.Name) }

func (a *toolAdapter) Description() string {
	if a.remote.Description != "" {
		return a.remote.Description
	}
	return fmt.Sprintf("Tool %s from MCP server %s.", a.remote.Name, a.server)
}

func (a *toolAdapter) Schema() json.RawMessage {
	if len(a.remote.InputSchema) > 0 {
		return a.remote.InputSchema
	}
	return json.RawMessage(`{"type":"object"}`)
}

func (a *toolAdapter) Execute(ctx context.Context, params json.RawMessage) (*tools.ToolResult, error) {
	result, err := a.client.CallTool(ctx, a.remote.Name, params)
	if err != nil {
		return tools.Errorf("mcp %s/%s: %v", a.server, a.remote.Name, err), nil
	}
	return &tools.ToolResult{
		Content: result.Text(),
		IsError: result.IsError,
		Title:   a.remote.Name,
	}, nil
}
