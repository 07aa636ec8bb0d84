package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Client talks to a single MCP server: handshake, tool discovery, tool
// calls.
type Client struct {
	config    *ServerConfig
	transport Transport
	logger    *slog.Logger

	mu    sync.RWMutex
	tools []*RemoteTool
	info  serverInfo
}

// NewClient builds a client for one server; Connect must be called
// before use.
func NewClient(cfg *ServerConfig) *Client {
	return &Client{
		config:    cfg,
		transport: newTransport(cfg),
		logger:    slog.Default().With("mcp_server", cfg.Name),
	}
}

// Connect establishes the transport and performs the initialize
// handshake, then loads the server's tool list.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "openfork",
			"version": "1.0.0",
		},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}
	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		c.transport.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.mu.Lock()
	c.info = init.ServerInfo
	c.mu.Unlock()
	c.logger.Info("connected",
		"server", init.ServerInfo.Name,
		"version", init.ServerInfo.Version,
		"protocol", init.ProtocolVersion)

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("initialized notification failed", "error", err)
	}
	if err := c.RefreshTools(ctx); err != nil {
		c.logger.Warn("tool listing failed", "error", err)
	}
	return nil
}

// Close shuts the transport down.
func (c *Client) Close() error { return c.transport.Close() }

// Connected reports whether the transport is usable.
func (c *Client) Connected() bool { return c.transport.Connected() }

// ServerName returns the name the server reported during initialize.
func (c *Client) ServerName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info.Name
}

// RefreshTools re-fetches the server's tool list.
func (c *Client) RefreshTools(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	var list listToolsResult
	if err := json.Unmarshal(result, &list); err != nil {
		return fmt.Errorf("parse tools/list result: %w", err)
	}
	c.mu.Lock()
	c.tools = list.Tools
	c.mu.Unlock()
	c.logger.Debug("tools refreshed", "count", len(list.Tools))
	return nil
}

// Tools returns the cached tool list.
func (c *Client) Tools() []*RemoteTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// CallTool invokes a tool by its server-side name.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*CallResult, error) {
	params := callToolParams{Name: name, Arguments: arguments}
	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}
	var call CallResult
	if err := json.Unmarshal(result, &call); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	return &call, nil
}

// Notifications exposes server-initiated notifications; the manager
// watches for tools/list_changed.
func (c *Client) Notifications() <-chan *rpcNotification {
	return c.transport.Notifications()
}
