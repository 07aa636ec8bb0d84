package mcp

import (
	"context"
	"encoding/json"
)

// Transport moves JSON-RPC messages to and from a server.
type Transport interface {
	// Connect establishes the connection.
	Connect(ctx context.Context) error

	// Close tears the connection down.
	Close() error

	// Call sends a request and waits for the matching response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification; no response is expected.
	Notify(ctx context.Context, method string, params any) error

	// Notifications delivers server-initiated notifications.
	Notifications() <-chan *rpcNotification

	// Connected reports whether the transport is usable.
	Connected() bool
}

func newTransport(cfg *ServerConfig) Transport {
	if cfg.Transport == TransportHTTP {
		return newHTTPTransport(cfg)
	}
	return newStdioTransport(cfg)
}
