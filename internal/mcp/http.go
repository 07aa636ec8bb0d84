package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
)

// httpTransport POSTs each JSON-RPC message to the server URL.
// Request ids are UUIDs since there is no shared counter with the
// server side.
type httpTransport struct {
	config *ServerConfig
	logger *slog.Logger
	client *http.Client

	notifs    chan *rpcNotification
	connected atomic.Bool
}

func newHTTPTransport(cfg *ServerConfig) *httpTransport {
	return &httpTransport{
		config: cfg,
		logger: slog.Default().With("mcp_server", cfg.Name, "transport", "http"),
		client: &http.Client{Timeout: cfg.timeout()},
		notifs: make(chan *rpcNotification, 100),
	}
}

func (t *httpTransport) Connect(ctx context.Context) error {
	t.connected.Store(true)
	return nil
}

func (t *httpTransport) Close() error {
	t.connected.Store(false)
	return nil
}

func (t *httpTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("server %s: not connected", t.config.Name)
	}

	req := rpcRequest{JSONRPC: "2.0", ID: uuid.New().String(), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	raw, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("server %s: parse response: %w", t.config.Name, err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (t *httpTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("server %s: not connected", t.config.Name)
	}
	notif := rpcNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		notif.Params = raw
	}
	_, err := t.post(ctx, notif)
	return err
}

func (t *httpTransport) post(ctx context.Context, msg any) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", t.config.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("server %s: read response: %w", t.config.Name, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("server %s: HTTP %d: %s", t.config.Name, resp.StatusCode, bytes.TrimSpace(raw))
	}
	return raw, nil
}

func (t *httpTransport) Notifications() <-chan *rpcNotification { return t.notifs }
func (t *httpTransport) Connected() bool                        { return t.connected.Load() }
