package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openfork/openfork/internal/tools"
)

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr string
	}{
		{"valid stdio", ServerConfig{Name: "fs", Transport: TransportStdio, Command: "mcp-fs"}, ""},
		{"default transport is stdio", ServerConfig{Name: "fs", Command: "mcp-fs"}, ""},
		{"valid http", ServerConfig{Name: "api", Transport: TransportHTTP, URL: "https://example.com/mcp"}, ""},
		{"missing name", ServerConfig{Command: "x"}, "name is required"},
		{"double underscore", ServerConfig{Name: "a__b", Command: "x"}, "double underscores"},
		{"stdio without command", ServerConfig{Name: "fs", Transport: TransportStdio}, "command is required"},
		{"http bad url", ServerConfig{Name: "api", Transport: TransportHTTP, URL: "ftp://x"}, "http or https"},
		{"unknown transport", ServerConfig{Name: "x", Transport: "grpc"}, "unknown transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandedEnv(t *testing.T) {
	t.Setenv("OPENFORK_TEST_TOKEN", "sekret")
	cfg := ServerConfig{
		Name:    "gh",
		Command: "mcp-github",
		Env: map[string]string{
			"GITHUB_TOKEN": "${OPENFORK_TEST_TOKEN}",
			"MODE":         "readonly",
		},
	}
	env := cfg.ExpandedEnv()
	got := map[string]bool{}
	for _, kv := range env {
		got[kv] = true
	}
	if !got["GITHUB_TOKEN=sekret"] || !got["MODE=readonly"] {
		t.Errorf("env = %v", env)
	}
}

func TestCallResultText(t *testing.T) {
	res := CallResult{Content: []ContentBlock{
		{Type: "text", Text: "line one"},
		{Type: "image", Data: "base64"},
		{Type: "text", Text: "line two"},
	}}
	if got := res.Text(); got != "line one\nline two" {
		t.Errorf("Text() = %q", got)
	}
}

func TestStdioDispatch(t *testing.T) {
	tr := newStdioTransport(&ServerConfig{Name: "test"})

	respCh := make(chan *rpcResponse, 1)
	tr.pending[7] = respCh
	tr.dispatch([]byte(`{"jsonrpc":"2.0","id":7,"result":{"ok":true}}`))
	select {
	case resp := <-respCh:
		if string(resp.Result) != `{"ok":true}` {
			t.Errorf("result = %s", resp.Result)
		}
	default:
		t.Fatal("response not delivered")
	}

	tr.dispatch([]byte(`{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`))
	select {
	case notif := <-tr.notifs:
		if notif.Method != "notifications/tools/list_changed" {
			t.Errorf("method = %q", notif.Method)
		}
	default:
		t.Fatal("notification not delivered")
	}

	// Responses for unknown ids are dropped, not fatal.
	tr.dispatch([]byte(`{"jsonrpc":"2.0","id":99,"result":{}}`))
}

// rpcTestServer implements a minimal MCP server over HTTP.
func rpcTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.ID == nil { // notification
			w.WriteHeader(http.StatusAccepted)
			return
		}
		var result any
		switch req.Method {
		case "initialize":
			result = initializeResult{
				ProtocolVersion: protocolVersion,
				ServerInfo:      serverInfo{Name: "fake-server", Version: "0.1.0"},
			}
		case "tools/list":
			result = listToolsResult{Tools: []*RemoteTool{{
				Name:        "lookup",
				Description: "looks things up",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
			}}}
		case "tools/call":
			var params callToolParams
			json.Unmarshal(req.Params, &params)
			if params.Name != "lookup" {
				json.NewEncoder(w).Encode(rpcResponse{
					JSONRPC: "2.0", ID: req.ID,
					Error: &rpcError{Code: -32602, Message: "unknown tool"},
				})
				return
			}
			result = CallResult{Content: []ContentBlock{{Type: "text", Text: "found it"}}}
		default:
			json.NewEncoder(w).Encode(rpcResponse{
				JSONRPC: "2.0", ID: req.ID,
				Error: &rpcError{Code: -32601, Message: "method not found"},
			})
			return
		}
		raw, _ := json.Marshal(result)
		json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: raw})
	}))
}

func TestClientHandshakeAndCallOverHTTP(t *testing.T) {
	srv := rpcTestServer(t)
	defer srv.Close()

	client := NewClient(&ServerConfig{
		Name:      "fake",
		Transport: TransportHTTP,
		URL:       srv.URL,
		Timeout:   2 * time.Second,
	})
	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	if client.ServerName() != "fake-server" {
		t.Errorf("server name = %q", client.ServerName())
	}
	toolList := client.Tools()
	if len(toolList) != 1 || toolList[0].Name != "lookup" {
		t.Fatalf("tools = %+v", toolList)
	}

	res, err := client.CallTool(ctx, "lookup", json.RawMessage(`{"query":"x"}`))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.Text() != "found it" {
		t.Errorf("text = %q", res.Text())
	}

	if _, err := client.CallTool(ctx, "nope", nil); err == nil {
		t.Error("expected rpc error for unknown tool")
	}
}

func TestManagerRegistersNamespacedTools(t *testing.T) {
	srv := rpcTestServer(t)
	defer srv.Close()

	registry := tools.NewRegistry()
	mgr := NewManager(registry)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := mgr.Start(ctx, []*ServerConfig{{
		Name:      "fake",
		Transport: TransportHTTP,
		URL:       srv.URL,
		Enabled:   true,
		Timeout:   2 * time.Second,
	}})
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Stop()

	name := AdapterName("fake", "lookup")
	if name != "mcp__fake__lookup" {
		t.Fatalf("adapter name = %q", name)
	}
	if _, ok := registry.Get(name); !ok {
		t.Fatalf("tool %s not registered; have %v", name, registry.Names())
	}

	// Schema validation applies to adapted tools too.
	res, err := registry.Execute(ctx, name, json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "invalid arguments") {
		t.Fatalf("expected validation error, got %+v", res)
	}

	res, err = registry.Execute(ctx, name, json.RawMessage(`{"query":"x"}`))
	if err != nil || res.IsError {
		t.Fatalf("call: res=%+v err=%v", res, err)
	}
	if res.Content != "found it" {
		t.Errorf("content = %q", res.Content)
	}

	mgr.Stop()
	if _, ok := registry.Get(name); ok {
		t.Error("tool still registered after Stop")
	}
}
