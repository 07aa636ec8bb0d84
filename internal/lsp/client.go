package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const requestTimeout = 30 * time.Second

// ServerConfig describes one language server binary.
type ServerConfig struct {
	Name       string   `yaml:"name" json:"name"`
	Command    string   `yaml:"command" json:"command"`
	Args       []string `yaml:"args" json:"args,omitempty"`
	Extensions []string `yaml:"extensions" json:"extensions"`
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *responseError  `json:"error,omitempty"`
}

type responseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *responseError) Error() string {
	return fmt.Sprintf("lsp error %d: %s", e.Code, e.Message)
}

// Diagnostic is one finding published by the server.
type Diagnostic struct {
	Range    Range  `json:"range"`
	Severity int    `json:"severity,omitempty"`
	Code     any    `json:"code,omitempty"`
	Source   string `json:"source,omitempty"`
	Message  string `json:"message"`
}

type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location is a place in a file, as returned by navigation requests.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// DocumentSymbol is a symbol in a file (hierarchical form).
type DocumentSymbol struct {
	Name     string           `json:"name"`
	Kind     int              `json:"kind"`
	Range    Range            `json:"range"`
	Children []DocumentSymbol `json:"children,omitempty"`
}

// WorkspaceSymbol is a symbol matched by a workspace-wide query.
type WorkspaceSymbol struct {
	Name     string   `json:"name"`
	Kind     int      `json:"kind"`
	Location Location `json:"location"`
}

// Client drives a single language server process.
type Client struct {
	config  ServerConfig
	rootDir string
	logger  *slog.Logger

	process *exec.Cmd
	stdin   io.WriteCloser

	writeMu sync.Mutex
	reqMu   sync.Mutex
	pending map[int64]chan *response
	nextID  atomic.Int64

	diagMu      sync.Mutex
	diagnostics map[string][]Diagnostic // uri -> findings

	openMu sync.Mutex
	open   map[string]bool

	alive atomic.Bool
	done  chan struct{}
}

// NewClient builds a client; Start launches the process.
func NewClient(cfg ServerConfig, rootDir string) *Client {
	return &Client{
		config:      cfg,
		rootDir:     rootDir,
		logger:      slog.Default().With("lsp_server", cfg.Name),
		pending:     make(map[int64]chan *response),
		diagnostics: make(map[string][]Diagnostic),
		open:        make(map[string]bool),
		done:        make(chan struct{}),
	}
}

// Start launches the server and performs the initialize handshake.
func (c *Client) Start(ctx context.Context) error {
	c.process = exec.Command(c.config.Command, c.config.Args...)
	c.process.Dir = c.rootDir

	var err error
	c.stdin, err = c.process.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := c.process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	c.process.Stderr = nil

	if err := c.process.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.config.Command, err)
	}
	c.alive.Store(true)
	go c.readLoop(bufio.NewReader(stdout))

	initParams := map[string]any{
		"processId": os.Getpid(),
		"rootUri":   fileURI(c.rootDir),
		"capabilities": map[string]any{
			"textDocument": map[string]any{
				"hover":          map[string]any{"contentFormat": []string{"plaintext", "markdown"}},
				"definition":     map[string]any{},
				"references":     map[string]any{},
				"documentSymbol": map[string]any{"hierarchicalDocumentSymbolSupport": true},
				"implementation": map[string]any{},
				"publishDiagnostics": map[string]any{
					"relatedInformation": false,
				},
			},
			"workspace": map[string]any{"symbol": map[string]any{}},
		},
	}
	if _, err := c.call(ctx, "initialize", initParams); err != nil {
		c.Stop()
		return fmt.Errorf("initialize: %w", err)
	}
	if err := c.notify("initialized", map[string]any{}); err != nil {
		c.logger.Warn("initialized notification failed", "error", err)
	}
	c.logger.Info("language server ready", "command", c.config.Command)
	return nil
}

// Stop kills the server process.
func (c *Client) Stop() {
	if !c.alive.CompareAndSwap(true, false) {
		return
	}
	close(c.done)
	if c.stdin != nil {
		c.stdin.Close()
	}
	if c.process != nil && c.process.Process != nil {
		c.process.Process.Kill()
		c.process.Wait()
	}
}

// Alive reports whether the process is still usable.
func (c *Client) Alive() bool { return c.alive.Load() }

// DidOpen tells the server about a file so it starts analyzing it.
// Re-opening an already open file is a no-op.
func (c *Client) DidOpen(filePath string) error {
	uri := fileURI(filePath)
	c.openMu.Lock()
	if c.open[uri] {
		c.openMu.Unlock()
		return nil
	}
	c.open[uri] = true
	c.openMu.Unlock()

	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", filePath, err)
	}
	return c.notify("textDocument/didOpen", map[string]any{
		"textDocument": map[string]any{
			"uri":        uri,
			"languageId": languageID(filePath),
			"version":    1,
			"text":       string(content),
		},
	})
}

// Diagnostics returns the latest published findings for a file.
func (c *Client) Diagnostics(filePath string) []Diagnostic {
	c.diagMu.Lock()
	defer c.diagMu.Unlock()
	return append([]Diagnostic(nil), c.diagnostics[fileURI(filePath)]...)
}

// Hover asks for hover text at a position.
func (c *Client) Hover(ctx context.Context, filePath string, line, character int) (string, error) {
	raw, err := c.call(ctx, "textDocument/hover", positionParams(filePath, line, character))
	if err != nil {
		return "", err
	}
	var hover struct {
		Contents json.RawMessage `json:"contents"`
	}
	if err := json.Unmarshal(raw, &hover); err != nil || len(hover.Contents) == 0 {
		return "", err
	}
	return hoverText(hover.Contents), nil
}

// Definition resolves the definition locations of a symbol.
func (c *Client) Definition(ctx context.Context, filePath string, line, character int) ([]Location, error) {
	return c.locations(ctx, "textDocument/definition", positionParams(filePath, line, character))
}

// References finds all references to a symbol, including the
// declaration.
func (c *Client) References(ctx context.Context, filePath string, line, character int) ([]Location, error) {
	params := positionParams(filePath, line, character)
	params["context"] = map[string]any{"includeDeclaration": true}
	return c.locations(ctx, "textDocument/references", params)
}

// Implementations finds implementations of an interface or abstract
// symbol.
func (c *Client) Implementations(ctx context.Context, filePath string, line, character int) ([]Location, error) {
	return c.locations(ctx, "textDocument/implementation", positionParams(filePath, line, character))
}

// DocumentSymbols lists the symbols defined in a file.
func (c *Client) DocumentSymbols(ctx context.Context, filePath string) ([]DocumentSymbol, error) {
	raw, err := c.call(ctx, "textDocument/documentSymbol", map[string]any{
		"textDocument": map[string]any{"uri": fileURI(filePath)},
	})
	if err != nil {
		return nil, err
	}
	var symbols []DocumentSymbol
	if err := json.Unmarshal(raw, &symbols); err != nil {
		return nil, fmt.Errorf("parse symbols: %w", err)
	}
	return symbols, nil
}

// WorkspaceSymbols searches symbols across the workspace.
func (c *Client) WorkspaceSymbols(ctx context.Context, query string) ([]WorkspaceSymbol, error) {
	raw, err := c.call(ctx, "workspace/symbol", map[string]any{"query": query})
	if err != nil {
		return nil, err
	}
	var symbols []WorkspaceSymbol
	if err := json.Unmarshal(raw, &symbols); err != nil {
		return nil, fmt.Errorf("parse symbols: %w", err)
	}
	return symbols, nil
}

func (c *Client) locations(ctx context.Context, method string, params map[string]any) ([]Location, error) {
	raw, err := c.call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	// Servers return either a single Location or an array.
	var locs []Location
	if err := json.Unmarshal(raw, &locs); err == nil {
		return locs, nil
	}
	var one Location
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("parse locations: %w", err)
	}
	return []Location{one}, nil
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !c.alive.Load() {
		return nil, fmt.Errorf("server %s: not running", c.config.Name)
	}

	id := c.nextID.Add(1)
	respCh := make(chan *response, 1)
	c.reqMu.Lock()
	c.pending[id] = respCh
	c.reqMu.Unlock()
	defer func() {
		c.reqMu.Lock()
		delete(c.pending, id)
		c.reqMu.Unlock()
	}()

	payload, err := marshalFrame(request{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	if err := c.write(payload); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("server %s: %s timed out after %v", c.config.Name, method, requestTimeout)
	case <-c.done:
		return nil, fmt.Errorf("server %s: stopped", c.config.Name)
	}
}

func (c *Client) notify(method string, params any) error {
	payload, err := marshalFrame(request{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	return c.write(payload)
}

func (c *Client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.stdin, payload)
}

func (c *Client) readLoop(r *bufio.Reader) {
	defer c.alive.Store(false)
	for {
		frame, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				c.logger.Debug("read loop ended", "error", err)
			}
			return
		}
		var msg response
		if err := json.Unmarshal(frame, &msg); err != nil {
			c.logger.Warn("unparseable message", "error", err)
			continue
		}
		switch {
		case msg.ID != nil && msg.Method == "":
			c.reqMu.Lock()
			ch, ok := c.pending[*msg.ID]
			delete(c.pending, *msg.ID)
			c.reqMu.Unlock()
			if ok {
				ch <- &msg
			}
		case msg.Method == "textDocument/publishDiagnostics":
			c.storeDiagnostics(msg.Params)
		case msg.ID != nil:
			// Server-initiated request; answer with an empty result so
			// the server does not stall waiting.
			payload, err := marshalFrame(map[string]any{
				"jsonrpc": "2.0", "id": *msg.ID, "result": nil,
			})
			if err == nil {
				c.write(payload)
			}
		}
	}
}

func (c *Client) storeDiagnostics(params json.RawMessage) {
	var pub struct {
		URI         string       `json:"uri"`
		Diagnostics []Diagnostic `json:"diagnostics"`
	}
	if err := json.Unmarshal(params, &pub); err != nil {
		c.logger.Warn("bad diagnostics payload", "error", err)
		return
	}
	c.diagMu.Lock()
	c.diagnostics[pub.URI] = pub.Diagnostics
	c.diagMu.Unlock()
}

func positionParams(filePath string, line, character int) map[string]any {
	return map[string]any{
		"textDocument": map[string]any{"uri": fileURI(filePath)},
		"position":     map[string]any{"line": line, "character": character},
	}
}

func fileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + filepath.ToSlash(abs)
}

// hoverText flattens the three shapes servers use for hover contents:
// a plain string, a MarkupContent object, or an array of either.
func hoverText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var markup struct {
		Value string `json:"value"`
	}
	if json.Unmarshal(raw, &markup) == nil && markup.Value != "" {
		return markup.Value
	}
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) == nil {
		var out string
		for _, item := range items {
			if text := hoverText(item); text != "" {
				if out != "" {
					out += "\n"
				}
				out += text
			}
		}
		return out
	}
	return ""
}

func languageID(path string) string {
	switch filepath.Ext(path) {
	case ".go":
		return "go"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".py":
		return "python"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	case ".rb":
		return "ruby"
	case ".c", ".h":
		return "c"
	case ".cpp", ".cc", ".hpp":
		return "cpp"
	default:
		return "plaintext"
	}
}
