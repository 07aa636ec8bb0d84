package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// stdioTransport speaks newline-delimited JSON-RPC over a subprocess's
// stdin/stdout. Stderr is logged at debug level.
type stdioTransport struct {
	config *ServerConfig
	logger *slog.Logger

	process *exec.Cmd
	stdin   io.WriteCloser

	writeMu   sync.Mutex
	pendingMu sync.Mutex
	pending   map[int64]chan *rpcResponse
	notifs    chan *rpcNotification
	nextID    atomic.Int64

	connected atomic.Bool
	stop      chan struct{}
	wg        sync.WaitGroup
}

func newStdioTransport(cfg *ServerConfig) *stdioTransport {
	return &stdioTransport{
		config:  cfg,
		logger:  slog.Default().With("mcp_server", cfg.Name, "transport", "stdio"),
		pending: make(map[int64]chan *rpcResponse),
		notifs:  make(chan *rpcNotification, 100),
		stop:    make(chan struct{}),
	}
}

func (t *stdioTransport) Connect(ctx context.Context) error {
	t.process = exec.Command(t.config.Command, t.config.Args...)
	t.process.Env = append(os.Environ(), t.config.ExpandedEnv()...)
	if t.config.WorkDir != "" {
		t.process.Dir = t.config.WorkDir
	}

	var err error
	t.stdin, err = t.process.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := t.process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, _ := t.process.StderrPipe()

	if err := t.process.Start(); err != nil {
		return fmt.Errorf("start %s: %w", t.config.Command, err)
	}
	t.connected.Store(true)
	t.logger.Info("server process started", "pid", t.process.Process.Pid)

	t.wg.Add(1)
	go t.readLoop(stdout)
	if stderr != nil {
		t.wg.Add(1)
		go t.drainStderr(stderr)
	}
	return nil
}

func (t *stdioTransport) Close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(t.stop)
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.process != nil && t.process.Process != nil {
		t.process.Process.Kill()
		t.process.Wait()
	}
	t.wg.Wait()
	return nil
}

func (t *stdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("server %s: not connected", t.config.Name)
	}

	id := t.nextID.Add(1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	respCh := make(chan *rpcResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respCh
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.writeLine(req); err != nil {
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
	case <-time.After(t.config.timeout()):
		return nil, fmt.Errorf("server %s: %s timed out after %v", t.config.Name, method, t.config.timeout())
	case <-t.stop:
		return nil, fmt.Errorf("server %s: transport closed", t.config.Name)
	}
}

func (t *stdioTransport) Notify(ctx context.Context, method string, params any) error {
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
	return t.writeLine(notif)
}

func (t *stdioTransport) writeLine(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (t *stdioTransport) Notifications() <-chan *rpcNotification { return t.notifs }
func (t *stdioTransport) Connected() bool                        { return t.connected.Load() }

func (t *stdioTransport) readLoop(stdout io.Reader) {
	defer t.wg.Done()
	defer t.connected.Store(false)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		select {
		case <-t.stop:
			return
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		t.dispatch(line)
	}
	if err := scanner.Err(); err != nil {
		t.logger.Error("stdout read failed", "error", err)
	}
}

// dispatch routes one message: responses match a pending call by id,
// everything else with a method is a notification.
func (t *stdioTransport) dispatch(line []byte) {
	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err == nil && resp.ID != nil {
		id, ok := numericID(resp.ID)
		if !ok {
			t.logger.Warn("response with unexpected id type", "id", resp.ID)
			return
		}
		t.pendingMu.Lock()
		ch, waiting := t.pending[id]
		delete(t.pending, id)
		t.pendingMu.Unlock()
		if waiting {
			ch <- &resp
		}
		return
	}

	var notif rpcNotification
	if err := json.Unmarshal(line, &notif); err == nil && notif.Method != "" {
		select {
		case t.notifs <- &notif:
		default:
			t.logger.Warn("notification channel full, dropping", "method", notif.Method)
		}
	}
}

func numericID(v any) (int64, bool) {
	switch id := v.(type) {
	case float64:
		return int64(id), true
	case int64:
		return id, true
	case int:
		return int64(id), true
	}
	return 0, false
}

func (t *stdioTransport) drainStderr(stderr io.Reader) {
	defer t.wg.Done()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			t.logger.Debug("server stderr", "message", line)
		}
	}
}
