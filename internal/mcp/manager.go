package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openfork/openfork/internal/tools"
)

const (
	maxConnectAttempts  = 5
	connectRetryBackoff = 2 * time.Second
)

// Manager owns the configured MCP servers: it connects them, mirrors
// their tools into the registry, and reconnects when a server dies.
type Manager struct {
	registry *tools.Registry
	logger   *slog.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	clients    map[string]*Client
	registered map[string][]string // server -> registered tool names
}

// NewManager builds a manager that registers server tools into the
// given registry.
func NewManager(registry *tools.Registry) *Manager {
	return &Manager{
		registry:   registry,
		logger:     slog.Default().With("component", "mcp"),
		clients:    map[string]*Client{},
		registered: map[string][]string{},
	}
}

// Start connects every enabled server. A server that fails to connect
// is logged and skipped; the rest keep going.
func (m *Manager) Start(ctx context.Context, servers []*ServerConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	for _, cfg := range servers {
		if !cfg.Enabled {
			continue
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := m.connect(ctx, cfg); err != nil {
			m.logger.Error("server unavailable", "server", cfg.Name, "error", err)
		}
	}
	return nil
}

// Stop disconnects every server and unregisters its tools.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	for name, client := range m.clients {
		m.unregisterLocked(name)
		if err := client.Close(); err != nil {
			m.logger.Warn("close failed", "server", name, "error", err)
		}
		delete(m.clients, name)
	}
}

// Client returns the client for a server, if connected.
func (m *Manager) Client(server string) (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[server]
	return c, ok
}

// Servers lists the connected server names.
func (m *Manager) Servers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	return names
}

func (m *Manager) connect(ctx context.Context, cfg *ServerConfig) error {
	var lastErr error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		client := NewClient(cfg)
		lastErr = client.Connect(ctx)
		if lastErr == nil {
			m.adopt(ctx, cfg, client)
			return nil
		}
		m.logger.Warn("connect attempt failed",
			"server", cfg.Name, "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(time.Duration(attempt) * connectRetryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("server %s: %w", cfg.Name, lastErr)
}

func (m *Manager) adopt(ctx context.Context, cfg *ServerConfig, client *Client) {
	m.mu.Lock()
	m.clients[cfg.Name] = client
	m.mu.Unlock()

	m.syncTools(cfg.Name, client)
	go m.watch(ctx, cfg, client)
}

// syncTools replaces the registry entries for a server with its
// current tool list.
func (m *Manager) syncTools(server string, client *Client) {
	m.mu.Lock()
	m.unregisterLocked(server)
	var names []string
	for _, remote := range client.Tools() {
		adapter := &toolAdapter{client: client, remote: remote, server: server}
		if err := m.registry.Register(adapter); err != nil {
			m.logger.Warn("tool rejected", "server", server, "tool", remote.Name, "error", err)
			continue
		}
		names = append(names, adapter.Name())
	}
	m.registered[server] = names
	m.mu.Unlock()
	m.logger.Info("tools registered", "server", server, "count", len(names))
}

func (m *Manager) unregisterLocked(server string) {
	for _, name := range m.registered[server] {
		m.registry.Unregister(name)
	}
	delete(m.registered, server)
}

// watch follows server notifications and reconnects on death. The
// notification channel stays open while the process lives, so a closed
// transport is the restart signal.
func (m *Manager) watch(ctx context.Context, cfg *ServerConfig, client *Client) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-client.Notifications():
			if !ok {
				continue
			}
			if notif.Method == "notifications/tools/list_changed" {
				if err := client.RefreshTools(ctx); err != nil {
					m.logger.Warn("tool refresh failed", "server", cfg.Name, "error", err)
					continue
				}
				m.syncTools(cfg.Name, client)
			}
		case <-ticker.C:
			if client.Connected() {
				continue
			}
			m.logger.Warn("server lost, reconnecting", "server", cfg.Name)
			m.mu.Lock()
			m.unregisterLocked(cfg.Name)
			delete(m.clients, cfg.Name)
			m.mu.Unlock()
			client.Close()
			if err := m.connect(ctx, cfg); err != nil {
				m.logger.Error("reconnect failed", "server", cfg.Name, "error", err)
			}
			return
		}
	}
}
