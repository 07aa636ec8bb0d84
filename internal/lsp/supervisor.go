package lsp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	maxStartAttempts  = 3
	startRetryBackoff = time.Second

	// diagnosticsSettle is how long to wait after didOpen for the
	// server's first publishDiagnostics push.
	diagnosticsSettle = 500 * time.Millisecond
)

// Supervisor lazily starts one language server per configured language
// and routes queries to the right one by file extension. Dead servers
// are restarted on the next query.
type Supervisor struct {
	rootDir string
	configs []ServerConfig
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client // config name -> running client
}

func NewSupervisor(rootDir string, configs []ServerConfig) *Supervisor {
	return &Supervisor{
		rootDir: rootDir,
		configs: configs,
		logger:  slog.Default().With("component", "lsp"),
		clients: map[string]*Client{},
	}
}

// Shutdown stops every running server.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, client := range s.clients {
		client.Stop()
		delete(s.clients, name)
	}
}

// clientFor finds or starts the server responsible for a file.
func (s *Supervisor) clientFor(ctx context.Context, filePath string) (*Client, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	var cfg *ServerConfig
	for i := range s.configs {
		for _, e := range s.configs[i].Extensions {
			if strings.EqualFold(e, ext) {
				cfg = &s.configs[i]
				break
			}
		}
		if cfg != nil {
			break
		}
	}
	if cfg == nil {
		return nil, fmt.Errorf("no language server configured for %s files", ext)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok := s.clients[cfg.Name]; ok && client.Alive() {
		return client, nil
	}
	delete(s.clients, cfg.Name)

	var lastErr error
	for attempt := 1; attempt <= maxStartAttempts; attempt++ {
		client := NewClient(*cfg, s.rootDir)
		lastErr = client.Start(ctx)
		if lastErr == nil {
			s.clients[cfg.Name] = client
			return client, nil
		}
		s.logger.Warn("server start failed",
			"server", cfg.Name, "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(time.Duration(attempt) * startRetryBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("server %s: %w", cfg.Name, lastErr)
}

// Diagnostics opens the file and returns formatted findings. Implements
// the diagnostics side of the tool adapter.
func (s *Supervisor) Diagnostics(ctx context.Context, filePath string) ([]string, error) {
	client, err := s.clientFor(ctx, filePath)
	if err != nil {
		return nil, err
	}
	if err := client.DidOpen(filePath); err != nil {
		return nil, err
	}
	// Diagnostics arrive as a push, not a response; give the server a
	// moment after the open.
	select {
	case <-time.After(diagnosticsSettle):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	diags := client.Diagnostics(filePath)
	out := make([]string, 0, len(diags))
	for _, d := range diags {
		out = append(out, fmt.Sprintf("%s:%d:%d: %s: %s",
			filePath, d.Range.Start.Line+1, d.Range.Start.Character+1,
			severityLabel(d.Severity), d.Message))
	}
	return out, nil
}

// Hover opens the file and returns hover text at a position.
func (s *Supervisor) Hover(ctx context.Context, filePath string, line, character int) (string, error) {
	client, err := s.clientFor(ctx, filePath)
	if err != nil {
		return "", err
	}
	if err := client.DidOpen(filePath); err != nil {
		return "", err
	}
	return client.Hover(ctx, filePath, line, character)
}

// Definition routes a go-to-definition query.
func (s *Supervisor) Definition(ctx context.Context, filePath string, line, character int) ([]Location, error) {
	client, err := s.clientFor(ctx, filePath)
	if err != nil {
		return nil, err
	}
	if err := client.DidOpen(filePath); err != nil {
		return nil, err
	}
	return client.Definition(ctx, filePath, line, character)
}

// References routes a find-references query.
func (s *Supervisor) References(ctx context.Context, filePath string, line, character int) ([]Location, error) {
	client, err := s.clientFor(ctx, filePath)
	if err != nil {
		return nil, err
	}
	if err := client.DidOpen(filePath); err != nil {
		return nil, err
	}
	return client.References(ctx, filePath, line, character)
}

// Implementations routes a find-implementations query.
func (s *Supervisor) Implementations(ctx context.Context, filePath string, line, character int) ([]Location, error) {
	client, err := s.clientFor(ctx, filePath)
	if err != nil {
		return nil, err
	}
	if err := client.DidOpen(filePath); err != nil {
		return nil, err
	}
	return client.Implementations(ctx, filePath, line, character)
}

// DocumentSymbols lists symbols in one file.
func (s *Supervisor) DocumentSymbols(ctx context.Context, filePath string) ([]DocumentSymbol, error) {
	client, err := s.clientFor(ctx, filePath)
	if err != nil {
		return nil, err
	}
	if err := client.DidOpen(filePath); err != nil {
		return nil, err
	}
	return client.DocumentSymbols(ctx, filePath)
}

// WorkspaceSymbols queries symbols across the workspace using the
// first running server, starting one for the given hint file if none
// are up.
func (s *Supervisor) WorkspaceSymbols(ctx context.Context, hintFile, query string) ([]WorkspaceSymbol, error) {
	client, err := s.clientFor(ctx, hintFile)
	if err != nil {
		return nil, err
	}
	return client.WorkspaceSymbols(ctx, query)
}

func severityLabel(sev int) string {
	switch sev {
	case 1:
		return "error"
	case 2:
		return "warning"
	case 3:
		return "info"
	case 4:
		return "hint"
	default:
		return "unknown"
	}
}
