package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const pipelineToolTimeout = 60 * time.Second

// pipelineToolFile is the on-disk shape of a user-defined tool. One
// JSON file per tool, named <tool>.json inside the pipeline directory.
type pipelineToolFile struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Command     []string        `json:"command"`
	Env         []string        `json:"env,omitempty"`
	TimeoutSec  int             `json:"timeout_seconds,omitempty"`
}

func (f *pipelineToolFile) validate() error {
	if f.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(f.Command) == 0 {
		return fmt.Errorf("missing command")
	}
	if len(f.Parameters) == 0 {
		f.Parameters = json.RawMessage(`{"type":"object"}`)
	}
	return nil
}

// PipelineTool runs a user-defined command with the call arguments on
// stdin. Stdout becomes the result; a non-zero exit is an error result.
type PipelineTool struct {
	def     pipelineToolFile
	workdir string
}

func (t *PipelineTool) Name() string            { return t.def.Name }
func (t *PipelineTool) Description() string     { return t.def.Description }
func (t *PipelineTool) Schema() json.RawMessage { return t.def.Parameters }

func (t *PipelineTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	timeout := pipelineToolTimeout
	if t.def.TimeoutSec > 0 {
		timeout = time.Duration(t.def.TimeoutSec) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.def.Command[0], t.def.Command[1:]...)
	cmd.Dir = t.workdir
	cmd.Stdin = bytes.NewReader(params)
	cmd.Env = append(os.Environ(), t.def.Env...)
	cmd.Env = append(cmd.Env, "OPENFORK_TOOL="+t.def.Name)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return Errorf("tool %s timed out after %s", t.def.Name, timeout), nil
	}
	if err != nil {
		return Errorf("tool %s failed: %v\n%s", t.def.Name, err, strings.TrimSpace(stderr.String())), nil
	}
	return &ToolResult{Content: stdout.String(), Title: t.def.Name}, nil
}

// PipelineLoader loads tool files from a directory and keeps the
// registry in sync as files change.
type PipelineLoader struct {
	dir      string
	registry *Registry
	logger   *slog.Logger

	mu     sync.Mutex
	loaded map[string]string // file path -> tool name
}

func NewPipelineLoader(dir string, registry *Registry) *PipelineLoader {
	return &PipelineLoader{
		dir:      dir,
		registry: registry,
		logger:   slog.Default().With("component", "pipeline-tools"),
		loaded:   map[string]string{},
	}
}

// Load registers every tool file currently in the directory. A missing
// directory is not an error; pipelines without custom tools are common.
func (l *PipelineLoader) Load() (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("pipeline tools: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		if err := l.loadFile(path); err != nil {
			l.logger.Warn("skipping tool file", "path", path, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

func (l *PipelineLoader) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var def pipelineToolFile
	if err := json.Unmarshal(raw, &def); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if err := def.validate(); err != nil {
		return err
	}
	tool := &PipelineTool{def: def, workdir: l.dir}
	if err := l.registry.Register(tool); err != nil {
		return err
	}
	l.mu.Lock()
	l.loaded[path] = def.Name
	l.mu.Unlock()
	return nil
}

func (l *PipelineLoader) removeFile(path string) {
	l.mu.Lock()
	name, ok := l.loaded[path]
	delete(l.loaded, path)
	l.mu.Unlock()
	if ok {
		l.registry.Unregister(name)
		l.logger.Info("tool removed", "tool", name)
	}
}

// Watch reloads tool files as they change until ctx is cancelled.
// Registering an existing name replaces it, so edits take effect on the
// next call without a restart.
func (l *PipelineLoader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("pipeline tools: watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("pipeline tools: watch %s: %w", l.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".json") {
					continue
				}
				switch {
				case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
					l.removeFile(event.Name)
				case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
					if err := l.loadFile(event.Name); err != nil {
						l.logger.Warn("reload failed", "path", event.Name, "error", err)
					} else {
						l.logger.Info("tool reloaded", "path", event.Name)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("watcher error", "error", err)
			}
		}
	}()
	return nil
}
