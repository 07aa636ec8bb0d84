package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openfork/openfork/internal/agent"
	"github.com/openfork/openfork/internal/bus"
	"github.com/openfork/openfork/internal/config"
	"github.com/openfork/openfork/internal/hooks"
	"github.com/openfork/openfork/internal/lsp"
	"github.com/openfork/openfork/internal/mcp"
	"github.com/openfork/openfork/internal/observability"
	"github.com/openfork/openfork/internal/permissions"
	"github.com/openfork/openfork/internal/providers"
	"github.com/openfork/openfork/internal/store"
	"github.com/openfork/openfork/internal/tokens"
	"github.com/openfork/openfork/internal/tools"
	"github.com/openfork/openfork/pkg/models"
)

func newRunCmd(configPath *string) *cobra.Command {
	var (
		agentSlug   string
		sessionID   string
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Run an agent turn (or an interactive session)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			prompt := strings.Join(args, " ")
			if prompt == "" && !interactive {
				return fmt.Errorf("a prompt is required unless --interactive is set")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			profile, err := rt.profile(agentSlug)
			if err != nil {
				return err
			}
			session, err := rt.session(ctx, sessionID, profile.Slug)
			if err != nil {
				return err
			}

			if interactive {
				return rt.repl(ctx, cmd.OutOrStdout(), session, profile, prompt)
			}
			return rt.turn(ctx, cmd.OutOrStdout(), session, profile, prompt)
		},
	}
	cmd.Flags().StringVarP(&agentSlug, "agent", "a", "", "agent profile to run (default: first configured)")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "resume an existing session")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "read prompts from stdin until EOF")
	return cmd
}

// runtime is the wired application: every subsystem constructed from
// config and connected through the event bus.
type runtime struct {
	cfg      *config.Config
	events   *bus.Bus
	store    store.Store
	engine   *permissions.Engine
	pipeline *hooks.Pipeline
	registry *tools.Registry
	mcp      *mcp.Manager
	lsp      *lsp.Supervisor
	loop     *agent.Loop
	sup      *agent.Supervisor
	question *tools.QuestionTool

	stdin         *bufio.Reader
	stdinMu       sync.Mutex
	stopTracing   func(context.Context) error
	consoleCancel func()
}

// readLine serializes stdin reads between the REPL and the prompt
// drains; only one of them is waiting on input at a time.
func (rt *runtime) readLine() (string, error) {
	rt.stdinMu.Lock()
	defer rt.stdinMu.Unlock()
	line, err := rt.stdin.ReadString('\n')
	return strings.TrimSpace(line), err
}

func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	observability.SetupLogging(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	stopTracing, err := observability.SetupTracing(ctx, observability.TraceConfig{
		ServiceName: cfg.Observability.ServiceName,
		Endpoint:    cfg.Observability.OTLPEndpoint,
		Insecure:    true,
	})
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:         cfg,
		events:      bus.New(),
		stdin:       bufio.NewReader(os.Stdin),
		stopTracing: stopTracing,
	}

	metrics := observability.NewMetrics(nil)
	metrics.Bind(rt.events)
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		go func() {
			if err := observability.Serve(addr, nil); err != nil {
				fmt.Fprintln(os.Stderr, "metrics server:", err)
			}
		}()
	}

	rt.store, err = openStore(cfg)
	if err != nil {
		return nil, err
	}

	ruleset, err := cfg.Permissions.Ruleset()
	if err != nil {
		return nil, err
	}
	rt.engine = permissions.NewEngine(ruleset, rt.events, rt.store)

	rt.pipeline = hooks.NewPipeline(rt.events)
	if !cfg.Hooks.DisableBuiltinGuards {
		guardCfg, guard := hooks.NewCommandValidationHook()
		if _, err := rt.pipeline.Register(guardCfg, guard); err != nil {
			return nil, err
		}
	}
	for _, hc := range cfg.Hooks.Hooks {
		hook, err := hooks.FromConfig(hc)
		if err != nil {
			return nil, err
		}
		if _, err := rt.pipeline.Register(hc, hook); err != nil {
			return nil, err
		}
	}
	if cfg.Hooks.Dir != "" {
		if _, err := rt.pipeline.LoadDir(cfg.Hooks.Dir); err != nil {
			return nil, err
		}
	}

	preg := providers.NewRegistry()
	preg.Register(providers.NewOpenAIProvider(providers.OpenAIConfig{
		APIKey:  cfg.Providers.OpenAIKey(),
		BaseURL: baseURL(cfg.Providers.OpenAI),
	}))
	preg.Register(providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:  cfg.Providers.AnthropicKey(),
		BaseURL: baseURL(cfg.Providers.Anthropic),
	}))

	estimator, err := cfg.Tokens.NewEstimator()
	if err != nil {
		return nil, err
	}
	compactionCfg := cfg.Tokens.CompactionConfig()
	sumProvider, sumModel, err := summarizerTarget(cfg, preg, compactionCfg.Model)
	if err != nil {
		return nil, err
	}

	rt.registry = tools.NewRegistry()
	rt.question = tools.NewQuestionTool()
	workspace := cfg.Tools.Workspace
	for _, tool := range []tools.Tool{
		tools.ReadTool{},
		tools.WriteTool{},
		tools.EditTool{},
		tools.BashTool{Workdir: workspace},
		tools.GlobTool{Workdir: workspace},
		tools.GrepTool{Workdir: workspace},
		tools.NewTodoTool(),
		tools.NewWebFetchTool(),
		rt.question,
	} {
		if err := rt.registry.Register(tool); err != nil {
			return nil, err
		}
	}

	if len(cfg.LSPServers) > 0 {
		root := workspace
		if root == "" {
			root, _ = os.Getwd()
		}
		rt.lsp = lsp.NewSupervisor(root, cfg.LSPServers)
		if err := rt.registry.Register(tools.LSPTool{Querier: rt.lsp}); err != nil {
			return nil, err
		}
	}

	if cfg.Tools.PipelineDir != "" {
		loader := tools.NewPipelineLoader(cfg.Tools.PipelineDir, rt.registry)
		if _, err := loader.Load(); err != nil {
			return nil, err
		}
		go loader.Watch(ctx)
	}

	if len(cfg.MCPServers) > 0 {
		rt.mcp = mcp.NewManager(rt.registry)
		if err := rt.mcp.Start(ctx, cfg.MCPServers); err != nil {
			fmt.Fprintln(os.Stderr, "mcp:", err)
		}
	}

	rt.loop = &agent.Loop{
		Store:       rt.store,
		Events:      rt.events,
		Providers:   preg,
		Tools:       rt.registry,
		Permissions: rt.engine,
		Hooks:       rt.pipeline,
		Truncator:   tokens.NewTruncator(cfg.Tokens.TruncateConfig(), rt.events),
		Pruner:      tokens.NewPruner(cfg.Tokens.PruneConfig(), estimator, rt.events),
		Compactor: tokens.NewCompactor(compactionCfg, estimator,
			providers.NewChatSummarizer(sumProvider, sumModel), rt.events),
		Estimator: estimator,
	}
	rt.sup = agent.NewSupervisor(rt.loop, cfg.Agents)
	if err := rt.registry.Register(tools.TaskTool{Runner: rt.sup}); err != nil {
		return nil, err
	}

	rt.startConsole(ctx)
	return rt, nil
}

func baseURL(ep *config.ProviderEndpoint) string {
	if ep == nil {
		return ""
	}
	return ep.BaseURL
}

// summarizerTarget picks the provider and model compaction summaries
// run on: the configured compaction model, or the first agent's.
func summarizerTarget(cfg *config.Config, preg *providers.Registry, model string) (providers.Provider, string, error) {
	providerName := cfg.Agents[0].Provider
	if model == "" {
		model = cfg.Agents[0].Model
	}
	provider, err := preg.Get(providerName)
	if err != nil {
		return nil, "", err
	}
	return provider, model, nil
}

func (rt *runtime) close() {
	if rt.consoleCancel != nil {
		rt.consoleCancel()
	}
	if rt.mcp != nil {
		rt.mcp.Stop()
	}
	if rt.lsp != nil {
		rt.lsp.Shutdown()
	}
	rt.events.Close()
	rt.store.Close()
	if rt.stopTracing != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rt.stopTracing(shutdownCtx)
	}
}

func (rt *runtime) profile(slug string) (*agent.Profile, error) {
	if slug == "" {
		return rt.cfg.Agents[0], nil
	}
	for _, p := range rt.cfg.Agents {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, fmt.Errorf("unknown agent %q", slug)
}

func (rt *runtime) session(ctx context.Context, id, agentSlug string) (*models.Session, error) {
	if id != "" {
		return rt.store.GetSession(ctx, id)
	}
	session := &models.Session{ID: uuid.NewString(), AgentSlug: agentSlug}
	if err := rt.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// startConsole drains interactive channels: permission prompts, model
// questions, and tool activity notices.
func (rt *runtime) startConsole(ctx context.Context) {
	consoleCtx, cancel := context.WithCancel(ctx)
	rt.consoleCancel = cancel

	readLine := func() string {
		line, _ := rt.readLine()
		return line
	}

	go func() {
		for {
			select {
			case <-consoleCtx.Done():
				return
			case req := <-rt.engine.Prompts():
				fmt.Printf("\npermission: %s wants %s\n", req.ToolName, req.Key)
				if req.Reason != "" {
					fmt.Println("  reason:", req.Reason)
				}
				fmt.Print("  allow? [y]es once / [s]ession / [a]lways / [N]o: ")
				req.Reply <- parseAnswer(readLine())
			}
		}
	}()

	go func() {
		for {
			select {
			case <-consoleCtx.Done():
				return
			case q := <-rt.question.Questions():
				fmt.Printf("\nquestion: %s\n", q.Question)
				for i, opt := range q.Options {
					fmt.Printf("  %d. %s\n", i+1, opt)
				}
				fmt.Print("> ")
				q.Reply <- readLine()
			}
		}
	}()

	rt.events.Subscribe(bus.KindTool, func(ev bus.Event) {
		switch e := ev.(type) {
		case bus.ToolExecutionStartedEvent:
			fmt.Fprintf(os.Stderr, "· %s\n", e.ToolName)
		case bus.ToolExecutionCompletedEvent:
			if e.IsError {
				fmt.Fprintf(os.Stderr, "· %s failed (%s)\n", e.ToolName, e.Duration.Round(time.Millisecond))
			}
		}
	})
}

func parseAnswer(line string) permissions.PromptAnswer {
	switch strings.ToLower(line) {
	case "y", "yes":
		return permissions.PromptAnswer{Allow: true, Scope: models.ScopeThisCall}
	case "s", "session":
		return permissions.PromptAnswer{Allow: true, Scope: models.ScopeThisSession}
	case "a", "always":
		return permissions.PromptAnswer{Allow: true, Scope: models.ScopeAlways}
	default:
		return permissions.PromptAnswer{Allow: false, Reason: "denied at the terminal"}
	}
}

func (rt *runtime) turn(ctx context.Context, out io.Writer, session *models.Session, profile *agent.Profile, prompt string) error {
	result, err := rt.loop.Run(ctx, session, profile, prompt)
	if err != nil {
		return err
	}
	if result.FinalText != "" {
		fmt.Fprintln(out, result.FinalText)
	}
	return nil
}

func (rt *runtime) repl(ctx context.Context, out io.Writer, session *models.Session, profile *agent.Profile, first string) error {
	prompt := first
	for {
		if prompt != "" {
			if err := rt.turn(ctx, out, session, profile, prompt); err != nil {
				fmt.Fprintln(os.Stderr, "turn:", err)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, "\n> ")
		line, err := rt.readLine()
		if err != nil {
			return nil
		}
		prompt = line
		if prompt == "exit" || prompt == "quit" {
			return nil
		}
	}
}
