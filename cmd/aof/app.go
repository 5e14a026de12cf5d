package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aof-dev/aof/internal/activity"
	"github.com/aof-dev/aof/internal/agent"
	"github.com/aof-dev/aof/internal/agent/providers"
	"github.com/aof-dev/aof/internal/audit"
	"github.com/aof-dev/aof/internal/config"
	"github.com/aof-dev/aof/internal/errs"
	"github.com/aof-dev/aof/internal/fleet"
	"github.com/aof-dev/aof/internal/flow"
	"github.com/aof-dev/aof/internal/gateway/platforms"
	"github.com/aof-dev/aof/internal/mcp"
	"github.com/aof-dev/aof/internal/memory"
	"github.com/aof-dev/aof/internal/observability"
	"github.com/aof-dev/aof/internal/orchestrator"
	"github.com/aof-dev/aof/internal/resources"
	"github.com/aof-dev/aof/internal/sessions"
	"github.com/aof-dev/aof/internal/tools"
	"github.com/aof-dev/aof/internal/tools/builtin"
	"github.com/aof-dev/aof/pkg/models"
)

// app holds the wired process components shared by serve and run.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	registry   *prometheus.Registry
	metrics    *observability.Metrics
	store      *resources.Store
	loader     *resources.Loader
	bus        *activity.Bus
	agentExec  *agent.Executor
	source     *tools.Composite
	mcpManager *mcp.Manager
	engine     *flow.Engine
	interrupts *flow.Interrupts
	sessions   sessions.Store
	responders *platforms.Registry
	audit      *audit.Recorder
	orch       *orchestrator.Orchestrator

	memMu    sync.Mutex
	memories map[string]memory.Store
}

// buildApp loads configuration and resources and wires the execution
// stack. The gateway, scheduler, and tracer are wired by serve on top.
func buildApp(configPath, resourcesDir string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, &errs.Error{Kind: errs.KindConfig, Layer: "config", Message: err.Error()}
	}
	if resourcesDir != "" {
		cfg.Resources.Dir = resourcesDir
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Observability.LogLevel,
		Format:    cfg.Observability.LogFormat,
		AddSource: cfg.Observability.AddSource,
	})
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	store := resources.NewStore()
	loader := resources.NewLoader(store, logger)
	if _, err := os.Stat(cfg.Resources.Dir); err == nil {
		count, err := loader.LoadDirectory(cfg.Resources.Dir)
		if err != nil {
			return nil, &errs.Error{Kind: errs.KindConfig, Layer: "resources", Message: err.Error()}
		}
		logger.Info("resources loaded", "dir", cfg.Resources.Dir, "count", count)
	} else {
		logger.Warn("resource directory missing, starting empty", "dir", cfg.Resources.Dir)
	}

	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		return nil, &errs.Error{Kind: errs.KindAuth, Layer: "llm", Message: err.Error()}
	}

	toolRegistry := tools.NewRegistry()
	registerBuiltins(toolRegistry)
	mcpManager := mcp.NewManager(logger)
	source := tools.NewComposite()
	source.Add("builtin", toolRegistry)

	toolExec := tools.NewExecutor(source, 0, logger)
	agentExec := agent.NewExecutor(provider, source, toolExec, logger)

	sessionStore, err := sessions.NewFileStore(cfg.Sessions.Dir)
	if err != nil {
		return nil, err
	}

	sink, err := audit.NewSink(cfg.Audit.Sink, cfg.Audit.Path)
	if err != nil {
		return nil, err
	}
	recorder := audit.NewRecorder(sink, resources.AuditConfig{
		Enabled: cfg.Audit.Enabled,
		Sink:    cfg.Audit.Sink,
		Events:  cfg.Audit.Events,
	})

	responders := platforms.NewRegistry()
	if err := registerResponders(responders, cfg.Platforms); err != nil {
		return nil, err
	}

	interrupts := flow.NewInterrupts()
	checkpoints, err := flow.NewFileCheckpointStore(cfg.Flows.CheckpointDir)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		metrics:    metrics,
		store:      store,
		loader:     loader,
		bus:        activity.NewBus(logger),
		agentExec:  agentExec,
		source:     source,
		mcpManager: mcpManager,
		sessions:   sessionStore,
		responders: responders,
		audit:      recorder,
		interrupts: interrupts,
		memories:   make(map[string]memory.Store),
	}
	if err := toolRegistry.Register(&builtin.MemoryTool{Open: a.openMemory}); err != nil {
		return nil, err
	}
	a.engine = flow.NewEngine(flow.AgentRunnerFunc(a.runAgentByName), responders, interrupts, checkpoints, logger)
	a.orch = orchestrator.New(orchestrator.Limits{
		MaxConcurrentTasks: cfg.Orchestrator.MaxConcurrentTasks,
		MaxTasksPerUser:    cfg.Orchestrator.MaxTasksPerUser,
		TaskTimeout:        cfg.Orchestrator.TaskTimeout.Std(),
	}, a.bus, logger)
	a.orch.RegisterExecutor(models.KindAgent, orchestrator.ExecutorFunc(a.executeAgentTask))
	a.orch.RegisterExecutor(models.KindFlow, orchestrator.ExecutorFunc(a.executeFlowTask))
	a.orch.RegisterExecutor(models.KindFleet, orchestrator.ExecutorFunc(a.executeFleetTask))
	return a, nil
}

func (a *app) close() {
	a.mcpManager.Shutdown()
	a.bus.Close()
}

// connectMCPServers dials every MCP server declared by a loaded agent and
// exposes each session's tools through the composite source. Connection
// failures are logged, not fatal: the agent still runs with the tools
// that did come up.
func (a *app) connectMCPServers(ctx context.Context) {
	for _, agentRes := range a.store.Agents.All() {
		for i := range agentRes.Spec.MCPServers {
			cfg := &agentRes.Spec.MCPServers[i]
			client, err := a.mcpManager.Connect(ctx, cfg.Name, cfg)
			if err != nil {
				a.logger.Warn("mcp server unavailable", "server", cfg.Name, "error", err)
				continue
			}
			a.source.Add(cfg.Name, mcp.NewBridge(client))
		}
	}
}

// openMemory returns the invoking agent's memory store, building it from the
// agent's declared backend on first use. Agents without a memory block get a
// private in-memory store.
func (a *app) openMemory(agentName string) (memory.Store, error) {
	a.memMu.Lock()
	defer a.memMu.Unlock()
	if store, ok := a.memories[agentName]; ok {
		return store, nil
	}

	backend, path, maxEntries := "", "", 0
	if agentRes, ok := a.store.Agents.Get(agentName); ok && agentRes.Spec.Memory != nil {
		backend = agentRes.Spec.Memory.Backend
		path = agentRes.Spec.Memory.Path
		maxEntries = agentRes.Spec.Memory.MaxEntries
	}
	if backend == "file" && path == "" {
		path = filepath.Join(".aof", "memory", agentName+".json")
	}

	store, err := memory.New(backend, path, maxEntries)
	if err != nil {
		return nil, err
	}
	a.memories[agentName] = store
	return store, nil
}

// buildProvider prefers configured credentials and falls back to the
// environment-driven factory.
func buildProvider(cfg config.LLMConfig) (agent.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		if cfg.Anthropic.APIKey != "" {
			return providers.NewAnthropic(providers.AnthropicConfig{
				APIKey:  cfg.Anthropic.APIKey,
				BaseURL: cfg.Anthropic.BaseURL,
				Model:   cfg.Anthropic.Model,
			})
		}
		return providers.New(cfg.Provider, cfg.Anthropic.Model)
	case "openai":
		if cfg.OpenAI.APIKey != "" {
			return providers.NewOpenAI(providers.OpenAIConfig{
				APIKey:  cfg.OpenAI.APIKey,
				BaseURL: cfg.OpenAI.BaseURL,
				Model:   cfg.OpenAI.Model,
			})
		}
		return providers.New(cfg.Provider, cfg.OpenAI.Model)
	default:
		return providers.New(cfg.Provider, "")
	}
}

func registerBuiltins(registry *tools.Registry) {
	for _, tool := range []tools.Tool{
		&builtin.ClockTool{},
		&builtin.HTTPTool{},
		&builtin.ShellTool{},
	} {
		if err := registry.Register(tool); err != nil {
			slog.Warn("builtin tool registration failed", "tool", tool.Name(), "error", err)
		}
	}
}

func registerResponders(registry *platforms.Registry, cfg config.PlatformsConfig) error {
	if cfg.Slack.BotToken != "" {
		registry.Register(platforms.NewSlackResponder(cfg.Slack.BotToken))
	}
	if cfg.Discord.BotToken != "" {
		responder, err := platforms.NewDiscordResponder(cfg.Discord.BotToken)
		if err != nil {
			return err
		}
		registry.Register(responder)
	}
	if cfg.Telegram.BotToken != "" {
		responder, err := platforms.NewTelegramResponder(cfg.Telegram.BotToken)
		if err != nil {
			return err
		}
		registry.Register(responder)
	}
	return nil
}

// runAgentByName backs flow Agent nodes and fleet instances.
func (a *app) runAgentByName(ctx context.Context, name, input string, observer activity.Observer) (string, error) {
	agentRes, ok := a.store.Agents.Get(name)
	if !ok {
		return "", &errs.Error{Kind: errs.KindNotFound, Layer: "agent", Message: "agent not found: " + name}
	}
	result, err := a.agentExec.Run(ctx, agentRes, input, nil, observer)
	if err != nil {
		return "", err
	}
	return result.Message.Content, nil
}

// executeAgentTask runs one agent conversation, seeding it with the
// agent's latest persisted session and appending the new exchange.
func (a *app) executeAgentTask(ctx context.Context, task *models.Task, observer activity.Observer) (string, error) {
	agentRes, ok := a.store.Agents.Get(task.AgentRef)
	if !ok {
		return "", &errs.Error{Kind: errs.KindNotFound, Layer: "orchestrator", Message: "agent not found: " + task.AgentRef}
	}

	var history []models.Message
	session, err := a.sessions.Latest(ctx, task.AgentRef)
	if err == nil && session != nil {
		history = session.Messages
	}

	result, err := a.agentExec.Run(ctx, agentRes, task.Input, history, observer)
	if err != nil {
		return "", err
	}

	exchange := []models.Message{
		{Role: models.RoleUser, Content: task.Input},
		result.Message,
	}
	if session == nil {
		session = &sessions.Session{Agent: task.AgentRef, User: task.UserID}
		session.Messages = exchange
		err = a.sessions.Save(ctx, session)
	} else {
		err = a.sessions.Append(ctx, task.AgentRef, session.ID, exchange...)
	}
	if err != nil {
		a.logger.Warn("session persist failed", "agent", task.AgentRef, "error", err)
	}
	return result.Message.Content, nil
}

// executeFlowTask drives one flow run to a terminal status.
func (a *app) executeFlowTask(ctx context.Context, task *models.Task, observer activity.Observer) (string, error) {
	flowRes, ok := a.store.Flows.Get(task.AgentRef)
	if !ok {
		return "", &errs.Error{Kind: errs.KindNotFound, Layer: "orchestrator", Message: "flow not found: " + task.AgentRef}
	}

	result, err := a.engine.Execute(ctx, flowRes, map[string]any{"input": task.Input}, observer)
	a.metricFlowRun(task.AgentRef, result)
	if err != nil {
		return "", err
	}
	switch result.Status {
	case flow.StatusCompleted:
		return flowResultText(result), nil
	case flow.StatusCancelled:
		return "", &errs.Error{Kind: errs.KindCancelled, Layer: "flow", Message: "flow run cancelled"}
	default:
		return "", &errs.Error{Kind: errs.KindInternal, Layer: "flow", Message: result.Error}
	}
}

func (a *app) metricFlowRun(name string, result *flow.Result) {
	if result == nil {
		return
	}
	a.metrics.FlowRuns.WithLabelValues(name, string(result.Status)).Inc()
}

// flowResultText prefers the "result" state key, falling back to the
// whole final state as JSON.
func flowResultText(result *flow.Result) string {
	if v, ok := result.State["result"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
	}
	data, err := json.Marshal(result.State)
	if err != nil {
		return ""
	}
	return string(data)
}

// executeFleetTask spins up the fleet, runs one task through it, and
// drains it.
func (a *app) executeFleetTask(ctx context.Context, task *models.Task, observer activity.Observer) (string, error) {
	fleetRes, ok := a.store.Fleets.Get(task.AgentRef)
	if !ok {
		return "", &errs.Error{Kind: errs.KindNotFound, Layer: "orchestrator", Message: "fleet not found: " + task.AgentRef}
	}

	coordinator := fleet.NewCoordinator(fleetRes, fleet.RunnerFunc(a.runFleetAgent), a.logger)
	if err := coordinator.Start(); err != nil {
		return "", err
	}
	defer coordinator.Stop()
	go a.forwardFleetEvents(coordinator, observer)

	if _, err := coordinator.Submit(task.Input); err != nil {
		return "", err
	}
	settled, err := coordinator.ExecuteNext(ctx)
	if err != nil {
		return "", err
	}
	a.metrics.FleetTasks.WithLabelValues(task.AgentRef, string(fleetRes.Spec.Coordination.Mode), string(settled.Status)).Inc()
	if settled.Status == fleet.TaskFailed {
		return "", &errs.Error{Kind: errs.KindInternal, Layer: "fleet", Message: settled.Error}
	}
	return settled.Result, nil
}

// runFleetAgent resolves a fleet member to a runnable agent definition.
func (a *app) runFleetAgent(ctx context.Context, member resources.FleetAgent, input string) (string, error) {
	if member.ConfigRef != "" {
		return a.runAgentByName(ctx, member.ConfigRef, input, activity.NullObserver{})
	}
	if member.Spec == nil {
		return "", fmt.Errorf("fleet agent %s has neither spec nor config_ref", member.Name)
	}
	inline := &resources.Agent{
		Header: resources.Header{
			APIVersion: resources.APIVersion,
			Kind:       resources.KindAgent,
			Metadata:   resources.Metadata{Name: member.Name},
		},
		Spec: *member.Spec,
	}
	result, err := a.agentExec.Run(ctx, inline, input, nil, activity.NullObserver{})
	if err != nil {
		return "", err
	}
	return result.Message.Content, nil
}

func (a *app) forwardFleetEvents(coordinator *fleet.Coordinator, observer activity.Observer) {
	for event := range coordinator.Events() {
		observer.Observe(models.NewActivity(models.ActivityInfo,
			fmt.Sprintf("fleet %s: %s %s", event.Fleet, event.Type, event.Message)))
	}
}
