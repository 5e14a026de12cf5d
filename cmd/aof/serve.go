package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aof-dev/aof/internal/gateway"
	"github.com/aof-dev/aof/internal/observability"
	"github.com/aof-dev/aof/internal/resources"
	"github.com/aof-dev/aof/internal/router"
	"github.com/aof-dev/aof/internal/schedule"
	"github.com/aof-dev/aof/internal/safety"
	"github.com/aof-dev/aof/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var resourcesDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), resourcesDir)
		},
	}
	cmd.Flags().StringVar(&resourcesDir, "resources", "", "resource directory override")
	return cmd
}

func runServe(parent context.Context, resourcesDir string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(resolveConfigPath(), resourcesDir)
	if err != nil {
		return err
	}
	defer a.close()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "aof",
		ServiceVersion: version,
		Environment:    a.cfg.Observability.Environment,
		Endpoint:       a.cfg.Observability.OTLPEndpoint,
		SamplingRate:   a.cfg.Observability.SamplingRate,
		Insecure:       a.cfg.Observability.Insecure,
	})
	defer shutdownTracer(context.Background())

	a.connectMCPServers(ctx)

	if a.cfg.Resources.Watch {
		go func() {
			if err := a.loader.Watch(ctx, 500*time.Millisecond); err != nil {
				a.logger.Warn("resource watch stopped", "error", err)
			}
		}()
	}

	eventRouter := router.New(a.store, a.cfg.Resources.DefaultContext, a.logger)
	dispatch := func(ctx context.Context, msg *models.EventMessage, resolved *router.Resolved) (string, error) {
		ctx, span := tracer.Start(ctx, "dispatch")
		defer span.End()
		id, err := a.orch.Submit(ctx, taskFor(msg, resolved))
		observability.RecordError(span, err)
		return id, err
	}

	scheduler := schedule.New(a.store, func(ctx context.Context, msg *models.EventMessage) {
		resolved := eventRouter.Best(msg)
		if resolved == nil {
			a.logger.Warn("schedule fired with no binding", "trigger", msg.Metadata["trigger"])
			return
		}
		if _, err := dispatch(ctx, msg, resolved); err != nil {
			a.logger.Error("scheduled dispatch failed", "trigger", msg.Metadata["trigger"], "error", err)
		}
	}, a.logger)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	server, err := gateway.NewServer(gateway.Config{
		Addr:       a.cfg.Server.Addr,
		Router:     eventRouter,
		Dispatch:   dispatch,
		Interrupts: a.engine.Interrupts(),
		Safety:     safety.NewEngine(a.cfg.Safety),
		Audit:      a.audit,
		Metrics:    a.metrics,
		Gatherer:   a.registry,
		JWTSecret:  a.cfg.Server.JWTSecret,
		DedupeTTL:  a.cfg.Server.DedupeTTL.Std(),
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	// Re-enter flow runs that were checkpointed mid-run before the last
	// shutdown.
	resumed := a.engine.RecoverAll(ctx, func(name string) (*resources.Flow, bool) {
		return a.store.Flows.Get(name)
	}, a.bus)
	if resumed > 0 {
		a.logger.Info("recovered unfinished flow runs", "count", resumed)
	}

	a.logger.Info("aof serving", "addr", server.Addr(), "version", version)
	<-ctx.Done()

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		a.logger.Warn("gateway shutdown error", "error", err)
	}
	a.orch.Drain()
	return nil
}

// taskFor translates a routed message into an orchestrator task.
func taskFor(msg *models.EventMessage, resolved *router.Resolved) *models.Task {
	kind := models.ResourceKind(resolved.Target.Kind)
	return &models.Task{
		Kind:     kind,
		AgentRef: resolved.Target.Name,
		Input:    msg.Text,
		UserID:   msg.User,
	}
}
