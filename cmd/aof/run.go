package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aof-dev/aof/internal/activity"
	"github.com/aof-dev/aof/internal/errs"
	"github.com/aof-dev/aof/pkg/models"
)

func buildRunCmd() *cobra.Command {
	var (
		resourcesDir string
		kind         string
		quiet        bool
	)
	cmd := &cobra.Command{
		Use:   "run <name> <input...>",
		Short: "Execute one agent, flow, or fleet and print the result",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), resourcesDir, kind, args[0], strings.Join(args[1:], " "), quiet)
		},
	}
	cmd.Flags().StringVar(&resourcesDir, "resources", "", "resource directory override")
	cmd.Flags().StringVar(&kind, "kind", "agent", "target kind: agent, flow, or fleet")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress activity output")
	return cmd
}

func runOnce(parent context.Context, resourcesDir, kind, name, input string, quiet bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(resolveConfigPath(), resourcesDir)
	if err != nil {
		return err
	}
	defer a.close()
	a.connectMCPServers(ctx)

	var observer activity.Observer = activity.NullObserver{}
	if !quiet {
		observer = a.bus
		events, unsubscribe := a.bus.Subscribe()
		defer unsubscribe()
		go printActivity(events)
	}

	task := &models.Task{Kind: models.ResourceKind(kind), AgentRef: name, Input: input, UserID: "cli"}
	result, err := executeTask(ctx, a, task, observer)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return &errs.Error{Kind: errs.KindCancelled, Layer: "cli", Message: "run cancelled"}
		}
		return err
	}
	fmt.Println(result)
	return nil
}

// executeTask picks the executor for the task kind without going through
// orchestrator admission; the CLI runs exactly one task.
func executeTask(ctx context.Context, a *app, task *models.Task, observer activity.Observer) (string, error) {
	switch task.Kind {
	case models.KindAgent:
		return a.executeAgentTask(ctx, task, observer)
	case models.KindFlow:
		return a.executeFlowTask(ctx, task, observer)
	case models.KindFleet:
		return a.executeFleetTask(ctx, task, observer)
	default:
		return "", &errs.Error{Kind: errs.KindValidation, Layer: "cli", Message: fmt.Sprintf("unknown kind %q", task.Kind)}
	}
}

func printActivity(events <-chan *models.ActivityEvent) {
	for event := range events {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", event.Type, event.Message)
	}
}
