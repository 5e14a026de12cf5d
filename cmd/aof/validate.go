package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aof-dev/aof/internal/config"
	"github.com/aof-dev/aof/internal/errs"
	"github.com/aof-dev/aof/internal/observability"
	"github.com/aof-dev/aof/internal/resources"
)

func buildValidateCmd() *cobra.Command {
	var resourcesDir string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and resource directory",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runValidate(resourcesDir)
		},
	}
	cmd.Flags().StringVar(&resourcesDir, "resources", "", "resource directory override")
	return cmd
}

func runValidate(resourcesDir string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return &errs.Error{Kind: errs.KindConfig, Layer: "config", Message: err.Error()}
	}
	if resourcesDir != "" {
		cfg.Resources.Dir = resourcesDir
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	store := resources.NewStore()
	loader := resources.NewLoader(store, logger)
	count, err := loader.LoadDirectory(cfg.Resources.Dir)
	if err != nil {
		return &errs.Error{Kind: errs.KindValidation, Layer: "resources", Message: err.Error()}
	}

	fmt.Printf("config ok\n")
	fmt.Printf("resources ok: %d documents\n", count)
	fmt.Printf("  agents:    %d\n", store.Agents.Len())
	fmt.Printf("  flows:     %d\n", store.Flows.Len())
	fmt.Printf("  fleets:    %d\n", store.Fleets.Len())
	fmt.Printf("  triggers:  %d\n", store.Triggers.Len())
	fmt.Printf("  contexts:  %d\n", store.Contexts.Len())
	fmt.Printf("  bindings:  %d\n", store.Bindings.Len())
	fmt.Printf("  workflows: %d\n", store.Workflows.Len())
	return nil
}
