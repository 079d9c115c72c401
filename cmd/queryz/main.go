package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zoobzio/queryz"
	"github.com/zoobzio/queryz/config"
	"github.com/zoobzio/queryz/internal/app"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "queryz <config-file> <input-file>",
		Short:        "Run each input line through the configured module pipeline",
		Version:      version,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, args[0], args[1], cmd)
		},
	}
	root.AddCommand(newModulesCmd())
	return root
}

func run(ctx context.Context, configPath, inputPath string, cmd *cobra.Command) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := app.New(cfg, app.WithLogWriter(cmd.ErrOrStderr()))
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}
	defer func() { _ = a.Close() }()

	a.Logger.Debug().Str("file", inputPath).Msg("opening input")
	in, err := os.Open(inputPath)
	if err != nil {
		a.Logger.Error().Err(err).Str("file", inputPath).Msg("cannot open input")
		return fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = in.Close() }()

	return a.Process(ctx, in, cmd.OutOrStdout())
}

func newModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the available modules and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache := queryz.NewCache()
			defer cache.Cleanup()
			for _, m := range app.Modules(cache) {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", m.Name(), queryz.Capabilities(m))
			}
			return nil
		},
	}
}
