package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cobranzas/internal/app"
	"cobranzas/internal/config"
	"cobranzas/internal/services/dispatch"
	"cobranzas/internal/services/dunning"
	"cobranzas/internal/services/scoring"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "cobranzas",
		Short:         "Risk scoring and dunning batch operations",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(scoreRunCmd())
	rootCmd.AddCommand(dunningRunCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp loads config, builds the app and runs fn under a signal-aware context.
func withApp(fn func(ctx context.Context, a *app.App) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := fn(ctx, a)
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
}

func scoreRunCmd() *cobra.Command {
	var engine string
	cmd := &cobra.Command{
		Use:   "score-run",
		Short: "Recompute PayScore for every client and InvScore for every invoice",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App) (any, error) {
			return a.Scoring.Run(ctx, scoring.Request{Engine: engine})
		}),
	}
	cmd.Flags().StringVarP(&engine, "engine", "e", "heuristico", "scoring engine (heuristico, ml)")
	return cmd
}

func dunningRunCmd() *cobra.Command {
	var playbook string
	cmd := &cobra.Command{
		Use:   "dunning-run",
		Short: "Schedule due reminder steps of a playbook into the dunning queue",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App) (any, error) {
			return a.Dunning.Run(ctx, dunning.Request{PlaybookID: playbook})
		}),
	}
	cmd.Flags().StringVarP(&playbook, "playbook", "p", "", "playbook id")
	_ = cmd.MarkFlagRequired("playbook")
	return cmd
}

func dispatchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "agents-dispatch",
		Short: "Send up to --limit due dunning messages, highest priority first",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App) (any, error) {
			return a.Dispatch.Run(ctx, dispatch.Request{Limit: limit})
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", dispatch.DefaultLimit, "maximum jobs to claim")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App) (any, error) {
			if err := a.Migrate(ctx); err != nil {
				return nil, err
			}
			fmt.Fprintln(os.Stderr, "migrations applied")
			return nil, nil
		}),
	}
}
