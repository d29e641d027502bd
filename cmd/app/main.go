package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"RegimeSim/internal/di"
	"RegimeSim/internal/domain/models"
	"RegimeSim/internal/usecase"
	"RegimeSim/pkg/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "regimesim",
		Short:         "Regime-conditioned t-copula scenario engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "config file path")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Fit on startup and serve the HTTP API",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.LoadWithEnv(configPath)
				if err != nil {
					return fmt.Errorf("config load failed: %w", err)
				}
				app, err := di.InitializeApp(cfg)
				if err != nil {
					return fmt.Errorf("app initialization failed: %w", err)
				}
				// Run blocks until signal
				return app.Run()
			},
		},
		newRunCmd(&configPath),
	)
	return root
}

type runFlags struct {
	products   []string
	regimePath []int
	steps      int
	start      int
	paths      int
	seed       int64
	publish    bool
}

type runSummary struct {
	RunID         string                  `json:"run_id"`
	Fit           *models.FitReport       `json:"fit"`
	RegimePath    []models.RegimeID       `json:"regime_path"`
	Report        models.SimulationReport `json:"report"`
	PublishErrors []string                `json:"publish_errors,omitempty"`
}

// newRunCmd assembles, fits and simulates once, then prints a JSON summary.
func newRunCmd(configPath *string) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Assemble, fit and simulate once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithEnv(*configPath)
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			app, err := di.InitializeApp(cfg)
			if err != nil {
				return fmt.Errorf("app initialization failed: %w", err)
			}
			ctx := cmd.Context()
			defer func() { _ = app.Shutdown(context.WithoutCancel(ctx)) }()

			engine := app.Engine()
			if _, err := engine.Assemble(ctx); err != nil {
				return err
			}
			fit, err := engine.Fit(ctx, "")
			if err != nil {
				return err
			}
			regimes := make([]models.RegimeID, len(f.regimePath))
			for i, r := range f.regimePath {
				regimes[i] = models.RegimeID(r)
			}
			res, err := engine.Simulate(ctx, usecase.SimulateInput{
				Products:   models.ProductsFromStrings(f.products),
				RegimePath: regimes,
				Steps:      f.steps,
				Start:      models.RegimeID(f.start),
				PathCount:  f.paths,
				Seed:       f.seed,
				Publish:    f.publish,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(runSummary{
				RunID:         res.RunID,
				Fit:           fit,
				RegimePath:    res.RegimePath,
				Report:        res.Report,
				PublishErrors: res.PublishErrors,
			})
		},
	}
	cmd.Flags().StringSliceVar(&f.products, "products", nil, "products to simulate (default: the whole universe)")
	cmd.Flags().IntSliceVar(&f.regimePath, "regime-path", nil, "explicit regime path")
	cmd.Flags().IntVar(&f.steps, "steps", 24, "steps to generate when no regime path is given")
	cmd.Flags().IntVar(&f.start, "start", 1, "start regime of a generated path")
	cmd.Flags().IntVar(&f.paths, "paths", 100, "number of Monte Carlo paths")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "master seed (0: configured seed)")
	cmd.Flags().BoolVar(&f.publish, "publish", false, "publish paths to the configured sinks")
	return cmd
}
