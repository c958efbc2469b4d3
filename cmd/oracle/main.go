// Command oracle runs the ledger ingestion/analytics pipeline
// described in spec.md, or inspects its persisted state, depending on
// the subcommand. Grounded in the reference's cmd/oracle/main.go
// (config → logger → InitializeApplication → Start → wait for signal
// → Stop), generalized into a spf13/cobra command tree per
// SPEC_FULL.md §10 so the same binary also serves the operator-facing
// snapshot/alpha inspection commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ledgeroracle/xrpl-oracle/cmd/oracle/startup"
	"github.com/ledgeroracle/xrpl-oracle/internal/store"
	"github.com/ledgeroracle/xrpl-oracle/internal/walletscorer"
	"github.com/ledgeroracle/xrpl-oracle/pkg/config"
)

func openStoreReadOnly(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.Store, func(), error) {
	st, closer, err := startup.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return st, func() { closer.Close() }, nil
}

func newScorerForExport(st store.Store, logger *logrus.Logger) *walletscorer.Scorer {
	return walletscorer.New(walletscorer.DefaultConfig("alpha_wallets.csv"), st, logger)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "oracle",
		Short: "XRPL memecoin ingestion and analytics pipeline",
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newSnapshotCmd())
	root.AddCommand(newAlphaCmd())
	return root
}

func loadConfigAndLogger() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	logger := logrus.New()
	switch cfg.Logging.Level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if cfg.Logging.Filename != "" {
		f, err := os.OpenFile(cfg.Logging.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		logger.SetOutput(f)
	}

	return cfg, logger, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the streaming pipeline and analytics workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			logger.Info("oracle: starting")

			ctx := cmd.Context()
			app, err := startup.InitializeApplication(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}

			if err := app.Start(); err != nil {
				return fmt.Errorf("start application: %w", err)
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigChan
			logger.WithField("signal", sig.String()).Info("oracle: shutdown signal received")

			if err := app.Stop(); err != nil {
				logger.WithError(err).Error("oracle: shutdown encountered errors")
				return err
			}
			logger.Info("oracle: stopped cleanly")
			return nil
		},
	}
}

func newSnapshotCmd() *cobra.Command {
	snapshot := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect persisted token state",
	}
	snapshot.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "Print every currently active token's state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			st, closeFn, err := openStoreReadOnly(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			tokens, err := st.GetActiveTokens(ctx, nil)
			if err != nil {
				return fmt.Errorf("list active tokens: %w", err)
			}
			for _, t := range tokens {
				fmt.Printf("%s  status=%s trust_lines=%d trades=%d volume=%s\n",
					t.TokenID.String(), t.Status, t.TrustLines, t.Trades, t.TotalVolume.String())
			}
			fmt.Printf("%d active tokens\n", len(tokens))
			return nil
		},
	})
	return snapshot
}

func newAlphaCmd() *cobra.Command {
	alpha := &cobra.Command{
		Use:   "alpha",
		Short: "Inspect wallet alpha scoring",
	}
	alpha.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Run one wallet-scoring pass immediately and write the alpha file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			st, closeFn, err := openStoreReadOnly(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			scorer := newScorerForExport(st, logger)
			if err := scorer.RunOnce(ctx); err != nil {
				return fmt.Errorf("score wallets: %w", err)
			}
			return nil
		},
	})
	return alpha
}
