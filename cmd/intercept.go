package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rail44/culprit/internal/channel"
	"github.com/rail44/culprit/internal/correlate"
	"github.com/rail44/culprit/internal/log"
	"github.com/rail44/culprit/internal/proxy"
	"github.com/rail44/culprit/internal/trust"
)

var runConfigPath string

var interceptCmd = &cobra.Command{
	Use:    "intercept",
	Short:  "Run the interception layer (spawned by diagnose)",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		// stdout carries diagnosis channel frames and nothing else; pin
		// all logging from this process to stderr.
		log.SetOutput(os.Stderr)

		runCfg, err := proxy.LoadRunConfig(runConfigPath)
		if err != nil {
			log.Error("failed to load run config", "error", err)
			os.Exit(1)
		}

		if level, err := log.ParseLevel(runCfg.LogLevel); err == nil {
			log.SetLevel(level)
		}

		ca, err := trust.Load(runCfg.TrustDir)
		if err != nil {
			log.Error("failed to load interception CA", "error", err)
			os.Exit(1)
		}

		correlator := correlate.New(runCfg.Endpoint)
		writer := channel.NewWriter(os.Stdout)
		srv := proxy.New(ca, correlator, writer)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := srv.ListenAndServe(ctx, runCfg.Listen); err != nil {
			log.Error("interception proxy failed", "error", err)
			os.Exit(1)
		}
	},
}

func init() {
	interceptCmd.Flags().StringVar(&runConfigPath, "run-config", "", "Path to the per-run configuration file")
	interceptCmd.MarkFlagRequired("run-config")
	rootCmd.AddCommand(interceptCmd)
}
