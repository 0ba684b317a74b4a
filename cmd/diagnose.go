package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rail44/culprit/internal/app"
	"github.com/rail44/culprit/internal/config"
	"github.com/rail44/culprit/internal/diagnosis"
	"github.com/rail44/culprit/internal/log"
	"github.com/rail44/culprit/internal/ui"
)

var (
	verbose        bool
	plain          bool
	timeoutSeconds int
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Run one diagnosis: intercept a client invocation and identify the rejected tool",
	Long: `Diagnose starts the interception proxy, launches the configured client
once with its traffic routed through the proxy, and waits for the API's
schema-validation rejection. The identified tool definition is written to
the result file.

Requires a one-time ` + "`culprit trust`" + ` run beforehand so the client can
accept the proxy's certificates.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			log.Error("failed to load configuration", "error", err)
			os.Exit(1)
		}

		setupLogging(cfg)

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		runCtx, cancel := context.WithCancel(runCtx)
		defer cancel()

		program := ui.NewProgram(ui.ProgramOptions{Plain: cfg.Plain})
		if program.IsTUIEnabled() {
			// The TUI owns the terminal while the run is in flight.
			log.UseCallback(program.LogRecord)
		}

		type outcome struct {
			rec *diagnosis.Record
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			diagnoseApp := app.NewDiagnoseApp(program)
			rec, err := diagnoseApp.Run(runCtx, cfg)
			if err != nil {
				program.Finish("Diagnosis failed: "+err.Error(), true)
			} else {
				program.Finish(rec.Message, false)
			}
			done <- outcome{rec: rec, err: err}
		}()

		if err := program.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "display error: %v\n", err)
		}
		// In TUI mode the terminal is raw, so a user's ctrl+c or "q"
		// quits the display without any signal reaching the process.
		// The display returning while the run is in flight therefore
		// means the user quit: cancel the run so cleanup happens now
		// instead of at the timeout.
		cancel()
		res := <-done

		if res.err != nil {
			exitWithError(res.err)
		}

		fmt.Printf("%s\n", res.rec.Message)
		if res.rec.ToolName != "" {
			fmt.Printf("  tool:   %s\n", res.rec.ToolName)
		}
		if res.rec.ToolIndex != nil {
			fmt.Printf("  index:  %d\n", *res.rec.ToolIndex)
		}
		if res.rec.SchemaURL != "" {
			fmt.Printf("  schema: %s\n", res.rec.SchemaURL)
		}
		fmt.Printf("  result: %s\n", cfg.Result)
	},
}

func init() {
	diagnoseCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show debug logs")
	diagnoseCmd.Flags().BoolVar(&plain, "plain", false, "Plain text output instead of the TUI")
	diagnoseCmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "Override the diagnosis timeout in seconds")
	rootCmd.AddCommand(diagnoseCmd)
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFile(cfgFile)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return nil, err
	}

	if client := viper.GetString("client"); client != "" {
		cfg.Client = client
	}
	if listen := viper.GetString("listen"); listen != "" {
		cfg.Listen = listen
	}
	if timeoutSeconds > 0 {
		cfg.TimeoutSeconds = timeoutSeconds
	}
	cfg.Plain = plain
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	logLevel := cfg.LogLevel
	if verbose {
		logLevel = "debug"
	}
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Error("invalid log level", "level", logLevel)
		os.Exit(1)
	}
	if err := log.SetLevel(level); err != nil {
		log.Error("failed to set log level", "error", err)
		os.Exit(1)
	}
}

func exitWithError(err error) {
	var runErr *app.RunError
	if errors.As(err, &runErr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		if runErr.Remedy != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", runErr.Remedy)
		}
		os.Exit(runErr.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
