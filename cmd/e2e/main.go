package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ban5104/SpeakMCP-sub001/internal/config"
	"github.com/ban5104/SpeakMCP-sub001/internal/logging"
	"github.com/ban5104/SpeakMCP-sub001/internal/suite"
	"github.com/ban5104/SpeakMCP-sub001/internal/telemetry"
)

// Version is set at build time.
var Version = "dev"

// errChecksFailed marks a completed run with failing verdicts. The report is
// already printed by then; main only needs the exit code.
var errChecksFailed = errors.New("one or more checks failed")

func main() {
	err := run(context.Background(), os.Args[1:])
	if err == nil {
		return
	}
	if !errors.Is(err, errChecksFailed) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(ctx)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	shutdownTelemetry, err := telemetry.Init(ctx)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer shutdownTelemetry()

	cmd := newRootCommand(cfg, logger.Logger)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "e2e",
		Short:         "Remote session coordinator for end-to-end desktop checks",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.AddCommand(
		newRunCommand(cfg, logger),
		newChecksCommand(),
		newReportCommand(),
	)

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if logger == nil {
			return errors.New("logger is required")
		}
		if cfg == nil {
			return errors.New("config is required")
		}
		logger.With("command", cmd.Name()).Debug("command invocation")
		return nil
	}

	return root
}

func newRunCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	var (
		target   string
		jsonPath string
	)

	cmd := &cobra.Command{
		Use:   "run [check...]",
		Short: "Launch the target and evaluate behavior checks",
		Long: "Launches the target application in test mode, waits for readiness,\n" +
			"evaluates the named checks (all of them when none are named), prints\n" +
			"the verdicts, and tears the session down.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target != "" {
				cfg.TargetPath = target
			}
			if cfg.TargetPath == "" {
				return errors.New("no target binary configured; pass --target or set target.path in config")
			}
			if jsonPath == "" {
				jsonPath = cfg.ReportPath
			}

			report, err := suite.Run(cmd.Context(), suite.Options{
				Config: cfg,
				Logger: logger,
			}, args...)
			if report != nil && len(report.Results) > 0 {
				fmt.Fprint(cmd.OutOrStdout(), report.Render())
			}
			if err != nil {
				return err
			}
			if jsonPath != "" {
				if err := report.WriteFile(jsonPath); err != nil {
					return err
				}
				logger.Info("report written", "path", jsonPath)
			}
			if report.Failed() {
				return errChecksFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "path to the application binary under test")
	cmd.Flags().StringVar(&jsonPath, "json", "", "write the JSON report to this path")
	return cmd
}

func newChecksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "checks",
		Short: "List registered check names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range suite.CheckNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newReportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "report <path>",
		Short: "Render a previously written JSON report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := suite.ReadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report.Render())
			if report.Failed() {
				return errChecksFailed
			}
			return nil
		},
	}
}
