package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dshills/commitgate/internal/chunk"
	"github.com/dshills/commitgate/internal/config"
	"github.com/dshills/commitgate/internal/github"
	"github.com/dshills/commitgate/internal/logging"
	"github.com/dshills/commitgate/internal/metrics"
	"github.com/dshills/commitgate/internal/output"
	"github.com/dshills/commitgate/internal/providers"
)

const version = "0.1.0"

// Exit codes.
const (
	ExitSuccess      = 0
	ExitBlocked      = 1
	ExitUsageError   = 2
	ExitAuthError    = 3
	ExitRuntimeError = 4
	ExitTooLarge     = 5
)

// noSetup marks commands that run without loading the configuration.
const noSetup = "commitgate/no-setup"

// Global flags.
var (
	flagConfig   string
	flagProvider string
	flagModel    string
	flagFormat   string
	flagOut      string
	flagLogLevel string
	flagVerbose  bool
)

// runtime state built by setup.
var (
	cfg  config.Config
	log  = zerolog.Nop()
	mets *metrics.Metrics
	ui   = output.NewUI()
)

var rootCmd = &cobra.Command{
	Use:               "commitgate",
	Short:             "Commit governance for regulated codebases",
	Long:              "commitgate scans diffs for sensitive values, writes and validates commit messages, scores deployment risk and localizes regressions.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Run executes the root command and returns an exit code.
func Run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Cobra already prints the error
		return ExitUsageError
	}
	if err := mets.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		log.Warn().Err(err).Msg("metrics export failed")
	}
	return exitCode
}

// exitCode is set by command handlers to control the process exit code.
var exitCode = ExitSuccess

func buildOverrides() map[string]string {
	m := make(map[string]string)
	if flagProvider != "" {
		m["provider"] = flagProvider
	}
	if flagModel != "" {
		m["model"] = flagModel
	}
	if flagFormat != "" {
		m["format"] = flagFormat
	}
	if flagLogLevel != "" {
		m["log.level"] = flagLogLevel
	}
	if flagVerbose {
		m["log.level"] = "debug"
	}
	return m
}

func setup(cmd *cobra.Command, _ []string) error {
	output.Version = version
	if cmd.Annotations[noSetup] != "" {
		return nil
	}
	c, err := config.Load(flagConfig, buildOverrides())
	if err != nil {
		return err
	}
	cfg = c
	l, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	log = l
	ui.Verbose = flagVerbose
	if cfg.Metrics.Textfile != "" {
		mets = metrics.New()
	}
	return nil
}

// fail reports err and maps it to an exit code. It returns nil so cobra
// does not print usage for runtime failures.
func fail(err error) error {
	ui.Error("%v", err)
	exitCode = exitCodeFor(err)
	return nil
}

func exitCodeFor(err error) int {
	var tooLarge *chunk.TooLargeError
	switch {
	case errors.As(err, &tooLarge):
		return ExitTooLarge
	case providers.IsAuthError(err):
		return ExitAuthError
	case errors.Is(err, github.ErrAuth):
		return ExitAuthError
	default:
		return ExitRuntimeError
	}
}

// block raises the exit code to ExitBlocked unless a worse code is set.
func block() {
	if exitCode == ExitSuccess {
		exitCode = ExitBlocked
	}
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print commitgate version",
	Annotations: map[string]string{noSetup: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "commitgate version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(chunkCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(bisectCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(versionCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Config file (default $XDG_CONFIG_HOME/commitgate/config.yaml)")
	pf.StringVar(&flagProvider, "provider", "", "Generation provider (anthropic, openai, gemini, ollama, none)")
	pf.StringVar(&flagModel, "model", "", "Model name")
	pf.StringVar(&flagFormat, "format", "", "Output format (text, json, markdown, sarif)")
	pf.StringVar(&flagOut, "out", "", "Output file path (default: stdout)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose output")
}
