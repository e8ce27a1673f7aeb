// Package cli implements the lakecat command tree.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pithecene-io/lakecat/internal/config"
	"github.com/pithecene-io/lakecat/internal/logging"
	"github.com/pithecene-io/lakecat/lakecat"
)

// Exit codes.
const (
	exitOK        = 0
	exitError     = 1
	exitIntegrity = 2 // an audit found absolute paths, mismatches or missing files
)

var version = "dev"

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	a := newApp(os.Stderr)
	rootCmd := a.rootCmd()
	err := rootCmd.Execute()
	a.shutdown()
	if err == nil {
		return exitOK
	}

	output, _ := rootCmd.PersistentFlags().GetString("output")
	if output == "json" {
		_ = printJSON(os.Stdout, map[string]any{"error": err.Error()})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	if errors.Is(err, lakecat.ErrCatalogIntegrity) {
		return exitIntegrity
	}
	return exitError
}

// app carries state resolved once per invocation.
type app struct {
	stderr io.Writer

	configPath string
	lakeRoot   string
	output     string

	cfg      *config.Config
	logger   *slog.Logger
	closeLog func()
}

func newApp(stderr io.Writer) *app {
	return &app{
		stderr:   stderr,
		logger:   slog.New(slog.DiscardHandler),
		closeLog: func() {},
	}
}

func (a *app) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lakecat",
		Short: "Snapshot, manifest and statistics catalog for data lakes",
		Long: "lakecat records which files make up each table version, answers\n" +
			"aggregate questions from file statistics, and audits that every stored\n" +
			"path stays relative to the lake root.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutputFormat(a.output); err != nil {
				return err
			}
			return a.loadConfig(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default ./"+config.DefaultFile+" if present)")
	rootCmd.PersistentFlags().StringVar(&a.lakeRoot, "lake-root", "", "Lake root directory (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&a.output, "output", "o", "table", "Output format (table, json)")

	rootCmd.AddCommand(
		a.newTablesCmd(),
		a.newDefineCmd(),
		a.newEvolveCmd(),
		a.newIngestCmd(),
		a.newCommitCmd(),
		a.newSnapshotsCmd(),
		a.newFilesCmd(),
		a.newQueryCmd(),
		a.newDistributionCmd(),
		a.newAuditCmd(),
	)
	return rootCmd
}

func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("lake-root") {
		cfg.LakeRoot = a.lakeRoot
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg

	a.logger, a.closeLog = logging.Setup(a.stderr, logging.Options{
		Level:  cfg.SlogLevel(),
		Format: cfg.Log.Format,
		SeqURL: cfg.Log.SeqURL,
	})
	for _, w := range cfg.Warnings {
		a.logger.Warn("config", "warning", w)
	}
	return nil
}

// shutdown flushes the log sink.
func (a *app) shutdown() {
	a.closeLog()
}
