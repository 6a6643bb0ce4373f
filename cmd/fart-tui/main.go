package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jhbruhn/fart/internal/app"
	"github.com/jhbruhn/fart/internal/client"
	"github.com/jhbruhn/fart/internal/storage"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagServer      string
	flagParamsFile  string
	flagDataDir     string
	flagArtifactDir string
	flagLogFile     string
	flagDebug       bool

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "fart-tui",
	Short: "Terminal console for a running fart sketch server",
	Long: `fart-tui attaches to a fart serve instance, follows its generation
event stream, and exposes the sketch's declared parameters as live,
debounced controls. Finished generations are snapshotted locally and can
be restored later.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !flagDebug {
			return nil
		}
		// The TUI owns the terminal, so debug logging goes to a file.
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.OutputPaths = []string{flagLogFile}
		cfg.ErrorOutputPaths = []string{flagLogFile}
		built, err := cfg.Build()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		logger = built
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "http://localhost:3000", "base URL of the fart serve instance")
	rootCmd.PersistentFlags().StringVar(&flagParamsFile, "params", "", "JSON file of parameter overrides applied on first declaration")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", defaultDataDir(), "directory for generation snapshots")
	rootCmd.PersistentFlags().StringVar(&flagArtifactDir, "artifact-dir", "", "mirror the latest artifact into this directory (optional)")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "fart-tui.log", "debug log destination (with --debug)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging to --log-file")
}

func defaultDataDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return ".fart-tui"
	}
	return filepath.Join(wd, ".fart-tui")
}

func run() error {
	c, err := client.New(flagServer, logger)
	if err != nil {
		return fmt.Errorf("server URL: %w", err)
	}

	store, err := storage.NewStore(flagDataDir)
	if err != nil {
		return fmt.Errorf("open data dir: %w", err)
	}

	opts := app.ModelOptions{ArtifactDir: flagArtifactDir}
	if flagParamsFile != "" {
		overrides, path, err := app.LoadOverridesFile(flagParamsFile)
		if err != nil {
			return err
		}
		opts.Overrides = overrides
		logger.Info("loaded parameter overrides",
			zap.String("path", path),
			zap.Int("count", len(overrides)))
	}

	if flagArtifactDir != "" {
		if err := os.MkdirAll(flagArtifactDir, 0o755); err != nil {
			return fmt.Errorf("create artifact dir: %w", err)
		}
	}

	model := app.NewModelWithOptions(c, store, logger, opts)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
