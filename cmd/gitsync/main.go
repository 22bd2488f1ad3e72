package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/schaermu/gitsync/internal/config"
	"github.com/schaermu/gitsync/internal/git"
	"github.com/schaermu/gitsync/internal/sync"
	"github.com/spf13/cobra"
)

const (
	defaultConfigFile = "settings.json"
	defaultInitFile   = "settings_default.json"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	debug     bool
	dryRun    bool

	// Init flags
	initOutput string
	initForce  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gitsync",
	Short: "Mirror local files and directories into a Git repository",
	Long: `gitsync mirrors a declared set of local files and directories into a Git
working tree, then commits and pushes the result.

Each run compares the sources with the repository content and the manifest of
the previous run, copies what changed, deletes what was removed, and publishes
the changes to the configured remote.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror the declared sources into the repository and push",
	Long: `Sync pulls the repository, computes the difference between the declared
sources and the repository content, applies it, commits everything with the
configured message and pushes to the remote.

With --dry-run the planned operations are logged and nothing is changed.`,
	RunE: runSync,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample settings file",
	Long: `Init writes a sample configuration to settings_default.json (or --output).
Copy it to settings.json and edit the mappings before running sync.`,
	RunE: runInit,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gitsync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./settings.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "shorthand for --log-level debug")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	// Init command flags
	initCmd.Flags().StringVarP(&initOutput, "output", "o", defaultInitFile, "path of the settings file to write")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger()

	// Load configuration
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Create dependencies
	gitClient := newGitClient(cfg)

	// Create sync engine
	engine := sync.NewEngine(cfg, gitClient, logger, dryRun)

	// Run sync
	logger.Info("starting sync operation", "backend", cfg.Git.Backend)
	if err := engine.Run(ctx); err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	err := config.Default().Save(initOutput, initForce)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s already exists (use --force to overwrite)", initOutput)
	}
	if err != nil {
		return err
	}

	logger.Info("wrote default settings", "path", initOutput)
	return nil
}

func newGitClient(cfg *config.Config) git.Client {
	opts := git.Options{
		Remote:         cfg.Git.Remote,
		AuthorName:     cfg.Git.AuthorName,
		AuthorEmail:    cfg.Git.AuthorEmail,
		SSHKeyFile:     cfg.Git.SSHKeyFile,
		HTTPSTokenFile: cfg.Git.HTTPSTokenFile,
	}
	if cfg.Git.Backend == config.BackendGoGit {
		return git.NewGoGitClient(opts)
	}
	return git.NewShellClient(opts)
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if debug {
		level = slog.LevelDebug
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		configPath = filepath.Join(wd, defaultConfigFile)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"repo_dir", cfg.RepoDir,
		"files", len(cfg.Files),
		"dirs", len(cfg.Dirs),
		"ignore", cfg.Ignore.Patterns,
		"prune", cfg.Sync.Prune,
		"auth", cfg.AuthMethod())

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
