package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/mattjoyce/deployhook/internal/api"
	"github.com/mattjoyce/deployhook/internal/checkout"
	"github.com/mattjoyce/deployhook/internal/config"
	"github.com/mattjoyce/deployhook/internal/history"
	"github.com/mattjoyce/deployhook/internal/lock"
	"github.com/mattjoyce/deployhook/internal/log"
	"github.com/mattjoyce/deployhook/internal/pipeline"
	"github.com/mattjoyce/deployhook/internal/runner"
	"github.com/mattjoyce/deployhook/internal/storage"
)

const version = "0.2.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "history":
		os.Exit(runHistoryNoun(args))

	// --- ROOT ALIASES ---
	case "start":
		os.Exit(runStart(args))

	case "version", "--version", "-v":
		fmt.Printf("deployhook version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`deployhook - GitHub push webhook deployment trigger

Usage:
  deployhook <noun> <action> [flags]

Core Resources (Nouns):
  system    Server lifecycle
  config    Configuration validation and integrity
  history   Recorded deployment runs

System Commands:
  system start      Start the webhook server in foreground

Config Commands:
  config check      Validate configuration and integrity lock
  config lock       Authorize current config (update integrity hash)

History Commands:
  history list      Show recent deployment runs

General:
  version           Show version information
  help              Show this help message

Use 'deployhook <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runHistoryNoun(args []string) int {
	if len(args) < 1 {
		printHistoryNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printHistoryNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printHistoryListHelp()
			return 0
		}
		return runHistoryList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown history action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: deployhook system <action>")
	fmt.Fprintln(w, "Actions: start")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: deployhook config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printHistoryNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: deployhook history <action> [flags]")
	fmt.Fprintln(w, "Actions: list")
}

func printSystemStartHelp() {
	fmt.Println("Usage: deployhook system start [--config PATH]")
	fmt.Println("Start the webhook server in the foreground.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: deployhook config check [--config PATH]")
	fmt.Println("Validate configuration, repository table and integrity lock.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: deployhook config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Authorize current configuration by regenerating its integrity hash.")
}

func printHistoryListHelp() {
	fmt.Println("Usage: deployhook history list [--config PATH] [--repo OWNER/NAME] [--limit N] [--json]")
	fmt.Println("Show recent deployment runs, newest first.")
}

// resolveConfigPath returns path, or the discovered config file when path is empty.
func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	discovered, err := config.DiscoverConfigFile()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

func runStart(args []string) int {
	fs := pflag.NewFlagSet("start", pflag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return serve(cfg, sigCh)
}

// serve runs the webhook server until a value arrives on stop. It returns
// only after every in-flight deployment has finished, so the PID lock,
// checkout locks and history database outlive the last run.
func serve(cfg *config.Config, stop <-chan os.Signal) int {
	logger := log.WithComponent("main")
	logger.Info("deployhook starting", "version", version, "config", cfg.SourcePath)

	registry, err := config.NewRegistry(cfg)
	if err != nil {
		logger.Error("failed to build repository table", "error", err)
		return 1
	}
	if err := checkLocalDirs(cfg, registry, storage.CheckLocal); err != nil {
		logger.Error("refusing checkout location", "error", err)
		return 1
	}
	for _, name := range registry.Names() {
		repo, _ := registry.Resolve(name)
		logger.Info("repository registered",
			"repo", name,
			"prod_branch", repo.ProdBranch,
			"checkout_dir", repo.CheckoutDir,
			"signed", repo.HasSecret())
	}

	pidLockPath := getPIDLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A nil *history.Store must not reach the pipeline as a non-nil interface.
	var recorder pipeline.Recorder
	if cfg.State.Path != "" {
		db, err := storage.OpenSQLite(ctx, cfg.State.Path)
		if err != nil {
			logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
			return 1
		}
		defer db.Close()
		recorder = history.NewStore(db)
		logger.Info("database opened", "path", cfg.State.Path)
	} else {
		logger.Info("run history disabled")
	}

	reconciler := checkout.NewReconciler(
		checkout.NewGitBackend(log.WithComponent("git")),
		log.WithComponent("checkout"),
	)
	deployer := pipeline.New(
		registry,
		reconciler,
		runner.New(log.WithComponent("runner")),
		lock.NewCheckoutLocker(),
		recorder,
		log.WithComponent("pipeline"),
	)

	apiServer := api.New(api.Config{
		Listen:       cfg.Server.Listen,
		Path:         cfg.Server.Path,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Debug:        cfg.Service.Debug,
		Repositories: len(registry.Names()),
	}, deployer, log.WithComponent("api"))

	done := make(chan error, 1)
	go func() {
		done <- apiServer.Start(ctx)
	}()

	logger.Info("deployhook running (press Ctrl+C to stop)", "listen", cfg.Server.Listen, "path", cfg.Server.Path)

	select {
	case sig := <-stop:
		logger.Info("received shutdown signal, waiting for in-flight deployments", "signal", sig)
		cancel()
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("shutdown incomplete", "error", err)
			return 1
		}
	case err := <-done:
		logger.Error("component failed", "error", fmt.Errorf("api: %w", err))
		return 1
	}

	logger.Info("deployhook stopped")
	return 0
}

func runConfigCheck(args []string) int {
	var configPath string

	fs := pflag.NewFlagSet("check", pflag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	// Load already refuses a config that no longer matches its lock.
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	registry, err := config.NewRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Repository error: %v\n", err)
		return 1
	}

	locked, err := config.VerifyChecksums(cfg.SourcePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Integrity error: %v\n", err)
		return 1
	}

	fmt.Printf("Configuration OK: %s\n", cfg.SourcePath)
	if locked {
		fmt.Println("Integrity: locked")
	} else {
		fmt.Println("Integrity: unlocked (run 'deployhook config lock')")
	}
	fmt.Printf("Repositories: %d\n", len(registry.Names()))
	for _, name := range registry.Names() {
		repo, _ := registry.Resolve(name)
		signed := "unsigned"
		if repo.HasSecret() {
			signed = "signed"
		}
		fmt.Printf("  - %s [%s, %s] -> %s\n", name, repo.ProdBranch, signed, repo.CheckoutDir)
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, dryRun bool

	fs := pflag.NewFlagSet("lock", pflag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	manifest, err := config.LockConfig(path, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	dir := path
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		dir = filepath.Dir(path)
	}
	checksumPath := filepath.Join(dir, config.ChecksumsFile)

	if verbose {
		for name, hash := range manifest.Hashes {
			fmt.Printf("  HASH %s: %s\n", name, hash)
		}
		if dryRun {
			fmt.Printf("  DRY-RUN %s: %s (not written)\n", config.ChecksumsFile, checksumPath)
		} else {
			fmt.Printf("  WROTE %s: %s\n", config.ChecksumsFile, checksumPath)
		}
	}

	if dryRun {
		fmt.Printf("Dry run completed for %s (no files written)\n", dir)
	} else {
		fmt.Printf("Successfully locked configuration in %s\n", dir)
	}
	return 0
}

// checkLocalDirs vets the checkouts base dir and every resolved checkout
// directory, since checkout_dir may point outside the base dir and each
// checkout's flock needs local disk.
func checkLocalDirs(cfg *config.Config, registry *config.Registry, check func(path, what string) error) error {
	if err := check(cfg.Checkouts.BaseDir, "checkouts directory"); err != nil {
		return err
	}
	for _, name := range registry.Names() {
		repo, _ := registry.Resolve(name)
		if err := check(repo.CheckoutDir, "checkout directory of "+name); err != nil {
			return err
		}
	}
	return nil
}

// getPIDLockPath places the PID file next to the state database, or in the
// checkouts directory when history is disabled.
func getPIDLockPath(cfg *config.Config) string {
	dbPath := cfg.State.Path
	if dbPath == "" {
		return filepath.Join(cfg.Checkouts.BaseDir, "deployhook.pid")
	}
	dbDir := filepath.Dir(dbPath)
	dbBase := filepath.Base(dbPath)
	nameWithoutExt := strings.TrimSuffix(dbBase, filepath.Ext(dbBase))
	return filepath.Join(dbDir, nameWithoutExt+".pid")
}
