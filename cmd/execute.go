// Package cmd contains the command-line entry points: serving the API,
// running migrations, and version reporting.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/quillvault/quill/internal/config"
	"github.com/quillvault/quill/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "0.0.1"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute routes the top-level command. Designed to be called from
// main() and exercised directly in tests.
func Execute() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "version", "--version", "-v":
		printVersion()
		return nil
	case "help", "--help", "-h":
		printHelp()
		return nil
	case "migrate":
		return executeMigrate()
	case "serve":
		return executeServe()
	default:
		printHelp()
		return fmt.Errorf("unknown command %q", command)
	}
}

// initLogger builds the process logger. DEBUG=1 enables debug level;
// QUILL_LOG_JSON=1 switches to JSON output for log shippers.
func initLogger() *slog.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	if os.Getenv("QUILL_LOG_JSON") != "" {
		cfg.JSON = true
	}
	logger := log.New(cfg)
	slog.SetDefault(logger)
	return logger
}

// loadConfig loads and validates the application configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func printVersion() {
	fmt.Printf("Quill v%s\n", AppVersion)
	fmt.Printf("Build: %s\n", BuildTime)
	fmt.Printf("Commit: %s\n", GitCommit)
}

func printHelp() {
	fmt.Println("Quill - vault research assistant")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  quill serve        Start the API server (default)")
	fmt.Println("  quill migrate      Apply database migrations and exit")
	fmt.Println("  quill version      Show version information")
	fmt.Println("  quill help         Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  QUILL_AI_API_KEY       Required: Gemini API key")
	fmt.Println("  QUILL_POSTGRES_HOST    PostgreSQL host (default localhost)")
	fmt.Println("  QUILL_REDIS_ADDR       Optional: enables the invalidation listener")
	fmt.Println("  QUILL_LOG_JSON         Optional: JSON log output")
	fmt.Println("  DEBUG                  Optional: debug logging")
}
