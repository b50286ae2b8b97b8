package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskbridge/internal/backend"
	"taskbridge/internal/bridge"
	"taskbridge/internal/config"
	"taskbridge/internal/operations"
)

// version is reported to MCP clients and in the OpenAPI document.
const version = "0.3.0"

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "taskbridge",
	Short: "Serves task operations over MCP, REST and gRPC",
	Long: `taskbridge publishes one catalog of task operations as MCP tools,
resources and prompts (over stdio or streamable HTTP), as a bearer protected
REST API and as gRPC methods. Every operation is backed by the task store
HTTP API, which the store command also provides.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML config file (default $"+config.EnvConfigPath+")")
	flags.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	flags.StringVar(&logFormat, "log-format", "text", "Log format: text or json")
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// setup loads the configuration, lets explicitly set flags override it and
// builds the logger. Logs always go to the command's stderr.
func setup(cmd *cobra.Command, override func(*config.Config)) (config.Config, *slog.Logger, *slog.LevelVar, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	logger, level, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return cfg, nil, nil, err
	}
	return cfg, logger, level, nil
}

// buildBridge wires the backend client, the operation catalog and the
// dispatcher every transport shares. release closes the backend pool. An
// unreachable store is only logged; calls fail with UpstreamError until it is
// up.
func buildBridge(ctx context.Context, cfg config.Config, logger *slog.Logger) (reg *bridge.Registry, disp *bridge.Dispatcher, release func(), err error) {
	client, err := backend.New(backend.Options{
		BaseURL:     cfg.Backend.URL,
		PoolSize:    cfg.Backend.PoolSize,
		Timeout:     cfg.Backend.Timeout,
		MaxAttempts: cfg.Backend.MaxAttempts,
		Backoff:     cfg.Backend.Backoff,
		Logger:      logger.With("component", "backend"),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	reg = bridge.NewRegistry()
	if err := operations.Register(reg, client, logger); err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("register operations: %w", err)
	}
	logger.Debug("operation catalog ready", "operations", reg.Len(), "backend", cfg.Backend.URL)

	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Health(healthCtx); err != nil {
		logger.Warn("task store is not reachable yet", "backend", cfg.Backend.URL, "error", err)
	}
	return reg, bridge.NewDispatcher(reg, logger), client.Close, nil
}
