package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"taskbridge/internal/closeline"
	"taskbridge/internal/config"
	"taskbridge/internal/grpcbridge"
	"taskbridge/internal/mcphttp"
	"taskbridge/internal/rest"
)

const shutdownTimeout = 10 * time.Second

var (
	servePort       int
	serveGRPCPort   int
	serveBackendURL string
	serveAPIKey     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the REST API and MCP streamable HTTP, and optionally gRPC",
	Long: `serve listens on the bridge port with the REST API at /{operation}, the
progress stream at /progress/{invocation_id} and MCP streamable HTTP at /mcp,
all behind the bearer secret. A non-zero gRPC port also starts the gRPC
transport.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, _, err := setup(cmd, func(c *config.Config) {
			flags := cmd.Flags()
			if flags.Changed("port") {
				c.Bridge.Port = servePort
			}
			if flags.Changed("grpc-port") {
				c.Bridge.GRPCPort = serveGRPCPort
			}
			if flags.Changed("backend-url") {
				c.Backend.URL = serveBackendURL
			}
			if flags.Changed("api-key") {
				c.Bridge.APIKey = serveAPIKey
			}
		})
		if err != nil {
			return err
		}
		reg, disp, release, err := buildBridge(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}

		// Servers stop first, the backend pool last.
		var line closeline.CloseLine

		mcpServer := mcphttp.New(disp, reg, mcphttp.Options{
			Name:         "taskbridge",
			Version:      version,
			Instructions: cfg.Bridge.Instructions,
			Logger:       logger.With("transport", "mcp-http"),
		})
		restServer := rest.New(disp, reg, rest.Options{
			Secret:  cfg.Bridge.APIKey,
			Title:   "taskbridge",
			Version: version,
			Logger:  logger.With("transport", "rest"),
			Mounts:  map[string]http.Handler{"/mcp": mcpServer},
		})

		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Bridge.Port))
		if err != nil {
			release()
			return fmt.Errorf("listen on bridge port: %w", err)
		}
		httpServer := &http.Server{Handler: restServer.Handler(), ReadHeaderTimeout: 10 * time.Second}
		line.AddE(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(ctx)
		})

		if cfg.Bridge.GRPCPort != 0 {
			grpcServer := grpcbridge.NewServer(disp, reg, grpcbridge.Options{
				Secret: cfg.Bridge.APIKey,
				Logger: logger.With("transport", "grpc"),
			})
			_, stop, err := grpcServer.StartAsync(cfg.Bridge.GRPCPort)
			if err != nil {
				_ = line.Close()
				_ = lis.Close()
				release()
				return err
			}
			line.Add(stop)
		}
		line.Add(release)

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			logger.Info("bridge listening", "addr", lis.Addr().String(), "routes", len(restServer.Routes()), "mcp", "/mcp")
			if err := httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			logger.Info("shutting down bridge")
			return line.Close()
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "The port for the REST and MCP endpoints (default from config, 8002)")
	serveCmd.Flags().IntVar(&serveGRPCPort, "grpc-port", 0, "The port for the gRPC transport, 0 disables it")
	serveCmd.Flags().StringVar(&serveBackendURL, "backend-url", "", "Base URL of the task store API")
	serveCmd.Flags().StringVar(&serveAPIKey, "api-key", "", "Bearer secret for every protected endpoint")
}
