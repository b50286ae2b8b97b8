package cmd

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"

	"taskbridge/internal/config"
	"taskbridge/internal/stdio"
)

var stdioBackendURL string

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serves the operation catalog as an MCP server on stdin and stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, level, err := setup(cmd, func(c *config.Config) {
			if cmd.Flags().Changed("backend-url") {
				c.Backend.URL = stdioBackendURL
			}
		})
		if err != nil {
			return err
		}
		reg, disp, release, err := buildBridge(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer release()

		srv := stdio.NewServer(disp, reg, mcp.Implementation{Name: "taskbridge", Version: version}, logger,
			stdio.WithInstructions(cfg.Bridge.Instructions),
			stdio.WithLevelVar(level),
		)
		logger.Info("serving mcp on stdio", "backend", cfg.Backend.URL)
		err = srv.ServeStreams(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(stdioCmd)
	stdioCmd.Flags().StringVar(&stdioBackendURL, "backend-url", "", "Base URL of the task store API")
}
