package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"taskbridge/internal/config"
	"taskbridge/internal/store"
)

var (
	storePort int
	storeDB   string
	storeSeed bool
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Runs the task store HTTP API on SQLite",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, _, err := setup(cmd, func(c *config.Config) {
			flags := cmd.Flags()
			if flags.Changed("port") {
				c.Store.Port = storePort
			}
			if flags.Changed("db") {
				c.Store.DBPath = storeDB
			}
			if flags.Changed("seed") {
				c.Store.Seed = storeSeed
			}
		})
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store.DBPath, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		if cfg.Store.Seed {
			if _, err := st.Seed(ctx); err != nil {
				return err
			}
		}

		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Store.Port))
		if err != nil {
			return fmt.Errorf("listen on store port: %w", err)
		}
		srv := &http.Server{Handler: st.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		logger.Info("task store listening", "addr", lis.Addr().String(), "db", cfg.Store.DBPath)
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("store serve: %w", err)
		}
		logger.Info("task store stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.Flags().IntVar(&storePort, "port", 0, "The port for the store API (default from config, 8001)")
	storeCmd.Flags().StringVar(&storeDB, "db", "", "SQLite database path, :memory: for a throwaway store")
	storeCmd.Flags().BoolVar(&storeSeed, "seed", false, "Insert sample tasks into an empty store")
}
