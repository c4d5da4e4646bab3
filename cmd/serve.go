package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/checkmates/internal/api"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (/register, /check, /health)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if cmd.Flags().Changed("host") {
			cfg.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = servePort
		}
		if err := cfg.Validate(); err != nil {
			return fail("Invalid server configuration", err)
		}
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "0.0.0.0", "Interface to listen on")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 5050, "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	eng, err := startEngine(ctx)
	if err != nil {
		return fail("Failed to start AI engine", err)
	}
	defer eng.Close()

	srv := api.NewServer(eng.service, cfg.Host, cfg.Port, cfg.RequestTimeout, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	fmt.Fprintf(os.Stderr, "🌐 Listening on http://%s:%d\n", cfg.Host, cfg.Port)

	select {
	case err := <-errCh:
		if err != nil {
			return fail("Server stopped", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Give in-flight checks time to finish their gallery scan
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	logger.Info("server stopped", zap.Error(<-errCh))
	return nil
}
