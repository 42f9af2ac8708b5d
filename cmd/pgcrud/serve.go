package pgcrud

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgeflare/pgcrud/pkg/rest"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the CRUD API server",
	Long:    `Connects to PostgreSQL, generates the operations of every configured resource and serves them over HTTP`,
	RunE:    runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("postgres.conn_string", "c", "", "PostgreSQL connection string")
	f.StringP("server.listen_addr", "l", "", "listen address")
	f.String("server.base_url", "", "base URL for API endpoints")
	f.Bool("metrics.enabled", false, "serve prometheus metrics")
	f.String("metrics.addr", "", "prometheus listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := rest.NewServer(ctx, cfg, logger)
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", cfg.Server.ListenAddr),
			zap.String("base_url", cfg.Server.BaseURL),
			zap.Int("routes", len(server.Routes())),
		)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-errChan:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server gracefully stopped")
	return nil
}
