package pgcrud

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/edgeflare/pgcrud/pkg/rest"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the routes the server would mount",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServer(cmd, func(s *rest.Server) error {
			for _, r := range s.Routes() {
				fmt.Printf("%-7s %-40s %s\n", r.Method, r.Path, r.Kind)
			}
			return nil
		})
	},
}

var openapiCmd = &cobra.Command{
	Use:   "openapi",
	Short: "Print the OpenAPI document of the configured resources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServer(cmd, func(s *rest.Server) error {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(s.OpenAPI().GenerateSpecification())
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{routesCmd, openapiCmd} {
		cmd.Flags().StringP("postgres.conn_string", "c", "", "PostgreSQL connection string")
		cmd.Flags().String("server.base_url", "", "base URL for API endpoints")
	}
}

// withServer builds the server without listening, runs fn and shuts down.
func withServer(cmd *cobra.Command, fn func(*rest.Server) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// keep stdout clean for the printed document
	logger, err := newLogger("none")
	if logLevel == "debug" {
		logger, err = newLogger(logLevel)
	}
	if err != nil {
		return err
	}
	cfg.Metrics.Enabled = false

	ctx := context.Background()
	server, err := rest.NewServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()
	return fn(server)
}
