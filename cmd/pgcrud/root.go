package pgcrud

import (
	"fmt"
	"os"

	"github.com/edgeflare/pgcrud/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	// Register built-in event sinks
	_ "github.com/edgeflare/pgcrud/pkg/events/sink/debug"
	_ "github.com/edgeflare/pgcrud/pkg/events/sink/kafka"
	_ "github.com/edgeflare/pgcrud/pkg/events/sink/mqtt"
	_ "github.com/edgeflare/pgcrud/pkg/events/sink/nats"
	_ "github.com/edgeflare/pgcrud/pkg/events/sink/webhook"
)

var cfgFile string
var logLevel string
var rootCmd = &cobra.Command{
	Use:   "pgcrud",
	Short: "pgcrud serves PostgreSQL tables as CRUD endpoints",
	Long:  `pgcrud generates find, upsert, update, patch and delete operations for configured tables and serves them over HTTP`,
	Run: func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Println(config.Version)
			return
		}

		// If no subcommand is provided, print help
		cmd.Help()
	},
}

func Main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pgcrud.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "info", "log at this level (debug, info, warn, error, none)")
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Print the version number")

	rootCmd.AddCommand(serveCmd, routesCmd, openapiCmd)
}

// loadConfig reads the config file, PGCRUD_* environment variables and the
// command's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "none" {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
