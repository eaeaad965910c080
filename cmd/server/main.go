package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/roomwire/internal/app"
	"github.com/vovakirdan/roomwire/internal/config"
	"github.com/vovakirdan/roomwire/internal/log"
	"github.com/vovakirdan/roomwire/internal/store/sqlite"
)

var (
	configPath string
	overrides  config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "roomwire",
	Short:         "Runs the roomwire chat server",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		application, err := app.New(&cfg, logger)
		if err != nil {
			return fmt.Errorf("init app: %w", err)
		}

		logger.Info().Str("addr", cfg.Addr).Msg("starting roomwire server")
		if err := application.Run(ctx); err != nil {
			return fmt.Errorf("server exited with error: %w", err)
		}
		logger.Info().Msg("server stopped")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Applies the database schema and exits",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Str("db_path", cfg.DatabasePath).Msg("schema applied")
		return st.Close()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	flags.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&overrides.DatabasePath, "db", "", "SQLite database path")
	flags.StringVar(&overrides.RedisAddr, "redis-addr", "", "Redis address for the unread cache")
	flags.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")

	rootCmd.AddCommand(migrateCmd)
}

// loadConfig resolves defaults < file < env < flags and builds the logger.
func loadConfig() (config.Config, *zerolog.Logger, error) {
	bootstrap := log.New("info", "console")

	cfg, path, err := config.Load(bootstrap, configPath)
	if err != nil {
		return cfg, nil, err
	}
	cfg.UpdateFrom(overrides)
	if err := config.Validate(cfg); err != nil {
		return cfg, nil, err
	}

	logger := log.New(cfg.LogLevel, cfg.LogFormat)
	logger.Debug().Str("config_path", path).Msg("configuration loaded")
	return cfg, logger, nil
}
