package main

import (
	"fmt"

	"github.com/jensneuse/abstractlogger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "federation-gateway",
	Short:        "federation-gateway composes remote GraphQL services into one federated graph",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./gateway.yaml", "config is the gateway configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log-level overrides log_level of the configuration file")
}

func newLogger(level string) (abstractlogger.Logger, func(), error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = atomicLevel
	logger, err := zapConfig.Build()
	if err != nil {
		return nil, nil, err
	}

	return abstractlogger.NewZapLogger(logger, abstractLevel(level)), func() { _ = logger.Sync() }, nil
}

func abstractLevel(level string) abstractlogger.Level {
	switch level {
	case "debug":
		return abstractlogger.DebugLevel
	case "warn":
		return abstractlogger.WarnLevel
	case "error":
		return abstractlogger.ErrorLevel
	default:
		return abstractlogger.InfoLevel
	}
}
