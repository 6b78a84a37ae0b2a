package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"flyingcarpet/internal/config"
)

const version = "8.0.0"

var (
	cfgFile  string
	logLevel string

	cfg *config.Config
	log *logrus.Entry
)

var rootCmd = &cobra.Command{
	Use:   "flyingcarpet",
	Short: "Flying Carpet - cross-platform file transfer over ad hoc WiFi",
	Long: `Flying Carpet sends files between two nearby devices without a shared
network. One end hosts a WiFi hotspot, the other joins it, and the files
travel encrypted with a key derived from a shared password.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgFile != "" {
			cfg, err = config.LoadFile(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
		} else {
			cfg = config.Default()
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
			if err := cfg.FixupAndValidate(); err != nil {
				return err
			}
		}
		log, err = newLogger(cfg.Logging)
		return err
	},
}

func newLogger(lCfg *config.Logging) (*logrus.Entry, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(lCfg.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var out io.Writer = os.Stderr
	if lCfg.File != "" {
		f, err := os.OpenFile(lCfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	}
	logger.SetOutput(out)
	return logrus.NewEntry(logger).WithField("app", "flyingcarpet"), nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// RootCmd returns the root command for tests.
func RootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default \"info\")")
}
