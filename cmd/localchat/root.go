package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/localchat/internal/config"
	"github.com/capitalize-ai/localchat/pkg/logger"
)

type rootOptions struct {
	configPath string
	logLevel   string

	cfg *config.Config
	log *logger.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "localchat",
		Short:         "Chat with local and hosted language models",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $"+config.EnvConfigFile+")")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL")

	cmd.AddCommand(
		newServeCmd(opts),
		newAskCmd(opts),
		newConversationsCmd(opts),
		newTokenCmd(opts),
	)
	return cmd
}

// load reads the configuration and builds the logger. Interactive commands
// log to stderr so stdout carries only their output.
func (o *rootOptions) load(interactive bool) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	level := cfg.LogLevel
	if interactive && o.logLevel == "" {
		level = "warn"
	}

	log, err := logger.NewWithOptions(logger.Options{
		Level:  level,
		Stderr: interactive,
		File:   cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.SetGlobal(log)

	o.cfg = cfg
	o.log = log
	return nil
}
