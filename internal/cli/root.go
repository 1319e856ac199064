// Package cli provides the docchat commands.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"docchat/internal/config"
	"docchat/internal/logging"
)

// Version is set at build time.
var Version = "0.1.0"

type rootOptions struct {
	configPath string
	logLevel   string
	pretty     bool

	cfg *config.Config
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "docchat",
		Short: "Ask questions about a document through a hosted assistant",
		Long: `docchat uploads one document to an OpenAI assistant with file search and
answers questions about it, either over HTTP ('docchat serve') or in the
terminal ('docchat ask').`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("DOCCHAT_CONFIG"), "Path to config file (json or yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "Human readable logs")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newAskCmd(opts))
	cmd.AddCommand(newSweepCmd(opts))
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func (o *rootOptions) load() error {
	// Load .env file if present
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level := cfg.Log.Level
	if o.logLevel != "" {
		level = o.logLevel
	}
	logOpts := logging.DefaultOptions()
	logOpts.Level = logging.ParseLevel(level)
	logOpts.Pretty = o.pretty || cfg.Log.Pretty
	logging.Setup(logOpts)

	o.cfg = cfg
	return nil
}
