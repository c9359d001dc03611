package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goextract"
)

// app is the state shared by all subcommands once flags are parsed.
type app struct {
	configPath string
	logFormat  string
	logLevel   string

	cfg goextract.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "goextract",
		Short:         "Extract text and metadata from office documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "text", "log format: text or json")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(newExtractCmd(a), newServeCmd(a), newFormatsCmd(a))
	return root
}

// init loads configuration and installs the logger.
func (a *app) init(logOut io.Writer) error {
	logger, err := newLogger(logOut, a.logFormat, a.logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a.cfg = goextract.DefaultConfig()
	if a.configPath != "" {
		if a.cfg, err = goextract.LoadConfig(a.configPath); err != nil {
			return err
		}
	}
	if err := applyEnv(&a.cfg, os.Getenv); err != nil {
		return err
	}
	a.cfg.Logger = logger
	return a.cfg.Validate()
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: log level %q", goextract.ErrInvalidConfig, level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("%w: log format %q", goextract.ErrInvalidConfig, format)
}

func newFormatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List supported formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := goextract.New(a.cfg)
			if err != nil {
				return err
			}
			defer e.Close()
			for _, f := range e.Formats() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-6s %s\n", f, f.MIMEType())
			}
			return nil
		},
	}
}
