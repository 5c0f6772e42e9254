// Package cli implements the seedream-pipeline command tree.
package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	LogFormat string // "json" | "text"

	// LogWriter receives structured logs; stderr when nil.
	LogWriter io.Writer
}

// ValidFormats defines the allowed output and log formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "seedream-pipeline",
		Short:   "Batch player images through the Seedream editor",
		Long:    "Runs football player images through the Seedream AI photo editor, tracking every attempt so runs can resume and retry.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := common.NewValidator()
			v.Field("format", opts.Format, common.OneOf(ValidFormats...))
			v.Field("log-format", opts.LogFormat, common.OneOf(ValidFormats...))
			if err := v.Error(); err != nil {
				return WrapExitError(ExitCommandError, "invalid flags", err)
			}
			slog.SetDefault(opts.logger())
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "json", "log format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewVerifySessionCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))

	return cmd
}

func (o *RootOptions) logger() *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	w := o.LogWriter
	if w == nil {
		w = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if o.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(w, handlerOpts))
}
