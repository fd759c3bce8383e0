// Command mediactl runs the media editor against local files. It applies the
// same crop, rotation, filter and sanitize semantics as the worker without
// Redis, MinIO or Postgres.
package main

import (
	"context"
	"os"

	"github.com/decentgram/mediaflow/internal/editor"
	"github.com/decentgram/mediaflow/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	logLevel     string
	outputFormat string
	maxDimension int
	maxPixels    int64

	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:           "mediactl",
	Short:         "Edit and sanitize media files locally",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logging.New(logging.Config{Level: logLevel}, "mediactl")
		return editor.Startup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		editor.Shutdown()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "", "Output format for edits (jpeg, png, webp); defaults to jpeg")
	rootCmd.PersistentFlags().IntVar(&maxDimension, "max-dimension", 0, "Largest accepted width or height (0 for the built-in limit)")
	rootCmd.PersistentFlags().Int64Var(&maxPixels, "max-pixels", 0, "Largest accepted pixel count (0 for the built-in limit)")

	rootCmd.AddCommand(editCmd, sanitizeCmd, runCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		failLogger := logging.New(logging.Config{Level: logLevel}, "mediactl")
		failLogger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func editorOptions() editor.Options {
	return editor.Options{
		DefaultFormat: outputFormat,
		Limits: editor.Limits{
			MaxDimension: maxDimension,
			MaxPixels:    maxPixels,
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
