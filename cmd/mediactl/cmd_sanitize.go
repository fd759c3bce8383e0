package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/decentgram/mediaflow/internal/domain"
	"github.com/decentgram/mediaflow/internal/editor"
	"github.com/spf13/cobra"
)

var (
	sanitizeVideo       bool
	sanitizeContentType string
	now                 = time.Now
)

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize <input> <output-dir>",
	Short: "Strip metadata from an image by re-encoding it",
	Long: `Re-encodes an image at its natural size, dropping EXIF and other
metadata. The result is written to the output directory under a
millisecond timestamp name. With --video the file is copied unchanged.`,
	Args: cobra.ExactArgs(2),
	RunE: runSanitize,
}

func init() {
	sanitizeCmd.Flags().BoolVar(&sanitizeVideo, "video", false, "Treat the input as video and pass it through")
	sanitizeCmd.Flags().StringVar(&sanitizeContentType, "content-type", "", "Content type recorded for video input")
}

func runSanitize(cmd *cobra.Command, args []string) error {
	source, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	kind := domain.MediaKindImage
	if sanitizeVideo {
		kind = domain.MediaKindVideo
	}

	ed, err := editor.New(editorOptions())
	if err != nil {
		return err
	}
	result, err := ed.Sanitize(commandContext(cmd), source, kind, sanitizeContentType)
	if err != nil {
		return err
	}

	name := sanitizedName(now(), args[0], result.Format)
	if err := os.MkdirAll(args[1], 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(args[1], name)
	if err := os.WriteFile(path, result.Data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	logger.Info().
		Str("output", path).
		Str("content_type", result.ContentType).
		Int("bytes", len(result.Data)).
		Msg("sanitized")
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

// sanitizedName keeps the timestamp naming of uploads but swaps the
// extension when the image was re-encoded into another format.
func sanitizedName(t time.Time, input string, format editor.Format) string {
	name := editor.MediaFileName(t, filepath.Base(input))
	if format == "" {
		return name
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + "." + format.Extension()
}
