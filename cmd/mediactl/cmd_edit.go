package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/decentgram/mediaflow/internal/domain"
	"github.com/decentgram/mediaflow/internal/editor"
	"github.com/spf13/cobra"
)

var (
	editCrop       string
	editRotation   float64
	editBrightness float64
	editContrast   float64
	editSaturation float64
	editGrayscale  float64
	editSepia      float64
)

var editCmd = &cobra.Command{
	Use:   "edit <input> <output>",
	Short: "Crop, rotate and filter an image",
	Long: `Applies one edit to an image and writes the encoded result.

The crop rectangle is x,y,width,height measured from the top-left corner of
the rotated image.
Filters use percentages: brightness, contrast and saturation default to 100,
grayscale and sepia to 0.`,
	Args: cobra.ExactArgs(2),
	RunE: runEdit,
}

func init() {
	editCmd.Flags().StringVar(&editCrop, "crop", "", "Crop rectangle x,y,width,height (required)")
	editCmd.Flags().Float64Var(&editRotation, "rotate", 0, "Rotation in degrees, clockwise")
	editCmd.Flags().Float64Var(&editBrightness, "brightness", 100, "Brightness percent [0, 200]")
	editCmd.Flags().Float64Var(&editContrast, "contrast", 100, "Contrast percent [0, 200]")
	editCmd.Flags().Float64Var(&editSaturation, "saturation", 100, "Saturation percent [0, 200]")
	editCmd.Flags().Float64Var(&editGrayscale, "grayscale", 0, "Grayscale percent [0, 100]")
	editCmd.Flags().Float64Var(&editSepia, "sepia", 0, "Sepia percent [0, 100]")
	_ = editCmd.MarkFlagRequired("crop")
}

func runEdit(cmd *cobra.Command, args []string) error {
	crop, err := parseCrop(editCrop)
	if err != nil {
		return err
	}
	edit := domain.Edit{
		Crop:     crop,
		Rotation: editRotation,
		Filters: domain.Filters{
			Brightness: editBrightness,
			Contrast:   editContrast,
			Saturation: editSaturation,
			Grayscale:  editGrayscale,
			Sepia:      editSepia,
		},
		Format: outputFormat,
	}
	if err := edit.Validate(); err != nil {
		return err
	}

	source, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	ed, err := editor.New(editorOptions())
	if err != nil {
		return err
	}
	result, err := ed.Transform(commandContext(cmd), source, edit)
	if err != nil {
		return err
	}

	if err := os.WriteFile(args[1], result.Data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	logger.Info().
		Str("output", args[1]).
		Str("format", string(result.Format)).
		Int("width", result.Width).
		Int("height", result.Height).
		Int("bytes", len(result.Data)).
		Msg("edit written")
	return nil
}

// parseCrop reads "x,y,width,height".
func parseCrop(in string) (domain.Crop, error) {
	parts := strings.Split(in, ",")
	if len(parts) != 4 {
		return domain.Crop{}, fmt.Errorf("crop must be x,y,width,height, got %q", in)
	}
	var vals [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return domain.Crop{}, fmt.Errorf("crop value %q: %w", p, err)
		}
		vals[i] = v
	}
	crop := domain.Crop{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}
	return crop, crop.Validate()
}
