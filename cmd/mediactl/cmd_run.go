package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/decentgram/mediaflow/internal/domain"
	"github.com/decentgram/mediaflow/internal/id"
	"github.com/decentgram/mediaflow/internal/pipeline"
	"github.com/spf13/cobra"
)

var runOutputDir string

var runCmd = &cobra.Command{
	Use:   "run <job.json>",
	Short: "Run a job pipeline against a local file",
	Long: `Reads a job request (the same JSON accepted by POST /v1/jobs) with
source_type "local_file" and object_key pointing at the input, runs every
pipeline step and prints the outputs as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runJob,
}

func init() {
	runCmd.Flags().StringVar(&runOutputDir, "out", "./output", "Directory that receives the renditions")
}

func runJob(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read job: %w", err)
	}

	var req domain.CreateJobRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode job: %w", err)
	}
	if strings.TrimSpace(req.SourceType) == "" {
		req.SourceType = domain.SourceTypeLocalFile
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if !strings.EqualFold(req.SourceType, domain.SourceTypeLocalFile) {
		return fmt.Errorf("%w: mediactl only reads %s jobs", pipeline.ErrUnsupportedSourceType, domain.SourceTypeLocalFile)
	}
	kind, err := domain.ParseMediaKind(req.MediaKind)
	if err != nil {
		return err
	}

	processor, err := pipeline.NewLocalProcessor(runOutputDir, editorOptions())
	if err != nil {
		return err
	}

	jobID := id.New()
	start := time.Now()
	result, err := processor.Process(commandContext(cmd), pipeline.Request{
		JobID:       jobID,
		SourceType:  domain.SourceTypeLocalFile,
		ObjectKey:   req.ObjectKey,
		MediaKind:   kind,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		Pipeline:    req.Pipeline,
		CreatedAt:   now(),
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str("job_id", jobID).
		Int("outputs", len(result.Outputs)).
		Int64("pixels", result.PixelsProcessed()).
		Dur("duration", time.Since(start)).
		Msg("job finished")

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		JobID   string            `json:"job_id"`
		Outputs []pipeline.Output `json:"outputs"`
	}{JobID: jobID, Outputs: result.Outputs})
}
