package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/decentgram/mediaflow/internal/domain"
	"github.com/decentgram/mediaflow/internal/editor"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrInvalidStepAction     = errors.New("invalid pipeline action")
)

type Request struct {
	JobID       string
	SourceType  string
	ObjectKey   string
	MediaKind   domain.MediaKind
	FileName    string
	ContentType string
	Pipeline    []domain.PipelineStep
	CreatedAt   time.Time
}

// Now is the timestamp used to name pass-through outputs.
func (r Request) Now() time.Time {
	if r.CreatedAt.IsZero() {
		return time.Now()
	}
	return r.CreatedAt
}

// Output describes one emitted rendition. Path is a file path or object key
// depending on the emitter; URL is set when the rendition is publicly served.
type Output struct {
	StepID      string `json:"step_id"`
	Action      string `json:"action"`
	Format      string `json:"format,omitempty"`
	ContentType string `json:"content_type"`
	Path        string `json:"path"`
	URL         string `json:"url,omitempty"`
	Bytes       int    `json:"bytes"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Success     bool   `json:"success"`
}

type Result struct {
	SourceBytes int
	Outputs     []Output
}

// PixelsProcessed sums the area of every emitted rendition.
func (r Result) PixelsProcessed() int64 {
	var total int64
	for _, o := range r.Outputs {
		total += int64(o.Width) * int64(o.Height)
	}
	return total
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, step domain.PipelineStep, r Rendition) (Output, error)
}

type Processor struct {
	fetcher     Fetcher
	transformer Transformer
	emitter     Emitter
}

func NewProcessor(fetcher Fetcher, transformer Transformer, emitter Emitter) *Processor {
	return &Processor{
		fetcher:     fetcher,
		transformer: transformer,
		emitter:     emitter,
	}
}

func NewLocalProcessor(outputDir string, opts editor.Options) (*Processor, error) {
	transformer, err := NewEditorTransformer(opts)
	if err != nil {
		return nil, fmt.Errorf("build transformer: %w", err)
	}

	return NewProcessor(LocalFileFetcher{}, transformer, LocalFileEmitter{OutputDir: outputDir}), nil
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Pipeline) == 0 {
		return Result{}, errors.New("pipeline must contain at least one step")
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	out := Result{
		SourceBytes: len(sourceBytes),
		Outputs:     make([]Output, 0, len(req.Pipeline)),
	}
	for _, step := range req.Pipeline {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		rendition, err := p.transformer.Transform(ctx, req, sourceBytes, step)
		if err != nil {
			return Result{}, fmt.Errorf("transform stage step=%s action=%s: %w", step.ID, step.Action, err)
		}

		written, err := p.emitter.Emit(ctx, req, step, rendition)
		if err != nil {
			return Result{}, fmt.Errorf("emit stage step=%s action=%s: %w", step.ID, step.Action, err)
		}
		out.Outputs = append(out.Outputs, written)
	}

	return out, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, step domain.PipelineStep, r Rendition) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(step.ID) == "" {
		return Output{}, errors.New("pipeline step id is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	filename := fmt.Sprintf("%s.%s", sanitizePathToken(step.ID), outputExtension(req, r))
	fullPath := filepath.Join(jobDir, filename)
	if err := os.WriteFile(fullPath, r.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return newOutput(step, r, fullPath), nil
}

func newOutput(step domain.PipelineStep, r Rendition, location string) Output {
	return Output{
		StepID:      step.ID,
		Action:      step.Action,
		Format:      r.Format,
		ContentType: r.ContentType,
		Path:        location,
		Bytes:       len(r.Data),
		Width:       r.Width,
		Height:      r.Height,
		Success:     true,
	}
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
