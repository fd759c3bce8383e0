package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	ActionEdit     = "edit"
	ActionSanitize = "sanitize"
)

type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

func ParseMediaKind(in string) (MediaKind, error) {
	switch MediaKind(strings.ToLower(strings.TrimSpace(in))) {
	case "", MediaKindImage:
		return MediaKindImage, nil
	case MediaKindVideo:
		return MediaKindVideo, nil
	default:
		return "", fmt.Errorf("unsupported media_kind: %s", in)
	}
}

type CreateJobRequest struct {
	SourceType  string         `json:"source_type"`
	MediaKind   string         `json:"media_kind,omitempty"`
	FileName    string         `json:"file_name,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	WebhookURL  string         `json:"webhook_url,omitempty"`
	ObjectKey   string         `json:"object_key,omitempty"`
	Pipeline    []PipelineStep `json:"pipeline"`
}

// PipelineStep is one rendition produced from the job's source. Edit steps
// carry the crop, rotation and filters; sanitize steps only re-encode.
type PipelineStep struct {
	ID       string   `json:"id"`
	Action   string   `json:"action"`
	Crop     *Crop    `json:"crop,omitempty"`
	Rotation float64  `json:"rotation,omitempty"`
	Filters  *Filters `json:"filters,omitempty"`
	Format   string   `json:"format,omitempty"`
}

func (s PipelineStep) Edit() Edit {
	edit := Edit{
		Rotation: s.Rotation,
		Filters:  IdentityFilters(),
		Format:   s.Format,
	}
	if s.Crop != nil {
		edit.Crop = *s.Crop
	}
	if s.Filters != nil {
		edit.Filters = *s.Filters
	}
	return edit
}

func (s PipelineStep) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("id is required")
	}
	switch strings.ToLower(strings.TrimSpace(s.Action)) {
	case "":
		return errors.New("action is required")
	case ActionEdit:
		if s.Crop == nil {
			return errors.New("edit action requires crop")
		}
		return s.Edit().Validate()
	case ActionSanitize:
		return nil
	default:
		return fmt.Errorf("unsupported action: %s", s.Action)
	}
}

type Job struct {
	ID          string
	UserID      string
	Status      string
	SourceType  string
	MediaKind   MediaKind
	FileName    string
	ContentType string
	WebhookURL  string
	Pipeline    []PipelineStep
	ObjectKey   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	kind, err := ParseMediaKind(r.MediaKind)
	if err != nil {
		return err
	}
	if len(r.Pipeline) == 0 {
		return errors.New("pipeline must contain at least one step")
	}
	for i, step := range r.Pipeline {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("pipeline[%d]: %w", i, err)
		}
		if kind == MediaKindVideo && strings.EqualFold(step.Action, ActionEdit) {
			return fmt.Errorf("pipeline[%d]: edit action is not supported for video", i)
		}
	}
	return nil
}
