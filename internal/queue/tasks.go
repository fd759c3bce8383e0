package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/decentgram/mediaflow/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeProcessMedia = "media:process"

type ProcessMediaPayload struct {
	JobID       string                `json:"job_id"`
	UserID      string                `json:"user_id,omitempty"`
	SourceType  string                `json:"source_type"`
	MediaKind   domain.MediaKind      `json:"media_kind"`
	FileName    string                `json:"file_name,omitempty"`
	ContentType string                `json:"content_type,omitempty"`
	WebhookURL  string                `json:"webhook_url,omitempty"`
	ObjectKey   string                `json:"object_key"`
	Pipeline    []domain.PipelineStep `json:"pipeline"`
	RequestedAt time.Time             `json:"requested_at"`
}

// NewProcessMediaPayload copies the fields the worker needs from job.
func NewProcessMediaPayload(job domain.Job, requestedAt time.Time) ProcessMediaPayload {
	return ProcessMediaPayload{
		JobID:       job.ID,
		UserID:      job.UserID,
		SourceType:  job.SourceType,
		MediaKind:   job.MediaKind,
		FileName:    job.FileName,
		ContentType: job.ContentType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		Pipeline:    job.Pipeline,
		RequestedAt: requestedAt,
	}
}

func NewProcessMediaTask(payload ProcessMediaPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessMedia, body), nil
}

func ParseProcessMediaPayload(task *asynq.Task) (ProcessMediaPayload, error) {
	var payload ProcessMediaPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessMediaPayload{}, fmt.Errorf("unmarshal process payload: %w", err)
	}
	if payload.MediaKind == "" {
		payload.MediaKind = domain.MediaKindImage
	}
	return payload, nil
}
