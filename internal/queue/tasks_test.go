package queue

import (
	"testing"
	"time"

	"github.com/decentgram/mediaflow/internal/domain"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessMediaTaskCarriesJob(t *testing.T) {
	job := domain.Job{
		ID:          "job-123",
		UserID:      "user-9",
		SourceType:  domain.SourceTypeS3Presigned,
		MediaKind:   domain.MediaKindVideo,
		FileName:    "1700000000000.mp4",
		ContentType: "video/mp4",
		ObjectKey:   "uploads/job-123/source",
		Pipeline:    []domain.PipelineStep{{ID: "clean", Action: domain.ActionSanitize}},
	}
	requestedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	task, err := NewProcessMediaTask(NewProcessMediaPayload(job, requestedAt))
	require.NoError(t, err)
	assert.Equal(t, TypeProcessMedia, task.Type())

	parsed, err := ParseProcessMediaPayload(task)
	require.NoError(t, err)
	assert.Equal(t, job.ID, parsed.JobID)
	assert.Equal(t, job.UserID, parsed.UserID)
	assert.Equal(t, domain.MediaKindVideo, parsed.MediaKind)
	assert.Equal(t, job.Pipeline, parsed.Pipeline)
	assert.True(t, requestedAt.Equal(parsed.RequestedAt))
}

func TestParseProcessMediaPayload(t *testing.T) {
	legacy := asynq.NewTask(TypeProcessMedia, []byte(`{"job_id":"j","source_type":"s3_presigned","object_key":"k","pipeline":[]}`))
	parsed, err := ParseProcessMediaPayload(legacy)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaKindImage, parsed.MediaKind)

	_, err = ParseProcessMediaPayload(asynq.NewTask(TypeProcessMedia, []byte("{")))
	assert.Error(t, err)
}
