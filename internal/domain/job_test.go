package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateJobRequestValidate(t *testing.T) {
	crop := &Crop{Width: 400, Height: 300}

	tests := []struct {
		name    string
		req     CreateJobRequest
		wantErr bool
	}{
		{
			name: "valid presigned edit",
			req: CreateJobRequest{
				SourceType: SourceTypeS3Presigned,
				Pipeline:   []PipelineStep{{ID: "feed", Action: ActionEdit, Crop: crop}},
			},
		},
		{
			name: "valid video sanitize",
			req: CreateJobRequest{
				SourceType: SourceTypeS3Presigned,
				MediaKind:  "video",
				Pipeline:   []PipelineStep{{ID: "clean", Action: ActionSanitize}},
			},
		},
		{
			name:    "empty request",
			req:     CreateJobRequest{},
			wantErr: true,
		},
		{
			name: "local file without object key",
			req: CreateJobRequest{
				SourceType: SourceTypeLocalFile,
				Pipeline:   []PipelineStep{{ID: "clean", Action: ActionSanitize}},
			},
			wantErr: true,
		},
		{
			name: "unsupported source type",
			req: CreateJobRequest{
				SourceType: "http_url",
				Pipeline:   []PipelineStep{{ID: "clean", Action: ActionSanitize}},
			},
			wantErr: true,
		},
		{
			name: "edit without crop",
			req: CreateJobRequest{
				SourceType: SourceTypeS3Presigned,
				Pipeline:   []PipelineStep{{ID: "feed", Action: ActionEdit}},
			},
			wantErr: true,
		},
		{
			name: "edit on video",
			req: CreateJobRequest{
				SourceType: SourceTypeS3Presigned,
				MediaKind:  "video",
				Pipeline:   []PipelineStep{{ID: "feed", Action: ActionEdit, Crop: crop}},
			},
			wantErr: true,
		},
		{
			name: "unknown media kind",
			req: CreateJobRequest{
				SourceType: SourceTypeS3Presigned,
				MediaKind:  "audio",
				Pipeline:   []PipelineStep{{ID: "clean", Action: ActionSanitize}},
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFiltersValidate(t *testing.T) {
	require.NoError(t, IdentityFilters().Validate())

	bright := IdentityFilters()
	bright.Brightness = 201
	assert.True(t, errors.Is(bright.Validate(), ErrInvalidEdit))

	sepia := IdentityFilters()
	sepia.Sepia = -1
	assert.True(t, errors.Is(sepia.Validate(), ErrInvalidEdit))
}

func TestEditUnmarshalDefaultsFilters(t *testing.T) {
	var edit Edit
	require.NoError(t, json.Unmarshal([]byte(`{"crop":{"x":0,"y":0,"width":10,"height":20},"rotation":45,"filters":{"sepia":40}}`), &edit))

	assert.Equal(t, Crop{Width: 10, Height: 20}, edit.Crop)
	assert.Equal(t, 45.0, edit.Rotation)
	assert.Equal(t, Filters{Brightness: 100, Contrast: 100, Saturation: 100, Sepia: 40}, edit.Filters)

	var bare Edit
	require.NoError(t, json.Unmarshal([]byte(`{"crop":{"width":1,"height":1}}`), &bare))
	assert.Equal(t, IdentityFilters(), bare.Filters)
}

func TestPipelineStepEditUsesIdentityFilters(t *testing.T) {
	step := PipelineStep{ID: "feed", Action: ActionEdit, Crop: &Crop{Width: 5, Height: 5}, Rotation: 90}
	edit := step.Edit()

	assert.Equal(t, IdentityFilters(), edit.Filters)
	assert.Equal(t, 90.0, edit.Rotation)
	assert.NoError(t, step.Validate())
}

func TestRotatedQuadrantCropValidates(t *testing.T) {
	// Top-left quadrant of an 800x600 source turned upright by 90 degrees.
	edit := NewEdit(Crop{Width: 300, Height: 400})
	edit.Rotation = 90
	assert.NoError(t, edit.Validate())

	step := PipelineStep{ID: "upright", Action: ActionEdit, Crop: &Crop{Y: 400, Width: 300, Height: 400}, Rotation: 90}
	assert.NoError(t, step.Validate())
}
