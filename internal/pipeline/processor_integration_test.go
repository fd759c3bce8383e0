package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/decentgram/mediaflow/internal/domain"
	"github.com/decentgram/mediaflow/internal/editor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProcessor_FileInTransformFileOut(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	outputDir := filepath.Join(tmp, "out")

	srcBytes := buildTestPNG(t, 240, 120)
	require.NoError(t, os.WriteFile(inputPath, srcBytes, 0o644))

	processor, err := NewLocalProcessor(outputDir, editor.Options{})
	require.NoError(t, err)

	req := Request{
		JobID:      "job-local-1",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  inputPath,
		Pipeline: []domain.PipelineStep{
			{
				ID:       "feed",
				Action:   domain.ActionEdit,
				Crop:     &domain.Crop{X: 20, Y: 10, Width: 100, Height: 80},
				Rotation: 90,
				Filters:  &domain.Filters{Brightness: 100, Contrast: 100, Saturation: 100, Grayscale: 100},
			},
			{
				ID:     "original",
				Action: domain.ActionSanitize,
			},
		},
	}

	result, err := processor.Process(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, len(srcBytes), result.SourceBytes)
	require.Len(t, result.Outputs, 2)

	edited := result.Outputs[0]
	assert.Equal(t, "jpeg", edited.Format)
	assert.Equal(t, "image/jpeg", edited.ContentType)
	assert.Equal(t, filepath.Join(outputDir, "job-local-1", "feed.jpeg"), edited.Path)
	verifyImageSize(t, edited.Path, 100, 80)

	sanitized := result.Outputs[1]
	assert.Equal(t, "png", sanitized.Format)
	verifyImageSize(t, sanitized.Path, 240, 120)

	assert.Equal(t, int64(100*80+240*120), result.PixelsProcessed())
}

func TestLocalProcessor_VideoPassThrough(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "clip.mp4")
	clip := []byte("\x00\x00\x00\x18ftypmp42 opaque video bytes")
	require.NoError(t, os.WriteFile(inputPath, clip, 0o644))

	processor, err := NewLocalProcessor(filepath.Join(tmp, "out"), editor.Options{})
	require.NoError(t, err)

	result, err := processor.Process(context.Background(), Request{
		JobID:       "job-video",
		SourceType:  SourceTypeLocalFile,
		ObjectKey:   inputPath,
		MediaKind:   domain.MediaKindVideo,
		FileName:    "clip.MP4",
		ContentType: "video/mp4",
		Pipeline:    []domain.PipelineStep{{ID: "clean", Action: domain.ActionSanitize}},
	})
	require.NoError(t, err)
	require.Len(t, result.Outputs, 1)

	out := result.Outputs[0]
	assert.Equal(t, "video/mp4", out.ContentType)
	assert.Equal(t, "clean.MP4", filepath.Base(out.Path))

	written, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	assert.Equal(t, clip, written)
}

func TestLocalProcessor_RejectsEditOnVideo(t *testing.T) {
	processor, err := NewLocalProcessor(t.TempDir(), editor.Options{})
	require.NoError(t, err)
	processor.fetcher = staticFetcher{data: []byte("video")}

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-video-edit",
		SourceType: SourceTypeLocalFile,
		MediaKind:  domain.MediaKindVideo,
		Pipeline: []domain.PipelineStep{
			{ID: "feed", Action: domain.ActionEdit, Crop: &domain.Crop{Width: 10, Height: 10}},
		},
	})
	assert.True(t, errors.Is(err, ErrInvalidStepAction), "got %v", err)
}

func TestLocalProcessor_UnsupportedSourceType(t *testing.T) {
	processor, err := NewLocalProcessor(t.TempDir(), editor.Options{})
	require.NoError(t, err)

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-unsupported",
		SourceType: "s3_presigned",
		ObjectKey:  "uploads/job/source",
		Pipeline:   []domain.PipelineStep{{ID: "clean", Action: domain.ActionSanitize}},
	})
	assert.True(t, errors.Is(err, ErrUnsupportedSourceType), "got %v", err)
}

func TestLocalProcessor_DecodeFailureKeepsSentinel(t *testing.T) {
	processor, err := NewLocalProcessor(t.TempDir(), editor.Options{})
	require.NoError(t, err)
	processor.fetcher = staticFetcher{data: []byte("not an image")}

	_, err = processor.Process(context.Background(), Request{
		JobID:    "job-garbage",
		Pipeline: []domain.PipelineStep{{ID: "clean", Action: domain.ActionSanitize}},
	})
	assert.True(t, errors.Is(err, editor.ErrDecode), "got %v", err)
}

func TestLocalProcessor_StopsWhenCanceled(t *testing.T) {
	processor, err := NewLocalProcessor(t.TempDir(), editor.Options{})
	require.NoError(t, err)
	processor.fetcher = staticFetcher{data: buildTestPNG(t, 20, 20)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = processor.Process(ctx, Request{
		JobID:    "job-canceled",
		Pipeline: []domain.PipelineStep{{ID: "clean", Action: domain.ActionSanitize}},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestObjectStoreProcessor_WritesAndPublishes(t *testing.T) {
	store := newMemoryObjectStore()
	store.objects["uploads/job-1/source"] = buildTestPNG(t, 64, 48)

	processor, err := NewObjectStoreProcessor(store, "", editor.Options{DefaultFormat: "png"})
	require.NoError(t, err)

	result, err := processor.Process(context.Background(), Request{
		JobID:      "job-1",
		SourceType: SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-1/source",
		CreatedAt:  time.UnixMilli(1700000000000),
		Pipeline: []domain.PipelineStep{
			{ID: "square", Action: domain.ActionEdit, Crop: &domain.Crop{X: 8, Width: 48, Height: 48}},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Outputs, 1)

	out := result.Outputs[0]
	assert.Equal(t, "outputs/job-1/square.png", out.Path)
	assert.Equal(t, "https://cdn.test/outputs/job-1/square.png", out.URL)
	assert.Equal(t, "image/png", store.contentTypes[out.Path])

	img, _, err := image.Decode(bytes.NewReader(store.objects[out.Path]))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 48, 48), img.Bounds())
}

func TestObjectStoreFetcher_RejectsLocalFiles(t *testing.T) {
	_, err := ObjectStoreFetcher{Storage: newMemoryObjectStore()}.Fetch(context.Background(), Request{SourceType: SourceTypeLocalFile})
	assert.True(t, errors.Is(err, ErrUnsupportedSourceType), "got %v", err)
}

type memoryObjectStore struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
}

func newMemoryObjectStore() *memoryObjectStore {
	return &memoryObjectStore{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

func (s *memoryObjectStore) ReadObject(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (s *memoryObjectStore) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[key] = data
	s.contentTypes[key] = contentType
	return nil
}

func (s *memoryObjectStore) PublicURL(key string) string {
	return "https://cdn.test/" + key
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func verifyImageSize(t *testing.T, path string, wantW, wantH int) {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	img, _, err := image.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, wantW, img.Bounds().Dx())
	assert.Equal(t, wantH, img.Bounds().Dy())
}
