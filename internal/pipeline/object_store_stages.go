package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/decentgram/mediaflow/internal/domain"
	"github.com/decentgram/mediaflow/internal/editor"
	"github.com/decentgram/mediaflow/internal/storage"
)

const SourceTypeS3Presigned = domain.SourceTypeS3Presigned

// ObjectStore is the subset of the storage client the object-store stages use.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	PublicURL(objectKey string) string
}

var _ ObjectStore = (*storage.Client)(nil)

func NewObjectStoreProcessor(store ObjectStore, outputPrefix string, opts editor.Options) (*Processor, error) {
	transformer, err := NewEditorTransformer(opts)
	if err != nil {
		return nil, fmt.Errorf("build transformer: %w", err)
	}

	return NewProcessor(
		ObjectStoreFetcher{Storage: store},
		transformer,
		ObjectStoreEmitter{Storage: store, OutputPrefix: outputPrefix},
	), nil
}

type ObjectStoreFetcher struct {
	Storage ObjectStore
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, step domain.PipelineStep, r Rendition) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(step.ID) == "" {
		return Output{}, errors.New("pipeline step id is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.JobID),
		fmt.Sprintf("%s.%s", sanitizePathToken(step.ID), outputExtension(req, r)),
	)

	if err := e.Storage.WriteObject(ctx, objectKey, r.Data, r.ContentType); err != nil {
		return Output{}, err
	}

	out := newOutput(step, r, objectKey)
	out.URL = e.Storage.PublicURL(objectKey)
	return out, nil
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
