package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/decentgram/mediaflow/internal/domain"
	"github.com/decentgram/mediaflow/internal/editor"
)

// Rendition is what a Transformer produced for one step.
type Rendition struct {
	Data        []byte
	Format      string
	ContentType string
	Width       int
	Height      int
}

type Transformer interface {
	Transform(ctx context.Context, req Request, input []byte, step domain.PipelineStep) (Rendition, error)
}

// EditorTransformer maps pipeline actions onto the image editor.
type EditorTransformer struct {
	Editor *editor.Editor
}

func NewEditorTransformer(opts editor.Options) (*EditorTransformer, error) {
	ed, err := editor.New(opts)
	if err != nil {
		return nil, err
	}
	return &EditorTransformer{Editor: ed}, nil
}

func (t *EditorTransformer) Transform(ctx context.Context, req Request, input []byte, step domain.PipelineStep) (Rendition, error) {
	var (
		res editor.Result
		err error
	)

	switch strings.ToLower(strings.TrimSpace(step.Action)) {
	case domain.ActionEdit:
		if req.MediaKind == domain.MediaKindVideo {
			return Rendition{}, fmt.Errorf("%w: edit is not supported for video", ErrInvalidStepAction)
		}
		if step.Crop == nil {
			return Rendition{}, fmt.Errorf("%w: edit requires crop", ErrInvalidStepAction)
		}
		res, err = t.Editor.Transform(ctx, input, step.Edit())
	case domain.ActionSanitize:
		res, err = t.Editor.Sanitize(ctx, input, req.MediaKind, req.ContentType)
	default:
		return Rendition{}, fmt.Errorf("%w: %s", ErrInvalidStepAction, step.Action)
	}
	if err != nil {
		return Rendition{}, err
	}

	return Rendition{
		Data:        res.Data,
		Format:      string(res.Format),
		ContentType: res.ContentType,
		Width:       res.Width,
		Height:      res.Height,
	}, nil
}

// outputExtension picks the file extension for an emitted rendition. Pass-through
// media has no format and keeps the extension of its upload name.
func outputExtension(req Request, r Rendition) string {
	if f, err := editor.ParseFormat(r.Format); err == nil {
		return f.Extension()
	}
	name := editor.MediaFileName(req.Now(), req.FileName)
	return sanitizePathToken(name[strings.LastIndexByte(name, '.')+1:])
}
