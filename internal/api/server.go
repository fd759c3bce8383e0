package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/decentgram/mediaflow/internal/domain"
	"github.com/decentgram/mediaflow/internal/editor"
	"github.com/decentgram/mediaflow/internal/id"
	"github.com/decentgram/mediaflow/internal/queue"
	"github.com/decentgram/mediaflow/internal/store"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPresignTTL     = 15 * time.Minute
	defaultMaxUploadBytes = 32 << 20
	multipartMemory       = 8 << 20
)

type Options struct {
	Logger      zerolog.Logger
	Queue       queueEnqueuer
	JobStore    store.JobStore
	Storage     objectStorage
	Editor      imageEditor
	RateLimiter RateLimiter
	Tracer      trace.Tracer

	// UserIDHeader carries the caller identity set by the auth proxy. It keys
	// rate limiting and is stored as the job owner.
	UserIDHeader   string
	EditCost       int
	PresignTTL     time.Duration
	MaxUploadBytes int64
}

type Server struct {
	logger         zerolog.Logger
	queueClient    queueEnqueuer
	jobStore       store.JobStore
	storage        objectStorage
	editor         imageEditor
	rateLimiter    RateLimiter
	tracer         trace.Tracer
	metrics        *metrics
	userIDHeader   string
	editCost       int
	presignTTL     time.Duration
	maxUploadBytes int64
	mux            *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueProcessMedia(ctx context.Context, payload queue.ProcessMediaPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type imageEditor interface {
	Transform(ctx context.Context, source []byte, edit domain.Edit) (editor.Result, error)
}

func NewServer(opts Options) *Server {
	s := &Server{
		logger:         opts.Logger,
		queueClient:    opts.Queue,
		jobStore:       opts.JobStore,
		storage:        opts.Storage,
		editor:         opts.Editor,
		rateLimiter:    opts.RateLimiter,
		tracer:         opts.Tracer,
		metrics:        newMetrics(),
		userIDHeader:   opts.UserIDHeader,
		editCost:       max(1, opts.EditCost),
		presignTTL:     opts.PresignTTL,
		maxUploadBytes: opts.MaxUploadBytes,
		mux:            http.NewServeMux(),
	}
	if s.presignTTL <= 0 {
		s.presignTTL = defaultPresignTTL
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = defaultMaxUploadBytes
	}
	if s.storage == nil {
		s.storage = unavailableObjectStorage{}
	}
	if strings.TrimSpace(s.userIDHeader) == "" {
		s.userIDHeader = "X-User-ID"
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

// Handler wraps the routes in tracing, metrics and rate limiting, outermost
// first.
func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.metricsHandler()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("POST /v1/edits", s.handleEdit)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, _ := domain.ParseMediaKind(req.MediaKind)

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	fileName := editor.MediaFileName(now, req.FileName)
	if sourceType == domain.SourceTypeLocalFile {
		fileName = editor.MediaFileName(now, objectKey)
	}
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = path.Join("uploads", jobID, fileName)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("generate presigned url failed")
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	job := domain.Job{
		ID:          jobID,
		UserID:      strings.TrimSpace(r.Header.Get(s.userIDHeader)),
		Status:      domain.JobStatusCreated,
		SourceType:  sourceType,
		MediaKind:   kind,
		FileName:    fileName,
		ContentType: strings.TrimSpace(req.ContentType),
		WebhookURL:  req.WebhookURL,
		Pipeline:    req.Pipeline,
		ObjectKey:   objectKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("create job failed")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    job.ID,
		"status":    job.Status,
		"file_name": job.FileName,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":      job.ID,
		"status":      job.Status,
		"source_type": job.SourceType,
		"media_kind":  job.MediaKind,
		"file_name":   job.FileName,
		"object_key":  job.ObjectKey,
		"pipeline":    job.Pipeline,
		"created_at":  job.CreatedAt,
		"updated_at":  job.UpdatedAt,
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	taskInfo, err := s.queueClient.EnqueueProcessMedia(r.Context(), queue.NewProcessMediaPayload(job, time.Now().UTC()))
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("update status failed")
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("fetch job failed")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	return job, true
}

// handleEdit runs one transform synchronously and streams the encoded image
// back. The form carries the source in the "image" part and the edit as JSON
// in the "edit" part.
func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	if s.editor == nil {
		writeError(w, http.StatusServiceUnavailable, "image editor is unavailable")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	source, err := readFormFile(r, "image")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	edit, err := readEdit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := edit.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.editor.Transform(r.Context(), source, edit)
	if err != nil {
		status := editStatus(err)
		s.metrics.editsTotal.WithLabelValues(formatLabel(edit.Format), strconv.Itoa(status)).Inc()
		if status >= http.StatusInternalServerError {
			s.logger.Error().Err(err).Msg("edit failed")
		}
		writeError(w, status, err.Error())
		return
	}
	s.metrics.editsTotal.WithLabelValues(string(res.Format), strconv.Itoa(http.StatusOK)).Inc()

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Header().Set("X-Image-Width", strconv.Itoa(res.Width))
	w.Header().Set("X-Image-Height", strconv.Itoa(res.Height))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

func editStatus(err error) int {
	switch {
	case errors.Is(err, editor.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, editor.ErrDecode):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func readFormFile(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("form part %q is required", field)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read form part %q: %w", field, err)
	}
	return data, nil
}

// readEdit accepts the edit either as a plain form value or as a file part.
func readEdit(r *http.Request) (domain.Edit, error) {
	raw := []byte(r.FormValue("edit"))
	if len(raw) == 0 {
		data, err := readFormFile(r, "edit")
		if err != nil {
			return domain.Edit{}, err
		}
		raw = data
	}

	var edit domain.Edit
	if err := json.Unmarshal(raw, &edit); err != nil {
		return domain.Edit{}, fmt.Errorf("invalid edit JSON: %w", err)
	}
	return edit, nil
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
