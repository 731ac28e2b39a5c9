package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/dunamismax/avatarcrop/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNoSource         = errors.New("no source image loaded")
	ErrNoProcessedImage = errors.New("no processed image")
	ErrWrongStage       = errors.New("operation not valid in current stage")
	ErrBusy             = errors.New("an operation is already in flight")
	ErrUploadInFlight   = errors.New("upload already in flight")
	ErrSuperseded       = errors.New("session was reset while the operation was in flight")
)

type Normalizer interface {
	Normalize(ctx context.Context, src pipeline.Source, crop *domain.CropRect) (domain.ProcessedImage, error)
}

type Uploader interface {
	Upload(ctx context.Context, file domain.File) (domain.UploadResult, error)
}

type CompleteFunc func(ctx context.Context, result domain.UploadResult)

// Session sequences one image through select -> crop -> process -> upload.
//
// Normalize and upload run on the caller's goroutine without holding the
// lock, so Reset may be called at any time. Every suspended operation
// captures the generation when it starts and drops its result if a reset
// bumped it meanwhile.
type Session struct {
	mu          sync.Mutex
	state       state
	gen         uint64
	normalizing bool
	lastErr     error

	normalizer Normalizer
	uploader   Uploader
	onComplete []CompleteFunc
	logger     *log.Logger
	metrics    *metrics
	tracer     trace.Tracer
	registerer prometheus.Registerer
}

type Option func(*Session)

func WithLogger(l *log.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Session) {
		s.registerer = reg
	}
}

// WithOnComplete registers a callback run after an upload commits.
func WithOnComplete(fn CompleteFunc) Option {
	return func(s *Session) {
		if fn != nil {
			s.onComplete = append(s.onComplete, fn)
		}
	}
}

func New(normalizer Normalizer, uploader Uploader, opts ...Option) *Session {
	s := &Session{
		state:      idleState{},
		normalizer: normalizer,
		uploader:   uploader,
		logger:     log.New(io.Discard),
		tracer:     otel.Tracer("avatarcrop/session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = newMetrics(s.registerer)
	return s
}

// LoadSource replaces any held source and drops processed or uploaded
// artifacts. The session takes ownership of src and releases it later.
func (s *Session) LoadSource(src pipeline.Source) error {
	if src == nil {
		return ErrNoSource
	}

	s.mu.Lock()
	if s.busyLocked() {
		s.mu.Unlock()
		return ErrBusy
	}
	prev := heldSource(s.state)
	from := s.state.stage()
	s.state = sourceLoadedState{source: src}
	s.lastErr = nil
	s.mu.Unlock()

	s.release(prev)
	s.transitioned(from, StageSourceLoaded, "source", src.Describe())
	return nil
}

// ReportCrop records the cropper's latest rectangle. Only the value present
// at ConfirmCrop time is used.
func (s *Session) ReportCrop(rect domain.CropRect) error {
	return s.setCrop(&rect)
}

// ClearCrop forgets the reported rectangle so confirm uses the full image.
func (s *Session) ClearCrop() error {
	return s.setCrop(nil)
}

func (s *Session) setCrop(rect *domain.CropRect) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state.(sourceLoadedState)
	if !ok {
		return s.stageErrorLocked(ErrNoSource, "report crop")
	}
	if s.normalizing {
		return ErrBusy
	}
	st.crop = rect
	s.state = st
	return nil
}

// ConfirmCrop normalizes the held source with the last reported crop. On
// failure the session stays in the cropping stage and keeps the error for
// the UI.
func (s *Session) ConfirmCrop(ctx context.Context) (domain.ProcessedImage, error) {
	s.mu.Lock()
	st, ok := s.state.(sourceLoadedState)
	if !ok {
		err := s.stageErrorLocked(ErrNoSource, "confirm crop")
		s.mu.Unlock()
		return domain.ProcessedImage{}, err
	}
	if s.normalizing {
		s.mu.Unlock()
		return domain.ProcessedImage{}, ErrBusy
	}
	s.normalizing = true
	gen := s.gen
	src, crop := st.source, copyCrop(st.crop)
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "session.confirm_crop")
	defer span.End()
	if crop != nil {
		span.SetAttributes(attribute.String("crop", crop.String()))
	}

	started := time.Now()
	processed, err := s.normalizer.Normalize(ctx, src, crop)
	s.metrics.normalizeDuration.Observe(time.Since(started).Seconds())

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.metrics.discardedTotal.WithLabelValues("normalize").Inc()
		s.logger.Debug("normalize result discarded after reset", "generation", gen)
		span.SetStatus(codes.Error, "superseded")
		return domain.ProcessedImage{}, ErrSuperseded
	}
	s.normalizing = false
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		s.metrics.failuresTotal.WithLabelValues(errorKind(err)).Inc()
		s.logger.Warn("normalize failed", "source", src.Describe(), "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "normalize failed")
		return domain.ProcessedImage{}, err
	}
	s.state = processedState{source: src, crop: crop, processed: processed}
	s.lastErr = nil
	s.mu.Unlock()

	s.metrics.outputBytes.Observe(float64(processed.Size()))
	s.transitioned(StageSourceLoaded, StageProcessed, "bytes", processed.Size())
	span.SetStatus(codes.Ok, "processed")
	return processed, nil
}

// Recrop drops the processed image and returns to cropping with the same
// source and crop.
func (s *Session) Recrop() error {
	s.mu.Lock()
	st, ok := s.state.(processedState)
	if !ok {
		err := s.stageErrorLocked(ErrNoProcessedImage, "recrop")
		s.mu.Unlock()
		return err
	}
	s.state = sourceLoadedState{source: st.source, crop: st.crop}
	s.lastErr = nil
	s.mu.Unlock()

	s.transitioned(StageProcessed, StageSourceLoaded)
	return nil
}

// Upload hands the processed image to the uploader. A second call while one
// is outstanding is rejected. On failure the processed image is kept so the
// user can retry without recropping.
func (s *Session) Upload(ctx context.Context) (domain.UploadResult, error) {
	s.mu.Lock()
	var ps processedState
	switch st := s.state.(type) {
	case uploadingState:
		s.mu.Unlock()
		return domain.UploadResult{}, ErrUploadInFlight
	case processedState:
		ps = st
	default:
		err := s.stageErrorLocked(ErrNoProcessedImage, "upload")
		s.mu.Unlock()
		return domain.UploadResult{}, err
	}
	s.state = uploadingState{processedState: ps}
	gen := s.gen
	s.mu.Unlock()
	s.transitioned(StageProcessed, StageUploading)

	ctx, span := s.tracer.Start(ctx, "session.upload")
	defer span.End()
	span.SetAttributes(attribute.Int("upload.bytes", ps.processed.Size()))

	started := time.Now()
	result, err := s.uploader.Upload(ctx, ps.processed.File())
	if err == nil {
		err = result.Validate()
	}
	s.metrics.uploadDuration.Observe(time.Since(started).Seconds())

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.metrics.discardedTotal.WithLabelValues("upload").Inc()
		s.logger.Debug("upload result discarded after reset", "generation", gen)
		span.SetStatus(codes.Error, "superseded")
		return domain.UploadResult{}, ErrSuperseded
	}
	if err != nil {
		if !errors.Is(err, domain.ErrUpload) {
			err = fmt.Errorf("%w: %w", domain.ErrUpload, err)
		}
		s.state = ps
		s.lastErr = err
		s.mu.Unlock()
		s.metrics.failuresTotal.WithLabelValues(errorKind(err)).Inc()
		s.transitioned(StageUploading, StageProcessed, "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return domain.UploadResult{}, err
	}
	s.state = completeState{result: result}
	s.lastErr = nil
	hooks := append([]CompleteFunc(nil), s.onComplete...)
	s.mu.Unlock()

	s.release(ps.source)
	s.transitioned(StageUploading, StageComplete, "url", result.URL)
	span.SetStatus(codes.Ok, "uploaded")

	// The session has already committed; hooks must not die with the caller.
	hookCtx := context.WithoutCancel(ctx)
	for _, fn := range hooks {
		fn(hookCtx, result)
	}
	return result, nil
}

// Reset returns to idle from any stage, releasing held handles. Results of
// operations still in flight are discarded when they arrive.
func (s *Session) Reset() {
	s.mu.Lock()
	prev := heldSource(s.state)
	from := s.state.stage()
	s.state = idleState{}
	s.gen++
	s.normalizing = false
	s.lastErr = nil
	s.mu.Unlock()

	s.release(prev)
	s.transitioned(from, StageIdle)
}

func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.stage()
}

// Processed returns the processed image while one is held.
func (s *Session) Processed() (domain.ProcessedImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.state.(type) {
	case processedState:
		return st.processed, true
	case uploadingState:
		return st.processed, true
	default:
		return domain.ProcessedImage{}, false
	}
}

// Source returns the held source, if any.
func (s *Session) Source() (pipeline.Source, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := heldSource(s.state)
	return src, src != nil
}

func (s *Session) Result() (domain.UploadResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.state.(completeState); ok {
		return st.result, true
	}
	return domain.UploadResult{}, false
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Stage:      s.state.stage(),
		Busy:       s.busyLocked(),
		Generation: s.gen,
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}

	switch st := s.state.(type) {
	case sourceLoadedState:
		snap.Cropping = true
		snap.Source = st.source.Describe()
		snap.Crop = copyCrop(st.crop)
	case processedState:
		snap.Source = st.source.Describe()
		snap.Crop = copyCrop(st.crop)
		snap.Processed = processedInfo(st.processed)
	case uploadingState:
		snap.Source = st.source.Describe()
		snap.Crop = copyCrop(st.crop)
		snap.Processed = processedInfo(st.processed)
	case completeState:
		snap.URL = st.result.URL
	}
	return snap
}

func (s *Session) busyLocked() bool {
	if s.normalizing {
		return true
	}
	_, uploading := s.state.(uploadingState)
	return uploading
}

func (s *Session) stageErrorLocked(idleErr error, op string) error {
	stage := s.state.stage()
	if stage == StageIdle {
		return idleErr
	}
	return fmt.Errorf("%w: %s in %s", ErrWrongStage, op, stage)
}

func (s *Session) release(src pipeline.Source) {
	if src == nil {
		return
	}
	if err := pipeline.ReleaseSource(src); err != nil {
		s.logger.Warn("release source failed", "source", src.Describe(), "err", err)
	}
}

func (s *Session) transitioned(from, to Stage, keyvals ...any) {
	s.metrics.transitionsTotal.WithLabelValues(to.String()).Inc()
	s.logger.Info("session "+from.String()+" -> "+to.String(), keyvals...)
}
