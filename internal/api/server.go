package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/dunamismax/avatarcrop/internal/pipeline"
	"github.com/dunamismax/avatarcrop/internal/session"
	"github.com/dunamismax/avatarcrop/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	// UserID owns the avatar record read by GET /v1/avatar.
	UserID string
	// SpoolDir receives uploaded source files. Defaults to os.TempDir().
	SpoolDir string
	// FilesDir, when set, is served under /files/ so local uploads resolve.
	FilesDir       string
	MaxSourceBytes int64
	Cropper        domain.CropperConfig
	SuggestCrop    pipeline.CropStrategy
	Registry       *prometheus.Registry
	Tracer         trace.Tracer
	RateLimiter    RateLimiter
}

// Server drives the single upload session for a browser UI on loopback.
type Server struct {
	logger      *log.Logger
	session     *session.Session
	avatars     store.AvatarStore
	cfg         Config
	metrics     *metrics
	tracer      trace.Tracer
	rateLimiter RateLimiter
	router      chi.Router
}

func NewServer(logger *log.Logger, sess *session.Session, avatars store.AvatarStore, cfg Config) *Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if avatars == nil {
		avatars = store.NewMemoryAvatarStore()
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = 32 << 20
	}
	if cfg.SpoolDir == "" {
		cfg.SpoolDir = os.TempDir()
	}
	if cfg.Cropper.Aspect == 0 {
		cfg.Cropper = domain.DefaultCropperConfig()
	}

	s := &Server{
		logger:      logger,
		session:     sess,
		avatars:     avatars,
		cfg:         cfg,
		metrics:     newMetrics(cfg.Registry),
		tracer:      cfg.Tracer,
		rateLimiter: cfg.RateLimiter,
		router:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.withHTTPMetrics)
	r.Use(s.withTracing)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", s.metrics.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/cropper", s.handleCropper)
		r.Get("/avatar", s.handleAvatar)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.handleSnapshot)
			r.Post("/source", s.handleLoadSource)
			r.Put("/crop", s.handleReportCrop)
			r.Delete("/crop", s.handleClearCrop)
			r.Post("/confirm", s.handleConfirm)
			r.Post("/recrop", s.handleRecrop)
			r.With(s.withRateLimit).Post("/upload", s.handleUpload)
			r.Get("/processed", s.handleProcessed)
			r.Post("/reset", s.handleReset)
		})
	})

	if s.cfg.FilesDir != "" {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(s.cfg.FilesDir))))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCropper returns the widget configuration. While a source is held,
// the suggested initial crop is included.
func (s *Server) handleCropper(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Cropper
	if src, ok := s.session.Source(); ok {
		crop, err := pipeline.SuggestCrop(r.Context(), src, s.cfg.SuggestCrop)
		if err != nil {
			s.logger.Debug("suggest crop failed", "source", src.Describe(), "err", err)
		} else {
			cfg.InitialCrop = &crop
		}
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

type sourceRequest struct {
	Source string `json:"source"`
}

func (s *Server) handleLoadSource(w http.ResponseWriter, r *http.Request) {
	var (
		src pipeline.Source
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		src, err = s.spoolMultipart(w, r)
	} else {
		var req sourceRequest
		if err = decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if src, err = pipeline.ParseSource(req.Source, s.cfg.MaxSourceBytes); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.metrics.sourcesAccepted.WithLabelValues("reference", sourceKind(src)).Inc()
	}
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	if err := s.session.LoadSource(src); err != nil {
		_ = pipeline.ReleaseSource(src)
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

// sourceKind labels JSON references; their bytes are not read until confirm.
func sourceKind(src pipeline.Source) string {
	switch src.(type) {
	case pipeline.DataURLSource:
		return "data-url"
	case pipeline.RemoteSource:
		return "remote"
	default:
		return "file"
	}
}

// spoolMultipart copies the "file" part into a temp file after checking
// that it sniffs as an accepted image type.
func (s *Server) spoolMultipart(w http.ResponseWriter, r *http.Request) (pipeline.Source, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxSourceBytes)
	f, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRead, err)
	}
	defer f.Close()

	head := make([]byte, 3072)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", domain.ErrRead, err)
	}
	head = head[:n]

	mime, err := pipeline.DetectImage(head)
	if err != nil {
		return nil, err
	}

	src, err := pipeline.SpoolTempFile(s.cfg.SpoolDir, io.MultiReader(bytes.NewReader(head), f))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRead, err)
	}
	s.metrics.sourcesAccepted.WithLabelValues("multipart", mime).Inc()
	s.metrics.uploadedBytes.Observe(float64(src.Size))
	s.logger.Debug("spooled source", "name", header.Filename, "mime", mime, "path", src.Path, "bytes", src.Size)
	return src, nil
}

func (s *Server) handleReportCrop(w http.ResponseWriter, r *http.Request) {
	var crop domain.CropRect
	if err := decodeJSON(r, &crop); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.session.ReportCrop(crop); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleClearCrop(w http.ResponseWriter, _ *http.Request) {
	if err := s.session.ClearCrop(); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if _, err := s.session.ConfirmCrop(r.Context()); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleRecrop(w http.ResponseWriter, _ *http.Request) {
	if err := s.session.Recrop(); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	result, err := s.session.Upload(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleProcessed(w http.ResponseWriter, _ *http.Request) {
	img, ok := s.session.Processed()
	if !ok {
		s.writeSessionError(w, session.ErrNoProcessedImage)
		return
	}
	w.Header().Set("Content-Type", img.MIME)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.session.Reset()
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleAvatar(w http.ResponseWriter, r *http.Request) {
	avatar, ok, err := s.avatars.Get(r.Context(), s.cfg.UserID)
	if err != nil {
		s.logger.Error("load avatar failed", "user", s.cfg.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to load avatar"))
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no avatar uploaded"))
		return
	}
	writeJSON(w, http.StatusOK, avatar)
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
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

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
