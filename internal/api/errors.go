package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/dunamismax/avatarcrop/internal/pipeline"
	"github.com/dunamismax/avatarcrop/internal/session"
)

func statusForError(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, pipeline.ErrSourceTooLarge), errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrNoSource),
		errors.Is(err, session.ErrNoProcessedImage),
		errors.Is(err, session.ErrWrongStage),
		errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrUploadInFlight),
		errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUpload):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrDecode),
		errors.Is(err, domain.ErrEncode),
		errors.Is(err, domain.ErrRead),
		errors.Is(err, pipeline.ErrUnsupportedType),
		errors.Is(err, pipeline.ErrInvalidDataURL):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("session operation failed", "status", status, "err", err)
	}
	writeError(w, status, err)
}
