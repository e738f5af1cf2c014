package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vbonduro/cubby/internal/cloud"
	"github.com/vbonduro/cubby/internal/domain"
	"github.com/vbonduro/cubby/internal/service"
	"github.com/vbonduro/cubby/internal/sharing"
)

type jsonErr struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// cloudErr carries the presentation of a cloud failure.
type cloudErr struct {
	Error       string `json:"error"`
	Code        int    `json:"code"`
	IsOffline   bool   `json:"is_offline"`
	ShouldRetry bool   `json:"should_retry"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, jsonErr{Error: msg, Code: status})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	if raw == "" {
		return uuid.Nil, errors.New("missing id")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("invalid id")
	}
	return id, nil
}

// writeServiceError maps domain, sharing and cloud errors onto HTTP
// statuses. Anything unrecognized is logged and reported as a 500.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var cerr *cloud.Error
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, sharing.ErrAlreadyShared), errors.Is(err, sharing.ErrNotShared), errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sharing.ErrShareRevoked):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, sharing.ErrMissingSharedStore):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrPhotosDisabled):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.As(err, &cerr):
		p := cloud.Present(err)
		status := http.StatusBadGateway
		if p.ShouldRetry {
			status = http.StatusServiceUnavailable
		}
		s.logger.Warn("cloud request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, status, cloudErr{
			Error:       p.Message,
			Code:        status,
			IsOffline:   p.IsOffline,
			ShouldRetry: p.ShouldRetry,
		})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
