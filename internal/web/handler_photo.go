package web

import (
	"errors"
	"io"
	"net/http"

	"github.com/vbonduro/cubby/internal/imaging"
)

func (s *Server) handlePutPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "item_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "photo too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read photo")
		return
	}

	item, err := s.inventory.SetItemPhoto(r.Context(), id, data)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Info("photo uploaded", "item_id", id, "bytes", len(data))
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "item_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rc, mimeType, err := s.inventory.ItemPhoto(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("failed to stream photo", "item_id", id, "error", err)
	}
}
