package web

import (
	"net/http"

	"github.com/vbonduro/cubby/internal/syncstate"
)

type lifecycleRequest struct {
	State syncstate.Lifecycle `json:"state"`
}

func (s *Server) handleSyncState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sync.State())
}

func (s *Server) handleSyncRefresh(w http.ResponseWriter, r *http.Request) {
	s.sync.RefreshNow()
	writeJSON(w, http.StatusAccepted, s.sync.State())
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	var req lifecycleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !req.State.Valid() {
		writeError(w, http.StatusBadRequest, "state must be active, inactive or background")
		return
	}
	s.sync.SetLifecycle(req.State)
	w.WriteHeader(http.StatusNoContent)
}
