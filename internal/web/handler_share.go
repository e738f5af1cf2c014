package web

import (
	"net/http"
	"strings"

	"github.com/vbonduro/cubby/internal/cloud"
	"github.com/vbonduro/cubby/internal/domain"
)

type shareView struct {
	Share    *domain.Share `json:"share"`
	IsShared bool          `json:"is_shared"`
}

type inviteRequest struct {
	UserID string                 `json:"user_id"`
	Role   domain.ParticipantRole `json:"role"`
}

type acceptRequest struct {
	URL     string `json:"url"`
	ShareID string `json:"share_id"`
}

func (s *Server) handleShareHome(w http.ResponseWriter, r *http.Request) {
	home := s.homeParam(w, r)
	if home == nil {
		return
	}
	share, err := s.sharing.ShareHome(r.Context(), home)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, share)
}

func (s *Server) handleFetchShare(w http.ResponseWriter, r *http.Request) {
	home := s.homeParam(w, r)
	if home == nil {
		return
	}
	share, err := s.sharing.FetchShare(r.Context(), home)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shareView{Share: share, IsShared: share != nil})
}

func (s *Server) handleStopSharing(w http.ResponseWriter, r *http.Request) {
	home := s.homeParam(w, r)
	if home == nil {
		return
	}
	if err := s.sharing.StopSharing(r.Context(), home); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	home := s.homeParam(w, r)
	if home == nil {
		return
	}
	participants, err := s.sharing.Participants(r.Context(), home)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, participants)
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	home := s.homeParam(w, r)
	if home == nil {
		return
	}
	var req inviteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	if req.Role == "" {
		req.Role = domain.RoleReadOnly
	}
	if req.Role != domain.RoleReadOnly && req.Role != domain.RoleReadWrite {
		writeError(w, http.StatusBadRequest, "role must be readOnly or readWrite")
		return
	}

	share, err := s.sharing.Invite(r.Context(), home, req.UserID, req.Role)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, share)
}

func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	home := s.homeParam(w, r)
	if home == nil {
		return
	}
	p := s.sharing.Permission(r.Context(), home)
	writeJSON(w, http.StatusOK, map[string]any{
		"role":                 p.Role,
		"can_edit":             p.CanEdit(),
		"can_create_locations": p.CanCreateLocations(),
		"can_delete_locations": p.CanDeleteLocations(),
		"can_add_items":        p.CanAddItems(),
		"can_edit_items":       p.CanEditItems(),
		"can_delete_items":     p.CanDeleteItems(),
		"is_owner":             p.IsOwner(),
	})
}

func (s *Server) handleAcceptShare(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	md := cloud.ShareMetadata{ShareID: strings.TrimSpace(req.ShareID)}
	if req.URL != "" {
		parsed, err := cloud.ParseShareURL(strings.TrimSpace(req.URL))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		md = parsed
	}
	if md.ShareID == "" {
		writeError(w, http.StatusBadRequest, "url or share_id required")
		return
	}

	share, err := s.sharing.AcceptShareInvitation(r.Context(), md)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, share)
}
