package web

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/vbonduro/cubby/internal/domain"
	"github.com/vbonduro/cubby/internal/service"
	"github.com/vbonduro/cubby/internal/store"
)

type nameRequest struct {
	Name string `json:"name"`
}

type createLocationRequest struct {
	Name     string     `json:"name"`
	ParentID *uuid.UUID `json:"parent_id"`
}

type moveLocationRequest struct {
	ParentID *uuid.UUID `json:"parent_id"`
}

type moveItemRequest struct {
	LocationID uuid.UUID `json:"location_id"`
}

// homeView adds the caller's standing on the home.
type homeView struct {
	*domain.Home
	IsShared   bool                   `json:"is_shared"`
	Permission domain.SharePermission `json:"permission"`
}

func (s *Server) handleListHomes(w http.ResponseWriter, r *http.Request) {
	homes, err := s.inventory.ListHomes(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, homes)
}

func (s *Server) handleCreateHome(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	home, err := s.inventory.CreateHome(r.Context(), req.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, home)
}

// homeParam resolves the {home_id} path parameter. It writes the error
// response itself and returns nil on failure.
func (s *Server) homeParam(w http.ResponseWriter, r *http.Request) *domain.Home {
	id, err := parseUUIDParam(r, "home_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil
	}
	home, err := s.inventory.GetHome(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return nil
	}
	return home
}

func (s *Server) handleGetHome(w http.ResponseWriter, r *http.Request) {
	home := s.homeParam(w, r)
	if home == nil {
		return
	}
	writeJSON(w, http.StatusOK, homeView{
		Home:       home,
		IsShared:   s.sharing.IsShared(r.Context(), home),
		Permission: s.sharing.Permission(r.Context(), home),
	})
}

func (s *Server) handleRenameHome(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "home_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req nameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	home, err := s.inventory.RenameHome(r.Context(), id, req.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, home)
}

func (s *Server) handleDeleteHome(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "home_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.inventory.DeleteHome(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "home_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	locations, err := s.inventory.ListLocations(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, locations)
}

func (s *Server) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "home_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req createLocationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	loc, err := s.inventory.CreateLocation(r.Context(), id, req.ParentID, req.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loc)
}

func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "location_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loc, err := s.inventory.GetLocation(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) handleRenameLocation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "location_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req nameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	loc, err := s.inventory.RenameLocation(r.Context(), id, req.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) handleMoveLocation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "location_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req moveLocationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	loc, err := s.inventory.MoveLocation(r.Context(), id, req.ParentID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) handleDeleteLocation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "location_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.inventory.DeleteLocation(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRememberLocation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "location_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.inventory.RememberLocation(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLastUsedLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := s.inventory.LastUsedLocation(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if loc == nil {
		writeError(w, http.StatusNotFound, "no location remembered")
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// itemFilter reads the q, tag, pending and limit query parameters.
func itemFilter(r *http.Request) (store.ItemFilter, error) {
	q := r.URL.Query()
	f := store.ItemFilter{
		Query: q.Get("q"),
		Tag:   q.Get("tag"),
	}
	if raw := q.Get("pending"); raw != "" {
		pending, err := strconv.ParseBool(raw)
		if err != nil {
			return f, domain.NewValidationError("pending", "must be a boolean")
		}
		f.PendingEmoji = pending
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return f, domain.NewValidationError("limit", "must be a positive number")
		}
		f.Limit = limit
	}
	return f, nil
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request, narrow func(*store.ItemFilter) error) {
	f, err := itemFilter(r)
	if err == nil && narrow != nil {
		err = narrow(&f)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := s.inventory.ListItems(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	s.listItems(w, r, nil)
}

func (s *Server) handleListHomeItems(w http.ResponseWriter, r *http.Request) {
	s.listItems(w, r, func(f *store.ItemFilter) error {
		id, err := parseUUIDParam(r, "home_id")
		f.HomeID = &id
		return err
	})
}

func (s *Server) handleListLocationItems(w http.ResponseWriter, r *http.Request) {
	s.listItems(w, r, func(f *store.ItemFilter) error {
		id, err := parseUUIDParam(r, "location_id")
		f.LocationID = &id
		return err
	})
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "location_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in service.ItemInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	item, err := s.inventory.CreateItem(r.Context(), id, in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "item_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := s.inventory.GetItem(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "item_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in service.ItemInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	item, err := s.inventory.UpdateItem(r.Context(), id, in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleMoveItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "item_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req moveItemRequest
	if err := decodeJSON(r, &req); err != nil || req.LocationID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "location_id required")
		return
	}
	item, err := s.inventory.MoveItem(r.Context(), id, req.LocationID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "item_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.inventory.DeleteItem(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
