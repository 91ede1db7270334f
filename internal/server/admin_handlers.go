package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/heraldlabs/herald/internal/domain"
)

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		return 0, domain.NewValidationError("invalid " + name)
	}
	return id, nil
}

// handleListConfigs handles GET /api/configs.
func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	list, err := s.configs.List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"configurations": list})
}

// handleCreateConfig handles POST /api/configs.
func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.AlertConfiguration
	if err := decodeJSON(r, &cfg); err != nil {
		s.writeError(w, err)
		return
	}
	if cfg.Status == "" {
		cfg.Status = domain.ConfigStatusActive
	}

	id, err := s.configs.Create(&cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}

	created, err := s.configs.GetByID(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

// handleGetConfig handles GET /api/configs/{id}.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}

	cfg, err := s.configs.GetByID(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

// handleUpdateConfig handles PUT /api/configs/{id}.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}

	var cfg domain.AlertConfiguration
	if err := decodeJSON(r, &cfg); err != nil {
		s.writeError(w, err)
		return
	}
	cfg.ID = id

	if err := s.configs.Update(&cfg); err != nil {
		s.writeError(w, err)
		return
	}

	updated, err := s.configs.GetByID(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

// handleSetConfigStatus handles PUT /api/configs/{id}/status.
func (s *Server) handleSetConfigStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body struct {
		Status domain.ConfigStatus `json:"status"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if !body.Status.Valid() {
		s.writeError(w, domain.NewValidationError("unknown status", "status"))
		return
	}

	if err := s.configs.SetStatus(id, body.Status); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(body.Status)})
}

// handleDeleteConfig handles DELETE /api/configs/{id}.
func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.configs.Delete(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleListPrincipals handles GET /api/principals.
func (s *Server) handleListPrincipals(w http.ResponseWriter, r *http.Request) {
	list, err := s.principals.List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"principals": list})
}

// handleUpsertPrincipal handles PUT /api/principals/{userID}.
func (s *Server) handleUpsertPrincipal(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var p domain.Principal
	if err := decodeJSON(r, &p); err != nil {
		s.writeError(w, err)
		return
	}
	p.UserID = userID

	if err := s.principals.Upsert(&p); err != nil {
		s.writeError(w, err)
		return
	}

	stored, err := s.principals.Lookup(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stored)
}

// handleGetPrincipal handles GET /api/principals/{userID}.
func (s *Server) handleGetPrincipal(w http.ResponseWriter, r *http.Request) {
	p, err := s.principals.Lookup(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

// handleDeletePrincipal handles DELETE /api/principals/{userID}.
func (s *Server) handleDeletePrincipal(w http.ResponseWriter, r *http.Request) {
	if err := s.principals.Delete(chi.URLParam(r, "userID")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
