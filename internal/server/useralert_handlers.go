package server

import (
	"net/http"

	"github.com/heraldlabs/herald/internal/domain"
)

// requireUserID extracts the owning user from the query string. Identity is
// asserted upstream; ownership checks here only scope queries.
func requireUserID(r *http.Request) (string, error) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		return "", domain.NewValidationError("user_id is required", "user_id")
	}
	return userID, nil
}

// handleListUserAlerts handles GET /api/useralerts?user_id=...
func (s *Server) handleListUserAlerts(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	list, err := s.userAlerts.ListByUser(userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": list})
}

// handleCreateUserAlert handles POST /api/useralerts.
func (s *Server) handleCreateUserAlert(w http.ResponseWriter, r *http.Request) {
	var alert domain.UserAlert
	if err := decodeJSON(r, &alert); err != nil {
		s.writeError(w, err)
		return
	}

	id, err := s.userAlerts.Create(&alert)
	if err != nil {
		s.writeError(w, err)
		return
	}

	created, err := s.userAlerts.GetByID(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

// handleGetUserAlert handles GET /api/useralerts/{id}.
func (s *Server) handleGetUserAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}

	alert, err := s.userAlerts.GetByID(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

// handleUpdateUserAlert handles PUT /api/useralerts/{id}. The body's
// user_id must match the stored owner or the update reports not found.
func (s *Server) handleUpdateUserAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}

	var alert domain.UserAlert
	if err := decodeJSON(r, &alert); err != nil {
		s.writeError(w, err)
		return
	}
	alert.ID = id

	if err := s.userAlerts.Update(&alert); err != nil {
		s.writeError(w, err)
		return
	}

	updated, err := s.userAlerts.GetByID(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

// handleDeleteUserAlert handles DELETE /api/useralerts/{id}?user_id=...
func (s *Server) handleDeleteUserAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	userID, err := requireUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.userAlerts.Delete(id, userID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handlePauseUserAlert handles POST /api/useralerts/{id}/pause?user_id=...
func (s *Server) handlePauseUserAlert(w http.ResponseWriter, r *http.Request) {
	s.setUserAlertPaused(w, r, true)
}

// handleResumeUserAlert handles POST /api/useralerts/{id}/resume?user_id=...
func (s *Server) handleResumeUserAlert(w http.ResponseWriter, r *http.Request) {
	s.setUserAlertPaused(w, r, false)
}

func (s *Server) setUserAlertPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	userID, err := requireUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.userAlerts.SetPaused(id, userID, paused); err != nil {
		s.writeError(w, err)
		return
	}

	alert, err := s.userAlerts.GetByID(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}
